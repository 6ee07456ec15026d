package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/camphq/bunkreq/internal/batch"
	"github.com/camphq/bunkreq/internal/pipeline"
)

var (
	disOffline bool
	disFormat  string
)

var disambiguateCmd = &cobra.Command{
	Use:   "disambiguate <cases-file>",
	Short: "Resolve ambiguous name matches with an AI pass",
	Long:  "Reads a JSON file of parse results paired with roster resolutions, adjudicates each ambiguous name against its top candidates, and prints the merged resolution lists.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read cases file")
		}
		var pairs []pipeline.CasePair
		if err := json.Unmarshal(data, &pairs); err != nil {
			return eris.Wrap(err, "unmarshal cases file")
		}

		provider, err := initProvider(disOffline)
		if err != nil {
			return err
		}
		proc, err := batch.NewProcessor(provider, batchConfig())
		if err != nil {
			return err
		}

		d := pipeline.NewDisambiguator(proc, nil)
		merged := d.Run(ctx, pairs)

		stats := d.Stats()
		zap.L().Info("disambiguation complete",
			zap.Int("ambiguous", stats.TotalAmbiguous),
			zap.Int("disambiguated", stats.Disambiguated),
			zap.Int("still_ambiguous", stats.StillAmbiguous),
			zap.Int("no_match", stats.NoMatch),
			zap.Int("failed", stats.Failed),
		)

		return writeOutput(os.Stdout, disFormat, merged)
	},
}

func init() {
	disambiguateCmd.Flags().BoolVar(&disOffline, "offline", false, "use the deterministic provider instead of the AI backend")
	disambiguateCmd.Flags().StringVar(&disFormat, "format", "json", "output format: json or yaml")
	rootCmd.AddCommand(disambiguateCmd)
}
