package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/camphq/bunkreq/internal/resolve"
)

var (
	resolveRoster    string
	resolveFormat    string
	resolveThreshold float64
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <run-id>",
	Short: "Match extracted names against the camper roster",
	Long:  "Loads a run's parse results, matches each extracted target name against the roster, and prints case pairs ready for the disambiguate command.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		roster, err := resolve.LoadRoster(resolveRoster)
		if err != nil {
			return err
		}

		rcfg := resolve.DefaultConfig()
		if resolveThreshold > 0 {
			rcfg.SimilarityThreshold = resolveThreshold
		}
		resolver, err := resolve.New(roster, rcfg)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		results, err := st.ListResults(ctx, args[0])
		if err != nil {
			return err
		}

		pairs := resolver.ResolveAll(results)

		resolved, ambiguous := 0, 0
		for _, p := range pairs {
			for _, r := range p.Resolutions {
				switch {
				case r.IsResolved():
					resolved++
				case r.IsAmbiguous():
					ambiguous++
				}
			}
		}
		zap.L().Info("resolution complete",
			zap.Int("roster_size", len(roster)),
			zap.Int("results", len(results)),
			zap.Int("resolved", resolved),
			zap.Int("ambiguous", ambiguous),
		)

		return writeOutput(os.Stdout, resolveFormat, pairs)
	},
}

func init() {
	resolveCmd.Flags().StringVar(&resolveRoster, "roster", "", "camper roster CSV (required)")
	resolveCmd.Flags().StringVar(&resolveFormat, "format", "json", "output format: json or yaml")
	resolveCmd.Flags().Float64Var(&resolveThreshold, "threshold", 0, "candidate similarity threshold override")
	_ = resolveCmd.MarkFlagRequired("roster")
	rootCmd.AddCommand(resolveCmd)
}
