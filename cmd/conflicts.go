package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/camphq/bunkreq/internal/model"
	"github.com/camphq/bunkreq/internal/pipeline"
)

var (
	conflictsFormat string
	conflictsRunID  string
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Detect and inspect contradictory bunk requests",
}

var conflictsDetectCmd = &cobra.Command{
	Use:   "detect <resolved-file>",
	Short: "Detect conflicts in a set of resolved requests",
	Long:  "Reads a JSON file of person-resolved requests, flags contradictions (opposing directions, age preference vs explicit request, friend-group negatives), and optionally records them on a run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return eris.Wrap(err, "read resolved file")
		}
		var resolved []model.ResolvedRequest
		if err := json.Unmarshal(data, &resolved); err != nil {
			return eris.Wrap(err, "unmarshal resolved file")
		}

		conflicts := pipeline.DetectConflicts(resolved)
		zap.L().Info("conflict detection complete",
			zap.Int("requests", len(resolved)),
			zap.Int("conflicts", len(conflicts)),
		)

		if conflictsRunID != "" {
			st, err := initStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck
			if err := st.Migrate(ctx); err != nil {
				return err
			}
			if err := st.SaveConflicts(ctx, conflictsRunID, conflicts); err != nil {
				return err
			}
		}

		return writeOutput(os.Stdout, conflictsFormat, conflicts)
	},
}

var conflictsListCmd = &cobra.Command{
	Use:   "list <run-id>",
	Short: "List conflicts recorded on a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		conflicts, err := st.ListConflicts(ctx, args[0])
		if err != nil {
			return err
		}
		if len(conflicts) == 0 {
			fmt.Fprintln(os.Stderr, "No conflicts recorded.")
			return nil
		}
		return writeOutput(os.Stdout, conflictsFormat, conflicts)
	},
}

func init() {
	conflictsCmd.PersistentFlags().StringVar(&conflictsFormat, "format", "json", "output format: json or yaml")
	conflictsDetectCmd.Flags().StringVar(&conflictsRunID, "run", "", "record detected conflicts on this run ID")
	conflictsCmd.AddCommand(conflictsDetectCmd)
	conflictsCmd.AddCommand(conflictsListCmd)
	rootCmd.AddCommand(conflictsCmd)
}
