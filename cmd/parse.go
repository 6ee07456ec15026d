package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/camphq/bunkreq/internal/batch"
	"github.com/camphq/bunkreq/internal/ingest"
	"github.com/camphq/bunkreq/internal/model"
	"github.com/camphq/bunkreq/internal/pipeline"
)

var (
	parseOffline bool
	parseDryRun  bool
	parseLimit   int
	parseFormat  string
	parseSession string
	parseYear    int
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse bunk requests from a registration export",
	Long:  "Reads a CSV or XLSX registration export, extracts structured bunk preferences from its free-text request columns, and records the run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		opts := ingest.Options{
			SessionID: firstNonEmpty(parseSession, cfg.Camp.SessionID),
			Year:      cfg.Camp.Year,
			Limit:     parseLimit,
		}
		if parseYear > 0 {
			opts.Year = parseYear
		}

		reqs, err := ingest.Read(args[0], opts)
		if err != nil {
			return err
		}
		if len(reqs) == 0 {
			fmt.Fprintln(os.Stderr, "No request fields found in input.")
			return nil
		}

		if parseDryRun {
			zap.L().Info("dry run, skipping provider calls", zap.Int("items", len(reqs)))
			return writeOutput(os.Stdout, parseFormat, reqs)
		}

		provider, err := initProvider(parseOffline)
		if err != nil {
			return err
		}

		proc, err := batch.NewProcessor(provider, batchConfig())
		if err != nil {
			return err
		}
		parser := pipeline.NewParser(proc)

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		run, err := st.CreateRun(ctx, args[0], provider.Name())
		if err != nil {
			return err
		}
		if err := st.UpdateRunStatus(ctx, run.ID, model.RunStatusParsing); err != nil {
			return err
		}

		results := parser.Run(ctx, reqs)

		if err := st.SaveResults(ctx, run.ID, results); err != nil {
			if ferr := st.FailRun(ctx, run.ID, err.Error()); ferr != nil {
				zap.L().Error("fail run", zap.Error(ferr))
			}
			return err
		}

		stats := parser.Stats()
		usage := provider.TokenUsage()
		runStats := &model.RunStats{
			TotalRequests: stats.TotalParsed,
			Parsed:        stats.Successful,
			Failed:        stats.Failed,
			Suspicious:    stats.SuspiciousInputs,
			PromptTokens:  int(usage.PromptTokens),
			OutputTokens:  int(usage.CompletionTokens),
			EstimatedCost: usage.EstimateCost(cfg.Anthropic.Model),
		}
		if err := st.CompleteRun(ctx, run.ID, runStats); err != nil {
			return err
		}

		zap.L().Info("parse complete",
			zap.String("run_id", run.ID),
			zap.Int("items", stats.TotalParsed),
			zap.Int("failed", stats.Failed),
			zap.Int("suspicious", stats.SuspiciousInputs),
			zap.Float64("estimated_cost_usd", runStats.EstimatedCost),
		)

		return writeOutput(os.Stdout, parseFormat, results)
	},
}

func init() {
	parseCmd.Flags().BoolVar(&parseOffline, "offline", false, "use the deterministic regex provider instead of the AI backend")
	parseCmd.Flags().BoolVar(&parseDryRun, "dry-run", false, "print the extracted work items without calling a provider")
	parseCmd.Flags().IntVar(&parseLimit, "limit", 0, "max input items to process (0 = all)")
	parseCmd.Flags().StringVar(&parseFormat, "format", "json", "output format: json or yaml")
	parseCmd.Flags().StringVar(&parseSession, "session", "", "session ID applied to rows without one")
	parseCmd.Flags().IntVar(&parseYear, "year", 0, "enrollment year applied to all rows")
	rootCmd.AddCommand(parseCmd)
}

func writeOutput(out *os.File, format string, v any) error {
	switch format {
	case "yaml":
		data, err := yaml.Marshal(v)
		if err != nil {
			return eris.Wrap(err, "marshal yaml")
		}
		_, err = out.Write(data)
		return err
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return eris.Errorf("unsupported output format %q", format)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
