package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/camphq/bunkreq/internal/aiservice"
	"github.com/camphq/bunkreq/pkg/aiprovider"
)

var (
	askOffline   bool
	askFormat    string
	askRequester string
	askID        string
	askGrade     string
	askSession   string
	askYear      int
	askField     string
)

var askCmd = &cobra.Command{
	Use:   "ask <text>",
	Short: "Parse a single request text",
	Long:  "Parses one free-text request through the cached single-request service, useful for spot-checking extraction behavior.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		provider, err := initProvider(askOffline)
		if err != nil {
			return err
		}

		svc, err := aiservice.New(provider, aiservice.Config{
			CacheEnabled:          cfg.Service.CacheEnabled,
			MaxRetries:            cfg.Service.MaxRetries,
			MaxConcurrentRequests: cfg.Service.MaxConcurrentRequests,
		})
		if err != nil {
			return err
		}

		year := askYear
		if year == 0 {
			year = cfg.Camp.Year
		}

		resp, err := svc.ParseRequest(ctx, args[0], aiprovider.RequestContext{
			RequesterName: askRequester,
			RequesterID:   askID,
			Grade:         askGrade,
			SessionID:     firstNonEmpty(askSession, cfg.Camp.SessionID),
			Year:          year,
			FieldType:     askField,
		})
		if err != nil {
			return err
		}

		provider.TokenUsage().LogCost(cfg.Anthropic.Model, "ask")
		zap.L().Debug("single parse complete", zap.Int("extractions", len(resp.Extractions)))

		return writeOutput(os.Stdout, askFormat, resp)
	},
}

func init() {
	askCmd.Flags().BoolVar(&askOffline, "offline", false, "use the deterministic provider instead of the AI backend")
	askCmd.Flags().StringVar(&askFormat, "format", "json", "output format: json or yaml")
	askCmd.Flags().StringVar(&askRequester, "requester", "", "requester name")
	askCmd.Flags().StringVar(&askID, "requester-id", "", "requester person ID")
	askCmd.Flags().StringVar(&askGrade, "grade", "", "requester grade")
	askCmd.Flags().StringVar(&askSession, "session", "", "session ID")
	askCmd.Flags().IntVar(&askYear, "year", 0, "enrollment year")
	askCmd.Flags().StringVar(&askField, "field-type", "bunk_request", "registration field type")
	rootCmd.AddCommand(askCmd)
}
