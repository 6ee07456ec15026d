package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/camphq/bunkreq/internal/monitoring"
)

var (
	monitorWatch  bool
	monitorFormat string
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check run health against alert thresholds",
	Long:  "Collects run metrics over the lookback window and evaluates alert thresholds. With --watch, keeps checking periodically until interrupted.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		collector := monitoring.NewCollector(st)
		alerter := monitoring.NewAlerter(cfg.Monitoring.Thresholds)

		if monitorWatch {
			checker := monitoring.NewChecker(collector, alerter,
				time.Duration(cfg.Monitoring.CheckIntervalSecs)*time.Second,
				cfg.Monitoring.LookbackWindowHours)
			checker.Run(ctx)
			return nil
		}

		snap, err := collector.Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return err
		}
		alerts := alerter.Evaluate(snap)
		alerter.SendAlerts(ctx, alerts)
		zap.L().Info("health check complete", zap.Int("alerts", len(alerts)))

		return writeOutput(os.Stdout, monitorFormat, struct {
			Snapshot *monitoring.MetricsSnapshot `json:"snapshot" yaml:"snapshot"`
			Alerts   []monitoring.Alert          `json:"alerts" yaml:"alerts"`
		}{snap, alerts})
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorWatch, "watch", false, "keep checking on an interval until interrupted")
	monitorCmd.Flags().StringVar(&monitorFormat, "format", "json", "output format: json or yaml")
	rootCmd.AddCommand(monitorCmd)
}
