package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var healthOffline bool

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check AI provider and store connectivity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		failed := false

		provider, err := initProvider(healthOffline)
		if err == nil {
			err = provider.HealthCheck(ctx)
		}
		reportCheck("provider", err, &failed)

		st, err := initStore(ctx)
		if err == nil {
			err = st.Migrate(ctx)
			defer st.Close() //nolint:errcheck
		}
		reportCheck("store", err, &failed)

		if failed {
			os.Exit(1)
		}
		return nil
	},
}

func reportCheck(name string, err error, failed *bool) {
	if err != nil {
		fmt.Printf("%-10s FAIL  %v\n", name, err)
		*failed = true
		return
	}
	fmt.Printf("%-10s OK\n", name)
}

func init() {
	healthCmd.Flags().BoolVar(&healthOffline, "offline", false, "check the offline provider instead of the AI backend")
	rootCmd.AddCommand(healthCmd)
}
