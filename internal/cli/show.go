package cli

import (
	"time"

	"github.com/spf13/cobra"

	"market-trend-alerts/internal/app"
)

var (
	showResource string
	showWindow   time.Duration
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent price observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ShowOptions{
			Resource: showResource,
			Window:   showWindow,
		}
		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showResource, "resource", "", "Limit output to one resource (wood, stone, provisions, horses)")
	showCmd.Flags().DurationVar(&showWindow, "window", time.Hour, "How far back to look")
}
