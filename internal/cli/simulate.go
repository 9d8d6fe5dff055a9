package cli

import (
	"github.com/spf13/cobra"

	"market-trend-alerts/internal/app"
)

var (
	simulateResource  string
	simulateDirection string
	simulateTarget    float64
	simulateStart     float64
	simulateEnd       float64
	simulateMinutes   int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "模拟一次完整的告警流程（不触碰数据库和 Telegram）",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.SimulateOptions{
			Resource:  simulateResource,
			Direction: simulateDirection,
			Target:    simulateTarget,
			StartBuy:  simulateStart,
			EndBuy:    simulateEnd,
			Minutes:   simulateMinutes,
		}
		return getApp().Simulate(cmd.Context(), opts)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateResource, "resource", "wood", "Resource to simulate")
	simulateCmd.Flags().StringVar(&simulateDirection, "direction", "down", "Waited direction: up or down")
	simulateCmd.Flags().Float64Var(&simulateTarget, "target", 7.0, "Target buy price")
	simulateCmd.Flags().Float64Var(&simulateStart, "start", 10.0, "Buy price at the start of the window")
	simulateCmd.Flags().Float64Var(&simulateEnd, "end", 8.0, "Buy price at the end of the window")
	simulateCmd.Flags().IntVar(&simulateMinutes, "minutes", 10, "Minutes between the two synthetic observations")
}
