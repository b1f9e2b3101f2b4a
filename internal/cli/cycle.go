package cli

import (
	"github.com/spf13/cobra"

	"flight-deal-alerts/internal/app"
)

var (
	cycleOrigin string
	cycleDest   string
	cycleDepart string
	cycleReturn string
	cycleForce  bool
)

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one watch cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Cycle(cmd.Context(), app.CycleOptions{
			Origin: cycleOrigin,
			Dest:   cycleDest,
			Depart: cycleDepart,
			Return: cycleReturn,
			Force:  cycleForce,
		})
	},
}

func init() {
	cycleCmd.Flags().StringVar(&cycleOrigin, "origin", "", "Origin IATA code (single-attempt mode)")
	cycleCmd.Flags().StringVar(&cycleDest, "dest", "", "Destination IATA code (single-attempt mode)")
	cycleCmd.Flags().StringVar(&cycleDepart, "depart", "", "Departure date YYYY-MM-DD (single-attempt mode)")
	cycleCmd.Flags().StringVar(&cycleReturn, "return", "", "Return date YYYY-MM-DD for round trips")
	cycleCmd.Flags().BoolVar(&cycleForce, "force", false, "Bypass cooldown checks")
}
