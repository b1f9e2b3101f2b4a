package cli

import (
	"github.com/spf13/cobra"

	"flight-deal-alerts/internal/app"
)

var (
	forgiveOrigin string
	forgiveDest   string
)

var forgiveCmd = &cobra.Command{
	Use:   "forgive",
	Short: "Expire cooldowns early so routes are re-checked",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Forgive(cmd.Context(), app.ForgiveOptions{
			Origin: forgiveOrigin,
			Dest:   forgiveDest,
		})
	},
}

func init() {
	forgiveCmd.Flags().StringVar(&forgiveOrigin, "origin", "", "Origin IATA code (omit to forgive all)")
	forgiveCmd.Flags().StringVar(&forgiveDest, "dest", "", "Destination IATA code (omit to forgive all)")
}
