package commands

import (
	"autoquote-backend/internal/vehiclekey"

	"github.com/spf13/cobra"
)

var (
	priceVehicle *vehiclekey.VehicleInfo
	priceVariant string
)

func init() {
	priceVehicle = vehicleFlags(priceCmd)
	priceCmd.Flags().StringVar(&priceVariant, "variant", "", "Variant label or selection slug, e.g. plaquettes-avant.")
	rootCmd.AddCommand(priceCmd)
}

var priceCmd = &cobra.Command{
	Use:   "price <service> <plate> --brand <brand> --model <model> [--variant <variant>]",
	Short: "Prices one service for a vehicle, from the cache when possible.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp(cmd.Context())
		defer a.close()

		var variant *string
		if priceVariant != "" {
			variant = &priceVariant
		}
		res := a.resolver.ResolvePrice(cmd.Context(), args[0], args[1], *priceVehicle, variant)
		return printResult(args[0], res)
	},
}
