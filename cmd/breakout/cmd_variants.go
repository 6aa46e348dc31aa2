package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"breakout/internal/domain"
)

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "List backtest variants and their defaults",
	RunE:  runVariants,
}

func init() {
	rootCmd.AddCommand(variantsCmd)
}

func runVariants(cmd *cobra.Command, args []string) error {
	var rows []variantView
	if serverURL != "" {
		vs, err := remote().Variants(cmd.Context())
		if err != nil {
			return err
		}
		for _, v := range vs {
			rows = append(rows, variantView{
				name: v.Name, title: v.Title, policy: v.Policy,
				defaults: defaultsText(v.Defaults.Ticker, v.Defaults.StartDate, v.Defaults.HoldingPeriod, v.Defaults.Horizons),
			})
		}
	} else {
		a, err := openLocal(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		for _, v := range a.Service.Registry().All() {
			d := v.Defaults
			rows = append(rows, variantView{
				name: v.Name, title: v.Title, policy: v.PolicyName,
				defaults: defaultsText(d.Ticker, d.Start.Format(domain.DateLayout), d.HoldingPeriod, d.Horizons),
			})
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderVariants(rows))
	return nil
}

func defaultsText(ticker, start string, holding int, horizons []int) string {
	parts := []string{ticker, "from " + start}
	if len(horizons) > 0 {
		h := make([]string, len(horizons))
		for i, n := range horizons {
			h[i] = fmt.Sprint(n)
		}
		parts = append(parts, "horizons "+strings.Join(h, ","))
	} else {
		parts = append(parts, fmt.Sprintf("hold %dd", holding))
	}
	return strings.Join(parts, ", ")
}
