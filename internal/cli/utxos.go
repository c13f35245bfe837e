package cli

import (
	"github.com/spf13/cobra"

	"github.com/angelmondragon/akua-anchor/pkg/bsv"
)

func newUTXOsCommand(app *App) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "utxos",
		Short: "Show the cached funding UTXO set",
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := app.fundingAddress()
			if err != nil {
				return err
			}
			utxos, err := app.loadUTXOs(cmd.Context(), address, refresh)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			printf(w, "Address: %s\n", address)
			for _, u := range utxos {
				printf(w, "  %s  %d sats\n", u.Outpoint(), u.Satoshis)
			}
			total := bsv.Total(utxos)
			printf(w, "Total: %d sats (%s BSV) in %d outputs\n", total, bsv.FormatBSV(total), len(utxos))
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "fetch from WhatsOnChain and rewrite the cache")
	return cmd
}
