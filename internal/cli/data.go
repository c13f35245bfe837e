package cli

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/btcsuite/btcd/wire"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/akua-anchor/pkg/bsv"
)

type anchorOptions struct {
	feePerKb  int64
	broadcast bool
	refresh   bool
}

func (o *anchorOptions) bind(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&o.feePerKb, "fee-per-kb", 0, "fee rate in sats/kB (defaults to AKUA_FEE_PER_KB)")
	cmd.Flags().BoolVar(&o.broadcast, "broadcast", false, "broadcast via WhatsOnChain (default is a dry run)")
	cmd.Flags().BoolVar(&o.refresh, "refresh-utxo", false, "fetch the funding UTXOs instead of using the cache")
}

type anchorResult struct {
	tx        *bsv.Transaction
	raw       string
	address   string
	broadcast string
}

func newDataCommand(app *App) *cobra.Command {
	var (
		text    string
		hexData string
		sats    int64
		opts    anchorOptions
	)
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Embed arbitrary text or hex in a data-carrier output",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := dataPayload(text, hexData)
			if err != nil {
				return err
			}
			if sats < 0 {
				return errors.New("--sats must not be negative")
			}
			out, err := bsv.BuildDataCarrierOutput(payload)
			if err != nil {
				return err
			}
			out.Value = sats

			res, err := app.anchor(cmd.Context(), out, opts)
			if err != nil {
				return err
			}
			printAnchor(cmd.OutOrStdout(), res, opts.broadcast)
			printf(cmd.OutOrStdout(), "Data bytes: %d\n", len(payload))
			return nil
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "UTF-8 text to embed")
	cmd.Flags().StringVar(&hexData, "hex", "", "raw hex bytes to embed")
	cmd.Flags().Int64Var(&sats, "sats", 0, "satoshis attached to the data output")
	cmd.MarkFlagsMutuallyExclusive("text", "hex")
	opts.bind(cmd)
	return cmd
}

func dataPayload(text, hexData string) ([]byte, error) {
	switch {
	case hexData != "":
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexData), "0x"))
		if err != nil {
			return nil, fmt.Errorf("--hex: %w", err)
		}
		return raw, nil
	case text != "":
		return []byte(text), nil
	default:
		return nil, errors.New("provide --text or --hex")
	}
}

// anchor funds out from the funding UTXOs, signs, and on broadcast replaces the
// cache with the unspent remainder plus change.
func (a *App) anchor(ctx context.Context, out *wire.TxOut, opts anchorOptions) (*anchorResult, error) {
	network, err := a.network()
	if err != nil {
		return nil, err
	}
	signer, address, err := bsv.FundingKey(a.Config.Wallet.FundingWIF, a.Config.Wallet.FundingAddress, network)
	if err != nil {
		return nil, err
	}
	feePerKb := opts.feePerKb
	if feePerKb <= 0 {
		feePerKb = a.Config.Publisher.FeePerKb
	}

	utxos, err := a.loadUTXOs(ctx, address, opts.refresh)
	if err != nil {
		return nil, err
	}
	chosen, _, err := bsv.SelectUTXOs(utxos, out.Value+a.Config.Publisher.SelectionBuffer)
	if err != nil {
		return nil, err
	}

	tx, err := bsv.NewBuilder(signer, network, a.Config.Publisher.MaxFeeSats).Build(chosen, out, feePerKb, address)
	if err != nil {
		return nil, err
	}
	raw, err := tx.Hex()
	if err != nil {
		return nil, err
	}
	res := &anchorResult{tx: tx, raw: raw, address: address}
	if !opts.broadcast {
		return res, nil
	}

	chain, err := a.chain()
	if err != nil {
		return nil, err
	}
	if res.broadcast, err = chain.Broadcast(ctx, raw); err != nil {
		return nil, err
	}
	remaining := bsv.Without(utxos, tx.Inputs)
	if tx.Change != nil {
		remaining = append(remaining, *tx.Change)
	}
	if err := a.cache().Save(remaining); err != nil {
		return nil, fmt.Errorf("broadcast %s succeeded but cache update failed: %w", res.broadcast, err)
	}
	return res, nil
}

func printAnchor(w io.Writer, res *anchorResult, broadcast bool) {
	printf(w, "TXID: %s\n", res.tx.TxID)
	printf(w, "Fee: %d sats\n", res.tx.Fee)
	if res.tx.Change != nil {
		printf(w, "Change: %d sats -> %s\n", res.tx.Change.Satoshis, res.address)
	} else {
		printf(w, "Change: none\n")
	}
	printf(w, "\nRaw TX (hex):\n%s\n\n", res.raw)
	if broadcast {
		printf(w, "Broadcast result: %s\n", res.broadcast)
		return
	}
	printf(w, "Not broadcast. Add --broadcast to send via WhatsOnChain.\n")
}
