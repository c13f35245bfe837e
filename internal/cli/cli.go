// Package cli implements the anchor operator tool: ad-hoc data anchors, geotag
// anchors, payload hashing, load simulation and UTXO cache inspection.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/akua-anchor/pkg/bsv"
	"github.com/angelmondragon/akua-anchor/pkg/config"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
	"github.com/angelmondragon/akua-anchor/pkg/woc"
)

// Chain is the WhatsOnChain surface the CLI needs.
type Chain interface {
	FetchUTXOs(ctx context.Context, address string) ([]bsv.UTXO, error)
	Broadcast(ctx context.Context, rawTxHex string) (string, error)
}

// App carries the resolved environment shared by every subcommand. Fields
// left nil are resolved from the environment on first use.
type App struct {
	Config *config.Config
	Logger *logger.Logger
	Chain  Chain
	// Topic publishes simulator messages; nil dials Pub/Sub from Config.
	Topic TopicPublisher
}

// Execute runs the CLI against the process environment.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand(&App{}).ExecuteContext(ctx)
}

func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "anchor",
		Short:         "Operator tools for AKUA payload anchoring",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init()
		},
	}
	root.AddCommand(
		newDataCommand(app),
		newGeoCommand(app),
		newHashCommand(),
		newSimulateCommand(app),
		newUTXOsCommand(app),
	)
	return root
}

func (a *App) init() error {
	if a.Config == nil {
		_ = godotenv.Load()
		cfg, err := config.LoadWorker()
		if err != nil {
			return err
		}
		a.Config = cfg
	}
	if a.Logger == nil {
		a.Logger = logger.New(logger.Options{
			ServiceName: "anchor",
			Level:       logger.ParseLevel(a.Config.App.LogLevel),
			Output:      os.Stderr,
			Format:      a.Config.App.LogFormat,
		})
	}
	return nil
}

func (a *App) network() (bsv.Network, error) {
	return bsv.ParseNetwork(a.Config.Publisher.Network)
}

func (a *App) chain() (Chain, error) {
	if a.Chain != nil {
		return a.Chain, nil
	}
	network, err := a.network()
	if err != nil {
		return nil, err
	}
	a.Chain = woc.NewClient(network, woc.WithBaseURL(a.Config.Wallet.WOCBaseURL))
	return a.Chain, nil
}

func (a *App) cache() bsv.FileCache {
	return bsv.FileCache{Path: a.Config.Wallet.UTXOCachePath}
}

// fundingAddress is the configured address, or the one derived from the WIF.
func (a *App) fundingAddress() (string, error) {
	network, err := a.network()
	if err != nil {
		return "", err
	}
	if a.Config.Wallet.FundingWIF == "" {
		if _, err := bsv.DecodeAddress(a.Config.Wallet.FundingAddress, network); err != nil {
			return "", fmt.Errorf("AKUA_FUNDING_ADDR or AKUA_FUNDING_WIF is required: %w", err)
		}
		return a.Config.Wallet.FundingAddress, nil
	}
	_, address, err := bsv.FundingKey(a.Config.Wallet.FundingWIF, a.Config.Wallet.FundingAddress, network)
	return address, err
}

// loadUTXOs returns the cached set, fetching and caching a fresh one when
// refresh is set or the cache is missing or empty.
func (a *App) loadUTXOs(ctx context.Context, address string, refresh bool) ([]bsv.UTXO, error) {
	cache := a.cache()
	if !refresh {
		utxos, err := cache.Load()
		switch {
		case err == nil && len(utxos) > 0:
			return utxos, nil
		case err != nil && !errors.Is(err, bsv.ErrCacheMissing):
			a.Logger.Warn(a.Logger.WithField(ctx, "path", cache.Path), "utxo cache unreadable, refetching")
		}
	}

	chain, err := a.chain()
	if err != nil {
		return nil, err
	}
	utxos, err := chain.FetchUTXOs(ctx, address)
	if err != nil {
		return nil, err
	}
	if len(utxos) == 0 {
		return nil, fmt.Errorf("no utxos found for %s", address)
	}
	if err := cache.Save(utxos); err != nil {
		return nil, err
	}
	return utxos, nil
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
