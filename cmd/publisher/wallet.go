package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/akua-anchor/internal/publisher"
	"github.com/angelmondragon/akua-anchor/pkg/bsv"
	"github.com/angelmondragon/akua-anchor/pkg/config"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
	"github.com/angelmondragon/akua-anchor/pkg/metrics"
	"github.com/angelmondragon/akua-anchor/pkg/redis"
	"github.com/angelmondragon/akua-anchor/pkg/woc"
)

const hashLockScope = "publish"

var errStubOnMainnet = errors.New("stub mode is refused on mainnet; set AKUA_PUBLISHER_ALLOW_STUB_ON_MAINNET to override")

type wallet struct {
	anchorer publisher.Anchorer
	locker   publisher.Locker
	address  string
}

func newWallet(ctx context.Context, cfg *config.Config, redisClient *redis.Client, m *metrics.PublishMetrics, logg *logger.Logger) (*wallet, error) {
	locker, err := newLocker(redisClient, cfg.Publisher.LockTTL, hashLockScope)
	if err != nil {
		return nil, err
	}

	if cfg.Publisher.Stub {
		if err := checkStubPolicy(cfg.Publisher); err != nil {
			return nil, err
		}
		if cfg.Publisher.IsMainnet() {
			logg.Warn(ctx, "stub anchorer running on mainnet; txids are not real")
		}
		return &wallet{
			anchorer: publisher.NewStubAnchorer(cfg.Publisher.Network),
			locker:   locker,
			address:  strings.TrimSpace(cfg.Wallet.FundingAddress),
		}, nil
	}

	network, err := bsv.ParseNetwork(cfg.Publisher.Network)
	if err != nil {
		return nil, err
	}
	signer, address, err := bsv.FundingKey(cfg.Wallet.FundingWIF, cfg.Wallet.FundingAddress, network)
	if err != nil {
		return nil, fmt.Errorf("funding key: %w", err)
	}

	client := woc.NewClient(network,
		woc.WithBaseURL(cfg.Wallet.WOCBaseURL),
		woc.WithHTTPClient(&http.Client{Timeout: 15 * time.Second}),
	)

	var pool publisher.UTXOPool = publisher.NewMemoryPool()
	if redisClient != nil {
		pool, err = publisher.NewRedisPool(redisClient, network.String(), address)
		if err != nil {
			return nil, err
		}
	}
	fundingLocker, err := newLocker(redisClient, cfg.Publisher.LockTTL, "wallet")
	if err != nil {
		return nil, err
	}

	anchorer, err := publisher.NewChainAnchorer(publisher.ChainParams{
		Builder:         bsv.NewBuilder(signer, network, cfg.Publisher.MaxFeeSats),
		Source:          client,
		Broadcaster:     client,
		Pool:            pool,
		Locker:          fundingLocker,
		FundingAddress:  address,
		FeePerKb:        cfg.Publisher.FeePerKb,
		SelectionBuffer: cfg.Publisher.SelectionBuffer,
		MinBalanceSats:  cfg.Publisher.MinBalanceSats,
		Order:           bsv.SortLargestFirst,
		Metrics:         m,
		Logger:          logg,
	})
	if err != nil {
		return nil, err
	}
	return &wallet{anchorer: anchorer, locker: locker, address: address}, nil
}

// checkStubPolicy refuses fake txids on mainnet unless explicitly allowed.
func checkStubPolicy(cfg config.PublisherConfig) error {
	if cfg.IsMainnet() && !cfg.AllowStubOnMainnet {
		return errStubOnMainnet
	}
	return nil
}

func newLocker(redisClient *redis.Client, ttl time.Duration, scope string) (publisher.Locker, error) {
	if redisClient == nil {
		return publisher.NewLocalLocker(), nil
	}
	return publisher.NewRedisLocker(redisClient, scope, ttl)
}
