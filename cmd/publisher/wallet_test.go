package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/angelmondragon/akua-anchor/internal/publisher"
	"github.com/angelmondragon/akua-anchor/pkg/bsv"
	"github.com/angelmondragon/akua-anchor/pkg/config"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
)

func testWIF(t *testing.T, network bsv.Network) string {
	t.Helper()
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x22}, 32))
	wif, err := btcutil.NewWIF(priv, network.Params(), true)
	if err != nil {
		t.Fatalf("NewWIF: %v", err)
	}
	return wif.String()
}

func TestCheckStubPolicy(t *testing.T) {
	if err := checkStubPolicy(config.PublisherConfig{Network: "testnet", Stub: true}); err != nil {
		t.Fatalf("testnet stub should be allowed: %v", err)
	}
	if err := checkStubPolicy(config.PublisherConfig{Network: "mainnet", Stub: true}); !errors.Is(err, errStubOnMainnet) {
		t.Fatalf("expected mainnet stub refusal, got %v", err)
	}
	if err := checkStubPolicy(config.PublisherConfig{Network: "mainnet", Stub: true, AllowStubOnMainnet: true}); err != nil {
		t.Fatalf("override should allow mainnet stub: %v", err)
	}
}

func TestNewWalletSelectsAnchorer(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	ctx := context.Background()

	stubCfg := &config.Config{Publisher: config.PublisherConfig{Network: "testnet", Stub: true}}
	w, err := newWallet(ctx, stubCfg, nil, nil, logg)
	if err != nil {
		t.Fatalf("stub wallet: %v", err)
	}
	if _, ok := w.anchorer.(*publisher.StubAnchorer); !ok {
		t.Fatalf("expected stub anchorer, got %T", w.anchorer)
	}

	chainCfg := &config.Config{
		Publisher: config.PublisherConfig{Network: "testnet", FeePerKb: 1000, MaxFeeSats: 10_000},
		Wallet:    config.WalletConfig{FundingWIF: testWIF(t, bsv.Testnet)},
	}
	w, err = newWallet(ctx, chainCfg, nil, nil, logg)
	if err != nil {
		t.Fatalf("chain wallet: %v", err)
	}
	if _, ok := w.anchorer.(*publisher.ChainAnchorer); !ok {
		t.Fatalf("expected chain anchorer, got %T", w.anchorer)
	}
	if w.address == "" || w.anchorer.Network() != "testnet" {
		t.Fatalf("unexpected wallet %+v", w)
	}

	mainnetStub := &config.Config{Publisher: config.PublisherConfig{Network: "mainnet", Stub: true}}
	if _, err := newWallet(ctx, mainnetStub, nil, nil, logg); !errors.Is(err, errStubOnMainnet) {
		t.Fatalf("expected mainnet stub refusal, got %v", err)
	}
}
