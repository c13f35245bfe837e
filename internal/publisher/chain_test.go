package publisher

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/angelmondragon/akua-anchor/pkg/bsv"
	pkgerrors "github.com/angelmondragon/akua-anchor/pkg/errors"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
	"github.com/angelmondragon/akua-anchor/pkg/metrics"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/prometheus/client_golang/prometheus"
)

const fundingTx = "a1b2c3d4e5f60718293a4b5c6d7e8f90112233445566778899aabbccddeeff00"

type fakeSource struct {
	utxos []bsv.UTXO
	err   error
	calls int
}

func (f *fakeSource) FetchUTXOs(context.Context, string) ([]bsv.UTXO, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]bsv.UTXO(nil), f.utxos...), nil
}

type fakeBroadcaster struct {
	raw   []string
	txid  string
	err   error
	calls int
}

func (f *fakeBroadcaster) Broadcast(_ context.Context, raw string) (string, error) {
	f.calls++
	f.raw = append(f.raw, raw)
	if f.err != nil {
		return "", f.err
	}
	return f.txid, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "publisher-test", Output: io.Discard})
}

type chainFixture struct {
	anchorer    *ChainAnchorer
	source      *fakeSource
	broadcaster *fakeBroadcaster
	pool        *MemoryPool
	address     string
	registry    *prometheus.Registry
}

func newChainFixture(t *testing.T, maxFee int64, funding ...int64) *chainFixture {
	t.Helper()
	priv, _ := btcec.PrivKeyFromBytes(bytes.Repeat([]byte{0x22}, 32))
	wif, err := btcutil.NewWIF(priv, bsv.Testnet.Params(), true)
	if err != nil {
		t.Fatalf("NewWIF: %v", err)
	}
	signer := bsv.NewKeySigner(wif)
	address, err := signer.Address(bsv.Testnet)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	script, _ := bsv.PayToAddressScript(address, bsv.Testnet)

	source := &fakeSource{}
	for i, sats := range funding {
		source.utxos = append(source.utxos, bsv.UTXO{
			TxID:     fundingTx,
			Vout:     uint32(i),
			Satoshis: sats,
			Script:   hex.EncodeToString(script),
		})
	}
	broadcaster := &fakeBroadcaster{}
	pool := NewMemoryPool()
	reg := prometheus.NewRegistry()

	anchorer, err := NewChainAnchorer(ChainParams{
		Builder:         bsv.NewBuilder(signer, bsv.Testnet, maxFee),
		Source:          source,
		Broadcaster:     broadcaster,
		Pool:            pool,
		FundingAddress:  address,
		FeePerKb:        1000,
		SelectionBuffer: 10_000,
		MinBalanceSats:  1_000_000,
		Metrics:         metrics.NewPublishMetrics(reg),
		Logger:          testLogger(),
	})
	if err != nil {
		t.Fatalf("NewChainAnchorer: %v", err)
	}
	return &chainFixture{
		anchorer:    anchorer,
		source:      source,
		broadcaster: broadcaster,
		pool:        pool,
		address:     address,
		registry:    reg,
	}
}

func TestChainAnchorerChainsChangeBetweenAnchors(t *testing.T) {
	f := newChainFixture(t, 10_000, 50_000)
	ctx := context.Background()

	first, err := f.anchorer.Anchor(ctx, hashA)
	if err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	if len(first.TxID) != 64 || first.Status != "broadcasted" {
		t.Fatalf("unexpected anchor %+v", first)
	}

	pooled, _ := f.pool.Load(ctx)
	if len(pooled) != 1 || pooled[0].TxID != first.TxID {
		t.Fatalf("expected change of first anchor in pool, got %+v", pooled)
	}
	if pooled[0].Satoshis >= 50_000 || pooled[0].Satoshis < 49_000 {
		t.Fatalf("unexpected change amount %d", pooled[0].Satoshis)
	}

	second, err := f.anchorer.Anchor(ctx, hashB)
	if err != nil {
		t.Fatalf("second Anchor: %v", err)
	}
	if second.TxID == first.TxID {
		t.Fatal("expected a new transaction for a new hash")
	}
	if f.source.calls != 1 {
		t.Fatalf("expected second anchor to spend pooled change, source calls=%d", f.source.calls)
	}
	if f.broadcaster.calls != 2 {
		t.Fatalf("expected 2 broadcasts, got %d", f.broadcaster.calls)
	}

	balance, err := f.anchorer.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	pooled, _ = f.pool.Load(ctx)
	if balance != bsv.Total(pooled) {
		t.Fatalf("balance %d does not match pool", balance)
	}
}

func TestChainAnchorerRefreshesStalePool(t *testing.T) {
	f := newChainFixture(t, 10_000, 50_000)
	ctx := context.Background()
	_ = f.pool.Replace(ctx, []bsv.UTXO{{TxID: fundingTx, Vout: 9, Satoshis: 2_000, Script: f.source.utxos[0].Script}})

	if _, err := f.anchorer.Anchor(ctx, hashA); err != nil {
		t.Fatalf("Anchor: %v", err)
	}
	if f.source.calls != 1 {
		t.Fatalf("expected one refresh, got %d", f.source.calls)
	}
}

func TestChainAnchorerInsufficientFunds(t *testing.T) {
	f := newChainFixture(t, 10_000, 1_000)

	_, err := f.anchorer.Anchor(context.Background(), hashA)
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientFunds) {
		t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
	}
	if !errors.Is(err, bsv.ErrInsufficientFunds) {
		t.Fatalf("expected wrapped sentinel, got %v", err)
	}
	if f.broadcaster.calls != 0 {
		t.Fatal("expected no broadcast")
	}
}

func TestChainAnchorerFeeCeiling(t *testing.T) {
	f := newChainFixture(t, 10, 50_000)

	_, err := f.anchorer.Anchor(context.Background(), hashA)
	if !pkgerrors.HasCode(err, pkgerrors.CodeFeeExceeded) {
		t.Fatalf("expected FEE_EXCEEDED, got %v", err)
	}
	if f.broadcaster.calls != 0 {
		t.Fatal("expected no broadcast")
	}
}

func TestChainAnchorerBroadcastFailureResetsPool(t *testing.T) {
	f := newChainFixture(t, 10_000, 50_000)
	f.broadcaster.err = errors.New("txn-mempool-conflict")
	ctx := context.Background()

	_, err := f.anchorer.Anchor(ctx, hashA)
	if !pkgerrors.HasCode(err, pkgerrors.CodeBroadcastFailed) {
		t.Fatalf("expected BROADCAST_FAILED, got %v", err)
	}
	if pooled, _ := f.pool.Load(ctx); len(pooled) != 0 {
		t.Fatalf("expected pool reset, got %+v", pooled)
	}
}

func TestChainAnchorerSignalsLowBalance(t *testing.T) {
	f := newChainFixture(t, 10_000, 50_000)
	if _, err := f.anchorer.Anchor(context.Background(), hashA); err != nil {
		t.Fatalf("Anchor: %v", err)
	}

	mfs, err := f.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var lowCount float64
	for _, mf := range mfs {
		if mf.GetName() == "wallet_low_balance_total" {
			lowCount = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	if lowCount != 1 {
		t.Fatalf("expected one low balance signal, got %f", lowCount)
	}
}

func TestChainAnchorerRejectsBadInput(t *testing.T) {
	f := newChainFixture(t, 10_000, 50_000)
	_, err := f.anchorer.Anchor(context.Background(), "not-a-hash")
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if f.source.calls != 0 {
		t.Fatal("expected no utxo fetch for invalid hash")
	}

	if _, err := NewChainAnchorer(ChainParams{}); err == nil {
		t.Fatal("expected missing builder error")
	}
}

func TestStubAnchorerIsDeterministic(t *testing.T) {
	stub := NewStubAnchorer("testnet")
	a, _ := stub.Anchor(context.Background(), hashA)
	b, _ := stub.Anchor(context.Background(), hashA)
	if a.TxID != b.TxID || a.TxID != StubTxID(hashA) || len(a.TxID) != 64 {
		t.Fatalf("unexpected stub txids %s %s", a.TxID, b.TxID)
	}
	if stub.Network() != "testnet" {
		t.Fatalf("unexpected network %s", stub.Network())
	}
}
