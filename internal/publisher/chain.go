package publisher

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/angelmondragon/akua-anchor/pkg/bsv"
	"github.com/angelmondragon/akua-anchor/pkg/enums"
	pkgerrors "github.com/angelmondragon/akua-anchor/pkg/errors"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
	"github.com/angelmondragon/akua-anchor/pkg/metrics"
	"github.com/btcsuite/btcd/wire"
)

const fundingLockScope = "funding"

// UTXOSource lists the unspent outputs of an address.
type UTXOSource interface {
	FetchUTXOs(ctx context.Context, address string) ([]bsv.UTXO, error)
}

// Broadcaster submits a raw transaction to the network.
type Broadcaster interface {
	Broadcast(ctx context.Context, rawTxHex string) (string, error)
}

// ChainParams groups dependencies for the chain anchorer.
type ChainParams struct {
	Builder         *bsv.Builder
	Source          UTXOSource
	Broadcaster     Broadcaster
	Pool            UTXOPool
	Locker          Locker
	FundingAddress  string
	FeePerKb        int64
	SelectionBuffer int64
	MinBalanceSats  int64
	// Order arranges candidate inputs before first-fit selection. Nil keeps
	// arrival order.
	Order   func([]bsv.UTXO) []bsv.UTXO
	Metrics *metrics.PublishMetrics
	Logger  *logger.Logger
}

// ChainAnchorer builds, signs and broadcasts one data-carrier transaction per
// hash. Selection, build and broadcast run under a lock keyed by the funding
// address so two anchors never spend the same output.
type ChainAnchorer struct {
	builder     *bsv.Builder
	source      UTXOSource
	broadcaster Broadcaster
	pool        UTXOPool
	locker      Locker
	address     string
	feePerKb    int64
	buffer      int64
	minBalance  int64
	order       func([]bsv.UTXO) []bsv.UTXO
	metrics     *metrics.PublishMetrics
	logg        *logger.Logger
}

func NewChainAnchorer(params ChainParams) (*ChainAnchorer, error) {
	if params.Builder == nil {
		return nil, errors.New("transaction builder is required")
	}
	if params.Source == nil {
		return nil, errors.New("utxo source is required")
	}
	if params.Broadcaster == nil {
		return nil, errors.New("broadcaster is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if strings.TrimSpace(params.FundingAddress) == "" {
		return nil, errors.New("funding address is required")
	}
	if _, err := bsv.DecodeAddress(params.FundingAddress, params.Builder.Network()); err != nil {
		return nil, err
	}
	if params.FeePerKb <= 0 {
		return nil, errors.New("fee per kb must be positive")
	}
	pool := params.Pool
	if pool == nil {
		pool = NewMemoryPool()
	}
	locker := params.Locker
	if locker == nil {
		locker = NewLocalLocker()
	}
	order := params.Order
	if order == nil {
		order = func(utxos []bsv.UTXO) []bsv.UTXO { return utxos }
	}
	return &ChainAnchorer{
		builder:     params.Builder,
		source:      params.Source,
		broadcaster: params.Broadcaster,
		pool:        pool,
		locker:      locker,
		address:     params.FundingAddress,
		feePerKb:    params.FeePerKb,
		buffer:      params.SelectionBuffer,
		minBalance:  params.MinBalanceSats,
		order:       order,
		metrics:     params.Metrics,
		logg:        params.Logger,
	}, nil
}

func (a *ChainAnchorer) Network() string {
	return a.builder.Network().String()
}

// Anchor embeds "AKUA" + hash in a zero-value output, funded from the pool.
func (a *ChainAnchorer) Anchor(ctx context.Context, hash string) (Anchor, error) {
	dataOut, err := bsv.AnchorOutput(hash)
	if err != nil {
		return Anchor{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid sha256")
	}

	unlock, err := a.locker.Lock(ctx, fundingLockScope+":"+a.address)
	if err != nil {
		return Anchor{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire funding lock")
	}
	defer unlock()

	start := time.Now()
	defer func() { a.metrics.ObserveAnchor(time.Since(start)) }()

	tx, err := a.build(ctx, dataOut.Value+a.buffer, dataOut)
	if err != nil {
		return Anchor{}, err
	}

	raw, err := tx.Hex()
	if err != nil {
		return Anchor{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "serialize transaction")
	}

	nodeTxID, err := a.broadcaster.Broadcast(ctx, raw)
	if err != nil {
		// The cached set may hold outputs the network already saw spent.
		if resetErr := a.pool.Replace(ctx, nil); resetErr != nil {
			a.logg.Error(ctx, "failed to reset utxo pool", resetErr)
		}
		return Anchor{}, pkgerrors.Wrap(pkgerrors.CodeBroadcastFailed, err, "broadcast transaction")
	}

	ctx = a.logg.WithTxID(ctx, tx.TxID)
	if nodeTxID != "" && !strings.EqualFold(nodeTxID, tx.TxID) {
		a.logg.Warn(a.logg.WithField(ctx, "node_txid", nodeTxID), "broadcast returned a different txid")
	}

	a.settle(ctx, tx)
	return Anchor{TxID: tx.TxID, Status: enums.PublishStatusBroadcasted}, nil
}

// build selects inputs from the pool and signs the transaction, refreshing the
// pool from the network once when it is empty or cannot cover the target.
func (a *ChainAnchorer) build(ctx context.Context, target int64, dataOut *wire.TxOut) (*bsv.Transaction, error) {
	utxos, err := a.pool.Load(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load utxo pool")
	}
	refreshed := false
	if len(utxos) == 0 {
		if utxos, err = a.refresh(ctx); err != nil {
			return nil, err
		}
		refreshed = true
	}

	for {
		tx, err := a.tryBuild(utxos, target, dataOut)
		if err == nil {
			return tx, nil
		}
		if errors.Is(err, bsv.ErrInsufficientFunds) && !refreshed {
			if utxos, err = a.refresh(ctx); err != nil {
				return nil, err
			}
			refreshed = true
			continue
		}
		return nil, builderError(err)
	}
}

func (a *ChainAnchorer) tryBuild(utxos []bsv.UTXO, target int64, dataOut *wire.TxOut) (*bsv.Transaction, error) {
	chosen, _, err := bsv.SelectUTXOs(a.order(utxos), target)
	if err != nil {
		return nil, err
	}
	return a.builder.Build(chosen, dataOut, a.feePerKb, a.address)
}

func (a *ChainAnchorer) refresh(ctx context.Context) ([]bsv.UTXO, error) {
	utxos, err := a.source.FetchUTXOs(ctx, a.address)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch funding utxos")
	}
	if err := a.pool.Replace(ctx, utxos); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store utxo pool")
	}
	a.logg.Info(a.logg.WithFields(ctx, map[string]any{
		"utxos":        len(utxos),
		"balance_sats": bsv.Total(utxos),
	}), "utxo pool refreshed")
	return utxos, nil
}

// settle removes the spent inputs and adds the change back. The anchor already
// succeeded, so pool failures only force a refresh on the next anchor.
func (a *ChainAnchorer) settle(ctx context.Context, tx *bsv.Transaction) {
	err := a.pool.Remove(ctx, tx.Inputs)
	if err == nil && tx.Change != nil {
		err = a.pool.Add(ctx, *tx.Change)
	}
	if err != nil {
		a.logg.Error(ctx, "failed to update utxo pool after broadcast", err)
		_ = a.pool.Replace(ctx, nil)
		return
	}

	remaining, err := a.pool.Load(ctx)
	if err != nil {
		a.logg.Error(ctx, "failed to read utxo pool", err)
		return
	}
	a.observeBalance(ctx, bsv.Total(remaining))
}

func (a *ChainAnchorer) observeBalance(ctx context.Context, balance int64) {
	if a.metrics.SetBalance(balance, a.minBalance) {
		a.logg.Warn(a.logg.WithFields(ctx, map[string]any{
			"balance_sats": balance,
			"balance_bsv":  bsv.FormatBSV(balance),
			"min_sats":     a.minBalance,
		}), "funding balance below minimum")
	}
}

// Balance returns the pooled balance, reading the network when the pool is empty.
func (a *ChainAnchorer) Balance(ctx context.Context) (int64, error) {
	utxos, err := a.pool.Load(ctx)
	if err != nil {
		return 0, err
	}
	if len(utxos) == 0 {
		if utxos, err = a.source.FetchUTXOs(ctx, a.address); err != nil {
			return 0, err
		}
	}
	return bsv.Total(utxos), nil
}

func builderError(err error) error {
	switch {
	case errors.Is(err, bsv.ErrInsufficientFunds):
		return pkgerrors.Wrap(pkgerrors.CodeInsufficientFunds, err, "insufficient funds to anchor")
	case errors.Is(err, bsv.ErrFeeExceeded):
		return pkgerrors.Wrap(pkgerrors.CodeFeeExceeded, err, "transaction fee exceeds ceiling")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build transaction")
	}
}
