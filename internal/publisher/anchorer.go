package publisher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/angelmondragon/akua-anchor/pkg/enums"
)

// Anchor is the on-chain result of anchoring one hash.
type Anchor struct {
	TxID   string
	Status enums.PublishStatus
}

// Anchorer embeds a payload hash on chain.
type Anchorer interface {
	Anchor(ctx context.Context, sha256 string) (Anchor, error)
	// Balance reports the spendable funding balance in satoshis.
	Balance(ctx context.Context) (int64, error)
	Network() string
}

// StubAnchorer derives a deterministic fake txid without touching the network.
type StubAnchorer struct {
	network string
}

func NewStubAnchorer(network string) *StubAnchorer {
	return &StubAnchorer{network: network}
}

func (s *StubAnchorer) Anchor(_ context.Context, hash string) (Anchor, error) {
	return Anchor{TxID: StubTxID(hash), Status: enums.PublishStatusBroadcasted}, nil
}

func (s *StubAnchorer) Balance(context.Context) (int64, error) {
	return 0, nil
}

func (s *StubAnchorer) Network() string {
	return s.network
}

// StubTxID is sha256hex(hash + "txid").
func StubTxID(hash string) string {
	sum := sha256.Sum256([]byte(hash + "txid"))
	return hex.EncodeToString(sum[:])
}
