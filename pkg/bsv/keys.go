package bsv

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// Network selects the address and key encoding.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
)

func ParseNetwork(value string) (Network, error) {
	switch Network(strings.ToLower(strings.TrimSpace(value))) {
	case Mainnet:
		return Mainnet, nil
	case Testnet:
		return Testnet, nil
	default:
		return "", fmt.Errorf("unknown network %q", value)
	}
}

// Params returns the chain parameters whose address prefixes BSV shares.
func (n Network) Params() *chaincfg.Params {
	if n == Mainnet {
		return &chaincfg.MainNetParams
	}
	return &chaincfg.TestNet3Params
}

func (n Network) String() string {
	return string(n)
}

// ParseWIF decodes a WIF private key and checks it belongs to network.
func ParseWIF(wif string, network Network) (*btcutil.WIF, error) {
	decoded, err := btcutil.DecodeWIF(strings.TrimSpace(wif))
	if err != nil {
		return nil, fmt.Errorf("decode wif: %w", err)
	}
	if !decoded.IsForNet(network.Params()) {
		return nil, fmt.Errorf("wif is not a %s key", network)
	}
	return decoded, nil
}

// DecodeAddress parses a P2PKH address for network.
func DecodeAddress(address string, network Network) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(strings.TrimSpace(address), network.Params())
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, err)
	}
	if _, ok := addr.(*btcutil.AddressPubKeyHash); !ok {
		return nil, fmt.Errorf("address %q is not pay-to-pubkey-hash", address)
	}
	if !addr.IsForNet(network.Params()) {
		return nil, fmt.Errorf("address %q is not a %s address", address, network)
	}
	return addr, nil
}

// AddressFromPubKey derives the P2PKH address of a serialized public key.
func AddressFromPubKey(pubKey []byte, network Network) (string, error) {
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pubKey), network.Params())
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// PayToAddressScript returns the P2PKH locking script of address.
func PayToAddressScript(address string, network Network) ([]byte, error) {
	addr, err := DecodeAddress(address, network)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// Signer produces DER signatures over sighash digests.
type Signer interface {
	Sign(hash []byte) ([]byte, error)
	PubKey() []byte
}

// KeySigner signs with an in-memory private key.
type KeySigner struct {
	key    *btcec.PrivateKey
	pubKey []byte
}

func NewKeySigner(wif *btcutil.WIF) *KeySigner {
	return &KeySigner{key: wif.PrivKey, pubKey: wif.SerializePubKey()}
}

func (s *KeySigner) Sign(hash []byte) ([]byte, error) {
	if len(hash) != 32 {
		return nil, fmt.Errorf("sighash must be 32 bytes, got %d", len(hash))
	}
	return ecdsa.Sign(s.key, hash).Serialize(), nil
}

func (s *KeySigner) PubKey() []byte {
	return s.pubKey
}

// Address returns the P2PKH address controlled by the signer.
func (s *KeySigner) Address(network Network) (string, error) {
	return AddressFromPubKey(s.pubKey, network)
}

// FundingKey decodes wif and returns its signer with the derived address.
// When address is set it must match the key.
func FundingKey(wif, address string, network Network) (*KeySigner, string, error) {
	if strings.TrimSpace(wif) == "" {
		return nil, "", errors.New("funding wif is required")
	}
	decoded, err := ParseWIF(wif, network)
	if err != nil {
		return nil, "", err
	}
	signer := NewKeySigner(decoded)
	derived, err := signer.Address(network)
	if err != nil {
		return nil, "", err
	}
	if configured := strings.TrimSpace(address); configured != "" && configured != derived {
		return nil, "", fmt.Errorf("funding key controls %s, not configured address %s", derived, configured)
	}
	return signer, derived, nil
}
