package bsv

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/shopspring/decimal"
)

// DustThreshold is the smallest change output worth emitting.
const DustThreshold int64 = 546

const satoshisPerBSV = 8

// UTXO is a spendable output of the funding address.
type UTXO struct {
	TxID     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Satoshis int64  `json:"satoshis"`
	Script   string `json:"script"`
}

// Outpoint identifies the UTXO as txid:vout.
func (u UTXO) Outpoint() string {
	return fmt.Sprintf("%s:%d", u.TxID, u.Vout)
}

// Total sums the satoshis of utxos.
func Total(utxos []UTXO) int64 {
	var total int64
	for _, u := range utxos {
		total += u.Satoshis
	}
	return total
}

// SelectUTXOs takes UTXOs first-fit in the given order until target is
// reached. Order strategies such as SortLargestFirst are applied by callers.
func SelectUTXOs(available []UTXO, target int64) ([]UTXO, int64, error) {
	var (
		chosen []UTXO
		total  int64
	)
	for _, u := range available {
		if total >= target && len(chosen) > 0 {
			break
		}
		chosen = append(chosen, u)
		total += u.Satoshis
	}
	if total < target || len(chosen) == 0 {
		return nil, total, fmt.Errorf("%w: need %d sats, have %d", ErrInsufficientFunds, target, total)
	}
	return chosen, total, nil
}

// SortLargestFirst returns a copy ordered by descending value. Ties keep
// their arrival order.
func SortLargestFirst(utxos []UTXO) []UTXO {
	out := make([]UTXO, len(utxos))
	copy(out, utxos)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Satoshis > out[j].Satoshis
	})
	return out
}

// Without returns utxos minus the outpoints present in spent.
func Without(utxos []UTXO, spent []UTXO) []UTXO {
	drop := make(map[string]struct{}, len(spent))
	for _, s := range spent {
		drop[s.Outpoint()] = struct{}{}
	}
	out := make([]UTXO, 0, len(utxos))
	for _, u := range utxos {
		if _, ok := drop[u.Outpoint()]; ok {
			continue
		}
		out = append(out, u)
	}
	return out
}

// FormatBSV renders satoshis as a fixed eight-decimal BSV amount.
func FormatBSV(sats int64) string {
	return decimal.New(sats, -satoshisPerBSV).StringFixed(satoshisPerBSV)
}

// FileCache persists a UTXO set as a JSON array.
type FileCache struct {
	Path string
}

// ErrCacheMissing is returned by Load when the cache file does not exist.
var ErrCacheMissing = errors.New("utxo cache missing")

func (c FileCache) Load() ([]UTXO, error) {
	raw, err := os.ReadFile(c.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrCacheMissing
		}
		return nil, fmt.Errorf("read utxo cache: %w", err)
	}
	var utxos []UTXO
	if err := json.Unmarshal(raw, &utxos); err != nil {
		return nil, fmt.Errorf("parse utxo cache %s: %w", c.Path, err)
	}
	return utxos, nil
}

func (c FileCache) Save(utxos []UTXO) error {
	if utxos == nil {
		utxos = []UTXO{}
	}
	raw, err := json.MarshalIndent(utxos, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.Path), ".utxos-*.json")
	if err != nil {
		return fmt.Errorf("write utxo cache: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write utxo cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write utxo cache: %w", err)
	}
	return os.Rename(tmp.Name(), c.Path)
}
