package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/angelmondragon/akua-anchor/pkg/bsv"
)

// UTXOPool caches the spendable outputs of the funding address between
// anchors so consecutive transactions can chain off unconfirmed change.
type UTXOPool interface {
	Load(ctx context.Context) ([]bsv.UTXO, error)
	Replace(ctx context.Context, utxos []bsv.UTXO) error
	Remove(ctx context.Context, spent []bsv.UTXO) error
	Add(ctx context.Context, utxo bsv.UTXO) error
}

// MemoryPool keeps the set in process memory, preserving arrival order.
type MemoryPool struct {
	mu    sync.Mutex
	utxos []bsv.UTXO
}

func NewMemoryPool() *MemoryPool {
	return &MemoryPool{}
}

func (p *MemoryPool) Load(context.Context) ([]bsv.UTXO, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bsv.UTXO, len(p.utxos))
	copy(out, p.utxos)
	return out, nil
}

func (p *MemoryPool) Replace(_ context.Context, utxos []bsv.UTXO) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.utxos = append([]bsv.UTXO(nil), utxos...)
	return nil
}

func (p *MemoryPool) Remove(_ context.Context, spent []bsv.UTXO) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.utxos = bsv.Without(p.utxos, spent)
	return nil
}

func (p *MemoryPool) Add(_ context.Context, utxo bsv.UTXO) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.utxos = append(p.utxos, utxo)
	return nil
}

type hashStore interface {
	HSet(ctx context.Context, key string, values ...any) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	ReplaceHash(ctx context.Context, key string, values ...any) error
	UTXOPoolKey(network, address string) string
}

// RedisPool shares the set between publisher replicas as a hash of
// outpoint -> JSON encoded UTXO.
type RedisPool struct {
	client hashStore
	key    string
}

func NewRedisPool(client hashStore, network, address string) (*RedisPool, error) {
	if client == nil {
		return nil, errors.New("redis client required for utxo pool")
	}
	if address == "" {
		return nil, errors.New("funding address is required")
	}
	return &RedisPool{client: client, key: client.UTXOPoolKey(network, address)}, nil
}

// Load returns the cached set ordered by outpoint; hash fields carry no order.
func (p *RedisPool) Load(ctx context.Context) ([]bsv.UTXO, error) {
	fields, err := p.client.HGetAll(ctx, p.key)
	if err != nil {
		return nil, fmt.Errorf("load utxo pool: %w", err)
	}
	utxos := make([]bsv.UTXO, 0, len(fields))
	for outpoint, raw := range fields {
		var utxo bsv.UTXO
		if err := json.Unmarshal([]byte(raw), &utxo); err != nil {
			return nil, fmt.Errorf("decode utxo %s: %w", outpoint, err)
		}
		utxos = append(utxos, utxo)
	}
	sort.Slice(utxos, func(i, j int) bool {
		return utxos[i].Outpoint() < utxos[j].Outpoint()
	})
	return utxos, nil
}

func (p *RedisPool) Replace(ctx context.Context, utxos []bsv.UTXO) error {
	values, err := hashValues(utxos)
	if err != nil {
		return err
	}
	if err := p.client.ReplaceHash(ctx, p.key, values...); err != nil {
		return fmt.Errorf("replace utxo pool: %w", err)
	}
	return nil
}

func (p *RedisPool) Remove(ctx context.Context, spent []bsv.UTXO) error {
	fields := make([]string, 0, len(spent))
	for _, utxo := range spent {
		fields = append(fields, utxo.Outpoint())
	}
	return p.client.HDel(ctx, p.key, fields...)
}

func (p *RedisPool) Add(ctx context.Context, utxo bsv.UTXO) error {
	values, err := hashValues([]bsv.UTXO{utxo})
	if err != nil {
		return err
	}
	return p.client.HSet(ctx, p.key, values...)
}

func hashValues(utxos []bsv.UTXO) ([]any, error) {
	values := make([]any, 0, len(utxos)*2)
	for _, utxo := range utxos {
		raw, err := json.Marshal(utxo)
		if err != nil {
			return nil, fmt.Errorf("encode utxo %s: %w", utxo.Outpoint(), err)
		}
		values = append(values, utxo.Outpoint(), string(raw))
	}
	return values, nil
}
