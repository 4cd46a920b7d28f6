package addressindex

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rampline/settlement/internal/config"
	"github.com/rampline/settlement/internal/store"
	"github.com/rampline/settlement/pkg/common/enum"
	"github.com/rampline/settlement/pkg/common/logger"
	"github.com/rampline/settlement/pkg/infra"
)

// Index answers "is this a registered deposit address" for every candidate
// the chain monitors see. A false negative here means a missed deposit, so
// backends must be loaded from the store before monitoring starts.
type Index interface {
	Contains(ctx context.Context, network, address string) (bool, error)
	Add(ctx context.Context, network, address string) error
	Close() error
}

func normalize(address string) string {
	return strings.ToLower(address)
}

// NewFromConfig constructs an Index backend and warms it from the store.
func NewFromConfig(ctx context.Context, cfg config.AddressIndexConfig, st *store.Store) (Index, error) {
	var idx Index
	switch cfg.Backend {
	case enum.IndexBackendInMemory:
		idx = NewMemoryIndex(st, cfg.RefreshInterval)
	case enum.IndexBackendRedis:
		client, err := infra.NewRedisClient(cfg.Redis.URL, cfg.Redis.Password)
		if err != nil {
			return nil, err
		}
		idx = NewRedisIndex(client, cfg.Redis.KeyPrefix)
	default:
		return nil, fmt.Errorf("unsupported address index backend: %s", cfg.Backend)
	}

	if err := warm(ctx, idx, st); err != nil {
		return nil, fmt.Errorf("warm address index: %w", err)
	}
	return idx, nil
}

func warm(ctx context.Context, idx Index, st *store.Store) error {
	addrs, err := st.ListAllDepositAddresses(ctx)
	if err != nil {
		return err
	}
	for _, a := range addrs {
		if err := idx.Add(ctx, a.Network, a.Address); err != nil {
			return err
		}
	}
	logger.Info("Address index warmed", "addresses", len(addrs))
	return nil
}

// MemoryIndex keeps the watched set in process and refreshes it from the
// store on an interval, so addresses provisioned after startup are picked up.
type MemoryIndex struct {
	mu        sync.RWMutex
	addresses map[string]struct{}
	st        *store.Store
	refresh   time.Duration
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewMemoryIndex(st *store.Store, refresh time.Duration) *MemoryIndex {
	idx := &MemoryIndex{
		addresses: make(map[string]struct{}),
		st:        st,
		refresh:   refresh,
	}
	if st != nil && refresh > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		idx.cancel = cancel
		idx.wg.Add(1)
		go idx.refreshLoop(ctx)
	}
	return idx
}

func (m *MemoryIndex) key(network, address string) string {
	return network + "/" + normalize(address)
}

func (m *MemoryIndex) Contains(_ context.Context, network, address string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.addresses[m.key(network, address)]
	return ok, nil
}

func (m *MemoryIndex) Add(_ context.Context, network, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addresses[m.key(network, address)] = struct{}{}
	return nil
}

func (m *MemoryIndex) refreshLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := warm(ctx, m, m.st); err != nil {
				logger.Warn("Address index refresh failed", "error", err)
			}
		}
	}
}

func (m *MemoryIndex) Close() error {
	if m.cancel != nil {
		m.cancel()
		m.wg.Wait()
	}
	return nil
}

// RedisIndex shares the watched set across processes via redis sets, one set
// per network.
type RedisIndex struct {
	client    infra.RedisClient
	keyPrefix string
}

func NewRedisIndex(client infra.RedisClient, keyPrefix string) *RedisIndex {
	if keyPrefix == "" {
		keyPrefix = "deposit_addresses"
	}
	return &RedisIndex{client: client, keyPrefix: keyPrefix}
}

func (r *RedisIndex) key(network string) string {
	return r.keyPrefix + ":" + network
}

func (r *RedisIndex) Contains(ctx context.Context, network, address string) (bool, error) {
	return r.client.SIsMember(ctx, r.key(network), normalize(address))
}

func (r *RedisIndex) Add(ctx context.Context, network, address string) error {
	return r.client.SAdd(ctx, r.key(network), normalize(address))
}

func (r *RedisIndex) Close() error {
	return r.client.Close()
}
