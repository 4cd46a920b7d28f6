package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rampline/settlement/internal/addressindex"
	"github.com/rampline/settlement/internal/chainrpc"
	"github.com/rampline/settlement/internal/config"
	"github.com/rampline/settlement/internal/events"
	"github.com/rampline/settlement/internal/ledger"
	"github.com/rampline/settlement/internal/monitor"
	"github.com/rampline/settlement/internal/offramp"
	"github.com/rampline/settlement/internal/provider"
	"github.com/rampline/settlement/internal/reconciler"
	"github.com/rampline/settlement/internal/sponsor"
	"github.com/rampline/settlement/internal/store"
	"github.com/rampline/settlement/internal/sweep"
	"github.com/rampline/settlement/internal/wallet"
	"github.com/rampline/settlement/pkg/common/logger"
	"github.com/rampline/settlement/pkg/infra"
	"github.com/rampline/settlement/pkg/kvstore"
)

// networkRuntime bundles the per-network workers so Stop can walk them.
type networkRuntime struct {
	name    string
	rpc     chainrpc.ChainRPC
	monitor *monitor.Worker
	sweeper *sweep.Executor
}

// Manager owns the lifetime of the whole settlement pipeline: shared
// infrastructure first, then one monitor and sweep executor per configured
// network, plus the global payout reconciler.
type Manager struct {
	cfg *config.Config

	st      *store.Store
	kv      infra.KVStore
	index   addressindex.Index
	emitter events.Emitter
	prov    provider.Provider

	offramp *offramp.Service
	wallet  *ledger.Service

	networks   []*networkRuntime
	reconciler *reconciler.Reconciler
	logger     *slog.Logger
}

// NewManager builds the shared infrastructure: database (with migrations),
// kv store for scan watermarks, NATS emitter, address index, and the
// settlement provider client. Per-network workers are created at Start.
func NewManager(ctx context.Context, cfg *config.Config) (*Manager, error) {
	db, err := infra.NewDBConnection(cfg.DB.Type, cfg.DB.URL, cfg.Environment)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := infra.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	st := store.New(db)

	kv, err := kvstore.NewFromConfig(cfg.KVStore)
	if err != nil {
		return nil, fmt.Errorf("open kv store: %w", err)
	}

	nc, err := infra.GetNATSConnection(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	emitter := events.NewEmitter(nc, cfg.NATS.SubjectPrefix)

	index, err := addressindex.NewFromConfig(ctx, cfg.AddressIndex, st)
	if err != nil {
		return nil, fmt.Errorf("build address index: %w", err)
	}

	prov := provider.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Provider.Timeout)
	wallet := ledger.NewService(st)

	return &Manager{
		cfg:     cfg,
		st:      st,
		kv:      kv,
		index:   index,
		emitter: emitter,
		prov:    prov,
		wallet:  wallet,
		offramp: offramp.NewService(st, prov, cfg.Fees, cfg.Provider.FiatCurrency),
		logger:  logger.With(slog.String("component", "pipeline")),
	}, nil
}

// Store exposes the persistence layer for CLI subcommands.
func (m *Manager) Store() *store.Store { return m.st }

// Offramp exposes the quote/payout surface.
func (m *Manager) Offramp() *offramp.Service { return m.offramp }

// Wallet exposes the fiat ledger surface.
func (m *Manager) Wallet() *ledger.Service { return m.wallet }

// Start launches workers for the named networks, or for every configured
// network when names is empty.
func (m *Manager) Start(ctx context.Context, names []string) error {
	if len(names) == 0 {
		names = m.cfg.Networks.GetAllNetworkNames()
	}

	watermarks := monitor.NewWatermarkStore(m.kv)

	for _, name := range names {
		netCfg, err := m.cfg.Networks.GetNetwork(name)
		if err != nil {
			return err
		}

		rpc, err := chainrpc.New(netCfg)
		if err != nil {
			return fmt.Errorf("network %s: %w", name, err)
		}

		signer := wallet.NewLocalSigner(m.cfg.Sweep.SignerSecret)
		sub := wallet.NewSubmitter(rpc, signer)
		sp := sponsor.New(netCfg, rpc, sub)

		rt := &networkRuntime{
			name:    name,
			rpc:     rpc,
			monitor: monitor.NewWorker(ctx, netCfg, rpc, m.st, m.index, watermarks, m.emitter),
			sweeper: sweep.NewExecutor(ctx, netCfg, rpc, m.st, sp, sub, m.emitter, m.cfg.Sweep.Interval),
		}

		rt.monitor.Start()
		rt.sweeper.Start()
		m.networks = append(m.networks, rt)
		m.logger.Info("Network pipeline started", "network", name)
	}

	m.reconciler = reconciler.New(ctx, m.st, m.prov, m.wallet, m.offramp, m.emitter, m.cfg.Reconciler)
	m.reconciler.Start()

	m.logger.Info("Pipeline running", "networks", len(m.networks))
	return nil
}

// Stop winds the pipeline down in dependency order: stop producing work,
// then stop consumers, then release shared infrastructure.
func (m *Manager) Stop() {
	for _, rt := range m.networks {
		rt.monitor.Stop()
	}
	for _, rt := range m.networks {
		rt.sweeper.Stop()
		rt.rpc.Close()
	}
	if m.reconciler != nil {
		m.reconciler.Stop()
	}

	if m.index != nil {
		m.index.Close()
	}
	if m.emitter != nil {
		m.emitter.Close()
	}
	if m.kv != nil {
		if err := m.kv.Close(); err != nil {
			m.logger.Error("Failed to close kv store", "error", err)
		}
	}
	m.logger.Info("Pipeline stopped")
}
