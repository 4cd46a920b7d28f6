package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rampline/settlement/internal/addressindex"
	"github.com/rampline/settlement/internal/chainrpc"
	"github.com/rampline/settlement/internal/config"
	"github.com/rampline/settlement/internal/events"
	"github.com/rampline/settlement/internal/store"
	"github.com/rampline/settlement/pkg/common/constant"
	"github.com/rampline/settlement/pkg/common/enum"
	"github.com/rampline/settlement/pkg/common/logger"
	"github.com/rampline/settlement/pkg/model"
	"github.com/rampline/settlement/pkg/retry"
)

const maxConsecutiveErrors = 5

// Worker is the chain monitor for one network. It polls registered deposit
// addresses for incoming transfers, records them idempotently, advances
// confirmation counts, and confirms deposits at the network threshold.
// Missing a deposit is a correctness failure, so the worker never gives up:
// after too many consecutive errors it reports degraded health and keeps
// polling.
type Worker struct {
	cfg        config.NetworkConfig
	rpc        chainrpc.ChainRPC
	st         *store.Store
	index      addressindex.Index
	watermarks *WatermarkStore
	emitter    events.Emitter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewWorker(
	ctx context.Context,
	cfg config.NetworkConfig,
	rpc chainrpc.ChainRPC,
	st *store.Store,
	index addressindex.Index,
	watermarks *WatermarkStore,
	emitter events.Emitter,
) *Worker {
	ctx, cancel := context.WithCancel(ctx)
	return &Worker{
		cfg:        cfg,
		rpc:        rpc,
		st:         st,
		index:      index,
		watermarks: watermarks,
		emitter:    emitter,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With(slog.String("component", "monitor"), slog.String("network", cfg.Name)),
	}
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()

	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	errorCount := 0
	for {
		select {
		case <-w.ctx.Done():
			w.logger.Info("Monitor stopped")
			return
		case <-ticker.C:
			if err := w.poll(w.ctx); err != nil {
				errorCount++
				w.logger.Error("Poll cycle failed", "error", err, "consecutive_errors", errorCount)
				if errorCount >= maxConsecutiveErrors {
					w.logger.Warn("Monitor degraded, still retrying")
					_ = w.emitter.Emit(events.KindHealthDegraded, w.cfg.Name, map[string]any{
						"consecutive_errors": errorCount,
						"error":              err.Error(),
					})
					errorCount = 0
				}
			} else {
				errorCount = 0
			}
		}
	}
}

// poll runs one scan cycle: discover new transfers above the watermark,
// then advance confirmations for everything still below the threshold.
func (w *Worker) poll(ctx context.Context) error {
	var latest uint64
	err := retry.Exponential(ctx, func() error {
		var err error
		latest, err = w.rpc.GetLatestHeight(ctx)
		return err
	}, retry.ExponentialConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxElapsedTime:  30 * time.Second,
		OnRetry: func(err error, next time.Duration) {
			w.logger.Debug("Retrying latest height", "error", err, "next", next)
		},
	})
	if err != nil {
		return err
	}

	from := w.scanFloor(latest)

	if err := w.discover(ctx, from, latest); err != nil {
		return err
	}
	if err := w.advance(ctx, latest); err != nil {
		return err
	}

	// keep an overlap of one threshold window so still-unconfirmed
	// transfers are re-seen after a restart
	watermark := latest
	if watermark > w.cfg.ConfirmationThreshold {
		watermark -= w.cfg.ConfirmationThreshold
	} else {
		watermark = 0
	}
	if err := w.watermarks.Save(w.cfg.Name, watermark); err != nil {
		w.logger.Warn("Failed to save watermark", "error", err)
	}
	return nil
}

func (w *Worker) scanFloor(latest uint64) uint64 {
	wm, found, err := w.watermarks.Get(w.cfg.Name)
	if err != nil {
		w.logger.Warn("Failed to load watermark", "error", err)
		found = false
	}
	if found {
		return wm
	}
	if latest > constant.MaxWatermarkLag {
		return latest - constant.MaxWatermarkLag
	}
	return 0
}

func (w *Worker) discover(ctx context.Context, from, latest uint64) error {
	addrs, err := w.st.ListDepositAddresses(ctx, w.cfg.Name)
	if err != nil {
		return err
	}

	for _, addr := range addrs {
		transfers, err := w.fetchTransfers(ctx, addr.Address, from)
		if err != nil {
			return err
		}

		for _, t := range transfers {
			watched, err := w.index.Contains(ctx, w.cfg.Name, t.ToAddress)
			if err != nil {
				w.logger.Warn("Address index lookup failed", "error", err)
				watched = true // fail open: the store lookup below is authoritative
			}
			if !watched {
				continue
			}

			confirmations := uint64(0)
			if latest >= t.BlockHeight {
				confirmations = latest - t.BlockHeight + 1
			}
			dep := &model.OnchainDeposit{
				Network:       w.cfg.Name,
				Asset:         t.AssetSymbol,
				AssetAddress:  t.AssetAddress,
				TxHash:        t.TxHash,
				ToAddress:     t.ToAddress,
				Amount:        t.Amount,
				BlockHeight:   t.BlockHeight,
				Confirmations: confirmations,
				Status:        enum.DepositStatusDetected,
			}
			if err := w.st.UpsertDeposit(ctx, dep); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Worker) fetchTransfers(ctx context.Context, address string, from uint64) ([]chainrpc.Transfer, error) {
	var transfers []chainrpc.Transfer
	err := retry.Exponential(ctx, func() error {
		var err error
		transfers, err = w.rpc.GetTransfersTo(ctx, address, from)
		return err
	}, retry.ExponentialConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxElapsedTime:  30 * time.Second,
	})
	return transfers, err
}

// advance moves confirmation counts and hands confirmed deposits to the
// sweep stage. The handoff is the status transition itself, so a replayed
// cycle or a second monitor instance cannot confirm the same row twice.
func (w *Worker) advance(ctx context.Context, latest uint64) error {
	deps, err := w.st.ListUnconfirmedDeposits(ctx, w.cfg.Name)
	if err != nil {
		return err
	}

	for _, dep := range deps {
		confirmations, err := w.rpc.GetConfirmations(ctx, dep.TxHash)
		if err != nil {
			w.logger.Warn("Confirmation lookup failed", "tx_hash", dep.TxHash, "error", err)
			continue
		}

		if confirmations < w.cfg.ConfirmationThreshold {
			if err := w.st.AdvanceConfirmations(ctx, dep.ID, confirmations); err != nil {
				return err
			}
			continue
		}

		err = w.st.ConfirmDeposit(ctx, dep.ID, confirmations)
		if errors.Is(err, store.ErrStaleStatus) {
			continue // someone else confirmed it
		}
		if err != nil {
			return err
		}
		w.logger.Info("Deposit confirmed",
			"tx_hash", dep.TxHash, "amount", dep.Amount, "confirmations", confirmations)
		_ = w.emitter.Emit(events.KindDepositConfirmed, w.cfg.Name, dep)
	}
	return nil
}
