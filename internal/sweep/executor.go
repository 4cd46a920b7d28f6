package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rampline/settlement/internal/chainrpc"
	"github.com/rampline/settlement/internal/config"
	"github.com/rampline/settlement/internal/events"
	"github.com/rampline/settlement/internal/sponsor"
	"github.com/rampline/settlement/internal/store"
	"github.com/rampline/settlement/internal/wallet"
	"github.com/rampline/settlement/pkg/common/enum"
	"github.com/rampline/settlement/pkg/common/logger"
	"github.com/rampline/settlement/pkg/model"
)

const sweepBatchSize = 20

var defaultGasSafetyMargin = decimal.NewFromFloat(1.2)

// Executor moves confirmed deposits into the custody wallet for one network.
// Each step is independently retryable; the whole operation is replayed from
// its last durable status, never blindly resubmitted.
type Executor struct {
	cfg      config.NetworkConfig
	rpc      chainrpc.ChainRPC
	st       *store.Store
	sponsor  *sponsor.Service
	sub      *wallet.Submitter
	emitter  events.Emitter
	interval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func NewExecutor(
	ctx context.Context,
	cfg config.NetworkConfig,
	rpc chainrpc.ChainRPC,
	st *store.Store,
	sp *sponsor.Service,
	sub *wallet.Submitter,
	emitter events.Emitter,
	interval time.Duration,
) *Executor {
	ctx, cancel := context.WithCancel(ctx)
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Executor{
		cfg:      cfg,
		rpc:      rpc,
		st:       st,
		sponsor:  sp,
		sub:      sub,
		emitter:  emitter,
		interval: interval,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger.With(slog.String("component", "sweep"), slog.String("network", cfg.Name)),
	}
}

func (e *Executor) Start() {
	e.wg.Add(1)
	go e.run()
}

// Stop cancels the run context and waits for the in-flight cycle to return.
// Cancellation can abort a submission mid-request; the next start recovers
// the deposit from the operation's recorded status, and a transfer that did
// land on chain resolves through the zero-balance replay check.
func (e *Executor) Stop() {
	e.cancel()
	e.wg.Wait()
}

func (e *Executor) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			e.logger.Info("Sweep executor stopped")
			return
		case <-ticker.C:
			e.cycle()
		}
	}
}

func (e *Executor) cycle() {
	deps, err := e.st.ListSweepableDeposits(e.ctx, e.cfg.Name, sweepBatchSize)
	if err != nil {
		e.logger.Error("Failed to list sweepable deposits", "error", err)
		return
	}

	for _, dep := range deps {
		if err := e.sweepOne(e.ctx, &dep); err != nil {
			e.logger.Error("Sweep failed", "deposit_id", dep.ID, "tx_hash", dep.TxHash, "error", err)
		}
		if e.ctx.Err() != nil {
			return
		}
	}
}

// sweepOne runs one deposit through gas funding and the sweep transfer.
func (e *Executor) sweepOne(ctx context.Context, dep *model.OnchainDeposit) error {
	op, err := e.st.EnsureSweepOperation(ctx, dep.ID)
	if err != nil {
		return err
	}

	switch op.Status {
	case enum.SweepStatusSwept:
		// recorded swept but the deposit row lagged behind; converge
		return e.markSwept(ctx, dep, op, "")
	case enum.SweepStatusFailed:
		if err := e.st.ResetSweepToPending(ctx, op.ID); err != nil {
			return err
		}
		op.Status = enum.SweepStatusPending
	}

	balance, err := e.rpc.GetBalance(ctx, dep.ToAddress, dep.AssetAddress)
	if err != nil {
		return fmt.Errorf("deposit balance check: %w", err)
	}
	if balance.IsZero() {
		// a prior crashed attempt already moved the funds; succeed
		// idempotently without resubmitting
		e.logger.Info("Deposit already swept on-chain", "deposit_id", dep.ID)
		return e.markSwept(ctx, dep, op, "")
	}

	if op.Status == enum.SweepStatusPending {
		funded, err := e.ensureGas(ctx, dep, op)
		if err != nil {
			return err
		}
		if !funded {
			// liquidity condition: leave pending, retried next cycle
			return nil
		}
	}

	sweepTx, err := e.sub.SubmitTransfer(ctx, wallet.TransferRequest{
		From:         dep.ToAddress,
		To:           e.cfg.CustodyWallet,
		AssetAddress: dep.AssetAddress,
		Amount:       balance,
	})
	if err != nil {
		if stErr := e.st.SetSweepFailed(ctx, op.ID); stErr != nil {
			e.logger.Error("Failed to record sweep failure", "error", stErr)
		}
		if stErr := e.st.MarkDepositSweepFailed(ctx, dep.ID); stErr != nil {
			e.logger.Error("Failed to mark deposit sweep_failed", "error", stErr)
		}
		return fmt.Errorf("sweep submit: %w", err)
	}

	return e.markSwept(ctx, dep, op, sweepTx)
}

// ensureGas tops up the deposit address when its native balance cannot pay
// for the sweep. Returns false when sponsorship is deferred for liquidity.
func (e *Executor) ensureGas(ctx context.Context, dep *model.OnchainDeposit, op *model.SweepOperation) (bool, error) {
	cost, err := e.rpc.EstimateTransferCost(ctx, dep.ToAddress, e.cfg.CustodyWallet, dep.AssetAddress)
	if err != nil {
		return false, fmt.Errorf("estimate sweep cost: %w", err)
	}
	margin := e.cfg.GasSafetyMargin
	if !margin.IsPositive() {
		margin = defaultGasSafetyMargin
	}
	cost = cost.Mul(margin)

	nativeBalance, err := e.rpc.GetBalance(ctx, dep.ToAddress, "")
	if err != nil {
		return false, fmt.Errorf("native balance check: %w", err)
	}
	if nativeBalance.GreaterThanOrEqual(cost) {
		return true, nil
	}

	gasTx, err := e.sponsor.SponsorGas(ctx, dep.ToAddress, cost.Sub(nativeBalance))
	if err != nil {
		if errors.Is(err, sponsor.ErrInsufficientSponsorBalance) {
			return false, nil
		}
		return false, err
	}

	if err := e.st.SetSweepGasFunded(ctx, op.ID, gasTx); err != nil {
		return false, err
	}
	op.Status = enum.SweepStatusGasFunded
	return true, nil
}

func (e *Executor) markSwept(ctx context.Context, dep *model.OnchainDeposit, op *model.SweepOperation, sweepTx string) error {
	if err := e.st.SetSweepDone(ctx, op.ID, sweepTx); err != nil {
		return err
	}
	err := e.st.MarkDepositSwept(ctx, dep.ID)
	if errors.Is(err, store.ErrStaleStatus) {
		return nil
	}
	if err != nil {
		return err
	}
	e.logger.Info("Deposit swept", "deposit_id", dep.ID, "amount", dep.Amount, "sweep_tx", sweepTx)
	_ = e.emitter.Emit(events.KindDepositSwept, e.cfg.Name, map[string]any{
		"deposit_id": dep.ID,
		"amount":     dep.Amount,
		"sweep_tx":   sweepTx,
	})
	return nil
}
