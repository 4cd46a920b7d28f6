package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rampline/settlement/internal/config"
	"github.com/rampline/settlement/internal/events"
	"github.com/rampline/settlement/internal/ledger"
	"github.com/rampline/settlement/internal/offramp"
	"github.com/rampline/settlement/internal/provider"
	"github.com/rampline/settlement/internal/store"
	"github.com/rampline/settlement/pkg/common/enum"
	"github.com/rampline/settlement/pkg/common/logger"
	"github.com/rampline/settlement/pkg/model"
	"github.com/rampline/settlement/pkg/retry"
)

const reconcileBatchSize = 100

// Reconciler polls the provider for the terminal fate of submitted payouts
// and settles each exactly once: the wallet credit lands before the payout
// row flips to completed, so a crash between the two is replayed into the
// ledger's duplicate-reference no-op.
type Reconciler struct {
	st      *store.Store
	prov    provider.Provider
	wallet  *ledger.Service
	offramp *offramp.Service
	emitter events.Emitter
	cfg     config.ReconcilerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

func New(
	ctx context.Context,
	st *store.Store,
	prov provider.Provider,
	wallet *ledger.Service,
	offrampSvc *offramp.Service,
	emitter events.Emitter,
	cfg config.ReconcilerConfig,
) *Reconciler {
	ctx, cancel := context.WithCancel(ctx)
	return &Reconciler{
		st:      st,
		prov:    prov,
		wallet:  wallet,
		offramp: offrampSvc,
		emitter: emitter,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger.With(slog.String("component", "reconciler")),
	}
}

func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.run()
}

func (r *Reconciler) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			r.logger.Info("Reconciler stopped")
			return
		case <-ticker.C:
			r.cycle()
		}
	}
}

// cycle fans the open payouts out over a bounded worker pool. Each payout is
// handled by exactly one worker per cycle; cross-cycle overlap is harmless
// because every settlement step is idempotent.
func (r *Reconciler) cycle() {
	payouts, err := r.st.ListOpenPayouts(r.ctx, reconcileBatchSize)
	if err != nil {
		r.logger.Error("Failed to list open payouts", "error", err)
		return
	}
	if len(payouts) == 0 {
		return
	}

	jobs := make(chan model.Payout)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				if err := r.reconcile(r.ctx, &p); err != nil {
					r.logger.Error("Reconcile failed",
						"payout_id", p.ID, "provider_reference", p.ProviderReference, "error", err)
				}
			}
		}()
	}

	for _, p := range payouts {
		select {
		case jobs <- p:
		case <-r.ctx.Done():
		}
		if r.ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()
}

func (r *Reconciler) reconcile(ctx context.Context, payout *model.Payout) error {
	if payout.ProviderReference == "" {
		// submission never reached the provider; there is nothing to ask
		// about yet, so drive the submission instead
		return r.resubmit(ctx, payout)
	}

	var state string
	err := retry.Exponential(ctx, func() error {
		var pErr error
		state, pErr = r.prov.GetPayoutStatus(ctx, payout.ProviderReference)
		if pErr != nil && !isRetryable(pErr) {
			return retry.Permanent(pErr)
		}
		return pErr
	}, retry.ExponentialConfig{
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  time.Duration(r.cfg.MaxAttempts) * 10 * time.Second,
	})
	if err != nil {
		return err
	}

	switch state {
	case provider.StateCompleted:
		return r.settle(ctx, payout)
	case provider.StateFailed:
		return r.fail(ctx, payout)
	default:
		// still pending or processing on the provider side
		return nil
	}
}

// resubmit drives a payout whose submission never got an acknowledgment.
// Each cycle spends one attempt; once the budget is exhausted the payout is
// resolved failed so a provider outage cannot stall it forever.
func (r *Reconciler) resubmit(ctx context.Context, payout *model.Payout) error {
	attempts, err := r.st.IncrementPayoutSubmitAttempts(ctx, payout.ID)
	if err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			// another worker already submitted or resolved it
			return nil
		}
		return err
	}

	if attempts > r.cfg.MaxSubmitAttempts {
		reason := "payout submission attempts exhausted"
		if err := r.st.ResolvePayout(ctx, payout.ID, enum.PayoutStatusFailed, &reason); err != nil {
			if errors.Is(err, store.ErrStaleStatus) {
				return nil
			}
			return err
		}
		r.logger.Warn("Payout submission abandoned",
			"payout_id", payout.ID, "attempts", attempts-1)
		_ = r.emitter.Emit(events.KindPayoutFailed, "", map[string]any{
			"payout_id": payout.ID,
			"reason":    reason,
		})
		return nil
	}

	updated, err := r.offramp.RetrySubmission(ctx, payout.ID)
	if err != nil {
		// still unreachable; the payout stays pending for the next cycle
		return err
	}
	r.logger.Info("Payout resubmitted",
		"payout_id", payout.ID, "provider_reference", updated.ProviderReference,
		"status", updated.Status, "attempt", attempts)
	return nil
}

func (r *Reconciler) settle(ctx context.Context, payout *model.Payout) error {
	quote, err := r.st.GetQuote(ctx, payout.QuoteID)
	if err != nil {
		return err
	}

	// credit first: the payout id is the dedup reference, so a crash after
	// the credit replays into a no-op and the status flip still happens
	balance, err := r.wallet.Credit(ctx, quote.UserID, payout.Amount, payout.ID)
	if err != nil {
		return err
	}
	if err := r.st.ResolvePayout(ctx, payout.ID, enum.PayoutStatusCompleted, nil); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return nil
		}
		return err
	}

	r.logger.Info("Payout settled",
		"payout_id", payout.ID, "user_id", quote.UserID,
		"amount", payout.Amount, "balance_after", balance)
	_ = r.emitter.Emit(events.KindPayoutSettled, "", map[string]any{
		"payout_id": payout.ID,
		"user_id":   quote.UserID,
		"amount":    payout.Amount,
	})
	return nil
}

// fail marks the payout terminally failed without touching the wallet. The
// crypto already left custody, so the stuck value is surfaced for manual
// reconciliation instead of being silently re-credited.
func (r *Reconciler) fail(ctx context.Context, payout *model.Payout) error {
	reason := "provider reported payout failure"
	if err := r.st.ResolvePayout(ctx, payout.ID, enum.PayoutStatusFailed, &reason); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return nil
		}
		return err
	}

	r.logger.Warn("Payout failed at provider, funds flagged for reconciliation",
		"payout_id", payout.ID, "provider_reference", payout.ProviderReference)
	_ = r.emitter.Emit(events.KindPayoutFailed, "", map[string]any{
		"payout_id":          payout.ID,
		"provider_reference": payout.ProviderReference,
	})
	return nil
}

func isRetryable(err error) bool {
	// only availability problems are worth retrying inside one cycle
	return errors.Is(err, provider.ErrUnavailable)
}
