package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/rampline/settlement/pkg/common/enum"
	"github.com/rampline/settlement/pkg/model"
)

// ErrQuoteConsumed is returned when a second payout tries to reference a
// quote that already backs one.
var ErrQuoteConsumed = errors.New("quote already consumed")

func (s *Store) CreateQuote(ctx context.Context, q *model.Quote) error {
	return wrapErr(s.db.WithContext(ctx).Create(q).Error)
}

func (s *Store) GetQuote(ctx context.Context, id string) (*model.Quote, error) {
	var q model.Quote
	if err := s.db.WithContext(ctx).First(&q, "id = ?", id).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &q, nil
}

// CreatePayout inserts a payout and consumes its quote in the same statement:
// the unique index on quote_id is the consumption marker, so the second
// payout for the same quote fails with ErrQuoteConsumed.
func (s *Store) CreatePayout(ctx context.Context, p *model.Payout) error {
	if p.Status == "" {
		p.Status = enum.PayoutStatusPending
	}
	err := wrapErr(s.db.WithContext(ctx).Create(p).Error)
	if errors.Is(err, ErrDuplicate) {
		return ErrQuoteConsumed
	}
	return err
}

func (s *Store) GetPayout(ctx context.Context, id string) (*model.Payout, error) {
	var p model.Payout
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &p, nil
}

// SetPayoutSubmitted records the provider reference the moment submission
// returns, before the final outcome is known. Losing this linkage between
// crash and restart would orphan the payout at the provider.
func (s *Store) SetPayoutSubmitted(ctx context.Context, payoutID, providerReference string, status enum.PayoutStatus) error {
	res := s.db.WithContext(ctx).Model(&model.Payout{}).
		Where("id = ? AND status = ?", payoutID, enum.PayoutStatusPending).
		Updates(map[string]any{
			"provider_reference": providerReference,
			"status":             status,
		})
	if res.Error != nil {
		return wrapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// IncrementPayoutSubmitAttempts bumps the resubmission counter of a payout
// the provider has not acknowledged yet and returns the new count. A payout
// that picked up a reference or left pending in the meantime is reported as
// ErrStaleStatus so the caller stops retrying it.
func (s *Store) IncrementPayoutSubmitAttempts(ctx context.Context, payoutID string) (int, error) {
	res := s.db.WithContext(ctx).Model(&model.Payout{}).
		Where("id = ? AND status = ? AND provider_reference = ''", payoutID, enum.PayoutStatusPending).
		UpdateColumn("submit_attempts", gorm.Expr("submit_attempts + 1"))
	if res.Error != nil {
		return 0, wrapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, ErrStaleStatus
	}

	p, err := s.GetPayout(ctx, payoutID)
	if err != nil {
		return 0, err
	}
	return p.SubmitAttempts, nil
}

// ListOpenPayouts returns payouts that have not reached a terminal status.
func (s *Store) ListOpenPayouts(ctx context.Context, limit int) ([]model.Payout, error) {
	var payouts []model.Payout
	q := s.db.WithContext(ctx).
		Where("status IN ?", []enum.PayoutStatus{enum.PayoutStatusPending, enum.PayoutStatusProcessing}).
		Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&payouts).Error
	return payouts, wrapErr(err)
}

// ResolvePayout moves an open payout to a terminal status. The non-terminal
// guard in the WHERE clause makes duplicate terminal observations no-ops.
func (s *Store) ResolvePayout(ctx context.Context, payoutID string, to enum.PayoutStatus, failureReason *string) error {
	if !to.Terminal() {
		return errors.New("resolve requires a terminal status")
	}
	res := s.db.WithContext(ctx).Model(&model.Payout{}).
		Where("id = ? AND status IN ?", payoutID,
			[]enum.PayoutStatus{enum.PayoutStatusPending, enum.PayoutStatusProcessing}).
		Updates(map[string]any{
			"status":         to,
			"failure_reason": failureReason,
		})
	if res.Error != nil {
		return wrapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (s *Store) CreateBeneficiary(ctx context.Context, b *model.BankBeneficiary) error {
	return wrapErr(s.db.WithContext(ctx).Create(b).Error)
}

func (s *Store) GetBeneficiary(ctx context.Context, id string) (*model.BankBeneficiary, error) {
	var b model.BankBeneficiary
	if err := s.db.WithContext(ctx).First(&b, "id = ?", id).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &b, nil
}

// MarkBeneficiaryVerified is flipped by the provider's verification callback,
// which lives outside this core.
func (s *Store) MarkBeneficiaryVerified(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&model.BankBeneficiary{}).
		Where("id = ?", id).
		Update("verified", true)
	return wrapErr(res.Error)
}
