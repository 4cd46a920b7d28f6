package store

import (
	"context"
	"errors"

	"github.com/rampline/settlement/pkg/common/enum"
	"github.com/rampline/settlement/pkg/model"
)

// EnsureSweepOperation returns the sweep operation for a deposit, creating a
// pending one if none exists. The unique index on deposit_id means two
// concurrent callers converge on the same row — at most one active sweep per
// deposit.
func (s *Store) EnsureSweepOperation(ctx context.Context, depositID string) (*model.SweepOperation, error) {
	op := &model.SweepOperation{
		DepositID: depositID,
		Status:    enum.SweepStatusPending,
	}
	err := wrapErr(s.db.WithContext(ctx).Create(op).Error)
	if err == nil {
		return op, nil
	}
	if !errors.Is(err, ErrDuplicate) {
		return nil, err
	}

	var existing model.SweepOperation
	if err := s.db.WithContext(ctx).First(&existing, "deposit_id = ?", depositID).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &existing, nil
}

func (s *Store) GetSweepOperation(ctx context.Context, depositID string) (*model.SweepOperation, error) {
	var op model.SweepOperation
	if err := s.db.WithContext(ctx).First(&op, "deposit_id = ?", depositID).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &op, nil
}

// SetSweepGasFunded records the sponsor top-up transaction hash.
func (s *Store) SetSweepGasFunded(ctx context.Context, opID, gasTxHash string) error {
	res := s.db.WithContext(ctx).Model(&model.SweepOperation{}).
		Where("id = ? AND status IN ?", opID,
			[]enum.SweepStatus{enum.SweepStatusPending, enum.SweepStatusGasFunded}).
		Updates(map[string]any{
			"status":              enum.SweepStatusGasFunded,
			"gas_sponsor_tx_hash": gasTxHash,
		})
	if res.Error != nil {
		return wrapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// SetSweepDone marks the operation swept. sweepTxHash may be empty when the
// sweep resolved idempotently (funds already in custody).
func (s *Store) SetSweepDone(ctx context.Context, opID string, sweepTxHash string) error {
	updates := map[string]any{"status": enum.SweepStatusSwept}
	if sweepTxHash != "" {
		updates["sweep_tx_hash"] = sweepTxHash
	}
	res := s.db.WithContext(ctx).Model(&model.SweepOperation{}).
		Where("id = ? AND status <> ?", opID, enum.SweepStatusSwept).
		Updates(updates)
	if res.Error != nil {
		return wrapErr(res.Error)
	}
	return nil
}

func (s *Store) SetSweepFailed(ctx context.Context, opID string) error {
	res := s.db.WithContext(ctx).Model(&model.SweepOperation{}).
		Where("id = ? AND status IN ?", opID,
			[]enum.SweepStatus{enum.SweepStatusPending, enum.SweepStatusGasFunded}).
		Update("status", enum.SweepStatusFailed)
	if res.Error != nil {
		return wrapErr(res.Error)
	}
	return nil
}

// ResetSweepToPending requeues a failed operation for the next cycle.
func (s *Store) ResetSweepToPending(ctx context.Context, opID string) error {
	res := s.db.WithContext(ctx).Model(&model.SweepOperation{}).
		Where("id = ? AND status = ?", opID, enum.SweepStatusFailed).
		Update("status", enum.SweepStatusPending)
	return wrapErr(res.Error)
}
