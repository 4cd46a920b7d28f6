package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rampline/settlement/pkg/common/enum"
	"github.com/rampline/settlement/pkg/model"
)

func (s *Store) RegisterDepositAddress(ctx context.Context, addr *model.DepositAddress) error {
	return wrapErr(s.db.WithContext(ctx).Create(addr).Error)
}

func (s *Store) ListDepositAddresses(ctx context.Context, network string) ([]model.DepositAddress, error) {
	var addrs []model.DepositAddress
	err := s.db.WithContext(ctx).Where("network = ?", network).Find(&addrs).Error
	return addrs, wrapErr(err)
}

func (s *Store) ListAllDepositAddresses(ctx context.Context) ([]model.DepositAddress, error) {
	var addrs []model.DepositAddress
	err := s.db.WithContext(ctx).Find(&addrs).Error
	return addrs, wrapErr(err)
}

func (s *Store) FindDepositAddress(ctx context.Context, network, address string) (*model.DepositAddress, error) {
	var addr model.DepositAddress
	err := s.db.WithContext(ctx).
		Where("network = ? AND address = ?", network, address).
		First(&addr).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &addr, nil
}

// UpsertDeposit records a deposit candidate keyed by its natural tuple
// (network, tx_hash, to_address). Re-observing the same transfer only
// refreshes the confirmation count on the already-recorded row.
func (s *Store) UpsertDeposit(ctx context.Context, dep *model.OnchainDeposit) error {
	if dep.Status == "" {
		dep.Status = enum.DepositStatusDetected
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "network"}, {Name: "tx_hash"}, {Name: "to_address"}},
		DoUpdates: clause.Assignments(map[string]any{
			"confirmations": gorm.Expr("excluded.confirmations"),
		}),
	}).Create(dep).Error
	return wrapErr(err)
}

func (s *Store) GetDeposit(ctx context.Context, id string) (*model.OnchainDeposit, error) {
	var dep model.OnchainDeposit
	if err := s.db.WithContext(ctx).First(&dep, "id = ?", id).Error; err != nil {
		return nil, wrapErr(err)
	}
	return &dep, nil
}

// ListUnconfirmedDeposits returns detected deposits for a network whose
// confirmation count still needs advancing.
func (s *Store) ListUnconfirmedDeposits(ctx context.Context, network string) ([]model.OnchainDeposit, error) {
	var deps []model.OnchainDeposit
	err := s.db.WithContext(ctx).
		Where("network = ? AND status = ?", network, enum.DepositStatusDetected).
		Find(&deps).Error
	return deps, wrapErr(err)
}

// AdvanceConfirmations is the always-safe mutation: it only ever moves the
// confirmation count of a still-detected deposit.
func (s *Store) AdvanceConfirmations(ctx context.Context, depositID string, confirmations uint64) error {
	err := s.db.WithContext(ctx).Model(&model.OnchainDeposit{}).
		Where("id = ? AND status = ?", depositID, enum.DepositStatusDetected).
		Update("confirmations", confirmations).Error
	return wrapErr(err)
}

// ConfirmDeposit transitions detected -> confirmed. The status guard in the
// WHERE clause makes the handoff survive a concurrent or replayed call.
func (s *Store) ConfirmDeposit(ctx context.Context, depositID string, confirmations uint64) error {
	res := s.db.WithContext(ctx).Model(&model.OnchainDeposit{}).
		Where("id = ? AND status = ?", depositID, enum.DepositStatusDetected).
		Updates(map[string]any{
			"status":        enum.DepositStatusConfirmed,
			"confirmations": confirmations,
		})
	if res.Error != nil {
		return wrapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// ListSweepableDeposits returns confirmed deposits, i.e. those not yet moved
// to swept/sweep_failed. Status, not an in-memory set, guards the handoff, so
// a restart reproduces the same work list.
func (s *Store) ListSweepableDeposits(ctx context.Context, network string, limit int) ([]model.OnchainDeposit, error) {
	var deps []model.OnchainDeposit
	q := s.db.WithContext(ctx).
		Where("network = ? AND status IN ?", network,
			[]enum.DepositStatus{enum.DepositStatusConfirmed, enum.DepositStatusSweepFailed}).
		Order("created_at")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&deps).Error
	return deps, wrapErr(err)
}

func (s *Store) setDepositStatus(ctx context.Context, depositID string, from []enum.DepositStatus, to enum.DepositStatus) error {
	res := s.db.WithContext(ctx).Model(&model.OnchainDeposit{}).
		Where("id = ? AND status IN ?", depositID, from).
		Update("status", to)
	if res.Error != nil {
		return wrapErr(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

func (s *Store) MarkDepositSwept(ctx context.Context, depositID string) error {
	return s.setDepositStatus(ctx, depositID,
		[]enum.DepositStatus{enum.DepositStatusConfirmed, enum.DepositStatusSweepFailed},
		enum.DepositStatusSwept)
}

func (s *Store) MarkDepositSweepFailed(ctx context.Context, depositID string) error {
	err := s.setDepositStatus(ctx, depositID,
		[]enum.DepositStatus{enum.DepositStatusConfirmed},
		enum.DepositStatusSweepFailed)
	if errors.Is(err, ErrStaleStatus) {
		// already swept or already marked failed; both are fine
		return nil
	}
	return err
}
