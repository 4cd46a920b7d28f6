package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rampline/settlement/pkg/common/enum"
	"github.com/rampline/settlement/pkg/model"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// FiatBalance derives the user's balance as the sum of all ledger entries.
// The append-only rows are the source of truth; balance_after is a carried
// convenience, never an independent state.
func (s *Store) FiatBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.fiatBalanceTx(s.db.WithContext(ctx), userID)
}

func (s *Store) fiatBalanceTx(tx *gorm.DB, userID string) (decimal.Decimal, error) {
	var entries []model.FiatWalletTransaction
	if err := tx.Where("user_id = ?", userID).Find(&entries).Error; err != nil {
		return decimal.Zero, wrapErr(err)
	}

	balance := decimal.Zero
	for _, e := range entries {
		switch e.Type {
		case enum.LedgerEntryCredit:
			balance = balance.Add(e.Amount)
		case enum.LedgerEntryDebit:
			balance = balance.Sub(e.Amount)
		}
	}
	return balance, nil
}

// AppendLedgerEntry appends a credit or debit and returns the new balance.
// The unique (type, reference) index rejects a second application of the same
// payout/withdrawal with ErrDuplicate; debits exceeding the derived balance
// fail with ErrInsufficientBalance and append nothing.
func (s *Store) AppendLedgerEntry(ctx context.Context, entry *model.FiatWalletTransaction) (decimal.Decimal, error) {
	if !entry.Amount.IsPositive() {
		return decimal.Zero, errors.New("ledger amount must be positive")
	}

	var balanceAfter decimal.Decimal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockUserLedger(tx, entry.UserID); err != nil {
			return err
		}

		balance, err := s.fiatBalanceTx(tx, entry.UserID)
		if err != nil {
			return err
		}

		switch entry.Type {
		case enum.LedgerEntryCredit:
			balanceAfter = balance.Add(entry.Amount)
		case enum.LedgerEntryDebit:
			if entry.Amount.GreaterThan(balance) {
				return ErrInsufficientBalance
			}
			balanceAfter = balance.Sub(entry.Amount)
		default:
			return errors.New("unknown ledger entry type")
		}

		entry.BalanceAfter = balanceAfter
		return wrapErr(tx.Create(entry).Error)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balanceAfter, nil
}

// lockUserLedger serializes ledger writes for a user for the duration of the
// surrounding transaction. Under read committed, two concurrent appends would
// otherwise sum the same prior entries and jointly overdraw or record stale
// balance_after values. Postgres takes an advisory transaction lock keyed on
// the user id; sqlite has a single writer and needs nothing extra.
func lockUserLedger(tx *gorm.DB, userID string) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", userID).Error
}

// FindLedgerEntry fetches the entry previously applied for a reference, used
// to answer duplicate applications idempotently.
func (s *Store) FindLedgerEntry(ctx context.Context, entryType enum.LedgerEntryType, reference string) (*model.FiatWalletTransaction, error) {
	var entry model.FiatWalletTransaction
	err := s.db.WithContext(ctx).
		Where("type = ? AND reference = ?", entryType, reference).
		First(&entry).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return &entry, nil
}

// ListLedgerEntries returns a user's ledger history, oldest first.
func (s *Store) ListLedgerEntries(ctx context.Context, userID string) ([]model.FiatWalletTransaction, error) {
	var entries []model.FiatWalletTransaction
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at").
		Find(&entries).Error
	return entries, wrapErr(err)
}
