package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/rampline/settlement/internal/store"
	"github.com/rampline/settlement/pkg/common/enum"
	"github.com/rampline/settlement/pkg/common/logger"
	"github.com/rampline/settlement/pkg/model"
)

// Service is the fiat wallet. Every mutation carries a caller-supplied
// reference; replaying the same (direction, reference) pair returns the
// balance the original application produced instead of moving funds again.
type Service struct {
	st     *store.Store
	logger *slog.Logger
}

func NewService(st *store.Store) *Service {
	return &Service{st: st, logger: logger.With(slog.String("component", "ledger"))}
}

// Credit adds fiat value to a user's wallet and returns the new balance.
func (s *Service) Credit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	return s.apply(ctx, enum.LedgerEntryCredit, userID, amount, reference)
}

// Debit removes fiat value. Fails with store.ErrInsufficientBalance when
// the wallet cannot cover the amount.
func (s *Service) Debit(ctx context.Context, userID string, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	return s.apply(ctx, enum.LedgerEntryDebit, userID, amount, reference)
}

func (s *Service) apply(ctx context.Context, entryType enum.LedgerEntryType, userID string, amount decimal.Decimal, reference string) (decimal.Decimal, error) {
	balance, err := s.st.AppendLedgerEntry(ctx, &model.FiatWalletTransaction{
		UserID:    userID,
		Type:      entryType,
		Amount:    amount,
		Reference: reference,
	})
	if errors.Is(err, store.ErrDuplicate) {
		existing, findErr := s.st.FindLedgerEntry(ctx, entryType, reference)
		if findErr != nil {
			return decimal.Zero, findErr
		}
		s.logger.Debug("Ledger entry already applied",
			"type", entryType, "reference", reference, "user_id", existing.UserID)
		return existing.BalanceAfter, nil
	}
	if err != nil {
		return decimal.Zero, err
	}

	s.logger.Info("Ledger entry applied",
		"type", entryType, "user_id", userID, "amount", amount,
		"reference", reference, "balance_after", balance)
	return balance, nil
}

// Balance returns the wallet balance derived from the full ledger history.
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	return s.st.FiatBalance(ctx, userID)
}

// History returns a user's ledger entries, oldest first.
func (s *Service) History(ctx context.Context, userID string) ([]model.FiatWalletTransaction, error) {
	return s.st.ListLedgerEntries(ctx, userID)
}
