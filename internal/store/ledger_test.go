package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampline/settlement/pkg/common/enum"
	"github.com/rampline/settlement/pkg/model"
)

func TestAppendLedgerEntry_BalanceIsSumOfEntries(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	userID := uuid.NewString()

	credit := func(amount, ref string) decimal.Decimal {
		bal, err := st.AppendLedgerEntry(ctx, &model.FiatWalletTransaction{
			UserID:    userID,
			Type:      enum.LedgerEntryCredit,
			Amount:    decimal.RequireFromString(amount),
			Reference: ref,
		})
		require.NoError(t, err)
		return bal
	}

	assert.True(t, credit("1000", "p1").Equal(decimal.RequireFromString("1000")))
	assert.True(t, credit("250.50", "p2").Equal(decimal.RequireFromString("1250.50")))

	bal, err := st.AppendLedgerEntry(ctx, &model.FiatWalletTransaction{
		UserID:    userID,
		Type:      enum.LedgerEntryDebit,
		Amount:    decimal.RequireFromString("200"),
		Reference: "w1",
	})
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("1050.50")))

	derived, err := st.FiatBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, derived.Equal(decimal.RequireFromString("1050.50")))
}

func TestAppendLedgerEntry_DuplicateReferenceRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	userID := uuid.NewString()

	entry := func() *model.FiatWalletTransaction {
		return &model.FiatWalletTransaction{
			UserID:    userID,
			Type:      enum.LedgerEntryCredit,
			Amount:    decimal.RequireFromString("500"),
			Reference: "payout-1",
		}
	}

	_, err := st.AppendLedgerEntry(ctx, entry())
	require.NoError(t, err)

	_, err = st.AppendLedgerEntry(ctx, entry())
	assert.ErrorIs(t, err, ErrDuplicate)

	// nothing was applied twice
	bal, err := st.FiatBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("500")))
}

func TestAppendLedgerEntry_DebitCannotOverdraw(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	userID := uuid.NewString()

	_, err := st.AppendLedgerEntry(ctx, &model.FiatWalletTransaction{
		UserID:    userID,
		Type:      enum.LedgerEntryCredit,
		Amount:    decimal.RequireFromString("100"),
		Reference: "p1",
	})
	require.NoError(t, err)

	_, err = st.AppendLedgerEntry(ctx, &model.FiatWalletTransaction{
		UserID:    userID,
		Type:      enum.LedgerEntryDebit,
		Amount:    decimal.RequireFromString("100.01"),
		Reference: "w1",
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	// the failed debit appended nothing
	entries, err := st.ListLedgerEntries(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAppendLedgerEntry_RejectsNonPositiveAmount(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	_, err := st.AppendLedgerEntry(ctx, &model.FiatWalletTransaction{
		UserID:    uuid.NewString(),
		Type:      enum.LedgerEntryCredit,
		Amount:    decimal.Zero,
		Reference: "z",
	})
	assert.Error(t, err)
}

func TestAppendLedgerEntry_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	userID := uuid.NewString()

	_, err := st.AppendLedgerEntry(ctx, &model.FiatWalletTransaction{
		UserID:    userID,
		Type:      enum.LedgerEntryCredit,
		Amount:    decimal.RequireFromString("300"),
		Reference: "seed",
	})
	require.NoError(t, err)

	// ten racing debits of 100 against a balance of 300: exactly three may
	// land, the rest must fail the balance guard instead of overdrawing
	const attempts = 10
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := st.AppendLedgerEntry(ctx, &model.FiatWalletTransaction{
				UserID:    userID,
				Type:      enum.LedgerEntryDebit,
				Amount:    decimal.RequireFromString("100"),
				Reference: fmt.Sprintf("w%d", n),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	applied := 0
	for err := range errs {
		if err == nil {
			applied++
		} else {
			require.ErrorIs(t, err, ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 3, applied)

	bal, err := st.FiatBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())

	// balance_after carries a consistent running sum across the entries
	entries, err := st.ListLedgerEntries(ctx, userID)
	require.NoError(t, err)
	running := decimal.Zero
	for _, e := range entries {
		switch e.Type {
		case enum.LedgerEntryCredit:
			running = running.Add(e.Amount)
		case enum.LedgerEntryDebit:
			running = running.Sub(e.Amount)
		}
		assert.False(t, running.IsNegative())
	}
}

func TestSameReferenceDifferentDirection_IsAllowed(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	userID := uuid.NewString()

	_, err := st.AppendLedgerEntry(ctx, &model.FiatWalletTransaction{
		UserID:    userID,
		Type:      enum.LedgerEntryCredit,
		Amount:    decimal.RequireFromString("100"),
		Reference: "ref",
	})
	require.NoError(t, err)

	_, err = st.AppendLedgerEntry(ctx, &model.FiatWalletTransaction{
		UserID:    userID,
		Type:      enum.LedgerEntryDebit,
		Amount:    decimal.RequireFromString("40"),
		Reference: "ref",
	})
	require.NoError(t, err)

	bal, err := st.FiatBalance(ctx, userID)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("60")))
}
