package offramp

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rampline/settlement/internal/config"
	"github.com/rampline/settlement/internal/provider"
	"github.com/rampline/settlement/internal/store"
	"github.com/rampline/settlement/pkg/common/enum"
	"github.com/rampline/settlement/pkg/infra"
)

type fakeProvider struct {
	rate        decimal.Decimal
	quoteTTL    time.Duration
	submitErr   error
	ackStatus   string
	submits     int
	lastQuote   string
	statusByRef map[string]string
}

func (f *fakeProvider) CreateQuote(_ context.Context, _ string, amount decimal.Decimal, _ string) (*provider.QuoteResponse, error) {
	ttl := f.quoteTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &provider.QuoteResponse{
		QuoteID:    "pq_" + uuid.NewString(),
		Rate:       f.rate,
		FiatAmount: amount.Mul(f.rate),
		ExpiresAt:  time.Now().Add(ttl),
	}, nil
}

func (f *fakeProvider) SubmitPayout(_ context.Context, quoteID, _ string) (*provider.PayoutAck, error) {
	f.submits++
	f.lastQuote = quoteID
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	status := f.ackStatus
	if status == "" {
		status = provider.StatePending
	}
	return &provider.PayoutAck{ProviderReference: "ref_" + uuid.NewString(), Status: status}, nil
}

func (f *fakeProvider) GetPayoutStatus(_ context.Context, ref string) (string, error) {
	if s, ok := f.statusByRef[ref]; ok {
		return s, nil
	}
	return provider.StateProcessing, nil
}

func (f *fakeProvider) CreateBeneficiary(_ context.Context, _, _ string) (string, error) {
	return "ben_" + uuid.NewString(), nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, infra.Migrate(db))
	return store.New(db)
}

func testFees() config.FeeSchedule {
	return config.FeeSchedule{
		Percent: decimal.RequireFromString("1.0"),
		Min:     decimal.RequireFromString("100"),
		Max:     decimal.RequireFromString("50000"),
	}
}

func TestRequestQuote_FeeMath(t *testing.T) {
	st := newTestStore(t)
	prov := &fakeProvider{rate: decimal.RequireFromString("1550")}
	svc := NewService(st, prov, testFees(), "NGN")

	// 100 USDC at 1550 NGN/USDC, 1% fee: 155,000 gross, 1,550 fee
	quote, err := svc.RequestQuote(context.Background(), uuid.NewString(), "USDC", decimal.RequireFromString("100"))
	require.NoError(t, err)

	assert.Equal(t, "NGN", quote.FiatCurrency)
	assert.True(t, quote.FeeAmount.Equal(decimal.RequireFromString("1550")), "fee was %s", quote.FeeAmount)
	assert.True(t, quote.FiatAmount.Equal(decimal.RequireFromString("153450")), "fiat was %s", quote.FiatAmount)
	assert.NotEmpty(t, quote.ProviderQuoteID)
}

func TestFeeScheduleClamps(t *testing.T) {
	fees := testFees()

	// 1% of 1,000 is 10, below the 100 minimum
	assert.True(t, fees.Apply(decimal.RequireFromString("1000")).Equal(decimal.RequireFromString("100")))

	// 1% of 10,000,000 is 100,000, above the 50,000 cap
	assert.True(t, fees.Apply(decimal.RequireFromString("10000000")).Equal(decimal.RequireFromString("50000")))

	// the fee never exceeds the gross amount itself
	assert.True(t, fees.Apply(decimal.RequireFromString("50")).Equal(decimal.RequireFromString("50")))
}

func TestRequestQuote_RejectsNonPositiveAmount(t *testing.T) {
	svc := NewService(newTestStore(t), &fakeProvider{rate: decimal.New(1, 0)}, testFees(), "NGN")

	_, err := svc.RequestQuote(context.Background(), uuid.NewString(), "USDC", decimal.Zero)
	assert.Error(t, err)
}

func TestExecutePayout_HappyPath(t *testing.T) {
	st := newTestStore(t)
	prov := &fakeProvider{rate: decimal.RequireFromString("1550")}
	svc := NewService(st, prov, testFees(), "NGN")
	ctx := context.Background()

	userID := uuid.NewString()
	quote, err := svc.RequestQuote(ctx, userID, "USDC", decimal.RequireFromString("100"))
	require.NoError(t, err)

	ben, err := svc.RegisterBeneficiary(ctx, userID, "058", "0123456789")
	require.NoError(t, err)

	payout, err := svc.ExecutePayout(ctx, quote.ID, ben.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.PayoutStatusProcessing, payout.Status)
	assert.NotEmpty(t, payout.ProviderReference)
	assert.True(t, payout.Amount.Equal(quote.FiatAmount))
	assert.Equal(t, quote.ProviderQuoteID, prov.lastQuote)
}

func TestExecutePayout_ExpiredQuote(t *testing.T) {
	st := newTestStore(t)
	prov := &fakeProvider{rate: decimal.New(1, 0), quoteTTL: -time.Minute}
	svc := NewService(st, prov, testFees(), "NGN")
	ctx := context.Background()

	userID := uuid.NewString()
	quote, err := svc.RequestQuote(ctx, userID, "USDC", decimal.RequireFromString("100"))
	require.NoError(t, err)
	ben, err := svc.RegisterBeneficiary(ctx, userID, "058", "0123456789")
	require.NoError(t, err)

	_, err = svc.ExecutePayout(ctx, quote.ID, ben.ID)
	assert.ErrorIs(t, err, ErrQuoteExpired)
	assert.Zero(t, prov.submits)
}

func TestExecutePayout_QuoteConsumedOnce(t *testing.T) {
	st := newTestStore(t)
	prov := &fakeProvider{rate: decimal.New(1, 0)}
	svc := NewService(st, prov, testFees(), "NGN")
	ctx := context.Background()

	userID := uuid.NewString()
	quote, err := svc.RequestQuote(ctx, userID, "USDC", decimal.RequireFromString("100"))
	require.NoError(t, err)
	ben, err := svc.RegisterBeneficiary(ctx, userID, "058", "0123456789")
	require.NoError(t, err)

	_, err = svc.ExecutePayout(ctx, quote.ID, ben.ID)
	require.NoError(t, err)

	_, err = svc.ExecutePayout(ctx, quote.ID, ben.ID)
	assert.ErrorIs(t, err, store.ErrQuoteConsumed)
	assert.Equal(t, 1, prov.submits)
}

func TestExecutePayout_UnverifiedBeneficiary(t *testing.T) {
	st := newTestStore(t)
	prov := &fakeProvider{rate: decimal.New(1, 0)}
	svc := NewService(st, prov, testFees(), "NGN")
	ctx := context.Background()

	userID := uuid.NewString()
	quote, err := svc.RequestQuote(ctx, userID, "USDC", decimal.RequireFromString("100"))
	require.NoError(t, err)

	ben, err := svc.RegisterBeneficiary(ctx, userID, "058", "0123456789")
	require.NoError(t, err)
	require.NoError(t, st.DB().Model(ben).Update("verified", false).Error)

	_, err = svc.ExecutePayout(ctx, quote.ID, ben.ID)
	assert.ErrorIs(t, err, ErrBeneficiaryUnverified)
}

func TestExecutePayout_TerminalRejectionFailsPayout(t *testing.T) {
	st := newTestStore(t)
	prov := &fakeProvider{rate: decimal.New(1, 0), submitErr: provider.ErrUnsupportedAsset}
	svc := NewService(st, prov, testFees(), "NGN")
	ctx := context.Background()

	userID := uuid.NewString()
	quote, err := svc.RequestQuote(ctx, userID, "USDC", decimal.RequireFromString("100"))
	require.NoError(t, err)
	ben, err := svc.RegisterBeneficiary(ctx, userID, "058", "0123456789")
	require.NoError(t, err)

	payout, err := svc.ExecutePayout(ctx, quote.ID, ben.ID)
	assert.ErrorIs(t, err, provider.ErrUnsupportedAsset)
	require.NotNil(t, payout)

	got, getErr := st.GetPayout(ctx, payout.ID)
	require.NoError(t, getErr)
	assert.Equal(t, enum.PayoutStatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
}

func TestRetrySubmission_ResubmitsOnlyUnsubmitted(t *testing.T) {
	st := newTestStore(t)
	prov := &fakeProvider{rate: decimal.New(1, 0), submitErr: provider.ErrUnavailable}
	svc := NewService(st, prov, testFees(), "NGN")
	ctx := context.Background()

	userID := uuid.NewString()
	quote, err := svc.RequestQuote(ctx, userID, "USDC", decimal.RequireFromString("100"))
	require.NoError(t, err)
	ben, err := svc.RegisterBeneficiary(ctx, userID, "058", "0123456789")
	require.NoError(t, err)

	// provider down: a pending payout exists without a reference
	payout, err := svc.ExecutePayout(ctx, quote.ID, ben.ID)
	assert.ErrorIs(t, err, provider.ErrUnavailable)
	require.NotNil(t, payout)

	prov.submitErr = nil
	retried, err := svc.RetrySubmission(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, enum.PayoutStatusProcessing, retried.Status)
	assert.NotEmpty(t, retried.ProviderReference)

	// already submitted: no second call to the provider
	before := prov.submits
	again, err := svc.RetrySubmission(ctx, payout.ID)
	require.NoError(t, err)
	assert.Equal(t, retried.ProviderReference, again.ProviderReference)
	assert.Equal(t, before, prov.submits)
}
