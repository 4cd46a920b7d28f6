package offramp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rampline/settlement/internal/config"
	"github.com/rampline/settlement/internal/provider"
	"github.com/rampline/settlement/internal/store"
	"github.com/rampline/settlement/pkg/common/enum"
	"github.com/rampline/settlement/pkg/common/logger"
	"github.com/rampline/settlement/pkg/model"
)

var (
	ErrQuoteExpired          = errors.New("quote expired")
	ErrBeneficiaryUnverified = errors.New("beneficiary not verified")
)

// Service converts confirmed crypto value into fiat payouts: it issues
// quotes against the provider's rate and executes a quote exactly once.
type Service struct {
	st     *store.Store
	prov   provider.Provider
	fees   config.FeeSchedule
	fiat   string
	now    func() time.Time
	logger *slog.Logger
}

func NewService(st *store.Store, prov provider.Provider, fees config.FeeSchedule, fiatCurrency string) *Service {
	return &Service{
		st:     st,
		prov:   prov,
		fees:   fees,
		fiat:   fiatCurrency,
		now:    time.Now,
		logger: logger.With(slog.String("component", "offramp")),
	}
}

// RequestQuote obtains the provider's conversion rate and persists a
// time-bounded offer with the platform fee already taken out. The returned
// quote's fiat amount is exactly what the user will be credited.
func (s *Service) RequestQuote(ctx context.Context, userID, asset string, amount decimal.Decimal) (*model.Quote, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("quote amount must be positive, got %s", amount)
	}

	resp, err := s.prov.CreateQuote(ctx, asset, amount, s.fiat)
	if err != nil {
		return nil, fmt.Errorf("provider quote: %w", err)
	}

	gross := amount.Mul(resp.Rate)
	fee := s.fees.Apply(gross)
	fiat := gross.Sub(fee)

	quote := &model.Quote{
		UserID:          userID,
		CryptoAsset:     asset,
		CryptoAmount:    amount,
		FiatCurrency:    s.fiat,
		FiatAmount:      fiat,
		FeeAmount:       fee,
		Rate:            resp.Rate,
		ProviderQuoteID: resp.QuoteID,
		ExpiresAt:       resp.ExpiresAt,
	}
	if err := s.st.CreateQuote(ctx, quote); err != nil {
		return nil, err
	}

	s.logger.Info("Quote issued",
		"quote_id", quote.ID, "user_id", userID, "asset", asset,
		"amount", amount, "rate", resp.Rate, "fiat", fiat, "fee", fee)
	return quote, nil
}

// ExecutePayout consumes a quote and hands it to the provider. The payout
// row is created before submission so a crash between the two leaves a
// pending payout the reconciler can pick up, never a double submission.
func (s *Service) ExecutePayout(ctx context.Context, quoteID, beneficiaryID string) (*model.Payout, error) {
	quote, err := s.st.GetQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if quote.Expired(s.now()) {
		return nil, ErrQuoteExpired
	}

	ben, err := s.st.GetBeneficiary(ctx, beneficiaryID)
	if err != nil {
		return nil, err
	}
	if !ben.Verified {
		return nil, ErrBeneficiaryUnverified
	}

	payout := &model.Payout{
		QuoteID:       quote.ID,
		BeneficiaryID: ben.ID,
		Status:        enum.PayoutStatusPending,
		Amount:        quote.FiatAmount,
	}
	if err := s.st.CreatePayout(ctx, payout); err != nil {
		return nil, err
	}

	ack, err := s.prov.SubmitPayout(ctx, quote.ProviderQuoteID, ben.ProviderBeneficiaryID)
	if err != nil {
		if errors.Is(err, provider.ErrUnsupportedAsset) || errors.Is(err, provider.ErrUnauthorized) {
			// terminal rejection at submission; the quote stays consumed
			reason := err.Error()
			if rErr := s.st.ResolvePayout(ctx, payout.ID, enum.PayoutStatusFailed, &reason); rErr != nil {
				s.logger.Error("Failed to record payout rejection", "payout_id", payout.ID, "error", rErr)
			}
			payout.Status = enum.PayoutStatusFailed
			payout.FailureReason = &reason
			return payout, err
		}
		// transient: leave pending without a reference; the reconciler
		// drives it through RetrySubmission, and a retried ExecutePayout
		// hits ErrQuoteConsumed instead of double-submitting
		return payout, fmt.Errorf("submit payout: %w", err)
	}

	status := enum.PayoutStatusProcessing
	if ack.Status == provider.StateFailed {
		status = enum.PayoutStatusFailed
	}
	if err := s.st.SetPayoutSubmitted(ctx, payout.ID, ack.ProviderReference, status); err != nil {
		return nil, err
	}
	payout.ProviderReference = ack.ProviderReference
	payout.Status = status

	s.logger.Info("Payout submitted",
		"payout_id", payout.ID, "quote_id", quote.ID,
		"provider_reference", ack.ProviderReference, "status", status)
	return payout, nil
}

// RetrySubmission resubmits a payout that never reached the provider. Safe
// to call on any payout: one that already holds a provider reference is
// returned untouched.
func (s *Service) RetrySubmission(ctx context.Context, payoutID string) (*model.Payout, error) {
	payout, err := s.st.GetPayout(ctx, payoutID)
	if err != nil {
		return nil, err
	}
	if payout.Status != enum.PayoutStatusPending || payout.ProviderReference != "" {
		return payout, nil
	}

	quote, err := s.st.GetQuote(ctx, payout.QuoteID)
	if err != nil {
		return nil, err
	}
	ben, err := s.st.GetBeneficiary(ctx, payout.BeneficiaryID)
	if err != nil {
		return nil, err
	}

	ack, err := s.prov.SubmitPayout(ctx, quote.ProviderQuoteID, ben.ProviderBeneficiaryID)
	if err != nil {
		return payout, fmt.Errorf("submit payout: %w", err)
	}

	status := enum.PayoutStatusProcessing
	if ack.Status == provider.StateFailed {
		status = enum.PayoutStatusFailed
	}
	if err := s.st.SetPayoutSubmitted(ctx, payout.ID, ack.ProviderReference, status); err != nil {
		return nil, err
	}
	payout.ProviderReference = ack.ProviderReference
	payout.Status = status
	return payout, nil
}

// RegisterBeneficiary creates the bank destination with the provider and
// records it. Verification is reported by the provider at creation time in
// this integration, so the row is stored verified.
func (s *Service) RegisterBeneficiary(ctx context.Context, userID, bankCode, accountNumber string) (*model.BankBeneficiary, error) {
	providerID, err := s.prov.CreateBeneficiary(ctx, bankCode, accountNumber)
	if err != nil {
		return nil, fmt.Errorf("provider beneficiary: %w", err)
	}

	ben := &model.BankBeneficiary{
		UserID:                userID,
		BankCode:              bankCode,
		AccountNumber:         accountNumber,
		ProviderBeneficiaryID: providerID,
		Verified:              true,
	}
	if err := s.st.CreateBeneficiary(ctx, ben); err != nil {
		return nil, err
	}
	return ben, nil
}
