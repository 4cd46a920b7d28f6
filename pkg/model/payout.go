package model

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rampline/settlement/pkg/common/enum"
)

// Quote is a time-bounded, single-use conversion offer. Immutable once issued;
// single use is enforced by the unique quote_id on Payout.
type Quote struct {
	BaseModel
	UserID          string          `gorm:"not null;type:uuid;index" json:"user_id"`
	CryptoAsset     string          `gorm:"not null;type:varchar(16)" json:"crypto_asset"`
	CryptoAmount    decimal.Decimal `gorm:"not null;type:decimal(38,18)" json:"crypto_amount"`
	FiatCurrency    string          `gorm:"not null;type:varchar(8)" json:"fiat_currency"`
	FiatAmount      decimal.Decimal `gorm:"not null;type:decimal(38,2)" json:"fiat_amount"`
	FeeAmount       decimal.Decimal `gorm:"not null;type:decimal(38,2)" json:"fee_amount"`
	Rate            decimal.Decimal `gorm:"not null;type:decimal(38,8)" json:"rate"`
	ProviderQuoteID string          `gorm:"not null;type:varchar(128)" json:"provider_quote_id"`
	ExpiresAt       time.Time       `gorm:"not null" json:"expires_at"`
}

func (q *Quote) Expired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

type Payout struct {
	BaseModel
	QuoteID           string            `gorm:"not null;type:uuid;uniqueIndex" json:"quote_id"`
	BeneficiaryID     string            `gorm:"not null;type:uuid" json:"beneficiary_id"`
	ProviderReference string            `gorm:"type:varchar(128);index" json:"provider_reference"`
	Status            enum.PayoutStatus `gorm:"not null;type:varchar(16);index" json:"status"`
	Amount            decimal.Decimal   `gorm:"not null;type:decimal(38,2)" json:"amount"`
	SubmitAttempts    int               `gorm:"not null;default:0" json:"submit_attempts"`
	FailureReason     *string           `gorm:"type:varchar(512)" json:"failure_reason"`
}

// FiatWalletTransaction is an append-only ledger entry. Balance is the running
// sum carried in balance_after; rows are never mutated in place. The unique
// (type, reference) index gives at-most-once application per payout/withdrawal.
type FiatWalletTransaction struct {
	BaseModel
	UserID       string               `gorm:"not null;type:uuid;index" json:"user_id"`
	Type         enum.LedgerEntryType `gorm:"not null;type:varchar(8);uniqueIndex:idx_ledger_reference" json:"type"`
	Amount       decimal.Decimal      `gorm:"not null;type:decimal(38,2)" json:"amount"`
	Reference    string               `gorm:"not null;type:varchar(128);uniqueIndex:idx_ledger_reference" json:"reference"`
	BalanceAfter decimal.Decimal      `gorm:"not null;type:decimal(38,2)" json:"balance_after"`
}

type BankBeneficiary struct {
	BaseModel
	UserID                string `gorm:"not null;type:uuid;index" json:"user_id"`
	BankCode              string `gorm:"not null;type:varchar(16)" json:"bank_code"`
	AccountNumber         string `gorm:"not null;type:varchar(32)" json:"account_number"`
	ProviderBeneficiaryID string `gorm:"not null;type:varchar(128)" json:"provider_beneficiary_id"`
	Verified              bool   `gorm:"not null;default:false" json:"verified"`
}
