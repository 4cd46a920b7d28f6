package model

import (
	"github.com/shopspring/decimal"

	"github.com/rampline/settlement/pkg/common/enum"
)

// DepositAddress is a per-(user, network, asset) receiving address. The
// custodial wallet id is filled in asynchronously by provisioning.
type DepositAddress struct {
	BaseModel
	UserID            string  `gorm:"not null;type:uuid;uniqueIndex:idx_user_network_asset" json:"user_id"`
	Network           string  `gorm:"not null;type:varchar(32);uniqueIndex:idx_user_network_asset;index:idx_address_network" json:"network"`
	AssetSymbol       string  `gorm:"not null;type:varchar(16);uniqueIndex:idx_user_network_asset" json:"asset_symbol"`
	Address           string  `gorm:"not null;type:varchar(255);index:idx_address_network" json:"address"`
	CustodialWalletID *string `gorm:"type:varchar(255)" json:"custodial_wallet_id"`
}

// OnchainDeposit records one observed transfer into a deposit address.
// (network, tx_hash, to_address) is the natural key; re-observation of the
// same transfer must hit the unique index, never create a second row.
type OnchainDeposit struct {
	BaseModel
	Network       string             `gorm:"not null;type:varchar(32);uniqueIndex:idx_deposit_natural" json:"network"`
	Asset         string             `gorm:"not null;type:varchar(16)" json:"asset"`
	AssetAddress  string             `gorm:"type:varchar(255)" json:"asset_address"`
	TxHash        string             `gorm:"not null;type:varchar(128);uniqueIndex:idx_deposit_natural" json:"tx_hash"`
	ToAddress     string             `gorm:"not null;type:varchar(255);uniqueIndex:idx_deposit_natural" json:"to_address"`
	Amount        decimal.Decimal    `gorm:"not null;type:decimal(38,18)" json:"amount"`
	BlockHeight   uint64             `gorm:"not null" json:"block_height"`
	Confirmations uint64             `gorm:"not null;default:0" json:"confirmations"`
	Status        enum.DepositStatus `gorm:"not null;type:varchar(16);index" json:"status"`
}

// SweepOperation tracks moving a confirmed deposit into custody. The unique
// index on deposit_id is what makes a double-sweep impossible.
type SweepOperation struct {
	BaseModel
	DepositID        string           `gorm:"not null;type:uuid;uniqueIndex" json:"deposit_id"`
	GasSponsorTxHash *string          `gorm:"type:varchar(128)" json:"gas_sponsor_tx_hash"`
	SweepTxHash      *string          `gorm:"type:varchar(128)" json:"sweep_tx_hash"`
	Status           enum.SweepStatus `gorm:"not null;type:varchar(16);index" json:"status"`
}
