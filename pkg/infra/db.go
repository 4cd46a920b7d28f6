package infra

import (
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rampline/settlement/pkg/common/constant"
	"github.com/rampline/settlement/pkg/common/logger"
	"github.com/rampline/settlement/pkg/model"
)

// NewDBConnection opens the settlement database. TranslateError is on so
// unique-violation handling works the same across postgres and sqlite.
func NewDBConnection(dbType, dsn, environment string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbType {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db type: %s", dbType)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	logger.Info("Database connection established", "database", db.Name())

	if environment != constant.EnvProduction {
		// only print debug logs when not in production
		db = db.Debug()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Migrate creates the pipeline tables and their uniqueness indexes.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.DepositAddress{},
		&model.OnchainDeposit{},
		&model.SweepOperation{},
		&model.Quote{},
		&model.Payout{},
		&model.FiatWalletTransaction{},
		&model.BankBeneficiary{},
	)
}
