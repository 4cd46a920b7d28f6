package sponsor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rampline/settlement/internal/chainrpc"
	"github.com/rampline/settlement/internal/config"
	"github.com/rampline/settlement/internal/wallet"
	"github.com/rampline/settlement/pkg/common/logger"
	"github.com/rampline/settlement/pkg/retry"
)

var (
	// ErrInsufficientSponsorBalance means the sponsor wallet sits below its
	// configured floor. A liquidity condition, not a permanent failure: the
	// sweep stays pending and is retried once the treasury is topped up.
	ErrInsufficientSponsorBalance = errors.New("sponsor balance below floor")
	ErrTransferFailed             = errors.New("gas sponsorship transfer failed")
)

const topUpConfirmTimeout = 2 * time.Minute

// Service funds deposit addresses with just enough native balance to cover
// their sweep. One Service per network; it shares the network's serialized
// submitter with the sweep executor.
type Service struct {
	cfg    config.NetworkConfig
	rpc    chainrpc.ChainRPC
	sub    *wallet.Submitter
	logger *slog.Logger
}

func New(cfg config.NetworkConfig, rpc chainrpc.ChainRPC, sub *wallet.Submitter) *Service {
	return &Service{
		cfg:    cfg,
		rpc:    rpc,
		sub:    sub,
		logger: logger.With(slog.String("component", "sponsor"), slog.String("network", cfg.Name)),
	}
}

// SponsorGas sends requiredGas of native balance from the sponsor wallet to
// address and waits until the top-up is confirmed; sweeping before that
// would fail for lack of funds.
func (s *Service) SponsorGas(ctx context.Context, address string, requiredGas decimal.Decimal) (string, error) {
	balance, err := s.rpc.GetBalance(ctx, s.cfg.SponsorWallet, "")
	if err != nil {
		return "", fmt.Errorf("sponsor balance check: %w", err)
	}
	if balance.Sub(requiredGas).LessThan(s.cfg.SponsorFloor) {
		s.logger.Warn("Gas sponsorship refused, sponsor below floor",
			"balance", balance, "required", requiredGas, "floor", s.cfg.SponsorFloor)
		return "", ErrInsufficientSponsorBalance
	}

	txHash, err := s.sub.SubmitTransfer(ctx, wallet.TransferRequest{
		From:   s.cfg.SponsorWallet,
		To:     address,
		Amount: requiredGas,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	s.logger.Info("Gas top-up submitted", "address", address, "amount", requiredGas, "tx_hash", txHash)

	if err := s.waitConfirmed(ctx, txHash); err != nil {
		return txHash, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	return txHash, nil
}

func (s *Service) waitConfirmed(ctx context.Context, txHash string) error {
	return retry.Exponential(ctx, func() error {
		confirmations, err := s.rpc.GetConfirmations(ctx, txHash)
		if err != nil {
			return err
		}
		if confirmations == 0 {
			return fmt.Errorf("tx %s not yet confirmed", txHash)
		}
		return nil
	}, retry.ExponentialConfig{
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  topUpConfirmTimeout,
	})
}
