package chainrpc

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/rampline/settlement/internal/config"
	"github.com/rampline/settlement/pkg/common/enum"
)

// ChainRPC is the per-network RPC interface the pipeline depends on. Every
// call may time out or error and is expected to be retried by the caller.
type ChainRPC interface {
	GetName() string

	// GetTransfersTo returns transfers into address at or above minHeight.
	GetTransfersTo(ctx context.Context, address string, minHeight uint64) ([]Transfer, error)
	// GetBalance returns the token balance held by address. assetAddress is
	// the token contract; empty means the native asset.
	GetBalance(ctx context.Context, address, assetAddress string) (decimal.Decimal, error)
	// SubmitTransaction broadcasts a signed transaction and returns its hash.
	SubmitTransaction(ctx context.Context, signedTx string) (string, error)
	// GetConfirmations returns how many blocks have been built on top of the
	// block containing txHash. Zero means the transaction is still unconfirmed.
	GetConfirmations(ctx context.Context, txHash string) (uint64, error)
	GetLatestHeight(ctx context.Context) (uint64, error)
	// EstimateTransferCost estimates the native-asset cost of a token
	// transfer from address (gas limit times current gas price).
	EstimateTransferCost(ctx context.Context, from, to, assetAddress string) (decimal.Decimal, error)
	// GetNonce returns the next transaction sequence number for address.
	GetNonce(ctx context.Context, address string) (uint64, error)

	IsHealthy(ctx context.Context) bool
	Close() error
}

// New constructs a ChainRPC for a configured network.
func New(cfg config.NetworkConfig) (ChainRPC, error) {
	switch cfg.Kind {
	case enum.NetworkKindEVM:
		return NewEVMClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported network kind: %s", cfg.Kind)
	}
}
