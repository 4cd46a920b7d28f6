package wallet

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampline/settlement/internal/chainrpc"
)

// nonceRPC hands out strictly increasing nonces and records the order in
// which signed transactions arrive.
type nonceRPC struct {
	mu        sync.Mutex
	nonce     uint64
	submitted []string
}

func (f *nonceRPC) GetName() string { return "test" }

func (f *nonceRPC) GetTransfersTo(context.Context, string, uint64) ([]chainrpc.Transfer, error) {
	return nil, nil
}

func (f *nonceRPC) GetBalance(context.Context, string, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *nonceRPC) SubmitTransaction(_ context.Context, signedTx string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, signedTx)
	return fmt.Sprintf("0xtx%d", len(f.submitted)), nil
}

func (f *nonceRPC) GetConfirmations(context.Context, string) (uint64, error) { return 1, nil }
func (f *nonceRPC) GetLatestHeight(context.Context) (uint64, error)          { return 0, nil }

func (f *nonceRPC) EstimateTransferCost(context.Context, string, string, string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *nonceRPC) GetNonce(context.Context, string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.nonce
	f.nonce++
	return n, nil
}

func (f *nonceRPC) IsHealthy(context.Context) bool { return true }
func (f *nonceRPC) Close() error                   { return nil }

func TestLocalSigner_Deterministic(t *testing.T) {
	signer := NewLocalSigner("secret")
	req := TransferRequest{
		From:   "0xa",
		To:     "0xb",
		Amount: decimal.RequireFromString("1.5"),
		Nonce:  3,
	}

	first, err := signer.SignTransfer(req)
	require.NoError(t, err)
	second, err := signer.SignTransfer(req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	req.Nonce = 4
	third, err := signer.SignTransfer(req)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestSubmitTransfer_ConcurrentCallersGetDistinctNonces(t *testing.T) {
	rpc := &nonceRPC{}
	sub := NewSubmitter(rpc, NewLocalSigner("secret"))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sub.SubmitTransfer(ctx, TransferRequest{
				From:   "0xdeposit",
				To:     "0xcustody",
				Amount: decimal.New(1, 0),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, rpc.submitted, 10)
	// every submitted payload is distinct because each carries its own nonce
	seen := make(map[string]struct{})
	for _, tx := range rpc.submitted {
		seen[tx] = struct{}{}
	}
	assert.Len(t, seen, 10)
}
