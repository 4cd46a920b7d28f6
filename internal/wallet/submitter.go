package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/rampline/settlement/internal/chainrpc"
)

// Submitter owns transaction submission for one network's signing identity.
// Blockchain ordering is tied to a strictly increasing per-account nonce, so
// sign-and-submit is serialized here; concurrent sweeps for different
// deposit addresses queue up at this point and nowhere else.
type Submitter struct {
	mu     sync.Mutex
	rpc    chainrpc.ChainRPC
	signer Signer
}

func NewSubmitter(rpc chainrpc.ChainRPC, signer Signer) *Submitter {
	return &Submitter{rpc: rpc, signer: signer}
}

// SubmitTransfer allocates the nonce, signs, and broadcasts under one lock.
func (s *Submitter) SubmitTransfer(ctx context.Context, req TransferRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce, err := s.rpc.GetNonce(ctx, req.From)
	if err != nil {
		return "", fmt.Errorf("get nonce for %s: %w", req.From, err)
	}
	req.Nonce = nonce

	signed, err := s.signer.SignTransfer(req)
	if err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}

	txHash, err := s.rpc.SubmitTransaction(ctx, signed)
	if err != nil {
		return "", fmt.Errorf("submit transfer: %w", err)
	}
	return txHash, nil
}
