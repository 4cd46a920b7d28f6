package chainrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rampline/settlement/internal/config"
	"github.com/rampline/settlement/pkg/ratelimiter"
)

// erc20BalanceOfSelector is the 4-byte selector of balanceOf(address).
const erc20BalanceOfSelector = "0x70a08231"

// tokenTransferGasFallback is used when eth_estimateGas is unavailable.
const tokenTransferGasFallback = 65000

// EVMClient talks to EVM-dialect networks. Deposit candidate listing is
// served by the indexing gateway deployed in front of the nodes
// (idx_getTransfersTo); everything else is standard JSON-RPC.
type EVMClient struct {
	*baseClient
	name string
}

func NewEVMClient(cfg config.NetworkConfig) (*EVMClient, error) {
	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("network %s: no nodes configured", cfg.Name)
	}

	nodes := make([]string, 0, len(cfg.Nodes))
	apiKeys := make(map[string]string, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		url := strings.TrimSuffix(n.URL, "/")
		nodes = append(nodes, url)
		if n.APIKey != "" {
			apiKeys[url] = n.APIKey
		}
	}

	var rl *ratelimiter.PooledRateLimiter
	if cfg.Client.Throttle.RPS > 0 {
		rate := time.Second / time.Duration(cfg.Client.Throttle.RPS)
		burst := cfg.Client.Throttle.Burst
		if burst <= 0 {
			burst = cfg.Client.Throttle.RPS
		}
		rl = ratelimiter.NewPooledRateLimiter(rate, burst)
	}

	return &EVMClient{
		baseClient: newBaseClient(nodes, apiKeys, cfg.Client.Timeout, rl),
		name:       cfg.Name,
	}, nil
}

func (c *EVMClient) GetName() string {
	return c.name
}

func (c *EVMClient) GetTransfersTo(ctx context.Context, address string, minHeight uint64) ([]Transfer, error) {
	resp, err := c.CallRPC(ctx, "idx_getTransfersTo", []any{address, hexUint(minHeight)})
	if err != nil {
		return nil, fmt.Errorf("idx_getTransfersTo failed: %w", err)
	}

	var transfers []Transfer
	if err := json.Unmarshal(resp.Result, &transfers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transfers: %w", err)
	}
	return transfers, nil
}

func (c *EVMClient) GetBalance(ctx context.Context, address, assetAddress string) (decimal.Decimal, error) {
	if assetAddress == "" {
		resp, err := c.CallRPC(ctx, "eth_getBalance", []any{address, "latest"})
		if err != nil {
			return decimal.Zero, fmt.Errorf("eth_getBalance failed: %w", err)
		}
		return hexResultToDecimal(resp.Result)
	}

	// ERC-20 balanceOf(address) via eth_call
	padded, err := leftPadAddress(address)
	if err != nil {
		return decimal.Zero, err
	}
	data := erc20BalanceOfSelector + padded
	call := map[string]string{"to": assetAddress, "data": data}
	resp, err := c.CallRPC(ctx, "eth_call", []any{call, "latest"})
	if err != nil {
		return decimal.Zero, fmt.Errorf("eth_call balanceOf failed: %w", err)
	}
	return hexResultToDecimal(resp.Result)
}

func (c *EVMClient) SubmitTransaction(ctx context.Context, signedTx string) (string, error) {
	resp, err := c.CallRPC(ctx, "eth_sendRawTransaction", []any{signedTx})
	if err != nil {
		return "", fmt.Errorf("eth_sendRawTransaction failed: %w", err)
	}

	var txHash string
	if err := json.Unmarshal(resp.Result, &txHash); err != nil {
		return "", fmt.Errorf("failed to unmarshal tx hash: %w", err)
	}
	return txHash, nil
}

func (c *EVMClient) GetConfirmations(ctx context.Context, txHash string) (uint64, error) {
	resp, err := c.CallRPC(ctx, "eth_getTransactionReceipt", []any{txHash})
	if err != nil {
		return 0, fmt.Errorf("eth_getTransactionReceipt failed: %w", err)
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		// not yet mined
		return 0, nil
	}

	var receipt struct {
		BlockNumber string `json:"blockNumber"`
	}
	if err := json.Unmarshal(resp.Result, &receipt); err != nil {
		return 0, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	if receipt.BlockNumber == "" {
		return 0, nil
	}

	minedAt, err := hexToUint64(receipt.BlockNumber)
	if err != nil {
		return 0, err
	}
	latest, err := c.GetLatestHeight(ctx)
	if err != nil {
		return 0, err
	}
	if latest < minedAt {
		return 0, nil
	}
	return latest - minedAt + 1, nil
}

func (c *EVMClient) GetLatestHeight(ctx context.Context) (uint64, error) {
	resp, err := c.CallRPC(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}

	var blockHex string
	if err := json.Unmarshal(resp.Result, &blockHex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal block number: %w", err)
	}
	return hexToUint64(blockHex)
}

func (c *EVMClient) EstimateTransferCost(ctx context.Context, from, to, assetAddress string) (decimal.Decimal, error) {
	priceResp, err := c.CallRPC(ctx, "eth_gasPrice", nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("eth_gasPrice failed: %w", err)
	}
	gasPrice, err := hexResultToDecimal(priceResp.Result)
	if err != nil {
		return decimal.Zero, err
	}

	gasLimit := decimal.NewFromInt(tokenTransferGasFallback)
	call := map[string]string{"from": from, "to": assetAddress}
	if assetAddress == "" {
		call["to"] = to
	}
	if resp, err := c.CallRPC(ctx, "eth_estimateGas", []any{call}); err == nil {
		if est, err := hexResultToDecimal(resp.Result); err == nil && est.IsPositive() {
			gasLimit = est
		}
	}

	return gasPrice.Mul(gasLimit), nil
}

func (c *EVMClient) GetNonce(ctx context.Context, address string) (uint64, error) {
	resp, err := c.CallRPC(ctx, "eth_getTransactionCount", []any{address, "pending"})
	if err != nil {
		return 0, fmt.Errorf("eth_getTransactionCount failed: %w", err)
	}

	var nonceHex string
	if err := json.Unmarshal(resp.Result, &nonceHex); err != nil {
		return 0, fmt.Errorf("failed to unmarshal nonce: %w", err)
	}
	return hexToUint64(nonceHex)
}

func (c *EVMClient) IsHealthy(ctx context.Context) bool {
	_, err := c.GetLatestHeight(ctx)
	return err == nil
}

func hexUint(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}

func hexToUint64(h string) (uint64, error) {
	h = strings.TrimPrefix(h, "0x")
	n, err := strconv.ParseUint(h, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse hex number %q: %w", h, err)
	}
	return n, nil
}

func hexResultToDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	var h string
	if err := json.Unmarshal(raw, &h); err != nil {
		return decimal.Zero, fmt.Errorf("failed to unmarshal hex value: %w", err)
	}
	h = strings.TrimPrefix(h, "0x")
	if h == "" {
		return decimal.Zero, nil
	}
	v, ok := new(big.Int).SetString(h, 16)
	if !ok {
		return decimal.Zero, fmt.Errorf("invalid hex value %q", h)
	}
	return decimal.NewFromBigInt(v, 0), nil
}

func leftPadAddress(address string) (string, error) {
	addr := strings.TrimPrefix(strings.ToLower(address), "0x")
	if len(addr) > 64 {
		return "", fmt.Errorf("address %q exceeds 32 bytes", address)
	}
	return strings.Repeat("0", 64-len(addr)) + addr, nil
}
