package chainrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rampline/settlement/internal/config"
	"github.com/rampline/settlement/pkg/common/enum"
)

// rpcHandler serves canned results per JSON-RPC method.
func rpcHandler(t *testing.T, results map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		result, ok := results[req.Method]
		if !ok {
			t.Errorf("unexpected rpc method %s", req.Method)
			result = nil
		}
		raw, err := json.Marshal(result)
		require.NoError(t, err)
		json.NewEncoder(w).Encode(map[string]any{
			"id":      req.ID,
			"jsonrpc": "2.0",
			"result":  json.RawMessage(raw),
		})
	}
}

func newTestClient(t *testing.T, url string) *EVMClient {
	t.Helper()
	c, err := NewEVMClient(config.NetworkConfig{
		Name:  "ethereum",
		Kind:  enum.NetworkKindEVM,
		Nodes: []config.Node{{URL: url}},
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestGetLatestHeight(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"eth_blockNumber": "0x10d4f",
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	h, err := c.GetLatestHeight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10d4f), h)
}

func TestGetBalance_Native(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"eth_getBalance": "0xde0b6b3a7640000", // 1 ETH in wei
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bal, err := c.GetBalance(context.Background(), "0xabc", "")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("1000000000000000000")))
}

func TestGetBalance_ERC20UsesEthCall(t *testing.T) {
	var sawCall map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "eth_call", req.Method)

		params := req.Params.([]any)
		call := params[0].(map[string]any)
		sawCall = map[string]string{
			"to":   call["to"].(string),
			"data": call["data"].(string),
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": req.ID, "jsonrpc": "2.0", "result": "0x5f5e100",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bal, err := c.GetBalance(context.Background(), "0xAbCd000000000000000000000000000000001234", "0xtoken")
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("100000000")))

	assert.Equal(t, "0xtoken", sawCall["to"])
	assert.Equal(t,
		erc20BalanceOfSelector+"000000000000000000000000abcd000000000000000000000000000000001234",
		sawCall["data"])
}

func TestGetConfirmations(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"eth_getTransactionReceipt": map[string]string{"blockNumber": "0x64"},
		"eth_blockNumber":           "0x6e",
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	confs, err := c.GetConfirmations(context.Background(), "0xtx")
	require.NoError(t, err)
	// mined at 100, tip at 110: 11 confirmations counting the mined block
	assert.Equal(t, uint64(11), confs)
}

func TestGetConfirmations_UnminedIsZero(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"eth_getTransactionReceipt": nil,
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	confs, err := c.GetConfirmations(context.Background(), "0xtx")
	require.NoError(t, err)
	assert.Zero(t, confs)
}

func TestGetNonce(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"eth_getTransactionCount": "0x7",
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	nonce, err := c.GetNonce(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), nonce)
}

func TestEstimateTransferCost(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, map[string]any{
		"eth_gasPrice":    "0x3b9aca00", // 1 gwei
		"eth_estimateGas": "0xc350",     // 50000
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	cost, err := c.EstimateTransferCost(context.Background(), "0xfrom", "0xto", "0xtoken")
	require.NoError(t, err)
	assert.True(t, cost.Equal(decimal.RequireFromString("50000000000000")))
}

func TestRPCErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"id": 1, "jsonrpc": "2.0",
			"error": map[string]any{"code": -32601, "message": "method not found"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GetLatestHeight(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestNodePool_SkipsFailedNode(t *testing.T) {
	pool := NewNodePool([]string{"a", "b"})

	assert.Equal(t, "a", pool.GetNext())
	assert.Equal(t, "b", pool.GetNext())

	pool.MarkFailed("a")
	assert.Equal(t, "b", pool.GetNext())
	assert.Equal(t, "b", pool.GetNext())
}

func TestNodePool_ResetsWhenAllFailed(t *testing.T) {
	pool := NewNodePool([]string{"a", "b"})
	pool.MarkFailed("a")
	pool.MarkFailed("b")

	assert.Equal(t, "a", pool.GetNext())
}

func TestHexHelpers(t *testing.T) {
	n, err := hexToUint64("0xff")
	require.NoError(t, err)
	assert.Equal(t, uint64(255), n)

	_, err = hexToUint64("0xzz")
	assert.Error(t, err)

	d, err := hexResultToDecimal(json.RawMessage(`"0x0"`))
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	assert.Equal(t, "0x2a", hexUint(42))

	padded, err := leftPadAddress("0xAb")
	require.NoError(t, err)
	assert.Len(t, padded, 64)
	assert.Equal(t, "ab", padded[62:])

	_, err = leftPadAddress("0x" + strings.Repeat("ab", 40))
	assert.Error(t, err)
}
