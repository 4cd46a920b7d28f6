package chainrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rampline/settlement/pkg/ratelimiter"
)

// baseClient is a JSON-RPC HTTP client balancing over a node pool with
// per-node rate limiting and bearer auth.
type baseClient struct {
	httpClient  *http.Client
	pool        *NodePool
	apiKeys     map[string]string // node URL -> api key
	rateLimiter *ratelimiter.PooledRateLimiter

	rpcID int64
	mutex sync.Mutex
}

func newBaseClient(nodes []string, apiKeys map[string]string, timeout time.Duration, rl *ratelimiter.PooledRateLimiter) *baseClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &baseClient{
		httpClient:  &http.Client{Timeout: timeout},
		pool:        NewNodePool(nodes),
		apiKeys:     apiKeys,
		rateLimiter: rl,
		rpcID:       1,
	}
}

func (c *baseClient) nextRequestID() int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	id := c.rpcID
	c.rpcID++
	return id
}

// CallRPC issues a single JSON-RPC call against the next healthy node.
func (c *baseClient) CallRPC(ctx context.Context, method string, params any) (*RPCResponse, error) {
	node := c.pool.GetNext()
	if node == "" {
		return nil, fmt.Errorf("no rpc nodes configured")
	}

	if c.rateLimiter != nil {
		if err := c.rateLimiter.Wait(ctx, node); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req := &RPCRequest{ID: c.nextRequestID(), JSONRPC: "2.0", Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, node, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := c.apiKeys[node]; key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+strings.TrimPrefix(key, "Bearer "))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.pool.MarkFailed(node)
		return nil, fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.pool.MarkFailed(node)
		return nil, fmt.Errorf("read rpc response: %w", err)
	}
	if resp.StatusCode >= 500 {
		c.pool.MarkFailed(node)
		return nil, fmt.Errorf("rpc call %s: status %d", method, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rpc call %s: status %d: %s", method, resp.StatusCode, raw)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return &rpcResp, rpcResp.Error
	}
	return &rpcResp, nil
}

func (c *baseClient) Close() error {
	if c.rateLimiter != nil {
		c.rateLimiter.Close()
	}
	return nil
}
