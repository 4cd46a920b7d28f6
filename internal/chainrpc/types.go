package chainrpc

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Transfer is one observed transfer into a watched address, as reported by
// a network's RPC interface.
type Transfer struct {
	TxHash       string          `json:"tx_hash"`
	FromAddress  string          `json:"from_address"`
	ToAddress    string          `json:"to_address"`
	AssetSymbol  string          `json:"asset_symbol"`
	AssetAddress string          `json:"asset_address"`
	Amount       decimal.Decimal `json:"amount"`
	BlockHeight  uint64          `json:"block_height"`
}

type RPCRequest struct {
	ID      int64  `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type RPCResponse struct {
	ID      json.RawMessage `json:"id"`
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
