package wallet

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// TransferRequest describes a transfer to be signed. AssetAddress empty
// means the network's native asset.
type TransferRequest struct {
	From         string          `json:"from"`
	To           string          `json:"to"`
	AssetAddress string          `json:"asset_address,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Nonce        uint64          `json:"nonce"`
}

// Signer produces raw signed transactions for platform-controlled addresses
// on one network (the sponsor wallet and every derived deposit address).
// Production deployments back this with an HSM or MPC signing service; key
// custody is outside the pipeline.
type Signer interface {
	SignTransfer(req TransferRequest) (string, error)
}

// LocalSigner is a development-only signer producing a deterministic
// pseudo-signed payload, so the pipeline can run end to end against a
// stubbed network.
type LocalSigner struct {
	secret []byte
}

func NewLocalSigner(secret string) *LocalSigner {
	return &LocalSigner{secret: []byte(secret)}
}

func (s *LocalSigner) SignTransfer(req TransferRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return "0x" + hex.EncodeToString(payload) + hex.EncodeToString(mac.Sum(nil)), nil
}
