package events

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	KindDepositConfirmed = "deposit.confirmed"
	KindDepositSwept     = "deposit.swept"
	KindPayoutSettled    = "payout.settled"
	KindPayoutFailed     = "payout.failed"
	KindHealthDegraded   = "health.degraded"
)

type PipelineEvent struct {
	Kind      string `json:"kind"`
	Network   string `json:"network,omitempty"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

// Emitter publishes pipeline state transitions to NATS so downstream
// consumers (notifications, reconciliation dashboards) can react. Publishing
// is fire-and-forget; the ledger, not the event stream, is authoritative.
type Emitter interface {
	Emit(kind, network string, data any) error
	Close()
}

type emitter struct {
	conn          *nats.Conn
	subjectPrefix string
}

func NewEmitter(conn *nats.Conn, subjectPrefix string) Emitter {
	return &emitter{
		conn:          conn,
		subjectPrefix: subjectPrefix,
	}
}

func (e *emitter) Emit(kind, network string, data any) error {
	payload, err := json.Marshal(PipelineEvent{
		Kind:      kind,
		Network:   network,
		Data:      data,
		Timestamp: time.Now().UTC().Unix(),
	})
	if err != nil {
		return err
	}
	return e.conn.Publish(e.subjectPrefix+"."+kind, payload)
}

func (e *emitter) Close() {
	if e.conn != nil {
		e.conn.Close()
	}
}

// Nop is used where event emission is configured off (tests, one-shot CLI).
type Nop struct{}

func (Nop) Emit(string, string, any) error { return nil }
func (Nop) Close()                         {}
