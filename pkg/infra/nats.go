package infra

import (
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rampline/settlement/pkg/common/logger"
)

// GetNATSConnection connects to NATS with unbounded reconnects; the pipeline
// tolerates broker downtime the same way it tolerates RPC downtime.
func GetNATSConnection(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1), // retry forever
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectHandler(func(nc *nats.Conn) {
			logger.Warn("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(natsErrHandler),
	}

	if url == "" {
		url = nats.DefaultURL
	}
	return nats.Connect(url, opts...)
}

func natsErrHandler(nc *nats.Conn, sub *nats.Subscription, natsErr error) {
	logger.Error("NATS error", "error", natsErr)
	if natsErr == nats.ErrSlowConsumer && sub != nil {
		pendingMsgs, _, err := sub.Pending()
		if err != nil {
			logger.Error("Error getting pending messages", "error", err)
			return
		}
		logger.Error("Falling behind with pending messages on subject",
			"pending", pendingMsgs, "subject", sub.Subject)
	}
}
