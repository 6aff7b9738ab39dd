package notifier

import (
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// subjectPrefix namespaces push events per user: pos.push.<userID>.
const subjectPrefix = "pos.push."

// PushEvent is the payload forwarded to the push-notification pipeline when
// a realtime event cannot be delivered over a live socket.
type PushEvent struct {
	UserID    string      `json:"user_id"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher forwards undeliverable realtime events to NATS for the mobile
// push pipeline. All publish operations are non-fatal: errors are logged
// but never propagated, so push outages cannot affect workflow state.
// A nil *Publisher is valid and drops everything.
type Publisher struct {
	nc  *nats.Conn
	log *zap.Logger
}

// New connects to the NATS server. An empty URL returns a nil publisher,
// which silently discards events.
func New(url string, log *zap.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	return &Publisher{nc: nc, log: log}, nil
}

// PushToUser publishes an event for a user with no live connections.
func (p *Publisher) PushToUser(userID string, event string, data interface{}) {
	if p == nil || p.nc == nil {
		return
	}

	payload, err := json.Marshal(PushEvent{
		UserID:    userID,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		p.log.Warn("failed to marshal push event", zap.String("event", event), zap.Error(err))
		return
	}

	if err := p.nc.Publish(subjectPrefix+userID, payload); err != nil {
		p.log.Warn("failed to publish push event",
			zap.String("event", event),
			zap.String("user_id", userID),
			zap.Error(err))
	}
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	_ = p.nc.Drain()
}
