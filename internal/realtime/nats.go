package realtime

import (
	"encoding/json"
	"fmt"

	nats "github.com/nats-io/nats.go"

	"astroclub.org/internal/obs"
)

// DefaultSubject carries changes between instances.
const DefaultSubject = "astroclub.changes"

// NATSConn is the subset of *nats.Conn the bridge uses.
type NATSConn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATSBridge forwards locally published changes to other instances and
// delivers theirs to the local feed.
type NATSBridge struct {
	conn     NATSConn
	feed     *Feed
	subject  string
	instance string
	sub      *nats.Subscription
}

// ConnectNATS dials url.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url, nats.Name("astroclub-api"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// NewNATSBridge creates a bridge; instance must be unique per process.
func NewNATSBridge(conn NATSConn, feed *Feed, subject, instance string) *NATSBridge {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSBridge{conn: conn, feed: feed, subject: subject, instance: instance}
}

// Start subscribes to the subject and relays local changes.
func (b *NATSBridge) Start() error {
	sub, err := b.conn.Subscribe(b.subject, b.receive)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", b.subject, err)
	}
	b.sub = sub
	b.feed.Relay(b.forward)
	return nil
}

// Stop unsubscribes. Relaying continues to be a no-op afterwards.
func (b *NATSBridge) Stop() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
		b.sub = nil
	}
}

func (b *NATSBridge) forward(c Change) {
	if c.Origin != "" {
		return
	}
	c.Origin = b.instance
	payload, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := b.conn.Publish(b.subject, payload); err != nil {
		obs.Warn("nats_publish_failed", map[string]any{"subject": b.subject, "error": err.Error()})
	}
}

func (b *NATSBridge) receive(msg *nats.Msg) {
	var c Change
	if err := json.Unmarshal(msg.Data, &c); err != nil {
		return
	}
	if c.Origin == b.instance || c.Collection == "" {
		return
	}
	b.feed.Deliver(c)
}
