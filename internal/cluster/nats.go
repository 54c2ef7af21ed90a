package cluster

import (
	"github.com/nats-io/nats.go"
)

// NATSPubSub adapts a *nats.Conn to PubSub using core NATS publish/
// subscribe (no JetStream — cluster fan-out is best-effort by design,
// since CRDT convergence tolerates a dropped update and a subsequent
// reconnect-triggered resync repairs any gap).
type NATSPubSub struct {
	conn *nats.Conn
}

// DialNATS connects to url with unlimited reconnect attempts.
func DialNATS(url string, name string) (*NATSPubSub, error) {
	conn, err := nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return &NATSPubSub{conn: conn}, nil
}

func (p *NATSPubSub) Publish(subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

func (p *NATSPubSub) Subscribe(subject string, handler func(data []byte)) (func(), error) {
	sub, err := p.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

func (p *NATSPubSub) OnReconnect(fn func()) {
	p.conn.SetReconnectHandler(func(*nats.Conn) { fn() })
}

// Close drains and closes the underlying connection.
func (p *NATSPubSub) Close() error {
	return p.conn.Drain()
}
