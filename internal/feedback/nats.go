package feedback

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSNotifier publishes each event as JSON on a NATS subject.
type NATSNotifier struct {
	conn  *nats.Conn
	topic string
}

// NewNATSNotifier connects to url. An empty topic means TopicScanRecorded.
func NewNATSNotifier(url, topic string, opts ...nats.Option) (*NATSNotifier, error) {
	if topic == "" {
		topic = TopicScanRecorded
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSNotifier{conn: nc, topic: topic}, nil
}

func (n *NATSNotifier) Notify(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	return n.conn.Publish(n.topic, data)
}

// Flush waits until published events reach the server.
func (n *NATSNotifier) Flush() error {
	return n.conn.Flush()
}

func (n *NATSNotifier) Close() error {
	n.conn.Close()
	return nil
}
