package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSender publishes each message to "<prefix>.<channel>".
type NATSSender struct {
	conn    *nats.Conn
	prefix  string
	account string
}

type natsMessage struct {
	Account string    `json:"account,omitempty"`
	Channel string    `json:"channel"`
	Text    string    `json:"text"`
	SentAt  time.Time `json:"sentAt"`
}

func NewNATSSender(url, prefix, account string) (*NATSSender, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return &NATSSender{conn: nc, prefix: prefix, account: account}, nil
}

func (n *NATSSender) Send(ctx context.Context, channel, text string) error {
	data, err := json.Marshal(natsMessage{Account: n.account, Channel: channel, Text: text, SentAt: time.Now()})
	if err != nil {
		return fmt.Errorf("marshalling message: %w", err)
	}
	if err := n.conn.Publish(n.prefix+"."+channel, data); err != nil {
		return err
	}
	return n.conn.FlushWithContext(ctx)
}

func (n *NATSSender) Close() {
	n.conn.Close()
}
