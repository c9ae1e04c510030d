package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jrsteele09/go-store-claimer/internal/config"
	"github.com/nats-io/nats.go"
)

const defaultNATSSubject = "claimer.notify"

// NATS publishes each message on <subject>.<reason>.
type NATS struct {
	conn    *nats.Conn
	subject string
}

func NewNATS(cfg config.NATSNotifierConfig) (*NATS, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	subject := cfg.Subject
	if subject == "" {
		subject = defaultNATSSubject
	}
	conn, err := nats.Connect(url,
		nats.Name("store-claimer"),
		nats.Timeout(5*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATS{conn: conn, subject: subject}, nil
}

func (n *NATS) Name() string {
	return config.NotifierNATS
}

func (n *NATS) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(eventPayload(msg))
	if err != nil {
		return err
	}
	subject := n.subject + "." + strings.ToLower(string(msg.Reason))
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	// Publish only buffers; flushing surfaces a dead connection to the caller.
	timeout := 5 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := n.conn.FlushTimeout(timeout); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

func (n *NATS) Close() error {
	n.conn.Close()
	return nil
}
