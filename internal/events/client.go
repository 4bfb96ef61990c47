// Package events publishes run lifecycle events to NATS for any downstream
// consumer (NLP pipeline, media analysis, dashboards). Publishing is
// best-effort: a failed publish is logged, never fatal to the run.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Run lifecycle subjects.
const (
	SubjectRunStarted   = "zapvault.run.started"
	SubjectRunCompleted = "zapvault.run.completed"
	SubjectRunFailed    = "zapvault.run.failed"
)

// RunEvent is the payload published at run start and at terminal transition.
type RunEvent struct {
	RunID        string `json:"run_id"`
	ArchiveName  string `json:"archive_name"`
	GroupID      string `json:"group_id,omitempty"`
	GroupName    string `json:"group_name,omitempty"`
	MessageCount int    `json:"message_count,omitempty"`
	MediaCount   int    `json:"media_count,omitempty"`
	WarningCount int    `json:"warning_count,omitempty"`
	Error        string `json:"error,omitempty"`
	Timestamp    string `json:"timestamp"`
}

type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

func NewClient(url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

// PublishRun emits a run event on the given subject. Errors are logged and
// swallowed so observability plumbing can never fail an ingestion run.
func (c *Client) PublishRun(subject string, evt RunEvent) {
	evt.Timestamp = time.Now().UTC().Format(time.RFC3339)
	payload, err := json.Marshal(evt)
	if err != nil {
		c.logger.Error("marshal run event", "subject", subject, "error", err)
		return
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		c.logger.Warn("publish run event failed", "subject", subject, "error", err)
	}
}

func (c *Client) Close() {
	c.conn.Close()
}
