// Package audit publishes a record of every tool call.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gammarips/overnightedge/internal/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// DefaultSubject is the NATS subject tool calls are published on.
const DefaultSubject = "overnightedge.tool_calls"

// Event describes one completed tool call.
type Event struct {
	ID       string    `json:"id"`
	Tool     string    `json:"tool"`
	Tier     string    `json:"tier"`
	ScanDate string    `json:"scan_date,omitempty"`
	Count    int       `json:"count"`
	Code     string    `json:"code,omitempty"`
	At       time.Time `json:"at"`
}

// NewEvent stamps a new event with a fresh ID and the current time.
func NewEvent(tool, tier string) Event {
	return Event{
		ID:   uuid.New().String(),
		Tool: tool,
		Tier: tier,
		At:   time.Now().UTC(),
	}
}

// Publisher records tool call events. Publish must not block the call it describes.
type Publisher interface {
	Publish(e Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Close() error  { return nil }

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subj string, data []byte) error
	Drain() error
}

// NATSPublisher publishes events as JSON on a NATS subject. Publish failures are
// logged and dropped; a tool call never fails because its audit record did.
type NATSPublisher struct {
	conn    conn
	subject string
}

// Connect dials url and returns a publisher on subject.
func Connect(url, subject string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("overnightedge"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("Audit NATS connection lost: %v", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("Audit NATS connection restored")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newNATSPublisher(nc, subject), nil
}

func newNATSPublisher(c conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: c, subject: subject}
}

// Publish sends e. The NATS client buffers, so this does not wait on the network.
func (p *NATSPublisher) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Warn("Failed to encode audit event %s: %v", e.ID, err)
		return
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		logger.Warn("Failed to publish audit event %s: %v", e.ID, err)
	}
}

// Close flushes pending events and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
