package event

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"storefront/internal/model"
)

// AuditWriter persists audit events.
type AuditWriter interface {
	Insert(ctx context.Context, event model.AuditEvent) error
}

// AuditSink turns security events into bus messages. Record returns
// immediately; persistence happens on the consumer goroutine.
type AuditSink struct {
	bus Bus
	now func() time.Time
}

func NewAuditSink(bus Bus) *AuditSink {
	return &AuditSink{bus: bus, now: time.Now}
}

func (s *AuditSink) Record(name string, accountID string, metadata map[string]any) {
	s.bus.Publish(Event{
		ID:        uuid.NewString(),
		Type:      TypeAudit,
		Name:      name,
		AccountID: accountID,
		Metadata:  metadata,
		Timestamp: s.now().UTC(),
	})
}

// AuditConsumer drains audit events from the bus into a writer.
type AuditConsumer struct {
	events      <-chan Event
	unsubscribe func()
	writer      AuditWriter
	timeout     time.Duration
}

func NewAuditConsumer(bus Bus, writer AuditWriter, timeout time.Duration) *AuditConsumer {
	events, unsubscribe := bus.Subscribe()
	return &AuditConsumer{
		events:      events,
		unsubscribe: unsubscribe,
		writer:      writer,
		timeout:     timeout,
	}
}

// Run consumes until ctx is cancelled, then flushes what is already
// buffered.
func (c *AuditConsumer) Run(ctx context.Context) {
	defer c.unsubscribe()

	for {
		select {
		case e, ok := <-c.events:
			if !ok {
				return
			}
			c.handle(e)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *AuditConsumer) drain() {
	for {
		select {
		case e, ok := <-c.events:
			if !ok {
				return
			}
			c.handle(e)
		default:
			return
		}
	}
}

func (c *AuditConsumer) handle(e Event) {
	if e.Type != TypeAudit {
		return
	}

	slog.Info("audit", "event", e.Name, "account_id", e.AccountID, "metadata", e.Metadata)

	if c.writer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	err := c.writer.Insert(ctx, model.AuditEvent{
		Name:       e.Name,
		AccountID:  e.AccountID,
		OccurredAt: e.Timestamp.Format(time.RFC3339Nano),
		Metadata:   e.Metadata,
	})
	if err != nil {
		slog.Error("failed to persist audit event", "event", e.Name, "account_id", e.AccountID, "error", err)
	}
}
