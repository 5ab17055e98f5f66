// Package publisher decouples audit emission from persistence. Default mode
// is synchronous fail-open (an audit write failure is logged, not fatal);
// WithAsyncBuffer moves persistence onto a background goroutine that drains
// on Close.
package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	id "github.com/ProdByBuddha/readmyfineprint/pkg/domain"
	audit "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit"
)

// Publisher emits audit events to a Store.
type Publisher struct {
	store  audit.Store
	logger *slog.Logger

	inbox  chan audit.Event
	wg     sync.WaitGroup
	closed sync.Once
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables asynchronous emission with the given buffer size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.inbox = make(chan audit.Event, size)
		}
	}
}

// WithLogger sets a logger for emission failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPublisher creates a Publisher over the given store.
func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.inbox != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit records an audit event. Fail-open: persistence errors are logged and
// swallowed so audit outages never block document processing.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.inbox != nil {
		select {
		case p.inbox <- event:
		default:
			// Buffer full; fall back to synchronous emission rather than
			// dropping the event.
			p.append(ctx, event)
		}
		return nil
	}

	p.append(ctx, event)
	return nil
}

// List returns the audit trail for one session.
func (p *Publisher) List(ctx context.Context, sessionID id.SessionID) ([]audit.Event, error) {
	return p.store.ListBySession(ctx, sessionID)
}

// Close drains any buffered events and stops the background worker.
func (p *Publisher) Close() {
	p.closed.Do(func() {
		if p.inbox != nil {
			close(p.inbox)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.inbox {
		p.append(context.Background(), event)
	}
}

func (p *Publisher) append(ctx context.Context, event audit.Event) {
	if err := p.store.Append(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "audit append failed",
			"action", event.Action,
			"error", err,
		)
	}
}
