package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	id "orthoplus/pkg/domain"
)

// Publisher captures structured audit records. It is append-only and uses
// the storage layer for persistence so tests can swap sinks easily.
//
// In sync mode (the default) Emit writes through to the store and the
// record commits with the caller's transaction. With WithAsyncBuffer the
// record is queued and written by a background goroutine instead; Close
// drains the queue. Async mode trades the transactional guarantee for
// latency, so the service keeps success records sync and only rejections
// may go async.
type Publisher struct {
	store Store

	buffer  chan Record
	done    chan struct{}
	closeMu sync.Mutex
	closed  bool
}

type PublisherOption func(p *Publisher)

// WithAsyncBuffer switches the publisher to async mode with the given queue
// size. Emit drops records when the queue is full rather than blocking the
// request path.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		p.buffer = make(chan Record, size)
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.done = make(chan struct{})
		go p.drain()
	}
	return p
}

// Emit records an audit entry, stamping ID and time when unset.
func (p *Publisher) Emit(ctx context.Context, record Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.OccurredAt.IsZero() {
		record.OccurredAt = time.Now()
	}

	if p.buffer == nil {
		return p.store.Append(ctx, record)
	}

	select {
	case p.buffer <- record:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("audit buffer full")
	}
}

// List returns the audit trail for a tenant, newest first.
func (p *Publisher) List(ctx context.Context, tenantID id.TenantID, q Query) ([]Record, error) {
	return p.store.ListByTenant(ctx, tenantID, q)
}

// ListRecent returns the most recent records across all tenants.
func (p *Publisher) ListRecent(ctx context.Context, q Query) ([]Record, error) {
	return p.store.ListRecent(ctx, q)
}

// Close stops the async worker after draining any queued records. Safe to
// call on a sync publisher and safe to call twice.
func (p *Publisher) Close() {
	p.closeMu.Lock()
	defer p.closeMu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	if p.buffer != nil {
		close(p.buffer)
		<-p.done
	}
}

func (p *Publisher) drain() {
	defer close(p.done)
	for record := range p.buffer {
		// Async records detach from the request; a background context keeps
		// them flowing after the request context is gone.
		_ = p.store.Append(context.Background(), record)
	}
}
