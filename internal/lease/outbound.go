package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aridsondez/sqlease/internal/metrics"
	"github.com/aridsondez/sqlease/internal/queue"
	"github.com/aridsondez/sqlease/internal/uow"
)

// outboundBuffer stages the sends of one unit of work.
type outboundBuffer struct {
	mu   sync.Mutex
	msgs []queue.Addressed
}

func (b *outboundBuffer) enqueue(m queue.Addressed) {
	b.mu.Lock()
	b.msgs = append(b.msgs, m)
	b.mu.Unlock()
}

func (b *outboundBuffer) drain() []queue.Addressed {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.msgs
	b.msgs = nil
	return msgs
}

// Send stages msg for address in u. Nothing is written until u commits;
// aborting u discards it.
func (t *Transport) Send(u *uow.UnitOfWork, address string, msg queue.Outgoing) error {
	if address == "" {
		return errors.New("send: empty destination address")
	}
	if u.Done() {
		return uow.ErrCompleted
	}
	t.outbound(u).enqueue(queue.Addressed{Address: address, Message: msg})
	return nil
}

func (t *Transport) outboundKey() string {
	return fmt.Sprintf("sqlease.outbound.%p", t)
}

// outbound returns the buffer of u, creating it and its commit hook on
// first use.
func (t *Transport) outbound(u *uow.UnitOfWork) *outboundBuffer {
	v, added := u.GetOrAdd(t.outboundKey(), func() any { return &outboundBuffer{} })
	buf := v.(*outboundBuffer)
	if added {
		u.OnCommitted(func(ctx context.Context) error {
			return t.flush(ctx, buf)
		})
	}
	return buf
}

// flush inserts the buffered messages in order. Messages inserted before a
// failure stay inserted.
func (t *Transport) flush(ctx context.Context, buf *outboundBuffer) error {
	msgs := buf.drain()
	if len(msgs) == 0 {
		return nil
	}

	n, err := t.store.Send(ctx, msgs)
	for _, m := range msgs[:n] {
		metrics.MessagesSent.WithLabelValues(m.Address).Inc()
	}
	if err != nil {
		return fmt.Errorf("flushed %d of %d outgoing messages: %w", n, len(msgs), err)
	}
	return nil
}
