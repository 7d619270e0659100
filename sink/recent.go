package sink

import (
	"context"
	"sync"

	"i4.energy/across/smsrx/modem"
)

// Recent keeps the last N messages in memory for the status server.
// It is safe for concurrent use.
type Recent struct {
	mu   sync.Mutex
	buf  []Envelope
	next int
	full bool
}

// NewRecent returns a buffer holding up to n messages. n < 1 is treated
// as 1.
func NewRecent(n int) *Recent {
	return &Recent{buf: make([]Envelope, max(n, 1))}
}

func (r *Recent) Deliver(_ context.Context, msg *modem.Message) error {
	e := NewEnvelope(msg)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = e
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
	return nil
}

// List returns the buffered messages, oldest first.
func (r *Recent) List() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append(make([]Envelope, 0, r.next), r.buf[:r.next]...)
	}
	out := make([]Envelope, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}
