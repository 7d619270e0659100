package modem

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"i4.energy/across/smsrx/at"
)

// TestTransport is a scripted in-memory modem for tests. Every command
// written is echoed back followed by the reply registered with Respond.
// Unsolicited lines are queued with Inject.
//
// Read hands out at most one line per call, the way a serial port
// delivers a notification before the next command is written. Once the
// queue is drained Read reports io.EOF.
type TestTransport struct {
	mu       sync.Mutex
	replies  map[string]string
	pending  bytes.Buffer
	writes   []string
	timeouts []time.Duration
	flushes  int
	closed   bool
}

// NewTestTransport creates a new test transport for testing.
func NewTestTransport() *TestTransport {
	return &TestTransport{
		replies: make(map[string]string),
	}
}

// Dial implements Dialer by handing out t itself.
func (t *TestTransport) Dial(ctx context.Context) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return t, nil
}

// Respond registers the raw reply sent after the echo of cmd. cmd is the
// command line without its trailing carriage return, e.g. "AT+CMGR=3".
func (t *TestTransport) Respond(cmd, reply string) *TestTransport {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[cmd] = reply
	return t
}

// Inject queues data as if the modem sent it on its own.
func (t *TestTransport) Inject(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending.WriteString(data)
}

func (t *TestTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}

	line := string(p)
	t.writes = append(t.writes, line)

	cmd := strings.TrimSuffix(line, at.CR)
	t.pending.WriteString(cmd + at.CR + at.CR + at.LF)
	t.pending.WriteString(t.replies[cmd])
	return len(p), nil
}

func (t *TestTransport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}
	if t.pending.Len() == 0 {
		return 0, io.EOF
	}

	line, err := t.pending.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return 0, err
	}
	n := copy(p, line)
	if n < len(line) {
		// hand the rest out on the next call
		rest := append(line[n:], t.pending.Bytes()...)
		t.pending.Reset()
		t.pending.Write(rest)
	}
	return n, nil
}

func (t *TestTransport) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flushes++
	t.pending.Reset()
	return nil
}

func (t *TestTransport) SetReadTimeout(d time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timeouts = append(t.timeouts, d)
	return nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Writes returns every command line written so far.
func (t *TestTransport) Writes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.writes...)
}

// Timeouts returns the read timeouts set so far, in order.
func (t *TestTransport) Timeouts() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.timeouts...)
}

// Flushes reports how often the input buffer was reset.
func (t *TestTransport) Flushes() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushes
}

// Closed reports whether Close has been called.
func (t *TestTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
