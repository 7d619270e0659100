package sink

import (
	"context"
	"fmt"
	"net"
	"time"

	"i4.energy/across/smsrx/modem"
)

// Line relays each message as a single "From <sender>: <text>" write on
// a fresh TCP connection, the format understood by chat relay bots.
type Line struct {
	// Addr is the host:port of the relay.
	Addr    string
	Timeout time.Duration
}

func (l Line) Deliver(ctx context.Context, msg *modem.Message) error {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", l.Addr)
	if err != nil {
		return fmt.Errorf("line sink: dial %s: %w", l.Addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := fmt.Fprintf(conn, "From %s: %s", msg.Sender, msg.Text); err != nil {
		return fmt.Errorf("line sink: write: %w", err)
	}
	return nil
}
