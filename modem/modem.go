package modem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"i4.energy/across/smsrx/at"
)

// maxLineLength bounds a single line from the modem. A PDU line is at
// most 2*(12+164) hex characters, well below this.
const maxLineLength = 4 * 1024

// Modem is a session with a GSM/3G/4G modem that receives text messages
// over AT commands.
//
// A Modem is driven by a single goroutine: Connect, then Run. Commands
// and their replies are strictly sequential, and every line, solicited
// or not, is read through the same scanner, so notifications arriving
// between a command and its reply are never lost. Close and Connected
// may be called from other goroutines; Close unblocks a pending read.
type Modem struct {
	// config contains the modem configuration settings
	config Config
	logger *slog.Logger

	// transport provides the physical connection to the modem (serial, TCP, etc.)
	transport Transport
	// scanner splits the transport stream into lines
	scanner *bufio.Scanner

	// connected is set once the reset handshake succeeded
	connected atomic.Bool
	// closed indicates if the modem has been shut down
	closed atomic.Bool
	// loopRunning indicates if Run is currently active
	loopRunning atomic.Bool

	// handlers maps event names to their handler
	handlers map[string]MessageHandler
}

// New creates a disconnected Modem with the given configuration. No I/O
// happens until Connect.
func New(config Config) (*Modem, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config.setDefaults()

	m := &Modem{
		config:   config,
		logger:   config.logger.With("component", "modem"),
		handlers: make(map[string]MessageHandler, len(config.handlers)),
	}
	for event, h := range config.handlers {
		m.handlers[event] = h
	}
	return m, nil
}

// Connected reports whether the reset handshake has completed.
func (m *Modem) Connected() bool {
	return m.connected.Load() && !m.closed.Load()
}

// Connect opens the transport, discards stale input and resets the
// modem with ATZ. Once the modem answers OK the session is connected and
// message indications are enabled for every registered handler.
//
// If the handshake fails the transport is closed and the Modem stays
// disconnected.
func (m *Modem) Connect(ctx context.Context) error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	if m.connected.Load() {
		return ErrAlreadyConnected
	}

	transport, err := m.config.dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: dial: %w", ErrTransport, err)
	}
	if transport == nil {
		return ErrNotInitialized
	}
	m.transport = transport

	if err := m.handshake(); err != nil {
		m.teardown()
		return fmt.Errorf("connect: %w", err)
	}
	m.connected.Store(true)
	m.logger.Info("Modem connected", "storage", m.config.storage, "timeout_scope", m.config.timeoutScope)

	for event := range m.handlers {
		if err := m.enableIndications(); err != nil {
			m.teardown()
			return fmt.Errorf("enable %s handler: %w", event, err)
		}
	}
	return nil
}

func (m *Modem) handshake() error {
	if m.config.readTimeout > 0 {
		if err := m.transport.SetReadTimeout(m.config.readTimeout); err != nil {
			return fmt.Errorf("%w: set read timeout: %w", ErrTransport, err)
		}
	}
	if err := m.transport.ResetInputBuffer(); err != nil {
		return fmt.Errorf("%w: flush input: %w", ErrTransport, err)
	}

	m.scanner = bufio.NewScanner(m.transport)
	m.scanner.Buffer(make([]byte, 0, 512), maxLineLength)
	m.scanner.Split(at.Splitter)

	if err := m.send(at.CmdReset); err != nil {
		return err
	}
	line, err := m.readLine()
	if err != nil {
		return err
	}
	if line != at.OK {
		return fmt.Errorf("%w: %s%s answered %q", ErrHandshakeFailed, at.Prefix, at.CmdReset, line)
	}

	if m.config.readTimeout > 0 && m.config.timeoutScope == TimeoutHandshake {
		if err := m.transport.SetReadTimeout(0); err != nil {
			return fmt.Errorf("%w: clear read timeout: %w", ErrTransport, err)
		}
	}
	return nil
}

// Run reads notifications until ctx is cancelled or a fatal error
// occurs. New message and status report notifications trigger the
// retrieval workflow; other lines are logged and ignored.
//
// Errors the modem reports for a single message are logged and Run
// carries on. Any other error closes the Modem and is returned.
func (m *Modem) Run(ctx context.Context) error {
	if err := m.ready(); err != nil {
		return err
	}
	if !m.loopRunning.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer m.loopRunning.Store(false)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := m.readLine()
		if err != nil {
			return m.fail(err)
		}

		if err := m.dispatch(ctx, line); err != nil {
			if recoverable(err) {
				m.logger.Warn("Message workflow failed", "error", err, "line", line)
				continue
			}
			return m.fail(err)
		}
	}
}

func (m *Modem) dispatch(ctx context.Context, line string) error {
	n := at.Classify(line)
	switch n.Kind {
	case at.KindEmpty:
		return nil
	case at.KindNewMessage:
		return m.handleNewMessage(ctx, n)
	case at.KindStatusReport:
		return m.handleStatusReport(ctx, n)
	default:
		m.logger.Info("Ignoring unhandled notification", "line", line)
		return nil
	}
}

// Close shuts down the modem and releases all resources.
// It closes the transport connection and marks the modem as closed.
// After calling Close(), the modem cannot be reused.
func (m *Modem) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrAlreadyClosed
	}

	if m.transport != nil {
		return m.transport.Close()
	}
	return nil
}

// fail ends the session after a fatal error and returns err.
func (m *Modem) fail(err error) error {
	if !m.closed.CompareAndSwap(false, true) {
		// Close already released the transport.
		return err
	}
	m.logger.Error("Session terminated", "error", err)
	m.teardown()
	return err
}

func (m *Modem) teardown() {
	m.connected.Store(false)
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			m.logger.Warn("Failed to close transport", "error", err)
		}
		m.transport = nil
	}
	m.scanner = nil
}

func (m *Modem) ready() error {
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	if !m.connected.Load() {
		return ErrNotConnected
	}
	return nil
}

// send writes AT<body>\r and requires the modem to echo it back
// verbatim. The reply itself is left for the caller to read.
func (m *Modem) send(body string) error {
	cmd := at.Prefix + body
	m.logger.Debug("send", "command", cmd)

	if _, err := m.transport.Write([]byte(cmd + at.CR)); err != nil {
		return fmt.Errorf("%w: write command %q: %w", ErrTransport, cmd, err)
	}

	echo, err := m.readLine()
	if err != nil {
		return err
	}
	if echo != cmd {
		return fmt.Errorf("%w: sent %q, got %q", ErrEchoMismatch, cmd, echo)
	}
	return nil
}

// readLine returns the next line that is not a spontaneous
// notification. Spontaneous notifications are passed to their hook and
// skipped.
func (m *Modem) readLine() (string, error) {
	for {
		if !m.scanner.Scan() {
			err := m.scanner.Err()
			switch {
			case err == nil:
				return "", ErrEndOfStream
			case errors.Is(err, bufio.ErrTooLong):
				return "", ErrLineTooLong
			default:
				return "", fmt.Errorf("%w: read: %w", ErrTransport, err)
			}
		}

		line := m.scanner.Text()
		m.logger.Debug("recv", "line", line)

		n := at.Classify(line)
		if !n.Kind.Spontaneous() {
			return line, nil
		}
		m.spontaneous(n)
	}
}

func (m *Modem) spontaneous(n at.Notification) {
	m.logger.Debug("Spontaneous notification", "kind", n.Kind, "line", n.Line)

	var hook func(string)
	switch n.Kind {
	case at.KindBoot:
		hook = m.config.hooks.Boot
	case at.KindRing:
		hook = m.config.hooks.Ring
	case at.KindCallEnd:
		hook = m.config.hooks.CallEnd
	}
	if hook != nil {
		hook(n.Line)
	}
}
