package modem

import (
	"errors"
	"fmt"

	"i4.energy/across/smsrx/at"
)

var (
	// ErrNoDialer is returned when a Modem is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the modem.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNoDecoder is returned when a Modem is constructed without a
	// Decoder for message payloads.
	ErrNoDecoder = errors.New("no decoder configured")

	// ErrNotInitialized is returned when the Dialer hands back no transport.
	ErrNotInitialized = errors.New("modem not initialized")

	// ErrNotConnected is returned by operations that need a completed
	// handshake.
	ErrNotConnected = errors.New("modem not connected")

	// ErrAlreadyConnected is returned when Connect is called twice.
	ErrAlreadyConnected = errors.New("modem already connected")

	// ErrAlreadyClosed is returned when Close is called on a Modem that has
	// already been closed, and by every operation after Close.
	ErrAlreadyClosed = errors.New("modem already closed")

	// ErrLoopRunning is returned when Run is called while another Run is
	// still active.
	ErrLoopRunning = errors.New("loop already running")

	// ErrTransport wraps every read and write failure of the underlying
	// transport. It is fatal to the session.
	ErrTransport = errors.New("transport error")

	// ErrReadTimeout is reported by transports when no data arrived within
	// the configured read timeout. It is fatal, never retried.
	ErrReadTimeout = errors.New("read timeout")

	// ErrEndOfStream is returned when the transport reports end of file.
	ErrEndOfStream = errors.New("end of stream")

	// ErrLineTooLong is returned when a modem response line exceeds the
	// maximum allowed length.
	//
	// This typically indicates malformed input, unexpected binary data,
	// or a protocol framing error.
	ErrLineTooLong = errors.New("response line too long")

	// ErrEchoMismatch is returned when the modem does not echo the exact
	// command line that was written. The command/reply pairing can no
	// longer be trusted, so the session ends.
	ErrEchoMismatch = errors.New("command not echoed")

	// ErrHandshakeFailed is returned by Connect when the reset command is
	// not acknowledged with OK.
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrIndicationRejected is returned when the modem refuses the new
	// message indication settings.
	ErrIndicationRejected = errors.New("message indications rejected")

	// ErrUnexpectedStorage is returned when a notification refers to a
	// message store other than the configured one.
	ErrUnexpectedStorage = errors.New("unexpected message storage")

	// ErrUnsupportedEvent is returned when registering a handler for an
	// event name other than EventMessage.
	ErrUnsupportedEvent = errors.New("unsupported event")

	// ErrNilHandler is returned when registering a nil handler.
	ErrNilHandler = errors.New("nil handler")

	// ErrRetrieval marks a failed read-by-index exchange. See DeviceError.
	ErrRetrieval = errors.New("unable to read message")

	// ErrDeletion marks a failed delete-by-index exchange. See DeviceError.
	ErrDeletion = errors.New("unable to delete message")

	// ErrDecode is returned when the payload of a stored message cannot be
	// decoded. The session stays usable.
	ErrDecode = errors.New("unable to decode message")
)

// DeviceError reports a command the modem answered with an error. Code
// holds the +CMS/+CME error code when the modem supplied one, Reply the
// offending line otherwise. Err is ErrRetrieval or ErrDeletion.
//
// A DeviceError does not end the session.
type DeviceError struct {
	Err     error
	Command string
	Index   int
	Code    string
	Reply   string
}

func (e *DeviceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%v %d: %s: error %s", e.Err, e.Index, e.Command, e.Code)
	}
	return fmt.Sprintf("%v %d: %s: unexpected reply %q", e.Err, e.Index, e.Command, e.Reply)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// recoverable reports whether err leaves the command stream in sync so
// the dispatch loop may carry on.
func recoverable(err error) bool {
	var devErr *DeviceError
	return errors.As(err, &devErr) || errors.Is(err, ErrDecode) || errors.Is(err, at.ErrMalformed)
}
