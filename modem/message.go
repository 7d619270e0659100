package modem

//go:generate go tool mockgen -source=message.go -destination=mock_decoder.go -package=modem

import (
	"context"
	"fmt"
	"time"

	"i4.energy/across/smsrx/at"
)

// EventMessage is the only event a handler can be registered for.
const EventMessage = "message"

// Message is a stored message read from the modem.
type Message struct {
	// Storage and Index locate the message on the device.
	Storage string
	Index   int
	// Status is the <stat> field of the read reply (0 unread, 1 read, ...).
	Status int
	// PDU is the hex payload exactly as returned by the modem.
	PDU string
	// Report is set for delivery status reports announced by +CDSI.
	Report bool

	// Set by the Decoder.
	Sender    string
	Timestamp time.Time
	Text      string
}

// Decoder turns the hex encoded PDU of a stored message into a Message.
// Implementations fill Sender, Timestamp, Text and, for status reports,
// Report.
type Decoder interface {
	Decode(pdu string) (*Message, error)
}

// MessageHandler receives every message retrieved by Run. A returned
// error is logged; it does not stop the loop.
type MessageHandler func(ctx context.Context, msg *Message) error

func checkHandler(event string, h MessageHandler) error {
	if event != EventMessage {
		return fmt.Errorf("%w: %q", ErrUnsupportedEvent, event)
	}
	if h == nil {
		return ErrNilHandler
	}
	return nil
}

// Handle registers h for event. Only EventMessage is accepted.
//
// On a connected modem the new message indications are enabled on the
// device first and h is stored only if the modem accepts them. On a
// disconnected modem the indications are enabled by the next Connect.
func (m *Modem) Handle(event string, h MessageHandler) error {
	if err := checkHandler(event, h); err != nil {
		return err
	}
	if m.closed.Load() {
		return ErrAlreadyClosed
	}
	if m.connected.Load() {
		if err := m.enableIndications(); err != nil {
			return err
		}
	}
	m.handlers[event] = h
	return nil
}

// enableIndications turns on +CMTI and +CDSI reporting.
func (m *Modem) enableIndications() error {
	i := m.config.indication
	if err := m.send(fmt.Sprintf(at.CmdNewMessageIndications, i.Mode, i.MT, i.BM, i.DS, i.BFR)); err != nil {
		return err
	}
	line, err := m.readLine()
	if err != nil {
		return err
	}
	if line != at.OK {
		return fmt.Errorf("%w: %q", ErrIndicationRejected, line)
	}
	return nil
}

// ReadMessage reads the message stored at index in the configured
// storage. The modem must be in PDU mode, which is its power-on default.
//
// Errors reported by the modem are returned as *DeviceError wrapping
// ErrRetrieval; an undecodable payload as ErrDecode. A +CMTI arriving
// between the echo and the +CMGR header is taken as the header, so the
// read fails and the message it announced is left unread on the SIM.
func (m *Modem) ReadMessage(index int) (*Message, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}

	cmd := fmt.Sprintf(at.CmdReadMessage, index)
	if err := m.send(cmd); err != nil {
		return nil, err
	}

	line, err := m.readLine()
	if err != nil {
		return nil, err
	}
	if code, ok := at.ErrorCode(line); ok {
		return nil, &DeviceError{Err: ErrRetrieval, Command: at.Prefix + cmd, Index: index, Code: code}
	}
	header, err := at.ParseReadHeader(line)
	if err != nil {
		return nil, &DeviceError{Err: ErrRetrieval, Command: at.Prefix + cmd, Index: index, Reply: line}
	}

	pdu, err := m.readLine()
	if err != nil {
		return nil, err
	}
	// blank separator
	if _, err := m.readLine(); err != nil {
		return nil, err
	}
	final, err := m.readLine()
	if err != nil {
		return nil, err
	}
	if final != at.OK {
		return nil, &DeviceError{Err: ErrRetrieval, Command: at.Prefix + cmd, Index: index, Reply: final}
	}

	decoded, err := m.config.decoder.Decode(pdu)
	if err != nil {
		return nil, fmt.Errorf("%w %d: %w", ErrDecode, index, err)
	}
	if decoded == nil {
		return nil, fmt.Errorf("%w %d: empty result", ErrDecode, index)
	}
	msg := *decoded
	msg.Storage = m.config.storage
	msg.Index = index
	msg.Status = header.Status
	msg.PDU = pdu
	return &msg, nil
}

// DeleteMessage frees the storage slot at index.
func (m *Modem) DeleteMessage(index int) error {
	if err := m.ready(); err != nil {
		return err
	}

	cmd := fmt.Sprintf(at.CmdDeleteMessage, index)
	if err := m.send(cmd); err != nil {
		return err
	}
	line, err := m.readLine()
	if err != nil {
		return err
	}
	if code, ok := at.ErrorCode(line); ok {
		return &DeviceError{Err: ErrDeletion, Command: at.Prefix + cmd, Index: index, Code: code}
	}
	if line != at.OK {
		return &DeviceError{Err: ErrDeletion, Command: at.Prefix + cmd, Index: index, Reply: line}
	}
	return nil
}

// stored validates the storage area of a +CMTI/+CDSI payload.
func (m *Modem) stored(n at.Notification) (at.StoredMessage, error) {
	sm, err := at.ParseStoredMessage(n.Payload)
	if err != nil {
		return at.StoredMessage{}, err
	}
	if sm.Storage != m.config.storage {
		return at.StoredMessage{}, fmt.Errorf("%w: %q, want %q", ErrUnexpectedStorage, sm.Storage, m.config.storage)
	}
	return sm, nil
}

func (m *Modem) handleNewMessage(ctx context.Context, n at.Notification) error {
	sm, err := m.stored(n)
	if err != nil {
		return err
	}
	msg, err := m.ReadMessage(sm.Index)
	if err != nil {
		return err
	}

	var deleteErr error
	if m.config.deleteAfterRead {
		deleteErr = m.DeleteMessage(sm.Index)
		if deleteErr != nil && !recoverable(deleteErr) {
			return deleteErr
		}
	}

	m.deliver(ctx, msg)
	return deleteErr
}

func (m *Modem) handleStatusReport(ctx context.Context, n at.Notification) error {
	sm, err := m.stored(n)
	if err != nil {
		return err
	}
	msg, err := m.ReadMessage(sm.Index)
	if err != nil {
		return err
	}
	msg.Report = true

	m.deliver(ctx, msg)
	return nil
}

func (m *Modem) deliver(ctx context.Context, msg *Message) {
	h := m.handlers[EventMessage]
	if h == nil {
		m.logger.Warn("No message handler registered, dropping message", "index", msg.Index, "sender", msg.Sender)
		return
	}
	if err := h(ctx, msg); err != nil {
		m.logger.Error("Message handler failed", "error", err, "index", msg.Index, "sender", msg.Sender)
	}
}
