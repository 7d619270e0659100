// Package pdu decodes the PDU mode payload of stored messages with
// github.com/warthog618/sms.
package pdu

import (
	"errors"
	"fmt"
	"strings"

	"github.com/warthog618/sms"
	"github.com/warthog618/sms/encoding/pdumode"
	"github.com/warthog618/sms/encoding/tpdu"
	"i4.energy/across/smsrx/modem"
)

// ErrUnsupportedType is returned for TPDUs that are neither SMS-DELIVER
// nor SMS-STATUS-REPORT.
var ErrUnsupportedType = errors.New("unsupported tpdu type")

// Decoder implements modem.Decoder for single segment messages.
type Decoder struct{}

var _ modem.Decoder = Decoder{}

// Decode parses the hex PDU as returned by AT+CMGR in PDU mode. The
// leading SMSC address is skipped.
func (Decoder) Decode(s string) (*modem.Message, error) {
	p, err := pdumode.UnmarshalHexString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("pdu: %w", err)
	}
	t, err := sms.Unmarshal(p.TPDU)
	if err != nil {
		return nil, fmt.Errorf("tpdu: %w", err)
	}

	switch t.SmsType() {
	case tpdu.SmsDeliver:
		text, err := sms.Decode([]*tpdu.TPDU{t})
		if err != nil {
			return nil, fmt.Errorf("user data: %w", err)
		}
		return &modem.Message{
			Sender:    t.OA.Number(),
			Timestamp: t.SCTS.Time,
			Text:      string(text),
		}, nil
	case tpdu.SmsStatusReport:
		return &modem.Message{
			Sender:    t.RA.Number(),
			Timestamp: t.DT.Time,
			Text:      statusText(t.ST),
			Report:    true,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, t.SmsType())
	}
}

// statusText renders a TP-Status octet (3GPP TS 23.040 9.2.3.15).
func statusText(st byte) string {
	switch {
	case st == 0x00:
		return "delivered"
	case st <= 0x1f:
		return fmt.Sprintf("completed (status 0x%02x)", st)
	case st <= 0x3f:
		return fmt.Sprintf("pending (status 0x%02x)", st)
	default:
		return fmt.Sprintf("failed (status 0x%02x)", st)
	}
}
