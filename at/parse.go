package at

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformed is returned when a notification or reply does not have
// the expected field layout.
var ErrMalformed = errors.New("malformed response")

// StoredMessage identifies a message slot announced by +CMTI or +CDSI.
type StoredMessage struct {
	Storage string
	Index   int
}

// ParseStoredMessage parses a `<mem>,<index>` payload. The storage name
// may or may not be quoted; quotes are removed.
func ParseStoredMessage(payload string) (StoredMessage, error) {
	mem, idx, ok := strings.Cut(payload, ",")
	if !ok {
		return StoredMessage{}, fmt.Errorf("%w: stored message %q", ErrMalformed, payload)
	}
	index, err := strconv.Atoi(strings.TrimSpace(idx))
	if err != nil || index < 0 {
		return StoredMessage{}, fmt.Errorf("%w: stored message index %q", ErrMalformed, idx)
	}
	return StoredMessage{
		Storage: strings.Trim(strings.TrimSpace(mem), `"`),
		Index:   index,
	}, nil
}

// ReadHeader is the first reply line of a PDU mode read:
// +CMGR: <stat>,[<alpha>],<length>
type ReadHeader struct {
	Status   int
	Reserved string
	Length   int
}

// ParseReadHeader parses the +CMGR header line.
func ParseReadHeader(line string) (ReadHeader, error) {
	rest, ok := strings.CutPrefix(line, ReadReply)
	if !ok {
		return ReadHeader{}, fmt.Errorf("%w: read header %q", ErrMalformed, line)
	}
	fields := strings.Split(strings.TrimSpace(rest), ",")
	if len(fields) != 3 {
		return ReadHeader{}, fmt.Errorf("%w: read header %q", ErrMalformed, line)
	}
	status, err := strconv.Atoi(strings.TrimSpace(fields[0]))
	if err != nil {
		return ReadHeader{}, fmt.Errorf("%w: read status %q", ErrMalformed, fields[0])
	}
	length, err := strconv.Atoi(strings.TrimSpace(fields[2]))
	if err != nil {
		return ReadHeader{}, fmt.Errorf("%w: read length %q", ErrMalformed, fields[2])
	}
	return ReadHeader{
		Status:   status,
		Reserved: strings.TrimSpace(fields[1]),
		Length:   length,
	}, nil
}

// ErrorCode reports whether line is a +CMS ERROR or +CME ERROR report
// and returns the device supplied code.
func ErrorCode(line string) (string, bool) {
	for _, prefix := range []string{CmsError, CmeError} {
		if code, ok := strings.CutPrefix(line, prefix); ok {
			return strings.TrimSpace(code), true
		}
	}
	return "", false
}
