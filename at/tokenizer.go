package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing AT command modem output. It uses
// the signature of bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input on LF and strips every trailing CR, so a command
// echo such as "ATZ\r\r\n" yields "ATZ". Blank lines are returned as
// empty tokens; callers decide whether they are significant.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, bytes.TrimRight(data[:i], CR), nil
	}

	if atEOF {
		return len(data), bytes.TrimRight(data, CR), nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Kind tags a line read from the modem.
type Kind int

const (
	KindLine         Kind = iota // anything not listed below
	KindEmpty                    // blank line
	KindBoot                     // ^BOOT:
	KindRing                     // RING
	KindCallEnd                  // END:
	KindNewMessage               // +CMTI:
	KindStatusReport             // +CDSI:
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindBoot:
		return "boot"
	case KindRing:
		return "ring"
	case KindCallEnd:
		return "call-end"
	case KindNewMessage:
		return "new-message"
	case KindStatusReport:
		return "status-report"
	default:
		return "line"
	}
}

// Spontaneous reports whether lines of this kind are swallowed by the
// reader and never returned to a command or the dispatch loop.
func (k Kind) Spontaneous() bool {
	return k == KindBoot || k == KindRing || k == KindCallEnd
}

// Notification is a classified line. Payload holds the text following
// the matched prefix with surrounding spaces removed.
type Notification struct {
	Kind    Kind
	Line    string
	Payload string
}

var prefixes = []struct {
	prefix string
	kind   Kind
}{
	{UrcBoot, KindBoot},
	{UrcRing, KindRing},
	{UrcCallEnd, KindCallEnd},
	{UrcNewMsg, KindNewMessage},
	{UrcMessageReport, KindStatusReport},
}

// Classify identifies the nature of the modem output. It is the only
// place that knows the notification prefixes.
func Classify(line string) Notification {
	if line == "" {
		return Notification{Kind: KindEmpty}
	}
	for _, p := range prefixes {
		if rest, ok := strings.CutPrefix(line, p.prefix); ok {
			return Notification{Kind: p.kind, Line: line, Payload: strings.TrimSpace(rest)}
		}
	}
	return Notification{Kind: KindLine, Line: line}
}
