package modem_test

import (
	"fmt"
	"io"
	"time"

	gomock "go.uber.org/mock/gomock"
	"i4.energy/across/smsrx/modem"
)

const (
	// indications sent by ProfileDeleteOnRead
	indicationsDelete = "2,1,0,2,0"
	// indications sent by ProfileRetain
	indicationsRetain = "2,1,0,1,0"

	testPDU = "07917283010010F5040BC87238880900F10000993092516195800AE8329BFD4697D9EC37"
)

type MockSequenceBuilder struct {
	transport *modem.MockTransport
	calls     []any
}

func NewMockSequence(transport *modem.MockTransport) *MockSequenceBuilder {
	return &MockSequenceBuilder{
		transport: transport,
		calls:     []any{},
	}
}

// reply expects one Read that returns data.
func (b *MockSequenceBuilder) reply(data string) *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, data), nil
		}),
	)
	return b
}

// Command expects cmd to be written and answers with its echo and reply.
func (b *MockSequenceBuilder) Command(cmd, reply string) *MockSequenceBuilder {
	line := cmd + "\r"
	b.calls = append(b.calls,
		b.transport.EXPECT().Write([]byte(line)).Return(len(line), nil),
	)
	return b.reply(cmd + "\r\r\n" + reply)
}

func (b *MockSequenceBuilder) Timeout(d time.Duration) *MockSequenceBuilder {
	b.calls = append(b.calls, b.transport.EXPECT().SetReadTimeout(d).Return(nil))
	return b
}

func (b *MockSequenceBuilder) Flush() *MockSequenceBuilder {
	b.calls = append(b.calls, b.transport.EXPECT().ResetInputBuffer().Return(nil))
	return b
}

func (b *MockSequenceBuilder) Reset() *MockSequenceBuilder {
	return b.Command("ATZ", "OK\r\n")
}

func (b *MockSequenceBuilder) EnableIndications(params string) *MockSequenceBuilder {
	return b.Command("AT+CNMI="+params, "OK\r\n")
}

// Notify expects one Read that returns an unsolicited line.
func (b *MockSequenceBuilder) Notify(line string) *MockSequenceBuilder {
	return b.reply(line + "\r\n")
}

func (b *MockSequenceBuilder) ReadMessage(index, status int, pdu string) *MockSequenceBuilder {
	return b.Command(
		fmt.Sprintf("AT+CMGR=%d", index),
		fmt.Sprintf("+CMGR: %d,,%d\r\n%s\r\n\r\nOK\r\n", status, len(pdu)/2-8, pdu),
	)
}

func (b *MockSequenceBuilder) DeleteMessage(index int) *MockSequenceBuilder {
	return b.Command(fmt.Sprintf("AT+CMGD=%d", index), "OK\r\n")
}

// EOF expects the stream to end and the session to release the transport.
func (b *MockSequenceBuilder) EOF() *MockSequenceBuilder {
	b.calls = append(b.calls,
		b.transport.EXPECT().Read(gomock.Any()).Return(0, io.EOF),
		b.transport.EXPECT().Close().Return(nil),
	)
	return b
}

func (b *MockSequenceBuilder) Build() []any {
	return b.calls
}

// connectCalls is the default session opening: dial, session timeout,
// flush and reset.
func connectCalls(dialer *modem.MockDialer, transport *modem.MockTransport) []any {
	return append(
		[]any{dialer.EXPECT().Dial(gomock.Any()).Return(transport, nil)},
		NewMockSequence(transport).
			Timeout(5*time.Second).
			Flush().
			Reset().
			Build()...,
	)
}
