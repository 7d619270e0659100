package modem_test

import (
	"context"
	"errors"
	"io"
	"slices"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
	"i4.energy/across/smsrx/modem"
)

// collect returns a handler that appends every delivered message to got.
func collect(got *[]*modem.Message) modem.MessageHandler {
	return func(_ context.Context, msg *modem.Message) error {
		*got = append(*got, msg)
		return nil
	}
}

func TestModemNew(t *testing.T) {
	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		m, err := modem.New(modem.Config{})
		if !errors.Is(err, modem.ErrNoDialer) {
			t.Errorf("expected ErrNoDialer from New(), got: %v", err)
		}
		if m != nil {
			t.Error("New() should return nil modem when no dialer provided")
		}
	})

	t.Run("No I/O before Connect", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		config, err := modem.NewConfigBuilder().
			WithDialer(modem.NewMockDialer(ctrl)).
			WithDecoder(modem.NewMockDecoder(ctrl)).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		if m.Connected() {
			t.Error("new modem should not be connected")
		}
		if _, err := m.ReadMessage(1); !errors.Is(err, modem.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected from ReadMessage(), got: %v", err)
		}
		if err := m.Run(context.Background()); !errors.Is(err, modem.ErrNotConnected) {
			t.Errorf("expected ErrNotConnected from Run(), got: %v", err)
		}
	})
}

func TestModemConnect(t *testing.T) {
	t.Run("Handshake success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			[]any{mockTransport.EXPECT().Close().Return(nil)},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error from Connect(): %v", err)
		}
		if !m.Connected() {
			t.Error("modem should be connected after handshake")
		}
		if err := m.Connect(context.Background()); !errors.Is(err, modem.ErrAlreadyConnected) {
			t.Errorf("expected ErrAlreadyConnected, got: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
		if m.Connected() {
			t.Error("closed modem should not report connected")
		}
	})

	t.Run("Enables indications for registered handler", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			NewMockSequence(mockTransport).EnableIndications(indicationsDelete).Build(),
			[]any{mockTransport.EXPECT().Close().Return(nil)},
		)...)

		var got []*modem.Message
		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)).
			WithHandler(modem.EventMessage, collect(&got)).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error from Connect(): %v", err)
		}
		m.Close()
	})

	t.Run("Handshake scope clears the read timeout", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			NewMockSequence(mockTransport).Timeout(0).Build(),
			[]any{mockTransport.EXPECT().Close().Return(nil)},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)).
			WithProfile(modem.ProfileRetain).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error from Connect(): %v", err)
		}
		m.Close()
	})

	t.Run("No timeout set when disabled", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			[]any{mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)},
			NewMockSequence(mockTransport).Flush().Reset().Build(),
			[]any{mockTransport.EXPECT().Close().Return(nil)},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)).
			WithReadTimeout(0).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error from Connect(): %v", err)
		}
		m.Close()
	})

	t.Run("Dialer error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		dialErr := errors.New("connection failed")
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, dialErr)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		err = m.Connect(context.Background())
		if !errors.Is(err, modem.ErrTransport) || !errors.Is(err, dialErr) {
			t.Errorf("expected wrapped dial error, got: %v", err)
		}
		if m.Connected() {
			t.Error("modem should not be connected after dial failure")
		}
	})

	t.Run("ErrNotInitialized on nil transport", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockDialer := modem.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, nil)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		if err := m.Connect(context.Background()); !errors.Is(err, modem.ErrNotInitialized) {
			t.Errorf("expected ErrNotInitialized from Connect(), got: %v", err)
		}
	})

	handshakeFailures := []struct {
		name    string
		reply   string
		wantErr error
	}{
		{"Reset answered with ERROR", "ATZ\r\r\nERROR\r\n", modem.ErrHandshakeFailed},
		{"Echo does not match", "AT\r\nOK\r\n", modem.ErrEchoMismatch},
		{"Stream ends before OK", "ATZ\r\r\n", modem.ErrEndOfStream},
	}
	for _, tc := range handshakeFailures {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			mockTransport := modem.NewMockTransport(ctrl)
			mockDialer := modem.NewMockDialer(ctrl)

			gomock.InOrder(
				mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
				mockTransport.EXPECT().SetReadTimeout(5*time.Second).Return(nil),
				mockTransport.EXPECT().ResetInputBuffer().Return(nil),
				mockTransport.EXPECT().Write([]byte("ATZ\r")).Return(4, nil),
				mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
					return copy(p, tc.reply), nil
				}),
				mockTransport.EXPECT().Read(gomock.Any()).Return(0, io.EOF).AnyTimes(),
				mockTransport.EXPECT().Close().Return(nil),
			)

			config, err := modem.NewConfigBuilder().
				WithDialer(mockDialer).
				WithDecoder(modem.NewMockDecoder(ctrl)).
				Build()
			if err != nil {
				t.Fatalf("unexpected error from Build(): %v", err)
			}

			m, err := modem.New(config)
			if err != nil {
				t.Fatalf("unexpected error from New(): %v", err)
			}
			if err := m.Connect(context.Background()); !errors.Is(err, tc.wantErr) {
				t.Errorf("expected %v, got: %v", tc.wantErr, err)
			}
			if m.Connected() {
				t.Error("modem should stay disconnected after a failed handshake")
			}
		})
	}

	t.Run("Read timeout during handshake", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(
			mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil),
			mockTransport.EXPECT().SetReadTimeout(5*time.Second).Return(nil),
			mockTransport.EXPECT().ResetInputBuffer().Return(nil),
			mockTransport.EXPECT().Write([]byte("ATZ\r")).Return(4, nil),
			mockTransport.EXPECT().Read(gomock.Any()).Return(0, modem.ErrReadTimeout),
			mockTransport.EXPECT().Close().Return(nil),
		)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		err = m.Connect(context.Background())
		if !errors.Is(err, modem.ErrReadTimeout) || !errors.Is(err, modem.ErrTransport) {
			t.Errorf("expected read timeout transport error, got: %v", err)
		}
	})

	t.Run("Spontaneous lines during handshake reach their hook", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			[]any{mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)},
			NewMockSequence(mockTransport).
				Timeout(5*time.Second).
				Flush().
				Command("ATZ", "^BOOT:12345,0,0,0,6\r\nRING\r\nOK\r\n").
				Build(),
			[]any{mockTransport.EXPECT().Close().Return(nil)},
		)...)

		var boots, rings []string
		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)).
			WithHooks(modem.Hooks{
				Boot: func(line string) { boots = append(boots, line) },
				Ring: func(line string) { rings = append(rings, line) },
			}).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error from Connect(): %v", err)
		}
		m.Close()

		if len(boots) != 1 || boots[0] != "^BOOT:12345,0,0,0,6" {
			t.Errorf("unexpected boot notifications: %q", boots)
		}
		if len(rings) != 1 {
			t.Errorf("expected one RING, got: %q", rings)
		}
	})
}

func TestModemClose(t *testing.T) {
	t.Run("Returns transport error on close failure", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		closeError := errors.New("transport close failed")
		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			[]any{mockTransport.EXPECT().Close().Return(closeError)},
		)...)

		config, err := modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error from Connect(): %v", err)
		}
		if err := m.Close(); err != closeError {
			t.Errorf("expected transport error, got: %v", err)
		}
	})

	t.Run("ErrAlreadyClosed on double close", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		config, err := modem.NewConfigBuilder().
			WithDialer(modem.NewMockDialer(ctrl)).
			WithDecoder(modem.NewMockDecoder(ctrl)).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		m, err := modem.New(config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		if err := m.Close(); err != nil {
			t.Errorf("first close should succeed, got error: %v", err)
		}
		if err := m.Close(); err != modem.ErrAlreadyClosed {
			t.Errorf("expected ErrAlreadyClosed on second close, got: %v", err)
		}
		if err := m.Connect(context.Background()); err != modem.ErrAlreadyClosed {
			t.Errorf("expected ErrAlreadyClosed from Connect(), got: %v", err)
		}
	})
}

func TestModemRun(t *testing.T) {
	// newSession connects a modem over mockTransport with the given
	// builder; the caller has already set the full expectation order.
	newSession := func(t *testing.T, b *modem.ConfigBuilder) *modem.Modem {
		t.Helper()
		config, err := b.Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}
		m, err := modem.New(config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		if err := m.Connect(context.Background()); err != nil {
			t.Fatalf("unexpected error from Connect(): %v", err)
		}
		return m
	}

	t.Run("Stops on end of stream", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			NewMockSequence(mockTransport).EOF().Build(),
		)...)

		m := newSession(t, modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)))

		if err := m.Run(context.Background()); !errors.Is(err, modem.ErrEndOfStream) {
			t.Errorf("expected ErrEndOfStream, got: %v", err)
		}
		if err := m.Close(); err != modem.ErrAlreadyClosed {
			t.Errorf("expected the session to be closed, got: %v", err)
		}
	})

	t.Run("Stops on cancelled context", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			[]any{mockTransport.EXPECT().Close().Return(nil)},
		)...)

		m := newSession(t, modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
	})

	t.Run("Reads, deletes and delivers a new message", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)
		mockDecoder := modem.NewMockDecoder(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			NewMockSequence(mockTransport).
				EnableIndications(indicationsDelete).
				Notify(`+CMTI: "SM",3`).
				ReadMessage(3, 0, testPDU).
				DeleteMessage(3).
				EOF().
				Build(),
		)...)
		mockDecoder.EXPECT().Decode(testPDU).Return(&modem.Message{Sender: "+27838890001", Text: "hellohello"}, nil)

		var got []*modem.Message
		m := newSession(t, modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(mockDecoder).
			WithHandler(modem.EventMessage, collect(&got)))

		if err := m.Run(context.Background()); !errors.Is(err, modem.ErrEndOfStream) {
			t.Errorf("expected ErrEndOfStream, got: %v", err)
		}

		if len(got) != 1 {
			t.Fatalf("expected one message, got %d", len(got))
		}
		msg := got[0]
		if msg.Index != 3 || msg.Storage != "SM" || msg.PDU != testPDU {
			t.Errorf("unexpected message location: %+v", msg)
		}
		if msg.Text != "hellohello" || msg.Sender != "+27838890001" || msg.Report {
			t.Errorf("unexpected message content: %+v", msg)
		}
	})

	t.Run("Retain profile keeps the message on the device", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)
		mockDecoder := modem.NewMockDecoder(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			NewMockSequence(mockTransport).
				Timeout(0).
				EnableIndications(indicationsRetain).
				Notify(`+CMTI: "SM",3`).
				ReadMessage(3, 0, testPDU).
				EOF().
				Build(),
		)...)
		mockDecoder.EXPECT().Decode(testPDU).Return(&modem.Message{Text: "hellohello"}, nil)

		var got []*modem.Message
		m := newSession(t, modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(mockDecoder).
			WithProfile(modem.ProfileRetain).
			WithHandler(modem.EventMessage, collect(&got)))

		if err := m.Run(context.Background()); !errors.Is(err, modem.ErrEndOfStream) {
			t.Errorf("expected ErrEndOfStream, got: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("expected one message, got %d", len(got))
		}
	})

	t.Run("Status report is delivered and never deleted", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)
		mockDecoder := modem.NewMockDecoder(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			NewMockSequence(mockTransport).
				EnableIndications(indicationsDelete).
				Notify(`+CDSI: SM,4`).
				ReadMessage(4, 0, testPDU).
				EOF().
				Build(),
		)...)
		mockDecoder.EXPECT().Decode(testPDU).Return(&modem.Message{}, nil)

		var got []*modem.Message
		m := newSession(t, modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(mockDecoder).
			WithHandler(modem.EventMessage, collect(&got)))

		if err := m.Run(context.Background()); !errors.Is(err, modem.ErrEndOfStream) {
			t.Errorf("expected ErrEndOfStream, got: %v", err)
		}
		if len(got) != 1 || !got[0].Report || got[0].Index != 4 {
			t.Errorf("expected one status report at index 4, got: %+v", got)
		}
	})

	t.Run("Device error keeps the loop running", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)
		mockDecoder := modem.NewMockDecoder(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			NewMockSequence(mockTransport).
				EnableIndications(indicationsDelete).
				Notify(`+CMTI: "SM",5`).
				Command("AT+CMGR=5", "+CMS ERROR: 321\r\n").
				Notify(`+CMTI: "SM",6`).
				ReadMessage(6, 0, testPDU).
				DeleteMessage(6).
				EOF().
				Build(),
		)...)
		mockDecoder.EXPECT().Decode(testPDU).Return(&modem.Message{}, nil)

		var got []*modem.Message
		m := newSession(t, modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(mockDecoder).
			WithHandler(modem.EventMessage, collect(&got)))

		if err := m.Run(context.Background()); !errors.Is(err, modem.ErrEndOfStream) {
			t.Errorf("expected ErrEndOfStream, got: %v", err)
		}
		if len(got) != 1 || got[0].Index != 6 {
			t.Errorf("expected only message 6 to be delivered, got: %+v", got)
		}
	})

	t.Run("Decode failure keeps the loop running", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)
		mockDecoder := modem.NewMockDecoder(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			NewMockSequence(mockTransport).
				EnableIndications(indicationsDelete).
				Notify(`+CMTI: "SM",3`).
				ReadMessage(3, 0, testPDU).
				EOF().
				Build(),
		)...)
		mockDecoder.EXPECT().Decode(testPDU).Return(nil, errors.New("bad pdu"))

		var got []*modem.Message
		m := newSession(t, modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(mockDecoder).
			WithHandler(modem.EventMessage, collect(&got)))

		if err := m.Run(context.Background()); !errors.Is(err, modem.ErrEndOfStream) {
			t.Errorf("expected ErrEndOfStream, got: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("undecodable message should not be delivered, got: %+v", got)
		}
	})

	t.Run("Failed delete still delivers", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)
		mockDecoder := modem.NewMockDecoder(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			NewMockSequence(mockTransport).
				EnableIndications(indicationsDelete).
				Notify(`+CMTI: "SM",3`).
				ReadMessage(3, 0, testPDU).
				Command("AT+CMGD=3", "+CMS ERROR: 500\r\n").
				EOF().
				Build(),
		)...)
		mockDecoder.EXPECT().Decode(testPDU).Return(&modem.Message{}, nil)

		var got []*modem.Message
		m := newSession(t, modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(mockDecoder).
			WithHandler(modem.EventMessage, collect(&got)))

		if err := m.Run(context.Background()); !errors.Is(err, modem.ErrEndOfStream) {
			t.Errorf("expected ErrEndOfStream, got: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("expected the message to be delivered, got %d", len(got))
		}
	})

	t.Run("Handler error does not stop the loop", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)
		mockDecoder := modem.NewMockDecoder(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			NewMockSequence(mockTransport).
				EnableIndications(indicationsDelete).
				Notify(`+CMTI: "SM",1`).
				ReadMessage(1, 0, testPDU).
				DeleteMessage(1).
				Notify(`+CMTI: "SM",2`).
				ReadMessage(2, 0, testPDU).
				DeleteMessage(2).
				EOF().
				Build(),
		)...)
		mockDecoder.EXPECT().Decode(testPDU).DoAndReturn(func(string) (*modem.Message, error) {
			return &modem.Message{}, nil
		}).Times(2)

		calls := 0
		m := newSession(t, modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(mockDecoder).
			WithHandler(modem.EventMessage, func(context.Context, *modem.Message) error {
				calls++
				return errors.New("sink unavailable")
			}))

		if err := m.Run(context.Background()); !errors.Is(err, modem.ErrEndOfStream) {
			t.Errorf("expected ErrEndOfStream, got: %v", err)
		}
		if calls != 2 {
			t.Errorf("expected handler to run twice, got %d", calls)
		}
	})

	t.Run("Unexpected storage is fatal", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			NewMockSequence(mockTransport).
				Notify(`+CMTI: "ME",1`).
				Build(),
			[]any{mockTransport.EXPECT().Close().Return(nil)},
		)...)

		m := newSession(t, modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)))

		if err := m.Run(context.Background()); !errors.Is(err, modem.ErrUnexpectedStorage) {
			t.Errorf("expected ErrUnexpectedStorage, got: %v", err)
		}
	})

	t.Run("Ignores unrelated lines", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			NewMockSequence(mockTransport).
				Notify("").
				Notify("+CREG: 1").
				Notify("END:1,0,0").
				EOF().
				Build(),
		)...)

		m := newSession(t, modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)))

		if err := m.Run(context.Background()); !errors.Is(err, modem.ErrEndOfStream) {
			t.Errorf("expected ErrEndOfStream, got: %v", err)
		}
	})

	t.Run("ErrLoopRunning when Run is already active", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		mockTransport := modem.NewMockTransport(ctrl)
		mockDialer := modem.NewMockDialer(ctrl)

		reading := make(chan struct{})
		allowEOF := make(chan struct{})
		gomock.InOrder(slices.Concat(
			connectCalls(mockDialer, mockTransport),
			[]any{
				mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func(p []byte) (int, error) {
					close(reading)
					<-allowEOF
					return 0, io.EOF
				}),
				mockTransport.EXPECT().Close().Return(nil),
			},
		)...)

		m := newSession(t, modem.NewConfigBuilder().
			WithDialer(mockDialer).
			WithDecoder(modem.NewMockDecoder(ctrl)))

		loopDone := make(chan error, 1)
		go func() {
			loopDone <- m.Run(context.Background())
		}()

		<-reading
		if err := m.Run(context.Background()); !errors.Is(err, modem.ErrLoopRunning) {
			t.Errorf("expected ErrLoopRunning, got: %v", err)
		}

		close(allowEOF)
		if err := <-loopDone; !errors.Is(err, modem.ErrEndOfStream) {
			t.Errorf("expected ErrEndOfStream, got: %v", err)
		}
	})
}
