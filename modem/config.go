package modem

import (
	"log/slog"
	"time"

	"i4.energy/across/smsrx/at"
)

// TimeoutScope selects which part of a session the read timeout covers.
type TimeoutScope int

const (
	// TimeoutSession keeps the read timeout for the whole session. An idle
	// modem ends the session once the timeout elapses.
	TimeoutSession TimeoutScope = iota
	// TimeoutHandshake applies the read timeout to the reset handshake
	// only and waits indefinitely afterwards.
	TimeoutHandshake
)

func (s TimeoutScope) String() string {
	if s == TimeoutHandshake {
		return "handshake"
	}
	return "session"
}

// Indication holds the five AT+CNMI parameters.
type Indication struct {
	// Mode 2: report immediately, buffer on the device while busy.
	Mode int
	// MT 1: store the message and send +CMTI.
	MT int
	// BM is the cell broadcast setting, unused here.
	BM int
	// DS controls delivery report forwarding: 1 routes status reports
	// to the terminal, 2 stores them and sends +CDSI.
	DS int
	// BFR 0: flush buffered indications to the terminal on enable.
	BFR int
}

// Hooks receive the spontaneous notifications the reader swallows. Nil
// hooks do nothing.
type Hooks struct {
	Boot    func(line string)
	Ring    func(line string)
	CallEnd func(line string)
}

// Profile bundles the settings that differ between the two known
// deployments of the receiver.
type Profile struct {
	ReadTimeout     time.Duration
	TimeoutScope    TimeoutScope
	Indication      Indication
	DeleteAfterRead bool
}

var (
	// ProfileDeleteOnRead frees each storage slot as soon as the message
	// has been read and keeps the read timeout for the whole session.
	ProfileDeleteOnRead = Profile{
		ReadTimeout:     5 * time.Second,
		TimeoutScope:    TimeoutSession,
		Indication:      Indication{Mode: 2, MT: 1, BM: 0, DS: 2, BFR: 0},
		DeleteAfterRead: true,
	}

	// ProfileRetain leaves stored messages on the device for external
	// management and only bounds the handshake.
	ProfileRetain = Profile{
		ReadTimeout:     5 * time.Second,
		TimeoutScope:    TimeoutHandshake,
		Indication:      Indication{Mode: 2, MT: 1, BM: 0, DS: 1, BFR: 0},
		DeleteAfterRead: false,
	}
)

// Config is the immutable configuration of a Modem. Build it with
// NewConfigBuilder.
type Config struct {
	dialer          Dialer
	decoder         Decoder
	logger          *slog.Logger
	storage         string
	readTimeout     time.Duration
	timeoutScope    TimeoutScope
	indication      Indication
	deleteAfterRead bool
	hooks           Hooks
	handlers        map[string]MessageHandler
}

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	if c.decoder == nil {
		return ErrNoDecoder
	}
	for event, h := range c.handlers {
		if err := checkHandler(event, h); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.storage == "" {
		c.storage = at.StorageSIM
	}
}

// ConfigBuilder assembles a Config. It starts from ProfileDeleteOnRead.
type ConfigBuilder struct {
	config Config
}

// NewConfigBuilder returns a builder preloaded with ProfileDeleteOnRead.
func NewConfigBuilder() *ConfigBuilder {
	b := &ConfigBuilder{}
	return b.WithProfile(ProfileDeleteOnRead)
}

// WithDialer sets how Connect opens the transport.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

// WithDecoder sets the payload decoder used by ReadMessage.
func (b *ConfigBuilder) WithDecoder(d Decoder) *ConfigBuilder {
	b.config.decoder = d
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

// WithStorage sets the message store notifications must refer to.
func (b *ConfigBuilder) WithStorage(storage string) *ConfigBuilder {
	b.config.storage = storage
	return b
}

// WithProfile overwrites timeout, indication and delete settings.
func (b *ConfigBuilder) WithProfile(p Profile) *ConfigBuilder {
	b.config.readTimeout = p.ReadTimeout
	b.config.timeoutScope = p.TimeoutScope
	b.config.indication = p.Indication
	b.config.deleteAfterRead = p.DeleteAfterRead
	return b
}

// WithReadTimeout sets the transport read timeout. Zero disables it.
func (b *ConfigBuilder) WithReadTimeout(d time.Duration) *ConfigBuilder {
	b.config.readTimeout = d
	return b
}

func (b *ConfigBuilder) WithTimeoutScope(s TimeoutScope) *ConfigBuilder {
	b.config.timeoutScope = s
	return b
}

func (b *ConfigBuilder) WithIndication(i Indication) *ConfigBuilder {
	b.config.indication = i
	return b
}

// WithDeleteAfterRead selects whether new messages are deleted from the
// device once read. Delivery status reports are never deleted.
func (b *ConfigBuilder) WithDeleteAfterRead(v bool) *ConfigBuilder {
	b.config.deleteAfterRead = v
	return b
}

func (b *ConfigBuilder) WithHooks(h Hooks) *ConfigBuilder {
	b.config.hooks = h
	return b
}

// WithHandler registers a handler that Connect enables on the device.
func (b *ConfigBuilder) WithHandler(event string, h MessageHandler) *ConfigBuilder {
	if b.config.handlers == nil {
		b.config.handlers = make(map[string]MessageHandler)
	}
	b.config.handlers[event] = h
	return b
}

// Build validates and returns the Config.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	c.handlers = make(map[string]MessageHandler, len(b.config.handlers))
	for event, h := range b.config.handlers {
		c.handlers[event] = h
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
