package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
	"i4.energy/across/smsrx/modem"
)

// Config holds the application configuration
type Config struct {
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB4")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// BindAddress is the address the status server listens on. Empty disables it.
	BindAddress string `yaml:"bind_address"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`

	// Profile selects the message lifecycle: "delete" or "retain"
	Profile string `yaml:"profile"`
	// ReadTimeout overrides the profile's read timeout when set. Zero
	// disables it.
	ReadTimeout *time.Duration `yaml:"read_timeout"`
	// TimeoutScope overrides the profile's timeout scope: "session" or "handshake"
	TimeoutScope string `yaml:"timeout_scope"`

	// RecentSize is how many messages the status server lists
	RecentSize int `yaml:"recent_size"`
	// RelayAddress is the host:port of a line based chat relay
	RelayAddress string `yaml:"relay_address"`
	WebhookURL   string `yaml:"webhook_url"`
	NSQAddress   string `yaml:"nsq_address"`
	NSQTopic     string `yaml:"nsq_topic"`
	RedisAddress string `yaml:"redis_address"`
	RedisKey     string `yaml:"redis_key"`
	// RedisMax caps the Redis list length, 0 keeps everything
	RedisMax     int64  `yaml:"redis_max"`
	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTClientID string `yaml:"mqtt_client_id"`
	MQTTTopic    string `yaml:"mqtt_topic"`
	MQTTUsername string `yaml:"mqtt_username"`
	MQTTPassword string `yaml:"mqtt_password"`
	// RateLimit is the maximum number of messages per minute forwarded to
	// the external sinks, 0 disables limiting
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is how many messages may pass at once, at least 1 when
	// RateLimit is set
	RateBurst int `yaml:"rate_burst"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.SerialPort = "/dev/ttyUSB4"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.Profile = "delete"
		c.RecentSize = 50
		c.NSQTopic = "sms"
		c.RedisKey = "sms:received"
		c.RedisMax = 1000
		c.MQTTClientID = "smsrx"
		c.MQTTTopic = "sms/received"
		c.RateBurst = 10
		return nil
	}
}

// WithFile overlays the keys present in a YAML file. An empty path is a
// no-op.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithDotEnv loads variables from the given .env files into the process
// environment for WithEnv to pick up. Variables already set win, and
// missing files are skipped.
func WithDotEnv(paths ...string) ConfigOption {
	return func(c *Config) error {
		for _, p := range paths {
			if p == "" {
				continue
			}
			if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", p, err)
			}
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		strs := map[string]*string{
			"SERIAL_PORT":    &c.SerialPort,
			"BIND_ADDRESS":   &c.BindAddress,
			"LOG_LEVEL":      &c.LogLevel,
			"PROFILE":        &c.Profile,
			"TIMEOUT_SCOPE":  &c.TimeoutScope,
			"RELAY_ADDRESS":  &c.RelayAddress,
			"WEBHOOK_URL":    &c.WebhookURL,
			"NSQ_ADDRESS":    &c.NSQAddress,
			"NSQ_TOPIC":      &c.NSQTopic,
			"REDIS_ADDRESS":  &c.RedisAddress,
			"REDIS_KEY":      &c.RedisKey,
			"MQTT_BROKER":    &c.MQTTBroker,
			"MQTT_CLIENT_ID": &c.MQTTClientID,
			"MQTT_TOPIC":     &c.MQTTTopic,
			"MQTT_USERNAME":  &c.MQTTUsername,
			"MQTT_PASSWORD":  &c.MQTTPassword,
		}
		for name, dst := range strs {
			if v := os.Getenv(name); v != "" {
				*dst = v
			}
		}

		if baud := os.Getenv("BAUD_RATE"); baud != "" {
			b, err := strconv.Atoi(baud)
			if err != nil {
				return fmt.Errorf("BAUD_RATE: %w", err)
			}
			c.BaudRate = b
		}

		if timeout := os.Getenv("READ_TIMEOUT"); timeout != "" {
			d, err := time.ParseDuration(timeout)
			if err != nil {
				return fmt.Errorf("READ_TIMEOUT: %w", err)
			}
			c.ReadTimeout = &d
		}

		if size := os.Getenv("RECENT_SIZE"); size != "" {
			n, err := strconv.Atoi(size)
			if err != nil {
				return fmt.Errorf("RECENT_SIZE: %w", err)
			}
			c.RecentSize = n
		}

		if limit := os.Getenv("REDIS_MAX"); limit != "" {
			n, err := strconv.ParseInt(limit, 10, 64)
			if err != nil {
				return fmt.Errorf("REDIS_MAX: %w", err)
			}
			c.RedisMax = n
		}

		if limit := os.Getenv("RATE_LIMIT"); limit != "" {
			f, err := strconv.ParseFloat(limit, 64)
			if err != nil {
				return fmt.Errorf("RATE_LIMIT: %w", err)
			}
			c.RateLimit = f
		}

		if burst := os.Getenv("RATE_BURST"); burst != "" {
			n, err := strconv.Atoi(burst)
			if err != nil {
				return fmt.Errorf("RATE_BURST: %w", err)
			}
			c.RateBurst = n
		}

		return nil
	}
}

// WithFlags loads configuration from command-line flags that were set
// explicitly
func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var errs []error
		fSet.Visit(func(f *flag.Flag) {
			var err error
			v := f.Value.String()
			switch f.Name {
			case "serial-port":
				c.SerialPort = v
			case "baud-rate":
				c.BaudRate, err = strconv.Atoi(v)
			case "bind-address":
				c.BindAddress = v
			case "log-level":
				c.LogLevel = v
			case "profile":
				c.Profile = v
			case "read-timeout":
				var d time.Duration
				if d, err = time.ParseDuration(v); err == nil {
					c.ReadTimeout = &d
				}
			case "timeout-scope":
				c.TimeoutScope = v
			case "recent-size":
				c.RecentSize, err = strconv.Atoi(v)
			case "relay-address":
				c.RelayAddress = v
			case "webhook-url":
				c.WebhookURL = v
			case "nsq-address":
				c.NSQAddress = v
			case "redis-address":
				c.RedisAddress = v
			case "mqtt-broker":
				c.MQTTBroker = v
			case "rate-limit":
				c.RateLimit, err = strconv.ParseFloat(v, 64)
			case "rate-burst":
				c.RateBurst, err = strconv.Atoi(v)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("-%s: %w", f.Name, err))
			}
		})
		return errors.Join(errs...)
	}
}

// WithArgs takes the serial port from the first positional argument.
func WithArgs(args []string) ConfigOption {
	return func(c *Config) error {
		if len(args) > 0 && args[0] != "" {
			c.SerialPort = args[0]
		}
		return nil
	}
}

// ModemProfile resolves Profile and its overrides.
func (c *Config) ModemProfile() (modem.Profile, error) {
	var p modem.Profile
	switch c.Profile {
	case "delete", "":
		p = modem.ProfileDeleteOnRead
	case "retain":
		p = modem.ProfileRetain
	default:
		return p, fmt.Errorf("unknown profile %q", c.Profile)
	}

	if c.ReadTimeout != nil {
		if *c.ReadTimeout < 0 {
			return p, fmt.Errorf("negative read timeout %v", *c.ReadTimeout)
		}
		p.ReadTimeout = *c.ReadTimeout
	}
	switch c.TimeoutScope {
	case "":
	case "session":
		p.TimeoutScope = modem.TimeoutSession
	case "handshake":
		p.TimeoutScope = modem.TimeoutHandshake
	default:
		return p, fmt.Errorf("unknown timeout scope %q", c.TimeoutScope)
	}
	return p, nil
}
