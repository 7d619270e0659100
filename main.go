package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.bug.st/serial"
	"i4.energy/across/smsrx/modem"
	"i4.energy/across/smsrx/pdu"
	"i4.energy/across/smsrx/sink"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [serial-port]\n", os.Args[0])
		flag.PrintDefaults()
	}
	configFile := flag.String("config", "", "Path to a YAML configuration file")
	envFile := flag.String("env-file", ".env", "Path to a .env file, skipped when missing")
	flag.String("serial-port", "/dev/ttyUSB4", "Serial port to connect to the modem")
	flag.Int("baud-rate", 115200, "Baud rate for serial communication")
	flag.String("bind-address", "", "Bind address for the status HTTP server (disabled when empty)")
	flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.String("profile", "delete", "Message lifecycle (delete, retain)")
	flag.Duration("read-timeout", 0, "Override the profile's read timeout (0 disables it)")
	flag.String("timeout-scope", "", "Override the profile's timeout scope (session, handshake)")
	flag.Int("recent-size", 50, "Number of messages listed by the status server")
	flag.String("relay-address", "", "host:port of a line based chat relay")
	flag.String("webhook-url", "", "URL that receives a JSON POST per message")
	flag.String("nsq-address", "", "nsqd address to publish messages to")
	flag.String("redis-address", "", "Redis address to push messages to")
	flag.String("mqtt-broker", "", "MQTT broker URL to publish messages to")
	flag.Float64("rate-limit", 0, "Maximum messages per minute forwarded to external sinks (0 disables)")
	flag.Int("rate-burst", 10, "Messages allowed through at once when rate limiting")
	flag.Parse()

	config, err := LoadConfig(
		WithDefaults(),
		WithFile(*configFile),
		WithDotEnv(*envFile),
		WithEnv(),
		WithFlags(flag.CommandLine),
		WithArgs(flag.Args()),
	)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if err := run(config, logger); err != nil {
		logger.Error("SMS receiver stopped", "error", err)
		os.Exit(1)
	}
}

func run(config *Config, logger *slog.Logger) error {
	profile, err := config.ModemProfile()
	if err != nil {
		return err
	}

	recent := sink.NewRecent(config.RecentSize)
	deliver, closers, err := buildSinks(config, recent, logger.With("component", "sink"))
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()
	if err != nil {
		return fmt.Errorf("create sinks: %w", err)
	}

	modemConfig, err := modem.NewConfigBuilder().
		WithProfile(profile).
		WithDialer(modem.SerialDialer{
			PortName: config.SerialPort,
			Mode: &serial.Mode{
				BaudRate: config.BaudRate,
				Parity:   serial.NoParity,
				DataBits: 8,
				StopBits: serial.OneStopBit,
			},
		}).
		WithDecoder(pdu.Decoder{}).
		WithLogger(logger).
		WithHooks(modem.Hooks{
			Boot: func(line string) { logger.Debug("Modem heartbeat", "line", line) },
			Ring: func(string) { logger.Info("Incoming call ignored") },
		}).
		WithHandler(modem.EventMessage, func(ctx context.Context, msg *modem.Message) error {
			logger.Info("Received message",
				"sender", msg.Sender, "index", msg.Index, "report", msg.Report, "length", len(msg.Text))
			return deliver.Deliver(ctx, msg)
		}).
		Build()
	if err != nil {
		return fmt.Errorf("create modem config: %w", err)
	}

	m, err := modem.New(modemConfig)
	if err != nil {
		return fmt.Errorf("create modem: %w", err)
	}

	logger.Info("Starting SMS receiver",
		"serial_port", config.SerialPort, "profile", config.Profile, "timeout_scope", profile.TimeoutScope)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := m.Connect(ctx); err != nil {
		return err
	}

	var httpServer *http.Server
	if config.BindAddress != "" {
		httpServer = &http.Server{
			Addr: config.BindAddress,
			Handler: &Server{
				Logger: logger.With("component", "server"),
				Modem:  m,
				Recent: recent,
			},
		}

		go func() {
			logger.Info("Starting HTTP server", "address", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server failed", "error", err)
				cancel()
				m.Close()
			}
		}()
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- m.Run(ctx)
	}()

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig)
		cancel()
		logger.Info("Closing modem connection")
		if err := m.Close(); err != nil && !errors.Is(err, modem.ErrAlreadyClosed) {
			logger.Error("Failed to close modem", "error", err)
		}
		<-loopDone
	case runErr = <-loopDone:
	}

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		logger.Info("Closing HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Failed to gracefully shutdown server", "error", err)
		}
	}
	return runErr
}
