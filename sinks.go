package main

import (
	"fmt"
	"io"
	"log/slog"

	"i4.energy/across/smsrx/sink"
)

// buildSinks assembles the configured delivery targets. The returned
// closers release broker connections on shutdown.
func buildSinks(config *Config, recent *sink.Recent, logger *slog.Logger) (sink.Sink, []io.Closer, error) {
	if config.RateLimit > 0 && config.RateBurst < 1 {
		return nil, nil, fmt.Errorf("rate burst must be at least 1 when rate limiting, got %d", config.RateBurst)
	}

	var external sink.Multi
	var closers []io.Closer

	if config.RelayAddress != "" {
		external = append(external, sink.Line{Addr: config.RelayAddress})
		logger.Info("Relaying messages", "address", config.RelayAddress)
	}
	if config.WebhookURL != "" {
		external = append(external, sink.Webhook{URL: config.WebhookURL})
		logger.Info("Posting messages to webhook", "url", config.WebhookURL)
	}
	if config.NSQAddress != "" {
		s, err := sink.NewNSQ(config.NSQAddress, config.NSQTopic)
		if err != nil {
			return nil, closers, err
		}
		external = append(external, s)
		closers = append(closers, s)
		logger.Info("Publishing messages to NSQ", "address", config.NSQAddress, "topic", config.NSQTopic)
	}
	if config.RedisAddress != "" {
		s := sink.NewRedis(config.RedisAddress, config.RedisKey, config.RedisMax)
		external = append(external, s)
		closers = append(closers, s)
		logger.Info("Pushing messages to Redis", "address", config.RedisAddress, "key", config.RedisKey)
	}
	if config.MQTTBroker != "" {
		s, err := sink.NewMQTT(sink.MQTTOptions{
			Broker:   config.MQTTBroker,
			ClientID: config.MQTTClientID,
			Username: config.MQTTUsername,
			Password: config.MQTTPassword,
			Topic:    config.MQTTTopic,
		})
		if err != nil {
			return nil, closers, err
		}
		external = append(external, s)
		closers = append(closers, s)
		logger.Info("Publishing messages to MQTT", "broker", config.MQTTBroker, "topic", config.MQTTTopic)
	}

	var out sink.Sink = external
	if config.RateLimit > 0 && len(external) > 0 {
		out = sink.NewRateLimited(external, config.RateLimit, config.RateBurst)
	}
	return sink.Multi{recent, out}, closers, nil
}
