package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"voice-turn-ingress/internal/observability/logging"
)

// Envelope is any transcript event read back from a topic. Fields that an
// event type does not carry are zero.
type Envelope struct {
	EventType     string  `json:"eventType"`
	InteractionID string  `json:"interactionId"`
	TenantID      string  `json:"tenantId"`
	SegmentID     string  `json:"segmentId"`
	Text          string  `json:"text,omitempty"`
	Confidence    float64 `json:"confidence,omitempty"`
	AudioOffsetMs int64   `json:"audioOffsetMs,omitempty"`
	Timestamp     int64   `json:"timestamp"`
}

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Brokers  []string
	Topics   []string
	Lookback time.Duration // start this far back; zero reads from the newest offset
}

// Consumer tails transcript topics. It reads partition 0 of each topic
// without a consumer group, which is enough for a single-partition demo setup.
type Consumer struct {
	cfg    ConsumerConfig
	logger zerolog.Logger
}

// NewConsumer creates a consumer; no connection is made until Run.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	return &Consumer{cfg: cfg, logger: logging.WithComponent("consumer")}
}

// Run reads every topic until ctx is done, passing decoded events to fn.
// fn may be called from several goroutines at once.
func (c *Consumer) Run(ctx context.Context, fn func(Envelope)) error {
	if len(c.cfg.Brokers) == 0 || len(c.cfg.Topics) == 0 {
		return errors.New("consumer needs brokers and topics")
	}

	var wg sync.WaitGroup
	for _, topic := range c.cfg.Topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			c.consume(ctx, topic, fn)
		}(topic)
	}
	wg.Wait()
	return ctx.Err()
}

func (c *Consumer) consume(ctx context.Context, topic string, fn func(Envelope)) {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   c.cfg.Brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	if c.cfg.Lookback > 0 {
		if err := reader.SetOffsetAt(ctx, time.Now().Add(-c.cfg.Lookback)); err != nil {
			c.logger.Warn().Err(err).Str("topic", topic).Msg("Cannot seek, reading from default offset")
		}
	} else if err := reader.SetOffset(kafka.LastOffset); err != nil {
		c.logger.Warn().Err(err).Str("topic", topic).Msg("Cannot seek to newest offset")
	}

	c.logger.Info().Str("topic", topic).Dur("lookback", c.cfg.Lookback).Msg("Consuming")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Str("topic", topic).Msg("Kafka read error")
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		ev, err := Decode(msg)
		if err != nil {
			c.logger.Warn().Err(err).Str("topic", topic).Int64("offset", msg.Offset).Msg("Skipping undecodable event")
			continue
		}
		fn(ev)
	}
}

// Decode parses a message written by Publisher. A payload without an
// eventType takes it from the eventType header.
func Decode(msg kafka.Message) (Envelope, error) {
	var ev Envelope
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return Envelope{}, fmt.Errorf("decode event: %w", err)
	}
	if ev.EventType == "" {
		for _, h := range msg.Headers {
			if h.Key == "eventType" {
				ev.EventType = string(h.Value)
				break
			}
		}
	}
	if ev.EventType == "" {
		return Envelope{}, errors.New("decode event: missing eventType")
	}
	return ev, nil
}
