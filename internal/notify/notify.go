// Package notify delivers fire-and-forget events to the dashboard push
// channel and operator alert targets.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ecosimlab/predictor/models"
)

// LogSink writes events to the structured log. Always available; used as
// the baseline sink so high-confidence alerts are never silently dropped.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink() *LogSink {
	return &LogSink{
		logger: log.With().Str("component", "events").Logger(),
	}
}

// Emit logs the event at a level matching its severity.
func (s *LogSink) Emit(ctx context.Context, event models.Event) error {
	entry := s.logger.Info()
	if event.Severity == models.SeverityCritical {
		entry = s.logger.Error()
	} else if event.Severity == models.SeverityWarning {
		entry = s.logger.Warn()
	}

	entry.
		Str("event_type", event.Type).
		Str("severity", event.Severity).
		Str("user_id", event.UserID).
		Interface("payload", event.Payload).
		Msg("Event")

	return nil
}

// RedisSink publishes events on the pub/sub channel the dashboard
// subscribes to for real-time updates.
type RedisSink struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger
}

// NewRedisSink creates a redis-backed sink publishing to channel.
func NewRedisSink(addr, channel string) *RedisSink {
	return &RedisSink{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
		logger:  log.With().Str("component", "redis_sink").Logger(),
	}
}

// Emit publishes the JSON-encoded event.
func (s *RedisSink) Emit(ctx context.Context, event models.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	s.logger.Debug().Str("event_type", event.Type).Msg("Event published")
	return nil
}

// Close releases the redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// TelegramSink sends warning and critical events to an operator chat.
// Informational events are skipped to keep the chat readable.
type TelegramSink struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	logger zerolog.Logger
}

// NewTelegramSink creates a telegram-backed sink.
func NewTelegramSink(token string, chatID int64) (*TelegramSink, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("initializing telegram bot: %w", err)
	}

	return &TelegramSink{
		bot:    bot,
		chatID: chatID,
		logger: log.With().Str("component", "telegram_sink").Logger(),
	}, nil
}

// Emit sends a formatted alert message.
func (s *TelegramSink) Emit(ctx context.Context, event models.Event) error {
	if event.Severity != models.SeverityWarning && event.Severity != models.SeverityCritical {
		return nil
	}

	text := fmt.Sprintf("[%s] %s (user %s)", event.Severity, event.Type, event.UserID)
	if risk, ok := event.Payload["collapse_risk"].(float64); ok {
		text += fmt.Sprintf("\nCollapse risk: %.2f", risk)
	}
	if level, ok := event.Payload["risk_level"].(string); ok {
		text += fmt.Sprintf("\nRisk level: %s", level)
	}

	msg := tgbotapi.NewMessage(s.chatID, text)
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("sending telegram alert: %w", err)
	}

	s.logger.Debug().Str("event_type", event.Type).Msg("Alert sent")
	return nil
}

// MultiSink fans an event out to several sinks. Individual failures are
// logged and swallowed so one dead target never blocks the others, and
// never fails the caller.
type MultiSink struct {
	sinks  []models.EventSink
	logger zerolog.Logger
}

// NewMultiSink creates a fan-out sink.
func NewMultiSink(sinks ...models.EventSink) *MultiSink {
	return &MultiSink{
		sinks:  sinks,
		logger: log.With().Str("component", "events").Logger(),
	}
}

// Emit delivers the event to every sink.
func (s *MultiSink) Emit(ctx context.Context, event models.Event) error {
	for _, sink := range s.sinks {
		if err := sink.Emit(ctx, event); err != nil {
			s.logger.Warn().Err(err).Str("event_type", event.Type).Msg("Sink delivery failed")
		}
	}
	return nil
}
