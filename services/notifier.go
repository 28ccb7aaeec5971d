package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fileconvert/models"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Event string

const (
	EventCompleted Event = "conversion.completed"
	EventFailed    Event = "conversion.failed"
)

type Notification struct {
	ConversionID     string        `json:"conversionId"`
	UserID           *string       `json:"userId"`
	Status           models.Status `json:"status"`
	ConvertedFileURL *string       `json:"convertedFileUrl,omitempty"`
	ErrorMessage     *string       `json:"errorMessage,omitempty"`
	FileSize         int64         `json:"fileSize"`
	At               time.Time     `json:"at"`
}

// NotificationFor builds the payload for a record that just reached a terminal state.
func NotificationFor(rec *models.ConversionRecord) Notification {
	return Notification{
		ConversionID:     rec.ID,
		UserID:           rec.UserID,
		Status:           rec.Status,
		ConvertedFileURL: rec.ConvertedFileURL,
		ErrorMessage:     rec.ErrorMessage,
		FileSize:         rec.FileSize,
		At:               rec.UpdatedAt,
	}
}

// Notifier receives terminal conversion events. Callers log and drop errors.
type Notifier interface {
	Notify(ctx context.Context, event Event, payload Notification) error
}

type envelope struct {
	Event Event `json:"event"`
	Notification
}

// RedisNotifier updates the per-conversion status hash and publishes the
// event on a pub/sub channel.
type RedisNotifier struct {
	client       redis.UniversalClient
	statusPrefix string
	channel      string
}

func NewRedisNotifier(client redis.UniversalClient, statusPrefix, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, statusPrefix: statusPrefix, channel: channel}
}

func (r *RedisNotifier) Notify(ctx context.Context, event Event, payload Notification) error {
	fields := map[string]interface{}{
		"status":     string(payload.Status),
		"updated_at": payload.At.Format(time.RFC3339),
	}
	if payload.ErrorMessage != nil {
		fields["error"] = *payload.ErrorMessage
	}
	if payload.ConvertedFileURL != nil {
		fields["converted_file_url"] = *payload.ConvertedFileURL
	}
	body, err := json.Marshal(envelope{Event: event, Notification: payload})
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.statusPrefix+payload.ConversionID, fields)
	pipe.Publish(ctx, r.channel, body)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis notify %s: %w", payload.ConversionID, err)
	}
	return nil
}

// NATSNotifier publishes to "<subject>.<status>".
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
}

func NewNATSNotifier(url, subject string) (*NATSNotifier, error) {
	conn, err := nats.Connect(url, nats.Name("fileconvert"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSNotifier{conn: conn, subject: subject}, nil
}

func (n *NATSNotifier) Notify(_ context.Context, event Event, payload Notification) error {
	body, err := json.Marshal(envelope{Event: event, Notification: payload})
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("%s.%s", n.subject, payload.Status)
	if err := n.conn.Publish(subject, body); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

func (n *NATSNotifier) Close() {
	_ = n.conn.Drain()
}

type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, event Event, payload Notification) error {
	fields := []zap.Field{
		zap.String("event", string(event)),
		zap.String("conversion_id", payload.ConversionID),
		zap.String("status", string(payload.Status)),
		zap.Int64("file_size", payload.FileSize),
	}
	if payload.ErrorMessage != nil {
		fields = append(fields, zap.String("error", *payload.ErrorMessage))
	}
	l.logger.Info("conversion finished", fields...)
	return nil
}

// MultiNotifier fans out to every sink and joins their errors.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, event Event, payload Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
