package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/rental-ledger/internal/config"
	"github.com/iliyamo/rental-ledger/internal/metrics"
)

// Consumer indexes ledger events by appending one line per event to LogPath.
type Consumer struct {
	URL     string
	Queue   string
	LogPath string
	Log     *zap.Logger
	Metrics *metrics.Metrics
}

// NewConsumer builds a Consumer from the events configuration.  m may be
// nil.
func NewConsumer(cfg config.EventsConfig, log *zap.Logger, m *metrics.Metrics) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{URL: cfg.URL, Queue: cfg.Queue, LogPath: cfg.LogPath, Log: log, Metrics: m}
}

// Start consumes until ctx is cancelled, reconnecting with exponential
// backoff capped at 30s.  It returns ctx.Err().
func (c *Consumer) Start(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.Warn("event consumer: dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.Warn("event consumer: loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.Warn("event consumer: set QoS failed", zap.Error(err))
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for d := range msgs {
		if err := c.Handle(d.Body); err != nil {
			c.Log.Error("event consumer: handle message failed", zap.Error(err))
			// Rejected without requeue so a poison message cannot spin.
			_ = d.Nack(false, false)
			continue
		}
		_ = d.Ack(false)
	}
	return errors.New("deliveries channel closed")
}

// Handle decodes one message body and appends it to the event log.
func (c *Consumer) Handle(body []byte) (err error) {
	defer func() {
		if c.Metrics != nil {
			c.Metrics.EventsConsumedTotal.WithLabelValues(metrics.Result(err)).Inc()
		}
	}()

	ev, err := Decode(body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(c.LogPath), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(c.LogPath), err)
	}
	f, err := os.OpenFile(c.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(FormatLine(ev)); err != nil {
		return fmt.Errorf("write event log: %w", err)
	}
	c.Log.Debug("event indexed",
		zap.String("event", string(ev.Type)),
		zap.Stringer("asset_id", ev.AssetID),
	)
	return nil
}
