// Package service holds adapters that connect the ledger to outside
// systems.
package service

import (
	"context"
	"fmt"
	"io"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/iliyamo/rental-ledger/internal/ledger"
	"github.com/iliyamo/rental-ledger/internal/metrics"
	"github.com/iliyamo/rental-ledger/internal/queue"
)

// publishChannel is the part of *amqp.Channel the publisher uses.
type publishChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// DefaultPublishTimeout bounds one Notify call, dial included, so a broker
// outage cannot stall the request that triggered the event.
const DefaultPublishTimeout = 2 * time.Second

type dialFunc func(ctx context.Context, url string) (publishChannel, io.Closer, error)

// dialAMQP connects with a TCP and handshake timeout taken from the
// deadline of ctx.
func dialAMQP(ctx context.Context, url string) (publishChannel, io.Closer, error) {
	timeout := DefaultPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return nil, nil, context.DeadlineExceeded
	}
	conn, err := amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return ch, conn, nil
}

// Publisher is a ledger.Notifier that sends each event as a persistent
// message to a durable RabbitMQ queue on the default exchange.  It opens a
// connection per event; ledger mutations are infrequent enough that pooling
// has not been needed.
type Publisher struct {
	url     string
	queue   string
	log     *zap.Logger
	metrics *metrics.Metrics
	dial    dialFunc
	timeout time.Duration
}

// NewPublisher returns a Publisher for queueName at url.  m may be nil.
func NewPublisher(url, queueName string, log *zap.Logger, m *metrics.Metrics) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{
		url:     url,
		queue:   queueName,
		log:     log,
		metrics: m,
		dial:    dialAMQP,
		timeout: DefaultPublishTimeout,
	}
}

// Notify implements ledger.Notifier.
func (p *Publisher) Notify(ctx context.Context, ev ledger.Event) (err error) {
	defer func() {
		if p.metrics != nil {
			result := "ok"
			if err != nil {
				result = "error"
			}
			p.metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type), result).Inc()
		}
	}()

	body, err := queue.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ch, conn, err := p.dial(ctx, p.url)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	defer func() { _ = conn.Close() }()
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("rabbitmq queue declare: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  queue.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID.String(),
		Type:         string(ev.Type),
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	p.log.Debug("event published",
		zap.String("event", string(ev.Type)),
		zap.Stringer("asset_id", ev.AssetID),
	)
	return nil
}
