package notifier

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/tracing"
	"github.com/docstack/docstack/services/tasks"
)

// RabbitMQNotifier fans progress events out to any listening consumers.
// Publishing is best effort: failures are logged and never surfaced to the
// pipeline.
type RabbitMQNotifier struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	publishChannel  *amqp091.Channel
	publishMutex    sync.Mutex
	url             string
	logger          logger.Logger
}

func NewRabbitMQNotifier(rabbitmqURL string, log logger.Logger) (*RabbitMQNotifier, error) {
	notifier := &RabbitMQNotifier{
		url:    rabbitmqURL,
		logger: log,
	}
	if err := notifier.connect(); err != nil {
		return nil, err
	}
	return notifier, nil
}

var _ interfaces.Notifier = (*RabbitMQNotifier)(nil)

func (r *RabbitMQNotifier) Publish(ctx context.Context, event any) {
	span, _ := opentracing.StartSpanFromContext(ctx, "RabbitMQNotifier.Publish")
	defer span.Finish()
	tracing.LogObjectAsJson(span, "event", event)

	jsonBody, err := json.Marshal(event)
	if err != nil {
		tracing.TraceErr(span, err)
		r.logger.Warnf("Failed to marshal progress event: %v", err)
		return
	}

	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()

	if err := r.ensureConnectionAndChannel(); err != nil {
		tracing.TraceErr(span, err)
		r.logger.Warnf("Failed to publish progress event: %v", err)
		return
	}

	err = r.publishChannel.Publish(
		tasks.ExchangeProgress,
		"",    // fanout
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        jsonBody,
			Timestamp:   time.Now(),
		})
	if err != nil {
		tracing.TraceErr(span, err)
		r.logger.Warnf("Failed to publish progress event: %v", err)
	}
}

func (r *RabbitMQNotifier) connect() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	var err error
	r.connection, err = amqp091.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "Failed to connect to RabbitMQ")
	}

	channel, err := r.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "Failed to open publish channel")
	}
	err = channel.ExchangeDeclare(
		tasks.ExchangeProgress,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		channel.Close()
		return errors.Wrap(err, "Failed to declare progress exchange")
	}
	r.publishChannel = channel
	return nil
}

func (r *RabbitMQNotifier) ensureConnectionAndChannel() error {
	if r.connection == nil || r.connection.IsClosed() {
		if err := r.connect(); err != nil {
			return err
		}
	}
	if r.publishChannel == nil || r.publishChannel.IsClosed() {
		channel, err := r.connection.Channel()
		if err != nil {
			return errors.Wrap(err, "Failed to open publish channel")
		}
		r.publishChannel = channel
	}
	return nil
}

func (r *RabbitMQNotifier) Close() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	if r.connection != nil && !r.connection.IsClosed() {
		return r.connection.Close()
	}
	return nil
}
