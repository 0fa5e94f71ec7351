package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/docstack/docstack/dto"
	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/enum"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/internal/repository"
	"github.com/docstack/docstack/internal/tracing"
	"github.com/docstack/docstack/internal/utils"
)

const (
	ExchangeTasks      = "docstack-tasks"
	ExchangeDeadLetter = "docstack-dead-letter"
	ExchangeProgress   = "docstack-progress"

	QueueTasks = "tasks"
	DLQTasks   = QueueTasks + "-dlq"

	RoutingKeyTasks      = "docstack-task"
	RoutingKeyDeadLetter = "dead-letter"

	DefaultMessageTTL          = 240 * time.Hour // after TTL message moves to DLQ
	DefaultMaxRetries          = 3
	DefaultPublishTimeout      = 5 * time.Second
	DefaultReconnectBackoff    = time.Second
	DefaultMaxReconnectBackoff = 30 * time.Second
)

type DispatcherConfig struct {
	MessageTTL          time.Duration
	MaxRetries          int
	PublishTimeout      time.Duration
	ReconnectBackoff    time.Duration
	MaxReconnectBackoff time.Duration
}

// RabbitMQDispatcher publishes task envelopes onto the durable task queue
// and records every submitted task in the database.
type RabbitMQDispatcher struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	publishChannel  *amqp091.Channel
	publishMutex    sync.Mutex
	confirms        chan amqp091.Confirmation
	url             string
	logger          logger.Logger
	config          DispatcherConfig
	repositories    *repository.Repositories
}

func NewRabbitMQDispatcher(rabbitmqURL string, log logger.Logger, repos *repository.Repositories, config *DispatcherConfig) (*RabbitMQDispatcher, error) {
	if config == nil {
		config = &DispatcherConfig{
			MessageTTL:          DefaultMessageTTL,
			MaxRetries:          DefaultMaxRetries,
			PublishTimeout:      DefaultPublishTimeout,
			ReconnectBackoff:    DefaultReconnectBackoff,
			MaxReconnectBackoff: DefaultMaxReconnectBackoff,
		}
	}

	dispatcher := &RabbitMQDispatcher{
		url:          rabbitmqURL,
		logger:       log,
		config:       *config,
		repositories: repos,
	}

	err := dispatcher.connect()
	if err != nil {
		return nil, err
	}

	return dispatcher, nil
}

var _ interfaces.TaskDispatcher = (*RabbitMQDispatcher)(nil)

func (r *RabbitMQDispatcher) SubmitTask(ctx context.Context, spec interfaces.TaskSpec) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQDispatcher.SubmitTask")
	defer span.Finish()
	span.SetTag("taskType", spec.Type)

	envelope, err := r.buildEnvelope(ctx, spec, nil, "")
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if err := r.recordTask(ctx, envelope); err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	if err := r.publishEnvelope(ctx, envelope); err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}
	return envelope.ID, nil
}

func (r *RabbitMQDispatcher) SubmitGroup(ctx context.Context, members []interfaces.TaskSpec, join interfaces.TaskSpec, onError *interfaces.TaskSpec) (string, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQDispatcher.SubmitGroup")
	defer span.Finish()
	span.SetTag("taskType", join.Type)
	span.LogKV("members", len(members))

	joinPayload, err := json.Marshal(join.Payload)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", errors.Wrap(err, "failed to marshal join payload")
	}

	group := &models.TaskGroup{
		Pending:     len(members),
		JoinType:    join.Type,
		JoinPayload: string(joinPayload),
		Status:      enum.TaskStatusPending,
	}
	if onError != nil {
		errorPayload, err := json.Marshal(onError.Payload)
		if err != nil {
			tracing.TraceErr(span, err)
			return "", errors.Wrap(err, "failed to marshal error payload")
		}
		group.ErrorType = onError.Type
		group.ErrorPayload = string(errorPayload)
	}

	groupID, err := r.repositories.TaskGroupRepository.Create(ctx, group)
	if err != nil {
		tracing.TraceErr(span, err)
		return "", err
	}

	// A group with no members joins immediately.
	if len(members) == 0 {
		joinEnvelope, err := r.buildEnvelope(ctx, join, &groupID, dto.GroupRoleJoin)
		if err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		if err := r.recordTask(ctx, joinEnvelope); err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		if err := r.publishEnvelope(ctx, joinEnvelope); err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		return groupID, nil
	}

	for _, member := range members {
		envelope, err := r.buildEnvelope(ctx, member, &groupID, dto.GroupRoleMember)
		if err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		if err := r.recordTask(ctx, envelope); err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
		if err := r.publishEnvelope(ctx, envelope); err != nil {
			tracing.TraceErr(span, err)
			return "", err
		}
	}
	return groupID, nil
}

// PublishGroupTask publishes a join or error task emitted by the group
// itself, with an already-built payload.
func (r *RabbitMQDispatcher) PublishGroupTask(ctx context.Context, taskType string, payload json.RawMessage, groupID, role string) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQDispatcher.PublishGroupTask")
	defer span.Finish()
	span.SetTag("taskType", taskType)
	span.SetTag("groupRole", role)

	envelope := dto.TaskEnvelope{
		ID:        uuid.NewString(),
		Type:      taskType,
		Payload:   payload,
		GroupID:   &groupID,
		GroupRole: role,
		CreatedAt: utils.Now(),
	}
	tracingData := tracing.ExtractTextMapCarrier(span.Context())
	envelope.UberTraceID = tracingData["uber-trace-id"]

	if err := r.recordTask(ctx, &envelope); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if err := r.publishEnvelope(ctx, &envelope); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (r *RabbitMQDispatcher) buildEnvelope(ctx context.Context, spec interfaces.TaskSpec, groupID *string, role string) (*dto.TaskEnvelope, error) {
	payload, err := json.Marshal(spec.Payload)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal payload for task %s", spec.Type)
	}

	envelope := &dto.TaskEnvelope{
		ID:            uuid.NewString(),
		Type:          spec.Type,
		Payload:       payload,
		GroupID:       groupID,
		GroupRole:     role,
		CorrelationID: spec.CorrelationID,
		CreatedAt:     utils.Now(),
	}
	if span := opentracing.SpanFromContext(ctx); span != nil {
		tracingData := tracing.ExtractTextMapCarrier(span.Context())
		envelope.UberTraceID = tracingData["uber-trace-id"]
	}
	return envelope, nil
}

func (r *RabbitMQDispatcher) recordTask(ctx context.Context, envelope *dto.TaskEnvelope) error {
	record := &models.TaskRecord{
		ID:            envelope.ID,
		Type:          envelope.Type,
		GroupID:       envelope.GroupID,
		CorrelationID: envelope.CorrelationID,
		Status:        enum.TaskStatusPending,
	}
	return r.repositories.TaskRecordRepository.Create(ctx, record)
}

func (r *RabbitMQDispatcher) publishEnvelope(ctx context.Context, envelope *dto.TaskEnvelope) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQDispatcher.PublishEnvelope")
	defer span.Finish()
	tracing.LogObjectAsJson(span, "envelope", envelope)

	for attempt := 0; attempt < r.config.MaxRetries; attempt++ {
		err := r.publishWithConfirm(ctx, envelope)
		if err == nil {
			return nil
		}

		r.logger.Warnf("Publish attempt %d failed: %v", attempt+1, err)
		if attempt < r.config.MaxRetries-1 {
			time.Sleep(time.Millisecond * 100 * time.Duration(attempt+1))
		}
	}

	return errors.New("Failed to publish task after all retries")
}

func (r *RabbitMQDispatcher) publishWithConfirm(ctx context.Context, envelope *dto.TaskEnvelope) error {
	r.publishMutex.Lock()
	defer r.publishMutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.ensureConnectionAndChannel(); err != nil {
		return err
	}

	jsonBody, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(err, "Failed to marshal envelope")
	}

	err = r.publishChannel.Publish(
		ExchangeTasks,
		RoutingKeyTasks,
		true,  // mandatory - ensure message is routed
		false, // immediate
		amqp091.Publishing{
			DeliveryMode: amqp091.Persistent,
			ContentType:  "application/json",
			Body:         jsonBody,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return errors.Wrap(err, "Failed to publish task")
	}

	select {
	case confirm := <-r.confirms:
		if !confirm.Ack {
			return errors.New("Task was not confirmed by server")
		}
	case <-time.After(r.config.PublishTimeout):
		return errors.New("Publish confirmation timeout")
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (r *RabbitMQDispatcher) connect() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	var err error
	r.connection, err = amqp091.Dial(r.url)
	if err != nil {
		return errors.Wrap(err, "Failed to connect to RabbitMQ")
	}

	err = r.setupExchangesAndQueues()
	if err != nil {
		return errors.Wrap(err, "Failed to setup exchanges and queues")
	}

	err = r.setupPublishChannel()
	if err != nil {
		return errors.Wrap(err, "Failed to setup publish channel")
	}

	go r.handleReconnection()

	return nil
}

func (r *RabbitMQDispatcher) setupPublishChannel() error {
	channel, err := r.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "Failed to open publish channel")
	}

	// Enable publisher confirms
	err = channel.Confirm(false)
	if err != nil {
		channel.Close()
		return errors.Wrap(err, "Failed to enable publisher confirms")
	}

	r.confirms = channel.NotifyPublish(make(chan amqp091.Confirmation, 1))
	r.publishChannel = channel
	return nil
}

func (r *RabbitMQDispatcher) ensureConnectionAndChannel() error {
	if r.connection == nil || r.connection.IsClosed() {
		if err := r.connect(); err != nil {
			return errors.Wrap(err, "Failed to establish connection")
		}
	}

	if r.publishChannel == nil || r.publishChannel.IsClosed() {
		if err := r.setupPublishChannel(); err != nil {
			return errors.Wrap(err, "Failed to establish channel")
		}
	}

	return nil
}

func (r *RabbitMQDispatcher) handleReconnection() {
	backoff := r.config.ReconnectBackoff

	for {
		notifyClose := r.connection.NotifyClose(make(chan *amqp091.Error))
		err := <-notifyClose
		r.logger.Warnf("RabbitMQ connection closed: %v, attempting to reconnect", err)

		for {
			err := r.connect()
			if err == nil {
				r.logger.Info("Successfully reconnected to RabbitMQ")
				break
			}

			r.logger.Errorf("Failed to reconnect: %v, retrying in %v", err, backoff)
			time.Sleep(backoff)

			backoff *= 2
			if backoff > r.config.MaxReconnectBackoff {
				backoff = r.config.MaxReconnectBackoff
			}
		}

		backoff = r.config.ReconnectBackoff
	}
}

func (r *RabbitMQDispatcher) setupExchangesAndQueues() error {
	channel, err := r.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "Failed to open channel for exchange/queue setup")
	}
	defer channel.Close()

	err = channel.ExchangeDeclare(
		ExchangeDeadLetter,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return errors.Wrap(err, "Failed to declare dead letter exchange")
	}

	err = channel.ExchangeDeclare(
		ExchangeTasks,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "Failed to declare task exchange")
	}

	err = channel.ExchangeDeclare(
		ExchangeProgress,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrap(err, "Failed to declare progress exchange")
	}

	if err := r.declareQueueWithDLQ(channel, QueueTasks, DLQTasks); err != nil {
		return err
	}
	err = channel.QueueBind(
		QueueTasks,
		RoutingKeyTasks,
		ExchangeTasks,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrapf(err, "Failed to bind queue %s to exchange %s", QueueTasks, ExchangeTasks)
	}

	return nil
}

func (r *RabbitMQDispatcher) declareQueueWithDLQ(channel *amqp091.Channel, queueName string, dlqName string) error {
	_, err := channel.QueueDeclare(
		dlqName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrapf(err, "Failed to declare DLQ %s", dlqName)
	}

	err = channel.QueueBind(
		dlqName,
		RoutingKeyDeadLetter,
		ExchangeDeadLetter,
		false,
		nil,
	)
	if err != nil {
		return errors.Wrapf(err, "Failed to bind DLQ %s to exchange", dlqName)
	}

	args := make(map[string]interface{})
	args["x-dead-letter-exchange"] = ExchangeDeadLetter
	args["x-dead-letter-routing-key"] = RoutingKeyDeadLetter
	args["x-message-ttl"] = int64(r.config.MessageTTL.Milliseconds())

	_, err = channel.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		args,
	)
	if err != nil {
		return errors.Wrapf(err, "Failed to declare queue %s", queueName)
	}

	return nil
}

// Close gracefully shuts down the dispatcher
func (r *RabbitMQDispatcher) Close() error {
	r.connectionMutex.Lock()
	defer r.connectionMutex.Unlock()

	var err error
	if r.publishChannel != nil {
		err = r.publishChannel.Close()
		if err != nil {
			r.logger.Errorf("Error closing publish channel: %v", err)
		}
	}

	if r.connection != nil {
		if closeErr := r.connection.Close(); closeErr != nil {
			r.logger.Errorf("Error closing connection: %v", closeErr)
			if err == nil {
				err = closeErr
			}
		}
	}

	return err
}
