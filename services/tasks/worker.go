package tasks

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/docstack/docstack/dto"
	"github.com/docstack/docstack/internal/enum"
	docerrors "github.com/docstack/docstack/internal/errors"
	"github.com/docstack/docstack/internal/logger"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/internal/repository"
	"github.com/docstack/docstack/internal/tracing"
)

// Handler executes one task and returns a human-readable result. A returned
// error marks the attempt failed; a transient first failure of a delivery is
// retried once via requeue, content errors and redelivered failures are
// terminal.
type Handler func(ctx context.Context, envelope dto.TaskEnvelope) (string, error)

// Worker consumes the task queue with a fixed number of concurrent
// executors and drives group join/error semantics on member completion.
type Worker struct {
	connection      *amqp091.Connection
	connectionMutex sync.Mutex
	url             string
	logger          logger.Logger
	repositories    *repository.Repositories
	dispatcher      *RabbitMQDispatcher
	concurrency     int

	handlerMutex sync.RWMutex
	handlers     map[string]Handler
}

func NewWorker(rabbitmqURL string, log logger.Logger, repos *repository.Repositories, dispatcher *RabbitMQDispatcher, concurrency int) (*Worker, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	worker := &Worker{
		url:          rabbitmqURL,
		logger:       log,
		repositories: repos,
		dispatcher:   dispatcher,
		concurrency:  concurrency,
		handlers:     make(map[string]Handler),
	}

	err := worker.connect()
	if err != nil {
		return nil, err
	}

	return worker, nil
}

func (w *Worker) RegisterHandler(taskType string, handler Handler) {
	w.handlerMutex.Lock()
	defer w.handlerMutex.Unlock()
	w.handlers[taskType] = handler
	w.logger.Infof("Registered handler for task type: %s", taskType)
}

// Listen starts consuming the task queue. It returns immediately; consumption
// runs until the process exits.
func (w *Worker) Listen() error {
	go func() {
		for {
			channel, err := w.connection.Channel()
			if err != nil {
				w.logger.Errorf("Failed to open channel for queue %s: %v. Retrying...", QueueTasks, err)
				time.Sleep(5 * time.Second)
				continue
			}

			if err := channel.Qos(w.concurrency, 0, false); err != nil {
				w.logger.Errorf("Failed to set prefetch on queue %s: %v. Retrying...", QueueTasks, err)
				channel.Close()
				time.Sleep(5 * time.Second)
				continue
			}

			msgs, err := channel.Consume(
				QueueTasks, // queue
				"",         // consumer tag
				false,      // auto-ack
				false,      // exclusive
				false,      // no-local
				false,      // no-wait
				nil,        // args
			)
			if err != nil {
				w.logger.Errorf("Failed to register consumer on queue %s: %v. Retrying...", QueueTasks, err)
				channel.Close()
				time.Sleep(5 * time.Second)
				continue
			}

			w.logger.Infof("Listening for tasks on queue %s with %d workers", QueueTasks, w.concurrency)

			var wg sync.WaitGroup
			for i := 0; i < w.concurrency; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for d := range msgs {
						w.handleDelivery(d)
					}
				}()
			}
			wg.Wait()
			channel.Close()

			w.logger.Warnf("Connection lost for queue %s. Reconnecting...", QueueTasks)
			time.Sleep(5 * time.Second)
		}
	}()

	return nil
}

func (w *Worker) handleDelivery(d amqp091.Delivery) {
	defer tracing.RecoverAndLogToJaeger(w.logger)

	var envelope dto.TaskEnvelope
	if err := json.Unmarshal(d.Body, &envelope); err != nil {
		w.logger.Errorf("Dropping undecodable task message: %v", err)
		w.retryAckNack(d, true)
		return
	}

	ctx, span := tracing.StartQueueMessageTracerSpan(context.Background(), "Worker.HandleTask", envelope.UberTraceID)
	defer span.Finish()
	tracing.TagComponentTaskWorker(span)
	span.SetTag("taskType", envelope.Type)
	span.LogKV("taskId", envelope.ID, "redelivered", d.Redelivered)

	w.handlerMutex.RLock()
	handler, exists := w.handlers[envelope.Type]
	w.handlerMutex.RUnlock()

	if !exists {
		err := errors.Errorf("no handler registered for task type %s", envelope.Type)
		tracing.TraceErr(span, err)
		w.logger.Errorf("%v", err)
		w.finishTask(ctx, envelope, "", err)
		w.retryAckNack(d, true)
		return
	}

	if err := w.repositories.TaskRecordRepository.SetStarted(ctx, envelope.ID); err != nil {
		w.logger.Warnf("Failed to mark task %s as started: %v", envelope.ID, err)
	}

	result, err := handler(ctx, envelope)
	if err != nil {
		tracing.TraceErr(span, err)
		if shouldRequeue(err, d.Redelivered) {
			// First failure of this delivery, requeue for one retry.
			w.logger.Warnf("Task %s (%s) failed, requeueing: %v", envelope.ID, envelope.Type, err)
			w.retryAckNack(d, false)
			return
		}
		w.logger.Errorf("Task %s (%s) failed terminally: %v", envelope.ID, envelope.Type, err)
		w.finishTask(ctx, envelope, result, err)
		w.retryAckNack(d, true)
		return
	}

	w.finishTask(ctx, envelope, result, nil)
	w.retryAckNack(d, true)
}

// shouldRequeue grants one retry per delivery, but only for failures that a
// retry can plausibly cure. Content errors are terminal on the first attempt.
func shouldRequeue(err error, redelivered bool) bool {
	if redelivered {
		return false
	}
	return !docerrors.IsContentError(err)
}

// finishTask records the terminal state of a task and, for grouped tasks,
// advances the group.
func (w *Worker) finishTask(ctx context.Context, envelope dto.TaskEnvelope, result string, taskErr error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Worker.FinishTask")
	defer span.Finish()

	status := enum.TaskStatusSuccess
	errText := ""
	if taskErr != nil {
		status = enum.TaskStatusFailed
		errText = taskErr.Error()
	}
	if err := w.repositories.TaskRecordRepository.SetResult(ctx, envelope.ID, status, result, errText); err != nil {
		tracing.TraceErr(span, err)
		w.logger.Errorf("Failed to record result for task %s: %v", envelope.ID, err)
	}

	if envelope.GroupID == nil {
		return
	}

	switch envelope.GroupRole {
	case dto.GroupRoleMember:
		w.completeGroupMember(ctx, envelope, taskErr)
	case dto.GroupRoleJoin:
		// The join's outcome is the group's final status.
		if err := w.repositories.TaskGroupRepository.SetStatus(ctx, *envelope.GroupID, status); err != nil {
			tracing.TraceErr(span, err)
			w.logger.Errorf("Failed to set status of group %s: %v", *envelope.GroupID, err)
		}
		if taskErr != nil {
			// A failed join still fires the group's one-shot error task.
			completion, err := w.repositories.TaskGroupRepository.CompleteMember(ctx, *envelope.GroupID, false)
			if err != nil {
				tracing.TraceErr(span, err)
				w.logger.Errorf("Failed to record join failure for group %s: %v", *envelope.GroupID, err)
				return
			}
			if completion.FireError {
				w.fireErrorTask(ctx, completion.Group, taskErr)
			}
		}
	case dto.GroupRoleError:
		// Terminal either way.
	}
}

func (w *Worker) completeGroupMember(ctx context.Context, envelope dto.TaskEnvelope, taskErr error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "Worker.CompleteGroupMember")
	defer span.Finish()
	span.SetTag("groupId", *envelope.GroupID)

	completion, err := w.repositories.TaskGroupRepository.CompleteMember(ctx, *envelope.GroupID, taskErr == nil)
	if err != nil {
		tracing.TraceErr(span, err)
		w.logger.Errorf("Failed to complete member of group %s: %v", *envelope.GroupID, err)
		return
	}

	if completion.FireError {
		w.fireErrorTask(ctx, completion.Group, taskErr)
	}
	if completion.FireJoin {
		w.fireJoinTask(ctx, completion.Group, taskErr)
	}
}

// fireJoinTask publishes the group's join task with the failure tally folded
// into its payload. The join runs regardless of member failures.
func (w *Worker) fireJoinTask(ctx context.Context, group *models.TaskGroup, memberErr error) {
	payload := enrichPayload(w.logger, group.JoinPayload, map[string]interface{}{
		"failedMembers": group.Failed,
		"memberError":   errorText(memberErr),
	})
	if err := w.dispatcher.PublishGroupTask(ctx, group.JoinType, payload, group.ID, dto.GroupRoleJoin); err != nil {
		w.logger.Errorf("Failed to publish join task for group %s: %v", group.ID, err)
	}
}

func (w *Worker) fireErrorTask(ctx context.Context, group *models.TaskGroup, cause error) {
	payload := enrichPayload(w.logger, group.ErrorPayload, map[string]interface{}{
		"error": errorText(cause),
	})
	if err := w.dispatcher.PublishGroupTask(ctx, group.ErrorType, payload, group.ID, dto.GroupRoleError); err != nil {
		w.logger.Errorf("Failed to publish error task for group %s: %v", group.ID, err)
	}
}

// enrichPayload merges extra fields into a stored JSON object payload.
func enrichPayload(log logger.Logger, stored string, extra map[string]interface{}) json.RawMessage {
	base := make(map[string]interface{})
	if stored != "" {
		if err := json.Unmarshal([]byte(stored), &base); err != nil {
			log.Warnf("Stored group payload is not a JSON object: %v", err)
			return json.RawMessage(stored)
		}
	}
	for k, v := range extra {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return json.RawMessage(stored)
	}
	return merged
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (w *Worker) connect() error {
	w.connectionMutex.Lock()
	defer w.connectionMutex.Unlock()

	var err error
	w.connection, err = amqp091.Dial(w.url)
	if err != nil {
		return errors.Wrap(err, "Failed to connect to RabbitMQ")
	}

	go func() {
		notifyClose := w.connection.NotifyClose(make(chan *amqp091.Error))
		<-notifyClose
		w.logger.Warn("RabbitMQ connection closed, attempting to reconnect")
		_ = w.connect()
	}()

	return nil
}

func (w *Worker) retryAckNack(d amqp091.Delivery, ack bool) {
	maxRetries := 5
	retryDelay := 100 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		var err error
		if ack {
			err = d.Ack(false)
		} else {
			err = d.Nack(false, true)
		}

		if err == nil {
			return
		}

		time.Sleep(retryDelay)
	}

	w.logger.Errorf("Failed to %s message after %d attempts",
		map[bool]string{true: "acknowledge", false: "requeue"}[ack],
		maxRetries)
}

func (w *Worker) Close() error {
	w.connectionMutex.Lock()
	defer w.connectionMutex.Unlock()

	if w.connection != nil && !w.connection.IsClosed() {
		return w.connection.Close()
	}
	return nil
}
