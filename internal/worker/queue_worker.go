package worker

import (
	"context"
	"fmt"
	"time"

	"qpaygate/internal/database"
	"qpaygate/internal/events"
	"qpaygate/internal/metrics"
	"qpaygate/internal/models"
	"qpaygate/internal/qpay"

	"github.com/rs/zerolog"
)

// Handlers is the work the queue can dispatch. The payment service
// implements it.
type Handlers interface {
	RetryInvoiceCreate(ctx context.Context, task models.QueueTask) error
	RetryEbarimt(ctx context.Context, task models.QueueTask) error
	RetryRefund(ctx context.Context, task models.QueueTask) error
}

// Notifier matches domain.Notifier; redeclared here to keep the worker
// free of the domain package.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// QueueWorker drains the outbound queue on a fixed tick. Each failed task
// is rescheduled with exponential backoff until the attempt budget runs
// out, then dead-lettered: annotated on the order, alerted, and removed.
type QueueWorker struct {
	db          *database.DB
	handlers    Handlers
	notifier    Notifier
	retryPolicy RetryPolicy
	batchSize   int
	tick        time.Duration
	maxAttempts int
	bus         *events.EventBus
	logger      *zerolog.Logger
}

func NewQueueWorker(db *database.DB, handlers Handlers, notifier Notifier, logger *zerolog.Logger) *QueueWorker {
	return &QueueWorker{
		db:       db,
		handlers: handlers,
		notifier: notifier,
		retryPolicy: RetryPolicy{
			InitialDelay:  2 * time.Minute,
			BackoffFactor: 2,
		},
		batchSize:   models.DefaultQueueBatchSize,
		tick:        time.Minute,
		maxAttempts: models.MaxTaskAttempts,
		logger:      logger,
	}
}

// SetBatchSize overrides how many due tasks one tick picks up.
func (w *QueueWorker) SetBatchSize(n int) {
	if n > 0 {
		w.batchSize = n
	}
}

// SetTick overrides the polling interval.
func (w *QueueWorker) SetTick(d time.Duration) {
	if d > 0 {
		w.tick = d
	}
}

// SetEventBus publishes dead-letter events when a bus is attached.
func (w *QueueWorker) SetEventBus(bus *events.EventBus) {
	w.bus = bus
}

// SetMaxAttempts overrides the retry budget.
func (w *QueueWorker) SetMaxAttempts(n int) {
	if n > 0 {
		w.maxAttempts = n
	}
}

// Run polls the queue until ctx is done.
func (w *QueueWorker) Run(ctx context.Context) {
	w.logger.Info().Dur("tick", w.tick).Int("batch_size", w.batchSize).Msg("Queue worker started")
	defer w.logger.Info().Msg("Queue worker stopped")

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessQueueTasks(ctx, w.batchSize); err != nil {
				w.logger.Error().Err(err).Msg("Queue tick failed")
			}
		}
	}
}

// ProcessQueueTasks handles up to limit due tasks and returns how many it
// picked up.
func (w *QueueWorker) ProcessQueueTasks(ctx context.Context, limit int) (int, error) {
	tasks, err := w.db.GetDueTasks(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("fetch due tasks: %w", err)
	}

	for i := range tasks {
		w.processTask(ctx, tasks[i])
	}

	if depth, err := w.db.CountQueueTasks(ctx); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}

	return len(tasks), nil
}

func (w *QueueWorker) processTask(ctx context.Context, task models.QueueTask) {
	err := w.dispatch(ctx, task)
	if err == nil {
		if delErr := w.db.DeleteTask(ctx, task.ID); delErr != nil {
			w.logger.Error().Err(delErr).Int64("task_id", task.ID).Msg("Failed to remove completed task")
			return
		}
		metrics.TasksProcessed.WithLabelValues(string(task.Type), "success").Inc()
		return
	}

	// Permanent errors cannot be cured by waiting.
	if qpay.IsPermanent(err) {
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Str("type", string(task.Type)).
			Msg("Task failed permanently, dead-lettering")
		w.deadLetter(ctx, task, err)
		return
	}

	attempts := task.Attempts + 1
	if attempts >= w.maxAttempts {
		w.deadLetter(ctx, task, err)
		return
	}

	nextRun := time.Now().Add(w.retryPolicy.NextDelay(attempts))
	if updErr := w.db.UpdateTaskRetry(ctx, task.ID, err.Error(), nextRun); updErr != nil {
		w.logger.Error().Err(updErr).Int64("task_id", task.ID).Msg("Failed to reschedule task")
		return
	}
	metrics.TasksProcessed.WithLabelValues(string(task.Type), "retry").Inc()
	w.logger.Warn().Err(err).Int64("task_id", task.ID).Str("type", string(task.Type)).
		Int("attempts", attempts).Time("next_run", nextRun).Msg("Task failed, rescheduled")
}

func (w *QueueWorker) dispatch(ctx context.Context, task models.QueueTask) error {
	switch task.Type {
	case models.TaskInvoiceCreateRetry:
		return w.handlers.RetryInvoiceCreate(ctx, task)
	case models.TaskEbarimtRetry:
		return w.handlers.RetryEbarimt(ctx, task)
	case models.TaskRefundRetry:
		return w.handlers.RetryRefund(ctx, task)
	default:
		// Unknown types are drained without effect so a rolled-back
		// deploy cannot wedge the queue.
		w.logger.Warn().Int64("task_id", task.ID).Str("type", string(task.Type)).
			Msg("Unknown task type, discarding")
		metrics.TasksProcessed.WithLabelValues(string(task.Type), "skipped").Inc()
		return nil
	}
}

func (w *QueueWorker) deadLetter(ctx context.Context, task models.QueueTask, cause error) {
	if task.OrderID != nil {
		note := fmt.Sprintf("Background task %s abandoned after %d attempts: %v", task.Type, task.Attempts+1, cause)
		if err := w.db.AddOrderNote(ctx, *task.OrderID, note); err != nil {
			w.logger.Error().Err(err).Int64("order_id", *task.OrderID).Msg("Failed to add dead-letter note")
		}
	}

	if w.notifier != nil {
		subject := fmt.Sprintf("Task %s dead-lettered", task.Type)
		body := fmt.Sprintf("Task %d (%s) abandoned after %d attempts.\nLast error: %v", task.ID, task.Type, task.Attempts+1, cause)
		if err := w.notifier.Notify(ctx, subject, body); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to send dead-letter alert")
		}
	}

	if err := w.db.DeleteTask(ctx, task.ID); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to remove dead-lettered task")
		return
	}
	metrics.TasksProcessed.WithLabelValues(string(task.Type), "dead_letter").Inc()

	if w.bus != nil {
		payload := events.PaymentEventPayload{Status: string(task.Type)}
		if task.OrderID != nil {
			payload.OrderID = *task.OrderID
		}
		if task.PaymentID != nil {
			payload.PaymentID = *task.PaymentID
		}
		_ = w.bus.PublishJSON(events.EventTaskDeadLettered, payload)
	}
}
