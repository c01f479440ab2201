package outbox

import (
	"context"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultPollInterval   = time.Second
	defaultBatchSize      = 100
	defaultMaxAttempts    = 3
	defaultRetryBaseDelay = 50 * time.Millisecond
)

var (
	publishAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_outbox_publish_attempts_total",
		Help: "Попытки публикации событий из outbox с разбивкой по результату",
	}, []string{"result"})

	pendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_outbox_pending_records",
		Help: "Число событий outbox в статусе pending",
	})

	oldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_outbox_oldest_pending_age_seconds",
		Help: "Возраст самого старого неопубликованного события, в секундах",
	})
)

// Worker опрашивает transactional outbox и публикует накопленные события.
// Публикация повторяется с экспоненциальной задержкой; после исчерпания
// попыток событие уходит в DLQ (если она настроена) и помечается ошибочным.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher

	logger       *log.Entry
	dlq          domain.OutboxPublisher
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	retryBase    time.Duration
}

// Option настраивает Worker.
type Option func(*Worker)

// WithLogger задаёт логгер воркера.
func WithLogger(logger *log.Entry) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithDLQPublisher задаёт издателя мёртвой очереди для событий, которые не
// удалось опубликовать за maxAttempts попыток.
func WithDLQPublisher(dlq domain.OutboxPublisher) Option {
	return func(w *Worker) {
		w.dlq = dlq
	}
}

// WithPollInterval меняет период опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithBatchSize меняет размер выборки за один проход.
func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithMaxAttempts меняет число попыток публикации одного события.
func WithMaxAttempts(attempts int) Option {
	return func(w *Worker) {
		if attempts > 0 {
			w.maxAttempts = attempts
		}
	}
}

// WithRetryBaseDelay меняет базовую задержку между повторами.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(w *Worker) {
		if delay > 0 {
			w.retryBase = delay
		}
	}
}

// NewWorker создаёт воркер публикации outbox-событий.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	w := &Worker{
		repo:         repo,
		publisher:    publisher,
		logger:       log.New().WithField("component", "outbox-worker"),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		retryBase:    defaultRetryBaseDelay,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run запускает цикл публикации и блокируется до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	w.logger.WithField("poll_interval", w.pollInterval.String()).Info("outbox worker started")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый проход сразу, не дожидаясь тика.
	w.ProcessOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("outbox worker stopped")
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce публикует один батч накопленных событий.
func (w *Worker) ProcessOnce(ctx context.Context) {
	w.refreshBacklogMetrics()

	messages, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Error("pull pending outbox messages failed")
		return
	}
	if len(messages) == 0 {
		return
	}

	published := 0
	for _, msg := range messages {
		if ctx.Err() != nil {
			return
		}
		if w.publishWithRetry(ctx, msg) {
			published++
		}
	}

	w.logger.WithFields(log.Fields{
		"pulled":    len(messages),
		"published": published,
	}).Debug("outbox batch processed")
}

// publishWithRetry доводит одно событие до публикации либо до DLQ.
func (w *Worker) publishWithRetry(ctx context.Context, msg domain.OutboxMessage) bool {
	logger := w.logger.WithFields(log.Fields{
		"message_id": msg.ID,
		"event_type": msg.EventType,
	})

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		lastErr = w.publisher.Publish(msg)
		if lastErr == nil {
			publishAttempts.WithLabelValues("success").Inc()
			if err := w.repo.MarkSent(msg.ID); err != nil {
				logger.WithError(err).Error("mark outbox message sent failed")
			}
			return true
		}

		publishAttempts.WithLabelValues("error").Inc()
		logger.WithError(lastErr).WithField("attempt", attempt).Warn("outbox publish attempt failed")

		if attempt < w.maxAttempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(w.retryBackoff(attempt)):
			}
		}
	}

	logger.WithError(lastErr).Error("outbox publish exhausted retries")
	w.publishToDLQ(msg)
	if err := w.repo.MarkFailed(msg.ID); err != nil {
		logger.WithError(err).Error("mark outbox message failed failed")
	}
	return false
}

// retryBackoff возвращает экспоненциальную задержку для повтора attempt.
func (w *Worker) retryBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	multiplier := math.Pow(2, float64(shift))
	delay := time.Duration(float64(w.retryBase) * multiplier)
	if delay <= 0 || delay > 30*time.Second {
		return 30 * time.Second
	}
	return delay
}

// publishToDLQ отправляет безнадёжное событие в мёртвую очередь.
func (w *Worker) publishToDLQ(msg domain.OutboxMessage) {
	if w.dlq == nil {
		return
	}
	if err := w.dlq.Publish(msg); err != nil {
		w.logger.WithError(err).WithField("message_id", msg.ID).Error("publish to DLQ failed")
		publishAttempts.WithLabelValues("dlq_error").Inc()
		return
	}
	publishAttempts.WithLabelValues("dlq").Inc()
}

// refreshBacklogMetrics выставляет гейджи по текущему состоянию outbox.
func (w *Worker) refreshBacklogMetrics() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Debug("read outbox stats failed")
		return
	}

	pendingRecords.Set(float64(stats.PendingCount))
	if !stats.OldestPendingAt.IsZero() {
		oldestPendingAge.Set(time.Since(stats.OldestPendingAt).Seconds())
	} else {
		oldestPendingAge.Set(0)
	}
}
