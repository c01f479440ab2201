package notify

import (
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// OutboxDispatcher реализует NotificationDispatcher поверх transactional
// outbox: уведомления сохраняются как события и публикуются воркером
// асинхронно. Сбой записи логируется и не влияет на результат оформления.
type OutboxDispatcher struct {
	outbox  domain.OutboxRepository
	logger  *log.Entry
	metrics *metrics.CheckoutMetrics
}

// NewOutboxDispatcher создаёт диспетчер уведомлений поверх outbox.
// nil outbox превращает диспетчер в no-op.
func NewOutboxDispatcher(outbox domain.OutboxRepository, logger *log.Entry, m *metrics.CheckoutMetrics) *OutboxDispatcher {
	if logger == nil {
		logger = log.New().WithField("component", "notify")
	}
	return &OutboxDispatcher{
		outbox:  outbox,
		logger:  logger,
		metrics: m,
	}
}

// NotifyPurchase ставит в очередь подтверждение покупки для покупателя.
func (d *OutboxDispatcher) NotifyPurchase(receipt domain.Receipt) {
	if d.outbox == nil {
		return
	}

	event := kafka.NewPurchaseEvent(receipt.ID, receipt.Code, receipt.Purchaser, receipt.AmountMinor)
	d.enqueue("receipt", receipt.ID, string(kafka.EventTypeReceiptIssued), event)
}

// NotifyLowStock ставит в очередь сигнал о низком остатке по каждому товару.
func (d *OutboxDispatcher) NotifyLowStock(snapshots []domain.ProductSnapshot) {
	if d.outbox == nil {
		return
	}

	for _, snap := range snapshots {
		event := kafka.NewStockLowEvent(snap.ProductID, snap.Code, snap.Title, snap.StockAfter)
		d.enqueue("product", snap.ProductID, string(kafka.EventTypeStockLow), event)
	}
}

func (d *OutboxDispatcher) enqueue(aggregateType, aggregateID, eventType string, event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.WithError(err).WithFields(log.Fields{
			"aggregate_id": aggregateID,
			"event_type":   eventType,
		}).Error("marshal notification failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
	}
	if _, err := d.outbox.Enqueue(msg); err != nil {
		d.logger.WithError(err).WithFields(log.Fields{
			"aggregate_id": aggregateID,
			"event_type":   eventType,
			"ts":           time.Now().UTC().Format(time.RFC3339Nano),
		}).Error("enqueue notification failed")
		return
	}
	if d.metrics != nil {
		d.metrics.RecordOutboxEvent()
	}
}

var _ domain.NotificationDispatcher = (*OutboxDispatcher)(nil)
