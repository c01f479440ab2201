package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// Checkout события
	EventTypeReceiptIssued EventType = "receipt.issued"
	EventTypeStockLow      EventType = "stock.low"
)

// Topics для Kafka
const (
	TopicNotifications   = "checkout.notifications"
	TopicDeadLetterQueue = "checkout.dlq" // Dead Letter Queue для failed messages
)

// PurchaseEvent публикуется после выпуска чека: подтверждение покупки.
type PurchaseEvent struct {
	EventType   EventType `json:"event_type"`
	ReceiptID   string    `json:"receipt_id"`
	ReceiptCode string    `json:"receipt_code"`
	Purchaser   string    `json:"purchaser"`
	AmountMinor int64     `json:"amount_minor"`
	Timestamp   time.Time `json:"timestamp"`
}

// StockLowEvent сигнализирует продавцу о низком остатке товара.
type StockLowEvent struct {
	EventType EventType `json:"event_type"`
	ProductID string    `json:"product_id"`
	Code      string    `json:"code"`
	Title     string    `json:"title"`
	StockLeft int32     `json:"stock_left"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPurchaseEvent создает событие подтверждения покупки.
func NewPurchaseEvent(receiptID, receiptCode, purchaser string, amountMinor int64) *PurchaseEvent {
	return &PurchaseEvent{
		EventType:   EventTypeReceiptIssued,
		ReceiptID:   receiptID,
		ReceiptCode: receiptCode,
		Purchaser:   purchaser,
		AmountMinor: amountMinor,
		Timestamp:   time.Now(),
	}
}

// NewStockLowEvent создает событие низкого остатка.
func NewStockLowEvent(productID, code, title string, stockLeft int32) *StockLowEvent {
	return &StockLowEvent{
		EventType: EventTypeStockLow,
		ProductID: productID,
		Code:      code,
		Title:     title,
		StockLeft: stockLeft,
		Timestamp: time.Now(),
	}
}
