package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func TestNotifyPurchase_EnqueuesOutboxMessage(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	dispatcher := NewOutboxDispatcher(outbox, nil, nil)

	receipt := domain.Receipt{
		ID:          "receipt-1",
		Code:        "code-1",
		Purchaser:   "user-1@example.com",
		AmountMinor: 2500,
		IssuedAt:    time.Now().UTC(),
		Lines: []domain.ReceiptLine{
			{ProductID: "prod-a", Title: "Widget", Qty: 2, PriceMinor: 1000},
			{ProductID: "prod-b", Title: "Gadget", Qty: 1, PriceMinor: 500},
		},
	}

	dispatcher.NotifyPurchase(receipt)

	pending, err := outbox.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 outbox message, got %d", len(pending))
	}

	msg := pending[0]
	if msg.EventType != "receipt.issued" || msg.AggregateID != "receipt-1" {
		t.Fatalf("unexpected message: %+v", msg)
	}

	var payload struct {
		ReceiptCode string `json:"receipt_code"`
		Purchaser   string `json:"purchaser"`
		AmountMinor int64  `json:"amount_minor"`
	}
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ReceiptCode != "code-1" || payload.Purchaser != "user-1@example.com" || payload.AmountMinor != 2500 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestNotifyLowStock_OneMessagePerProduct(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	dispatcher := NewOutboxDispatcher(outbox, nil, nil)

	dispatcher.NotifyLowStock([]domain.ProductSnapshot{
		{ProductID: "prod-a", Code: "ALPHA", Title: "Widget", StockAfter: 3},
		{ProductID: "prod-b", Code: "BETA", Title: "Gadget", StockAfter: 7},
	})

	pending, err := outbox.PullPending(10)
	if err != nil {
		t.Fatalf("pull pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 outbox messages, got %d", len(pending))
	}
	for _, msg := range pending {
		if msg.EventType != "stock.low" {
			t.Fatalf("unexpected event type: %s", msg.EventType)
		}
	}
}

func TestDispatcher_NilOutboxIsNoop(t *testing.T) {
	dispatcher := NewOutboxDispatcher(nil, nil, nil)

	// Не должно паниковать.
	dispatcher.NotifyPurchase(domain.Receipt{ID: "receipt-1"})
	dispatcher.NotifyLowStock([]domain.ProductSnapshot{{ProductID: "prod-a"}})
}
