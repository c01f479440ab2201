package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// receiptLedgerInMemory — append-only in-memory реестр чеков.
type receiptLedgerInMemory struct {
	mu     sync.RWMutex
	items  map[string]domain.Receipt
	byCode map[string]string
}

// NewReceiptLedger возвращает пустой in-memory реестр.
func NewReceiptLedger() domain.ReceiptLedger {
	return &receiptLedgerInMemory{
		items:  make(map[string]domain.Receipt),
		byCode: make(map[string]string),
	}
}

// Issue выпускает чек со свежим уникальным кодом и точной суммой позиций.
// Запись после сохранения не мутируется и не удаляется.
func (l *receiptLedgerInMemory) Issue(ctx context.Context, purchaser string, lines []domain.ReceiptLine) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}

	receipt := domain.Receipt{
		ID:          uuid.NewString(),
		Code:        uuid.NewString(),
		Purchaser:   purchaser,
		Lines:       cloneLines(lines),
		AmountMinor: domain.AmountOf(lines),
		IssuedAt:    time.Now().UTC(),
	}
	if errs := receipt.ValidateInvariants(); len(errs) != 0 {
		return domain.Receipt{}, errs[0]
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.items[receipt.ID] = receipt
	l.byCode[receipt.Code] = receipt.ID
	return cloneReceipt(receipt), nil
}

// Get возвращает копию чека или ErrReceiptNotFound.
func (l *receiptLedgerInMemory) Get(ctx context.Context, id string) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	receipt, ok := l.items[id]
	if !ok {
		return domain.Receipt{}, domain.ErrReceiptNotFound
	}
	return cloneReceipt(receipt), nil
}

// GetByCode ищет чек по его уникальному коду.
func (l *receiptLedgerInMemory) GetByCode(ctx context.Context, code string) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	id, ok := l.byCode[code]
	if !ok {
		return domain.Receipt{}, domain.ErrReceiptNotFound
	}
	return cloneReceipt(l.items[id]), nil
}

// ListByPurchaser возвращает чеки покупателя, новые первыми, ограничивая
// выборку limit (если >0).
func (l *receiptLedgerInMemory) ListByPurchaser(ctx context.Context, purchaser string, limit int) ([]domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	result := make([]domain.Receipt, 0, len(l.items))
	for _, receipt := range l.items {
		if receipt.Purchaser != purchaser {
			continue
		}
		result = append(result, cloneReceipt(receipt))
	}
	l.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].IssuedAt.Equal(result[j].IssuedAt) {
			return result[i].IssuedAt.After(result[j].IssuedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// cloneReceipt копирует чек вместе с позициями: наружу всегда уходит копия,
// поэтому выпущенный чек невозможно изменить через возвращённое значение.
func cloneReceipt(receipt domain.Receipt) domain.Receipt {
	clone := receipt
	clone.Lines = cloneLines(receipt.Lines)
	return clone
}

func cloneLines(lines []domain.ReceiptLine) []domain.ReceiptLine {
	clone := make([]domain.ReceiptLine, len(lines))
	copy(clone, lines)
	return clone
}

var _ domain.ReceiptLedger = (*receiptLedgerInMemory)(nil)
