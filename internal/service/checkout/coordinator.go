package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// DefaultLowStockThreshold — порог остатка: сигнал уходит, когда остаток
// после списания равен порогу или ниже.
const DefaultLowStockThreshold = 10

// Coordinator проводит оформление покупки: владение → эксклюзивный доступ к
// корзине → повторное чтение позиций → независимое резервирование каждой
// позиции → выпуск чека → остаток обратно в корзину.
type Coordinator struct {
	inventory domain.InventoryStore
	carts     domain.CartStore
	ledger    domain.ReceiptLedger
	notifier  domain.NotificationDispatcher

	logger            *log.Entry
	metrics           *metrics.CheckoutMetrics
	lowStockThreshold int32
}

// Option настраивает Coordinator.
type Option func(*Coordinator)

// WithLogger задаёт логгер координатора.
func WithLogger(logger *log.Entry) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics подключает метрики; nil отключает их (для тестов).
func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithNotifier задаёт канал уведомлений о покупке и низком остатке.
func WithNotifier(n domain.NotificationDispatcher) Option {
	return func(c *Coordinator) {
		c.notifier = n
	}
}

// WithLowStockThreshold меняет порог сигнала о низком остатке.
func WithLowStockThreshold(threshold int32) Option {
	return func(c *Coordinator) {
		if threshold > 0 {
			c.lowStockThreshold = threshold
		}
	}
}

// NewCoordinator создаёт рабочий экземпляр координатора оформления.
func NewCoordinator(
	inventory domain.InventoryStore,
	carts domain.CartStore,
	ledger domain.ReceiptLedger,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		inventory:         inventory,
		carts:             carts,
		ledger:            ledger,
		logger:            log.New().WithField("component", "checkout"),
		lowStockThreshold: DefaultLowStockThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// reservedLine — успешно зарезервированная позиция с данными для чека.
type reservedLine struct {
	line domain.CartLine
	snap domain.ProductSnapshot
}

// Purchase выполняет одну попытку оформления корзины. Частичный успех —
// штатный исход: невыполненные позиции остаются в корзине, чек покрывает
// только выкупленные. Если ни одна позиция не прошла, корзина не меняется
// и чек не выпускается.
func (c *Coordinator) Purchase(ctx context.Context, cartID string, requester domain.Requester) (domain.CheckoutResult, error) {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.RecordCheckoutStarted()
	}
	defer func() {
		if c.metrics != nil {
			c.metrics.RecordCheckoutFinished()
			c.metrics.RecordCheckoutDuration(time.Since(start))
		}
	}()

	logger := c.logger.WithFields(log.Fields{
		"cart_id": cartID,
		"user_id": requester.ID,
	})

	cart, err := c.carts.Get(ctx, cartID)
	if err != nil {
		c.recordRejected()
		return domain.CheckoutResult{}, err
	}
	if cart.OwnerID != requester.ID {
		c.recordRejected()
		logger.Warn("purchase attempt on foreign cart")
		return domain.CheckoutResult{}, domain.ErrForbidden
	}

	scope, err := c.carts.AcquireExclusive(ctx, cartID)
	if err != nil {
		c.recordRejected()
		return domain.CheckoutResult{}, err
	}
	defer scope.Release()

	// Позиции перечитываются уже под эксклюзивным доступом: состав, который
	// резервируем, и состав, который останется в корзине, согласованы.
	lines, err := scope.Lines(ctx)
	if err != nil {
		c.recordRejected()
		return domain.CheckoutResult{}, err
	}
	if len(lines) == 0 {
		c.recordRejected()
		return domain.CheckoutResult{}, domain.ErrEmptyCart
	}

	reserved, remainder, unfulfilled, err := c.reserveLines(ctx, logger, lines)
	if err != nil {
		return domain.CheckoutResult{}, err
	}

	if len(reserved) == 0 {
		if c.metrics != nil {
			c.metrics.RecordAllFailed()
		}
		logger.WithField("unfulfilled", len(unfulfilled)).Info("checkout failed for every line")
		return domain.CheckoutResult{
			Outcome:     domain.CheckoutAllFailed,
			Unfulfilled: unfulfilled,
		}, nil
	}

	receiptLines := make([]domain.ReceiptLine, 0, len(reserved))
	for _, r := range reserved {
		receiptLines = append(receiptLines, domain.ReceiptLine{
			ProductID:  r.line.ProductID,
			Title:      r.snap.Title,
			Qty:        r.line.Qty,
			PriceMinor: r.line.PriceMinor,
		})
	}

	issueStart := time.Now()
	receipt, err := c.ledger.Issue(ctx, requester.PurchaserContact(), receiptLines)
	if err != nil {
		// Чек не выпущен — списанные единицы обязаны вернуться на склад.
		c.compensate(logger, reserved)
		logger.WithError(err).Error("receipt issuance failed")
		return domain.CheckoutResult{}, fmt.Errorf("issue receipt: %w", err)
	}
	c.recordStep("issue_receipt", issueStart)
	if c.metrics != nil {
		c.metrics.RecordReceiptIssued()
	}

	// С этого момента чек авторитетен: сбой обновления корзины не отменяет
	// покупку, он логируется и учитывается отдельной метрикой.
	replaceStart := time.Now()
	if err := scope.ReplaceLines(ctx, remainder); err != nil {
		logger.WithError(err).WithField("receipt_id", receipt.ID).
			Error("cart update after receipt issuance failed")
		if c.metrics != nil {
			c.metrics.RecordCartRepairFailure()
		}
	}
	c.recordStep("replace_lines", replaceStart)

	outcome := domain.CheckoutFullyFulfilled
	if len(unfulfilled) > 0 {
		outcome = domain.CheckoutPartiallyFulfilled
		if c.metrics != nil {
			c.metrics.RecordPartiallyFulfilled()
		}
	} else if c.metrics != nil {
		c.metrics.RecordFullyFulfilled()
	}

	c.notify(logger, receipt, reserved)

	logger.WithFields(log.Fields{
		"receipt_id":   receipt.ID,
		"amount_minor": receipt.AmountMinor,
		"outcome":      string(outcome),
	}).Info("checkout finished")

	return domain.CheckoutResult{
		Outcome:     outcome,
		Receipt:     &receipt,
		Unfulfilled: unfulfilled,
	}, nil
}

// reserveLines пытается зарезервировать каждую позицию независимо: нехватка
// остатка или исчезнувший товар не прерывают обход. Внутренний сбой или
// отмена ctx возвращают уже списанные единицы на склад.
func (c *Coordinator) reserveLines(
	ctx context.Context,
	logger *log.Entry,
	lines []domain.CartLine,
) (reserved []reservedLine, remainder []domain.CartLine, unfulfilled []string, err error) {
	remainder = make([]domain.CartLine, 0, len(lines))

	for _, line := range lines {
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.compensate(logger, reserved)
			return nil, nil, nil, ctxErr
		}

		stepStart := time.Now()
		snap, reserveErr := c.inventory.TryReserve(ctx, line.ProductID, line.Qty)
		c.recordStep("reserve", stepStart)

		switch {
		case reserveErr == nil:
			reserved = append(reserved, reservedLine{line: line, snap: snap})
		case domain.IsInsufficientStock(reserveErr) || errors.Is(reserveErr, domain.ErrProductNotFound):
			// Ожидаемый отказ: позиция остаётся в корзине.
			unfulfilled = append(unfulfilled, line.ProductID)
			remainder = append(remainder, line)
		default:
			c.compensate(logger, reserved)
			logger.WithError(reserveErr).WithField("product_id", line.ProductID).
				Error("reserve failed with internal error")
			return nil, nil, nil, fmt.Errorf("reserve %s: %w", line.ProductID, reserveErr)
		}
	}

	return reserved, remainder, unfulfilled, nil
}

// compensate возвращает на склад все уже зарезервированные позиции.
// Выполняется на фоне независимого контекста: отменённый запрос не должен
// блокировать возврат остатков.
func (c *Coordinator) compensate(logger *log.Entry, reserved []reservedLine) {
	if len(reserved) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	units := 0
	for _, r := range reserved {
		if err := c.inventory.Return(ctx, r.line.ProductID, r.line.Qty); err != nil {
			logger.WithError(err).WithField("product_id", r.line.ProductID).
				Error("stock compensation failed")
			continue
		}
		units += int(r.line.Qty)
	}
	if c.metrics != nil && units > 0 {
		c.metrics.RecordStockCompensation(units)
	}
}

// notify рассылает уведомления строго после фиксации результата.
func (c *Coordinator) notify(logger *log.Entry, receipt domain.Receipt, reserved []reservedLine) {
	if c.notifier == nil {
		return
	}

	c.notifier.NotifyPurchase(receipt)

	lowStock := make([]domain.ProductSnapshot, 0)
	for _, r := range reserved {
		if r.snap.StockAfter <= c.lowStockThreshold {
			lowStock = append(lowStock, r.snap)
		}
	}
	if len(lowStock) > 0 {
		if c.metrics != nil {
			for range lowStock {
				c.metrics.RecordLowStockAlert()
			}
		}
		logger.WithField("products", len(lowStock)).Debug("low stock after checkout")
		c.notifier.NotifyLowStock(lowStock)
	}
}

func (c *Coordinator) recordRejected() {
	if c.metrics != nil {
		c.metrics.RecordRejected()
	}
}

func (c *Coordinator) recordStep(step string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RecordStepDuration(step, time.Since(start))
	}
}
