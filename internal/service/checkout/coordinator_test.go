package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type fixture struct {
	inventory domain.InventoryStore
	carts     domain.CartStore
	ledger    domain.ReceiptLedger
	notifier  *stubNotifier
}

type stubNotifier struct {
	purchases []domain.Receipt
	lowStock  [][]domain.ProductSnapshot
}

func (n *stubNotifier) NotifyPurchase(receipt domain.Receipt) {
	n.purchases = append(n.purchases, receipt)
}

func (n *stubNotifier) NotifyLowStock(snapshots []domain.ProductSnapshot) {
	n.lowStock = append(n.lowStock, snapshots)
}

// flakyInventory подменяет TryReserve для заданных товаров внутренней ошибкой.
type flakyInventory struct {
	domain.InventoryStore
	failOn map[string]error
	cancel context.CancelFunc
}

func (f *flakyInventory) TryReserve(ctx context.Context, productID string, qty int32) (domain.ProductSnapshot, error) {
	if err, ok := f.failOn[productID]; ok {
		return domain.ProductSnapshot{}, err
	}
	snap, err := f.InventoryStore.TryReserve(ctx, productID, qty)
	if f.cancel != nil {
		f.cancel()
	}
	return snap, err
}

func newFixture() *fixture {
	return &fixture{
		inventory: memory.NewInventoryStore(),
		carts:     memory.NewCartStore(),
		ledger:    memory.NewReceiptLedger(),
		notifier:  &stubNotifier{},
	}
}

func (f *fixture) coordinator(opts ...Option) *Coordinator {
	base := []Option{WithNotifier(f.notifier)}
	return NewCoordinator(f.inventory, f.carts, f.ledger, append(base, opts...)...)
}

func (f *fixture) addProduct(t *testing.T, code string, price int64, stock int32) domain.Product {
	t.Helper()

	product, err := f.inventory.Create(context.Background(), domain.Product{
		Code:       code,
		Title:      "Product " + code,
		PriceMinor: price,
		Stock:      stock,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

func (f *fixture) fillCart(t *testing.T, ownerID string, lines ...domain.CartLine) domain.Cart {
	t.Helper()

	cart, err := f.carts.GetOrCreate(context.Background(), ownerID)
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	for _, line := range lines {
		if cart, err = f.carts.AddLine(context.Background(), cart.ID, line); err != nil {
			t.Fatalf("add line: %v", err)
		}
	}
	return cart
}

func (f *fixture) stockOf(t *testing.T, productID string) int32 {
	t.Helper()

	product, err := f.inventory.Get(context.Background(), productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	return product.Stock
}

// Ключевой сценарий частичного выполнения: первая позиция требует больше,
// чем есть на складе, вторая проходит. Чек покрывает только вторую, остаток
// первой остаётся в корзине.
func TestPurchase_PartialFulfillment(t *testing.T) {
	f := newFixture()
	productA := f.addProduct(t, "alpha", 1000, 1)
	productB := f.addProduct(t, "beta", 500, 10)
	cart := f.fillCart(t, "user-1",
		domain.CartLine{ProductID: productA.ID, Qty: 2, PriceMinor: 1000},
		domain.CartLine{ProductID: productB.ID, Qty: 1, PriceMinor: 500},
	)

	result, err := f.coordinator().Purchase(context.Background(), cart.ID, domain.Requester{ID: "user-1"})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if result.Outcome != domain.CheckoutPartiallyFulfilled {
		t.Fatalf("expected partial outcome, got %s", result.Outcome)
	}
	if result.Receipt == nil || result.Receipt.AmountMinor != 500 {
		t.Fatalf("expected receipt for 500, got %+v", result.Receipt)
	}
	if len(result.Unfulfilled) != 1 || result.Unfulfilled[0] != productA.ID {
		t.Fatalf("unexpected unfulfilled set: %v", result.Unfulfilled)
	}

	// Остаток первой позиции не тронут, вторая списана.
	if got := f.stockOf(t, productA.ID); got != 1 {
		t.Fatalf("productA stock must stay 1, got %d", got)
	}
	if got := f.stockOf(t, productB.ID); got != 9 {
		t.Fatalf("productB stock must drop to 9, got %d", got)
	}

	// В корзине осталась только невыполненная позиция.
	after, err := f.carts.Get(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(after.Lines) != 1 || after.Lines[0].ProductID != productA.ID {
		t.Fatalf("unexpected cart remainder: %+v", after.Lines)
	}
	if after.TotalMinor != 2000 {
		t.Fatalf("remainder total must be 2000, got %d", after.TotalMinor)
	}

	// Остаток beta упал ниже порога — продавцу ушёл сигнал.
	if len(f.notifier.lowStock) != 1 || f.notifier.lowStock[0][0].ProductID != productB.ID {
		t.Fatalf("expected low stock signal for productB, got %+v", f.notifier.lowStock)
	}
	if len(f.notifier.purchases) != 1 {
		t.Fatalf("expected purchase notification, got %d", len(f.notifier.purchases))
	}
}

func TestPurchase_FullFulfillment(t *testing.T) {
	f := newFixture()
	productA := f.addProduct(t, "alpha", 1000, 100)
	productB := f.addProduct(t, "beta", 500, 100)
	cart := f.fillCart(t, "user-1",
		domain.CartLine{ProductID: productA.ID, Qty: 2, PriceMinor: 1000},
		domain.CartLine{ProductID: productB.ID, Qty: 3, PriceMinor: 500},
	)

	result, err := f.coordinator().Purchase(context.Background(), cart.ID, domain.Requester{ID: "user-1", Contact: "user-1@example.com"})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if result.Outcome != domain.CheckoutFullyFulfilled {
		t.Fatalf("expected full outcome, got %s", result.Outcome)
	}
	if result.Receipt.AmountMinor != 3500 {
		t.Fatalf("expected receipt for 3500, got %d", result.Receipt.AmountMinor)
	}
	if result.Receipt.Purchaser != "user-1@example.com" {
		t.Fatalf("receipt must carry requester contact, got %s", result.Receipt.Purchaser)
	}
	if len(result.Unfulfilled) != 0 {
		t.Fatalf("expected no unfulfilled lines, got %v", result.Unfulfilled)
	}

	after, err := f.carts.Get(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(after.Lines) != 0 || after.TotalMinor != 0 {
		t.Fatalf("cart must be emptied, got %+v", after)
	}

	// Остатки высокие, сигналов о низком остатке нет.
	if len(f.notifier.lowStock) != 0 {
		t.Fatalf("unexpected low stock signal: %+v", f.notifier.lowStock)
	}
}

// Если не прошла ни одна позиция, корзина не меняется и чек не выпускается.
func TestPurchase_AllFailedLeavesCartUntouched(t *testing.T) {
	f := newFixture()
	productA := f.addProduct(t, "alpha", 1000, 1)
	cart := f.fillCart(t, "user-1",
		domain.CartLine{ProductID: productA.ID, Qty: 5, PriceMinor: 1000},
	)

	result, err := f.coordinator().Purchase(context.Background(), cart.ID, domain.Requester{ID: "user-1"})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if result.Outcome != domain.CheckoutAllFailed {
		t.Fatalf("expected all_failed outcome, got %s", result.Outcome)
	}
	if result.Receipt != nil {
		t.Fatalf("no receipt must be issued, got %+v", result.Receipt)
	}

	after, err := f.carts.Get(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(after.Lines) != 1 || after.Lines[0].Qty != 5 {
		t.Fatalf("cart must stay untouched, got %+v", after.Lines)
	}
	if got := f.stockOf(t, productA.ID); got != 1 {
		t.Fatalf("stock must stay 1, got %d", got)
	}
	if len(f.notifier.purchases) != 0 {
		t.Fatal("no purchase notification expected")
	}
}

func TestPurchase_ForeignCart(t *testing.T) {
	f := newFixture()
	productA := f.addProduct(t, "alpha", 1000, 10)
	cart := f.fillCart(t, "user-1",
		domain.CartLine{ProductID: productA.ID, Qty: 1, PriceMinor: 1000},
	)

	_, err := f.coordinator().Purchase(context.Background(), cart.ID, domain.Requester{ID: "user-2"})
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if got := f.stockOf(t, productA.ID); got != 10 {
		t.Fatalf("stock must stay 10, got %d", got)
	}
}

func TestPurchase_EmptyCart(t *testing.T) {
	f := newFixture()
	cart := f.fillCart(t, "user-1")

	_, err := f.coordinator().Purchase(context.Background(), cart.ID, domain.Requester{ID: "user-1"})
	if !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestPurchase_CartNotFound(t *testing.T) {
	f := newFixture()

	_, err := f.coordinator().Purchase(context.Background(), "missing", domain.Requester{ID: "user-1"})
	if !errors.Is(err, domain.ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

// Внутренний сбой резервирования возвращает уже списанные единицы на склад.
func TestPurchase_InternalFailureCompensates(t *testing.T) {
	f := newFixture()
	productA := f.addProduct(t, "alpha", 1000, 10)
	productB := f.addProduct(t, "beta", 500, 10)
	cart := f.fillCart(t, "user-1",
		domain.CartLine{ProductID: productA.ID, Qty: 3, PriceMinor: 1000},
		domain.CartLine{ProductID: productB.ID, Qty: 1, PriceMinor: 500},
	)

	boom := errors.New("storage unavailable")
	flaky := &flakyInventory{
		InventoryStore: f.inventory,
		failOn:         map[string]error{productB.ID: boom},
	}
	coordinator := NewCoordinator(flaky, f.carts, f.ledger, WithNotifier(f.notifier))

	_, err := coordinator.Purchase(context.Background(), cart.ID, domain.Requester{ID: "user-1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped internal error, got %v", err)
	}

	// Резерв первой позиции откатился.
	if got := f.stockOf(t, productA.ID); got != 10 {
		t.Fatalf("productA stock must be restored to 10, got %d", got)
	}

	after, err := f.carts.Get(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(after.Lines) != 2 {
		t.Fatalf("cart must stay untouched after internal failure: %+v", after.Lines)
	}
	if len(f.notifier.purchases) != 0 {
		t.Fatal("no purchase notification expected after failure")
	}
}

// Отмена контекста между позициями ведёт себя как внутренний сбой:
// зарезервированное возвращается, корзина не меняется.
func TestPurchase_ContextCanceledCompensates(t *testing.T) {
	f := newFixture()
	productA := f.addProduct(t, "alpha", 1000, 10)
	productB := f.addProduct(t, "beta", 500, 10)
	cart := f.fillCart(t, "user-1",
		domain.CartLine{ProductID: productA.ID, Qty: 2, PriceMinor: 1000},
		domain.CartLine{ProductID: productB.ID, Qty: 1, PriceMinor: 500},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Контекст отменяется сразу после первого успешного резервирования.
	flaky := &flakyInventory{InventoryStore: f.inventory, cancel: cancel}
	coordinator := NewCoordinator(flaky, f.carts, f.ledger, WithNotifier(f.notifier))

	_, err := coordinator.Purchase(ctx, cart.ID, domain.Requester{ID: "user-1"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	if got := f.stockOf(t, productA.ID); got != 10 {
		t.Fatalf("productA stock must be restored to 10, got %d", got)
	}
	if got := f.stockOf(t, productB.ID); got != 10 {
		t.Fatalf("productB stock must stay 10, got %d", got)
	}
}

// Чек считает сумму по ценам, зафиксированным в корзине.
func TestPurchase_ReceiptUsesCartPrices(t *testing.T) {
	f := newFixture()
	product := f.addProduct(t, "alpha", 1500, 10)
	cart := f.fillCart(t, "user-1",
		// Цена зафиксирована при добавлении, позже товар мог подорожать.
		domain.CartLine{ProductID: product.ID, Qty: 2, PriceMinor: 1000},
	)

	product.PriceMinor = 9999
	if _, err := f.inventory.Update(context.Background(), product); err != nil {
		t.Fatalf("update product: %v", err)
	}

	result, err := f.coordinator().Purchase(context.Background(), cart.ID, domain.Requester{ID: "user-1"})
	if err != nil {
		t.Fatalf("purchase: %v", err)
	}
	if result.Receipt.AmountMinor != 2000 {
		t.Fatalf("receipt must honor cart prices, got %d", result.Receipt.AmountMinor)
	}
}

func TestPurchase_LowStockThresholdOption(t *testing.T) {
	f := newFixture()
	product := f.addProduct(t, "alpha", 1000, 100)
	cart := f.fillCart(t, "user-1",
		domain.CartLine{ProductID: product.ID, Qty: 1, PriceMinor: 1000},
	)

	coordinator := f.coordinator(WithLowStockThreshold(100))

	if _, err := coordinator.Purchase(context.Background(), cart.ID, domain.Requester{ID: "user-1"}); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if len(f.notifier.lowStock) != 1 {
		t.Fatalf("expected low stock signal with raised threshold, got %+v", f.notifier.lowStock)
	}
	if f.notifier.lowStock[0][0].StockAfter != 99 {
		t.Fatalf("unexpected snapshot: %+v", f.notifier.lowStock[0][0])
	}
}

// Граница порога: остаток, равный порогу после списания, уже считается низким.
func TestPurchase_LowStockAtExactThreshold(t *testing.T) {
	f := newFixture()
	product := f.addProduct(t, "alpha", 1000, 10)
	cart := f.fillCart(t, "user-1",
		domain.CartLine{ProductID: product.ID, Qty: 1, PriceMinor: 1000},
	)

	coordinator := f.coordinator(WithLowStockThreshold(9))

	if _, err := coordinator.Purchase(context.Background(), cart.ID, domain.Requester{ID: "user-1"}); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if len(f.notifier.lowStock) != 1 {
		t.Fatalf("expected low stock signal at stock == threshold, got %+v", f.notifier.lowStock)
	}
	if f.notifier.lowStock[0][0].StockAfter != 9 {
		t.Fatalf("unexpected snapshot: %+v", f.notifier.lowStock[0][0])
	}
}

// Остаток на единицу выше порога сигнала не даёт.
func TestPurchase_NoLowStockAboveThreshold(t *testing.T) {
	f := newFixture()
	product := f.addProduct(t, "alpha", 1000, 11)
	cart := f.fillCart(t, "user-1",
		domain.CartLine{ProductID: product.ID, Qty: 1, PriceMinor: 1000},
	)

	coordinator := f.coordinator(WithLowStockThreshold(9))

	if _, err := coordinator.Purchase(context.Background(), cart.ID, domain.Requester{ID: "user-1"}); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	if len(f.notifier.lowStock) != 0 {
		t.Fatalf("unexpected low stock signal above threshold: %+v", f.notifier.lowStock)
	}
}

// Повторное оформление после частичного успеха работает с остатком корзины.
func TestPurchase_RetryAfterPartial(t *testing.T) {
	f := newFixture()
	productA := f.addProduct(t, "alpha", 1000, 1)
	productB := f.addProduct(t, "beta", 500, 10)
	cart := f.fillCart(t, "user-1",
		domain.CartLine{ProductID: productA.ID, Qty: 2, PriceMinor: 1000},
		domain.CartLine{ProductID: productB.ID, Qty: 1, PriceMinor: 500},
	)

	coordinator := f.coordinator()
	requester := domain.Requester{ID: "user-1"}

	first, err := coordinator.Purchase(context.Background(), cart.ID, requester)
	if err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	if first.Outcome != domain.CheckoutPartiallyFulfilled {
		t.Fatalf("expected partial outcome, got %s", first.Outcome)
	}

	// Продавец пополнил склад — повторная попытка выкупает остаток.
	if err := f.inventory.Return(context.Background(), productA.ID, 5); err != nil {
		t.Fatalf("restock: %v", err)
	}

	second, err := coordinator.Purchase(context.Background(), cart.ID, requester)
	if err != nil {
		t.Fatalf("second purchase: %v", err)
	}
	if second.Outcome != domain.CheckoutFullyFulfilled {
		t.Fatalf("expected full outcome on retry, got %s", second.Outcome)
	}
	if second.Receipt.AmountMinor != 2000 {
		t.Fatalf("expected receipt for 2000, got %d", second.Receipt.AmountMinor)
	}

	after, err := f.carts.Get(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(after.Lines) != 0 {
		t.Fatalf("cart must be empty after retry, got %+v", after.Lines)
	}
}
