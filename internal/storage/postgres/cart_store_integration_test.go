package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestCartStore_PostgresEditFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	carts := NewCartStore(store)

	cart, err := carts.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}

	again, err := carts.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get or create again: %v", err)
	}
	if again.ID != cart.ID {
		t.Fatalf("expected the same cart, got %s and %s", cart.ID, again.ID)
	}

	cart, err = carts.AddLine(context.Background(), cart.ID, domain.CartLine{
		ProductID: "prod-a", Qty: 2, PriceMinor: 1000,
	})
	if err != nil {
		t.Fatalf("add line: %v", err)
	}
	// Повтор с другой ценой наращивает количество, но цена остаётся той,
	// что была зафиксирована при первом добавлении.
	cart, err = carts.AddLine(context.Background(), cart.ID, domain.CartLine{
		ProductID: "prod-a", Qty: 1, PriceMinor: 1500,
	})
	if err != nil {
		t.Fatalf("merge line: %v", err)
	}
	if len(cart.Lines) != 1 || cart.Lines[0].Qty != 3 || cart.TotalMinor != 3000 {
		t.Fatalf("unexpected cart after merge: %+v", cart)
	}
	if cart.Lines[0].PriceMinor != 1000 {
		t.Fatalf("price must stay at first capture, got %d", cart.Lines[0].PriceMinor)
	}

	// Бесплатная позиция не нарушает ограничений схемы.
	cart, err = carts.AddLine(context.Background(), cart.ID, domain.CartLine{
		ProductID: "prod-free", Qty: 1, PriceMinor: 0,
	})
	if err != nil {
		t.Fatalf("zero-price line must be accepted: %v", err)
	}
	if len(cart.Lines) != 2 || cart.TotalMinor != 3000 {
		t.Fatalf("unexpected cart with free line: %+v", cart)
	}
	cart, err = carts.RemoveLine(context.Background(), cart.ID, "prod-free")
	if err != nil {
		t.Fatalf("remove free line: %v", err)
	}

	cart, err = carts.UpdateLineQty(context.Background(), cart.ID, "prod-a", 1)
	if err != nil {
		t.Fatalf("update qty: %v", err)
	}
	if cart.TotalMinor != 1000 {
		t.Fatalf("expected total 1000, got %d", cart.TotalMinor)
	}

	cart, err = carts.Clear(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(cart.Lines) != 0 || cart.TotalMinor != 0 {
		t.Fatalf("expected empty cart, got %+v", cart)
	}

	if _, err := carts.RemoveLine(context.Background(), cart.ID, "prod-a"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestCartStore_PostgresExclusiveScope(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	carts := NewCartStore(store)

	cart, err := carts.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if _, err := carts.AddLine(context.Background(), cart.ID, domain.CartLine{
		ProductID: "prod-a", Qty: 2, PriceMinor: 1000,
	}); err != nil {
		t.Fatalf("add line: %v", err)
	}
	if _, err := carts.AddLine(context.Background(), cart.ID, domain.CartLine{
		ProductID: "prod-b", Qty: 1, PriceMinor: 500,
	}); err != nil {
		t.Fatalf("add line: %v", err)
	}

	scope, err := carts.AcquireExclusive(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	lines, err := scope.Lines(context.Background())
	if err != nil {
		t.Fatalf("scope lines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	// Пока scope держит блокировку, конкурирующий захват ждёт на уровне БД.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := carts.AcquireExclusive(ctx, cart.ID); err == nil {
		t.Fatal("second acquire must not succeed while scope is held")
	}

	remainder := []domain.CartLine{{ProductID: "prod-a", Qty: 2, PriceMinor: 1000, AddedAt: time.Now().UTC()}}
	if err := scope.ReplaceLines(context.Background(), remainder); err != nil {
		t.Fatalf("replace lines: %v", err)
	}
	scope.Release() // после фиксации Release — no-op

	got, err := carts.Get(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(got.Lines) != 1 || got.Lines[0].ProductID != "prod-a" || got.TotalMinor != 2000 {
		t.Fatalf("unexpected cart after replace: %+v", got)
	}
}

func TestCartStore_PostgresScopeReleaseKeepsCart(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	carts := NewCartStore(store)

	cart, err := carts.GetOrCreate(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if _, err := carts.AddLine(context.Background(), cart.ID, domain.CartLine{
		ProductID: "prod-a", Qty: 1, PriceMinor: 100,
	}); err != nil {
		t.Fatalf("add line: %v", err)
	}

	scope, err := carts.AcquireExclusive(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	scope.Release()

	got, err := carts.Get(context.Background(), cart.ID)
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if len(got.Lines) != 1 {
		t.Fatalf("release without replace must keep cart intact: %+v", got)
	}

	if _, err := carts.AcquireExclusive(context.Background(), "missing"); !errors.Is(err, domain.ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}
