package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func createProductForIntegrationTest(t *testing.T, store domain.InventoryStore, code string, price int64, stock int32) domain.Product {
	t.Helper()

	product, err := store.Create(context.Background(), domain.Product{
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

func TestInventoryStore_PostgresReserveAndReturn(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	inventory := NewInventoryStore(store)

	product := createProductForIntegrationTest(t, inventory, "widget", 1000, 5)

	snap, err := inventory.TryReserve(context.Background(), product.ID, 2)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if snap.StockAfter != 3 {
		t.Fatalf("expected stock 3 after reserve, got %d", snap.StockAfter)
	}

	if _, err := inventory.TryReserve(context.Background(), product.ID, 4); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if _, err := inventory.TryReserve(context.Background(), "missing", 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	if err := inventory.Return(context.Background(), product.ID, 2); err != nil {
		t.Fatalf("return: %v", err)
	}
	got, err := inventory.Get(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Stock != 5 {
		t.Fatalf("expected stock restored to 5, got %d", got.Stock)
	}
}

func TestInventoryStore_PostgresConcurrentReserveNoOversell(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	inventory := NewInventoryStore(store)

	product := createProductForIntegrationTest(t, inventory, "scarce", 500, 10)

	const attempts = 40

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := inventory.TryReserve(context.Background(), product.ID, 1)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientStock):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 10 {
		t.Fatalf("expected exactly 10 successful reservations, got %d", succeeded)
	}

	got, err := inventory.Get(context.Background(), product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Stock != 0 {
		t.Fatalf("expected zero stock, got %d", got.Stock)
	}
}

func TestInventoryStore_PostgresCatalog(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	inventory := NewInventoryStore(store)

	product := createProductForIntegrationTest(t, inventory, "widget", 1000, 5)

	if _, err := inventory.Create(context.Background(), domain.Product{
		Code: "Widget", Title: "dup", PriceMinor: 100, Stock: 1,
	}); !errors.Is(err, domain.ErrProductCodeTaken) {
		t.Fatalf("expected ErrProductCodeTaken, got %v", err)
	}

	byCode, err := inventory.GetByCode(context.Background(), " widget ")
	if err != nil {
		t.Fatalf("get by code: %v", err)
	}
	if byCode.ID != product.ID {
		t.Fatalf("expected product %s, got %s", product.ID, byCode.ID)
	}

	product.Title = "Renamed"
	updated, err := inventory.Update(context.Background(), product)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Renamed" {
		t.Fatalf("unexpected updated product: %+v", updated)
	}

	if err := inventory.Delete(context.Background(), product.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := inventory.Get(context.Background(), product.ID); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound after delete, got %v", err)
	}
}
