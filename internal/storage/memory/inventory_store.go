package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// productEntry хранит товар вместе с собственным мьютексом, чтобы списания
// по разным товарам не блокировали друг друга.
type productEntry struct {
	mu      sync.Mutex
	product domain.Product
}

// inventoryStoreInMemory — in-memory реализация InventoryStore для локальной
// разработки и тестов. Порядок блокировок фиксированный: s.mu берётся раньше
// entry.mu и никогда наоборот.
type inventoryStoreInMemory struct {
	mu     sync.RWMutex
	items  map[string]*productEntry
	byCode map[string]string
}

// NewInventoryStore возвращает пустой in-memory склад.
func NewInventoryStore() domain.InventoryStore {
	return &inventoryStoreInMemory{
		items:  make(map[string]*productEntry),
		byCode: make(map[string]string),
	}
}

// TryReserve атомарно списывает qty единиц: проверка остатка и декремент
// выполняются под одним мьютексом товара.
func (s *inventoryStoreInMemory) TryReserve(ctx context.Context, productID string, qty int32) (domain.ProductSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProductSnapshot{}, err
	}
	if qty <= 0 {
		return domain.ProductSnapshot{}, domain.ErrLineQtyInvalid
	}

	entry, ok := s.lookup(productID)
	if !ok {
		return domain.ProductSnapshot{}, domain.ErrProductNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.product.Stock < qty {
		return domain.ProductSnapshot{}, domain.ErrInsufficientStock
	}
	entry.product.Stock -= qty
	entry.product.UpdatedAt = time.Now().UTC()

	return domain.ProductSnapshot{
		ProductID:  entry.product.ID,
		Code:       entry.product.Code,
		Title:      entry.product.Title,
		PriceMinor: entry.product.PriceMinor,
		StockAfter: entry.product.Stock,
	}, nil
}

// Return возвращает зарезервированное количество обратно на склад (компенсация).
func (s *inventoryStoreInMemory) Return(ctx context.Context, productID string, qty int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if qty <= 0 {
		return domain.ErrLineQtyInvalid
	}

	entry, ok := s.lookup(productID)
	if !ok {
		return domain.ErrProductNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.product.Stock += qty
	entry.product.UpdatedAt = time.Now().UTC()
	return nil
}

// Create сохраняет новый товар, проверяя уникальность кода.
func (s *inventoryStoreInMemory) Create(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	product.Code = domain.NormalizeCode(product.Code)
	if errs := product.Validate(); len(errs) != 0 {
		return domain.Product{}, errs[0]
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byCode[product.Code]; taken {
		return domain.Product{}, domain.ErrProductCodeTaken
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now

	s.items[product.ID] = &productEntry{product: product}
	s.byCode[product.Code] = product.ID
	return product, nil
}

// Get возвращает товар или ErrProductNotFound.
func (s *inventoryStoreInMemory) Get(ctx context.Context, id string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	entry, ok := s.lookup(id)
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.product, nil
}

// GetByCode ищет товар по нормализованному коду.
func (s *inventoryStoreInMemory) GetByCode(ctx context.Context, code string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	s.mu.RLock()
	id, ok := s.byCode[domain.NormalizeCode(code)]
	s.mu.RUnlock()
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return s.Get(ctx, id)
}

// List возвращает товары, отсортированные по коду, с limit/offset.
func (s *inventoryStoreInMemory) List(ctx context.Context, limit, offset int) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Указатели копируются до поэлементной блокировки, чтобы не держать
	// s.mu во время захвата entry.mu.
	s.mu.RLock()
	entries := make([]*productEntry, 0, len(s.items))
	for _, entry := range s.items {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	result := make([]domain.Product, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		result = append(result, entry.product)
		entry.mu.Unlock()
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Code < result[j].Code })

	if offset > 0 {
		if offset >= len(result) {
			return []domain.Product{}, nil
		}
		result = result[offset:]
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// Update перезаписывает атрибуты товара. Остаток меняется только через
// TryReserve/Return либо явной правкой каталога администратором.
func (s *inventoryStoreInMemory) Update(ctx context.Context, product domain.Product) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}

	product.Code = domain.NormalizeCode(product.Code)
	if errs := product.Validate(); len(errs) != 0 {
		return domain.Product{}, errs[0]
	}

	// Правка может переименовать код, поэтому карта кодов и сам товар
	// блокируются вместе, в порядке s.mu -> entry.mu.
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[product.ID]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.product.Code != product.Code {
		if owner, taken := s.byCode[product.Code]; taken && owner != product.ID {
			return domain.Product{}, domain.ErrProductCodeTaken
		}
		delete(s.byCode, entry.product.Code)
		s.byCode[product.Code] = product.ID
	}

	product.CreatedAt = entry.product.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	entry.product = product
	return product, nil
}

// Delete удаляет товар из каталога.
func (s *inventoryStoreInMemory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.items[id]
	if !ok {
		return domain.ErrProductNotFound
	}
	entry.mu.Lock()
	code := entry.product.Code
	entry.mu.Unlock()

	delete(s.byCode, code)
	delete(s.items, id)
	return nil
}

func (s *inventoryStoreInMemory) lookup(productID string) (*productEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.items[productID]
	return entry, ok
}

var _ domain.InventoryStore = (*inventoryStoreInMemory)(nil)
