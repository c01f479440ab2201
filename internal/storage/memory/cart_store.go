package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// cartEntry хранит корзину и канал-семафор её эксклюзивного доступа.
// Канал вместо мьютекса позволяет прервать ожидание по ctx.
type cartEntry struct {
	sem  chan struct{}
	mu   sync.Mutex
	cart domain.Cart
}

// cartStoreInMemory — in-memory реализация CartStore.
type cartStoreInMemory struct {
	mu      sync.RWMutex
	items   map[string]*cartEntry
	byOwner map[string]string
}

// NewCartStore возвращает пустое in-memory хранилище корзин.
func NewCartStore() domain.CartStore {
	return &cartStoreInMemory{
		items:   make(map[string]*cartEntry),
		byOwner: make(map[string]string),
	}
}

// AcquireExclusive захватывает корзину целиком до вызова Release.
// Конкурирующие попытки для того же cartID ждут в очереди семафора.
func (s *cartStoreInMemory) AcquireExclusive(ctx context.Context, cartID string) (domain.CartScope, error) {
	entry, ok := s.lookup(cartID)
	if !ok {
		return nil, domain.ErrCartNotFound
	}

	select {
	case entry.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &cartScopeInMemory{entry: entry}, nil
}

// GetOrCreate возвращает активную корзину пользователя, создавая её при
// первом обращении.
func (s *cartStoreInMemory) GetOrCreate(ctx context.Context, ownerID string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	if ownerID == "" {
		return domain.Cart{}, domain.ErrOwnerRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byOwner[ownerID]; ok {
		return s.items[id].snapshot(), nil
	}

	now := time.Now().UTC()
	cart := domain.Cart{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Status:    domain.CartStatusActive,
		Lines:     nil,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.items[cart.ID] = &cartEntry{sem: make(chan struct{}, 1), cart: cart}
	s.byOwner[ownerID] = cart.ID
	return cart, nil
}

// Get возвращает корзину или ErrCartNotFound.
func (s *cartStoreInMemory) Get(ctx context.Context, cartID string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}

	entry, ok := s.lookup(cartID)
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return entry.snapshot(), nil
}

// AddLine добавляет позицию либо увеличивает количество уже существующей.
// Цена позиции фиксируется при первом добавлении и повторами не меняется.
func (s *cartStoreInMemory) AddLine(ctx context.Context, cartID string, line domain.CartLine) (domain.Cart, error) {
	if line.Qty <= 0 {
		return domain.Cart{}, domain.ErrLineQtyInvalid
	}
	if line.PriceMinor < 0 {
		return domain.Cart{}, domain.ErrLinePriceInvalid
	}
	return s.mutate(ctx, cartID, func(cart *domain.Cart) error {
		for i := range cart.Lines {
			if cart.Lines[i].ProductID == line.ProductID {
				cart.Lines[i].Qty += line.Qty
				return nil
			}
		}
		if line.AddedAt.IsZero() {
			line.AddedAt = time.Now().UTC()
		}
		cart.Lines = append(cart.Lines, line)
		return nil
	})
}

// UpdateLineQty выставляет количество для существующей позиции.
func (s *cartStoreInMemory) UpdateLineQty(ctx context.Context, cartID, productID string, qty int32) (domain.Cart, error) {
	if qty <= 0 {
		return domain.Cart{}, domain.ErrLineQtyInvalid
	}
	return s.mutate(ctx, cartID, func(cart *domain.Cart) error {
		for i := range cart.Lines {
			if cart.Lines[i].ProductID == productID {
				cart.Lines[i].Qty = qty
				return nil
			}
		}
		return domain.ErrProductNotFound
	})
}

// RemoveLine удаляет позицию по товару.
func (s *cartStoreInMemory) RemoveLine(ctx context.Context, cartID, productID string) (domain.Cart, error) {
	return s.mutate(ctx, cartID, func(cart *domain.Cart) error {
		for i := range cart.Lines {
			if cart.Lines[i].ProductID == productID {
				cart.Lines = append(cart.Lines[:i], cart.Lines[i+1:]...)
				return nil
			}
		}
		return domain.ErrProductNotFound
	})
}

// Clear опустошает корзину. Пустая корзина — валидное состояние, запись
// физически не удаляется.
func (s *cartStoreInMemory) Clear(ctx context.Context, cartID string) (domain.Cart, error) {
	return s.mutate(ctx, cartID, func(cart *domain.Cart) error {
		cart.Lines = nil
		return nil
	})
}

// mutate выполняет правку под эксклюзивным доступом и восстанавливает итог.
func (s *cartStoreInMemory) mutate(ctx context.Context, cartID string, fn func(cart *domain.Cart) error) (domain.Cart, error) {
	scope, err := s.AcquireExclusive(ctx, cartID)
	if err != nil {
		return domain.Cart{}, err
	}
	defer scope.Release()

	entry := scope.(*cartScopeInMemory).entry
	entry.mu.Lock()
	defer entry.mu.Unlock()

	cart := cloneCart(entry.cart)
	if err := fn(&cart); err != nil {
		return domain.Cart{}, err
	}
	cart.RecomputeTotal()
	cart.UpdatedAt = time.Now().UTC()
	entry.cart = cart
	return cloneCart(cart), nil
}

func (s *cartStoreInMemory) lookup(cartID string) (*cartEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.items[cartID]
	return entry, ok
}

func (e *cartEntry) snapshot() domain.Cart {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneCart(e.cart)
}

// cloneCart копирует корзину вместе с позициями, чтобы избежать
// непредсказуемых мутаций извне.
func cloneCart(cart domain.Cart) domain.Cart {
	clone := cart
	clone.Lines = make([]domain.CartLine, len(cart.Lines))
	copy(clone.Lines, cart.Lines)
	return clone
}

// cartScopeInMemory — эксклюзивный доступ к одной корзине.
type cartScopeInMemory struct {
	entry    *cartEntry
	released bool
	mu       sync.Mutex
}

// Lines перечитывает позиции уже под захваченным семафором.
func (sc *cartScopeInMemory) Lines(ctx context.Context) ([]domain.CartLine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sc.entry.mu.Lock()
	defer sc.entry.mu.Unlock()

	lines := make([]domain.CartLine, len(sc.entry.cart.Lines))
	copy(lines, sc.entry.cart.Lines)
	return lines, nil
}

// ReplaceLines заменяет позиции и пересчитывает итог одной операцией.
func (sc *cartScopeInMemory) ReplaceLines(ctx context.Context, lines []domain.CartLine) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sc.entry.mu.Lock()
	defer sc.entry.mu.Unlock()

	sc.entry.cart.Lines = make([]domain.CartLine, len(lines))
	copy(sc.entry.cart.Lines, lines)
	sc.entry.cart.RecomputeTotal()
	sc.entry.cart.UpdatedAt = time.Now().UTC()
	return nil
}

// Release освобождает семафор корзины; повторные вызовы безопасны.
func (sc *cartScopeInMemory) Release() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.released {
		return
	}
	sc.released = true
	<-sc.entry.sem
}

var _ domain.CartStore = (*cartStoreInMemory)(nil)
var _ domain.CartScope = (*cartScopeInMemory)(nil)
