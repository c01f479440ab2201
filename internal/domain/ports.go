package domain

import (
	"context"
	"time"
)

// InventoryStore владеет счётчиками остатков. Единственная точка списания —
// TryReserve: проверка и декремент выполняются как один неделимый шаг,
// гонка check-then-act исключена конструктивно.
type InventoryStore interface {
	// TryReserve атомарно списывает qty единиц товара, если остатка хватает.
	// Возвращает снимок товара на момент списания. Ожидаемые ошибки:
	// ErrProductNotFound и ErrInsufficientStock — обе без побочных эффектов.
	TryReserve(ctx context.Context, productID string, qty int32) (ProductSnapshot, error)
	// Return возвращает ранее зарезервированное количество обратно на склад.
	// Обязательный компенсационный путь для прерванных попыток оформления.
	Return(ctx context.Context, productID string, qty int32) error

	// Операции управления каталогом (вне горячего пути оформления).
	Create(ctx context.Context, product Product) (Product, error)
	Get(ctx context.Context, id string) (Product, error)
	GetByCode(ctx context.Context, code string) (Product, error)
	List(ctx context.Context, limit, offset int) ([]Product, error)
	Update(ctx context.Context, product Product) (Product, error)
	Delete(ctx context.Context, id string) error
}

// CartScope — эксклюзивный доступ к одной корзине. Пока scope не освобождён,
// никакая другая операция не может менять позиции этой корзины.
type CartScope interface {
	// Lines перечитывает позиции корзины уже под эксклюзивным доступом.
	Lines(ctx context.Context) ([]CartLine, error)
	// ReplaceLines заменяет позиции и атомарно пересчитывает итог корзины.
	ReplaceLines(ctx context.Context, lines []CartLine) error
	// Release освобождает корзину; обязан вызываться при любом исходе.
	Release()
}

// CartStore владеет агрегатами корзин. Блокировки только на уровне отдельной
// корзины: несвязанные корзины обрабатываются полностью параллельно.
type CartStore interface {
	// AcquireExclusive блокирует корзину до Release; конкурирующие вызовы для
	// того же cartID ждут или отменяются по ctx.
	AcquireExclusive(ctx context.Context, cartID string) (CartScope, error)

	GetOrCreate(ctx context.Context, ownerID string) (Cart, error)
	Get(ctx context.Context, cartID string) (Cart, error)
	AddLine(ctx context.Context, cartID string, line CartLine) (Cart, error)
	UpdateLineQty(ctx context.Context, cartID, productID string, qty int32) (Cart, error)
	RemoveLine(ctx context.Context, cartID, productID string) (Cart, error)
	Clear(ctx context.Context, cartID string) (Cart, error)
}

// ReceiptLedger — append-only реестр чеков. Запись после фиксации неизменяема.
type ReceiptLedger interface {
	// Issue выпускает чек со свежим кодом и точной суммой позиций.
	// Предусловие (обеспечивает вызывающий): lines непустой.
	Issue(ctx context.Context, purchaser string, lines []ReceiptLine) (Receipt, error)
	Get(ctx context.Context, id string) (Receipt, error)
	GetByCode(ctx context.Context, code string) (Receipt, error)
	ListByPurchaser(ctx context.Context, purchaser string, limit int) ([]Receipt, error)
}

// NotificationDispatcher — best-effort канал уведомлений. Вызывается строго
// после фиксации результата; ошибки не влияют на исход оформления.
type NotificationDispatcher interface {
	NotifyPurchase(receipt Receipt)
	NotifyLowStock(snapshots []ProductSnapshot)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// IdempotencyStore защищает оформление от повторной обработки одного запроса.
type IdempotencyStore interface {
	// TryLock захватывает ключ; false означает, что запрос уже обрабатывается.
	TryLock(ctx context.Context, scope, key string) (bool, error)
	// Remember сохраняет сериализованный ответ для повторной выдачи.
	Remember(ctx context.Context, scope, key, value string) error
	// Recall возвращает сохранённый ответ, если он есть.
	Recall(ctx context.Context, scope, key string) (string, bool, error)
}
