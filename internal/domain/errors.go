package domain

import "errors"

var (
	// ErrCartNotFound возвращается, если корзина не найдена в хранилище.
	ErrCartNotFound = errors.New("cart not found")
	// ErrProductNotFound возвращается, если товар не найден в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrReceiptNotFound возвращается, если чек не найден в реестре.
	ErrReceiptNotFound = errors.New("receipt not found")
	// ErrForbidden — попытка оформить или изменить чужую корзину.
	ErrForbidden = errors.New("cart belongs to another user")
	// ErrEmptyCart — в корзине нет ни одной позиции для оформления.
	ErrEmptyCart = errors.New("cart is empty")
	// ErrInsufficientStock — остатка товара недостаточно для резервирования.
	// Это ожидаемый исход, а не сбой: позиция попадает в unfulfilled.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOwnProduct — продавец пытается добавить собственный товар в корзину.
	ErrOwnProduct = errors.New("cannot buy own product")
	// Ошибка отсутствующего владельца корзины.
	ErrOwnerRequired = errors.New("owner_id is required")
	// Ошибка при некорректном количестве в позиции (<= 0).
	ErrLineQtyInvalid = errors.New("line qty must be greater than zero")
	// Ошибка, если зафиксированная цена позиции отрицательная.
	ErrLinePriceInvalid = errors.New("line price must be non-negative")
	// Ошибка несоответствия итога корзины и сумм позиций.
	ErrTotalMismatch = errors.New("cart total does not match lines sum")
	// Ошибка отсутствующего кода товара.
	ErrProductCodeRequired = errors.New("product code is required")
	// Ошибка дублирования кода товара.
	ErrProductCodeTaken = errors.New("product code already exists")
	// Ошибка отрицательной цены товара.
	ErrProductPriceInvalid = errors.New("product price must be non-negative")
	// Ошибка отрицательного остатка товара.
	ErrProductStockInvalid = errors.New("product stock must be non-negative")
	// Ошибка отсутствующего кода чека.
	ErrReceiptCodeRequired = errors.New("receipt code is required")
	// Ошибка отсутствующего покупателя в чеке.
	ErrPurchaserRequired = errors.New("purchaser is required")
	// Ошибка выпуска чека без позиций.
	ErrReceiptLinesRequired = errors.New("receipt must contain at least one line")
	// Ошибка несоответствия суммы чека и сумм его позиций.
	ErrReceiptAmountMismatch = errors.New("receipt amount does not match lines sum")
	// ErrIdempotencyConflict — запрос с тем же ключом уже обрабатывается.
	ErrIdempotencyConflict = errors.New("request with this idempotency key is in flight")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// IsInsufficientStock проверяет, является ли ошибка нехваткой остатка.
func IsInsufficientStock(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

// IsNotFound проверяет ошибки отсутствия сущностей любого типа.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrCartNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrReceiptNotFound)
}
