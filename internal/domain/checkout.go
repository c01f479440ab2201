package domain

// CheckoutOutcome описывает терминальный исход попытки оформления.
type CheckoutOutcome string

const (
	// CheckoutAllFailed — ни одна позиция не зарезервирована; корзина не тронута, чек не выпущен.
	CheckoutAllFailed CheckoutOutcome = "all_failed"
	// CheckoutPartiallyFulfilled — часть позиций выкуплена, остаток остался в корзине.
	CheckoutPartiallyFulfilled CheckoutOutcome = "partially_fulfilled"
	// CheckoutFullyFulfilled — выкуплены все позиции, корзина опустела.
	CheckoutFullyFulfilled CheckoutOutcome = "fully_fulfilled"
)

// Requester идентифицирует инициатора оформления. Аутентификация выполняется
// вызывающей стороной; ядро проверяет только владение корзиной.
type Requester struct {
	ID string
	// Contact — адрес для чека (например, email). Если пуст, используется ID.
	Contact string
	// Role — роль пользователя (user/premium/admin), заполняется транспортом.
	Role string
}

// PurchaserContact возвращает идентификатор покупателя для чека.
func (r Requester) PurchaserContact() string {
	if r.Contact != "" {
		return r.Contact
	}
	return r.ID
}

// CheckoutResult — итог одной попытки оформления.
type CheckoutResult struct {
	Outcome CheckoutOutcome
	// Receipt выпускается, только если зарезервирована хотя бы одна позиция.
	Receipt *Receipt
	// Unfulfilled — товары, которые не удалось зарезервировать, в порядке корзины.
	Unfulfilled []string
}
