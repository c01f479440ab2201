package domain

import "time"

// CartStatus описывает состояние корзины.
type CartStatus string

const (
	// CartStatusActive — корзина редактируется пользователем; ядро работает
	// только с активными корзинами.
	CartStatusActive CartStatus = "active"
)

// CartLine представляет одну позицию корзины.
type CartLine struct {
	// ProductID ссылается на товар каталога; состояние товара не встраивается.
	ProductID string
	// Qty — количество единиц, всегда > 0.
	Qty int32
	// PriceMinor — цена за единицу, зафиксированная при добавлении в корзину.
	PriceMinor int64
	// AddedAt фиксирует момент добавления позиции.
	AddedAt time.Time
}

// SubtotalMinor возвращает стоимость позиции: qty * price.
func (l CartLine) SubtotalMinor() int64 {
	return int64(l.Qty) * l.PriceMinor
}

// Cart агрегирует позиции одного пользователя до оформления покупки.
type Cart struct {
	ID      string
	OwnerID string
	Status  CartStatus
	Lines   []CartLine
	// TotalMinor — производное поле; инвариант: всегда равно сумме позиций.
	TotalMinor int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// TotalOf считает сумму набора позиций в минимальных единицах.
func TotalOf(lines []CartLine) int64 {
	var total int64
	for _, line := range lines {
		total += line.SubtotalMinor()
	}
	return total
}

// RecomputeTotal восстанавливает инвариант итога после любой мутации позиций.
func (c *Cart) RecomputeTotal() {
	c.TotalMinor = TotalOf(c.Lines)
}

// LineByProduct возвращает позицию по товару и признак её наличия.
func (c *Cart) LineByProduct(productID string) (CartLine, bool) {
	for _, line := range c.Lines {
		if line.ProductID == productID {
			return line, true
		}
	}
	return CartLine{}, false
}

// ValidateInvariants проверяет базовые инварианты корзины.
func (c *Cart) ValidateInvariants() []error {
	var errs []error

	if c.OwnerID == "" {
		errs = append(errs, ErrOwnerRequired)
	}
	for _, line := range c.Lines {
		if line.Qty <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.PriceMinor < 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
	}
	// Сверяем итог корзины с суммой позиций: qty * price.
	if TotalOf(c.Lines) != c.TotalMinor {
		errs = append(errs, ErrTotalMismatch)
	}

	return errs
}
