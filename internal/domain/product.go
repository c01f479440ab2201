package domain

import (
	"strings"
	"time"
)

// Product представляет товарную позицию каталога с остатком на складе.
type Product struct {
	ID string
	// Code — уникальный код товара, хранится в верхнем регистре.
	Code  string
	Title string
	// PriceMinor — цена за единицу в минимальных денежных единицах (например, копейки).
	PriceMinor int64
	// Stock — текущий остаток; инвариант: всегда >= 0.
	Stock int32
	// OwnerID заполняется для товаров, выставленных продавцами маркетплейса.
	OwnerID   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeCode приводит код товара к каноническому виду.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate проверяет базовые инварианты товара и возвращает список замечаний.
func (p *Product) Validate() []error {
	var errs []error

	if NormalizeCode(p.Code) == "" {
		errs = append(errs, ErrProductCodeRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrProductPriceInvalid)
	}
	if p.Stock < 0 {
		errs = append(errs, ErrProductStockInvalid)
	}

	return errs
}

// ProductSnapshot фиксирует состояние товара на момент успешного резервирования.
// StockAfter — остаток после списания, используется для low-stock сигналов.
type ProductSnapshot struct {
	ProductID  string
	Code       string
	Title      string
	PriceMinor int64
	StockAfter int32
}
