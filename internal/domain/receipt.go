package domain

import "time"

// ReceiptLine — снимок проданной позиции на момент выпуска чека.
// Последующие изменения товара не влияют на уже выпущенный чек.
type ReceiptLine struct {
	ProductID string
	Title     string
	Qty       int32
	// PriceMinor — цена за единицу на момент покупки.
	PriceMinor int64
}

// SubtotalMinor возвращает стоимость позиции чека.
func (l ReceiptLine) SubtotalMinor() int64 {
	return int64(l.Qty) * l.PriceMinor
}

// Receipt — неизменяемое подтверждение состоявшейся покупки.
// После выпуска ни одно поле не мутируется, чек не удаляется.
type Receipt struct {
	ID string
	// Code — уникальный код чека, генерируется при выпуске и никогда не переиспользуется.
	Code string
	// Purchaser — идентификатор или контакт покупателя.
	Purchaser string
	// AmountMinor — точная сумма позиций чека в минимальных единицах.
	AmountMinor int64
	Lines       []ReceiptLine
	IssuedAt    time.Time
}

// AmountOf считает сумму набора позиций чека.
func AmountOf(lines []ReceiptLine) int64 {
	var amount int64
	for _, line := range lines {
		amount += line.SubtotalMinor()
	}
	return amount
}

// ValidateInvariants проверяет инварианты чека перед сохранением.
func (r *Receipt) ValidateInvariants() []error {
	var errs []error

	if r.Code == "" {
		errs = append(errs, ErrReceiptCodeRequired)
	}
	if r.Purchaser == "" {
		errs = append(errs, ErrPurchaserRequired)
	}
	if len(r.Lines) == 0 {
		errs = append(errs, ErrReceiptLinesRequired)
	}
	for _, line := range r.Lines {
		if line.Qty <= 0 {
			errs = append(errs, ErrLineQtyInvalid)
		}
		if line.PriceMinor < 0 {
			errs = append(errs, ErrLinePriceInvalid)
		}
	}
	if AmountOf(r.Lines) != r.AmountMinor {
		errs = append(errs, ErrReceiptAmountMismatch)
	}

	return errs
}
