package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// ReceiptHandler обслуживает чтение реестра чеков. Чеки неизменяемы,
// записывающих маршрутов нет: единственный способ выпустить чек — оформление.
type ReceiptHandler struct {
	ledger  domain.ReceiptLedger
	logger  *log.Entry
	timeout time.Duration
}

// NewReceiptHandler создаёт обработчик чеков.
func NewReceiptHandler(ledger domain.ReceiptLedger, logger *log.Entry, timeout time.Duration) *ReceiptHandler {
	if logger == nil {
		logger = log.New().WithField("component", "http-receipt")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ReceiptHandler{ledger: ledger, logger: logger, timeout: timeout}
}

type receiptLineResponse struct {
	ProductID     string `json:"product_id"`
	Title         string `json:"title"`
	Qty           int32  `json:"qty"`
	PriceMinor    int64  `json:"price_minor"`
	SubtotalMinor int64  `json:"subtotal_minor"`
}

type receiptResponse struct {
	ID          string                `json:"id"`
	Code        string                `json:"code"`
	Purchaser   string                `json:"purchaser"`
	AmountMinor int64                 `json:"amount_minor"`
	Lines       []receiptLineResponse `json:"lines"`
	IssuedAt    time.Time             `json:"issued_at"`
}

func toReceiptResponse(r domain.Receipt) receiptResponse {
	lines := make([]receiptLineResponse, 0, len(r.Lines))
	for _, line := range r.Lines {
		lines = append(lines, receiptLineResponse{
			ProductID:     line.ProductID,
			Title:         line.Title,
			Qty:           line.Qty,
			PriceMinor:    line.PriceMinor,
			SubtotalMinor: line.SubtotalMinor(),
		})
	}
	return receiptResponse{
		ID:          r.ID,
		Code:        r.Code,
		Purchaser:   r.Purchaser,
		AmountMinor: r.AmountMinor,
		Lines:       lines,
		IssuedAt:    r.IssuedAt,
	}
}

// Get возвращает чек по идентификатору: покупателю или администратору.
func (h *ReceiptHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	receipt, err := h.ledger.Get(ctx, chi.URLParam(r, "receiptID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if !h.canRead(r, receipt) {
		respondDomainError(w, domain.ErrForbidden)
		return
	}
	respondJSON(w, http.StatusOK, toReceiptResponse(receipt))
}

// GetByCode возвращает чек по его уникальному коду.
func (h *ReceiptHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	receipt, err := h.ledger.GetByCode(ctx, chi.URLParam(r, "code"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if !h.canRead(r, receipt) {
		respondDomainError(w, domain.ErrForbidden)
		return
	}
	respondJSON(w, http.StatusOK, toReceiptResponse(receipt))
}

// ListOwn возвращает чеки текущего пользователя, новые первыми.
func (h *ReceiptHandler) ListOwn(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	limit := queryInt(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}

	receipts, err := h.ledger.ListByPurchaser(ctx, purchaserOf(principal), limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	out := make([]receiptResponse, 0, len(receipts))
	for _, receipt := range receipts {
		out = append(out, toReceiptResponse(receipt))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *ReceiptHandler) canRead(r *http.Request, receipt domain.Receipt) bool {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		return false
	}
	if principal.Role == RoleAdmin {
		return true
	}
	return receipt.Purchaser == purchaserOf(principal)
}

// purchaserOf повторяет выбор идентификатора покупателя при выпуске чека.
func purchaserOf(p Principal) string {
	return domain.Requester{ID: p.UserID, Contact: p.Email}.PurchaserContact()
}
