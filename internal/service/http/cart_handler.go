package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
)

// CartHandler обслуживает редактирование корзины и оформление покупки.
type CartHandler struct {
	carts       domain.CartStore
	inventory   domain.InventoryStore
	coordinator *checkout.Coordinator
	idempotency domain.IdempotencyStore
	logger      *log.Entry
	timeout     time.Duration
}

// NewCartHandler создаёт обработчик корзин. idempotency может быть nil —
// тогда заголовок Idempotency-Key игнорируется.
func NewCartHandler(
	carts domain.CartStore,
	inventory domain.InventoryStore,
	coordinator *checkout.Coordinator,
	idempotency domain.IdempotencyStore,
	logger *log.Entry,
	timeout time.Duration,
) *CartHandler {
	if logger == nil {
		logger = log.New().WithField("component", "http-cart")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CartHandler{
		carts:       carts,
		inventory:   inventory,
		coordinator: coordinator,
		idempotency: idempotency,
		logger:      logger,
		timeout:     timeout,
	}
}

type qtyRequest struct {
	Qty int32 `json:"qty"`
}

type cartLineResponse struct {
	ProductID     string    `json:"product_id"`
	Qty           int32     `json:"qty"`
	PriceMinor    int64     `json:"price_minor"`
	SubtotalMinor int64     `json:"subtotal_minor"`
	AddedAt       time.Time `json:"added_at"`
}

type cartResponse struct {
	ID         string             `json:"id"`
	OwnerID    string             `json:"owner_id"`
	Lines      []cartLineResponse `json:"lines"`
	TotalMinor int64              `json:"total_minor"`
}

type purchaseResponse struct {
	Outcome     string           `json:"outcome"`
	Receipt     *receiptResponse `json:"receipt,omitempty"`
	Unfulfilled []string         `json:"unfulfilled,omitempty"`
}

func toCartResponse(cart domain.Cart) cartResponse {
	lines := make([]cartLineResponse, 0, len(cart.Lines))
	for _, line := range cart.Lines {
		lines = append(lines, cartLineResponse{
			ProductID:     line.ProductID,
			Qty:           line.Qty,
			PriceMinor:    line.PriceMinor,
			SubtotalMinor: line.SubtotalMinor(),
			AddedAt:       line.AddedAt,
		})
	}
	return cartResponse{
		ID:         cart.ID,
		OwnerID:    cart.OwnerID,
		Lines:      lines,
		TotalMinor: cart.TotalMinor,
	}
}

// GetOwnCart возвращает корзину пользователя, создавая её при первом обращении.
func (h *CartHandler) GetOwnCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	cart, err := h.carts.GetOrCreate(ctx, principal.UserID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

// GetCart возвращает корзину по идентификатору; доступна только владельцу.
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, ok := h.ownedCart(ctx, w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(cart))
}

// AddProduct добавляет товар в корзину, фиксируя текущую цену каталога.
func (h *CartHandler) AddProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	cart, ok := h.ownedCart(ctx, w, r)
	if !ok {
		return
	}

	var req qtyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Qty <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_qty", "qty must be positive")
		return
	}

	product, err := h.inventory.Get(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	// Продавец не может выкупить собственный товар.
	if product.OwnerID != "" && product.OwnerID == principal.UserID {
		respondDomainError(w, domain.ErrOwnProduct)
		return
	}

	updated, err := h.carts.AddLine(ctx, cart.ID, domain.CartLine{
		ProductID:  product.ID,
		Qty:        req.Qty,
		PriceMinor: product.PriceMinor,
		AddedAt:    time.Now().UTC(),
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCartResponse(updated))
}

// UpdateQty выставляет новое количество для позиции корзины.
func (h *CartHandler) UpdateQty(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, ok := h.ownedCart(ctx, w, r)
	if !ok {
		return
	}

	var req qtyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Qty <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_qty", "qty must be positive")
		return
	}

	updated, err := h.carts.UpdateLineQty(ctx, cart.ID, chi.URLParam(r, "productID"), req.Qty)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(updated))
}

// RemoveProduct убирает позицию из корзины.
func (h *CartHandler) RemoveProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, ok := h.ownedCart(ctx, w, r)
	if !ok {
		return
	}

	updated, err := h.carts.RemoveLine(ctx, cart.ID, chi.URLParam(r, "productID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(updated))
}

// Clear опустошает корзину целиком.
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	cart, ok := h.ownedCart(ctx, w, r)
	if !ok {
		return
	}

	updated, err := h.carts.Clear(ctx, cart.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(updated))
}

// storedResponse — сохранённый ответ для повторной выдачи по Idempotency-Key.
type storedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// Purchase выполняет одну попытку оформления корзины. Частичное исполнение —
// штатный ответ 200 с перечнем невыкупленных позиций.
func (h *CartHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return
	}

	cartID := chi.URLParam(r, "cartID")
	idempotencyKey := r.Header.Get("Idempotency-Key")

	if h.idempotency != nil && idempotencyKey != "" {
		if stored, found := h.recallStored(ctx, cartID, idempotencyKey); found {
			w.Header().Set("Idempotency-Replayed", "true")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(stored.Status)
			_, _ = w.Write(stored.Body)
			return
		}

		acquired, err := h.idempotency.TryLock(ctx, "purchase:"+cartID, idempotencyKey)
		if err != nil {
			h.logger.WithError(err).Warn("idempotency lock failed, proceeding without")
		} else if !acquired {
			respondDomainError(w, domain.ErrIdempotencyConflict)
			return
		}
	}

	result, err := h.coordinator.Purchase(ctx, cartID, domain.Requester{
		ID:      principal.UserID,
		Contact: principal.Email,
		Role:    principal.Role,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	resp := purchaseResponse{
		Outcome:     string(result.Outcome),
		Unfulfilled: result.Unfulfilled,
	}
	if result.Receipt != nil {
		rr := toReceiptResponse(*result.Receipt)
		resp.Receipt = &rr
	}

	if h.idempotency != nil && idempotencyKey != "" {
		h.rememberStored(ctx, cartID, idempotencyKey, http.StatusOK, resp)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *CartHandler) recallStored(ctx context.Context, cartID, key string) (storedResponse, bool) {
	raw, found, err := h.idempotency.Recall(ctx, "purchase:"+cartID, key)
	if err != nil {
		h.logger.WithError(err).Warn("idempotency recall failed")
		return storedResponse{}, false
	}
	if !found {
		return storedResponse{}, false
	}
	var stored storedResponse
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		h.logger.WithError(err).Warn("stored idempotent response is corrupt")
		return storedResponse{}, false
	}
	return stored, true
}

func (h *CartHandler) rememberStored(ctx context.Context, cartID, key string, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		h.logger.WithError(err).Warn("marshal idempotent response failed")
		return
	}
	envelope, err := json.Marshal(storedResponse{Status: status, Body: payload})
	if err != nil {
		h.logger.WithError(err).Warn("marshal idempotent envelope failed")
		return
	}
	if err := h.idempotency.Remember(ctx, "purchase:"+cartID, key, string(envelope)); err != nil {
		h.logger.WithError(err).Warn("remember idempotent response failed")
	}
}

// ownedCart загружает корзину из URL и отказывает всем, кроме владельца.
func (h *CartHandler) ownedCart(ctx context.Context, w http.ResponseWriter, r *http.Request) (domain.Cart, bool) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
		return domain.Cart{}, false
	}

	cart, err := h.carts.Get(ctx, chi.URLParam(r, "cartID"))
	if err != nil {
		respondDomainError(w, err)
		return domain.Cart{}, false
	}
	if cart.OwnerID != principal.UserID {
		respondDomainError(w, domain.ErrForbidden)
		return domain.Cart{}, false
	}
	return cart, true
}
