package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ProductHandler обслуживает каталог товаров. Чтение открыто всем
// аутентифицированным пользователям, запись — только администраторам
// (роутер гейтит записывающие маршруты через RequireRole).
type ProductHandler struct {
	inventory domain.InventoryStore
	logger    *log.Entry
	timeout   time.Duration
}

// NewProductHandler создаёт обработчик каталога.
func NewProductHandler(inventory domain.InventoryStore, logger *log.Entry, timeout time.Duration) *ProductHandler {
	if logger == nil {
		logger = log.New().WithField("component", "http-product")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ProductHandler{inventory: inventory, logger: logger, timeout: timeout}
}

type productRequest struct {
	Code       string `json:"code"`
	Title      string `json:"title"`
	PriceMinor int64  `json:"price_minor"`
	Stock      int32  `json:"stock"`
	OwnerID    string `json:"owner_id,omitempty"`
}

type productResponse struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Title      string    `json:"title"`
	PriceMinor int64     `json:"price_minor"`
	Stock      int32     `json:"stock"`
	OwnerID    string    `json:"owner_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func toProductResponse(p domain.Product) productResponse {
	return productResponse{
		ID:         p.ID,
		Code:       p.Code,
		Title:      p.Title,
		PriceMinor: p.PriceMinor,
		Stock:      p.Stock,
		OwnerID:    p.OwnerID,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

// List отдаёт страницу каталога, отсортированную по коду товара.
func (h *ProductHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit := queryInt(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	products, err := h.inventory.List(ctx, limit, offset)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	respondJSON(w, http.StatusOK, out)
}

// Get возвращает товар по идентификатору.
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	product, err := h.inventory.Get(ctx, chi.URLParam(r, "productID"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductResponse(product))
}

// GetByCode возвращает товар по каноническому коду.
func (h *ProductHandler) GetByCode(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	product, err := h.inventory.GetByCode(ctx, chi.URLParam(r, "code"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductResponse(product))
}

// Create добавляет товар в каталог.
func (h *ProductHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	created, err := h.inventory.Create(ctx, domain.Product{
		Code:       req.Code,
		Title:      req.Title,
		PriceMinor: req.PriceMinor,
		Stock:      req.Stock,
		OwnerID:    req.OwnerID,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toProductResponse(created))
}

// Update перезаписывает атрибуты товара, включая остаток. Это редакция
// каталога, а не списание: резервирует остаток только оформление.
func (h *ProductHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	updated, err := h.inventory.Update(ctx, domain.Product{
		ID:         chi.URLParam(r, "productID"),
		Code:       req.Code,
		Title:      req.Title,
		PriceMinor: req.PriceMinor,
		Stock:      req.Stock,
		OwnerID:    req.OwnerID,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toProductResponse(updated))
}

// Delete убирает товар из каталога.
func (h *ProductHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.inventory.Delete(ctx, chi.URLParam(r, "productID")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
