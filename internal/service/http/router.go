package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
)

// RouterConfig собирает зависимости HTTP-поверхности.
type RouterConfig struct {
	Carts    *CartHandler
	Products *ProductHandler
	Receipts *ReceiptHandler
	Auth     *Authenticator
	Logger   *log.Entry
	// Health монтируется без аутентификации, если задан.
	Health http.Handler
	// Metrics монтируется на /metrics без аутентификации, если задан.
	Metrics http.Handler
	// Timeout ограничивает обработку одного запроса целиком.
	Timeout time.Duration
}

// NewRouter собирает chi-роутер со всеми маршрутами API.
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	if cfg.Health != nil {
		r.Method(http.MethodGet, "/healthz", cfg.Health)
		r.Method(http.MethodGet, "/livez", cfg.Health)
	}
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(cfg.Auth.Authenticate)

		r.Route("/carts", func(r chi.Router) {
			r.Use(cfg.Auth.RequireRole(RoleUser, RolePremium))
			r.Get("/", cfg.Carts.GetOwnCart)
			r.Route("/{cartID}", func(r chi.Router) {
				r.Get("/", cfg.Carts.GetCart)
				r.Delete("/", cfg.Carts.Clear)
				r.Post("/purchase", cfg.Carts.Purchase)
				r.Route("/products/{productID}", func(r chi.Router) {
					r.Post("/", cfg.Carts.AddProduct)
					r.Put("/", cfg.Carts.UpdateQty)
					r.Delete("/", cfg.Carts.RemoveProduct)
				})
			})
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", cfg.Products.List)
			r.Get("/{productID}", cfg.Products.Get)
			r.Get("/code/{code}", cfg.Products.GetByCode)

			r.Group(func(r chi.Router) {
				r.Use(cfg.Auth.RequireRole(RoleAdmin))
				r.Post("/", cfg.Products.Create)
				r.Put("/{productID}", cfg.Products.Update)
				r.Delete("/{productID}", cfg.Products.Delete)
			})
		})

		r.Route("/receipts", func(r chi.Router) {
			r.Get("/", cfg.Receipts.ListOwn)
			r.Get("/{receiptID}", cfg.Receipts.Get)
			r.Get("/code/{code}", cfg.Receipts.GetByCode)
		})
	})

	return r
}

// requestLogger пишет одну строку на запрос: метод, путь, статус, время.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			entry := logger.WithFields(log.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
			if ww.Status() >= http.StatusInternalServerError {
				entry.Error("http request")
				return
			}
			entry.Info("http request")
		})
	}
}
