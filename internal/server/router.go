package server

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/kbask/internal/api"
	"github.com/cloo-solutions/kbask/internal/api/handlers"
	"github.com/cloo-solutions/kbask/internal/api/middleware"
	"github.com/cloo-solutions/kbask/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	// multipartOverhead is the request body allowance on top of the upload limit.
	multipartOverhead int64 = 1 << 20
	jsonBodyLimit     int64 = 1 << 20
)

type RouterConfig struct {
	// AuthValidator guards the API; nil leaves it open.
	AuthValidator        middleware.AuthValidator
	KnowledgeBaseHandler *handlers.KnowledgeBaseHandler
	MaxUploadBytes       int64
	// HealthCheck reports whether dependencies are reachable; nil means always healthy.
	HealthCheck          func(ctx context.Context) error
	Logger               *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Sentry)
	r.Use(middleware.AccessLog(logger.Named("http")))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(r.Context()); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				api.Error(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		api.Success(w, map[string]string{"status": "ok"})
	})

	r.Route("/api/knowledgebase", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.AuthValidator))

		h := cfg.KnowledgeBaseHandler
		r.With(middleware.MaxBodyBytes(cfg.MaxUploadBytes+multipartOverhead, domain.ErrFileTooLarge)).
			Post("/upload", h.Upload)

		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodyBytes(jsonBodyLimit, nil))
			r.Get("/list", h.List)
			r.Post("/query", h.Query)
			r.Get("/{id}", h.Get)
			r.Delete("/{id}", h.Delete)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.Error(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		api.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
