package app

import (
	"net/http"
	"time"

	"xuesigner/internal/domain"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// RouterConfig carries the settings the public router needs.
type RouterConfig struct {
	SigningPath string
	RateLimit   RateLimitConfig
}

// NewRouter builds the public API. rdb may be nil, in which case signing
// requests are not rate limited.
func NewRouter(h *Handler, cfg RouterConfig, logger *zerolog.Logger, rdb *redis.Client) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(logger)...)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(SecurityHeaders)

	r.Get("/health", h.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(ContentLengthValidator(domain.MaxRequestBodySize))
		r.Use(NewRateLimiter(rdb, cfg.RateLimit).Handler)
		r.Post(cfg.SigningPath, h.HandleGetSig)
	})

	return r
}

// NewAdminRouter builds the admin API served on the local socket.
func NewAdminRouter(h *AdminHandler, logger *zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(accessLog(logger)...)
	r.Use(middleware.Recoverer)
	r.Use(ContentLengthValidator(domain.MaxAdminBodySize))

	r.Route("/codes", func(r chi.Router) {
		r.Get("/", h.HandleListCodes)
		r.Post("/", h.HandleAddCode)
		r.Post("/bulk", h.HandleAddCodes)
		r.Post("/extend", h.HandleExtendCodes)
		r.Get("/{code}", h.HandleGetCode)
	})

	return r
}

func accessLog(logger *zerolog.Logger) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		hlog.NewHandler(*logger),
		hlog.RemoteAddrHandler("ip"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("req_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
	}
}
