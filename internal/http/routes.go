package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/target/mmk-scan-api/internal/service"
)

// RouterServices holds everything the HTTP router needs.
type RouterServices struct {
	Scans     *service.ScanJobService
	APIKey    APIKeyConfig
	RateLimit RateLimitConfig
	Logger    *slog.Logger // Optional
	// IsDev exposes internal error text in 5xx responses.
	IsDev bool
}

// NewRouter creates the REST router with logging, panic recovery, API-key auth and rate limiting.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	mux := http.NewServeMux()
	scans := &ScanHandlers{
		Svc:    services.Scans,
		errors: errorResponder{logger: logger, dev: services.IsDev},
	}
	registerScanRoutes(mux, scans, scanRouteConfig{
		limit: RateLimit(services.RateLimit),
		auth:  APIKey(services.APIKey),
	})
	mux.Handle("GET /health", http.HandlerFunc(healthHandler))
	mux.Handle("HEAD /health", http.HandlerFunc(healthHandler))

	return Recover(logger)(Logging(logger)(&notFoundHandler{mux: mux}))
}

type scanRouteConfig struct {
	limit func(http.Handler) http.Handler
	auth  func(http.Handler) http.Handler
}

func registerScanRoutes(mux *http.ServeMux, h *ScanHandlers, cfg scanRouteConfig) {
	protected := func(fn http.HandlerFunc) http.Handler { return cfg.limit(cfg.auth(fn)) }

	mux.Handle("POST /scan/trigger", protected(h.TriggerScan))
	// The runner authenticates callbacks by network placement, not by key.
	mux.Handle("POST /scan/callback", cfg.limit(http.HandlerFunc(h.Callback)))
	mux.Handle("GET /scan/status/{id}", protected(h.GetStatus))
	mux.Handle("GET /scan/jobs", protected(h.ListScans))
	mux.Handle("GET /scan/jobs/{id}/log", protected(h.GetLog))
}

// notFoundHandler replaces the mux's plain-text 404 and 405 bodies with JSON errors.
type notFoundHandler struct {
	mux *http.ServeMux
}

func (h *notFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, pattern := h.mux.Handler(r)
	if pattern != "" {
		h.mux.ServeHTTP(w, r)
		return
	}

	// Let the mux decide between 404 and 405 (it sets Allow), then rewrite the body.
	cw := &statusOnlyWriter{header: w.Header()}
	h.mux.ServeHTTP(cw, r)
	if cw.status == http.StatusMethodNotAllowed {
		WriteError(w, ErrorParams{
			Code:    http.StatusMethodNotAllowed,
			ErrCode: "method_not_allowed",
			Err:     errors.New("method not allowed"),
		})
		return
	}
	WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: errors.New("route not found")})
}

// statusOnlyWriter records the status code and discards the body.
type statusOnlyWriter struct {
	header http.Header
	status int
}

func (c *statusOnlyWriter) Header() http.Header         { return c.header }
func (c *statusOnlyWriter) WriteHeader(code int)        { c.status = code }
func (c *statusOnlyWriter) Write(b []byte) (int, error) { return len(b), nil }
