package httpx

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultAPIKeyHeader is the header checked by APIKey when none is configured.
const DefaultAPIKeyHeader = "x-api-key"

// Logging returns a middleware that logs HTTP requests and responses.
func Logging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			const defaultHTTPStatus = 200
			ww := &respWriter{ResponseWriter: w, status: defaultHTTPStatus}
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

type respWriter struct {
	http.ResponseWriter
	status int
}

func (w *respWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Recover returns a middleware that recovers from panics and logs them.
func Recover(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.ErrorContext(r.Context(), "panic",
						slog.Any("error", err),
						slog.String("path", r.URL.Path),
						slog.String("method", r.Method),
						slog.String("stack", string(debug.Stack())))
					WriteError(w, ErrorParams{
						Code:    http.StatusInternalServerError,
						ErrCode: "internal",
						Err:     errors.New("internal server error"),
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// APIKeyConfig configures the APIKey middleware.
type APIKeyConfig struct {
	// Key is the shared secret clients must present. Empty rejects every request with 500.
	Key string
	// Header names the request header carrying the key. Defaults to x-api-key.
	Header string
}

// APIKey returns a middleware that requires the configured shared key.
func APIKey(cfg APIKeyConfig) func(http.Handler) http.Handler {
	header := strings.TrimSpace(cfg.Header)
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	want := sha256.Sum256([]byte(cfg.Key))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(header)
			if got == "" {
				WriteError(w, ErrorParams{
					Code:    http.StatusUnauthorized,
					ErrCode: "unauthorized",
					Err:     errors.New("API key required"),
				})
				return
			}
			if cfg.Key == "" {
				WriteError(w, ErrorParams{
					Code:    http.StatusInternalServerError,
					ErrCode: "configuration_error",
					Err:     errors.New("API key not configured"),
				})
				return
			}
			// Hashing first keeps the comparison length-independent.
			sum := sha256.Sum256([]byte(got))
			if subtle.ConstantTimeCompare(sum[:], want[:]) != 1 {
				WriteError(w, ErrorParams{
					Code:    http.StatusForbidden,
					ErrCode: "forbidden",
					Err:     errors.New("Invalid API key"),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitConfig configures the per-client RateLimit middleware.
type RateLimitConfig struct {
	// Requests allowed per Window; zero disables limiting.
	Requests int
	Window   time.Duration
	// TrustProxy takes the client address from the first X-Forwarded-For entry.
	TrustProxy bool
	// Now is used by tests; defaults to time.Now.
	Now func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter holds one token bucket per client address.
type rateLimiter struct {
	cfg       RateLimitConfig
	every     rate.Limit
	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
}

// RateLimit returns a middleware enforcing cfg.Requests per cfg.Window for each client IP.
// Buckets idle for a full window are evicted.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Requests <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	rl := newRateLimiter(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.allow(clientIP(r, cfg.TrustProxy), rl.cfg.Now()) {
				retry := time.Duration(float64(time.Second) / float64(rl.every))
				w.Header().Set("Retry-After", strconv.Itoa(max(1, int(retry.Seconds()))))
				WriteError(w, ErrorParams{
					Code:    http.StatusTooManyRequests,
					ErrCode: "rate_limited",
					Err:     errors.New("too many requests, please try again later"),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &rateLimiter{
		cfg:     cfg,
		every:   rate.Every(cfg.Window / time.Duration(cfg.Requests)),
		clients: make(map[string]*clientLimiter),
	}
}

func (rl *rateLimiter) allow(key string, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.cfg.Window {
		for k, c := range rl.clients {
			if now.Sub(c.lastSeen) >= rl.cfg.Window {
				delete(rl.clients, k)
			}
		}
		rl.lastSweep = now
	}

	c, ok := rl.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(rl.every, rl.cfg.Requests)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
