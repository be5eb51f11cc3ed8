package config

import (
	"strconv"
	"time"
)

// HTTPConfig contains HTTP server configuration.
type HTTPConfig struct {
	// Addr is the address to bind the HTTP server to.
	Addr string `env:"HTTP_ADDR" envDefault:":3000"`

	// Port, when set, overrides the port of Addr (PaaS convention).
	Port int `env:"PORT"`

	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT"     envDefault:"30s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"    envDefault:"60s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT"     envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// RateLimitRequests is the number of requests a client IP may make per RateLimitWindow.
	// Zero disables rate limiting.
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"100"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW"   envDefault:"15m"`

	// TrustProxy keys rate limiting on the first X-Forwarded-For address.
	TrustProxy bool `env:"TRUST_PROXY" envDefault:"false"`
}

// Sanitize applies guardrails to HTTP configuration values.
func (h *HTTPConfig) Sanitize() {
	if h.Port > 0 && h.Port <= 65535 {
		h.Addr = ":" + strconv.Itoa(h.Port)
	}
	if h.Addr == "" {
		h.Addr = ":3000"
	}
	if h.RateLimitRequests < 0 {
		h.RateLimitRequests = 0
	}
	if h.RateLimitWindow <= 0 {
		h.RateLimitRequests = 0
	}
	if h.ShutdownTimeout <= 0 {
		h.ShutdownTimeout = 10 * time.Second
	}
}
