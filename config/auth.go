package config

import "strings"

// AuthConfig holds the shared API key protecting the scan routes.
type AuthConfig struct {
	// APIKey is compared against the request header. When empty, protected routes answer 500.
	APIKey string `env:"API_KEY"`
	// Header names the request header that carries the key.
	Header string `env:"API_KEY_HEADER" envDefault:"x-api-key"`
}

// Sanitize trims the key and restores the default header name.
func (a *AuthConfig) Sanitize() {
	a.APIKey = strings.TrimSpace(a.APIKey)
	a.Header = strings.TrimSpace(a.Header)
	if a.Header == "" {
		a.Header = "x-api-key"
	}
}
