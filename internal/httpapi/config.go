package httpapi

import (
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	defaultListenAddr         = ":8002"
	defaultAllowedOrigin      = "http://localhost:8000"
	defaultRequestTimeout     = 5 * time.Second
	defaultRateLimitPerSecond = 5.0
	defaultRateLimitBurst     = 10
)

// Config aggregates runtime settings for the booking HTTP API.
type Config struct {
	ListenAddr         string
	AllowedOrigins     []string
	RequestTimeout     time.Duration
	RateLimitPerSecond float64
	RateLimitBurst     int
	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers are honored. Empty means the socket peer is the client.
	TrustedProxies []string
}

// Validate fills defaults and rejects values the server cannot run with.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.RateLimitPerSecond == 0 {
		cfg.RateLimitPerSecond = defaultRateLimitPerSecond
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = defaultRateLimitBurst
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		return fmt.Errorf("listen addr is required")
	}
	if cfg.RequestTimeout < 0 {
		return fmt.Errorf("request timeout must be positive, got %s", cfg.RequestTimeout)
	}
	if cfg.RateLimitPerSecond < 0 {
		return fmt.Errorf("rate limit must be positive, got %v", cfg.RateLimitPerSecond)
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("rate limit burst must be positive, got %d", cfg.RateLimitBurst)
	}
	for _, proxy := range cfg.TrustedProxies {
		if !isAddressOrCIDR(proxy) {
			return fmt.Errorf("trusted proxy %q is not an ip address or cidr", proxy)
		}
	}
	return nil
}

func isAddressOrCIDR(value string) bool {
	if net.ParseIP(value) != nil {
		return true
	}
	_, _, err := net.ParseCIDR(value)
	return err == nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	return splitCommaList(raw)
}

// ParseTrustedProxies splits comma-delimited proxy addresses into a slice.
func ParseTrustedProxies(raw string) []string {
	return splitCommaList(raw)
}

func splitCommaList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
