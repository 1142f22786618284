package payment

import (
	"os"
	"strings"
	"time"
)

const defaultGatewayURL = "https://api.razorpay.com"

type Config struct {
	KeyID     string
	KeySecret string
	Currency  string
	BaseURL   string
	// Mode is "live" (default) or "mock".
	Mode    string
	Timeout time.Duration
}

// ConfigFromEnv reads RAZORPAY_* and PAYMENT_* variables.
func ConfigFromEnv() Config {
	cfg := Config{
		KeyID:     strings.TrimSpace(os.Getenv("RAZORPAY_KEY_ID")),
		KeySecret: strings.TrimSpace(os.Getenv("RAZORPAY_KEY_SECRET")),
		Currency:  strings.ToUpper(strings.TrimSpace(os.Getenv("PAYMENT_CURRENCY"))),
		BaseURL:   strings.TrimRight(os.Getenv("PAYMENT_GATEWAY_URL"), "/"),
		Mode:      strings.ToLower(strings.TrimSpace(os.Getenv("PAYMENT_GATEWAY_MODE"))),
		Timeout:   10 * time.Second,
	}
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGatewayURL
	}
	if cfg.Mode == "" {
		cfg.Mode = "live"
	}
	if raw := os.Getenv("PAYMENT_GATEWAY_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			cfg.Timeout = d
		}
	}
	return cfg
}

// placeholder reports unset or template credentials such as "your_key_id".
func placeholder(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.HasPrefix(v, "your_")
}
