package auth

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ovaphlow/pitchfork/service-bookstore/internal/apperr"
)

type Config struct {
	Secret    string
	TTL       time.Duration
	Issuer    string
	RateRPS   float64
	RateBurst int
}

// ConfigFromEnv reads token and auth rate-limit settings.
func ConfigFromEnv() Config {
	ttl := 7 * 24 * time.Hour
	if raw := os.Getenv("JWT_EXPIRES_IN"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			ttl = d
		}
	}
	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = "service-bookstore"
	}
	rps := 5.0
	if raw := os.Getenv("AUTH_RATE_RPS"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			rps = v
		}
	}
	burst := 10
	if raw := os.Getenv("AUTH_RATE_BURST"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			burst = v
		}
	}
	return Config{Secret: os.Getenv("JWT_SECRET"), TTL: ttl, Issuer: issuer, RateRPS: rps, RateBurst: burst}
}

// Claims are the access token claims. Version follows users.version so that
// bumping it (role change) invalidates older tokens.
type Claims struct {
	Role    string `json:"role"`
	Version int64  `json:"v"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// TokenService issues and verifies HS256 access tokens.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenService(cfg Config) (*TokenService, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, apperr.New(apperr.Configuration, "Server misconfigured: JWT_SECRET missing")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &TokenService{secret: []byte(cfg.Secret), ttl: ttl, issuer: cfg.Issuer, now: time.Now}, nil
}

// Issue signs a token for the given user.
func (s *TokenService) Issue(userID int64, role string, version int64) (string, error) {
	now := s.now()
	claims := Claims{
		Role:    role,
		Version: version,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, algorithm, issuer and expiry.
func (s *TokenService) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		// only HMAC allowed
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, apperr.Wrap(apperr.Auth, "Not authorized: invalid token", err)
	}
	return claims, nil
}
