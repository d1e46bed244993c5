package auth

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 30 * 24 * time.Hour
	defaultIssuer   = "footprint-api"
	defaultAudience = "footprint-owner"
)

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret must be provided")
	ErrInvalidOwnerToken    = errors.New("auth: invalid owner token")
	ErrExpiredOwnerToken    = errors.New("auth: owner token expired")
	ErrSlugNotOwned         = errors.New("auth: token does not own this slug")
	errMissingOwner         = errors.New("serial number and slug must be provided")
)

// OwnerClaims is the payload of an owner edit token.
type OwnerClaims struct {
	Slug string `json:"slug"`
	jwt.RegisteredClaims
}

// Owner is the validated holder of an edit token.
type Owner struct {
	SerialNumber int64
	Slug         string
	ExpiresAt    time.Time
}

// TokenIssuerConfig configures the owner token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer signs and validates HS256 owner tokens handed out after a successful publish.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	clock    func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer, applying defaults for optional fields.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		secret:   append([]byte(nil), cfg.SigningSecret...),
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
		clock:    clock,
	}, nil
}

// IssueOwnerToken produces a signed token for the page and its lifetime in seconds.
func (i *TokenIssuer) IssueOwnerToken(serialNumber int64, slug string) (string, int64, error) {
	if serialNumber <= 0 || strings.TrimSpace(slug) == "" {
		return "", 0, errMissingOwner
	}
	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl)

	claims := OwnerClaims{
		Slug: slug,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(serialNumber, 10),
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", 0, err
	}
	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateOwnerToken verifies the token and returns its owner.
func (i *TokenIssuer) ValidateOwnerToken(tokenString string) (Owner, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Owner{}, ErrInvalidOwnerToken
	}

	claims := &OwnerClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
			}
			return i.secret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Owner{}, ErrExpiredOwnerToken
		}
		return Owner{}, fmt.Errorf("%w: %v", ErrInvalidOwnerToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return Owner{}, ErrInvalidOwnerToken
	}
	serialNumber, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || serialNumber <= 0 || strings.TrimSpace(claims.Slug) == "" {
		return Owner{}, ErrInvalidOwnerToken
	}
	owner := Owner{SerialNumber: serialNumber, Slug: claims.Slug}
	if claims.ExpiresAt != nil {
		owner.ExpiresAt = claims.ExpiresAt.Time
	}
	return owner, nil
}

// Authorize validates the token and checks that it was issued for slug.
func (i *TokenIssuer) Authorize(tokenString, slug string) (Owner, error) {
	owner, err := i.ValidateOwnerToken(tokenString)
	if err != nil {
		return Owner{}, err
	}
	if owner.Slug != slug {
		return Owner{}, ErrSlugNotOwned
	}
	return owner, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	trimmed := strings.TrimSpace(header)
	if len(trimmed) < len(prefix) || !strings.EqualFold(trimmed[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(trimmed[len(prefix):])
}
