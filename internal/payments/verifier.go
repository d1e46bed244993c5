package payments

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/footprint/internal/identity"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultEventIssuer is the iss claim the processor stamps on notifications.
	DefaultEventIssuer = "footprint-payments"

	defaultEventLeeway = 30 * time.Second
)

var errMissingWebhookSecret = errors.New("webhook secret must be provided")

// EventClaims is the payload of a signed payment notification.
type EventClaims struct {
	TransactionID string `json:"txn"`
	Status        string `json:"status"`
	Slug          string `json:"slug"`
	AmountCents   int64  `json:"amount"`
	Currency      string `json:"currency"`
	Email         string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// EventVerifierConfig configures notification verification.
type EventVerifierConfig struct {
	WebhookSecret []byte
	Issuer        string
	Clock         func() time.Time
}

// EventVerifier checks HS256 notifications before any field is trusted.
type EventVerifier struct {
	secret []byte
	issuer string
	clock  func() time.Time
}

// NewEventVerifier validates configuration and constructs an EventVerifier.
func NewEventVerifier(cfg EventVerifierConfig) (*EventVerifier, error) {
	if len(cfg.WebhookSecret) == 0 {
		return nil, errMissingWebhookSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultEventIssuer
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &EventVerifier{
		secret: append([]byte(nil), cfg.WebhookSecret...),
		issuer: issuer,
		clock:  clock,
	}, nil
}

// Verify parses a compact notification token and returns the event it carries.
func (v *EventVerifier) Verify(rawToken string) (Event, error) {
	token := strings.TrimSpace(rawToken)
	if token == "" {
		return Event{}, fmt.Errorf("%w: empty token", ErrInvalidSignature)
	}

	claims := &EventClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm %s", t.Method.Alg())
			}
			return v.secret, nil
		},
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(defaultEventLeeway),
		jwt.WithTimeFunc(v.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if parsed == nil || !parsed.Valid {
		return Event{}, ErrInvalidSignature
	}

	status, err := ParseStatus(claims.Status)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	event := Event{
		TransactionID: identity.TransactionID(strings.TrimSpace(claims.TransactionID)),
		Status:        status,
		Slug:          strings.ToLower(strings.TrimSpace(claims.Slug)),
		AmountCents:   claims.AmountCents,
		Currency:      strings.ToLower(strings.TrimSpace(claims.Currency)),
		Email:         strings.TrimSpace(claims.Email),
	}
	if err := event.validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}
