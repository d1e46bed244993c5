package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/footprint/internal/identity"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testSecret = []byte("notification-secret")

func newTestEventStore(t *testing.T) *EventStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "payments.db")), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&PaymentEvent{}))

	store, err := NewEventStore(EventStoreConfig{Database: db})
	require.NoError(t, err)
	return store
}

func signEvent(t *testing.T, secret []byte, method jwt.SigningMethod, claims EventClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	require.NoError(t, err)
	return signed
}

func paidClaims(now time.Time) EventClaims {
	return EventClaims{
		TransactionID: "cs_1",
		Status:        "PAID",
		Slug:          " Alex ",
		AmountCents:   900,
		Currency:      "USD",
		Email:         "alex@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultEventIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	}
}

func TestEventVerifierAcceptsSignedNotification(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	verifier, err := NewEventVerifier(EventVerifierConfig{WebhookSecret: testSecret, Clock: func() time.Time { return now }})
	require.NoError(t, err)

	event, err := verifier.Verify(signEvent(t, testSecret, jwt.SigningMethodHS256, paidClaims(now)))
	require.NoError(t, err)
	require.Equal(t, identity.TransactionID("cs_1"), event.TransactionID)
	require.Equal(t, StatusPaid, event.Status)
	require.Equal(t, "alex", event.Slug)
	require.Equal(t, "usd", event.Currency)
	require.True(t, event.Paid())
}

func TestEventVerifierRejections(t *testing.T) {
	now := time.Unix(1_760_000_000, 0)
	verifier, err := NewEventVerifier(EventVerifierConfig{WebhookSecret: testSecret, Clock: func() time.Time { return now }})
	require.NoError(t, err)

	expired := paidClaims(now)
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Minute))
	wrongIssuer := paidClaims(now)
	wrongIssuer.Issuer = "someone-else"
	noExpiry := paidClaims(now)
	noExpiry.ExpiresAt = nil
	unknownStatus := paidClaims(now)
	unknownStatus.Status = "refunded"
	missingSlug := paidClaims(now)
	missingSlug.Slug = ""

	testCases := []struct {
		name  string
		token string
		want  error
	}{
		{name: "empty", token: "", want: ErrInvalidSignature},
		{name: "wrong secret", token: signEvent(t, []byte("other"), jwt.SigningMethodHS256, paidClaims(now)), want: ErrInvalidSignature},
		{name: "wrong algorithm", token: signEvent(t, testSecret, jwt.SigningMethodHS512, paidClaims(now)), want: ErrInvalidSignature},
		{name: "expired", token: signEvent(t, testSecret, jwt.SigningMethodHS256, expired), want: ErrInvalidSignature},
		{name: "issuer", token: signEvent(t, testSecret, jwt.SigningMethodHS256, wrongIssuer), want: ErrInvalidSignature},
		{name: "no expiry", token: signEvent(t, testSecret, jwt.SigningMethodHS256, noExpiry), want: ErrInvalidSignature},
		{name: "unknown status", token: signEvent(t, testSecret, jwt.SigningMethodHS256, unknownStatus), want: ErrInvalidEvent},
		{name: "missing slug", token: signEvent(t, testSecret, jwt.SigningMethodHS256, missingSlug), want: ErrInvalidEvent},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := verifier.Verify(testCase.token)
			require.ErrorIs(t, err, testCase.want)
		})
	}

	_, err = NewEventVerifier(EventVerifierConfig{})
	require.Error(t, err)
}

func TestEventStoreStatusOnlyAdvances(t *testing.T) {
	store := newTestEventStore(t)
	ctx := context.Background()
	base := Event{TransactionID: "cs_1", Slug: "alex", AmountCents: 900, Currency: "usd"}

	open := base
	open.Status = StatusOpen
	stored, err := store.Save(ctx, open)
	require.NoError(t, err)
	require.Equal(t, StatusOpen, stored.Status)

	paid := base
	paid.Status = StatusPaid
	paid.Email = "alex@example.com"
	stored, err = store.Save(ctx, paid)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, stored.Status)
	require.Equal(t, "alex@example.com", stored.Email)

	late := base
	late.Status = StatusExpired
	stored, err = store.Save(ctx, late)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, stored.Status)

	redelivered, err := store.Save(ctx, paid)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, redelivered.Status)

	found, ok, err := store.Find(ctx, "cs_1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StatusPaid, found.Status)
	require.Equal(t, "alex", found.Slug)

	_, ok, err = store.Find(ctx, "cs_missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEventStoreRejectsInvalidEvents(t *testing.T) {
	store := newTestEventStore(t)

	_, err := store.Save(context.Background(), Event{TransactionID: "", Status: StatusPaid, Slug: "alex"})
	require.ErrorIs(t, err, ErrInvalidEvent)
	_, err = store.Save(context.Background(), Event{TransactionID: "cs_1", Status: "weird", Slug: "alex"})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestStatusOrdering(t *testing.T) {
	require.True(t, StatusPaid.Supersedes(StatusOpen))
	require.True(t, StatusPaid.Supersedes(StatusExpired))
	require.True(t, StatusExpired.Supersedes(StatusOpen))
	require.False(t, StatusOpen.Supersedes(StatusPaid))
	require.False(t, StatusPaid.Supersedes(StatusPaid))

	_, err := ParseStatus("complete")
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func newProcessorServer(t *testing.T, handler http.HandlerFunc) *HTTPGateway {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	gateway, err := NewHTTPGateway(HTTPGatewayConfig{BaseURL: server.URL + "/", SecretKey: "sk_test", HTTPClient: server.Client()})
	require.NoError(t, err)
	return gateway
}

func TestHTTPGatewayRetrieve(t *testing.T) {
	gateway := newProcessorServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case sessionsPath + "/cs_paid":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "cs_paid", "status": "complete", "payment_status": "paid",
				"amount_total": 900, "currency": "USD", "customer_email": "alex@example.com",
				"metadata": map[string]string{"slug": "Alex"},
			})
		case sessionsPath + "/cs_expired":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": "cs_expired", "status": "expired", "payment_status": "unpaid",
				"metadata": map[string]string{"slug": "alex"},
			})
		case sessionsPath + "/cs_broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	paid, err := gateway.Retrieve(ctx, "cs_paid")
	require.NoError(t, err)
	require.Equal(t, StatusPaid, paid.Status)
	require.Equal(t, "alex", paid.Slug)
	require.Equal(t, "usd", paid.Currency)
	require.Equal(t, int64(900), paid.AmountCents)

	expired, err := gateway.Retrieve(ctx, "cs_expired")
	require.NoError(t, err)
	require.Equal(t, StatusExpired, expired.Status)

	_, err = gateway.Retrieve(ctx, "cs_unknown")
	require.ErrorIs(t, err, ErrPaymentNotFound)

	_, err = gateway.Retrieve(ctx, "cs_broken")
	require.ErrorIs(t, err, ErrProcessorUnavailable)
}

func TestHTTPGatewayRetrieveHonoursDeadline(t *testing.T) {
	release := make(chan struct{})
	gateway := newProcessorServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := gateway.Retrieve(ctx, "cs_slow")
	require.ErrorIs(t, err, ErrProcessorUnavailable)
}

func TestHTTPGatewayCreateCheckout(t *testing.T) {
	var (
		method string
		path   string
		form   url.Values
	)
	gateway := newProcessorServer(t, func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		form = r.PostForm
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "cs_new", "url": "https://pay.example.com/cs_new"})
	})

	checkout, err := gateway.CreateCheckout(context.Background(), CheckoutRequest{
		Slug: "alex", AmountCents: 900, Currency: "USD", SuccessURL: "https://footprint.example/ok",
	})
	require.NoError(t, err)
	require.Equal(t, identity.TransactionID("cs_new"), checkout.TransactionID)
	require.Equal(t, "https://pay.example.com/cs_new", checkout.URL)

	require.Equal(t, http.MethodPost, method)
	require.Equal(t, sessionsPath, path)
	require.Equal(t, "alex", form.Get("metadata[slug]"))
	require.Equal(t, "900", form.Get("line_items[0][price_data][unit_amount]"))
	require.Equal(t, "usd", form.Get("line_items[0][price_data][currency]"))
	require.Equal(t, "https://footprint.example/ok", form.Get("success_url"))

	_, err = gateway.CreateCheckout(context.Background(), CheckoutRequest{Slug: "alex"})
	require.ErrorIs(t, err, ErrInvalidCheckout)
}

func TestNewHTTPGatewayValidation(t *testing.T) {
	_, err := NewHTTPGateway(HTTPGatewayConfig{SecretKey: "sk"})
	require.Error(t, err)
	_, err = NewHTTPGateway(HTTPGatewayConfig{BaseURL: "https://api.example.com"})
	require.Error(t, err)
}

type stubSource struct {
	event Event
	err   error
	calls int
}

func (s *stubSource) Retrieve(_ context.Context, _ identity.TransactionID) (Event, error) {
	s.calls++
	return s.event, s.err
}

func TestLookupPrefersStoredPaidEvent(t *testing.T) {
	store := newTestEventStore(t)
	_, err := store.Save(context.Background(), Event{TransactionID: "cs_1", Status: StatusPaid, Slug: "alex"})
	require.NoError(t, err)
	fallback := &stubSource{err: errors.New("must not be called")}

	lookup, err := NewLookup(LookupConfig{Events: store, Fallback: fallback})
	require.NoError(t, err)
	event, err := lookup.Retrieve(context.Background(), "cs_1")
	require.NoError(t, err)
	require.True(t, event.Paid())
	require.Zero(t, fallback.calls)
}

func TestLookupFallsBackAndCaches(t *testing.T) {
	store := newTestEventStore(t)
	_, err := store.Save(context.Background(), Event{TransactionID: "cs_1", Status: StatusOpen, Slug: "alex"})
	require.NoError(t, err)
	fallback := &stubSource{event: Event{TransactionID: "cs_1", Status: StatusPaid, Slug: "alex", AmountCents: 900}}

	lookup, err := NewLookup(LookupConfig{Events: store, Fallback: fallback})
	require.NoError(t, err)
	event, err := lookup.Retrieve(context.Background(), "cs_1")
	require.NoError(t, err)
	require.True(t, event.Paid())
	require.Equal(t, 1, fallback.calls)

	cached, found, err := store.Find(context.Background(), "cs_1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, cached.Paid())
}

func TestLookupNotFoundHandling(t *testing.T) {
	store := newTestEventStore(t)
	_, err := store.Save(context.Background(), Event{TransactionID: "cs_open", Status: StatusOpen, Slug: "alex"})
	require.NoError(t, err)

	lookup, err := NewLookup(LookupConfig{Events: store, Fallback: &stubSource{err: ErrPaymentNotFound}})
	require.NoError(t, err)

	stored, err := lookup.Retrieve(context.Background(), "cs_open")
	require.NoError(t, err)
	require.Equal(t, StatusOpen, stored.Status)

	_, err = lookup.Retrieve(context.Background(), "cs_missing")
	require.ErrorIs(t, err, ErrPaymentNotFound)

	unavailable, err := NewLookup(LookupConfig{Fallback: &stubSource{err: ErrProcessorUnavailable}})
	require.NoError(t, err)
	_, err = unavailable.Retrieve(context.Background(), "cs_any")
	require.ErrorIs(t, err, ErrProcessorUnavailable)

	_, err = NewLookup(LookupConfig{})
	require.Error(t, err)
}
