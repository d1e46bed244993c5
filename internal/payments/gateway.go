package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/footprint/internal/identity"
	"go.uber.org/zap"
)

const (
	sessionsPath     = "/v1/checkout/sessions"
	maxResponseBytes = 1 << 20

	sessionStatusExpired = "expired"
	paymentStatusPaid    = "paid"
	metadataSlugKey      = "slug"
)

var (
	errMissingAPIURL    = errors.New("payments api url must be provided")
	errMissingSecretKey = errors.New("payments secret key must be provided")
	// ErrInvalidCheckout indicates a checkout request is missing required fields.
	ErrInvalidCheckout = errors.New("payments: invalid checkout request")
)

// CheckoutRequest describes a fixed-price checkout session for one slug.
type CheckoutRequest struct {
	Slug        string
	AmountCents int64
	Currency    string
	SuccessURL  string
	CancelURL   string
}

// Checkout is a created processor session.
type Checkout struct {
	TransactionID identity.TransactionID
	URL           string
}

// HTTPGatewayConfig configures the processor REST client.
type HTTPGatewayConfig struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTPGateway retrieves and creates checkout sessions over the processor REST API.
type HTTPGateway struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPGateway validates configuration and constructs an HTTPGateway.
func NewHTTPGateway(cfg HTTPGatewayConfig) (*HTTPGateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errMissingAPIURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("payments api url: %w", err)
	}
	secretKey := strings.TrimSpace(cfg.SecretKey)
	if secretKey == "" {
		return nil, errMissingSecretKey
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &HTTPGateway{baseURL: baseURL, secretKey: secretKey, httpClient: httpClient, logger: logger}, nil
}

type sessionDocument struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

func (d sessionDocument) event() Event {
	status := StatusOpen
	switch {
	case d.PaymentStatus == paymentStatusPaid:
		status = StatusPaid
	case d.Status == sessionStatusExpired:
		status = StatusExpired
	}
	return Event{
		TransactionID: identity.TransactionID(d.ID),
		Status:        status,
		Slug:          strings.ToLower(strings.TrimSpace(d.Metadata[metadataSlugKey])),
		AmountCents:   d.AmountTotal,
		Currency:      strings.ToLower(d.Currency),
		Email:         d.CustomerEmail,
	}
}

// Retrieve fetches the session for transactionID. A 404 maps to ErrPaymentNotFound; every
// other failure, including a context deadline, maps to ErrProcessorUnavailable.
func (g *HTTPGateway) Retrieve(ctx context.Context, transactionID identity.TransactionID) (Event, error) {
	endpoint := g.baseURL + sessionsPath + "/" + url.PathEscape(transactionID.String())
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}

	var document sessionDocument
	status, err := g.do(request, &document)
	if err != nil {
		g.logger.Warn("payment lookup failed",
			zap.String("transaction_id", transactionID.String()),
			zap.Int("status", status),
			zap.Error(err))
		return Event{}, err
	}
	event := document.event()
	if event.TransactionID == "" {
		event.TransactionID = transactionID
	}
	return event, nil
}

// CreateCheckout opens a session whose metadata records the slug.
func (g *HTTPGateway) CreateCheckout(ctx context.Context, checkout CheckoutRequest) (Checkout, error) {
	if strings.TrimSpace(checkout.Slug) == "" || checkout.AmountCents <= 0 || strings.TrimSpace(checkout.Currency) == "" {
		return Checkout{}, ErrInvalidCheckout
	}
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", checkout.SuccessURL)
	form.Set("cancel_url", checkout.CancelURL)
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(checkout.Currency))
	form.Set("line_items[0][price_data][unit_amount]", strconv.FormatInt(checkout.AmountCents, 10))
	form.Set("line_items[0][price_data][product_data][name]", "Footprint "+checkout.Slug)
	form.Set("metadata["+metadataSlugKey+"]", checkout.Slug)

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+sessionsPath, strings.NewReader(form.Encode()))
	if err != nil {
		return Checkout{}, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var document sessionDocument
	status, err := g.do(request, &document)
	if err != nil {
		g.logger.Error("checkout creation failed",
			zap.String("slug", checkout.Slug),
			zap.Int("status", status),
			zap.Error(err))
		return Checkout{}, err
	}
	transactionID, err := identity.NewTransactionID(document.ID)
	if err != nil {
		return Checkout{}, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	return Checkout{TransactionID: transactionID, URL: document.URL}, nil
}

func (g *HTTPGateway) do(request *http.Request, target any) (int, error) {
	request.Header.Set("Authorization", "Bearer "+g.secretKey)
	request.Header.Set("Accept", "application/json")

	response, err := g.httpClient.Do(request)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	defer response.Body.Close()

	body := io.LimitReader(response.Body, maxResponseBytes)
	switch {
	case response.StatusCode == http.StatusNotFound:
		return response.StatusCode, ErrPaymentNotFound
	case response.StatusCode != http.StatusOK:
		return response.StatusCode, fmt.Errorf("%w: processor returned status %d", ErrProcessorUnavailable, response.StatusCode)
	}
	if err := json.NewDecoder(body).Decode(target); err != nil {
		return response.StatusCode, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}
	return response.StatusCode, nil
}
