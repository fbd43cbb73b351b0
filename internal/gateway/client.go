package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fjod/go_cart/store-service/internal/config"
	"github.com/fjod/go_cart/store-service/internal/domain"
	"github.com/fjod/go_cart/store-service/internal/metrics"
	"github.com/fjod/go_cart/store-service/pkg/circuitbreaker"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

const maxReceiptDescription = 128

// Client talks to a YooKassa-compatible payments API. Each call is made at
// most once; retrying is up to the caller.
type Client struct {
	cfg     config.GatewayConfig
	http    *http.Client
	breaker *circuitbreaker.Breaker[*domain.PaymentResult]
	log     *zap.Logger
	metrics *metrics.Metrics
	newKey  func() string
}

func NewClient(cfg config.GatewayConfig, log *zap.Logger, m *metrics.Metrics) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: circuitbreaker.New[*domain.PaymentResult](circuitbreaker.Config{
			Name: "payment-gateway",
			Ignore: func(err error) bool {
				return errors.Is(err, domain.ErrGatewayMisconfigured) || errors.Is(err, domain.ErrGatewayRejected)
			},
		}, log),
		log:     log,
		metrics: m,
		newKey:  func() string { return uuid.New().String() },
	}
}

type amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type receiptItem struct {
	Description    string `json:"description"`
	Quantity       string `json:"quantity"`
	Amount         amount `json:"amount"`
	VatCode        int    `json:"vat_code"`
	PaymentMode    string `json:"payment_mode"`
	PaymentSubject string `json:"payment_subject"`
}

type receipt struct {
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
	Items []receiptItem `json:"items"`
}

type createPaymentRequest struct {
	Amount       amount            `json:"amount"`
	Confirmation confirmation      `json:"confirmation"`
	Capture      bool              `json:"capture"`
	Description  string            `json:"description"`
	Metadata     map[string]string `json:"metadata"`
	Receipt      receipt           `json:"receipt"`
}

type paymentResponse struct {
	ID           string        `json:"id"`
	Status       string        `json:"status"`
	Confirmation *confirmation `json:"confirmation"`
}

type errorResponse struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (c *Client) newCreateRequest(req domain.PaymentRequest) createPaymentRequest {
	amt := amount{Value: req.Amount.StringFixed(2), Currency: c.cfg.Currency}

	body := createPaymentRequest{
		Amount:       amt,
		Confirmation: confirmation{Type: "redirect", ReturnURL: c.cfg.ReturnURL},
		Capture:      true,
		Description:  req.Description,
		Metadata:     map[string]string{"order_id": req.OrderID},
	}
	body.Receipt.Customer.Email = req.BuyerEmail
	body.Receipt.Items = []receiptItem{{
		Description:    truncate(req.Description, maxReceiptDescription),
		Quantity:       "1.00",
		Amount:         amt,
		VatCode:        1,
		PaymentMode:    "full_prepayment",
		PaymentSubject: "commodity",
	}}
	return body
}

// CreatePayment registers a remote payment for the order and returns its id,
// status and the URL the buyer has to visit to pay.
func (c *Client) CreatePayment(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentResult, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(c.newCreateRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	return c.call(ctx, "create_payment", func() (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("payments"), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotence-Key", c.newKey())
		return httpReq, nil
	})
}

// GetPayment fetches the current state of a remote payment.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*domain.PaymentResult, error) {
	if err := c.checkConfigured(); err != nil {
		return nil, err
	}

	return c.call(ctx, "get_payment", func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("payments", url.PathEscape(paymentID)), nil)
	})
}

func (c *Client) checkConfigured() error {
	var missing []string
	if c.cfg.URL == "" {
		missing = append(missing, "GATEWAY_URL")
	}
	if c.cfg.ShopID == "" {
		missing = append(missing, "GATEWAY_SHOP_ID")
	}
	if c.cfg.SecretKey == "" {
		missing = append(missing, "GATEWAY_SECRET_KEY")
	}
	if c.cfg.ReturnURL == "" {
		missing = append(missing, "GATEWAY_RETURN_URL")
	}
	if len(missing) == 0 {
		return nil
	}
	c.log.Error("payment gateway is not configured", zap.Strings("missing", missing))
	return fmt.Errorf("%w: missing %s", domain.ErrGatewayMisconfigured, strings.Join(missing, ", "))
}

func (c *Client) call(ctx context.Context, operation string, build func() (*http.Request, error)) (*domain.PaymentResult, error) {
	start := time.Now()
	res, err := c.breaker.Execute(func() (*domain.PaymentResult, error) {
		req, err := build()
		if err != nil {
			return nil, fmt.Errorf("failed to build gateway request: %w", err)
		}
		req.SetBasicAuth(c.cfg.ShopID, c.cfg.SecretKey)
		req.Header.Set("Accept", "application/json")
		return c.do(req)
	})

	result := "ok"
	switch {
	case err == nil:
	case circuitbreaker.IsOpen(err):
		result = "rejected"
		err = fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	case errors.Is(err, domain.ErrGatewayMisconfigured):
		result = "misconfigured"
		c.log.Error("payment gateway rejected credentials", zap.String("operation", operation), zap.Error(err))
	case errors.Is(err, domain.ErrGatewayRejected):
		result = "rejected_request"
		c.log.Warn("payment gateway rejected request", zap.String("operation", operation), zap.Error(err))
	default:
		result = "error"
	}
	c.metrics.ObserveGateway(operation, result, time.Since(start))
	return res, err
}

func (c *Client) do(req *http.Request) (*domain.PaymentResult, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", domain.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResponse
		_ = json.Unmarshal(body, &apiErr)
		return nil, fmt.Errorf("%w: status %d: %s %s", statusError(resp.StatusCode), resp.StatusCode, apiErr.Code, apiErr.Description)
	}

	var pr paymentResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayUnavailable, err)
	}
	if pr.ID == "" {
		return nil, fmt.Errorf("%w: response has no payment id", domain.ErrGatewayUnavailable)
	}

	result := &domain.PaymentResult{ID: pr.ID, Status: pr.Status}
	if pr.Confirmation != nil {
		result.ConfirmationURL = pr.Confirmation.ConfirmationURL
	}
	return result, nil
}

// statusError classifies a non-2xx response. Other 4xx answers concern a
// single request and must not count against the breaker.
func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return domain.ErrGatewayMisconfigured
	case code == http.StatusTooManyRequests:
		return domain.ErrGatewayUnavailable
	case code >= 400 && code < 500:
		return domain.ErrGatewayRejected
	default:
		return domain.ErrGatewayUnavailable
	}
}

func (c *Client) endpoint(parts ...string) string {
	return strings.TrimRight(c.cfg.URL, "/") + "/" + strings.Join(parts, "/")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
