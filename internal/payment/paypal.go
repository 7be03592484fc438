package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"storefront/config"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// PaypalClient talks to the PayPal REST API: OAuth token, create order, capture
type PaypalClient struct {
	baseURL    string
	clientID   string
	secret     string
	currency   string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

type paypalAPIError struct {
	StatusCode int
	Body       string
}

func (e *paypalAPIError) Error() string {
	return fmt.Sprintf("paypal returned %d: %s", e.StatusCode, e.Body)
}

// NewPaypalClient creates a client with an instrumented transport and a circuit breaker
func NewPaypalClient(cfg config.PayPalConfig) *PaypalClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &PaypalClient{
		baseURL:  strings.TrimRight(cfg.APIURL, "/"),
		clientID: cfg.ClientID,
		secret:   cfg.AppSecret,
		currency: cfg.Currency,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "paypal",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				util.GetLogger().Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
		logger: util.GetLogger(),
	}
}

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	Amount paypalAmount `json:"amount"`
}

type createOrderRequest struct {
	Intent        string         `json:"intent"`
	PurchaseUnits []purchaseUnit `json:"purchase_units"`
}

type captureResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Payer  struct {
		EmailAddress string `json:"email_address"`
	} `json:"payer"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				Amount paypalAmount `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CreateOrder opens a remote PayPal order for amount and returns its id
func (c *PaypalClient) CreateOrder(ctx context.Context, amount string) (string, error) {
	ctx, span := util.StartSpan(ctx, "PaypalClient.CreateOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentProcessorLatency.WithLabelValues("paypal", "create_order").Observe(time.Since(start).Seconds())
	}()

	req := createOrderRequest{
		Intent:        "CAPTURE",
		PurchaseUnits: []purchaseUnit{{Amount: paypalAmount{CurrencyCode: c.currency, Value: amount}}},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal paypal order: %w", err)
	}

	data, err := c.authorized(ctx, http.MethodPost, "/v2/checkout/orders", body)
	if err != nil {
		return "", fmt.Errorf("failed to create paypal order: %w", err)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &created); err != nil {
		return "", fmt.Errorf("failed to decode paypal order: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("paypal order response has no id")
	}

	c.logger.Info("PayPal order created", zap.String("paypal_order_id", created.ID), zap.String("amount", amount))
	return created.ID, nil
}

// CaptureOrder captures the approved remote order
func (c *PaypalClient) CaptureOrder(ctx context.Context, remoteID string) (*models.ExternalCapture, error) {
	ctx, span := util.StartSpan(ctx, "PaypalClient.CaptureOrder")
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentProcessorLatency.WithLabelValues("paypal", "capture").Observe(time.Since(start).Seconds())
	}()

	data, err := c.authorized(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(remoteID)+"/capture", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to capture paypal order: %w", err)
	}

	var resp captureResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode paypal capture: %w", err)
	}

	capture := &models.ExternalCapture{
		ID:           resp.ID,
		Status:       resp.Status,
		EmailAddress: resp.Payer.EmailAddress,
		PricePaid:    "0",
	}
	if len(resp.PurchaseUnits) > 0 && len(resp.PurchaseUnits[0].Payments.Captures) > 0 {
		capture.PricePaid = resp.PurchaseUnits[0].Payments.Captures[0].Amount.Value
	}
	return capture, nil
}

func (c *PaypalClient) authorized(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	token, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	return c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		return c.do(req)
	})
}

// token returns a cached OAuth access token, fetching a new one when it is about to expire
func (c *PaypalClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token",
			strings.NewReader("grant_type=client_credentials"))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.clientID, c.secret)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return c.do(req)
	})
	if err != nil {
		return "", fmt.Errorf("failed to get paypal access token: %w", err)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(data, &tok); err != nil {
		return "", fmt.Errorf("failed to decode paypal access token: %w", err)
	}

	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return c.accessToken, nil
}

func (c *PaypalClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &paypalAPIError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
