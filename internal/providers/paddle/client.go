package paddle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	chargedomain "github.com/smallbiznis/voicemeter/internal/charge/domain"
	"github.com/smallbiznis/voicemeter/internal/config"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://api.paddle.com"
	defaultTimeout = 15 * time.Second
)

// Client is a minimal Paddle Billing API client for usage charges.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.Paddle.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Paddle.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.Paddle.APIKey),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.Named("paddle.client"),
	}
}

type chargeItem struct {
	PriceID  string `json:"price_id"`
	Quantity int64  `json:"quantity"`
}

type chargeBody struct {
	EffectiveFrom string       `json:"effective_from"`
	Items         []chargeItem `json:"items"`
}

type apiMeta struct {
	RequestID string `json:"request_id"`
}

type apiResponse struct {
	Data json.RawMessage `json:"data"`
	Meta apiMeta         `json:"meta"`
}

// ChargeUsage bills a one-time charge on the client's subscription. The
// usage price is a one-cent unit price, so the quantity is the amount in
// minor units.
func (c *Client) ChargeUsage(ctx context.Context, req chargedomain.ChargeRequest) (chargedomain.ChargeResult, error) {
	if c == nil || c.apiKey == "" {
		return chargedomain.ChargeResult{}, chargedomain.ErrGatewayUnavailable
	}
	subscriptionID := strings.TrimSpace(req.SubscriptionID)
	if subscriptionID == "" {
		return chargedomain.ChargeResult{}, chargedomain.ErrMissingSubscription
	}
	priceID := strings.TrimSpace(req.PriceID)
	if priceID == "" {
		return chargedomain.ChargeResult{}, chargedomain.ErrMissingUsagePrice
	}
	if req.Amount <= 0 {
		return chargedomain.ChargeResult{}, fmt.Errorf("invalid charge amount %d", req.Amount)
	}

	body, err := json.Marshal(chargeBody{
		EffectiveFrom: "immediately",
		Items:         []chargeItem{{PriceID: priceID, Quantity: req.Amount}},
	})
	if err != nil {
		return chargedomain.ChargeResult{}, err
	}

	endpoint := c.baseURL + "/subscriptions/" + url.PathEscape(subscriptionID) + "/charge"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return chargedomain.ChargeResult{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return chargedomain.ChargeResult{}, fmt.Errorf("paddle charge request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return chargedomain.ChargeResult{}, fmt.Errorf("read paddle response: %w", err)
	}
	if resp.StatusCode >= 400 {
		apiErr := parseError(resp.StatusCode, respBody)
		c.log.Warn("paddle charge rejected",
			zap.String("client_id", req.ClientID),
			zap.String("invoice_id", req.InvoiceID),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
		)
		return chargedomain.ChargeResult{}, apiErr
	}

	var decoded apiResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return chargedomain.ChargeResult{}, fmt.Errorf("decode paddle response: %w", err)
	}
	return chargedomain.ChargeResult{Reference: decoded.Meta.RequestID}, nil
}
