package dse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kelsoko1/terminal1-sub005/pkg/metrics"
	"github.com/kelsoko1/terminal1-sub005/pkg/models"
)

// OrderAck is the gateway's response to an order submission.
type OrderAck struct {
	OrderID      string          `json:"order_id"`
	Status       string          `json:"status"`
	FillPrice    decimal.Decimal `json:"fill_price"`
	FillQuantity decimal.Decimal `json:"fill_quantity"`
}

// GatewayClient defines exchange gateway operations for dependency injection
type GatewayClient interface {
	SubmitOrder(ctx context.Context, order *models.Order) (*OrderAck, error)
	CancelOrder(ctx context.Context, exchangeRef string) error
}

// Client submits and cancels orders against the DSE gateway over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a gateway client. Every request is bounded by the
// given timeout and the caller's context.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type orderPayload struct {
	ClientOrderID string `json:"client_order_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price,omitempty"`
	Quantity      string `json:"quantity"`
	TimeInForce   string `json:"time_in_force,omitempty"`
}

// SubmitOrder sends the order to POST {base}/orders and returns the
// gateway's acknowledgement.
func (c *Client) SubmitOrder(ctx context.Context, order *models.Order) (*OrderAck, error) {
	payload := orderPayload{
		ClientOrderID: order.ID.String(),
		Symbol:        order.Symbol,
		Side:          order.Side,
		Type:          order.Type,
		Quantity:      order.Quantity.String(),
		TimeInForce:   order.TimeInForce,
	}
	if !order.Price.IsZero() {
		payload.Price = order.Price.String()
	}

	var ack OrderAck
	if err := c.post(ctx, "submit", c.baseURL+"/orders", payload, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// CancelOrder sends a cancel request for a previously submitted order.
func (c *Client) CancelOrder(ctx context.Context, exchangeRef string) error {
	url := fmt.Sprintf("%s/orders/%s/cancel", c.baseURL, exchangeRef)
	return c.post(ctx, "cancel", url, struct{}{}, nil)
}

func (c *Client) post(ctx context.Context, op, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.GatewayLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return &ExchangeError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("gateway request rejected",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode))
		return &ExchangeError{Op: op, Status: resp.StatusCode, Body: string(respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", op, err)
		}
	}
	return nil
}
