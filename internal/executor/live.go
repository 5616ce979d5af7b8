package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"oraclebot/internal/config"
)

// Live submits orders to an execution service over HTTP. The service owns
// keys and on-chain mechanics; this client only speaks notional orders.
type Live struct {
	baseURL    string
	orderPath  string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ OrderExecutor = (*Live)(nil)

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("executor API error (%d): %s", e.Status, e.Body)
}

func NewLive(cfg config.ExecutorConfig, logger *zap.Logger) *Live {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	orderPath := cfg.OrderPath
	if orderPath == "" {
		orderPath = "/orders"
	}
	return &Live{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		orderPath:  orderPath,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type orderRequest struct {
	Action   string `json:"action"`
	MarketID string `json:"market_id"`
	TokenID  string `json:"token_id"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	SizeUSD  string `json:"size_usd"`
}

type orderResponse struct {
	Status    string `json:"status"`
	Reason    string `json:"reason"`
	FillPrice string `json:"fill_price"`
	FilledUSD string `json:"filled_usd"`
}

func (l *Live) Open(ctx context.Context, order Order) (*Fill, error) {
	return l.submit(ctx, "open", order)
}

func (l *Live) Close(ctx context.Context, order Order) (*Fill, error) {
	return l.submit(ctx, "close", order)
}

func (l *Live) submit(ctx context.Context, action string, order Order) (*Fill, error) {
	if l.baseURL == "" {
		return nil, fmt.Errorf("executor base url is empty")
	}
	payload, err := json.Marshal(orderRequest{
		Action:   action,
		MarketID: order.MarketID,
		TokenID:  order.TokenID,
		Side:     order.Side,
		Price:    order.Price.String(),
		SizeUSD:  order.SizeUSD.String(),
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+l.orderPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}

	var or orderResponse
	if err := json.Unmarshal(body, &or); err != nil {
		return nil, fmt.Errorf("executor response decode: %w", err)
	}
	if or.Status != "filled" {
		return nil, &RejectedError{Reason: or.Reason}
	}
	fillPrice, err := decimal.NewFromString(or.FillPrice)
	if err != nil {
		return nil, fmt.Errorf("bad fill price %q: %w", or.FillPrice, err)
	}
	filledUSD := order.SizeUSD
	if or.FilledUSD != "" {
		if v, err := decimal.NewFromString(or.FilledUSD); err == nil {
			filledUSD = v
		}
	}
	shares, err := sharesFor(filledUSD, fillPrice)
	if err != nil {
		return nil, err
	}
	if l.logger != nil {
		l.logger.Info("live fill",
			zap.String("action", action),
			zap.String("market_id", order.MarketID),
			zap.String("fill_price", fillPrice.String()))
	}
	return &Fill{Price: fillPrice, SizeUSD: filledUSD, Shares: shares}, nil
}
