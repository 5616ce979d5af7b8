package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"oraclebot/internal/config"
	"oraclebot/internal/provider"
)

// Client talks to an OpenAI-compatible chat-completions endpoint. Callers
// must treat the returned text as untrusted model output.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string

	HTTP    *http.Client
	Logger  *zap.Logger
	Breaker *provider.Breaker
	Queue   *provider.Queue

	MaxRetries   int
	RetryBackoff time.Duration
}

func NewClient(cfg config.LLMConfig, apiKey string, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		BaseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		APIKey:       strings.TrimSpace(apiKey),
		Model:        strings.TrimSpace(cfg.Model),
		HTTP:         &http.Client{Timeout: timeout},
		Logger:       logger,
		Breaker:      provider.NewBreaker("llm", cfg.BreakerThreshold, cfg.BreakerCooldown, logger),
		Queue:        provider.NewQueue(cfg.RequestSpacing),
		MaxRetries:   cfg.MaxRetries,
		RetryBackoff: cfg.RetryBackoff,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete issues one completion call through the rate queue, with bounded
// retries and the circuit breaker accounting for exhausted calls.
func (c *Client) Complete(ctx context.Context, prompt, model, system string, temperature float64) (string, error) {
	if c == nil {
		return "", errors.New("llm client is nil")
	}
	if c.Breaker != nil && !c.Breaker.Allow() {
		return "", provider.ErrSuspended
	}

	var out string
	err := provider.Retry(ctx, c.MaxRetries, c.RetryBackoff, func(ctx context.Context) error {
		if err := c.Queue.Wait(ctx); err != nil {
			return err
		}
		text, err := c.complete(ctx, prompt, model, system, temperature)
		if err != nil {
			return err
		}
		out = text
		return nil
	})
	if err != nil {
		c.Breaker.Failure()
		return "", err
	}
	c.Breaker.Success()
	return out, nil
}

func (c *Client) complete(ctx context.Context, prompt, model, system string, temperature float64) (string, error) {
	base := c.BaseURL
	if base == "" {
		return "", errors.New("llm base url is empty")
	}
	if strings.TrimSpace(model) == "" {
		model = c.Model
	}

	msgs := make([]chatMessage, 0, 2)
	if strings.TrimSpace(system) != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: prompt})

	reqBody := chatRequest{Model: model, Messages: msgs}
	if temperature > 0 {
		reqBody.Temperature = &temperature
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var cr chatResponse
	if err := json.Unmarshal(b, &cr); err != nil {
		return "", err
	}
	if cr.Error != nil {
		return "", fmt.Errorf("llm error: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	return cr.Choices[0].Message.Content, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 60 * time.Second}
}
