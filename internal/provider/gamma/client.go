package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"oraclebot/internal/models"
)

type Client struct {
	host       string
	httpClient *http.Client
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gamma API error (%d): %s", e.Status, e.Body)
}

func NewClient(httpClient *http.Client, host string) *Client {
	if host == "" {
		host = "https://gamma-api.polymarket.com"
	}
	host = strings.TrimRight(host, "/")
	return &Client{host: host, httpClient: httpClient}
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) ([]byte, error) {
	fullURL := c.host + path
	if len(query) > 0 {
		fullURL = fullURL + "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// rawMarket mirrors the Gamma wire format; list fields arrive as
// JSON-encoded strings inside the JSON document.
type rawMarket struct {
	ConditionID   string `json:"conditionId"`
	Question      string `json:"question"`
	Category      string `json:"category"`
	EndDate       string `json:"endDate"`
	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
	ClobTokenIDs  string `json:"clobTokenIds"`
	Closed        bool   `json:"closed"`
}

// FetchByConditionID returns the market for a condition id, or nil when the
// venue does not know it.
func (c *Client) FetchByConditionID(ctx context.Context, conditionID string) (*models.Market, error) {
	conditionID = strings.TrimSpace(conditionID)
	if conditionID == "" {
		return nil, fmt.Errorf("condition id is required")
	}
	query := url.Values{}
	query.Set("condition_ids", conditionID)
	body, err := c.doRequest(ctx, "/markets", query)
	if err != nil {
		return nil, err
	}
	var raws []rawMarket
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("gamma markets decode: %w", err)
	}
	if len(raws) == 0 {
		return nil, nil
	}
	m, err := mapMarket(raws[0])
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FetchActive returns up to limit active, unresolved markets.
func (c *Client) FetchActive(ctx context.Context, limit int) ([]models.Market, error) {
	if limit <= 0 {
		limit = 20
	}
	query := url.Values{}
	query.Set("active", "true")
	query.Set("closed", "false")
	query.Set("limit", strconv.Itoa(limit))
	query.Set("order", "volume")
	query.Set("ascending", "false")
	body, err := c.doRequest(ctx, "/markets", query)
	if err != nil {
		return nil, err
	}
	var raws []rawMarket
	if err := json.Unmarshal(body, &raws); err != nil {
		return nil, fmt.Errorf("gamma markets decode: %w", err)
	}
	out := make([]models.Market, 0, len(raws))
	for _, raw := range raws {
		m, err := mapMarket(raw)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func mapMarket(raw rawMarket) (models.Market, error) {
	if strings.TrimSpace(raw.ConditionID) == "" {
		return models.Market{}, fmt.Errorf("market missing condition id")
	}
	names := decodeStringList(raw.Outcomes)
	prices := decodeFloatList(raw.OutcomePrices)
	tokens := decodeStringList(raw.ClobTokenIDs)
	if len(names) == 0 || len(names) != len(tokens) {
		return models.Market{}, fmt.Errorf("market %s has malformed outcomes", raw.ConditionID)
	}
	outcomes := make([]models.Outcome, 0, len(names))
	for i, name := range names {
		price := 0.0
		if i < len(prices) {
			price = prices[i]
		}
		outcomes = append(outcomes, models.Outcome{
			TokenID: tokens[i],
			Name:    name,
			Price:   price,
		})
	}
	var resolution time.Time
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(raw.EndDate)); err == nil {
		resolution = t
	}
	return models.Market{
		ConditionID:    raw.ConditionID,
		Title:          raw.Question,
		Category:       models.ParseCategory(raw.Category),
		ResolutionTime: resolution,
		Outcomes:       outcomes,
		Closed:         raw.Closed,
	}, nil
}

func decodeStringList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func decodeFloatList(raw string) []float64 {
	items := decodeStringList(raw)
	out := make([]float64, 0, len(items))
	for _, it := range items {
		v, err := strconv.ParseFloat(strings.TrimSpace(it), 64)
		if err != nil {
			out = append(out, 0)
			continue
		}
		out = append(out, v)
	}
	return out
}
