package stream

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"oraclebot/internal/config"
)

// Cache keeps last-seen outcome token prices from the venue's market
// websocket. It is advisory: the monitor always refetches a real snapshot
// before acting, the cache only helps spot moves early.
type Cache struct {
	cfg    config.StreamConfig
	logger *zap.Logger

	mu     sync.RWMutex
	prices map[string]float64
	assets []string
	dirty  bool
}

func NewCache(cfg config.StreamConfig, logger *zap.Logger) *Cache {
	return &Cache{
		cfg:    cfg,
		logger: logger,
		prices: map[string]float64{},
	}
}

// Watch replaces the tracked asset set. The connection resubscribes on the
// next refresh interval.
func (c *Cache) Watch(tokenIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.MaxAssets > 0 && len(tokenIDs) > c.cfg.MaxAssets {
		tokenIDs = tokenIDs[:c.cfg.MaxAssets]
	}
	c.assets = append([]string(nil), tokenIDs...)
	c.dirty = true
}

// Price returns the last streamed price for a token, if any was seen.
func (c *Cache) Price(tokenID string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.prices[tokenID]
	return p, ok
}

// Run maintains the websocket connection until the context ends, with a
// flat reconnect delay.
func (c *Cache) Run(ctx context.Context) {
	if !c.cfg.Enabled || c.cfg.URL == "" {
		return
	}
	for {
		if err := c.connectOnce(ctx); err != nil && c.logger != nil {
			c.logger.Warn("market stream disconnected", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

type subscribeMessage struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

type streamEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Price     string `json:"price"`
	Changes   []struct {
		AssetID string `json:"asset_id"`
		Price   string `json:"price"`
	} `json:"changes"`
}

func (c *Cache) connectOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(1 << 20)

	if err := c.subscribe(ctx, conn); err != nil {
		return err
	}

	refresh := c.cfg.RefreshInterval
	if refresh <= 0 {
		refresh = 30 * time.Second
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	readErr := make(chan error, 1)
	go func() {
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				readErr <- err
				return
			}
			c.handle(data)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ticker.C:
			if c.takeDirty() {
				if err := c.subscribe(ctx, conn); err != nil {
					return err
				}
			}
		}
	}
}

func (c *Cache) subscribe(ctx context.Context, conn *websocket.Conn) error {
	c.mu.RLock()
	assets := append([]string(nil), c.assets...)
	c.mu.RUnlock()
	if len(assets) == 0 {
		return nil
	}
	payload, err := json.Marshal(subscribeMessage{Type: "market", AssetIDs: assets})
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, payload)
}

func (c *Cache) takeDirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.dirty
	c.dirty = false
	return d
}

// handle decodes one frame. Frames may carry a single event or an array.
func (c *Cache) handle(data []byte) {
	trimmed := strings.TrimSpace(string(data))
	var events []streamEvent
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &events); err != nil {
			return
		}
	} else {
		var one streamEvent
		if err := json.Unmarshal(data, &one); err != nil {
			return
		}
		events = []streamEvent{one}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		c.applyLocked(ev.AssetID, ev.Price)
		for _, ch := range ev.Changes {
			c.applyLocked(ch.AssetID, ch.Price)
		}
	}
}

func (c *Cache) applyLocked(assetID, price string) {
	if assetID == "" || price == "" {
		return
	}
	v, err := strconv.ParseFloat(price, 64)
	if err != nil || v < 0 || v > 1 {
		return
	}
	c.prices[assetID] = v
}
