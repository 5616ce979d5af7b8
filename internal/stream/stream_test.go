package stream

import (
	"testing"

	"oraclebot/internal/config"
)

func TestHandleSingleEvent(t *testing.T) {
	c := NewCache(config.StreamConfig{}, nil)
	c.handle([]byte(`{"event_type":"price_change","asset_id":"tok-1","price":"0.42"}`))
	got, ok := c.Price("tok-1")
	if !ok || got != 0.42 {
		t.Fatalf("price = %v %v, want 0.42", got, ok)
	}
}

func TestHandleBatchWithChanges(t *testing.T) {
	c := NewCache(config.StreamConfig{}, nil)
	c.handle([]byte(`[{"event_type":"price_change","changes":[{"asset_id":"tok-1","price":"0.61"},{"asset_id":"tok-2","price":"0.39"}]}]`))
	if got, _ := c.Price("tok-1"); got != 0.61 {
		t.Fatalf("tok-1 = %v, want 0.61", got)
	}
	if got, _ := c.Price("tok-2"); got != 0.39 {
		t.Fatalf("tok-2 = %v, want 0.39", got)
	}
}

func TestHandleIgnoresGarbage(t *testing.T) {
	c := NewCache(config.StreamConfig{}, nil)
	c.handle([]byte(`not json`))
	c.handle([]byte(`{"asset_id":"tok-1","price":"2.5"}`))
	c.handle([]byte(`{"asset_id":"tok-1","price":"abc"}`))
	if _, ok := c.Price("tok-1"); ok {
		t.Fatalf("invalid prices must not be cached")
	}
}

func TestWatchCapsAssets(t *testing.T) {
	c := NewCache(config.StreamConfig{MaxAssets: 2}, nil)
	c.Watch([]string{"a", "b", "c"})
	if len(c.assets) != 2 {
		t.Fatalf("assets = %v, want capped at 2", c.assets)
	}
	if !c.dirty {
		t.Fatalf("watch must mark the subscription dirty")
	}
}
