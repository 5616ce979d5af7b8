package models

import "time"

// EvidenceItem is one piece of fetched news context. Immutable once fetched.
type EvidenceItem struct {
	Source      string
	Title       string
	Body        string
	PublishedAt time.Time
}
