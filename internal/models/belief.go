package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Belief is one probability estimate for a market, either a single analysis
// result or the stored consensus. Confidence is the only field validators may
// adjust after creation.
type Belief struct {
	ID       uint64 `gorm:"primaryKey;autoIncrement"`
	MarketID string `gorm:"type:varchar(100);not null;index"`
	Category string `gorm:"type:varchar(30);index"`

	Probability float64 `gorm:"not null"`
	Confidence  float64 `gorm:"not null"`

	Reasoning       string         `gorm:"type:text"`
	KeyFactors      datatypes.JSON `gorm:"type:jsonb"`
	Citations       datatypes.JSON `gorm:"type:jsonb"`
	ConsistencyNote string         `gorm:"type:text"`

	Uncertainty      *float64
	RawProbability   *float64
	CitationAccuracy *float64

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (Belief) TableName() string {
	return "beliefs"
}

func (b Belief) FactorList() []string {
	return decodeStrings(b.KeyFactors)
}

func (b Belief) CitationList() []string {
	return decodeStrings(b.Citations)
}

func (b *Belief) SetFactors(items []string) {
	b.KeyFactors = encodeStrings(items)
}

func (b *Belief) SetCitations(items []string) {
	b.Citations = encodeStrings(items)
}

func decodeStrings(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func encodeStrings(items []string) datatypes.JSON {
	if items == nil {
		items = []string{}
	}
	raw, _ := json.Marshal(items)
	return datatypes.JSON(raw)
}
