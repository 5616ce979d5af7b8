package models

import "time"

// CalibrationScore holds per-category reliability derived from resolved
// predictions. TrustScore = clamp(1 - AvgBrier, 0, 1).
type CalibrationScore struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Category    string    `gorm:"type:varchar(30);not null;uniqueIndex"`
	SampleCount int       `gorm:"not null;default:0"`
	AvgBrier    float64   `gorm:"not null;default:0"`
	TrustScore  float64   `gorm:"not null;default:0.5"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (CalibrationScore) TableName() string {
	return "calibration_scores"
}
