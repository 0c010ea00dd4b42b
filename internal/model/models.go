package model

import (
	"time"
)

// LatencyRecord is the persisted probe history of one node.
type LatencyRecord struct {
	NodeID    string `gorm:"primaryKey"`
	ProfileID string `gorm:"index"`

	LastMs      int64   // -1 when the last probe failed
	SmoothedMs  float64 // Exponential Moving Average over successful probes
	SampleCount int
	FailCount   int
	LastTested  time.Time
}
