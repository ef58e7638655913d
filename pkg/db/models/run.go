package models

import (
	"time"
)

// SyncRun records one executed run against a destination.
type SyncRun struct {
	ID          string `gorm:"primaryKey;type:text"`
	Command     string `gorm:"type:text;not null"`
	Manifest    string `gorm:"type:text"`
	Destination string `gorm:"type:text;not null;index"`
	DryRun      bool   `gorm:"default:false"`

	Found      int `gorm:"default:0"`
	Downloaded int `gorm:"default:0"`
	Skipped    int `gorm:"default:0"`
	Failed     int `gorm:"default:0"`
	Cleaned    int `gorm:"default:0"`

	ReportPath string `gorm:"type:text"`
	StartedAt  time.Time
	FinishedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Succeeded reports whether the run completed without failed items.
func (r *SyncRun) Succeeded() bool {
	return !r.FinishedAt.IsZero() && r.Failed == 0
}
