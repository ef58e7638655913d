package models

import (
	"time"
)

type SyncStatus string

const (
	StatusSuccess SyncStatus = "success"
	StatusFailed  SyncStatus = "failed"
)

// LocalState is the last known state of one synced path below a destination.
type LocalState struct {
	ID          uint   `gorm:"primaryKey"`
	Destination string `gorm:"type:text;not null;uniqueIndex:idx_dest_path"`
	Path        string `gorm:"type:text;not null;uniqueIndex:idx_dest_path"`

	// Content metadata as written by the last transfer
	Size    int64  `gorm:"not null"`
	Hash    string `gorm:"type:text"`
	Changed int64  `gorm:"not null;default:0"` // manifest "changed" of the applied entry
	ModTime int64  `gorm:"not null;default:0"` // on-disk mtime after the write

	Status    SyncStatus `gorm:"type:text;not null"`
	LastError string     `gorm:"type:text"`
	SyncedAt  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
