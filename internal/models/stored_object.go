package models

import "time"

// StoredObject is the metadata row kept for every object in the image store.
type StoredObject struct {
	Path        string    `gorm:"primaryKey;type:varchar(512)" json:"path"`
	ContentType string    `gorm:"type:varchar(128)" json:"content_type"`
	Size        int64     `json:"size"`
	CreatedAt   time.Time `json:"created_at"`
}
