package model

import "time"

// Document is the metadata record for one uploaded file. The raw file is not
// retained; the index and chunk artifacts live in the object store at the
// recorded locations.
type Document struct {
	ID             string    `gorm:"size:36;primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	DisplayName    string    `gorm:"size:256;not null" json:"display_name"`
	IndexLocation  string    `gorm:"size:512;not null" json:"-"`
	ChunksLocation string    `gorm:"size:512;not null" json:"-"`
	PassageCount   int       `gorm:"not null" json:"passage_count"`
	CreatedAt      time.Time `json:"created_at"`
}
