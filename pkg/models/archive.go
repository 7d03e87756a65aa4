package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Column limits of the archive_items table, in characters.
const (
	MaxIdentifier = 10000
	MaxLanguage   = 1000
	MaxBTIH       = 128
	MaxMediaType  = 50
)

// SearchFields is the allowlist of source fields requested from the search API
// and copied into an ArchiveRecord.
var SearchFields = []string{
	"identifier", "description", "language", "item_size", "downloads",
	"btih", "mediatype", "subject", "title", "publicdate",
}

// ArchiveRecord is one line of the NDJSON stream written by the fetcher and
// read by the loader. Values stay raw so source data passes through untouched.
type ArchiveRecord struct {
	Identifier  json.RawMessage `json:"identifier"`
	Description json.RawMessage `json:"description"`
	Language    json.RawMessage `json:"language"`
	ItemSize    json.RawMessage `json:"item_size"`
	Downloads   json.RawMessage `json:"downloads"`
	BTIH        json.RawMessage `json:"btih"`
	MediaType   json.RawMessage `json:"mediatype"`
	Subject     json.RawMessage `json:"subject"`
	Title       json.RawMessage `json:"title"`
	PublicDate  json.RawMessage `json:"publicdate"`
	URL         string          `json:"url"`
}

// ArchiveItem is a normalized row of archive_items. Nil pointers are stored
// as NULL.
type ArchiveItem struct {
	ID          uint           `gorm:"primaryKey" json:"-" bson:"-"`
	Identifier  string         `gorm:"size:10000;uniqueIndex;not null" json:"identifier" bson:"identifier"`
	Title       *string        `gorm:"type:text" json:"title" bson:"title"`
	Description *string        `gorm:"type:text" json:"description" bson:"description"`
	Language    *string        `gorm:"size:1000" json:"language" bson:"language"`
	ItemSize    int64          `gorm:"not null;default:0;check:item_size >= 0" json:"item_size" bson:"item_size"`
	Downloads   int64          `gorm:"not null;default:0;check:downloads >= 0" json:"downloads" bson:"downloads"`
	BTIH        *string        `gorm:"column:btih;size:128" json:"btih" bson:"btih"`
	MediaType   *string        `gorm:"column:mediatype;size:50" json:"mediatype" bson:"mediatype"`
	Subject     datatypes.JSON `json:"subject" bson:"-"`
	PublicDate  *time.Time     `gorm:"column:publicdate" json:"publicdate" bson:"publicdate"`
	URL         *string        `gorm:"type:text" json:"url" bson:"url"`
	CreatedAt   time.Time      `json:"-" bson:"-"`
	UpdatedAt   time.Time      `json:"updated_at" bson:"-"`
}

// TableName keeps the gorm table name aligned with the other stores.
func (ArchiveItem) TableName() string { return "archive_items" }

// SubjectParam returns the subject as a JSON document for a driver argument,
// or nil when the subject is NULL.
func (a *ArchiveItem) SubjectParam() []byte {
	if len(a.Subject) == 0 {
		return nil
	}
	return []byte(a.Subject)
}

// Checkpoint is the persisted fetch position.
type Checkpoint struct {
	LastCursor *string `json:"last_cursor"`
	Exhausted  bool    `json:"exhausted,omitempty"`
}
