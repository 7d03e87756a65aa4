package models

import (
	"encoding/json"
	"time"
)

// ProfilesFile represents the root of the fetch profiles JSON file.
type ProfilesFile struct {
	Version  string         `json:"version"`
	Profiles []FetchProfile `json:"profiles"`
}

// FetchProfile describes one resumable collection run against the search API.
type FetchProfile struct {
	Name           string   `json:"name"`
	Query          string   `json:"query"`
	Output         string   `json:"output"`
	CheckpointFile string   `json:"checkpoint"`
	PageSize       int      `json:"pageSize"`
	PageSizeParam  string   `json:"pageSizeParam,omitempty"`
	Fields         []string `json:"fields,omitempty"`
	PageDelay      Duration `json:"pageDelay,omitempty"`
}

// Duration decodes "500ms"-style strings or plain milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// LookupKind names one of the filter lookup tables.
type LookupKind string

const (
	LookupLanguages LookupKind = "languages"
	LookupSubjects  LookupKind = "subjects"
	LookupYears     LookupKind = "years"
)

// Column returns the unique column of the lookup table.
func (k LookupKind) Column() string {
	if k == LookupYears {
		return "year"
	}
	return "name"
}

// Language, Subject and Year are the gorm models of the lookup tables.
type Language struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:1000;uniqueIndex;not null"`
}

type Subject struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:500;uniqueIndex;not null"`
}

type Year struct {
	ID   uint `gorm:"primaryKey"`
	Year int  `gorm:"uniqueIndex;not null"`
}
