package etl

import (
	"encoding/json"

	"github.com/BartekS5/archive-ingest/pkg/models"
	"github.com/BartekS5/archive-ingest/pkg/utils"
)

const detailsBaseURL = "https://archive.org/details/"

var (
	unknownRaw = json.RawMessage(`"` + utils.Sentinel + `"`)
	zeroRaw    = json.RawMessage(`0`)
)

// ShapeRecord maps one raw search item onto the stream record. Only
// allowlisted fields are copied; absent text fields become the sentinel and
// absent counters become 0. Values present in the item, null included, pass
// through unchanged. Items that are not objects or have no usable identifier
// are rejected.
func ShapeRecord(raw json.RawMessage) (*models.ArchiveRecord, bool) {
	var item map[string]json.RawMessage
	if err := json.Unmarshal(raw, &item); err != nil || item == nil {
		return nil, false
	}

	idRaw, ok := item["identifier"]
	if !ok {
		return nil, false
	}
	id, err := utils.DecodeJSON(idRaw)
	if err != nil || !utils.IsTruthy(id) || utils.IsSentinel(id) {
		return nil, false
	}
	switch id.(type) {
	case string, json.Number:
	default:
		return nil, false
	}

	text := func(key string) json.RawMessage {
		if v, ok := item[key]; ok {
			return v
		}
		return unknownRaw
	}
	count := func(key string) json.RawMessage {
		if v, ok := item[key]; ok {
			return v
		}
		return zeroRaw
	}

	return &models.ArchiveRecord{
		Identifier:  idRaw,
		Description: text("description"),
		Language:    text("language"),
		ItemSize:    count("item_size"),
		Downloads:   count("downloads"),
		BTIH:        text("btih"),
		MediaType:   text("mediatype"),
		Subject:     text("subject"),
		Title:       text("title"),
		PublicDate:  text("publicdate"),
		URL:         detailsBaseURL + utils.Stringify(id),
	}, true
}
