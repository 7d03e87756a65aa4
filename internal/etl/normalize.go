package etl

import (
	"fmt"
	"strings"

	"gorm.io/datatypes"

	"github.com/BartekS5/archive-ingest/pkg/models"
	"github.com/BartekS5/archive-ingest/pkg/utils"
)

const detailsMarker = "archive.org/details/"

// Normalize turns a decoded stream record into a row. ok is false when no
// identifier can be derived; the record is then skipped, not failed.
func Normalize(rec map[string]interface{}) (item *models.ArchiveItem, ok bool, err error) {
	id, ok := ExtractIdentifier(rec)
	if !ok {
		return nil, false, nil
	}

	subject, err := utils.SubjectJSON(utils.NormalizeSubject(rec["subject"]))
	if err != nil {
		return nil, false, fmt.Errorf("encode subject for %q: %w", id, err)
	}

	return &models.ArchiveItem{
		Identifier:  utils.Truncate(id, models.MaxIdentifier),
		Title:       utils.OptionalString(rec["title"]),
		Description: utils.OptionalString(rec["description"]),
		Language:    utils.BoundedString(rec["language"], models.MaxLanguage),
		ItemSize:    utils.IntOrZero(rec["item_size"]),
		Downloads:   utils.IntOrZero(rec["downloads"]),
		BTIH:        utils.BoundedString(rec["btih"], models.MaxBTIH),
		MediaType:   utils.BoundedString(rec["mediatype"], models.MaxMediaType),
		Subject:     datatypes.JSON(subject),
		PublicDate:  utils.ParsePublicDate(rec["publicdate"]),
		URL:         utils.OptionalString(rec["url"]),
	}, true, nil
}

// ExtractIdentifier prefers the record's own identifier. Otherwise it takes
// the path segment after the last "archive.org/details/" in url.
func ExtractIdentifier(rec map[string]interface{}) (string, bool) {
	if v := rec["identifier"]; utils.IsTruthy(v) && !utils.IsSentinel(v) {
		return utils.Stringify(v), true
	}
	u, ok := rec["url"].(string)
	if !ok {
		return "", false
	}
	i := strings.LastIndex(u, detailsMarker)
	if i < 0 {
		return "", false
	}
	id := u[i+len(detailsMarker):]
	if j := strings.IndexByte(id, '/'); j >= 0 {
		id = id[:j]
	}
	if id == "" {
		return "", false
	}
	return id, true
}
