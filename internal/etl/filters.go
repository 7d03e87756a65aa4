package etl

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BartekS5/archive-ingest/internal/metrics"
	"github.com/BartekS5/archive-ingest/internal/store"
	"github.com/BartekS5/archive-ingest/pkg/logger"
	"github.com/BartekS5/archive-ingest/pkg/models"
	"github.com/BartekS5/archive-ingest/pkg/utils"
)

const (
	DefaultMinCount = 1000
	maxSubjectName  = 500
	minYear         = 1000
	maxYear         = 9999
)

// FilterFiles maps each lookup table to its JSON file name.
var FilterFiles = map[models.LookupKind]string{
	models.LookupLanguages: "languages.json",
	models.LookupSubjects:  "subjects.json",
	models.LookupYears:     "years.json",
}

var leadingYear = regexp.MustCompile(`^(\d{4})`)

// FilterCounts accumulates value frequencies across NDJSON files.
type FilterCounts struct {
	Languages map[string]int
	Subjects  map[string]int
	Years     map[int]int
	Lines     int
}

func NewFilterCounts() *FilterCounts {
	return &FilterCounts{
		Languages: make(map[string]int),
		Subjects:  make(map[string]int),
		Years:     make(map[int]int),
	}
}

// Add counts the language, each subject entry and the publication year of
// one decoded record. Sentinel and empty values are ignored.
func (c *FilterCounts) Add(rec map[string]interface{}) {
	c.Lines++
	if v := rec["language"]; !utils.IsSentinel(v) {
		if lang := strings.TrimSpace(utils.Stringify(v)); lang != "" {
			c.Languages[lang]++
		}
	}
	for _, s := range utils.NormalizeSubject(rec["subject"]) {
		if s == nil {
			continue
		}
		name := utils.Stringify(s)
		if name == "" || name == utils.Sentinel {
			continue
		}
		c.Subjects[name]++
	}
	if year, ok := publicationYear(rec["publicdate"]); ok {
		c.Years[year]++
	}
}

func publicationYear(v interface{}) (int, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if m := leadingYear.FindString(s); m != "" {
		return int(utils.IntOrZero(m)), true
	}
	if t := utils.ParsePublicDate(s); t != nil {
		return t.Year(), true
	}
	return 0, false
}

// LanguageList returns languages seen at least min times, sorted.
func (c *FilterCounts) LanguageList(min int) []string { return frequent(c.Languages, min) }

// SubjectList returns subjects seen at least min times, sorted.
func (c *FilterCounts) SubjectList(min int) []string { return frequent(c.Subjects, min) }

// YearList returns years seen at least min times, newest first.
func (c *FilterCounts) YearList(min int) []int {
	years := make([]int, 0)
	for y, n := range c.Years {
		if n >= min {
			years = append(years, y)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years
}

func frequent(counts map[string]int, min int) []string {
	out := make([]string, 0)
	for v, n := range counts {
		if n >= min {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// CollectFilters streams every input file and counts filter values. Lines
// that are not JSON objects are ignored.
func CollectFilters(ctx context.Context, paths []string) (*FilterCounts, error) {
	files, err := CollectFiles(paths)
	if err != nil {
		return nil, err
	}
	counts := NewFilterCounts()
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return counts, err
		}
		if err := collectFile(ctx, path, counts); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Warn("Missing: %s", path)
				continue
			}
			return counts, err
		}
	}
	return counts, nil
}

func collectFile(ctx context.Context, path string, counts *FilterCounts) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	logger.Info("Counting filter values in %s", path)
	br := bufio.NewReaderSize(f, 64*1024)
	lines := 0
	for {
		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			lines++
			if lines%50000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
				logger.Info("   %s: line %d", filepath.Base(path), lines)
			}
			if v, err := utils.DecodeJSON(line); err == nil {
				if rec, ok := v.(map[string]interface{}); ok {
					counts.Add(rec)
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return fmt.Errorf("read %s: %w", path, readErr)
		}
	}
	logger.Info("Finished %s (%d lines)", filepath.Base(path), lines)
	return nil
}

// WriteFilterFiles writes the three filter arrays into dir, each replaced
// atomically.
func WriteFilterFiles(dir string, counts *FilterCounts, min int) error {
	lists := map[models.LookupKind]interface{}{
		models.LookupLanguages: counts.LanguageList(min),
		models.LookupSubjects:  counts.SubjectList(min),
		models.LookupYears:     counts.YearList(min),
	}
	for kind, values := range lists {
		data, err := json.MarshalIndent(values, "", "  ")
		if err != nil {
			return err
		}
		path := filepath.Join(dir, FilterFiles[kind])
		if err := writeFileAtomic(path, data); err != nil {
			return err
		}
		logger.Info("Wrote %s", path)
	}
	return nil
}

// LookupResult reports one filter table load.
type LookupResult struct {
	Kind       models.LookupKind
	Candidates int
	Inserted   int64
	Missing    bool
}

// Duplicates is the number of candidate values already present.
func (r LookupResult) Duplicates() int64 { return int64(r.Candidates) - r.Inserted }

// LoadFilters inserts the filter arrays found in dir into their lookup
// tables, committing after each table. Missing files are skipped; a file that
// is not a JSON array is an error for that table only.
func LoadFilters(ctx context.Context, s store.Session, dir string) ([]LookupResult, error) {
	var results []LookupResult
	var errs []error
	for _, kind := range []models.LookupKind{models.LookupLanguages, models.LookupSubjects, models.LookupYears} {
		res, err := loadLookup(ctx, s, kind, filepath.Join(dir, FilterFiles[kind]))
		if err != nil {
			if rbErr := s.Rollback(ctx); rbErr != nil {
				logger.Error("Rollback after %s failure: %v", kind, rbErr)
			}
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func loadLookup(ctx context.Context, s store.Session, kind models.LookupKind, path string) (LookupResult, error) {
	res := LookupResult{Kind: kind}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("%s file not found: %s", kind, path)
		res.Missing = true
		return res, nil
	}
	if err != nil {
		return res, err
	}

	raw, err := utils.DecodeJSON(data)
	if err != nil {
		return res, fmt.Errorf("parse %s: %w", path, err)
	}
	list, ok := raw.([]interface{})
	if !ok {
		return res, fmt.Errorf("invalid JSON format in %s: expected array", path)
	}

	values := LookupValues(kind, list)
	res.Candidates = len(values)
	logger.Info("Processing %d %s from %s", len(values), kind, filepath.Base(path))
	if len(values) == 0 {
		return res, nil
	}

	inserted, err := s.InsertLookup(ctx, kind, values)
	if err != nil {
		return res, err
	}
	if err := s.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	res.Inserted = inserted
	metrics.LookupRows.WithLabelValues(string(kind), "inserted").Add(float64(inserted))
	metrics.LookupRows.WithLabelValues(string(kind), "duplicate").Add(float64(res.Duplicates()))
	logger.Info("Inserted %d %s, skipped %d duplicates", inserted, kind, res.Duplicates())
	return res, nil
}

// LookupValues cleans a raw filter array for its table: empty entries are
// dropped, subjects are trimmed and cut to 500 characters, and years must be
// integers between 1000 and 9999.
func LookupValues(kind models.LookupKind, list []interface{}) []interface{} {
	out := make([]interface{}, 0, len(list))
	for _, v := range list {
		if !utils.IsTruthy(v) {
			continue
		}
		switch kind {
		case models.LookupYears:
			y, err := utils.ConvertToInt(v)
			if err != nil || y < minYear || y > maxYear {
				continue
			}
			out = append(out, y)
		case models.LookupSubjects:
			s := strings.TrimSpace(utils.Stringify(v))
			if s == "" {
				continue
			}
			out = append(out, utils.Truncate(s, maxSubjectName))
		default:
			s := utils.Stringify(v)
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
	}
	return out
}
