package querylog

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/EricBell/profile-gpt/internal/ndjson"
	"go.uber.org/zap"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

// Query selects a page of the dataset. From and To are days, both inclusive.
type Query struct {
	From      time.Time
	To        time.Time
	SessionID string
	Filtered  FilteredMode
	Limit     int
	Offset    int
}

type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
	HasMore bool    `json:"has_more"`
	Skipped int     `json:"skipped_lines,omitempty"`
}

// Load reads every entry in the daily files between from and to.
func Load(dir string, from, to time.Time) ([]Entry, int, error) {
	files, err := ndjson.Files(dir, FileSuffix, from, to)
	if err != nil {
		return nil, 0, fmt.Errorf("listing query logs: %w", err)
	}

	var (
		entries []Entry
		skipped int
	)
	for _, path := range files {
		n, err := ndjson.ReadFile(path, func(line []byte) error {
			var e Entry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
		skipped += n
		if err != nil {
			return nil, skipped, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	return entries, skipped, nil
}

// Dataset loads, filters and pages entries newest first.
func Dataset(dir string, q Query, log *zap.Logger) (*Page, error) {
	q.Limit = clampLimit(q.Limit)
	if q.Offset < 0 {
		q.Offset = 0
	}

	entries, skipped, err := Load(dir, q.From, q.To)
	if err != nil {
		return nil, err
	}

	entries = Run([]Filter{
		SessionFilter{SessionID: q.SessionID},
		StatusFilter{Mode: q.Filtered},
	}, entries, log)

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})

	page := &Page{
		Entries: []Entry{},
		Total:   len(entries),
		Limit:   q.Limit,
		Offset:  q.Offset,
		Skipped: skipped,
	}
	if q.Offset < len(entries) {
		end := min(q.Offset+q.Limit, len(entries))
		page.Entries = entries[q.Offset:end]
	}
	page.HasMore = q.Offset+q.Limit < page.Total
	return page, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
