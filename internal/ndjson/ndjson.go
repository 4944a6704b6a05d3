// Package ndjson appends records to daily newline-delimited JSON files named
// YYMMDD-<Suffix>.ndjson and reads them back by date range.
package ndjson

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const DayLayout = "060102"

// DailyWriter appends one JSON document per line to the file for the current day.
type DailyWriter struct {
	dir    string
	suffix string
	now    func() time.Time

	mu sync.Mutex
}

func NewDailyWriter(dir, suffix string) (*DailyWriter, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("log directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &DailyWriter{dir: dir, suffix: suffix, now: time.Now}, nil
}

// WithClock replaces the clock used to pick the current day's file.
func (w *DailyWriter) WithClock(now func() time.Time) *DailyWriter {
	w.now = now
	return w
}

// Path returns the file a record written at t lands in.
func (w *DailyWriter) Path(t time.Time) string {
	return filepath.Join(w.dir, FileName(t, w.suffix))
}

func (w *DailyWriter) Append(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.OpenFile(w.Path(w.now()), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

func FileName(t time.Time, suffix string) string {
	return t.Format(DayLayout) + "-" + suffix + ".ndjson"
}

// Files lists the daily files for suffix whose day falls in [from, to],
// oldest first. Zero bounds are open.
func Files(dir, suffix string, from, to time.Time) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "??????-"+suffix+".ndjson"))
	if err != nil {
		return nil, err
	}

	var files []string
	for _, path := range matches {
		day, err := time.ParseInLocation(DayLayout, strings.SplitN(filepath.Base(path), "-", 2)[0], time.Local)
		if err != nil {
			continue
		}
		if !from.IsZero() && day.Before(truncateDay(from)) {
			continue
		}
		if !to.IsZero() && day.After(truncateDay(to)) {
			continue
		}
		files = append(files, path)
	}

	sort.Strings(files)
	return files, nil
}

// ReadFile decodes every line of path with decode. Malformed lines are
// skipped and counted.
func ReadFile(path string, decode func([]byte) error) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := decode([]byte(line)); err != nil {
			skipped++
		}
	}
	return skipped, scanner.Err()
}

// ParseDay accepts YYMMDD, YYYY-MM-DD, "today" and "yesterday".
func ParseDay(value string, now time.Time) (time.Time, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "today":
		return truncateDay(now), nil
	case "yesterday":
		return truncateDay(now).AddDate(0, 0, -1), nil
	}

	for _, layout := range []string{DayLayout, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q: use YYMMDD, YYYY-MM-DD, today or yesterday", value)
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}
