package querylog

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Filter is one step narrowing a set of log entries.
type Filter interface {
	Name() string
	Apply(entries []Entry) ([]Entry, Step)
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Run applies the filters in order and logs what each one dropped.
func Run(steps []Filter, entries []Entry, log *zap.Logger) []Entry {
	for _, step := range steps {
		next, info := step.Apply(entries)
		if log != nil {
			log.Debug("filter step",
				zap.String("name", step.Name()),
				zap.Int("initial", info.Initial),
				zap.Int("dropped", info.Dropped),
				zap.Int("left", info.Left),
			)
		}
		entries = next
	}
	return entries
}

func keep(entries []Entry, ok func(Entry) bool) ([]Entry, Step) {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if ok(e) {
			out = append(out, e)
		}
	}
	return out, Step{Initial: len(entries), Dropped: len(entries) - len(out), Left: len(out)}
}

type SessionFilter struct {
	SessionID string
}

func (f SessionFilter) Name() string { return "session" }

func (f SessionFilter) Apply(entries []Entry) ([]Entry, Step) {
	if f.SessionID == "" {
		return keep(entries, func(Entry) bool { return true })
	}
	return keep(entries, func(e Entry) bool { return e.SessionID == f.SessionID })
}

// FilteredMode selects entries by whether they were answered without the model.
type FilteredMode string

const (
	FilteredAll   FilteredMode = "all"
	FilteredOnly  FilteredMode = "true"
	FilteredNever FilteredMode = "false"
)

func ParseFilteredMode(value string) (FilteredMode, error) {
	switch mode := FilteredMode(strings.ToLower(strings.TrimSpace(value))); mode {
	case "", FilteredAll:
		return FilteredAll, nil
	case FilteredOnly, FilteredNever:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid filtered value %q: use all, true or false", value)
	}
}

type StatusFilter struct {
	Mode FilteredMode
}

func (f StatusFilter) Name() string { return "filtered" }

func (f StatusFilter) Apply(entries []Entry) ([]Entry, Step) {
	switch f.Mode {
	case FilteredOnly:
		return keep(entries, func(e Entry) bool { return e.FilteredPreLLM })
	case FilteredNever:
		return keep(entries, func(e Entry) bool { return !e.FilteredPreLLM })
	default:
		return keep(entries, func(Entry) bool { return true })
	}
}
