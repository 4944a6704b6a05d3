package usage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/EricBell/profile-gpt/internal/ndjson"
)

// Filter narrows a usage report. Zero values match everything.
type Filter struct {
	From      time.Time
	To        time.Time
	SessionID string
}

// Bucket aggregates calls of one kind.
type Bucket struct {
	Calls        int     `json:"calls"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"estimated_cost"`
}

func (b *Bucket) add(e domain.UsageEvent) {
	b.Calls++
	b.InputTokens += e.InputTokens
	b.OutputTokens += e.OutputTokens
	b.Cost += e.EstimatedCost
}

type SessionCost struct {
	SessionID string  `json:"session_id"`
	Calls     int     `json:"calls"`
	Cost      float64 `json:"estimated_cost"`
}

type Summary struct {
	Total          Bucket                     `json:"total"`
	Failed         int                        `json:"failed_calls"`
	ByCallType     map[domain.CallType]Bucket `json:"by_call_type"`
	ByModel        map[string]Bucket          `json:"by_model"`
	UniqueSessions int                        `json:"unique_sessions"`
	TopSessions    []SessionCost              `json:"top_sessions"`
	SkippedLines   int                        `json:"skipped_lines,omitempty"`
}

// Load reads usage events from the daily files in dir.
func Load(dir string, f Filter) ([]domain.UsageEvent, int, error) {
	files, err := ndjson.Files(dir, FileSuffix, f.From, f.To)
	if err != nil {
		return nil, 0, fmt.Errorf("list usage files: %w", err)
	}

	var (
		events  []domain.UsageEvent
		skipped int
	)
	for _, path := range files {
		n, err := ndjson.ReadFile(path, func(line []byte) error {
			var e domain.UsageEvent
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			if f.SessionID != "" && e.SessionID != f.SessionID {
				return nil
			}
			events = append(events, e)
			return nil
		})
		if err != nil {
			return nil, skipped, fmt.Errorf("read %s: %w", path, err)
		}
		skipped += n
	}

	return events, skipped, nil
}

// Summarize totals events per call type, model and session. topN bounds the
// session ranking; zero keeps ten.
func Summarize(events []domain.UsageEvent, topN int) Summary {
	if topN <= 0 {
		topN = 10
	}

	s := Summary{
		ByCallType: make(map[domain.CallType]Bucket),
		ByModel:    make(map[string]Bucket),
	}
	sessions := make(map[string]*SessionCost)

	for _, e := range events {
		s.Total.add(e)
		if e.Outcome == domain.OutcomeError {
			s.Failed++
		}

		ct := s.ByCallType[e.CallType]
		ct.add(e)
		s.ByCallType[e.CallType] = ct

		m := s.ByModel[e.Model]
		m.add(e)
		s.ByModel[e.Model] = m

		if e.SessionID == "" {
			continue
		}
		sc, ok := sessions[e.SessionID]
		if !ok {
			sc = &SessionCost{SessionID: e.SessionID}
			sessions[e.SessionID] = sc
		}
		sc.Calls++
		sc.Cost += e.EstimatedCost
	}

	s.UniqueSessions = len(sessions)
	for _, sc := range sessions {
		s.TopSessions = append(s.TopSessions, *sc)
	}
	sort.Slice(s.TopSessions, func(i, j int) bool {
		if s.TopSessions[i].Cost != s.TopSessions[j].Cost {
			return s.TopSessions[i].Cost > s.TopSessions[j].Cost
		}
		return s.TopSessions[i].SessionID < s.TopSessions[j].SessionID
	})
	if len(s.TopSessions) > topN {
		s.TopSessions = s.TopSessions[:topN]
	}

	return s
}
