// Package querylog records every handled chat message to daily
// YYMMDD-Queries.ndjson files and reads them back for the admin dataset and
// the analyze report.
package querylog

import (
	"context"
	"time"

	"github.com/EricBell/profile-gpt/internal/logger"
	"github.com/EricBell/profile-gpt/internal/ndjson"
	"go.uber.org/zap"
)

const FileSuffix = "Queries"

// Categories recorded for messages answered without the persona model.
const (
	CategoryOutOfScope   = "OUT_OF_SCOPE"
	CategoryResetRequest = "reset_request"
	CategoryResetPending = "reset_pending"
	CategorySessionLimit = "session_limit"
	CategoryScopeLimit   = "out_of_scope_limit"
)

type Entry struct {
	SessionID      string    `json:"session_id"`
	Timestamp      time.Time `json:"timestamp"`
	Query          string    `json:"query"`
	Response       string    `json:"response"`
	FilteredPreLLM bool      `json:"filtered_pre_llm"`
	FilterCategory string    `json:"filter_category,omitempty"`
}

type Recorder interface {
	Log(ctx context.Context, e Entry)
}

// Log appends entries to the daily file. Failures are logged and dropped.
type Log struct {
	writer *ndjson.DailyWriter
	logger *zap.Logger
}

var _ Recorder = (*Log)(nil)

func New(dir string, log *zap.Logger) (*Log, error) {
	w, err := ndjson.NewDailyWriter(dir, FileSuffix)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{writer: w, logger: log.With(zap.String("component", "querylog"))}, nil
}

func (l *Log) Log(_ context.Context, e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if err := l.writer.Append(e); err != nil {
		l.logger.Error("writing query log entry", zap.Error(err), zap.String(logger.FieldSession, e.SessionID))
	}
}

// Nop discards entries.
type Nop struct{}

func (Nop) Log(context.Context, Entry) {}
