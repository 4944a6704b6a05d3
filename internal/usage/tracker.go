package usage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/EricBell/profile-gpt/internal/ai"
	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/EricBell/profile-gpt/internal/logger"
	"github.com/EricBell/profile-gpt/internal/ndjson"
	"go.uber.org/zap"
)

const FileSuffix = "Usage"

// Recorder accepts one event per model call. Implementations must not block
// the request path on sink failures.
type Recorder interface {
	Record(ctx context.Context, event domain.UsageEvent)
}

// Price is the USD cost per million tokens.
type Price struct {
	InputPerMillion  float64 `mapstructure:"input-per-million" json:"input_per_million"`
	OutputPerMillion float64 `mapstructure:"output-per-million" json:"output_per_million"`
}

// DefaultPricing covers the models the service ships with.
var DefaultPricing = map[string]Price{
	"gemini-2.5-flash":      {InputPerMillion: 0.30, OutputPerMillion: 2.50},
	"gemini-2.5-flash-lite": {InputPerMillion: 0.10, OutputPerMillion: 0.40},
	"gemini-2.5-pro":        {InputPerMillion: 1.25, OutputPerMillion: 10.00},
}

type sink interface {
	Append(v any) error
}

// Tracker prices usage events and appends them to the daily usage file.
type Tracker struct {
	sink    sink
	pricing map[string]Price
	logger  *zap.Logger
	now     func() time.Time
}

var _ Recorder = (*Tracker)(nil)

// NewTracker writes events under dir. Pricing entries override DefaultPricing.
func NewTracker(dir string, pricing map[string]Price, log *zap.Logger) (*Tracker, error) {
	writer, err := ndjson.NewDailyWriter(dir, FileSuffix)
	if err != nil {
		return nil, fmt.Errorf("usage log: %w", err)
	}
	return newTracker(writer, pricing, log), nil
}

func newTracker(s sink, pricing map[string]Price, log *zap.Logger) *Tracker {
	merged := make(map[string]Price, len(DefaultPricing)+len(pricing))
	for model, price := range DefaultPricing {
		merged[model] = price
	}
	for model, price := range pricing {
		merged[strings.ToLower(model)] = price
	}

	return &Tracker{
		sink:    s,
		pricing: merged,
		logger:  logger.WithFields(log, zap.String("component", "usage")),
		now:     time.Now,
	}
}

func (t *Tracker) Record(_ context.Context, event domain.UsageEvent) {
	if !event.CallType.Valid() {
		t.logger.Error("dropping usage event with unknown call type", zap.String(logger.FieldCallType, string(event.CallType)))
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.now().UTC()
	}
	if event.TotalTokens == 0 {
		event.TotalTokens = event.InputTokens + event.OutputTokens
	}
	event.EstimatedCost = t.Cost(event.Model, event.InputTokens, event.OutputTokens)

	t.logger.Info("model call", logger.UsageFields(event)...)

	if err := t.sink.Append(event); err != nil {
		t.logger.Error("writing usage event", zap.Error(err), zap.String(logger.FieldSession, event.SessionID))
	}
}

// Cost estimates the USD cost of a call. Versioned model names such as
// "gemini-2.5-flash-001" fall back to the longest matching price prefix.
func (t *Tracker) Cost(model string, input, output int) float64 {
	price, ok := t.price(model)
	if !ok {
		return 0
	}
	return float64(input)/1e6*price.InputPerMillion + float64(output)/1e6*price.OutputPerMillion
}

func (t *Tracker) price(model string) (Price, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	model = strings.TrimPrefix(model, "models/")
	if price, ok := t.pricing[model]; ok {
		return price, true
	}

	best := ""
	for name := range t.pricing {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best == "" {
		return Price{}, false
	}
	return t.pricing[best], true
}

// NewEvent builds the event for one model call. A nil completion records
// the call as failed with zero tokens.
func NewEvent(sessionID string, callType domain.CallType, scope domain.Scope, model string, completion *ai.Completion, err error) domain.UsageEvent {
	event := domain.UsageEvent{
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		CallType:  callType,
		Scope:     scope,
		Model:     model,
		Outcome:   domain.OutcomeOK,
	}
	if err != nil || completion == nil {
		event.Outcome = domain.OutcomeError
		return event
	}

	if completion.Model != "" {
		event.Model = completion.Model
	}
	event.InputTokens = completion.Usage.InputTokens
	event.OutputTokens = completion.Usage.OutputTokens
	event.TotalTokens = completion.Usage.TotalTokens
	return event
}

// Nop discards events.
type Nop struct{}

func (Nop) Record(context.Context, domain.UsageEvent) {}
