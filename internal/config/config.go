package config

import (
	"errors"
	"fmt"

	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/mitchellh/mapstructure"
)

// Tunables are the values an operator may change while the service runs.
type Tunables struct {
	ConversationHistoryLimit   int `mapstructure:"conversation_history_limit" json:"conversation_history_limit"`
	OutOfScopeWarningThreshold int `mapstructure:"out_of_scope_warning_threshold" json:"out_of_scope_warning_threshold"`
	OutOfScopeCutoffThreshold  int `mapstructure:"out_of_scope_cutoff_threshold" json:"out_of_scope_cutoff_threshold"`
	TotalSessionLimit          int `mapstructure:"total_session_limit" json:"total_session_limit"`
	MaxQueryLength             int `mapstructure:"max_query_length" json:"max_query_length"`
	MaxJobDescriptionLength    int `mapstructure:"max_job_description_length" json:"max_job_description_length"`
}

func DefaultTunables() Tunables {
	return Tunables{
		ConversationHistoryLimit:   20,
		OutOfScopeWarningThreshold: 5,
		OutOfScopeCutoffThreshold:  10,
		TotalSessionLimit:          50,
		MaxQueryLength:             500,
		MaxJobDescriptionLength:    5000,
	}
}

func (t Tunables) Validate() error {
	var errs []error
	positive := []struct {
		key   string
		value int
	}{
		{"conversation_history_limit", t.ConversationHistoryLimit},
		{"out_of_scope_warning_threshold", t.OutOfScopeWarningThreshold},
		{"out_of_scope_cutoff_threshold", t.OutOfScopeCutoffThreshold},
		{"total_session_limit", t.TotalSessionLimit},
		{"max_query_length", t.MaxQueryLength},
		{"max_job_description_length", t.MaxJobDescriptionLength},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", p.key, p.value))
		}
	}
	if t.OutOfScopeWarningThreshold > t.OutOfScopeCutoffThreshold {
		errs = append(errs, fmt.Errorf("out_of_scope_warning_threshold (%d) must not exceed out_of_scope_cutoff_threshold (%d)",
			t.OutOfScopeWarningThreshold, t.OutOfScopeCutoffThreshold))
	}
	return errors.Join(errs...)
}

func (t Tunables) Limits() domain.Limits {
	return domain.Limits{
		Warning: t.OutOfScopeWarningThreshold,
		Cutoff:  t.OutOfScopeCutoffThreshold,
		Total:   t.TotalSessionLimit,
	}
}

// Decode overlays settings on the defaults. Numbers given as strings or
// floats are accepted.
func Decode(settings map[string]any) (Tunables, error) {
	t := DefaultTunables()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &t,
	})
	if err != nil {
		return t, err
	}
	if err := decoder.Decode(settings); err != nil {
		return t, fmt.Errorf("decode tunables: %w", err)
	}
	return t, t.Validate()
}

// Snapshot is what one request sees: the persona text and the tunables in
// force when it arrived.
type Snapshot struct {
	Persona  string
	Tunables Tunables
}

func (s Snapshot) Limits() domain.Limits {
	return s.Tunables.Limits()
}
