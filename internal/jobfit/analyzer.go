package jobfit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/EricBell/profile-gpt/internal/ai"
	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/EricBell/profile-gpt/internal/logger"
	"github.com/EricBell/profile-gpt/internal/usage"
	"github.com/EricBell/profile-gpt/internal/utils"
	"go.uber.org/zap"
)

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	maxTokens           = 1000
	temperature         = 0.3
)

// ErrAnalysisFailed marks a model reply that could not be turned into a complete result.
var ErrAnalysisFailed = errors.New("analysis failed")

// Result is the structured fit assessment. All scores are within 0..100.
type Result struct {
	OverallScore    int      `json:"overall_score"`
	SkillsMatch     int      `json:"skills_match"`
	ExperienceMatch int      `json:"experience_match"`
	RoleFit         int      `json:"role_fit"`
	Summary         string   `json:"summary"`
	Recommendation  string   `json:"recommendation"`
	Strengths       []string `json:"strengths"`
	Gaps            []string `json:"gaps"`
}

type Analyzer struct {
	model     ai.Model
	usage     usage.Recorder
	logger    *zap.Logger
	maxLogLen int
}

func NewAnalyzer(model ai.Model, recorder usage.Recorder, log *zap.Logger, maxLogLength int) *Analyzer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if recorder == nil {
		recorder = usage.Nop{}
	}

	return &Analyzer{
		model:     model,
		usage:     recorder,
		logger:    logger.WithCommonFields(log, model.Provider(), model.DefaultModel()),
		maxLogLen: maxLogLength,
	}
}

// Analyze scores jobDescription against the persona. Descriptions longer
// than maxLength runes are rejected before the model is called.
func (a *Analyzer) Analyze(ctx context.Context, sessionID, jobDescription, persona string, maxLength int) (*Result, error) {
	description := strings.TrimSpace(jobDescription)
	if description == "" {
		return nil, fmt.Errorf("job description: %w", domain.ErrEmptyInput)
	}
	if n := utf8.RuneCountInString(description); maxLength > 0 && n > maxLength {
		return nil, &domain.InputTooLongError{Field: "job description", Max: maxLength, Got: n}
	}

	description = ai.Sanitize(description)
	if description == "" {
		return nil, fmt.Errorf("job description: %w", domain.ErrEmptyInput)
	}

	prompt := buildPrompt(persona, description)
	log := logger.WithSession(a.logger, sessionID)

	log.Debug("job fit request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(description, a.maxLogLen)),
	)

	completion, err := a.model.Generate(ctx, ai.Request{
		Prompt:      prompt,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		JSON:        true,
	})
	a.usage.Record(ctx, usage.NewEvent(sessionID, domain.CallJobVetting, "", a.model.DefaultModel(), completion, err))
	if err != nil {
		log.Error("job fit model call failed", zap.Error(err))
		return nil, &domain.DependencyError{Op: "job fit analysis", Err: err}
	}

	log.Debug("job fit response",
		zap.Int("response_length", utf8.RuneCountInString(completion.Text)),
		zap.String("response_preview", utils.TruncateForLog(completion.Text, a.maxLogLen)),
	)

	result, err := parseResponse(completion.Text)
	if err != nil {
		log.Error("job fit response rejected", zap.Error(err))
		return nil, &domain.DependencyError{Op: "job fit analysis", Err: err}
	}

	return result, nil
}

func buildPrompt(persona, description string) string {
	prompt := strings.ReplaceAll(promptTemplate, "{{PERSONA}}", strings.TrimSpace(persona))
	return strings.ReplaceAll(prompt, "{{JOB_DESCRIPTION}}", description)
}

func parseResponse(raw string) (*Result, error) {
	data, err := ai.DecodeObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}

	scores := make(map[string]int, 4)
	for _, key := range []string{"overall_score", "skills_match", "experience_match", "role_fit"} {
		v := ai.CoerceFloat(data[key])
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: missing or invalid %s", ErrAnalysisFailed, key)
		}
		scores[key] = clamp(v)
	}

	result := &Result{
		OverallScore:    scores["overall_score"],
		SkillsMatch:     scores["skills_match"],
		ExperienceMatch: scores["experience_match"],
		RoleFit:         scores["role_fit"],
		Summary:         ai.CoerceString(data["summary"]),
		Recommendation:  ai.CoerceString(data["recommendation"]),
		Strengths:       ai.CoerceStrings(data["strengths"]),
		Gaps:            ai.CoerceStrings(data["gaps"]),
	}
	if result.Summary == "" {
		return nil, fmt.Errorf("%w: missing summary", ErrAnalysisFailed)
	}

	return result, nil
}

func clamp(v float64) int {
	n := int(math.Round(v))
	switch {
	case n < 0:
		return 0
	case n > 100:
		return 100
	default:
		return n
	}
}
