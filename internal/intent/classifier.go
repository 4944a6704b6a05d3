package intent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	_ "embed"

	"github.com/EricBell/profile-gpt/internal/ai"
	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/EricBell/profile-gpt/internal/logger"
	"github.com/EricBell/profile-gpt/internal/usage"
	"github.com/EricBell/profile-gpt/internal/utils"
	"go.uber.org/zap"
)

//go:embed classify.md
var promptTemplate string

const (
	// ContextTurns is how much recent history the classifier sees.
	ContextTurns   = 4
	maxTokens      = 200
	temperature    = 0.2
	maxLogPreview  = 120
	noHistoryLabel = "(none)"
)

var cannedRefusals = []string{
	"I'd rather keep things focused on {{NAME}}'s professional background. Is there something about that work experience I can help with?",
	"That's outside what I can speak to. Ask me about {{NAME}}'s skills, projects or roles instead!",
	"I'm here to talk about {{NAME}}'s career. What would you like to know?",
	"Let's steer back to professional topics. I'm happy to discuss {{NAME}}'s technical background.",
	"I can only help with questions about {{NAME}}'s professional life. Try asking about a project {{NAME}} led.",
	"That one's not in my lane. I can tell you about {{NAME}}'s work history, skills or education.",
	"I'll pass on that, but I'd love to tell you how {{NAME}} might fit the role you're hiring for.",
}

// Verdict is the classifier's decision for one message.
type Verdict struct {
	Scope   domain.Scope
	Refusal string
	// Degraded is set when the model call or its parsing failed and the
	// message was let through.
	Degraded bool
}

type Classifier struct {
	model    ai.Model
	usage    usage.Recorder
	name     string
	override string
	logger   *zap.Logger

	next atomic.Uint64
}

// NewClassifier builds a classifier speaking for the persona called name.
// modelOverride selects a cheaper model for classification when set.
func NewClassifier(model ai.Model, recorder usage.Recorder, name, modelOverride string, log *zap.Logger) *Classifier {
	if recorder == nil {
		recorder = usage.Nop{}
	}
	return &Classifier{
		model:    model,
		usage:    recorder,
		name:     strings.TrimSpace(name),
		override: strings.TrimSpace(modelOverride),
		logger:   logger.WithCommonFields(log, model.Provider(), modelOverride),
	}
}

// Classify never fails: any model or parsing error yields an IN_SCOPE
// verdict marked Degraded so a legitimate question is never blocked.
func (c *Classifier) Classify(ctx context.Context, sessionID, message string, history []domain.Turn) Verdict {
	log := logger.WithSession(c.logger, sessionID)

	completion, err := c.model.Generate(ctx, ai.Request{
		Model:       c.override,
		Prompt:      c.buildPrompt(message, history),
		Temperature: temperature,
		MaxTokens:   maxTokens,
		JSON:        true,
	})
	if err != nil {
		c.usage.Record(ctx, usage.NewEvent(sessionID, domain.CallClassification, "", c.modelName(), nil, err))
		log.Warn("classifier unavailable, treating message as in scope", zap.Error(&domain.DependencyError{Op: "classification", Err: err}))
		return Verdict{Scope: domain.ScopeIn, Degraded: true}
	}

	verdict, err := parseVerdict(completion.Text)
	c.usage.Record(ctx, usage.NewEvent(sessionID, domain.CallClassification, verdict.Scope, c.modelName(), completion, nil))
	if err != nil {
		log.Warn("unparseable classifier response, treating message as in scope",
			zap.Error(err),
			zap.String("response_preview", utils.TruncateForLog(completion.Text, maxLogPreview)),
		)
		return verdict
	}

	if verdict.Scope == domain.ScopeOut && verdict.Refusal == "" {
		verdict.Refusal = c.cannedRefusal()
	}

	log.Debug("message classified", zap.String("scope", string(verdict.Scope)))
	return verdict
}

func (c *Classifier) buildPrompt(message string, history []domain.Turn) string {
	history = domain.TruncateHistory(history, ContextTurns)

	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, utils.TruncateForLog(turn.Content, 300))
	}
	recent := strings.TrimSpace(b.String())
	if recent == "" {
		recent = noHistoryLabel
	}

	prompt := strings.ReplaceAll(promptTemplate, "{{HISTORY}}", recent)
	prompt = strings.ReplaceAll(prompt, "{{MESSAGE}}", message)
	return strings.ReplaceAll(prompt, "{{NAME}}", c.personaName())
}

func (c *Classifier) cannedRefusal() string {
	i := c.next.Add(1) - 1
	return strings.ReplaceAll(cannedRefusals[i%uint64(len(cannedRefusals))], "{{NAME}}", c.personaName())
}

func (c *Classifier) personaName() string {
	if c.name == "" {
		return "the candidate"
	}
	return c.name
}

func (c *Classifier) modelName() string {
	if c.override != "" {
		return c.override
	}
	return c.model.DefaultModel()
}

// parseVerdict reads the JSON answer, falls back to scanning for the scope
// keywords, and otherwise fails open.
func parseVerdict(raw string) (Verdict, error) {
	if data, err := ai.DecodeObject(raw); err == nil {
		if scope, ok := scopeOf(ai.CoerceString(data["scope"])); ok {
			v := Verdict{Scope: scope}
			if scope == domain.ScopeOut {
				v.Refusal = ai.CoerceString(data["refusal"])
			}
			return v, nil
		}
	}

	if scope, ok := scopeOf(raw); ok {
		return Verdict{Scope: scope}, nil
	}

	return Verdict{Scope: domain.ScopeIn, Degraded: true}, fmt.Errorf("no scope verdict in classifier response")
}

func scopeOf(text string) (domain.Scope, bool) {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(upper, "OUT_OF_SCOPE"), strings.Contains(upper, "OUT OF SCOPE"), strings.Contains(upper, "OUT SCOPE"):
		return domain.ScopeOut, true
	case strings.Contains(upper, "IN_SCOPE"), strings.Contains(upper, "IN SCOPE"):
		return domain.ScopeIn, true
	default:
		return "", false
	}
}
