package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/EricBell/profile-gpt/internal/ai"
	"github.com/EricBell/profile-gpt/internal/domain"
	"github.com/EricBell/profile-gpt/internal/logger"
	"github.com/EricBell/profile-gpt/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	provider             = "gemini"
	defaultModel         = "gemini-2.5-flash"
	defaultTimeout       = 30 * time.Second
	defaultMaxLogLength  = 200
	emptyResponseMessage = "gemini api returned empty response"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Options tune a Generator. Zero values fall back to defaults.
type Options struct {
	Model        string
	Timeout      time.Duration
	MaxLogLength int
}

// Generator wraps the Google GenAI client and reports token usage for every call.
// Failed calls are returned to the caller as is and never retried.
type Generator struct {
	models    contentGenerator
	modelName string
	timeout   time.Duration
	maxLogLen int
	logger    *zap.Logger
}

var _ ai.Model = (*Generator)(nil)

// NewGenerator creates a new Generator configured for the Gemini API backend.
func NewGenerator(ctx context.Context, apiKey string, opts Options, log *zap.Logger) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newGenerator(client.Models, opts, log), nil
}

func newGenerator(models contentGenerator, opts Options, log *zap.Logger) *Generator {
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxLogLength <= 0 {
		opts.MaxLogLength = defaultMaxLogLength
	}

	return &Generator{
		models:    models,
		modelName: model,
		timeout:   opts.Timeout,
		maxLogLen: opts.MaxLogLength,
		logger:    logger.WithCommonFields(log, provider, model),
	}
}

func (g *Generator) Provider() string {
	return provider
}

func (g *Generator) DefaultModel() string {
	if g == nil {
		return ""
	}
	return g.modelName
}

// Generate sends the conversation to Gemini and returns the joined text of
// all candidate parts together with the reported token usage.
func (g *Generator) Generate(ctx context.Context, req ai.Request) (*ai.Completion, error) {
	if g == nil || g.models == nil {
		return nil, errors.New("gemini generator is not initialized")
	}

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("prompt must not be empty")
	}

	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = g.modelName
	}

	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		contents = append(contents, textContent(turn.Role, turn.Content))
	}
	contents = append(contents, textContent(domain.RoleUser, prompt))

	g.logger.Debug("gemini generate content request",
		zap.String(logger.FieldModel, model),
		zap.Int("history_turns", len(req.History)),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, g.maxLogLen)),
	)

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.models.GenerateContent(callCtx, model, contents, buildConfig(req))
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			g.logger.Debug("gemini api error", zap.Int("code", apiErr.Code), zap.String("status", apiErr.Status))
		}
		return nil, fmt.Errorf("generate content: %w", err)
	}

	output := joinCandidates(resp)
	if output == "" {
		return nil, errors.New(emptyResponseMessage)
	}

	completion := &ai.Completion{
		Text:  output,
		Model: model,
		Usage: usageOf(resp),
	}
	if v := strings.TrimSpace(resp.ModelVersion); v != "" {
		completion.Model = v
	}

	g.logger.Debug("gemini generate content response",
		zap.Int("response_length", utf8.RuneCountInString(output)),
		zap.String("response_preview", utils.TruncateForLog(output, g.maxLogLen)),
		zap.Int("input_tokens", completion.Usage.InputTokens),
		zap.Int("output_tokens", completion.Usage.OutputTokens),
	)

	return completion, nil
}

func buildConfig(req ai.Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if system := strings.TrimSpace(req.System); system != "" {
		cfg.SystemInstruction = &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if req.Temperature > 0 {
		temperature := req.Temperature
		cfg.Temperature = &temperature
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

func textContent(role domain.Role, text string) *genai.Content {
	content := &genai.Content{
		Role:  genai.RoleUser,
		Parts: []*genai.Part{{Text: text}},
	}
	if role == domain.RoleAssistant {
		content.Role = genai.RoleModel
	}
	return content
}

func joinCandidates(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	return strings.TrimSpace(builder.String())
}

func usageOf(resp *genai.GenerateContentResponse) ai.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return ai.Usage{}
	}

	meta := resp.UsageMetadata
	usage := ai.Usage{
		InputTokens:  int(meta.PromptTokenCount),
		OutputTokens: int(meta.CandidatesTokenCount),
		TotalTokens:  int(meta.TotalTokenCount),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}
	return usage
}
