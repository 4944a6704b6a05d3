package ai

import (
	"context"

	"github.com/EricBell/profile-gpt/internal/domain"
)

// Request is a single provider-neutral model call.
type Request struct {
	// Model overrides the generator's default model when set.
	Model       string
	System      string
	History     []domain.Turn
	Prompt      string
	Temperature float32
	MaxTokens   int
	// JSON asks the provider for a JSON-only response.
	JSON bool
}

// Usage holds the token counts reported by the provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type Completion struct {
	Text  string
	Model string
	Usage Usage
}

// Model is the boundary every classifier, persona and job-fit call goes through.
type Model interface {
	Generate(ctx context.Context, req Request) (*Completion, error)
	Provider() string
	DefaultModel() string
}
