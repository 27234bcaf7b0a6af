package extractor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/zulu-cp/core/pkg/llmprovider"
)

// OnePassSummarizer mirrors the reference ResultExtractor: short results
// (under 2000 chars) pass through unchanged; longer ones are summarized
// in a single model call against the first 8000 characters.
type OnePassSummarizer struct {
	provider llmprovider.Provider
	model    string
	logger   *slog.Logger
}

// NewOnePassSummarizer constructs a one-pass summarizer bound to one
// provider/model pair.
func NewOnePassSummarizer(provider llmprovider.Provider, model string, logger *slog.Logger) *OnePassSummarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnePassSummarizer{provider: provider, model: model, logger: logger}
}

const shortResultThreshold = 2000

func (s *OnePassSummarizer) Summarize(ctx context.Context, result map[string]any, dependent DependentTask) (string, error) {
	if len(result) == 0 {
		return "", nil
	}

	resultStr := resultToString(result)
	if len(resultStr) < shortResultThreshold {
		return resultStr, nil
	}

	prompt := fmt.Sprintf(`Task result to extract from:
%s

Dependent task that needs this information:
Type: %s
Prompt: %s

Extract the most relevant information for the dependent task.`, truncate(resultStr, 8000), dependent.TaskType, dependent.Prompt)

	extracted, err := s.provider.Complete(ctx, []llmprovider.Message{{Role: "user", Content: prompt}}, s.model, llmprovider.CompletionOptions{
		System:      extractionSystemPrompt,
		Temperature: 0.1,
		MaxTokens:   1024,
	})
	if err != nil {
		s.logger.Error("result extraction failed", "error", err)
		return truncate(resultStr, shortResultThreshold), nil
	}
	return extracted, nil
}

var _ Summarizer = (*OnePassSummarizer)(nil)
