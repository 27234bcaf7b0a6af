package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zulu-cp/core/pkg/llmprovider"
)

// HierarchicalSummarizer handles results too large for a single-pass
// extraction: it splits the result into fixed-size chunks, summarizes
// each chunk independently (retrying transient failures), then combines
// the chunk summaries into one final summary. Short results skip chunking
// entirely, same as OnePassSummarizer.
type HierarchicalSummarizer struct {
	provider   llmprovider.Provider
	model      string
	chunkLen   int
	maxRetries int
	logger     *slog.Logger
}

// NewHierarchicalSummarizer constructs a chunk-and-combine summarizer.
// A non-positive chunkLen falls back to 4000 and a non-positive maxRetries
// to 2; callers typically source both from planner.Config.
func NewHierarchicalSummarizer(provider llmprovider.Provider, model string, chunkLen, maxRetries int, logger *slog.Logger) *HierarchicalSummarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if chunkLen <= 0 {
		chunkLen = 4000
	}
	if maxRetries <= 0 {
		maxRetries = 2
	}
	return &HierarchicalSummarizer{provider: provider, model: model, chunkLen: chunkLen, maxRetries: maxRetries, logger: logger}
}

func (s *HierarchicalSummarizer) Summarize(ctx context.Context, result map[string]any, dependent DependentTask) (string, error) {
	if len(result) == 0 {
		return "", nil
	}

	resultStr := resultToString(result)
	if len(resultStr) < shortResultThreshold {
		return resultStr, nil
	}

	chunks := chunkString(resultStr, s.chunkLen)
	chunkSummaries := make([]string, len(chunks))
	for i, chunk := range chunks {
		summary, err := s.summarizeChunkWithRetry(ctx, chunk, i, len(chunks))
		if err != nil {
			s.logger.Error("chunk summarization failed after retries", "chunk", i, "error", err)
			summary = truncate(chunk, 500)
		}
		chunkSummaries[i] = summary
	}

	combined := strings.Join(chunkSummaries, "\n\n")
	if len(combined) < shortResultThreshold {
		return combined, nil
	}

	final, err := s.finalize(ctx, combined, dependent)
	if err != nil {
		s.logger.Error("hierarchical final synthesis failed", "error", err)
		return truncate(combined, shortResultThreshold), nil
	}
	return final, nil
}

func (s *HierarchicalSummarizer) summarizeChunkWithRetry(ctx context.Context, chunk string, idx, total int) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		prompt := fmt.Sprintf("Chunk %d of %d from a task result:\n%s\n\nSummarize the key facts and data points in this chunk.", idx+1, total, chunk)
		summary, err := s.provider.Complete(ctx, []llmprovider.Message{{Role: "user", Content: prompt}}, s.model, llmprovider.CompletionOptions{
			System:      extractionSystemPrompt,
			Temperature: 0.1,
			MaxTokens:   512,
		})
		if err == nil {
			return summary, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (s *HierarchicalSummarizer) finalize(ctx context.Context, combined string, dependent DependentTask) (string, error) {
	prompt := fmt.Sprintf(`Chunk summaries from a task result:
%s

Dependent task that needs this information:
Type: %s
Prompt: %s

Synthesize these chunk summaries into one coherent summary for the dependent task.`, truncate(combined, 8000), dependent.TaskType, dependent.Prompt)

	return s.provider.Complete(ctx, []llmprovider.Message{{Role: "user", Content: prompt}}, s.model, llmprovider.CompletionOptions{
		System:      extractionSystemPrompt,
		Temperature: 0.1,
		MaxTokens:   1024,
	})
}

// chunkString splits s into contiguous pieces of at most size bytes. The
// split is on byte offsets, not rune boundaries, so a multi-byte character
// can be cut across two chunks.
func chunkString(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		if len(s) <= size {
			chunks = append(chunks, s)
			break
		}
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	return chunks
}

var _ Summarizer = (*HierarchicalSummarizer)(nil)
