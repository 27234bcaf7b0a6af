package planner

import (
	"context"
	"sync"

	"github.com/zulu-cp/core/pkg/llmprovider"
)

// fakeProvider returns scripted responses keyed by call order, letting
// tests drive intent parsing, decomposition, and extraction deterministically
// without a real model backend.
type fakeProvider struct {
	mu sync.Mutex

	completeJSONResults []map[string]any
	completeJSONErrs    []error
	completeJSONCalls   int

	completeResults []string
	completeErrs    []error
	completeCalls   int
}

func (f *fakeProvider) CompleteJSON(ctx context.Context, messages []llmprovider.Message, model string, schema map[string]any, opts llmprovider.CompletionOptions) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.completeJSONCalls
	f.completeJSONCalls++
	if i < len(f.completeJSONErrs) && f.completeJSONErrs[i] != nil {
		return nil, f.completeJSONErrs[i]
	}
	if i < len(f.completeJSONResults) {
		return f.completeJSONResults[i], nil
	}
	return map[string]any{}, nil
}

func (f *fakeProvider) Complete(ctx context.Context, messages []llmprovider.Message, model string, opts llmprovider.CompletionOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.completeCalls
	f.completeCalls++
	if i < len(f.completeErrs) && f.completeErrs[i] != nil {
		return "", f.completeErrs[i]
	}
	if i < len(f.completeResults) {
		return f.completeResults[i], nil
	}
	return "", nil
}

func (f *fakeProvider) Close() error { return nil }

var _ llmprovider.Provider = (*fakeProvider)(nil)
