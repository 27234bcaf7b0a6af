package extractor

import (
	"context"

	"github.com/zulu-cp/core/pkg/llmprovider"
)

type fakeProvider struct {
	completeResults []string
	completeErrs    []error
	calls           int
}

func (f *fakeProvider) Complete(ctx context.Context, messages []llmprovider.Message, model string, opts llmprovider.CompletionOptions) (string, error) {
	i := f.calls
	f.calls++
	if i < len(f.completeErrs) && f.completeErrs[i] != nil {
		return "", f.completeErrs[i]
	}
	if i < len(f.completeResults) {
		return f.completeResults[i], nil
	}
	return "", nil
}

func (f *fakeProvider) CompleteJSON(ctx context.Context, messages []llmprovider.Message, model string, schema map[string]any, opts llmprovider.CompletionOptions) (map[string]any, error) {
	return map[string]any{}, nil
}

func (f *fakeProvider) Close() error { return nil }

var _ llmprovider.Provider = (*fakeProvider)(nil)
