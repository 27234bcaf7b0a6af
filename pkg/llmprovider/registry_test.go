package llmprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_UnknownProvider(t *testing.T) {
	_, err := Get("smalltalk", Config{})
	assert.Error(t, err)
}

func TestGet_KnownProviderConstructs(t *testing.T) {
	p, err := Get("anthropic", Config{APIKey: "k"})
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestRegister_AddsCustomProvider(t *testing.T) {
	called := false
	Register("custom-test", func(cfg Config) (Provider, error) {
		called = true
		return nil, nil
	})
	_, _ = Get("custom-test", Config{})
	assert.True(t, called)
}
