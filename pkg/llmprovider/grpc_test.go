package llmprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodec_RoundTrips(t *testing.T) {
	codec := jsonCodec{}
	req := grpcCompleteRequest{Model: "m", Messages: []Message{{Role: "user", Content: "hi"}}}

	data, err := codec.Marshal(req)
	require.NoError(t, err)

	var out grpcCompleteRequest
	require.NoError(t, codec.Unmarshal(data, &out))
	assert.Equal(t, req.Model, out.Model)
	assert.Equal(t, req.Messages, out.Messages)
}

func TestNewGRPCProvider_RequiresBaseURL(t *testing.T) {
	_, err := NewGRPCProvider(Config{})
	assert.Error(t, err)
}

func TestNewGRPCProvider_LazyDial(t *testing.T) {
	p, err := NewGRPCProvider(Config{BaseURL: "localhost:0"})
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
