package llmprovider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON_DirectParse(t *testing.T) {
	v := ExtractJSON(`{"a": 1}`)
	assert.Equal(t, float64(1), v["a"])
}

func TestExtractJSON_WhitespacePadded(t *testing.T) {
	v := ExtractJSON("  \n  " + `{"a": 2}` + "  \n")
	assert.Equal(t, float64(2), v["a"])
}

func TestExtractJSON_FencedBlock(t *testing.T) {
	v := ExtractJSON("Here is the answer:\n```json\n{\"a\": 3}\n```\nThanks")
	assert.Equal(t, float64(3), v["a"])
}

func TestExtractJSON_GreedyObjectSpan(t *testing.T) {
	v := ExtractJSON(`some preamble text {"a": 4} trailing notes`)
	assert.Equal(t, float64(4), v["a"])
}

func TestExtractJSON_ArraySpanWrappedUnderItems(t *testing.T) {
	v := ExtractJSON(`here: [1, 2, 3] done`)
	items, ok := v["items"].([]any)
	assert.True(t, ok)
	assert.Len(t, items, 3)
}

func TestExtractJSON_UnrecoverableReturnsEmpty(t *testing.T) {
	v := ExtractJSON("no structured data here at all")
	assert.Empty(t, v)
}
