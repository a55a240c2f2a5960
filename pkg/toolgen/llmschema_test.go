package toolgen_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dh7/mindcache/pkg/store"
	"github.com/dh7/mindcache/pkg/toolgen"
)

func TestOpenAIToolsMirrorsDerivedToolNames(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Set("notes", store.TextValue("draft"), &store.Attributes{SystemTags: []store.SystemTag{store.LLMWrite}}))

	result := toolgen.Derive(s, toolgen.ModeUse)
	params := result.OpenAITools()
	require.Len(t, params, len(result.Tools))
	assert.Equal(t, "write_notes", params[0].Function.Name)
}

func TestAnthropicToolsMirrorsDerivedToolNames(t *testing.T) {
	s := store.New()
	require.NoError(t, s.Set("notes", store.TextValue("draft"), &store.Attributes{SystemTags: []store.SystemTag{store.LLMWrite}}))

	result := toolgen.Derive(s, toolgen.ModeUse)
	params := result.AnthropicTools()
	require.Len(t, params, len(result.Tools))
	require.NotNil(t, params[0].OfTool)
	assert.Equal(t, "write_notes", params[0].OfTool.Name)
}
