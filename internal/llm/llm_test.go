package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	raw, err := ExtractJSON("Sure!\n```json\n{\"semantic\": [{\"name\": \"Go\"}]}\n```")
	require.NoError(t, err)
	assert.JSONEq(t, `{"semantic": [{"name": "Go"}]}`, string(raw))

	_, err = ExtractJSON("no object here")
	assert.Error(t, err)

	_, err = ExtractJSON("{broken: }")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	_, err := New(Options{})
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = New(Options{Provider: "anthropic"})
	assert.True(t, errors.Is(err, ErrUnavailable), "missing key is unavailable")

	g, err := New(Options{Provider: "openai", APIKey: "test"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, g)

	g, err = New(Options{Provider: "anthropic", APIKey: "test"})
	require.NoError(t, err)
	assert.IsType(t, &Anthropic{}, g)

	_, err = New(Options{Provider: "parrot"})
	assert.Error(t, err)
}
