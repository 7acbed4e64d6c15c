package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memoria/internal/memory"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(io.Discard)
	RootCmd.SetArgs(args)
	require.NoError(t, RootCmd.ExecuteContext(context.Background()), "memoria %v", args)
	return out.String()
}

func runFails(t *testing.T, args ...string) error {
	t.Helper()
	RootCmd.SetOut(io.Discard)
	RootCmd.SetErr(io.Discard)
	RootCmd.SetArgs(args)
	err := RootCmd.ExecuteContext(context.Background())
	require.Error(t, err, "memoria %v", args)
	return err
}

func TestCommands(t *testing.T) {
	for _, k := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "MEMORIA_LLM_PROVIDER", "MEMORIA_ORG", "MEMORIA_DB", "MEMORIA_REDIS_URL"} {
		t.Setenv(k, "")
	}
	t.Setenv("MEMORIA_EMBED_PROVIDER", "hash")

	dir := t.TempDir()
	global := []string{
		"--config", filepath.Join(dir, "none.yaml"),
		"--db", filepath.Join(dir, "memory.db"),
		"--format", "json",
	}
	cmd := func(args ...string) []string { return append(append([]string{}, args...), global...) }

	assert.Contains(t, run(t, cmd("stores")...), `"knowledge_vault"`)

	var item struct {
		Outcome string `json:"outcome"`
		Entry   struct {
			ID string `json:"id"`
		} `json:"entry"`
	}
	require.NoError(t, json.Unmarshal([]byte(run(t, cmd("put", "semantic",
		"--set", "name=Go", "--set", "summary=A compiled language")...)), &item))
	assert.Equal(t, "inserted", item.Outcome)
	require.NotEmpty(t, item.Entry.ID)

	out := run(t, cmd("search", "compiled", "--store", "semantic")...)
	assert.Contains(t, out, item.Entry.ID)

	out = run(t, cmd("get", "semantic", item.Entry.ID)...)
	assert.Contains(t, out, `"summary": "A compiled language"`)

	out = run(t, cmd("core", "append", "human", "Likes", "tea")...)
	assert.Contains(t, out, `"added": true`)
	assert.Contains(t, run(t, cmd("core", "show", "human")...), "Likes tea")

	out = run(t, cmd("absorb", "nothing", "configured")...)
	assert.Contains(t, out, `"written": {}`)

	snap := filepath.Join(dir, "snap")
	out = run(t, cmd("snapshot", "save", snap)...)
	assert.Contains(t, out, `"entries": 1`)
	assert.FileExists(t, filepath.Join(snap, "memory.json"))

	out = run(t, cmd("rm", "semantic", item.Entry.ID)...)
	assert.Contains(t, out, `"changed": 1`)
	assert.Contains(t, run(t, cmd("stats")...), `"deleted": 1`)
}

func TestVaultSecretsNeedAuthorization(t *testing.T) {
	for _, k := range []string{"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "MEMORIA_LLM_PROVIDER", "MEMORIA_ORG", "MEMORIA_DB", "MEMORIA_REDIS_URL", "MEMORIA_EMBED_PROVIDER"} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	global := []string{
		"--config", filepath.Join(dir, "none.yaml"),
		"--db", filepath.Join(dir, "memory.db"),
		"--format", "json",
	}
	cmd := func(args ...string) []string { return append(append([]string{}, args...), global...) }

	var item struct {
		Entry struct {
			ID string `json:"id"`
		} `json:"entry"`
	}
	require.NoError(t, json.Unmarshal([]byte(run(t, cmd("put", "knowledge_vault",
		"--set", "entry_type=credential", "--set", "source=bank", "--set", "sensitivity=high",
		"--set", "secret_value=hunter2", "--set", "description=Online banking password")...)), &item))
	require.NotEmpty(t, item.Entry.ID)

	// Flags persist on the shared root command, so unauthorized calls come first.
	out := run(t, cmd("list", "knowledge_vault")...)
	assert.Contains(t, out, memory.Redacted)
	assert.NotContains(t, out, "hunter2")

	out = run(t, cmd("get", "knowledge_vault", item.Entry.ID)...)
	assert.Contains(t, out, memory.Redacted)
	assert.NotContains(t, out, "hunter2")

	err := runFails(t, cmd("get", "knowledge_vault", item.Entry.ID, "--secret")...)
	assert.ErrorIs(t, err, memory.ErrUnauthorized)

	out = run(t, cmd("get", "knowledge_vault", item.Entry.ID, "--secret", "--authorized")...)
	assert.Equal(t, "hunter2\n", out)

	out = run(t, cmd("list", "knowledge_vault", "--authorized")...)
	assert.Contains(t, out, "hunter2")
}
