package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memoria/internal/embedding"
	"github.com/rcliao/memoria/internal/model"
	"github.com/rcliao/memoria/internal/search"
	"github.com/rcliao/memoria/internal/store"
)

const testOrg = "org"

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestManager(t *testing.T, name model.StoreName) *Manager {
	t.Helper()
	vi, err := search.NewVectorIndex("", embedding.NewHashEmbedder(0))
	require.NoError(t, err)
	m, err := New(newTestStore(t), name, Config{Org: testOrg, Vectors: vi})
	require.NoError(t, err)
	return m
}

func semantic(name, summary, details string) model.Candidate {
	return model.Candidate{Store: model.StoreSemantic, Fields: map[string]string{
		"name": name, "summary": summary, "details": details,
	}}
}

func TestInsertOrMergeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreSemantic)
	c := semantic("Sushi", "Japanese dish of vinegared rice", "Often served with fish")

	first, err := m.InsertOrMerge(ctx, []model.Candidate{c})
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.Equal(t, OutcomeInserted, first.Items[0].Outcome)

	second, err := m.InsertOrMerge(ctx, []model.Candidate{c})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, second.Items[0].Outcome)
	assert.Equal(t, first.Items[0].Entry.ID, second.Items[0].Entry.ID)

	all, err := m.List(ctx, 0, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestMergeSupersedesOldEntry(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreSemantic)

	first, err := m.InsertOrMerge(ctx, []model.Candidate{semantic("Go", "A language", "Compiled")})
	require.NoError(t, err)
	old := first.Items[0].Entry

	res, err := m.InsertOrMerge(ctx, []model.Candidate{
		semantic("go", "A statically typed compiled language", "Has goroutines"),
	})
	require.NoError(t, err)
	item := res.Items[0]
	require.Equal(t, OutcomeMerged, item.Outcome)
	assert.Equal(t, old.ID, item.Superseded)

	merged := item.Entry
	assert.Equal(t, "Go", merged.Get("name"), "identity keeps the first value")
	assert.Equal(t, "A statically typed compiled language", merged.Get("summary"))
	assert.Equal(t, "Compiled\nHas goroutines", merged.Get("details"))
	assert.True(t, merged.CreatedAt.Equal(old.CreatedAt))
	assert.Equal(t, old.ID, merged.Metadata["supersedes"])

	_, err = m.Get(ctx, old.ID, false)
	assert.ErrorIs(t, err, ErrNotFound)
	gone, err := m.Get(ctx, old.ID, true)
	require.NoError(t, err)
	assert.True(t, gone.IsDeleted)

	all, err := m.List(ctx, 0, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSimilarityFallbackMerges(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreSemantic)

	_, err := m.InsertOrMerge(ctx, []model.Candidate{semantic("Lake Tahoe", "Alpine lake in the Sierra Nevada", "")})
	require.NoError(t, err)
	res, err := m.InsertOrMerge(ctx, []model.Candidate{semantic("Lake-Tahoe", "alpine lake in the Sierra Nevada", "Deep and clear")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeMerged, res.Items[0].Outcome)

	all, err := m.List(ctx, 0, false)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Deep and clear", all[0].Get("details"))
}

func TestValidationDoesNotStopSiblings(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreSemantic)

	res, err := m.InsertOrMerge(ctx, []model.Candidate{
		{Fields: map[string]string{"name": "No summary"}},
		{Fields: map[string]string{"name": "X", "summary": "y", "color": "red"}},
		semantic("Valid", "Has everything", ""),
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	assert.Equal(t, OutcomeRejected, res.Items[0].Outcome)
	assert.ErrorIs(t, res.Items[0].Err, ErrValidation)
	assert.Equal(t, OutcomeRejected, res.Items[1].Outcome)
	assert.Equal(t, OutcomeInserted, res.Items[2].Outcome)
	assert.Equal(t, 1, res.Written())
}

func TestEpisodicIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreEpisodic)
	ev := model.Candidate{Fields: map[string]string{
		"event_type": "activity", "summary": "Opened the editor", "actor": "user",
		"occurred_at": "2025-01-02T10:00:00+02:00",
	}}

	res, err := m.InsertOrMerge(ctx, []model.Candidate{ev, ev})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count(OutcomeInserted))
	assert.Equal(t, "2025-01-02T08:00:00Z", res.Items[0].Entry.Get("occurred_at"))

	bad := model.Candidate{Fields: map[string]string{
		"event_type": "activity", "summary": "x", "actor": "user", "occurred_at": "yesterday",
	}}
	res, err = m.InsertOrMerge(ctx, []model.Candidate{bad})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Items[0].Err, ErrValidation)
}

func TestVaultMergeRules(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreVault)
	vault := func(sensitivity, secret string) model.Candidate {
		return model.Candidate{Fields: map[string]string{
			"entry_type": "api_key", "source": "github", "description": "GitHub token",
			"sensitivity": sensitivity, "secret_value": secret,
		}}
	}

	res, err := m.InsertOrMerge(ctx, []model.Candidate{vault("High", "ghp_old"), vault("low", "ghp_new"), vault("top", "x")})
	require.NoError(t, err)
	assert.Equal(t, OutcomeInserted, res.Items[0].Outcome)
	assert.Equal(t, "high", res.Items[0].Entry.Get("sensitivity"))
	require.Equal(t, OutcomeMerged, res.Items[1].Outcome)
	assert.Equal(t, "high", res.Items[1].Entry.Get("sensitivity"))
	assert.Equal(t, "ghp_new", res.Items[1].Entry.Get("secret_value"))
	assert.ErrorIs(t, res.Items[2].Err, ErrValidation)
}

func TestProceduralStepsUnion(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreProcedural)
	proc := func(steps string) model.Candidate {
		return model.Candidate{Fields: map[string]string{
			"entry_type": "workflow", "description": "Deploy the site", "steps": steps,
		}}
	}

	res, err := m.InsertOrMerge(ctx, []model.Candidate{
		proc("build\ntest"),
		proc("Test\ndeploy"),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeMerged, res.Items[1].Outcome)
	assert.Equal(t, []string{"build", "test", "deploy"}, res.Items[1].Entry.List("steps"))
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreSemantic)
	res, err := m.InsertOrMerge(ctx, []model.Candidate{semantic("Old", "Outdated fact", "")})
	require.NoError(t, err)
	oldID := res.Items[0].Entry.ID

	_, err = m.Replace(ctx, []string{oldID}, []model.Candidate{{Fields: map[string]string{"name": "broken"}}})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = m.Get(ctx, oldID, false)
	require.NoError(t, err, "invalid replacement must not write")

	written, err := m.Replace(ctx, []string{oldID}, []model.Candidate{semantic("New", "Current fact", "")})
	require.NoError(t, err)
	require.Len(t, written, 1)
	_, err = m.Get(ctx, oldID, false)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = m.Replace(ctx, []string{oldID}, []model.Candidate{semantic("Again", "Second", "")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAndRestore(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreSemantic)
	res, err := m.InsertOrMerge(ctx, []model.Candidate{semantic("Tea", "Hot drink", "")})
	require.NoError(t, err)
	id := res.Items[0].Entry.ID

	n, err := m.Delete(ctx, []string{id})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rs, err := m.Search(ctx, SearchParams{Query: "tea", Method: search.MethodEmbedding})
	require.NoError(t, err)
	assert.Empty(t, rs)

	n, err = m.Restore(ctx, []string{id})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	rs, err = m.Search(ctx, SearchParams{Query: "tea", Method: search.MethodEmbedding})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, id, rs[0].Entry.ID)
}

func TestInsertOrMergeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := newTestManager(t, model.StoreSemantic)

	res, err := m.InsertOrMerge(ctx, []model.Candidate{semantic("A", "b", "")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Items)
}

func TestRedundancy(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreEpisodic)
	ev := func(summary string) model.Candidate {
		return model.Candidate{Fields: map[string]string{"event_type": "chat", "summary": summary, "actor": "user"}}
	}
	_, err := m.InsertOrMerge(ctx, []model.Candidate{
		ev("discussed the quarterly budget review with finance"),
		ev("discussed the quarterly budget review with finance"),
		ev("walked the dog in the park"),
	})
	require.NoError(t, err)

	rep, err := m.Redundancy(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Total)
	assert.Len(t, rep.Duplicates, 1)
	assert.Empty(t, rep.Similar)
}

func TestMergeValue(t *testing.T) {
	tests := []struct {
		rule      model.MergeRule
		old, cand string
		want      string
	}{
		{model.KeepFirst, "a", "b", "a"},
		{model.KeepFirst, "", "b", "b"},
		{model.PreferNewer, "a", "b", "b"},
		{model.PreferNewer, "a", "", "a"},
		{model.KeepLonger, "short", "longer one", "longer one"},
		{model.KeepLonger, "same", "tied", "same"},
		{model.UnionText, "Fact one", "fact ONE", "Fact one"},
		{model.UnionText, "one", "one and two", "one and two"},
		{model.UnionText, "one", "two", "one\ntwo"},
		{model.UnionList, "a\nb", "B\nc", "a\nb\nc"},
		{model.HigherTier, "medium", "low", "medium"},
		{model.HigherTier, "medium", "high", "high"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mergeValue(tt.rule, tt.old, tt.cand), "rule %d %q+%q", tt.rule, tt.old, tt.cand)
	}
}

func TestJaccard(t *testing.T) {
	assert.InDelta(t, 1.0, Jaccard("Lake Tahoe", "lake-tahoe"), 1e-9)
	assert.InDelta(t, 1.0/3, Jaccard("a b", "b c"), 1e-9)
	assert.Zero(t, Jaccard("", ""))
}
