package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/memoria/internal/model"
	"github.com/rcliao/memoria/internal/search"
)

func seed(t *testing.T, m *Manager, cands ...model.Candidate) []model.Entry {
	t.Helper()
	res, err := m.InsertOrMerge(context.Background(), cands)
	require.NoError(t, err)
	out := make([]model.Entry, 0, len(res.Items))
	for _, it := range res.Items {
		require.NoError(t, it.Err)
		out = append(out, *it.Entry)
	}
	return out
}

func episode(eventType, summary, details, treePath string) model.Candidate {
	return model.Candidate{Fields: map[string]string{
		"event_type": eventType, "summary": summary, "details": details,
		"actor": "user", "tree_path": treePath,
	}}
}

func TestLexicalFieldWeighting(t *testing.T) {
	m := newTestManager(t, model.StoreSemantic)
	es := seed(t, m,
		semantic("Orchestrator", "Container tool", "Kubernetes"),
		semantic("Kubernetes", "Container tool", "Orchestrator"),
	)

	rs, err := m.Search(context.Background(), SearchParams{Query: "kubernetes"})
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, es[1].ID, rs[0].Entry.ID, "a name match outranks a details match")
	assert.GreaterOrEqual(t, rs[0].Score, rs[1].Score)
	for _, r := range rs {
		assert.True(t, r.Score > 0 && r.Score < 1)
	}
}

func TestLexicalAndThenOr(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreSemantic)
	es := seed(t, m,
		semantic("Sushi bar", "Restaurant serving sushi", ""),
		semantic("Sushi", "Rice dish", ""),
	)

	rs, err := m.Search(ctx, SearchParams{Query: "sushi restaurant"})
	require.NoError(t, err)
	require.Len(t, rs, 1, "AND matches only the entry with both terms")
	assert.Equal(t, es[0].ID, rs[0].Entry.ID)

	rs, err = m.Search(ctx, SearchParams{Query: "sushi pizza"})
	require.NoError(t, err)
	assert.Len(t, rs, 2, "OR fallback when AND finds nothing")

	rs, err = m.Search(ctx, SearchParams{Query: "rice", Field: "name"})
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestTeamsMeetingRanking(t *testing.T) {
	m := newTestManager(t, model.StoreEpisodic)
	es := seed(t, m,
		episode("note", "Reviewed the roster", "", "sports/teams"),
		episode("meeting", "Joined a Microsoft Teams meeting with the design group", "", "work/calls"),
		episode("browse", "Read about team building", "Meeting notes template", ""),
	)

	rs, err := m.Search(context.Background(), SearchParams{Query: "teams meeting"})
	require.NoError(t, err)
	require.NotEmpty(t, rs)
	assert.Equal(t, es[1].ID, rs[0].Entry.ID)
	for _, r := range rs[1:] {
		assert.Less(t, r.Score, rs[0].Score)
	}
}

func TestSearchExcludesDeletedForEveryMethod(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreSemantic)
	es := seed(t, m, semantic("Espresso", "Strong coffee", "Brewed under pressure"))
	_, err := m.Delete(ctx, []string{es[0].ID})
	require.NoError(t, err)

	for _, method := range search.Methods {
		rs, err := m.Search(ctx, SearchParams{Query: "espresso", Method: method})
		require.NoError(t, err, method)
		assert.Empty(t, rs, method)
	}
}

func TestStringMatch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreSemantic)
	es := seed(t, m,
		semantic("Café culture", "Paris cafés", ""),
		semantic("Tea", "Drink often had at a café", ""),
	)

	rs, err := m.Search(ctx, SearchParams{Query: "CAFÉ", Method: search.MethodString})
	require.NoError(t, err)
	require.Len(t, rs, 2)
	assert.Equal(t, es[0].ID, rs[0].Entry.ID)
	assert.Equal(t, "name", rs[0].Field)

	rs, err = m.Search(ctx, SearchParams{Query: "drink", Method: search.MethodString, Field: "summary"})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, es[1].ID, rs[0].Entry.ID)
}

func TestFuzzyMatch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreResource)
	es := seed(t, m, model.Candidate{Fields: map[string]string{
		"title": "Kubernetes handbook", "resource_type": "pdf", "content": "Pods and services",
	}})

	rs, err := m.Search(ctx, SearchParams{Query: "kubernets", Method: search.MethodFuzzy})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, es[0].ID, rs[0].Entry.ID)
	assert.Equal(t, "title", rs[0].Field)

	rs, err = m.Search(ctx, SearchParams{Query: "qqqqqqqq", Method: search.MethodFuzzy})
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestEmbeddingFallsBackWithoutVectors(t *testing.T) {
	ctx := context.Background()
	m, err := New(newTestStore(t), model.StoreSemantic, Config{Org: testOrg})
	require.NoError(t, err)
	seed(t, m, semantic("Tea", "Hot drink", ""))

	rs, err := m.Search(ctx, SearchParams{Query: "hot", Method: search.MethodEmbedding})
	require.NoError(t, err)
	require.Len(t, rs, 1)
	assert.Equal(t, "summary", rs[0].Field)
}

func TestSearchValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, model.StoreVault)

	_, err := m.Search(ctx, SearchParams{Query: "x", Field: "nope"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = m.Search(ctx, SearchParams{Query: "x", Field: "secret_value", Method: search.MethodString})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = m.Search(ctx, SearchParams{Query: "x", Field: "source", Method: search.MethodEmbedding})
	assert.ErrorIs(t, err, ErrValidation)

	rs, err := m.Search(ctx, SearchParams{Query: "   "})
	require.NoError(t, err)
	assert.Empty(t, rs)
}

func TestSearchLimit(t *testing.T) {
	m := newTestManager(t, model.StoreEpisodic)
	for i := 0; i < 5; i++ {
		seed(t, m, episode("chat", "talked about gardening", "", ""))
	}
	rs, err := m.Search(context.Background(), SearchParams{Query: "gardening", Limit: 3})
	require.NoError(t, err)
	require.Len(t, rs, 3)
	for i := 1; i < len(rs); i++ {
		if rs[i].Score == rs[i-1].Score {
			assert.False(t, rs[i].Entry.UpdatedAt.After(rs[i-1].Entry.UpdatedAt))
		}
	}
}
