package search

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/rcliao/memoria/internal/chunker"
	"github.com/rcliao/memoria/internal/embedding"
	"github.com/rcliao/memoria/internal/model"
)

// VectorIndex keeps one chromem collection per store. Each embedded field of
// an entry is chunked and stored as its own document, tagged with the entry ID.
type VectorIndex struct {
	db       *chromem.DB
	embedder embedding.Embedder
	chunks   chunker.Options

	mu   sync.Mutex
	cols map[model.StoreName]*chromem.Collection
}

// VectorHit is the best similarity of one entry against the query.
type VectorHit struct {
	EntryID    string
	Field      string
	Similarity float64
}

// NewVectorIndex opens an index. An empty dir keeps vectors in memory only.
func NewVectorIndex(dir string, e embedding.Embedder) (*VectorIndex, error) {
	var db *chromem.DB
	if dir == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("open vector index: %w", err)
		}
	}
	return &VectorIndex{
		db:       db,
		embedder: e,
		chunks:   chunker.DefaultOptions(),
		cols:     make(map[model.StoreName]*chromem.Collection),
	}, nil
}

// Available reports whether queries can be embedded.
func (v *VectorIndex) Available() bool {
	return v != nil && v.embedder != nil
}

func (v *VectorIndex) collection(store model.StoreName) (*chromem.Collection, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if col, ok := v.cols[store]; ok {
		return col, nil
	}
	col, err := v.db.GetOrCreateCollection(string(store), nil, chromem.EmbeddingFunc(v.embedder.Embed))
	if err != nil {
		return nil, fmt.Errorf("open collection %s: %w", store, err)
	}
	v.cols[store] = col
	return col, nil
}

// Index embeds the entry's embedded fields and adds them to its store's collection.
func (v *VectorIndex) Index(ctx context.Context, e model.Entry, fields []model.Field) error {
	if !v.Available() {
		return embedding.ErrUnavailable
	}
	col, err := v.collection(e.Store)
	if err != nil {
		return err
	}

	var docs []chromem.Document
	for _, f := range fields {
		for i, text := range chunker.Texts(e.Fields[f.Name], v.chunks) {
			vec, err := v.embedder.Embed(ctx, text)
			if err != nil {
				return fmt.Errorf("embed %s.%s: %w", e.ID, f.Name, err)
			}
			docs = append(docs, chromem.Document{
				ID:        e.ID + ":" + f.Name + ":" + strconv.Itoa(i),
				Content:   text,
				Embedding: vec,
				Metadata: map[string]string{
					"entry_id": e.ID,
					"field":    f.Name,
					"org":      e.OrganizationID,
				},
			})
		}
	}
	for _, d := range docs {
		if err := col.AddDocument(ctx, d); err != nil {
			return fmt.Errorf("add document %s: %w", d.ID, err)
		}
	}
	return nil
}

// Remove drops every document of the given entries.
func (v *VectorIndex) Remove(ctx context.Context, store model.StoreName, ids []string) error {
	if !v.Available() {
		return nil
	}
	col, err := v.collection(store)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := col.Delete(ctx, map[string]string{"entry_id": id}, nil); err != nil {
			return fmt.Errorf("delete vectors of %s: %w", id, err)
		}
	}
	return nil
}

// Query returns entries ranked by their best chunk similarity, restricted to
// org and, when field is set, to that field. Similarities are clamped to [0,1].
func (v *VectorIndex) Query(ctx context.Context, store model.StoreName, org, query, field string, limit int) ([]VectorHit, error) {
	if !v.Available() {
		return nil, embedding.ErrUnavailable
	}
	col, err := v.collection(store)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}

	vec, err := v.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	// chromem rejects nResults above the collection size.
	results, err := col.QueryEmbedding(ctx, vec, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("query %s vectors: %w", store, err)
	}

	best := make(map[string]VectorHit)
	var order []string
	for _, r := range results {
		if r.Metadata["org"] != org {
			continue
		}
		if field != "" && r.Metadata["field"] != field {
			continue
		}
		sim := float64(r.Similarity)
		if sim < 0 {
			sim = 0
		}
		id := r.Metadata["entry_id"]
		cur, seen := best[id]
		if !seen {
			order = append(order, id)
		}
		if !seen || sim > cur.Similarity {
			best[id] = VectorHit{EntryID: id, Field: r.Metadata["field"], Similarity: sim}
		}
	}

	hits := make([]VectorHit, 0, len(order))
	for _, id := range order {
		hits = append(hits, best[id])
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Reset drops a store's collection so it can be rebuilt.
func (v *VectorIndex) Reset(store model.StoreName) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.cols, store)
	if err := v.db.DeleteCollection(string(store)); err != nil {
		return fmt.Errorf("reset %s vectors: %w", store, err)
	}
	return nil
}
