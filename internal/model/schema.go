package model

import "fmt"

// FieldKind distinguishes free text from ordered lists.
type FieldKind int

const (
	KindText FieldKind = iota
	KindList
)

// MergeRule says how a field combines when a candidate is consolidated
// into an existing entry.
type MergeRule int

const (
	// KeepLonger keeps whichever value carries more text.
	KeepLonger MergeRule = iota
	// UnionText keeps both values unless one contains the other.
	UnionText
	// UnionList appends unseen list items, preserving order.
	UnionList
	// PreferNewer takes the candidate value when it is non-empty.
	PreferNewer
	// KeepFirst never changes a non-empty value.
	KeepFirst
	// HigherTier keeps the higher sensitivity tier.
	HigherTier
)

// Field describes one column of a store.
type Field struct {
	Name     string
	Kind     FieldKind
	Required bool
	// Weight is the bm25 column weight; zero means the column is not full-text indexed.
	Weight float64
	// Embedded fields get vectors in the embedding index.
	Embedded bool
	Merge    MergeRule
}

// Indexed reports whether the field participates in full-text search.
func (f Field) Indexed() bool { return f.Weight > 0 }

// Schema describes a store: its table, fields, identity key and merge behaviour.
type Schema struct {
	Store StoreName
	Table string
	// Fields are kept in column order; bm25 weights follow the indexed subset.
	Fields []Field
	// Identity fields form the dedup key for merge-capable stores.
	Identity []string
	// Primary is the default fuzzy-match field.
	Primary string
	// AppendOnly stores never merge; every candidate is a new row.
	AppendOnly bool
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// IndexedFields returns the full-text columns in order.
func (s *Schema) IndexedFields() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Indexed() {
			out = append(out, f)
		}
	}
	return out
}

// EmbeddedFields returns the fields that get vectors.
func (s *Schema) EmbeddedFields() []Field {
	var out []Field
	for _, f := range s.Fields {
		if f.Embedded {
			out = append(out, f)
		}
	}
	return out
}

// FTSTable is the name of the store's FTS5 index.
func (s *Schema) FTSTable() string { return s.Table + "_fts" }

// Schemas holds the descriptors for the five entry stores. Core memory is
// block-shaped and handled separately.
var Schemas = map[StoreName]*Schema{
	StoreEpisodic: {
		Store: StoreEpisodic,
		Table: "episodic_events",
		Fields: []Field{
			{Name: "event_type", Required: true, Weight: 1},
			{Name: "summary", Required: true, Weight: 3, Embedded: true},
			{Name: "details", Weight: 1, Embedded: true},
			{Name: "actor", Required: true, Weight: 0.5},
			{Name: "occurred_at"},
			{Name: "tree_path", Weight: 0.5},
		},
		Primary:    "summary",
		AppendOnly: true,
	},
	StoreSemantic: {
		Store: StoreSemantic,
		Table: "semantic_items",
		Fields: []Field{
			{Name: "name", Required: true, Weight: 4, Embedded: true, Merge: KeepFirst},
			{Name: "summary", Required: true, Weight: 3, Embedded: true, Merge: KeepLonger},
			{Name: "details", Weight: 1, Embedded: true, Merge: UnionText},
			{Name: "source", Weight: 0.5, Merge: UnionText},
		},
		Identity: []string{"name"},
		Primary:  "name",
	},
	StoreProcedural: {
		Store: StoreProcedural,
		Table: "procedural_items",
		Fields: []Field{
			{Name: "entry_type", Required: true, Weight: 1, Merge: KeepFirst},
			{Name: "description", Required: true, Weight: 4, Embedded: true, Merge: KeepLonger},
			{Name: "steps", Kind: KindList, Required: true, Weight: 1, Embedded: true, Merge: UnionList},
		},
		Identity: []string{"entry_type", "description"},
		Primary:  "description",
	},
	StoreResource: {
		Store: StoreResource,
		Table: "resource_items",
		Fields: []Field{
			{Name: "title", Required: true, Weight: 4, Embedded: true, Merge: KeepFirst},
			{Name: "summary", Weight: 3, Embedded: true, Merge: KeepLonger},
			{Name: "resource_type", Required: true, Weight: 0.5, Merge: PreferNewer},
			{Name: "content", Required: true, Weight: 1, Embedded: true, Merge: KeepLonger},
		},
		Identity: []string{"title"},
		Primary:  "title",
	},
	StoreVault: {
		Store: StoreVault,
		Table: "knowledge_vault",
		Fields: []Field{
			{Name: "entry_type", Required: true, Weight: 1, Merge: KeepFirst},
			{Name: "source", Required: true, Weight: 1, Merge: KeepFirst},
			{Name: "sensitivity", Required: true, Merge: HigherTier},
			{Name: "secret_value", Required: true, Merge: PreferNewer},
			{Name: "description", Required: true, Weight: 4, Embedded: true, Merge: KeepLonger},
		},
		Identity: []string{"entry_type", "source", "description"},
		Primary:  "description",
	},
}

// SchemaFor returns the descriptor for an entry store.
func SchemaFor(store StoreName) (*Schema, error) {
	s, ok := Schemas[store]
	if !ok {
		return nil, fmt.Errorf("no schema for store %q", store)
	}
	return s, nil
}

// CoreSchema describes the searchable columns of core blocks, so block rows
// can be ranked like entries. Blocks are written through their own API.
var CoreSchema = &Schema{
	Store: StoreCore,
	Table: "core_blocks",
	Fields: []Field{
		{Name: "label", Weight: 2},
		{Name: "value", Weight: 1},
	},
	Primary: "value",
}
