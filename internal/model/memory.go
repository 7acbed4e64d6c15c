// Package model defines the core memory data types.
package model

import (
	"fmt"
	"strings"
	"time"
)

// StoreName identifies one of the six memory stores.
type StoreName string

const (
	StoreCore       StoreName = "core"
	StoreEpisodic   StoreName = "episodic"
	StoreSemantic   StoreName = "semantic"
	StoreProcedural StoreName = "procedural"
	StoreResource   StoreName = "resource"
	StoreVault      StoreName = "knowledge_vault"
)

// AllStores lists the stores in the order absorption and retrieval visit them.
var AllStores = []StoreName{
	StoreCore,
	StoreEpisodic,
	StoreSemantic,
	StoreProcedural,
	StoreResource,
	StoreVault,
}

// ParseStoreName accepts the canonical names plus a few short aliases.
func ParseStoreName(s string) (StoreName, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "core":
		return StoreCore, nil
	case "episodic":
		return StoreEpisodic, nil
	case "semantic":
		return StoreSemantic, nil
	case "procedural":
		return StoreProcedural, nil
	case "resource":
		return StoreResource, nil
	case "knowledge_vault", "knowledge-vault", "vault":
		return StoreVault, nil
	}
	return "", fmt.Errorf("unknown store %q", s)
}

// Sensitivity tiers for knowledge vault entries.
const (
	SensitivityLow    = "low"
	SensitivityMedium = "medium"
	SensitivityHigh   = "high"
)

// ValidSensitivities are the allowed sensitivity tiers, ranked low to high.
var ValidSensitivities = map[string]int{
	SensitivityLow:    1,
	SensitivityMedium: 2,
	SensitivityHigh:   3,
}

// Entry is one persisted memory item in a schema-described store.
// Text fields live in Fields; list fields are stored newline-joined (see List).
type Entry struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organization_id"`
	Store          StoreName         `json:"store"`
	Fields         map[string]string `json:"fields"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	IsDeleted      bool              `json:"is_deleted"`
	Metadata       map[string]any    `json:"metadata,omitempty"`
}

// Get returns a field value or "".
func (e Entry) Get(field string) string {
	return e.Fields[field]
}

// List splits a list field into its ordered items.
func (e Entry) List(field string) []string {
	return SplitList(e.Fields[field])
}

// Clone returns a deep copy of the entry's maps.
func (e Entry) Clone() Entry {
	out := e
	out.Fields = make(map[string]string, len(e.Fields))
	for k, v := range e.Fields {
		out.Fields[k] = v
	}
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// Candidate is a proposed entry that has not been persisted yet.
type Candidate struct {
	Store    StoreName         `json:"store"`
	Fields   map[string]string `json:"fields"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// JoinList encodes an ordered list for storage. Embedded newlines become spaces.
func JoinList(items []string) string {
	clean := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(strings.ReplaceAll(it, "\n", " "))
		if it != "" {
			clean = append(clean, it)
		}
	}
	return strings.Join(clean, "\n")
}

// SplitList decodes a stored list field.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Block is a core memory block: a labeled, capacity-bounded set of lines.
type Block struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Label          string         `json:"label"`
	Lines          []string       `json:"lines"`
	CharLimit      int            `json:"char_limit"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	IsDeleted      bool           `json:"is_deleted"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Value renders the block as stored and shown to the assistant.
func (b Block) Value() string {
	return strings.Join(b.Lines, "\n")
}

// Size is the rendered size in characters.
func (b Block) Size() int {
	return len([]rune(b.Value()))
}

// AsEntry exposes a block through the generic entry shape used by search results.
func (b Block) AsEntry() Entry {
	return Entry{
		ID:             b.ID,
		OrganizationID: b.OrganizationID,
		Store:          StoreCore,
		Fields:         map[string]string{"label": b.Label, "value": b.Value()},
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
		IsDeleted:      b.IsDeleted,
		Metadata:       b.Metadata,
	}
}

// Link represents a relation between two entries.
type Link struct {
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	Rel       string    `json:"rel"`
	CreatedAt time.Time `json:"created_at"`
}

// Link relations.
const (
	RelSupersedes = "supersedes"
	RelRelatesTo  = "relates_to"
	RelDerived    = "derived_from"
)

// ValidRels are the allowed link relations.
var ValidRels = map[string]bool{
	RelSupersedes: true,
	RelRelatesTo:  true,
	RelDerived:    true,
}
