package store

import (
	"context"
	"testing"

	"github.com/rcliao/memoria/internal/model"
)

func TestLinkCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := insertSemantic(t, s, "a", "memory a", "")
	b := insertSemantic(t, s, "b", "memory b", "")

	link, err := s.Link(ctx, model.Link{FromID: a.ID, ToID: b.ID, Rel: model.RelRelatesTo})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if link.Rel != model.RelRelatesTo {
		t.Errorf("expected relates_to, got %s", link.Rel)
	}

	links, err := s.GetLinks(ctx, b.ID)
	if err != nil {
		t.Fatalf("get links: %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}

	// Duplicate links are ignored.
	s.Link(ctx, model.Link{FromID: a.ID, ToID: b.ID, Rel: model.RelRelatesTo})
	links, _ = s.GetLinks(ctx, a.ID)
	if len(links) != 1 {
		t.Errorf("expected duplicate ignored, got %d", len(links))
	}
}

func TestLinkRemove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := insertSemantic(t, s, "a", "memory a", "")
	b := insertSemantic(t, s, "b", "memory b", "")
	l := model.Link{FromID: a.ID, ToID: b.ID, Rel: model.RelDerived}
	s.Link(ctx, l)

	if err := s.Unlink(ctx, l); err != nil {
		t.Fatalf("remove link: %v", err)
	}
	links, _ := s.GetLinks(ctx, a.ID)
	if len(links) != 0 {
		t.Errorf("expected 0 links after remove, got %d", len(links))
	}
}

func TestLinkInvalidRel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Link(ctx, model.Link{FromID: "x", ToID: "y", Rel: "invalid"}); err == nil {
		t.Fatal("expected error for invalid relation")
	}
}
