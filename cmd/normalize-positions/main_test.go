package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Abhiram-108/minitrello/domain"
	"github.com/Abhiram-108/minitrello/storage"
)

func seededStore(t *testing.T) *storage.SQLStore {
	t.Helper()
	s, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "norm.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	must(s.PutBoard(ctx, domain.Board{ID: "b1", Title: "B", OwnerID: "u"}))
	must(s.PutList(ctx, domain.List{ID: "L1", BoardID: "b1", Title: "one", Position: 0.5}))
	must(s.PutList(ctx, domain.List{ID: "L2", BoardID: "b1", Title: "two", Position: 2}))
	for id, pos := range map[string]float64{"a": 1, "b": 1.0000001, "c": 1.0000002} {
		must(s.PutCard(ctx, domain.Card{ID: id, ListID: "L1", BoardID: "b1", Title: id, Position: pos}))
	}
	return s
}

func TestNormalizeBoard(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()

	n, err := normalizeBoard(ctx, s, "b1", false)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	// L1 0.5 -> 1, b -> 2, c -> 3
	if n != 3 {
		t.Fatalf("updated = %d, want 3", n)
	}
	cards, err := s.ListCards(ctx, "L1")
	if err != nil {
		t.Fatalf("list cards: %v", err)
	}
	for i, want := range []string{"a", "b", "c"} {
		if cards[i].ID != want || cards[i].Position != float64(i+1) {
			t.Fatalf("card %d = %+v", i, cards[i])
		}
	}
	l, _ := s.GetList(ctx, "L1")
	if l.Position != 1 {
		t.Fatalf("list position = %v", l.Position)
	}

	if n, err := normalizeBoard(ctx, s, "b1", false); err != nil || n != 0 {
		t.Fatalf("second run = %d, %v", n, err)
	}
}

func TestNormalizeBoardDryRun(t *testing.T) {
	s := seededStore(t)
	ctx := context.Background()
	n, err := normalizeBoard(ctx, s, "b1", true)
	if err != nil || n != 3 {
		t.Fatalf("dry run = %d, %v", n, err)
	}
	c, _ := s.GetCard(ctx, "b")
	if c.Position != 1.0000001 {
		t.Fatalf("dry run wrote position %v", c.Position)
	}
}
