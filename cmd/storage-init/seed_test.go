package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Abhiram-108/minitrello/storage"
)

func TestSeedDemoIsRepeatable(t *testing.T) {
	s, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "seed.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := seedDemo(ctx, s); err != nil {
			t.Fatalf("seed run %d: %v", i, err)
		}
	}
	b, err := s.GetBoard(ctx, demoBoardID)
	if err != nil || b == nil || b.OwnerID != "demo-owner" {
		t.Fatalf("board = %+v, %v", b, err)
	}
	if m, err := s.GetMembership(ctx, demoBoardID, "demo-member"); err != nil || m == nil {
		t.Fatalf("member = %+v, %v", m, err)
	}
	cards, err := s.ListCards(ctx, "demo-todo")
	if err != nil || len(cards) != 2 || cards[0].Title != "Draft announcement" {
		t.Fatalf("cards = %+v, %v", cards, err)
	}
}
