package main

import (
	"context"
	"fmt"

	"github.com/Abhiram-108/minitrello/domain"
)

// Seeder writes entities directly, bypassing the mutation pipeline.
type Seeder interface {
	PutBoard(ctx context.Context, b domain.Board) error
	PutMembership(ctx context.Context, m domain.Membership) error
	PutList(ctx context.Context, l domain.List) error
	PutCard(ctx context.Context, c domain.Card) error
	PutUser(ctx context.Context, u domain.Identity) error
}

const demoBoardID = "demo-board"

var demoUsers = []domain.Identity{
	{ID: "demo-owner", Name: "Dana Owner"},
	{ID: "demo-member", Name: "Max Member"},
}

var demoLists = []struct {
	id    string
	title string
	cards []string
}{
	{id: "demo-todo", title: "To do", cards: []string{"Draft announcement", "Collect feedback"}},
	{id: "demo-doing", title: "Doing", cards: []string{"Fix login bug"}},
	{id: "demo-done", title: "Done"},
}

func seedDemo(ctx context.Context, s Seeder) error {
	for _, u := range demoUsers {
		if err := s.PutUser(ctx, u); err != nil {
			return fmt.Errorf("user %s: %w", u.ID, err)
		}
	}
	if err := s.PutBoard(ctx, domain.Board{ID: demoBoardID, Title: "Demo board", OwnerID: demoUsers[0].ID}); err != nil {
		return fmt.Errorf("board: %w", err)
	}
	if err := s.PutMembership(ctx, domain.Membership{BoardID: demoBoardID, UserID: demoUsers[0].ID, Role: domain.RoleOwner}); err != nil {
		return fmt.Errorf("owner membership: %w", err)
	}
	if err := s.PutMembership(ctx, domain.Membership{BoardID: demoBoardID, UserID: demoUsers[1].ID, Role: domain.RoleMember}); err != nil {
		return fmt.Errorf("member membership: %w", err)
	}
	for i, l := range demoLists {
		if err := s.PutList(ctx, domain.List{ID: l.id, BoardID: demoBoardID, Title: l.title, Position: float64(i + 1)}); err != nil {
			return fmt.Errorf("list %s: %w", l.id, err)
		}
		for j, title := range l.cards {
			card := domain.Card{
				ID:       fmt.Sprintf("%s-%d", l.id, j+1),
				ListID:   l.id,
				BoardID:  demoBoardID,
				Title:    title,
				Position: float64(j + 1),
			}
			if err := s.PutCard(ctx, card); err != nil {
				return fmt.Errorf("card %s: %w", card.ID, err)
			}
		}
	}
	return nil
}
