package main

import (
	"context"
	"flag"
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/Abhiram-108/minitrello/domain"
	"github.com/Abhiram-108/minitrello/position"
	"github.com/Abhiram-108/minitrello/storage"
)

// Store is the subset of the entity store needed to re-space a board.
type Store interface {
	ListLists(ctx context.Context, boardID string) ([]domain.List, error)
	ListCards(ctx context.Context, listID string) ([]domain.Card, error)
	UpdateListPosition(ctx context.Context, listID string, position float64) error
	MoveCard(ctx context.Context, cardID, listID string, position float64) (*domain.Card, error)
}

// Re-spaces list and card positions on a board to 1, 2, 3, ... once
// repeated midpoint inserts have exhausted the gaps between neighbours.
func main() {
	boardID := flag.String("board", "", "board to normalize")
	dryRun := flag.Bool("dry-run", false, "report changes without writing them")
	flag.Parse()
	if *boardID == "" {
		log.Fatal("-board is required")
	}
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	store, closeStore, err := storage.Open(storage.ConfigFromEnv())
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer closeStore()

	n, err := normalizeBoard(context.Background(), store, *boardID, *dryRun)
	if err != nil {
		log.WithError(err).WithField("board", *boardID).Fatal("normalize failed")
	}
	log.WithFields(log.Fields{"board": *boardID, "updated": n, "dryRun": *dryRun}).Info("normalize complete")
}

// normalizeBoard returns the number of lists and cards whose position changed.
func normalizeBoard(ctx context.Context, store Store, boardID string, dryRun bool) (int, error) {
	lists, err := store.ListLists(ctx, boardID)
	if err != nil {
		return 0, err
	}
	items := make([]position.Item, len(lists))
	for i, l := range lists {
		items[i] = position.Item{ID: l.ID, Position: l.Position}
	}
	updated := 0
	for _, it := range position.Normalize(items) {
		log.WithFields(log.Fields{"list": it.ID, "position": it.Position}).Debug("list position")
		if !dryRun {
			if err := store.UpdateListPosition(ctx, it.ID, it.Position); err != nil {
				return updated, err
			}
		}
		updated++
	}

	for _, l := range lists {
		cards, err := store.ListCards(ctx, l.ID)
		if err != nil {
			return updated, err
		}
		items := make([]position.Item, len(cards))
		for i, c := range cards {
			items[i] = position.Item{ID: c.ID, Position: c.Position}
		}
		for _, it := range position.Normalize(items) {
			log.WithFields(log.Fields{"card": it.ID, "list": l.ID, "position": it.Position}).Debug("card position")
			if !dryRun {
				if _, err := store.MoveCard(ctx, it.ID, l.ID, it.Position); err != nil {
					return updated, err
				}
			}
			updated++
		}
	}
	return updated, nil
}
