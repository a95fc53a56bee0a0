package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Abhiram-108/minitrello/domain"
)

const (
	BackendAzure  = "azure"
	BackendSQLite = "sqlite"

	defaultSQLitePath = "minitrello.db"
)

// Config selects and addresses an entity store backend.
type Config struct {
	Backend          string
	ConnectionString string
	SQLitePath       string
	Tables           TableNames
	ActivityQueue    string
}

// ConfigFromEnv reads STORE_BACKEND (default azure), STORAGE_CONNECTION_STRING,
// SQLITE_PATH, ACTIVITY_QUEUE and the *_TABLE overrides.
func ConfigFromEnv() Config {
	cfg := Config{
		Backend:          getenv("STORE_BACKEND", BackendAzure),
		ConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		SQLitePath:       getenv("SQLITE_PATH", defaultSQLitePath),
		Tables:           DefaultTableNames(),
		ActivityQueue:    os.Getenv("ACTIVITY_QUEUE"),
	}
	t := &cfg.Tables
	t.Boards = getenv("BOARDS_TABLE", t.Boards)
	t.Members = getenv("MEMBERS_TABLE", t.Members)
	t.Lists = getenv("LISTS_TABLE", t.Lists)
	t.Cards = getenv("CARDS_TABLE", t.Cards)
	t.Comments = getenv("COMMENTS_TABLE", t.Comments)
	t.Activities = getenv("ACTIVITIES_TABLE", t.Activities)
	t.Users = getenv("USERS_TABLE", t.Users)
	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Store is the method set shared by TableStore and SQLStore.
type Store interface {
	GetBoard(ctx context.Context, boardID string) (*domain.Board, error)
	GetMembership(ctx context.Context, boardID, userID string) (*domain.Membership, error)
	GetList(ctx context.Context, listID string) (*domain.List, error)
	GetCard(ctx context.Context, cardID string) (*domain.Card, error)
	GetUser(ctx context.Context, userID string) (*domain.Identity, error)
	ListCards(ctx context.Context, listID string) ([]domain.Card, error)
	ListLists(ctx context.Context, boardID string) ([]domain.List, error)
	MoveCard(ctx context.Context, cardID, listID string, position float64) (*domain.Card, error)
	UpdateListPosition(ctx context.Context, listID string, position float64) error
	InsertComment(ctx context.Context, c domain.Comment) error
	ListComments(ctx context.Context, cardID string) ([]domain.Comment, error)
	InsertActivity(ctx context.Context, a domain.Activity) error
	ListActivities(ctx context.Context, boardID string, limit int, pageToken string) ([]domain.Activity, string, error)
	PutBoard(ctx context.Context, b domain.Board) error
	PutMembership(ctx context.Context, m domain.Membership) error
	PutList(ctx context.Context, l domain.List) error
	PutCard(ctx context.Context, c domain.Card) error
	PutUser(ctx context.Context, u domain.Identity) error
}

var (
	_ Store = (*TableStore)(nil)
	_ Store = (*SQLStore)(nil)
)

var errMissingConnection = errors.New("missing STORAGE_CONNECTION_STRING")

// Open connects to the configured backend. The returned close func releases
// the backend's resources and is never nil.
func Open(cfg Config) (Store, func() error, error) {
	switch cfg.Backend {
	case BackendSQLite:
		s, err := OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case BackendAzure:
		if cfg.ConnectionString == "" {
			return nil, nil, errMissingConnection
		}
		s, err := NewTableStore(cfg.ConnectionString, cfg.Tables)
		if err != nil {
			return nil, nil, err
		}
		return s, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.Backend)
	}
}
