package storage

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/Abhiram-108/minitrello/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS boards (
	id TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL,
	owner_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS board_members (
	board_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	PRIMARY KEY (board_id, user_id)
);
CREATE TABLE IF NOT EXISTS lists (
	id TEXT PRIMARY KEY,
	board_id TEXT NOT NULL,
	title TEXT NOT NULL,
	position REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS lists_board ON lists (board_id, position);
CREATE TABLE IF NOT EXISTS cards (
	id TEXT PRIMARY KEY,
	list_id TEXT NOT NULL,
	board_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	position REAL NOT NULL,
	due_date INTEGER
);
CREATE INDEX IF NOT EXISTS cards_list ON cards (list_id, position);
CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	card_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	text TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS comments_card ON comments (card_id, created_at);
CREATE TABLE IF NOT EXISTS activities (
	row_key TEXT NOT NULL,
	id TEXT NOT NULL,
	board_id TEXT NOT NULL,
	type TEXT NOT NULL,
	user_id TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (board_id, row_key)
);
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	avatar TEXT NOT NULL DEFAULT ''
);
`

// SQLStore is the entity store on a local SQLite database, used for
// development and tests.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLite opens path and creates the schema if needed. Use ":memory:"
// for a throwaway database.
func OpenSQLite(path string) (*SQLStore, error) {
	dsn := path + "?_busy_timeout=5000"
	if strings.Contains(path, "?") {
		dsn = path + "&_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite serializes writers, and ":memory:" databases live per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) GetBoard(ctx context.Context, boardID string) (*domain.Board, error) {
	var b domain.Board
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workspace_id, title, owner_id FROM boards WHERE id = ?`, boardID,
	).Scan(&b.ID, &b.WorkspaceID, &b.Title, &b.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifySQL(ctx, err)
	}
	return &b, nil
}

func (s *SQLStore) GetMembership(ctx context.Context, boardID, userID string) (*domain.Membership, error) {
	m := domain.Membership{BoardID: boardID, UserID: userID}
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM board_members WHERE board_id = ? AND user_id = ?`, boardID, userID,
	).Scan(&m.Role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifySQL(ctx, err)
	}
	return &m, nil
}

func (s *SQLStore) GetList(ctx context.Context, listID string) (*domain.List, error) {
	var l domain.List
	err := s.db.QueryRowContext(ctx,
		`SELECT id, board_id, title, position FROM lists WHERE id = ?`, listID,
	).Scan(&l.ID, &l.BoardID, &l.Title, &l.Position)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifySQL(ctx, err)
	}
	return &l, nil
}

func (s *SQLStore) GetCard(ctx context.Context, cardID string) (*domain.Card, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, list_id, board_id, title, description, position, due_date FROM cards WHERE id = ?`, cardID)
	c, err := scanCard(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifySQL(ctx, err)
	}
	return &c, nil
}

func (s *SQLStore) GetUser(ctx context.Context, userID string) (*domain.Identity, error) {
	var u domain.Identity
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, avatar FROM users WHERE id = ?`, userID,
	).Scan(&u.ID, &u.Name, &u.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifySQL(ctx, err)
	}
	return &u, nil
}

func (s *SQLStore) ListCards(ctx context.Context, listID string) ([]domain.Card, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, list_id, board_id, title, description, position, due_date FROM cards WHERE list_id = ? ORDER BY position, id`, listID)
	if err != nil {
		return nil, classifySQL(ctx, err)
	}
	defer rows.Close()
	var out []domain.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, classifySQL(ctx, err)
		}
		out = append(out, c)
	}
	return out, classifySQL(ctx, rows.Err())
}

func (s *SQLStore) ListLists(ctx context.Context, boardID string) ([]domain.List, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, board_id, title, position FROM lists WHERE board_id = ? ORDER BY position, id`, boardID)
	if err != nil {
		return nil, classifySQL(ctx, err)
	}
	defer rows.Close()
	var out []domain.List
	for rows.Next() {
		var l domain.List
		if err := rows.Scan(&l.ID, &l.BoardID, &l.Title, &l.Position); err != nil {
			return nil, classifySQL(ctx, err)
		}
		out = append(out, l)
	}
	return out, classifySQL(ctx, rows.Err())
}

func (s *SQLStore) MoveCard(ctx context.Context, cardID, listID string, position float64) (*domain.Card, error) {
	if math.IsNaN(position) || math.IsInf(position, 0) {
		return nil, domain.Validation("position must be finite")
	}
	res, err := s.db.ExecContext(ctx, `UPDATE cards SET list_id = ?, position = ? WHERE id = ?`, listID, position, cardID)
	if err != nil {
		return nil, classifySQL(ctx, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return nil, classifySQL(ctx, err)
	}
	return s.GetCard(ctx, cardID)
}

func (s *SQLStore) UpdateListPosition(ctx context.Context, listID string, position float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE lists SET position = ? WHERE id = ?`, position, listID)
	if err != nil {
		return classifySQL(ctx, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return classifySQL(ctx, err)
	} else if n == 0 {
		return domain.NotFound("list %s not found", listID)
	}
	return nil
}

func (s *SQLStore) InsertComment(ctx context.Context, c domain.Comment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (id, card_id, author_id, text, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.CardID, c.AuthorID, c.Text, c.CreatedAt.UnixNano())
	return classifySQL(ctx, err)
}

func (s *SQLStore) ListComments(ctx context.Context, cardID string) ([]domain.Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, card_id, author_id, text, created_at FROM comments WHERE card_id = ? ORDER BY created_at, id`, cardID)
	if err != nil {
		return nil, classifySQL(ctx, err)
	}
	defer rows.Close()
	var out []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var created int64
		if err := rows.Scan(&c.ID, &c.CardID, &c.AuthorID, &c.Text, &created); err != nil {
			return nil, classifySQL(ctx, err)
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, c)
	}
	return out, classifySQL(ctx, rows.Err())
}

func (s *SQLStore) InsertActivity(ctx context.Context, a domain.Activity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (row_key, id, board_id, type, user_id, data, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		timeRowKey(a.CreatedAt, a.ID, true), a.ID, a.BoardID, string(a.Type), a.UserID, string(a.Data), a.CreatedAt.UnixNano())
	return classifySQL(ctx, err)
}

// ListActivities pages newest first. The token carries the last row key of
// the previous page.
func (s *SQLStore) ListActivities(ctx context.Context, boardID string, limit int, pageToken string) ([]domain.Activity, string, error) {
	after := ""
	if pageToken != "" {
		pk, rk, err := decodePageToken(pageToken)
		if err != nil || pk != boardID {
			return nil, "", domain.Validation("invalid page token")
		}
		after = rk
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_key, id, type, user_id, data, created_at FROM activities
		 WHERE board_id = ? AND row_key > ? ORDER BY row_key LIMIT ?`, boardID, after, limit+1)
	if err != nil {
		return nil, "", classifySQL(ctx, err)
	}
	defer rows.Close()
	var (
		out  []domain.Activity
		keys []string
	)
	for rows.Next() {
		var (
			a       domain.Activity
			rk      string
			typ     string
			data    string
			created int64
		)
		if err := rows.Scan(&rk, &a.ID, &typ, &a.UserID, &data, &created); err != nil {
			return nil, "", classifySQL(ctx, err)
		}
		a.BoardID = boardID
		a.Type = domain.ActivityType(typ)
		a.Data = []byte(data)
		a.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, a)
		keys = append(keys, rk)
	}
	if err := rows.Err(); err != nil {
		return nil, "", classifySQL(ctx, err)
	}
	if len(out) <= limit {
		return out, "", nil
	}
	out = out[:limit]
	return out, encodePageToken(&boardID, &keys[limit-1]), nil
}

func (s *SQLStore) PutBoard(ctx context.Context, b domain.Board) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO boards (id, workspace_id, title, owner_id) VALUES (?, ?, ?, ?)`,
		b.ID, b.WorkspaceID, b.Title, b.OwnerID)
	return classifySQL(ctx, err)
}

func (s *SQLStore) PutMembership(ctx context.Context, m domain.Membership) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO board_members (board_id, user_id, role) VALUES (?, ?, ?)`,
		m.BoardID, m.UserID, m.Role)
	return classifySQL(ctx, err)
}

func (s *SQLStore) PutList(ctx context.Context, l domain.List) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO lists (id, board_id, title, position) VALUES (?, ?, ?, ?)`,
		l.ID, l.BoardID, l.Title, l.Position)
	return classifySQL(ctx, err)
}

func (s *SQLStore) PutCard(ctx context.Context, c domain.Card) error {
	var due any
	if c.DueDate != nil {
		due = c.DueDate.UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cards (id, list_id, board_id, title, description, position, due_date) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ListID, c.BoardID, c.Title, c.Description, c.Position, due)
	return classifySQL(ctx, err)
}

func (s *SQLStore) PutUser(ctx context.Context, u domain.Identity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO users (id, name, avatar) VALUES (?, ?, ?)`, u.ID, u.Name, u.Avatar)
	return classifySQL(ctx, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (domain.Card, error) {
	var (
		c   domain.Card
		due sql.NullInt64
	)
	if err := row.Scan(&c.ID, &c.ListID, &c.BoardID, &c.Title, &c.Description, &c.Position, &due); err != nil {
		return domain.Card{}, err
	}
	if due.Valid {
		t := time.Unix(0, due.Int64).UTC()
		c.DueDate = &t
	}
	return c, nil
}

// classifySQL reports lock contention and deadlines as StoreUnavailable.
func classifySQL(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return domain.StoreUnavailable(err)
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr:
			return domain.StoreUnavailable(err)
		}
	}
	return domain.Internal(err)
}
