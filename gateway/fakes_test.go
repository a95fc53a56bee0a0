package gateway

import (
	"context"
	"errors"
	"sync"

	"github.com/Abhiram-108/minitrello/domain"
)

type fakeStore struct {
	mu       sync.Mutex
	boards   map[string]domain.Board
	members  map[string]map[string]domain.Membership
	lists    map[string]domain.List
	cards    map[string]domain.Card
	comments []domain.Comment
	history  []domain.Activity

	moveErr    error
	blockWrite bool
	blockRead  bool
	writes     int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		boards:  map[string]domain.Board{},
		members: map[string]map[string]domain.Membership{},
		lists:   map[string]domain.List{},
		cards:   map[string]domain.Card{},
	}
}

func (s *fakeStore) addBoard(id, owner string, members ...string) {
	s.boards[id] = domain.Board{ID: id, Title: id, OwnerID: owner}
	s.members[id] = map[string]domain.Membership{}
	for _, m := range members {
		s.members[id][m] = domain.Membership{BoardID: id, UserID: m, Role: domain.RoleMember}
	}
}

func (s *fakeStore) addList(id, boardID string) {
	s.lists[id] = domain.List{ID: id, BoardID: boardID, Title: "list " + id}
}

func (s *fakeStore) addCard(id, listID, boardID string, pos float64) {
	s.cards[id] = domain.Card{ID: id, ListID: listID, BoardID: boardID, Position: pos, Title: "card " + id}
}

func (s *fakeStore) GetBoard(ctx context.Context, boardID string) (*domain.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.boards[boardID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *fakeStore) GetMembership(ctx context.Context, boardID, userID string) (*domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[boardID][userID]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (s *fakeStore) GetCard(ctx context.Context, cardID string) (*domain.Card, error) {
	if s.blockRead {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cards[cardID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *fakeStore) GetList(ctx context.Context, listID string) (*domain.List, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[listID]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *fakeStore) ListCards(ctx context.Context, listID string) ([]domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Card
	for _, c := range s.cards {
		if c.ListID == listID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) MoveCard(ctx context.Context, cardID, listID string, position float64) (*domain.Card, error) {
	if s.blockWrite {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.moveErr != nil {
		return nil, s.moveErr
	}
	c, ok := s.cards[cardID]
	if !ok {
		return nil, nil
	}
	c.ListID = listID
	c.Position = position
	s.cards[cardID] = c
	s.writes++
	return &c, nil
}

func (s *fakeStore) InsertComment(ctx context.Context, c domain.Comment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments = append(s.comments, c)
	s.writes++
	return nil
}

func (s *fakeStore) InsertActivity(ctx context.Context, a domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, a)
	return nil
}

func (s *fakeStore) ListActivities(ctx context.Context, boardID string, limit int, pageToken string) ([]domain.Activity, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Activity(nil), s.history...), "", nil
}

// stalledExporter holds every export until its context ends.
type stalledExporter struct {
	started chan struct{}
}

func (e *stalledExporter) Export(ctx context.Context, a domain.Activity) error {
	e.started <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

type fakeSessions struct {
	identities map[string]domain.Identity
	attached   map[string][]string
	detached   map[string][]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		identities: map[string]domain.Identity{},
		attached:   map[string][]string{},
		detached:   map[string][]string{},
	}
}

func (s *fakeSessions) Identity(connID string) (domain.Identity, bool) {
	id, ok := s.identities[connID]
	return id, ok
}

func (s *fakeSessions) Attach(connID, boardID string) error {
	s.attached[connID] = append(s.attached[connID], boardID)
	return nil
}

func (s *fakeSessions) Detach(connID, boardID string) {
	s.detached[connID] = append(s.detached[connID], boardID)
}

type published struct {
	boardID string
	event   string
	payload any
	exclude string
}

type fakePublisher struct {
	events []published
}

func (p *fakePublisher) Publish(boardID, event string, payload any, exclude string) (int, error) {
	p.events = append(p.events, published{boardID, event, payload, exclude})
	return 1, nil
}

type movedRecord struct {
	actor      domain.Identity
	card       domain.Card
	fromListID string
}

type fakeRecorder struct {
	err      error
	moved    []movedRecord
	comments []domain.Comment
}

func (r *fakeRecorder) CardMoved(ctx context.Context, actor domain.Identity, card domain.Card, fromListID string) error {
	r.moved = append(r.moved, movedRecord{actor, card, fromListID})
	return r.err
}

func (r *fakeRecorder) CommentAdded(ctx context.Context, actor domain.Identity, card domain.Card, comment domain.Comment) error {
	r.comments = append(r.comments, comment)
	return r.err
}

type fakeDeduper struct {
	seen    map[string]bool
	removed []string
	err     error
}

func (d *fakeDeduper) Add(ctx context.Context, userID, key string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	k := userID + ":" + key
	if d.seen[k] {
		return false, nil
	}
	d.seen[k] = true
	return true, nil
}

func (d *fakeDeduper) Remove(ctx context.Context, userID, key string) error {
	k := userID + ":" + key
	delete(d.seen, k)
	d.removed = append(d.removed, k)
	return nil
}

var errBoom = errors.New("boom")
