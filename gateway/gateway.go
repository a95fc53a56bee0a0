// Package gateway is the single authorize, apply, record and broadcast
// pipeline for live board mutations.
package gateway

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Abhiram-108/minitrello/domain"
	"github.com/Abhiram-108/minitrello/position"
)

const (
	DefaultTimeout          = 5 * time.Second
	DefaultMaxCommentLength = 10000
)

// Store is the slice of the entity store the gateway reads and writes.
// Getters return a nil entity and nil error when the row does not exist.
type Store interface {
	GetBoard(ctx context.Context, boardID string) (*domain.Board, error)
	GetMembership(ctx context.Context, boardID, userID string) (*domain.Membership, error)
	GetCard(ctx context.Context, cardID string) (*domain.Card, error)
	GetList(ctx context.Context, listID string) (*domain.List, error)
	ListCards(ctx context.Context, listID string) ([]domain.Card, error)
	MoveCard(ctx context.Context, cardID, listID string, position float64) (*domain.Card, error)
	InsertComment(ctx context.Context, c domain.Comment) error
}

// Sessions resolves connection identities and owns room membership.
type Sessions interface {
	Identity(connID string) (domain.Identity, bool)
	Attach(connID, boardID string) error
	Detach(connID, boardID string)
}

// Publisher fans an event out to a board room.
type Publisher interface {
	Publish(boardID, event string, payload any, exclude string) (int, error)
}

// ActivityRecorder appends history for accepted mutations. Errors are
// reported but never undo the mutation.
type ActivityRecorder interface {
	CardMoved(ctx context.Context, actor domain.Identity, card domain.Card, fromListID string) error
	CommentAdded(ctx context.Context, actor domain.Identity, card domain.Card, comment domain.Comment) error
}

// Deduper records client request ids so retried mutations apply once.
type Deduper interface {
	// Add records the key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when applying fails.
	Remove(ctx context.Context, userID, key string) error
}

// Outcome is returned to the originator of an accepted mutation.
type Outcome struct {
	Result any
	// Duplicate is set when the request id was already applied; nothing was
	// written or broadcast.
	Duplicate bool
}

// Gateway validates, authorizes and applies mutations.
type Gateway struct {
	store    Store
	sessions Sessions
	fanout   Publisher
	activity ActivityRecorder
	deduper  Deduper
	logger   *log.Logger

	timeout          time.Duration
	maxCommentLength int
	now              func() time.Time
	newID            func() string
}

// New wires a Gateway. The deduper is optional and set with WithDeduper.
func New(store Store, sessions Sessions, fanout Publisher, activity ActivityRecorder, logger *log.Logger) *Gateway {
	if store == nil || sessions == nil || fanout == nil || activity == nil {
		panic("gateway.New: store, sessions, fanout and activity are required")
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Gateway{
		store:            store,
		sessions:         sessions,
		fanout:           fanout,
		activity:         activity,
		logger:           logger,
		timeout:          DefaultTimeout,
		maxCommentLength: DefaultMaxCommentLength,
		now:              time.Now,
		newID:            uuid.NewString,
	}
}

// WithDeduper enables request id deduplication.
func (g *Gateway) WithDeduper(d Deduper) *Gateway {
	g.deduper = d
	return g
}

// WithTimeout bounds the authorize and apply steps of every mutation.
func (g *Gateway) WithTimeout(d time.Duration) *Gateway {
	if d > 0 {
		g.timeout = d
	}
	return g
}

// WithMaxCommentLength caps comment text length in runes.
func (g *Gateway) WithMaxCommentLength(n int) *Gateway {
	if n > 0 {
		g.maxCommentLength = n
	}
	return g
}

// Handle runs one mutation for connID to completion. On error nothing was
// written, recorded or broadcast and the error is a *domain.Error.
func (g *Gateway) Handle(ctx context.Context, connID string, m domain.Mutation) (Outcome, error) {
	metrics, ctx := newMutationMetrics(ctx, g.logger, m)
	out, err := g.handle(ctx, connID, m, metrics)
	if err != nil {
		err = domain.AsError(err)
	}
	metrics.Log(err)
	return out, err
}

func (g *Gateway) handle(ctx context.Context, connID string, m domain.Mutation, metrics *mutationMetrics) (Outcome, error) {
	actor, ok := g.sessions.Identity(connID)
	if !ok {
		metrics.SetErrorStage(stageAuthenticate)
		return Outcome{}, domain.NotAuthenticated("connection is not authenticated")
	}
	metrics.SetUser(actor.ID)

	switch m.Kind {
	case domain.MutationPresenceJoin:
		return g.join(ctx, connID, actor, m.BoardID, metrics)
	case domain.MutationPresenceLeave:
		g.sessions.Detach(connID, m.BoardID)
		return Outcome{}, nil
	case domain.MutationTypingSignal:
		return g.typing(ctx, connID, actor, m.TypingSignal, metrics)
	case domain.MutationCardMoved:
		return g.moveCard(ctx, connID, actor, m.RequestID, m.CardMoved, metrics)
	case domain.MutationCommentAdded:
		return g.addComment(ctx, connID, actor, m.RequestID, m.CommentAdded, metrics)
	default:
		metrics.SetErrorStage(stageValidate)
		return Outcome{}, domain.Validation("unsupported event")
	}
}

func (g *Gateway) join(ctx context.Context, connID string, actor domain.Identity, boardID string, metrics *mutationMetrics) (Outcome, error) {
	if boardID == "" {
		metrics.SetErrorStage(stageValidate)
		return Outcome{}, domain.Validation("boardId is required")
	}
	if err := g.authorize(ctx, boardID, actor.ID, metrics); err != nil {
		return Outcome{}, err
	}
	if err := g.sessions.Attach(connID, boardID); err != nil {
		metrics.SetErrorStage(stageApply)
		return Outcome{}, err
	}
	return Outcome{Result: map[string]string{"boardId": boardID}}, nil
}

func (g *Gateway) typing(ctx context.Context, connID string, actor domain.Identity, p *domain.TypingSignal, metrics *mutationMetrics) (Outcome, error) {
	if p == nil || p.BoardID == "" || p.CardID == "" {
		metrics.SetErrorStage(stageValidate)
		return Outcome{}, domain.Validation("boardId and cardId are required")
	}
	if err := g.authorize(ctx, p.BoardID, actor.ID, metrics); err != nil {
		return Outcome{}, err
	}

	opCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	if _, err := g.cardOnBoard(opCtx, p.CardID, p.BoardID, metrics); err != nil {
		return Outcome{}, err
	}
	metrics.Observe(stageValidate, time.Since(start))
	g.publish(p.BoardID, domain.EventUserTyping, domain.TypingPayload{
		User:      actor,
		CardID:    p.CardID,
		IsTyping:  p.IsTyping,
		Timestamp: g.now().UnixMilli(),
	}, connID, metrics)
	return Outcome{}, nil
}

func (g *Gateway) moveCard(ctx context.Context, connID string, actor domain.Identity, requestID string, p *domain.CardMoved, metrics *mutationMetrics) (Outcome, error) {
	if p == nil || p.BoardID == "" || p.CardID == "" || p.ToListID == "" {
		metrics.SetErrorStage(stageValidate)
		return Outcome{}, domain.Validation("boardId, cardId and toListId are required")
	}
	if p.NewPosition != nil && !position.Valid(*p.NewPosition) {
		metrics.SetErrorStage(stageValidate)
		return Outcome{}, domain.Validation("newPosition must be a finite number")
	}
	if err := g.authorize(ctx, p.BoardID, actor.ID, metrics); err != nil {
		return Outcome{}, err
	}

	opCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	card, err := g.cardOnBoard(opCtx, p.CardID, p.BoardID, metrics)
	if err != nil {
		return Outcome{}, err
	}
	list, err := g.store.GetList(opCtx, p.ToListID)
	if err != nil {
		metrics.SetErrorStage(stageValidate)
		return Outcome{}, storeError(opCtx, err)
	}
	if list == nil {
		metrics.SetErrorStage(stageValidate)
		return Outcome{}, domain.NotFound("list %s not found", p.ToListID)
	}
	if list.BoardID != p.BoardID {
		metrics.SetErrorStage(stageValidate)
		return Outcome{}, domain.InvalidReference("list %s does not belong to board %s", p.ToListID, p.BoardID)
	}
	newPos, err := g.targetPosition(opCtx, p, card.ID)
	if err != nil {
		metrics.SetErrorStage(stageValidate)
		return Outcome{}, err
	}
	metrics.Observe(stageValidate, time.Since(start))

	dup, release, err := g.claim(opCtx, actor.ID, requestID, metrics)
	if err != nil || dup {
		return Outcome{Duplicate: dup}, err
	}

	// The current list is read above, before the write, so the history
	// records the real source even if the client's view was stale.
	fromListID := card.ListID

	start = time.Now()
	moved, err := g.store.MoveCard(opCtx, card.ID, list.ID, newPos)
	metrics.Observe(stageApply, time.Since(start))
	if err != nil {
		release()
		metrics.SetErrorStage(stageApply)
		return Outcome{}, storeError(opCtx, err)
	}
	if moved == nil {
		release()
		metrics.SetErrorStage(stageApply)
		return Outcome{}, domain.NotFound("card %s not found", card.ID)
	}

	g.record(ctx, metrics, func(rctx context.Context) error {
		return g.activity.CardMoved(rctx, actor, *moved, fromListID)
	})
	g.publish(p.BoardID, domain.EventCardMoved, domain.CardMovedPayload{
		Card:       *moved,
		FromListID: fromListID,
		MovedBy:    actor,
		Timestamp:  g.now().UnixMilli(),
	}, connID, metrics)
	return Outcome{Result: *moved}, nil
}

func (g *Gateway) addComment(ctx context.Context, connID string, actor domain.Identity, requestID string, p *domain.CommentAdded, metrics *mutationMetrics) (Outcome, error) {
	if p == nil || p.BoardID == "" || p.CardID == "" {
		metrics.SetErrorStage(stageValidate)
		return Outcome{}, domain.Validation("boardId and cardId are required")
	}
	if err := g.authorize(ctx, p.BoardID, actor.ID, metrics); err != nil {
		return Outcome{}, err
	}
	text := strings.TrimSpace(p.Text)
	if text == "" {
		metrics.SetErrorStage(stageValidate)
		return Outcome{}, domain.Validation("comment text must not be empty")
	}
	if utf8.RuneCountInString(text) > g.maxCommentLength {
		metrics.SetErrorStage(stageValidate)
		return Outcome{}, domain.Validation("comment text exceeds %d characters", g.maxCommentLength)
	}

	opCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	card, err := g.cardOnBoard(opCtx, p.CardID, p.BoardID, metrics)
	if err != nil {
		return Outcome{}, err
	}
	metrics.Observe(stageValidate, time.Since(start))

	dup, release, err := g.claim(opCtx, actor.ID, requestID, metrics)
	if err != nil || dup {
		return Outcome{Duplicate: dup}, err
	}

	comment := domain.Comment{
		ID:        g.newID(),
		CardID:    card.ID,
		AuthorID:  actor.ID,
		Text:      text,
		CreatedAt: g.now().UTC(),
	}
	start = time.Now()
	err = g.store.InsertComment(opCtx, comment)
	metrics.Observe(stageApply, time.Since(start))
	if err != nil {
		release()
		metrics.SetErrorStage(stageApply)
		return Outcome{}, storeError(opCtx, err)
	}

	g.record(ctx, metrics, func(rctx context.Context) error {
		return g.activity.CommentAdded(rctx, actor, *card, comment)
	})
	g.publish(p.BoardID, domain.EventNewComment, domain.NewCommentPayload{
		Comment:   comment,
		AddedBy:   actor,
		Timestamp: g.now().UnixMilli(),
	}, connID, metrics)
	return Outcome{Result: comment}, nil
}

// Authorize reports whether userID may read or write boardID.
func (g *Gateway) Authorize(ctx context.Context, boardID, userID string) error {
	metrics := &mutationMetrics{stages: map[string]time.Duration{}}
	if err := g.authorize(ctx, boardID, userID, metrics); err != nil {
		return domain.AsError(err)
	}
	return nil
}

// authorize passes for the board owner and listed members. It always reads
// the store: roles may change while a connection is open.
func (g *Gateway) authorize(ctx context.Context, boardID, userID string, metrics *mutationMetrics) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	defer func() { metrics.Observe(stageAuthorize, time.Since(start)) }()

	board, err := g.store.GetBoard(ctx, boardID)
	if err != nil {
		metrics.SetErrorStage(stageAuthorize)
		return storeError(ctx, err)
	}
	if board == nil {
		metrics.SetErrorStage(stageAuthorize)
		return domain.NotFound("board %s not found", boardID)
	}
	if board.OwnerID == userID {
		return nil
	}
	mem, err := g.store.GetMembership(ctx, boardID, userID)
	if err != nil {
		metrics.SetErrorStage(stageAuthorize)
		return storeError(ctx, err)
	}
	if mem == nil {
		metrics.SetErrorStage(stageAuthorize)
		return domain.Forbidden("not a member of board %s", boardID)
	}
	return nil
}

func (g *Gateway) cardOnBoard(ctx context.Context, cardID, boardID string, metrics *mutationMetrics) (*domain.Card, error) {
	card, err := g.store.GetCard(ctx, cardID)
	if err != nil {
		metrics.SetErrorStage(stageValidate)
		return nil, storeError(ctx, err)
	}
	if card == nil {
		metrics.SetErrorStage(stageValidate)
		return nil, domain.NotFound("card %s not found", cardID)
	}
	if card.BoardID != boardID {
		metrics.SetErrorStage(stageValidate)
		return nil, domain.InvalidReference("card %s does not belong to board %s", cardID, boardID)
	}
	return card, nil
}

// targetPosition uses the client's key or appends after the last sibling.
func (g *Gateway) targetPosition(ctx context.Context, p *domain.CardMoved, cardID string) (float64, error) {
	if p.NewPosition != nil {
		return *p.NewPosition, nil
	}
	siblings, err := g.store.ListCards(ctx, p.ToListID)
	if err != nil {
		return 0, storeError(ctx, err)
	}
	var last *float64
	for i := range siblings {
		if siblings[i].ID == cardID {
			continue
		}
		if last == nil || siblings[i].Position > *last {
			last = &siblings[i].Position
		}
	}
	k, err := position.Between(last, nil)
	if err != nil {
		return 0, domain.Validation("list %s needs its positions normalized", p.ToListID)
	}
	return k, nil
}

// claim records the request id. The returned release undoes the claim and
// must be called when the write fails.
func (g *Gateway) claim(ctx context.Context, userID, requestID string, metrics *mutationMetrics) (bool, func(), error) {
	noop := func() {}
	if g.deduper == nil || requestID == "" {
		return false, noop, nil
	}
	added, err := g.deduper.Add(ctx, userID, requestID)
	if err != nil {
		// Deduplication is best-effort; the mutation still goes through.
		g.logger.WithError(err).WithFields(log.Fields{"user": userID, "request": requestID}).Warn("deduper unavailable")
		return false, noop, nil
	}
	if !added {
		metrics.SetDuplicate()
		return true, noop, nil
	}
	return false, func() {
		if err := g.deduper.Remove(context.WithoutCancel(ctx), userID, requestID); err != nil {
			g.logger.WithError(err).WithFields(log.Fields{"user": userID, "request": requestID}).Error("dedupe rollback failed")
		}
	}, nil
}

func (g *Gateway) record(ctx context.Context, metrics *mutationMetrics, fn func(context.Context) error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()
	start := time.Now()
	err := fn(rctx)
	metrics.Observe(stageRecord, time.Since(start))
	if err != nil {
		metrics.SetRecordFailed()
	}
}

func (g *Gateway) publish(boardID, event string, payload any, exclude string, metrics *mutationMetrics) {
	start := time.Now()
	n, err := g.fanout.Publish(boardID, event, payload, exclude)
	metrics.Observe(stageBroadcast, time.Since(start))
	metrics.SetRecipients(n)
	if err != nil {
		g.logger.WithError(err).WithFields(log.Fields{"board": boardID, "event": event}).Error("broadcast failed")
	}
}

// storeError classifies a store failure. Anything that happened after the
// deadline passed is reported as retriable.
func storeError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return domain.StoreUnavailable(err)
	}
	return domain.AsError(err)
}
