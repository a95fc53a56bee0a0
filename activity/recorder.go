// Package activity appends the immutable per-board history of accepted
// mutations.
package activity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/Abhiram-108/minitrello/domain"
)

const (
	DefaultPageSize      = 50
	MaxPageSize          = 200
	DefaultExportTimeout = 30 * time.Second
)

// Store persists activities and resolves list titles.
type Store interface {
	GetList(ctx context.Context, listID string) (*domain.List, error)
	InsertActivity(ctx context.Context, a domain.Activity) error
	// ListActivities returns a board's activities newest first.
	ListActivities(ctx context.Context, boardID string, limit int, pageToken string) ([]domain.Activity, string, error)
}

// Exporter hands a stored activity to downstream consumers.
type Exporter interface {
	Export(ctx context.Context, a domain.Activity) error
}

// Recorder writes activity rows. It is safe for concurrent use.
type Recorder struct {
	store    Store
	exporter Exporter
	logger   *log.Logger
	clock    *clock
	newID    func() string

	exportTimeout time.Duration
	exports       sync.WaitGroup
}

// NewRecorder returns a Recorder. exporter may be nil.
func NewRecorder(store Store, exporter Exporter, logger *log.Logger) *Recorder {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Recorder{
		store:         store,
		exporter:      exporter,
		logger:        logger,
		clock:         &clock{now: time.Now},
		newID:         uuid.NewString,
		exportTimeout: DefaultExportTimeout,
	}
}

// WithExportTimeout bounds each background export.
func (r *Recorder) WithExportTimeout(d time.Duration) *Recorder {
	if d > 0 {
		r.exportTimeout = d
	}
	return r
}

// Wait blocks until exports started so far have finished.
func (r *Recorder) Wait() {
	r.exports.Wait()
}

// CardMoved records a move. fromListID is the list the card was in before
// the write; titles are resolved now and left empty if a list is gone.
func (r *Recorder) CardMoved(ctx context.Context, actor domain.Identity, card domain.Card, fromListID string) error {
	data := domain.CardMovedData{
		CardID:        card.ID,
		CardTitle:     card.Title,
		FromListID:    fromListID,
		FromListTitle: r.listTitle(ctx, fromListID),
		ToListID:      card.ListID,
		ToListTitle:   r.listTitle(ctx, card.ListID),
	}
	_, err := r.Record(ctx, domain.ActivityCardMoved, card.BoardID, actor.ID, data)
	return err
}

// CommentAdded records a new comment on card.
func (r *Recorder) CommentAdded(ctx context.Context, actor domain.Identity, card domain.Card, comment domain.Comment) error {
	data := domain.CommentAddedData{
		CardID:    card.ID,
		CardTitle: card.Title,
		CommentID: comment.ID,
		Text:      comment.Text,
	}
	_, err := r.Record(ctx, domain.ActivityCommentAdded, card.BoardID, actor.ID, data)
	return err
}

// Record appends one activity and queues its export. Failures are logged
// and returned; callers must not roll back the mutation on error.
func (r *Recorder) Record(ctx context.Context, typ domain.ActivityType, boardID, userID string, data any) (domain.Activity, error) {
	fields := log.Fields{"board": boardID, "user": userID, "type": typ}
	raw, err := sonic.Marshal(data)
	if err != nil {
		r.logger.WithError(err).WithFields(fields).Error("failed to encode activity data")
		return domain.Activity{}, domain.Internal(err)
	}
	a := domain.Activity{
		ID:        r.newID(),
		Type:      typ,
		BoardID:   boardID,
		UserID:    userID,
		Data:      raw,
		CreatedAt: r.clock.next(),
	}
	if err := r.store.InsertActivity(ctx, a); err != nil {
		r.logger.WithError(err).WithFields(fields).Warn("failed to record activity")
		return domain.Activity{}, err
	}
	r.export(ctx, a, fields)
	return a, nil
}

// export hands a to the exporter in the background so a slow queue never
// holds up the caller's broadcast. It outlives the caller's context.
func (r *Recorder) export(ctx context.Context, a domain.Activity, fields log.Fields) {
	if r.exporter == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	r.exports.Add(1)
	go func() {
		defer r.exports.Done()
		ctx, cancel := context.WithTimeout(ctx, r.exportTimeout)
		defer cancel()
		if err := r.exporter.Export(ctx, a); err != nil {
			r.logger.WithError(err).WithFields(fields).WithField("activity", a.ID).Warn("failed to export activity")
		}
	}()
}

// List returns a page of a board's history, newest first.
func (r *Recorder) List(ctx context.Context, boardID string, limit int, pageToken string) ([]domain.Activity, string, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return r.store.ListActivities(ctx, boardID, limit, pageToken)
}

func (r *Recorder) listTitle(ctx context.Context, listID string) string {
	if listID == "" {
		return ""
	}
	l, err := r.store.GetList(ctx, listID)
	if err != nil {
		r.logger.WithError(err).WithField("list", listID).Debug("list title lookup failed")
		return ""
	}
	if l == nil {
		return ""
	}
	return l.Title
}

// clock hands out strictly increasing timestamps so history order matches
// acceptance order even when the wall clock stalls.
type clock struct {
	now  func() time.Time
	last atomic.Int64
}

func (c *clock) next() time.Time {
	for {
		now := c.now().UnixNano()
		last := c.last.Load()
		if now <= last {
			now = last + 1
		}
		if c.last.CompareAndSwap(last, now) {
			return time.Unix(0, now).UTC()
		}
	}
}
