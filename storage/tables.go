// Package storage implements the entity store on Azure Table Storage or
// SQLite, and the activity export queue.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/Abhiram-108/minitrello/domain"
)

// TableNames lists the tables backing a TableStore.
type TableNames struct {
	Boards     string
	Members    string
	Lists      string
	Cards      string
	Comments   string
	Activities string
	Users      string
}

// DefaultTableNames returns the names used when no override is configured.
func DefaultTableNames() TableNames {
	return TableNames{
		Boards:     "Boards",
		Members:    "BoardMembers",
		Lists:      "Lists",
		Cards:      "Cards",
		Comments:   "Comments",
		Activities: "Activities",
		Users:      "Users",
	}
}

// All returns every table name.
func (n TableNames) All() []string {
	return []string{n.Boards, n.Members, n.Lists, n.Cards, n.Comments, n.Activities, n.Users}
}

// TableStore is the entity store backed by Azure Table Storage.
type TableStore struct {
	boards     *aztables.Client
	members    *aztables.Client
	lists      *aztables.Client
	cards      *aztables.Client
	comments   *aztables.Client
	activities *aztables.Client
	users      *aztables.Client
}

// TableClientOptions are the retry settings shared by every table client.
func TableClientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 10,
				RetryDelay:    time.Millisecond * 200,
				MaxRetryDelay: time.Second * 2,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewTableStore connects to the tables named in names.
func NewTableStore(connStr string, names TableNames) (*TableStore, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, TableClientOptions())
	if err != nil {
		return nil, err
	}
	return &TableStore{
		boards:     svc.NewClient(names.Boards),
		members:    svc.NewClient(names.Members),
		lists:      svc.NewClient(names.Lists),
		cards:      svc.NewClient(names.Cards),
		comments:   svc.NewClient(names.Comments),
		activities: svc.NewClient(names.Activities),
		users:      svc.NewClient(names.Users),
	}, nil
}

type boardEntity struct {
	aztables.Entity
	WorkspaceID string `json:"WorkspaceID"`
	Title       string `json:"Title"`
	OwnerID     string `json:"OwnerID"`
}

type memberEntity struct {
	aztables.Entity
	Role string `json:"Role"`
}

type listEntity struct {
	aztables.Entity
	BoardID      string  `json:"BoardID"`
	Title        string  `json:"Title"`
	Position     float64 `json:"Position"`
	PositionType string  `json:"Position@odata.type,omitempty"`
}

type cardEntity struct {
	aztables.Entity
	BoardID      string  `json:"BoardID"`
	ListID       string  `json:"ListID"`
	Title        string  `json:"Title"`
	Description  string  `json:"Description"`
	Position     float64 `json:"Position"`
	PositionType string  `json:"Position@odata.type,omitempty"`
	DueDate      string  `json:"DueDate,omitempty"`
}

type commentEntity struct {
	aztables.Entity
	ID        string `json:"ID"`
	AuthorID  string `json:"AuthorID"`
	Text      string `json:"Text"`
	CreatedAt int64  `json:"CreatedAt"`
	// int64 values must be annotated or the service stores them as Int32.
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
}

type activityEntity struct {
	aztables.Entity
	ID            string `json:"ID"`
	Type          string `json:"Type"`
	UserID        string `json:"UserID"`
	Data          string `json:"Data"`
	CreatedAt     int64  `json:"CreatedAt"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
}

type userEntity struct {
	aztables.Entity
	Name   string `json:"Name"`
	Avatar string `json:"Avatar"`
}

const (
	edmDouble = "Edm.Double"
	edmInt64  = "Edm.Int64"
)

func entity(pk, rk string) aztables.Entity {
	return aztables.Entity{PartitionKey: pk, RowKey: rk}
}

func (s *TableStore) GetBoard(ctx context.Context, boardID string) (*domain.Board, error) {
	var ent boardEntity
	ok, err := getEntity(ctx, s.boards, boardID, boardID, &ent)
	if err != nil || !ok {
		return nil, err
	}
	return &domain.Board{ID: ent.RowKey, WorkspaceID: ent.WorkspaceID, Title: ent.Title, OwnerID: ent.OwnerID}, nil
}

func (s *TableStore) GetMembership(ctx context.Context, boardID, userID string) (*domain.Membership, error) {
	var ent memberEntity
	ok, err := getEntity(ctx, s.members, boardID, userID, &ent)
	if err != nil || !ok {
		return nil, err
	}
	return &domain.Membership{BoardID: ent.PartitionKey, UserID: ent.RowKey, Role: ent.Role}, nil
}

func (s *TableStore) GetList(ctx context.Context, listID string) (*domain.List, error) {
	var ent listEntity
	ok, err := getEntity(ctx, s.lists, listID, listID, &ent)
	if err != nil || !ok {
		return nil, err
	}
	l := ent.toDomain()
	return &l, nil
}

func (s *TableStore) GetCard(ctx context.Context, cardID string) (*domain.Card, error) {
	var ent cardEntity
	ok, err := getEntity(ctx, s.cards, cardID, cardID, &ent)
	if err != nil || !ok {
		return nil, err
	}
	c := ent.toDomain()
	return &c, nil
}

// GetUser returns the stored profile for userID.
func (s *TableStore) GetUser(ctx context.Context, userID string) (*domain.Identity, error) {
	var ent userEntity
	ok, err := getEntity(ctx, s.users, userID, userID, &ent)
	if err != nil || !ok {
		return nil, err
	}
	return &domain.Identity{ID: ent.RowKey, Name: ent.Name, Avatar: ent.Avatar}, nil
}

// ListCards returns the cards of a list ordered by position.
func (s *TableStore) ListCards(ctx context.Context, listID string) ([]domain.Card, error) {
	filter := "ListID eq '" + escapeOData(listID) + "'"
	var out []domain.Card
	err := forEachEntity(ctx, s.cards, filter, func(data []byte) error {
		var ent cardEntity
		if err := json.Unmarshal(data, &ent); err != nil {
			return err
		}
		out = append(out, ent.toDomain())
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortCards(out)
	return out, nil
}

// ListLists returns the lists of a board ordered by position.
func (s *TableStore) ListLists(ctx context.Context, boardID string) ([]domain.List, error) {
	filter := "BoardID eq '" + escapeOData(boardID) + "'"
	var out []domain.List
	err := forEachEntity(ctx, s.lists, filter, func(data []byte) error {
		var ent listEntity
		if err := json.Unmarshal(data, &ent); err != nil {
			return err
		}
		out = append(out, ent.toDomain())
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortLists(out)
	return out, nil
}

// MoveCard merges the new list and position into the card row and returns
// the stored card. A missing card yields nil.
func (s *TableStore) MoveCard(ctx context.Context, cardID, listID string, position float64) (*domain.Card, error) {
	if math.IsNaN(position) || math.IsInf(position, 0) {
		return nil, domain.Validation("position must be finite")
	}
	patch := map[string]any{
		"PartitionKey":        cardID,
		"RowKey":              cardID,
		"ListID":              listID,
		"Position":            position,
		"Position@odata.type": edmDouble,
	}
	found, err := mergeEntity(ctx, s.cards, patch)
	if err != nil || !found {
		return nil, err
	}
	return s.GetCard(ctx, cardID)
}

// UpdateListPosition merges a new position into a list row.
func (s *TableStore) UpdateListPosition(ctx context.Context, listID string, position float64) error {
	patch := map[string]any{
		"PartitionKey":        listID,
		"RowKey":              listID,
		"Position":            position,
		"Position@odata.type": edmDouble,
	}
	found, err := mergeEntity(ctx, s.lists, patch)
	if err != nil {
		return err
	}
	if !found {
		return domain.NotFound("list %s not found", listID)
	}
	return nil
}

func (s *TableStore) InsertComment(ctx context.Context, c domain.Comment) error {
	ent := commentEntity{
		Entity:        entity(c.CardID, timeRowKey(c.CreatedAt, c.ID, false)),
		ID:            c.ID,
		AuthorID:      c.AuthorID,
		Text:          c.Text,
		CreatedAt:     c.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
	}
	return addEntity(ctx, s.comments, ent)
}

// ListComments returns a card's comments oldest first.
func (s *TableStore) ListComments(ctx context.Context, cardID string) ([]domain.Comment, error) {
	filter := "PartitionKey eq '" + escapeOData(cardID) + "'"
	var out []domain.Comment
	err := forEachEntity(ctx, s.comments, filter, func(data []byte) error {
		var ent commentEntity
		if err := json.Unmarshal(data, &ent); err != nil {
			return err
		}
		out = append(out, domain.Comment{
			ID:        ent.ID,
			CardID:    ent.PartitionKey,
			AuthorID:  ent.AuthorID,
			Text:      ent.Text,
			CreatedAt: time.Unix(0, ent.CreatedAt).UTC(),
		})
		return nil
	})
	return out, err
}

func (s *TableStore) InsertActivity(ctx context.Context, a domain.Activity) error {
	ent := activityEntity{
		Entity:        entity(a.BoardID, timeRowKey(a.CreatedAt, a.ID, true)),
		ID:            a.ID,
		Type:          string(a.Type),
		UserID:        a.UserID,
		Data:          string(a.Data),
		CreatedAt:     a.CreatedAt.UnixNano(),
		CreatedAtType: edmInt64,
	}
	return addEntity(ctx, s.activities, ent)
}

// ListActivities returns one page of a board's activities newest first.
func (s *TableStore) ListActivities(ctx context.Context, boardID string, limit int, pageToken string) ([]domain.Activity, string, error) {
	filter := "PartitionKey eq '" + escapeOData(boardID) + "'"
	top := int32(limit)
	opts := &aztables.ListEntitiesOptions{Filter: &filter, Top: &top}
	if pageToken != "" {
		pk, rk, err := decodePageToken(pageToken)
		if err != nil || pk != boardID {
			return nil, "", domain.Validation("invalid page token")
		}
		opts.NextPartitionKey = &pk
		opts.NextRowKey = &rk
	}
	pager := s.activities.NewListEntitiesPager(opts)
	if !pager.More() {
		return nil, "", nil
	}
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return nil, "", classify(ctx, err)
	}
	out := make([]domain.Activity, 0, len(resp.Entities))
	for _, data := range resp.Entities {
		var ent activityEntity
		if err := json.Unmarshal(data, &ent); err != nil {
			return nil, "", domain.Internal(err)
		}
		out = append(out, domain.Activity{
			ID:        ent.ID,
			Type:      domain.ActivityType(ent.Type),
			BoardID:   ent.PartitionKey,
			UserID:    ent.UserID,
			Data:      json.RawMessage(ent.Data),
			CreatedAt: time.Unix(0, ent.CreatedAt).UTC(),
		})
	}
	return out, encodePageToken(resp.NextPartitionKey, resp.NextRowKey), nil
}

func (s *TableStore) PutBoard(ctx context.Context, b domain.Board) error {
	return upsertEntity(ctx, s.boards, boardEntity{
		Entity:      entity(b.ID, b.ID),
		WorkspaceID: b.WorkspaceID,
		Title:       b.Title,
		OwnerID:     b.OwnerID,
	})
}

func (s *TableStore) PutMembership(ctx context.Context, m domain.Membership) error {
	return upsertEntity(ctx, s.members, memberEntity{Entity: entity(m.BoardID, m.UserID), Role: m.Role})
}

func (s *TableStore) PutList(ctx context.Context, l domain.List) error {
	return upsertEntity(ctx, s.lists, listEntity{
		Entity:       entity(l.ID, l.ID),
		BoardID:      l.BoardID,
		Title:        l.Title,
		Position:     l.Position,
		PositionType: edmDouble,
	})
}

func (s *TableStore) PutCard(ctx context.Context, c domain.Card) error {
	ent := cardEntity{
		Entity:       entity(c.ID, c.ID),
		BoardID:      c.BoardID,
		ListID:       c.ListID,
		Title:        c.Title,
		Description:  c.Description,
		Position:     c.Position,
		PositionType: edmDouble,
	}
	if c.DueDate != nil {
		ent.DueDate = c.DueDate.UTC().Format(time.RFC3339)
	}
	return upsertEntity(ctx, s.cards, ent)
}

func (s *TableStore) PutUser(ctx context.Context, u domain.Identity) error {
	return upsertEntity(ctx, s.users, userEntity{Entity: entity(u.ID, u.ID), Name: u.Name, Avatar: u.Avatar})
}

func (e listEntity) toDomain() domain.List {
	return domain.List{ID: e.RowKey, BoardID: e.BoardID, Title: e.Title, Position: e.Position}
}

func (e cardEntity) toDomain() domain.Card {
	c := domain.Card{
		ID:          e.RowKey,
		ListID:      e.ListID,
		BoardID:     e.BoardID,
		Position:    e.Position,
		Title:       e.Title,
		Description: e.Description,
	}
	if e.DueDate != "" {
		if t, err := time.Parse(time.RFC3339, e.DueDate); err == nil {
			c.DueDate = &t
		}
	}
	return c
}

func getEntity(ctx context.Context, client *aztables.Client, pk, rk string, out any) (bool, error) {
	resp, err := client.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, classify(ctx, err)
	}
	if err := json.Unmarshal(resp.Value, out); err != nil {
		return false, domain.Internal(err)
	}
	return true, nil
}

func forEachEntity(ctx context.Context, client *aztables.Client, filter string, fn func([]byte) error) error {
	pager := client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return classify(ctx, err)
		}
		for _, e := range resp.Entities {
			if err := fn(e); err != nil {
				return domain.Internal(err)
			}
		}
	}
	return nil
}

func addEntity(ctx context.Context, client *aztables.Client, ent any) error {
	data, err := json.Marshal(ent)
	if err != nil {
		return domain.Internal(err)
	}
	if _, err := client.AddEntity(ctx, data, nil); err != nil {
		return classify(ctx, err)
	}
	return nil
}

func upsertEntity(ctx context.Context, client *aztables.Client, ent any) error {
	data, err := json.Marshal(ent)
	if err != nil {
		return domain.Internal(err)
	}
	if _, err := client.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return classify(ctx, err)
	}
	return nil
}

// mergeEntity updates existing properties only. Missing rows report false
// instead of being created.
func mergeEntity(ctx context.Context, client *aztables.Client, patch map[string]any) (bool, error) {
	data, err := json.Marshal(patch)
	if err != nil {
		return false, domain.Internal(err)
	}
	etag := azcore.ETagAny
	_, err = client.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, classify(ctx, err)
	}
	return true, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// classify maps transport failures, throttling and server errors to
// StoreUnavailable. Other service responses are internal errors.
func classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return domain.StoreUnavailable(err)
	}
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return domain.StoreUnavailable(err)
	}
	switch {
	case respErr.StatusCode == http.StatusRequestTimeout,
		respErr.StatusCode == http.StatusTooManyRequests,
		respErr.StatusCode >= 500:
		return domain.StoreUnavailable(err)
	}
	return domain.Internal(err)
}

func escapeOData(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// timeRowKey orders rows by time within a partition. With newestFirst the
// key sorts descending so a plain scan returns the latest rows first.
func timeRowKey(t time.Time, id string, newestFirst bool) string {
	ns := t.UnixNano()
	if newestFirst {
		ns = math.MaxInt64 - ns
	}
	return fmt.Sprintf("%019d_%s", ns, id)
}
