package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Abhiram-108/minitrello/activity"
	"github.com/Abhiram-108/minitrello/domain"
	"github.com/Abhiram-108/minitrello/gateway"
	"github.com/Abhiram-108/minitrello/session"
	"github.com/Abhiram-108/minitrello/storage"
)

type testEnv struct {
	ts       *httptest.Server
	store    *storage.SQLStore
	registry *session.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger, _ := test.NewNullLogger()
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	seed := []error{
		store.PutBoard(ctx, domain.Board{ID: "b1", Title: "Launch", OwnerID: "alice"}),
		store.PutBoard(ctx, domain.Board{ID: "b2", Title: "Other", OwnerID: "carol"}),
		store.PutMembership(ctx, domain.Membership{BoardID: "b1", UserID: "bob", Role: domain.RoleMember}),
		store.PutList(ctx, domain.List{ID: "L1", BoardID: "b1", Title: "Todo", Position: 1}),
		store.PutList(ctx, domain.List{ID: "L2", BoardID: "b1", Title: "Done", Position: 2}),
		store.PutCard(ctx, domain.Card{ID: "c1", ListID: "L1", BoardID: "b1", Title: "Write docs", Position: 1}),
		store.PutList(ctx, domain.List{ID: "X1", BoardID: "b2", Title: "Backlog", Position: 1}),
		store.PutCard(ctx, domain.Card{ID: "z1", ListID: "X1", BoardID: "b2", Title: "Elsewhere", Position: 1}),
		store.PutUser(ctx, domain.Identity{ID: "alice", Name: "Alice"}),
	}
	for _, err := range seed {
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	registry := session.NewRegistry(logger)
	rec := activity.NewRecorder(store, nil, logger)
	gw := gateway.New(store, registry, registry.Broadcaster(), rec, logger)
	resolver := NewIdentityResolver(NewSharedSecretAuth(testSecret, "", ""), store, logger)
	srv := NewServer(registry, gw, resolver, rec, Config{}, logger).WithComments(store)

	e := echo.New()
	Register(e, srv)
	ts := httptest.NewServer(e)
	t.Cleanup(func() {
		registry.Close()
		ts.Close()
		store.Close()
	})
	return &testEnv{ts: ts, store: store, registry: registry}
}

func (env *testEnv) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?token=" + userToken(t, user, "")
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", user, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Event string          `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

func send(t *testing.T, conn *websocket.Conn, event, id string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "id": id, "data": data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// next reads frames until one with the given event arrives.
func next(t *testing.T, conn *websocket.Conn, event string) frame {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("waiting for %s: %v", event, err)
		}
		if f.Event == event {
			return f
		}
	}
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}

func TestHandshakeRequiresCredential(t *testing.T) {
	env := newTestEnv(t)
	u := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
	if env.registry.ConnectionCount() != 0 {
		t.Fatalf("rejected handshake must not register a connection")
	}
}

func TestBoardCollaborationFlow(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "alice")
	bob := env.dial(t, "bob")

	send(t, alice, domain.EventJoinBoard, "j1", map[string]string{"boardId": "b1"})
	if ack := next(t, alice, domain.EventAck); ack.ID != "j1" {
		t.Fatalf("unexpected ack id %q", ack.ID)
	}
	send(t, bob, domain.EventJoinBoard, "j2", map[string]string{"boardId": "b1"})
	next(t, bob, domain.EventAck)
	joined := decode[domain.PresencePayload](t, next(t, alice, domain.EventUserJoined).Data)
	if joined.User.ID != "bob" || joined.BoardID != "b1" {
		t.Fatalf("unexpected presence %+v", joined)
	}

	send(t, alice, domain.EventCardMoved, "m1", map[string]any{
		"boardId": "b1", "cardId": "c1", "fromListId": "L1", "toListId": "L2", "newPosition": 2.5,
	})
	ack := decode[struct {
		Event  string      `json:"event"`
		Result domain.Card `json:"result"`
	}](t, next(t, alice, domain.EventAck).Data)
	if ack.Event != domain.EventCardMoved || ack.Result.ListID != "L2" || ack.Result.Position != 2.5 {
		t.Fatalf("unexpected ack %+v", ack)
	}
	moved := decode[domain.CardMovedPayload](t, next(t, bob, domain.EventCardMoved).Data)
	if moved.FromListID != "L1" || moved.Card.ListID != "L2" || moved.MovedBy.ID != "alice" || moved.MovedBy.Name != "Alice" {
		t.Fatalf("unexpected move broadcast %+v", moved)
	}

	send(t, bob, domain.EventNewComment, "m2", map[string]any{"boardId": "b1", "cardId": "c1", "text": "done!"})
	next(t, bob, domain.EventAck)
	added := decode[domain.NewCommentPayload](t, next(t, alice, domain.EventNewComment).Data)
	if added.Comment.Text != "done!" || added.AddedBy.ID != "bob" {
		t.Fatalf("unexpected comment broadcast %+v", added)
	}

	send(t, alice, domain.EventUserTyping, "", map[string]any{"boardId": "b1", "cardId": "c1", "isTyping": true})
	typing := decode[domain.TypingPayload](t, next(t, bob, domain.EventUserTyping).Data)
	if !typing.IsTyping || typing.User.ID != "alice" {
		t.Fatalf("unexpected typing broadcast %+v", typing)
	}

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/boards/b1/activities", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+userToken(t, "bob", ""))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("activities: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("activities status %d", resp.StatusCode)
	}
	var feed activitiesResponse
	if err := json.NewDecoder(resp.Body).Decode(&feed); err != nil {
		t.Fatalf("decode feed: %v", err)
	}
	if len(feed.Activities) != 2 {
		t.Fatalf("expected 2 activities, got %+v", feed.Activities)
	}
	if feed.Activities[0].Type != domain.ActivityCommentAdded || feed.Activities[1].Type != domain.ActivityCardMoved {
		t.Fatalf("activities not newest first: %s, %s", feed.Activities[0].Type, feed.Activities[1].Type)
	}
	data := decode[domain.CardMovedData](t, feed.Activities[1].Data)
	if data.FromListTitle != "Todo" || data.ToListTitle != "Done" {
		t.Fatalf("unexpected move data %+v", data)
	}

	bob.Close()
	left := decode[domain.PresencePayload](t, next(t, alice, domain.EventUserLeft).Data)
	if left.User.ID != "bob" {
		t.Fatalf("unexpected user-left %+v", left)
	}
}

func TestRejectedEventsReachOnlyOriginator(t *testing.T) {
	env := newTestEnv(t)
	carol := env.dial(t, "carol")

	send(t, carol, domain.EventJoinBoard, "j1", map[string]string{"boardId": "b1"})
	f := next(t, carol, domain.EventError)
	payload := decode[domain.ErrorPayload](t, f.Data)
	if f.ID != "j1" || payload.Code != domain.KindForbidden || payload.Retriable {
		t.Fatalf("unexpected error frame %+v %+v", f, payload)
	}

	send(t, carol, domain.EventCardMoved, "m1", map[string]any{"boardId": "b1", "cardId": "c1", "toListId": "L2"})
	if p := decode[domain.ErrorPayload](t, next(t, carol, domain.EventError).Data); p.Code != domain.KindForbidden {
		t.Fatalf("expected forbidden move, got %+v", p)
	}

	send(t, carol, "explode", "x1", map[string]any{})
	if p := decode[domain.ErrorPayload](t, next(t, carol, domain.EventError).Data); p.Code != domain.KindValidation {
		t.Fatalf("expected validation error, got %+v", p)
	}

	if err := carol.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if p := decode[domain.ErrorPayload](t, next(t, carol, domain.EventError).Data); p.Code != domain.KindValidation {
		t.Fatalf("expected validation error, got %+v", p)
	}

	card, err := env.store.GetCard(context.Background(), "c1")
	if err != nil || card.ListID != "L1" {
		t.Fatalf("card must be untouched, got %+v, %v", card, err)
	}
}

func TestActivitiesRequireMembership(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "anonymous", want: http.StatusUnauthorized},
		{name: "non member", header: "Bearer " + userToken(t, "carol", ""), want: http.StatusForbidden},
		{name: "owner", header: "Bearer " + userToken(t, "alice", ""), want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/boards/b1/activities?limit=5", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestCardComments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"first", "second"} {
		c := domain.Comment{ID: "m" + text, CardID: "c1", AuthorID: "bob", Text: text, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := env.store.InsertComment(ctx, c); err != nil {
			t.Fatalf("seed comment: %v", err)
		}
	}

	tests := []struct {
		name string
		user string
		path string
		want int
	}{
		{name: "member reads thread", user: "bob", path: "/api/boards/b1/cards/c1/comments", want: http.StatusOK},
		{name: "non member", user: "carol", path: "/api/boards/b1/cards/c1/comments", want: http.StatusForbidden},
		{name: "missing card", user: "alice", path: "/api/boards/b1/cards/nope/comments", want: http.StatusNotFound},
		{name: "card from another board", user: "alice", path: "/api/boards/b1/cards/z1/comments", want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, env.ts.URL+tt.path, nil)
			req.Header.Set(echo.HeaderAuthorization, "Bearer "+userToken(t, tt.user, ""))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want != http.StatusOK {
				return
			}
			var thread commentsResponse
			if err := json.NewDecoder(resp.Body).Decode(&thread); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(thread.Comments) != 2 || thread.Comments[0].Text != "first" || thread.Comments[1].Text != "second" {
				t.Fatalf("unexpected thread %+v", thread.Comments)
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	alice := env.dial(t, "alice")
	send(t, alice, domain.EventJoinBoard, "j1", map[string]string{"boardId": "b1"})
	next(t, alice, domain.EventAck)

	resp, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Rooms != 1 || h.Connections != 1 {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestDecodeMutation(t *testing.T) {
	tests := []struct {
		name    string
		in      inbound
		want    domain.MutationKind
		wantErr bool
	}{
		{name: "join", in: inbound{Event: domain.EventJoinBoard, Data: json.RawMessage(`{"boardId":"b"}`)}, want: domain.MutationPresenceJoin},
		{name: "join bare id", in: inbound{Event: domain.EventJoinBoard, Data: json.RawMessage(`"b"`)}, want: domain.MutationPresenceJoin},
		{name: "leave", in: inbound{Event: domain.EventLeaveBoard, Data: json.RawMessage(`{"boardId":"b"}`)}, want: domain.MutationPresenceLeave},
		{name: "move", in: inbound{Event: domain.EventCardMoved, Data: json.RawMessage(`{"boardId":"b","cardId":"c","toListId":"l"}`)}, want: domain.MutationCardMoved},
		{name: "comment", in: inbound{Event: domain.EventNewComment, Data: json.RawMessage(`{"boardId":"b","cardId":"c","text":"t"}`)}, want: domain.MutationCommentAdded},
		{name: "typing", in: inbound{Event: domain.EventUserTyping, Data: json.RawMessage(`{"boardId":"b","cardId":"c","isTyping":true}`)}, want: domain.MutationTypingSignal},
		{name: "unknown", in: inbound{Event: "nope", Data: json.RawMessage(`{}`)}, wantErr: true},
		{name: "no data", in: inbound{Event: domain.EventCardMoved}, wantErr: true},
		{name: "bad data", in: inbound{Event: domain.EventCardMoved, Data: json.RawMessage(`[1,2]`)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := decodeMutation(tt.in)
			if tt.wantErr {
				if domain.KindOf(err) != domain.KindValidation {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if m.Kind != tt.want || m.BoardID != "b" {
				t.Fatalf("unexpected mutation %+v", m)
			}
		})
	}
}

func TestClientSendNeverBlocks(t *testing.T) {
	c := &client{id: "c", send: make(chan []byte, 1), done: make(chan struct{})}
	if !c.Send([]byte("a")) {
		t.Fatalf("first send should fit")
	}
	if c.Send([]byte("b")) {
		t.Fatalf("full buffer must drop")
	}
	close(c.done)
	<-c.send
	if c.Send([]byte("c")) {
		t.Fatalf("closed client must drop")
	}
}

func TestTypingRateLimiter(t *testing.T) {
	if c := newClient("c", nil, 1, 0); c.typing != nil {
		t.Fatalf("zero rate disables limiting")
	}
	c := newClient("c", nil, 1, 2)
	allowed := 0
	for i := 0; i < 10; i++ {
		if c.typing.Allow() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Fatalf("expected burst of 2, got %d", allowed)
	}
}
