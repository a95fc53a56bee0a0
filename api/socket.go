package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Abhiram-108/minitrello/broadcast"
	"github.com/Abhiram-108/minitrello/domain"
)

const (
	maxFrameSize = 64 << 10
	writeWait    = 10 * time.Second
)

// client is one WebSocket connection. Frames are queued on send and written
// by a single writer goroutine; Send never blocks.
type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	typing *rate.Limiter
}

func newClient(id string, conn *websocket.Conn, buffer int, typingRate float64) *client {
	c := &client{
		id:   id,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
	if typingRate > 0 {
		burst := int(typingRate)
		if burst < 1 {
			burst = 1
		}
		c.typing = rate.NewLimiter(rate.Limit(typingRate), burst)
	}
	return c
}

func (c *client) ID() string { return c.id }

// Send queues a frame. It reports false when the buffer is full or the
// connection is closed.
func (c *client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}

// inbound is the client frame: {"event": ..., "id": ..., "data": {...}}.
type inbound struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data"`
}

type boardRef struct {
	BoardID string `json:"boardId"`
}

// writePump drains the send buffer and keeps the connection alive.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	defer c.Close()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.WithError(err).WithField("conn", c.id).Debug("write failed")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readPump handles the connection's events in arrival order and tears the
// session down when the socket ends.
func (s *Server) readPump(ctx context.Context, c *client) {
	defer func() {
		s.registry.Disconnect(c.id)
		c.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	pongWait := s.cfg.PingInterval * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WithError(err).WithField("conn", c.id).Debug("connection closed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleFrame(ctx, c, data)
	}
}

func (s *Server) handleFrame(ctx context.Context, c *client, data []byte) {
	var in inbound
	if err := sonic.Unmarshal(data, &in); err != nil {
		s.reply(c, "", domain.EventError, errorPayload(domain.Validation("malformed frame")))
		return
	}
	m, err := decodeMutation(in)
	if err != nil {
		s.reply(c, in.ID, domain.EventError, errorPayload(err))
		return
	}
	if m.Kind == domain.MutationTypingSignal && c.typing != nil && !c.typing.Allow() {
		return
	}
	out, err := s.gateway.Handle(ctx, c.id, m)
	if err != nil {
		s.reply(c, in.ID, domain.EventError, errorPayload(err))
		return
	}
	if m.Kind == domain.MutationTypingSignal && in.ID == "" {
		return
	}
	s.reply(c, in.ID, domain.EventAck, domain.AckPayload{Event: in.Event, Result: out.Result, Duplicate: out.Duplicate})
}

func (s *Server) reply(c *client, id, event string, payload any) {
	frame, err := broadcast.Encode(event, id, payload)
	if err != nil {
		s.logger.WithError(err).WithField("event", event).Error("failed to encode reply")
		return
	}
	if !c.Send(frame) {
		s.logger.WithFields(log.Fields{"conn": c.id, "event": event}).Debug("dropped reply for slow or closed connection")
	}
}

func errorPayload(err error) domain.ErrorPayload {
	de := domain.AsError(err)
	return domain.ErrorPayload{Message: de.Message, Code: de.Kind, Retriable: de.Retriable()}
}

// decodeMutation maps a client event to a gateway mutation.
func decodeMutation(in inbound) (domain.Mutation, error) {
	m := domain.Mutation{RequestID: in.ID}
	switch in.Event {
	case domain.EventJoinBoard, domain.EventLeaveBoard:
		var ref boardRef
		if len(in.Data) > 0 && in.Data[0] == '"' {
			if err := sonic.Unmarshal(in.Data, &ref.BoardID); err != nil {
				return m, domain.Validation("malformed data")
			}
		} else if err := decodeData(in.Data, &ref); err != nil {
			return m, err
		}
		m.Kind = domain.MutationPresenceJoin
		if in.Event == domain.EventLeaveBoard {
			m.Kind = domain.MutationPresenceLeave
		}
		m.BoardID = ref.BoardID
	case domain.EventCardMoved:
		var p domain.CardMoved
		if err := decodeData(in.Data, &p); err != nil {
			return m, err
		}
		m.Kind, m.BoardID, m.CardMoved = domain.MutationCardMoved, p.BoardID, &p
	case domain.EventNewComment:
		var p domain.CommentAdded
		if err := decodeData(in.Data, &p); err != nil {
			return m, err
		}
		m.Kind, m.BoardID, m.CommentAdded = domain.MutationCommentAdded, p.BoardID, &p
	case domain.EventUserTyping:
		var p domain.TypingSignal
		if err := decodeData(in.Data, &p); err != nil {
			return m, err
		}
		m.Kind, m.BoardID, m.TypingSignal = domain.MutationTypingSignal, p.BoardID, &p
	default:
		return m, domain.Validation("unknown event %q", in.Event)
	}
	return m, nil
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return domain.Validation("missing data")
	}
	if err := sonic.Unmarshal(raw, v); err != nil {
		return domain.Validation("malformed data")
	}
	return nil
}
