// Package session tracks live connections, the identity behind each of them
// and the board rooms they are attached to.
package session

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Abhiram-108/minitrello/broadcast"
	"github.com/Abhiram-108/minitrello/domain"
)

// Conn is a live client connection.
type Conn interface {
	broadcast.Recipient
	Close() error
}

type connEntry struct {
	conn     Conn
	identity domain.Identity
	rooms    map[string]struct{}
}

// Registry owns room membership. All membership changes go through it.
type Registry struct {
	mu     sync.Mutex
	conns  map[string]*connEntry
	rooms  map[string]map[string]Conn
	closed bool

	fanout *broadcast.Broadcaster
	logger *log.Logger
	now    func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.StandardLogger()
	}
	r := &Registry{
		conns:  make(map[string]*connEntry),
		rooms:  make(map[string]map[string]Conn),
		logger: logger,
		now:    time.Now,
	}
	r.fanout = broadcast.New(r, logger)
	return r
}

// Connect associates a connection with the identity resolved at handshake.
func (r *Registry) Connect(conn Conn, identity domain.Identity) error {
	if identity.ID == "" {
		return domain.NotAuthenticated("connection has no identity")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if _, ok := r.conns[conn.ID()]; ok {
		return nil
	}
	r.conns[conn.ID()] = &connEntry{conn: conn, identity: identity, rooms: make(map[string]struct{})}
	return nil
}

// Identity returns the identity bound to connID at handshake.
func (r *Registry) Identity(connID string) (domain.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.conns[connID]
	if !ok {
		return domain.Identity{}, false
	}
	return ent.identity, true
}

// Attach adds the connection to boardID's room and announces it to the rest
// of the room. Attaching an already attached connection is a no-op.
func (r *Registry) Attach(connID, boardID string) error {
	r.mu.Lock()
	ent, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return domain.NotAuthenticated("connection is not authenticated")
	}
	if _, already := ent.rooms[boardID]; already {
		r.mu.Unlock()
		return nil
	}
	room, ok := r.rooms[boardID]
	if !ok {
		room = make(map[string]Conn)
		r.rooms[boardID] = room
	}
	room[connID] = ent.conn
	ent.rooms[boardID] = struct{}{}
	recipients := recipientsLocked(room)
	identity := ent.identity
	r.mu.Unlock()

	r.announce(recipients, domain.EventUserJoined, boardID, identity, connID)
	return nil
}

// Detach removes the connection from boardID's room and announces the
// departure. Detaching a connection that is not attached is a no-op.
func (r *Registry) Detach(connID, boardID string) {
	r.mu.Lock()
	ent, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	recipients, left := r.removeLocked(ent, connID, boardID)
	identity := ent.identity
	r.mu.Unlock()

	if left {
		r.announce(recipients, domain.EventUserLeft, boardID, identity, connID)
	}
}

// DetachAll removes the connection from every room it is attached to.
func (r *Registry) DetachAll(connID string) {
	r.mu.Lock()
	ent, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	type departure struct {
		boardID    string
		recipients []broadcast.Recipient
	}
	var out []departure
	for boardID := range ent.rooms {
		recipients, left := r.removeLocked(ent, connID, boardID)
		if left {
			out = append(out, departure{boardID: boardID, recipients: recipients})
		}
	}
	identity := ent.identity
	r.mu.Unlock()

	for _, d := range out {
		r.announce(d.recipients, domain.EventUserLeft, d.boardID, identity, connID)
	}
}

// Disconnect detaches the connection everywhere and forgets its identity.
// It is safe to call more than once.
func (r *Registry) Disconnect(connID string) {
	r.DetachAll(connID)
	r.mu.Lock()
	delete(r.conns, connID)
	r.mu.Unlock()
}

// Members returns a snapshot of the connections attached to boardID.
func (r *Registry) Members(boardID string) []broadcast.Recipient {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recipientsLocked(r.rooms[boardID])
}

// Rooms lists the boards connID is attached to.
func (r *Registry) Rooms(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.conns[connID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ent.rooms))
	for b := range ent.rooms {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) ConnectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Broadcaster returns the fan-out used for room events.
func (r *Registry) Broadcaster() *broadcast.Broadcaster { return r.fanout }

// Close drops every room and closes all connections. Presence is not
// announced since every peer is going away too.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := make([]Conn, 0, len(r.conns))
	for _, ent := range r.conns {
		conns = append(conns, ent.conn)
	}
	r.conns = make(map[string]*connEntry)
	r.rooms = make(map[string]map[string]Conn)
	r.mu.Unlock()

	for _, c := range conns {
		if err := c.Close(); err != nil {
			r.logger.WithError(err).WithField("conn", c.ID()).Debug("close connection on shutdown")
		}
	}
}

// removeLocked detaches ent from boardID and returns the remaining members.
// Empty rooms are dropped.
func (r *Registry) removeLocked(ent *connEntry, connID, boardID string) ([]broadcast.Recipient, bool) {
	if _, ok := ent.rooms[boardID]; !ok {
		return nil, false
	}
	delete(ent.rooms, boardID)
	room := r.rooms[boardID]
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, boardID)
		return nil, true
	}
	return recipientsLocked(room), true
}

func (r *Registry) announce(recipients []broadcast.Recipient, event, boardID string, who domain.Identity, exclude string) {
	if len(recipients) == 0 {
		return
	}
	frame, err := broadcast.Encode(event, "", domain.PresencePayload{
		User:      who,
		BoardID:   boardID,
		Timestamp: r.now().UnixMilli(),
	})
	if err != nil {
		r.logger.WithError(err).WithField("board", boardID).Error("encode presence event")
		return
	}
	r.fanout.Deliver(recipients, frame, exclude)
}

func recipientsLocked(room map[string]Conn) []broadcast.Recipient {
	if len(room) == 0 {
		return nil
	}
	out := make([]broadcast.Recipient, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	return out
}
