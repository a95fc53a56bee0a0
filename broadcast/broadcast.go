// Package broadcast delivers encoded events to the live connections of a
// board room.
package broadcast

import (
	"sync/atomic"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

// Recipient is one live connection able to take an encoded frame.
// Send must not block; it returns false when the frame was not queued.
type Recipient interface {
	ID() string
	Send(frame []byte) bool
}

// RoomLister returns a snapshot of the connections attached to a board.
type RoomLister interface {
	Members(boardID string) []Recipient
}

// Envelope is the frame shape in both directions.
type Envelope struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// Encode marshals one frame.
func Encode(event, id string, data any) ([]byte, error) {
	return sonic.Marshal(Envelope{Event: event, ID: id, Data: data})
}

// Broadcaster fans events out to rooms.
type Broadcaster struct {
	rooms   RoomLister
	logger  *log.Logger
	dropped atomic.Uint64
}

// New creates a Broadcaster reading room membership from rooms.
func New(rooms RoomLister, logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Broadcaster{rooms: rooms, logger: logger}
}

// Publish sends event to every member of boardID except exclude and returns
// the number of recipients the frame was queued for.
func (b *Broadcaster) Publish(boardID, event string, payload any, exclude string) (int, error) {
	frame, err := Encode(event, "", payload)
	if err != nil {
		return 0, err
	}
	return b.Deliver(b.rooms.Members(boardID), frame, exclude), nil
}

// Deliver queues frame for each recipient except exclude. A recipient that
// cannot take the frame is skipped without affecting the others.
func (b *Broadcaster) Deliver(recipients []Recipient, frame []byte, exclude string) int {
	delivered := 0
	for _, r := range recipients {
		if r == nil || r.ID() == exclude {
			continue
		}
		if !r.Send(frame) {
			b.dropped.Add(1)
			b.logger.WithField("conn", r.ID()).Debug("dropped frame for slow or closed connection")
			continue
		}
		delivered++
	}
	return delivered
}

// Dropped returns how many frames were not queued since start.
func (b *Broadcaster) Dropped() uint64 { return b.dropped.Load() }
