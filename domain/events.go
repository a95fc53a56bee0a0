package domain

// Wire event names.
const (
	EventJoinBoard  = "join-board"
	EventLeaveBoard = "leave-board"
	EventCardMoved  = "card-moved"
	EventNewComment = "new-comment"
	EventUserTyping = "user-typing"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventAck        = "ack"
	EventError      = "error"
)

// PresencePayload is sent with user-joined and user-left.
type PresencePayload struct {
	User      Identity `json:"user"`
	BoardID   string   `json:"boardId"`
	Timestamp int64    `json:"timestamp"`
}

// CardMovedPayload is broadcast after an accepted card move.
type CardMovedPayload struct {
	Card       Card     `json:"card"`
	FromListID string   `json:"fromListId"`
	MovedBy    Identity `json:"movedBy"`
	Timestamp  int64    `json:"timestamp"`
}

// NewCommentPayload is broadcast after an accepted comment.
type NewCommentPayload struct {
	Comment   Comment  `json:"comment"`
	AddedBy   Identity `json:"addedBy"`
	Timestamp int64    `json:"timestamp"`
}

// TypingPayload is broadcast for typing signals.
type TypingPayload struct {
	User      Identity `json:"user"`
	CardID    string   `json:"cardId"`
	IsTyping  bool     `json:"isTyping"`
	Timestamp int64    `json:"timestamp"`
}

// ErrorPayload is sent only to the originator of a rejected event.
type ErrorPayload struct {
	Message   string    `json:"message"`
	Code      ErrorKind `json:"code"`
	Retriable bool      `json:"retriable,omitempty"`
}

// AckPayload confirms an accepted event to its originator.
type AckPayload struct {
	Event  string `json:"event"`
	Result any    `json:"result,omitempty"`

	// Duplicate marks a retried request id that was already applied.
	Duplicate bool `json:"duplicate,omitempty"`
}
