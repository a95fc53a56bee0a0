package domain

// MutationKind tags the Mutation variant.
type MutationKind int

const (
	MutationCardMoved MutationKind = iota + 1
	MutationCommentAdded
	MutationTypingSignal
	MutationPresenceJoin
	MutationPresenceLeave
)

func (k MutationKind) String() string {
	switch k {
	case MutationCardMoved:
		return "card_moved"
	case MutationCommentAdded:
		return "comment_added"
	case MutationTypingSignal:
		return "typing_signal"
	case MutationPresenceJoin:
		return "presence_join"
	case MutationPresenceLeave:
		return "presence_leave"
	default:
		return "unknown"
	}
}

// CardMoved moves a card to a list and position. FromListID is informational;
// the current list is always read from the store. A nil NewPosition appends
// the card after the last card of the target list.
type CardMoved struct {
	CardID      string   `json:"cardId"`
	FromListID  string   `json:"fromListId,omitempty"`
	ToListID    string   `json:"toListId"`
	NewPosition *float64 `json:"newPosition,omitempty"`
	BoardID     string   `json:"boardId"`
}

// CommentAdded appends a comment to a card.
type CommentAdded struct {
	CardID  string `json:"cardId"`
	Text    string `json:"text"`
	BoardID string `json:"boardId"`
}

// TypingSignal is broadcast only.
type TypingSignal struct {
	BoardID  string `json:"boardId"`
	CardID   string `json:"cardId"`
	IsTyping bool   `json:"isTyping"`
}

// Mutation is one client-originated event. Exactly one payload field is set,
// matching Kind.
type Mutation struct {
	Kind      MutationKind
	BoardID   string
	RequestID string

	CardMoved    *CardMoved
	CommentAdded *CommentAdded
	TypingSignal *TypingSignal
}
