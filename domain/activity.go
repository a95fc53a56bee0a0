package domain

import (
	"encoding/json"
	"time"
)

// ActivityType names the semantic kind of an accepted mutation.
type ActivityType string

const (
	ActivityCardMoved    ActivityType = "card_moved"
	ActivityCommentAdded ActivityType = "comment_added"
)

// Activity is an immutable audit record. Data is the type-specific payload.
type Activity struct {
	ID        string          `json:"id"`
	Type      ActivityType    `json:"type"`
	BoardID   string          `json:"boardId"`
	UserID    string          `json:"userId"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
}

// CardMovedData is recorded for ActivityCardMoved.
type CardMovedData struct {
	CardID        string `json:"cardId"`
	CardTitle     string `json:"cardTitle"`
	FromListID    string `json:"fromListId"`
	FromListTitle string `json:"fromListTitle"`
	ToListID      string `json:"toListId"`
	ToListTitle   string `json:"toListTitle"`
}

// CommentAddedData is recorded for ActivityCommentAdded.
type CommentAddedData struct {
	CardID    string `json:"cardId"`
	CardTitle string `json:"cardTitle"`
	CommentID string `json:"commentId"`
	Text      string `json:"text"`
}
