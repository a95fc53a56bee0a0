package domain

import "time"

// Identity is the resolved user behind a connection.
type Identity struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Board is the fan-out scope for live updates.
type Board struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	Title       string `json:"title"`
	OwnerID     string `json:"ownerId"`
}

// Membership grants a user access to a board.
type Membership struct {
	BoardID string `json:"boardId"`
	UserID  string `json:"userId"`
	Role    string `json:"role"`
}

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// List groups cards on a board.
type List struct {
	ID       string  `json:"id"`
	BoardID  string  `json:"boardId"`
	Title    string  `json:"title"`
	Position float64 `json:"position"`
}

// Card is a single work item. ListID always points at a list of the same board.
type Card struct {
	ID          string     `json:"id"`
	ListID      string     `json:"listId"`
	BoardID     string     `json:"boardId"`
	Position    float64    `json:"position"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
}

// Comment is append-only.
type Comment struct {
	ID        string    `json:"id"`
	CardID    string    `json:"cardId"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}
