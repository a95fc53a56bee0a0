package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/Abhiram-108/minitrello/domain"
	"github.com/Abhiram-108/minitrello/gateway"
	"github.com/Abhiram-108/minitrello/session"
)

const (
	DefaultSendBuffer   = 64
	DefaultPingInterval = 30 * time.Second
)

// Config tunes the realtime transport.
type Config struct {
	SendBuffer     int
	PingInterval   time.Duration
	TypingRate     float64
	AllowedOrigins []string
}

// Mutations is the gateway as seen by the transport.
type Mutations interface {
	Handle(ctx context.Context, connID string, m domain.Mutation) (gateway.Outcome, error)
	Authorize(ctx context.Context, boardID, userID string) error
}

// ActivityLister pages a board's history.
type ActivityLister interface {
	List(ctx context.Context, boardID string, limit int, pageToken string) ([]domain.Activity, string, error)
}

// CommentReader reads a card's comment thread.
type CommentReader interface {
	GetCard(ctx context.Context, cardID string) (*domain.Card, error)
	ListComments(ctx context.Context, cardID string) ([]domain.Comment, error)
}

// Server owns the WebSocket endpoint and the read-only HTTP routes.
type Server struct {
	registry *session.Registry
	gateway  Mutations
	identity *IdentityResolver
	activity ActivityLister
	comments CommentReader
	logger   *log.Logger
	cfg      Config
	upgrader websocket.Upgrader
	newID    func() string
}

func NewServer(registry *session.Registry, mutations Mutations, identity *IdentityResolver, activity ActivityLister, cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultSendBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	s := &Server{
		registry: registry,
		gateway:  mutations,
		identity: identity,
		activity: activity,
		logger:   logger,
		cfg:      cfg,
		newID:    uuid.NewString,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// WithComments enables the comment thread route.
func (s *Server) WithComments(c CommentReader) *Server {
	s.comments = c
	return s
}

// Register wires up the realtime and HTTP endpoints on the given Echo instance.
func Register(e *echo.Echo, s *Server) {
	e.GET("/ws", s.handleSocket)
	e.GET("/healthz", s.health)
	e.GET("/api/boards/:boardId/activities", s.listActivities)
	if s.comments != nil {
		e.GET("/api/boards/:boardId/cards/:cardId/comments", s.listComments)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleSocket(c echo.Context) error {
	req := c.Request()
	identity, err := s.identity.Resolve(req.Context(), credentialFromRequest(req))
	if err != nil {
		return c.String(http.StatusUnauthorized, domain.AsError(err).Message)
	}
	ws, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		// The upgrader has already written the error response.
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return nil
	}
	cl := newClient(s.newID(), ws, s.cfg.SendBuffer, s.cfg.TypingRate)
	if err := s.registry.Connect(cl, identity); err != nil {
		s.logger.WithError(err).WithField("user", identity.ID).Warn("rejecting connection")
		cl.Close()
		return nil
	}
	s.logger.WithFields(log.Fields{"conn": cl.id, "user": identity.ID}).Debug("connection opened")
	go s.writePump(cl)
	s.readPump(context.WithoutCancel(req.Context()), cl)
	s.logger.WithFields(log.Fields{"conn": cl.id, "user": identity.ID}).Debug("connection closed")
	return nil
}

type healthResponse struct {
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
	Dropped     uint64 `json:"dropped"`
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{
		Rooms:       s.registry.RoomCount(),
		Connections: s.registry.ConnectionCount(),
		Dropped:     s.registry.Broadcaster().Dropped(),
	})
}

type activitiesResponse struct {
	Activities    []domain.Activity `json:"activities"`
	NextPageToken string            `json:"nextPageToken,omitempty"`
}

func (s *Server) listActivities(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	identity, err := s.identity.Resolve(ctx, credentialFromRequest(req))
	if err != nil {
		return c.String(http.StatusUnauthorized, domain.AsError(err).Message)
	}
	boardID := c.Param("boardId")
	limit := 0
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return c.String(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	if err := s.gateway.Authorize(ctx, boardID, identity.ID); err != nil {
		return s.errorResponse(c, err)
	}
	items, next, err := s.activity.List(ctx, boardID, limit, c.QueryParam("pageToken"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	if items == nil {
		items = []domain.Activity{}
	}
	return c.JSON(http.StatusOK, activitiesResponse{Activities: items, NextPageToken: next})
}

type commentsResponse struct {
	Comments []domain.Comment `json:"comments"`
}

func (s *Server) listComments(c echo.Context) error {
	req := c.Request()
	ctx := req.Context()
	identity, err := s.identity.Resolve(ctx, credentialFromRequest(req))
	if err != nil {
		return c.String(http.StatusUnauthorized, domain.AsError(err).Message)
	}
	boardID, cardID := c.Param("boardId"), c.Param("cardId")
	if err := s.gateway.Authorize(ctx, boardID, identity.ID); err != nil {
		return s.errorResponse(c, err)
	}
	card, err := s.comments.GetCard(ctx, cardID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if card == nil {
		return s.errorResponse(c, domain.NotFound("card %s not found", cardID))
	}
	if card.BoardID != boardID {
		return s.errorResponse(c, domain.InvalidReference("card %s does not belong to board %s", cardID, boardID))
	}
	items, err := s.comments.ListComments(ctx, cardID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if items == nil {
		items = []domain.Comment{}
	}
	return c.JSON(http.StatusOK, commentsResponse{Comments: items})
}

func (s *Server) errorResponse(c echo.Context, err error) error {
	de := domain.AsError(err)
	status := statusForKind(de.Kind)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Path()).Error("request failed")
	}
	return c.JSON(status, errorPayload(de))
}

func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindNotAuthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindInvalidReference, domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
