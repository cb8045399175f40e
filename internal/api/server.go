package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"chatdesk/internal/session"
	"chatdesk/pkg/interfaces"
	"chatdesk/pkg/types"
)

// Session is the slice of session.Manager the bridge drives.
type Session interface {
	RefreshRooms(ctx context.Context) error
	Select(ctx context.Context, roomID string) error
	SendContent(ctx context.Context, content string, messageType types.MessageType) (*types.Message, error)
	Reconnect(ctx context.Context) error
	Rooms() types.ChatList
	Selected() string
	Messages() []types.Message
	State() (session.HistoryState, error)
	ConnectionState() interfaces.ConnectionState
}

// Options wires a Server.
type Options struct {
	Session Session
	Journal interfaces.Journal // optional; transcript endpoint answers 404 without it
	// SelfID returns the signed-in agent's user id, "" when unknown.
	SelfID func() string
	Logger *zap.Logger
	Now    func() time.Time
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between a local UI and the session
// Clean separation - no business logic, only HTTP handling and JSON shaping
type Server struct {
	session Session
	journal interfaces.Journal
	selfID  func() string
	logger  *zap.Logger
	now     func() time.Time
	engine  *gin.Engine
	started time.Time
}

// NewServer builds the gin engine with all bridge routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SelfID == nil {
		opts.SelfID = func() string { return "" }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		session: opts.Session,
		journal: opts.Journal,
		selfID:  opts.SelfID,
		logger:  opts.Logger,
		now:     opts.Now,
		engine:  gin.New(),
		started: opts.Now(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and request logging apply to every route for local web client compatibility
func (s *Server) setupRoutes() {
	s.engine.Use(gin.Recovery(), s.requestLogger(), corsMiddleware())

	s.engine.GET("/health", s.healthCheck)

	api := s.engine.Group("/api")
	api.GET("/rooms", s.listRooms)
	api.POST("/rooms/refresh", s.refreshRooms)
	api.GET("/rooms/:id/transcript", s.transcript)
	api.PUT("/selection", s.selectRoom)
	api.GET("/messages", s.listMessages)
	api.POST("/messages", s.sendMessage)
	api.POST("/session/reconnect", s.reconnect)
}

// ServeHTTP makes the server usable as a plain http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// Request types
type SelectRequest struct {
	RoomID string `json:"roomId"`
}

type SendRequest struct {
	Content string            `json:"content"`
	Type    types.MessageType `json:"type"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Connection string    `json:"connection"`
	Journal    string    `json:"journal"`
	Uptime     string    `json:"uptime"`
}

// FUNCTIONAL DISCOVERY: GET /health - reports the chat connection and journal
// A disconnected session is degraded, not down: the bridge still serves the last state
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	state := s.session.ConnectionState()
	status := "healthy"
	if state != interfaces.StateConnected {
		status = "degraded"
	}

	journal := "disabled"
	code := http.StatusOK
	if s.journal != nil {
		journal = "healthy"
		if err := s.journal.HealthCheck(ctx); err != nil {
			journal = "error: " + err.Error()
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	c.JSON(code, HealthResponse{
		Status:     status,
		Timestamp:  s.now(),
		Connection: string(state),
		Journal:    journal,
		Uptime:     s.now().Sub(s.started).Round(time.Second).String(),
	})
}

// FUNCTIONAL DISCOVERY: GET /api/rooms - mirror of the server partition, never reordered
func (s *Server) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, s.directoryView())
}

// POST /api/rooms/refresh
func (s *Server) refreshRooms(c *gin.Context) {
	if err := s.session.RefreshRooms(c.Request.Context()); err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.directoryView())
}

// FUNCTIONAL DISCOVERY: PUT /api/selection - an empty roomId clears the selection
func (s *Server) selectRoom(c *gin.Context) {
	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid body: "+err.Error())
		return
	}

	if err := s.session.Select(c.Request.Context(), strings.TrimSpace(req.RoomID)); err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.logView())
}

// GET /api/messages
func (s *Server) listMessages(c *gin.Context) {
	c.JSON(http.StatusOK, s.logView())
}

// FUNCTIONAL DISCOVERY: POST /api/messages - a silent no-op (blank text, nothing
// selected, no connection) answers 204 so the UI can keep its draft
func (s *Server) sendMessage(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid body: "+err.Error())
		return
	}
	if req.Type == "" {
		req.Type = types.MessageTypeText
	}
	if !types.IsValidMessageType(req.Type) {
		s.badRequest(c, "unknown message type "+string(req.Type))
		return
	}

	msg, err := s.session.SendContent(c.Request.Context(), req.Content, req.Type)
	if err != nil {
		s.sendError(c, err)
		return
	}
	if msg == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusCreated, s.messageView(*msg, s.selfID(), s.now()))
}

// POST /api/session/reconnect
func (s *Server) reconnect(c *gin.Context) {
	if err := s.session.Reconnect(c.Request.Context()); err != nil {
		s.sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connection": string(s.session.ConnectionState()),
		"rooms":      s.directoryView(),
	})
}

// GET /api/rooms/:id/transcript
func (s *Server) transcript(c *gin.Context) {
	if s.journal == nil {
		s.sendStatus(c, http.StatusNotFound, "journal is disabled")
		return
	}

	roomID := c.Param("id")
	messages, err := s.journal.RoomTranscript(c.Request.Context(), roomID)
	if err != nil {
		s.logger.Error("transcript read failed", zap.String("room_id", roomID), zap.Error(err))
		s.sendStatus(c, http.StatusInternalServerError, "failed to read transcript")
		return
	}

	selfID, now := s.selfID(), s.now()
	views := make([]MessageView, 0, len(messages))
	for _, m := range messages {
		views = append(views, s.messageView(m, selfID, now))
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "messages": views})
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Warn("bridge request failed",
			zap.String("path", c.FullPath()), zap.Int("status", code), zap.Error(err))
	}
	s.sendStatus(c, code, err.Error())
}

func (s *Server) badRequest(c *gin.Context, message string) {
	s.sendStatus(c, http.StatusBadRequest, message)
}

func (s *Server) sendStatus(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// statusFor maps session and transport errors to HTTP codes.
func statusFor(err error) int {
	var authErr *types.AuthenticationError
	var serverErr *types.ChatServerError
	var transportErr *types.TransportError

	switch {
	case errors.As(err, &authErr):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrNotOpen), errors.Is(err, session.ErrSelectionChanged):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return http.StatusGatewayTimeout
	case errors.As(err, &serverErr):
		return http.StatusBadGateway
	case errors.As(err, &transportErr):
		return http.StatusServiceUnavailable
	case isValidation(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables a local web client
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		h.Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("bridge request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
