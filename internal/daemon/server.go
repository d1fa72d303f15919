package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/coachlink/coachlink/internal/api"
	"github.com/coachlink/coachlink/internal/auth"
	"github.com/coachlink/coachlink/internal/notify"
	"github.com/coachlink/coachlink/internal/profile"
	"github.com/coachlink/coachlink/internal/realtime"
	"github.com/coachlink/coachlink/internal/status"
	intsync "github.com/coachlink/coachlink/internal/sync"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes the daemon's control API over the profile's Unix domain
// socket. Frontends (CLI, future UI shells) are thin: all chat, auth and
// notification state lives behind these endpoints.
type Server struct {
	http       *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger

	profile string
	session *auth.Manager
	client  *api.Client
	machine *status.Machine
	conn    *realtime.Conn
	engine  *intsync.Engine
	rec     *intsync.Reconciler
	bridge  *notify.Bridge
}

// NewServer creates the control API server bound to the profile's socket.
func NewServer(
	p Params,
	logger *zap.Logger,
	session *auth.Manager,
	client *api.Client,
	machine *status.Machine,
	conn *realtime.Conn,
	engine *intsync.Engine,
	rec *intsync.Reconciler,
	bridge *notify.Bridge,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.Profile)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
		profile:    p.Profile,
		session:    session,
		client:     client,
		machine:    machine,
		conn:       conn,
		engine:     engine,
		rec:        rec,
		bridge:     bridge,
	}
	s.http = &http.Server{Handler: s.router()}
	return s, nil
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	v1 := r.Group("/v1")
	v1.GET("/status", s.getStatus)

	v1.POST("/auth/login", s.postLogin)
	v1.POST("/auth/register", s.postRegister)
	v1.POST("/auth/logout", s.postLogout)

	v1.GET("/chats", s.getChats)
	v1.POST("/chats", s.postCreateChat)
	v1.GET("/chats/:id/messages", s.getMessages)
	v1.POST("/chats/:id/read", s.postMarkRead)
	v1.POST("/chats/:id/typing", s.postTyping)

	v1.POST("/messages", s.postSendMessage)

	v1.POST("/lifecycle", s.postLifecycle)
	v1.GET("/notifications", s.getNotifications)
	v1.GET("/notifications/pending", s.getPendingNotification)
	v1.POST("/notifications/tap", s.postNotificationTap)

	v1.GET("/plans", s.getPlans)
	v1.GET("/plans/:id", s.getPlan)
	v1.GET("/tasks", s.getTasks)
	v1.POST("/tasks/:id/complete", s.postCompleteTask)

	v1.GET("/files/:id/url", s.getFileURL)

	return r
}

// Start begins serving requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control API listening", zap.String("socket", s.socketPath))
	err := s.http.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control API stopping")
	_ = s.http.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
}

func (s *Server) getStatus(c *gin.Context) {
	sess := s.session.Current()
	c.JSON(http.StatusOK, gin.H{
		"profile":            s.profile,
		"state":              string(s.machine.Current()),
		"reconnect_attempts": s.conn.ReconnectAttempts(),
		"authenticated":      s.session.Authenticated(),
		"user":               sess.User,
		"unread":             s.bridge.Unread(),
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) postLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := s.client.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.connectAndRefresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user": user})
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Role     string `json:"role" binding:"required"`
}

func (s *Server) postRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := s.client.Register(c.Request.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.connectAndRefresh(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (s *Server) postLogout(c *gin.Context) {
	s.conn.Teardown()
	err := s.client.Logout(c.Request.Context())
	s.rec.Forget()
	if err != nil {
		s.logger.Warn("server-side logout failed", zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// connectAndRefresh brings the realtime connection up for a fresh session and
// pulls the first chat-list snapshot.
func (s *Server) connectAndRefresh(ctx context.Context) {
	s.conn.Establish(context.Background(), s.session.AccessToken())
	if err := s.engine.RefreshChatList(ctx); err != nil {
		s.logger.Warn("initial chat list fetch failed", zap.Error(err))
	}
}

func (s *Server) getChats(c *gin.Context) {
	if c.Query("refresh") == "1" {
		if err := s.engine.RefreshChatList(c.Request.Context()); err != nil {
			s.logger.Warn("chat list refresh failed", zap.Error(err))
		}
	}
	chats, fromCache := s.rec.Chats()
	c.JSON(http.StatusOK, gin.H{"chats": chats, "from_cache": fromCache})
}

func (s *Server) getMessages(c *gin.Context) {
	chatID := c.Param("id")
	if c.Query("refresh") == "1" {
		if err := s.engine.RefreshMessages(c.Request.Context(), chatID); err != nil {
			s.logger.Warn("history refresh failed",
				zap.String("chat_id", chatID), zap.Error(err))
		}
	}
	msgs, fromCache := s.rec.LoadMessages(chatID)
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "from_cache": fromCache})
}

func (s *Server) postMarkRead(c *gin.Context) {
	chatID := c.Param("id")
	s.rec.MarkRead(chatID)
	s.conn.MarkRead(chatID)
	if err := s.client.MarkRead(c.Request.Context(), chatID); err != nil {
		s.logger.Warn("mark read failed", zap.String("chat_id", chatID), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type typingRequest struct {
	Active bool `json:"active"`
}

func (s *Server) postTyping(c *gin.Context) {
	var req typingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.conn.Typing(c.Param("id"), req.Active)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type createChatRequest struct {
	ParticipantID string `json:"participant_id" binding:"required"`
}

func (s *Server) postCreateChat(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.conn.CreateChat(req.ParticipantID)
	c.JSON(http.StatusAccepted, gin.H{"ok": true})
}

type sendMessageRequest struct {
	ChatID  string `json:"chat_id" binding:"required"`
	Content string `json:"content"`
	Type    string `json:"type"`
	FileID  string `json:"file_id"`
}

func (s *Server) postSendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.conn.IsConnected() {
		c.JSON(http.StatusConflict, gin.H{"error": "not connected"})
		return
	}
	msgType := req.Type
	if msgType == "" {
		msgType = "text"
	}
	clientID := s.conn.SendMessage(req.ChatID, req.Content, msgType, req.FileID)
	c.JSON(http.StatusAccepted, gin.H{"client_id": clientID})
}

type lifecycleRequest struct {
	State string `json:"state" binding:"required"`
}

func (s *Server) postLifecycle(c *gin.Context) {
	var req lifecycleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	switch notify.Lifecycle(req.State) {
	case notify.LifecycleActive, notify.LifecycleBackground, notify.LifecycleInactive:
		s.bridge.SetLifecycle(notify.Lifecycle(req.State))
		c.JSON(http.StatusOK, gin.H{"ok": true})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown lifecycle state"})
	}
}

func (s *Server) getNotifications(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"unread": s.bridge.Unread()})
}

func (s *Server) getPendingNotification(c *gin.Context) {
	p := s.bridge.ConsumePending()
	if p == nil {
		c.JSON(http.StatusOK, gin.H{"pending": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": p})
}

func (s *Server) postNotificationTap(c *gin.Context) {
	var p notify.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.bridge.NotificationTapped(p)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) getPlans(c *gin.Context) {
	plans, err := s.client.ListPlans(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (s *Server) getPlan(c *gin.Context) {
	plan, err := s.client.GetPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

func (s *Server) getTasks(c *gin.Context) {
	tasks, err := s.client.ListTasks(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) postCompleteTask(c *gin.Context) {
	if err := s.client.CompleteTask(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) getFileURL(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"url": s.client.DownloadURL(c.Param("id"))})
}

// fail maps backend errors onto the control API, passing API status codes
// through so the frontend can distinguish auth failures from outages.
func (s *Server) fail(c *gin.Context, err error) {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		c.JSON(apiErr.Status, gin.H{"error": apiErr.Message})
		return
	}
	c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
}
