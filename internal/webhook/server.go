// Package webhook exposes the HTTP relay: answers posted by other systems,
// task lookups, the mock chat endpoints and Prometheus metrics.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nhle/humanloop/internal/channel/mockchat"
	"github.com/nhle/humanloop/internal/loop"
	"github.com/nhle/humanloop/internal/model"
	"github.com/nhle/humanloop/internal/store"
)

const maxBodyBytes = 4 << 20

// Deliverer records an answer for a task.
type Deliverer interface {
	Deliver(ctx context.Context, identifier, content string) error
}

// ChatRelay is the mock chat surface used by the chat routes.
type ChatRelay interface {
	Reply(ctx context.Context, identifier, text string) error
	Transcript(ctx context.Context, identifier string) ([]model.ChatMessage, error)
}

// Server is the webhook relay.
type Server struct {
	store   store.Store
	deliver Deliverer
	chat    ChatRelay
	logger  *slog.Logger
	engine  *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithChat enables the /api/chat routes backed by relay.
func WithChat(relay ChatRelay) Option {
	return func(s *Server) {
		s.chat = relay
	}
}

// New builds the relay. Answers are handed to d; task reads go to st.
func New(st store.Store, d Deliverer, opts ...Option) *Server {
	s := &Server{store: st, deliver: d, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "webhook")

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/webhook", s.handleWebhook)

	api := r.Group("/api")
	api.GET("/tasks/:id", s.handleGetTask)
	api.GET("/chat/:taskId/messages", s.handleChatMessages)
	api.POST("/chat/:taskId/reply", s.handleChatReply)

	s.engine = r
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("webhook listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("webhook listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("webhook serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhook shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("webhook serve: %w", err)
	}
	return nil
}

func (s *Server) handleWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		if !abortTooLarge(c, err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "reading body failed"})
		}
		return
	}

	p, err := DecodePayload(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	switch p := p.(type) {
	case PayloadAnswer:
		s.respondDelivery(c, p.TaskID, s.deliver.Deliver(ctx, p.TaskID, p.Answer))
	case PayloadTask:
		s.handleTaskUpdate(c, p)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported payload %T", p)})
	}
}

// abortTooLarge answers 413 when err comes from a body over maxBodyBytes.
func abortTooLarge(c *gin.Context, err error) bool {
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		return false
	}
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("body exceeds %d bytes", tooLarge.Limit)})
	return true
}

func (s *Server) handleTaskUpdate(c *gin.Context, p PayloadTask) {
	ctx := c.Request.Context()
	switch p.State {
	case StateCompleted, StateInputRequired:
		if p.Text == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "task status message has no text part"})
			return
		}
		s.respondDelivery(c, p.TaskID, s.deliver.Deliver(ctx, p.TaskID, p.Text))
	case StateFailed, StateRejected:
		s.respondDelivery(c, p.TaskID, s.settle(ctx, p.TaskID, model.TaskFailed, p.Text))
	case StateCanceled:
		s.respondDelivery(c, p.TaskID, s.settle(ctx, p.TaskID, model.TaskCanceled, p.Text))
	default:
		s.logger.Debug("task update ignored", "task_id", p.TaskID, "state", p.State)
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored", "taskId": p.TaskID})
	}
}

// settle moves a pending task to a terminal status without an answer.
func (s *Server) settle(ctx context.Context, id string, status model.TaskStatus, reason string) error {
	_, err := s.store.UpdateTask(ctx, id, func(t *model.Task) error {
		if t.Status == model.TaskPending {
			t.Status = status
			t.Error = reason
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", loop.ErrUnknownTask, id)
	}
	return err
}

func (s *Server) respondDelivery(c *gin.Context, id string, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "ok", "taskId": id})
	case errors.Is(err, loop.ErrUnknownTask):
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found", "taskId": id})
	default:
		s.logger.Error("webhook delivery failed", "task_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delivery failed"})
	}
}

func (s *Server) handleGetTask(c *gin.Context) {
	t, err := s.store.GetTask(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		s.logger.Error("reading task", "task_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reading task failed"})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleChatMessages(c *gin.Context) {
	if s.chat == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "mock chat not enabled"})
		return
	}
	msgs, err := s.chat.Transcript(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		s.logger.Error("reading transcript", "task_id", c.Param("taskId"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reading messages failed"})
		return
	}
	if msgs == nil {
		msgs = []model.ChatMessage{}
	}
	c.JSON(http.StatusOK, gin.H{"taskId": c.Param("taskId"), "messages": msgs})
}

type replyRequest struct {
	Text string `json:"text" binding:"required"`
}

func (s *Server) handleChatReply(c *gin.Context) {
	if s.chat == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "mock chat not enabled"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)
	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		if !abortTooLarge(c, err) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		}
		return
	}

	id := c.Param("taskId")
	if _, err := s.store.GetTask(c.Request.Context(), id); errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found", "taskId": id})
		return
	}

	err := s.chat.Reply(c.Request.Context(), id, req.Text)
	if errors.Is(err, mockchat.ErrNotListening) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	s.respondDelivery(c, id, err)
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.GetString("request_id"),
		)
	}
}
