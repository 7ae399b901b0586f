// Package server is the HTTP face of Trestle: platform webhooks in,
// backend callbacks in, everything else delegated. The synchronous request
// path does verification and deduplication only; all slow work runs on the
// background executor so webhook senders never see a timeout.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/trestle-dev/trestle/internal/agent"
	"github.com/trestle-dev/trestle/internal/bridge"
	"github.com/trestle-dev/trestle/internal/dedupe"
	"github.com/trestle-dev/trestle/internal/signature"
)

// maxBodyBytes bounds webhook and callback payloads.
const maxBodyBytes = 1 << 20

// callbackSkew is the accepted clock skew on signed callback timestamps.
const callbackSkew = 5 * time.Minute

// Server wires the HTTP routes to the bridge components.
type Server struct {
	engine       *gin.Engine
	adapters     map[string]bridge.Adapter
	orchestrator *bridge.Orchestrator
	completer    *bridge.Completer
	dedupe       *dedupe.Store
	executor     *bridge.Executor
	secret       string
	version      string
	now          func() time.Time
}

// Opts holds parameters for creating a Server.
type Opts struct {
	Adapters     []bridge.Adapter
	Orchestrator *bridge.Orchestrator
	Completer    *bridge.Completer
	Dedupe       *dedupe.Store
	Executor     *bridge.Executor
	SharedSecret string           // verifies backend callbacks
	Version      string           // reported by the health endpoint
	Now          func() time.Time // injected clock, defaults to time.Now
}

// New creates a Server and registers its routes.
func New(opts Opts) (*Server, error) {
	if len(opts.Adapters) == 0 {
		return nil, fmt.Errorf("server: at least one adapter is required")
	}
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("server: orchestrator is required")
	}
	if opts.Completer == nil {
		return nil, fmt.Errorf("server: completer is required")
	}
	if opts.Dedupe == nil {
		return nil, fmt.Errorf("server: dedupe store is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("server: executor is required")
	}
	if opts.SharedSecret == "" {
		return nil, fmt.Errorf("server: shared secret is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	adapters := make(map[string]bridge.Adapter, len(opts.Adapters))
	for _, a := range opts.Adapters {
		adapters[a.Platform()] = a
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:       engine,
		adapters:     adapters,
		orchestrator: opts.Orchestrator,
		completer:    opts.Completer,
		dedupe:       opts.Dedupe,
		executor:     opts.Executor,
		secret:       opts.SharedSecret,
		version:      opts.Version,
		now:          now,
	}

	engine.POST("/webhooks/:platform", s.handleWebhook)
	engine.POST("/callbacks/complete", s.handleCompletion)
	engine.POST("/callbacks/plan", s.handlePlanUpdate)
	engine.GET("/healthz", s.handleHealth)

	return s, nil
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until ctx is cancelled, then shuts down gracefully and waits
// for in-flight background tasks.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.engine,
	}

	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	s.executor.Wait()
	return nil
}

// handleWebhook is the inbound platform path: verify, parse, deduplicate,
// dispatch. Challenge handshakes are answered synchronously.
func (s *Server) handleWebhook(c *gin.Context) {
	adapter, ok := s.adapters[c.Param("platform")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown platform"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if !adapter.VerifyRequest(c.Request, body) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}

	ev, err := adapter.ParseRequest(c.Request, body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized payload"})
		return
	}

	switch ev.Kind {
	case bridge.EventChallenge:
		c.JSON(http.StatusOK, gin.H{"challenge": ev.Challenge})
		return
	case bridge.EventIgnore:
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if ev.EventID != "" {
		seen, err := s.dedupe.CheckAndMark("webhook:"+ev.Platform, ev.EventID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "dedupe failed"})
			return
		}
		if seen {
			c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
			return
		}
	}

	event := *ev
	s.executor.Submit("webhook:"+event.Platform, func(ctx context.Context) {
		s.orchestrator.HandleEvent(ctx, adapter, &event)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// completionPayload is the backend's execution-complete callback.
type completionPayload struct {
	SessionID string                 `json:"sessionId" binding:"required"`
	MessageID string                 `json:"messageId" binding:"required"`
	Success   bool                   `json:"success"`
	Timestamp int64                  `json:"timestamp" binding:"required"`
	Signature string                 `json:"signature" binding:"required"`
	Context   *agent.CallbackContext `json:"context"`
}

// handleCompletion is the backend callback path. The signature covers the
// session id, message id, success flag, and timestamp; a stale timestamp
// is rejected even with a valid signature.
func (s *Server) handleCompletion(c *gin.Context) {
	var payload completionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	if !signature.VerifyCallback(payload.SessionID, payload.MessageID, payload.Success,
		payload.Timestamp, payload.Signature, []byte(s.secret)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}
	if s.stale(payload.Timestamp) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "timestamp out of range"})
		return
	}

	seen, err := s.dedupe.CheckAndMark("callback", payload.SessionID+":"+payload.MessageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dedupe failed"})
		return
	}
	if seen {
		c.JSON(http.StatusOK, gin.H{"status": "duplicate"})
		return
	}

	cb := bridge.Completion{
		SessionID: payload.SessionID,
		MessageID: payload.MessageID,
		Success:   payload.Success,
		Context:   payload.Context,
	}
	s.executor.Submit("completion", func(ctx context.Context) {
		s.completer.HandleCompletion(ctx, cb)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// planPayload is the backend's plan-step callback.
type planPayload struct {
	SessionID string `json:"sessionId" binding:"required"`
	Step      struct {
		Title  string `json:"title" binding:"required"`
		Status string `json:"status" binding:"required"`
	} `json:"step"`
	Timestamp int64  `json:"timestamp" binding:"required"`
	Signature string `json:"signature" binding:"required"`
}

// handlePlanUpdate mirrors plan step changes into the conversation. The
// signature covers "sessionId:title:status:timestamp".
func (s *Server) handlePlanUpdate(c *gin.Context) {
	var payload planPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	signed := fmt.Sprintf("%s:%s:%s:%d", payload.SessionID, payload.Step.Title, payload.Step.Status, payload.Timestamp)
	if !signature.Verify([]byte(signed), payload.Signature, []byte(s.secret)) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "signature verification failed"})
		return
	}
	if s.stale(payload.Timestamp) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "timestamp out of range"})
		return
	}

	sessionID := payload.SessionID
	step := agent.PlanStep{Title: payload.Step.Title, Status: payload.Step.Status}
	s.executor.Submit("plan-update", func(ctx context.Context) {
		s.completer.HandlePlanUpdate(ctx, sessionID, step)
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// handleHealth reports liveness and the build version.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

// stale reports whether a callback timestamp falls outside the accepted
// skew window.
func (s *Server) stale(ts int64) bool {
	delta := s.now().Sub(time.Unix(ts, 0))
	if delta < 0 {
		delta = -delta
	}
	return delta > callbackSkew
}
