package ingestor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/GabrielNunesIT/go-libs/logger"
	"github.com/GabrielNunesIT/outlit-agent/internal/config"
	"github.com/GabrielNunesIT/outlit-agent/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxHTTPBody = 5 << 20

// HTTPOption configures the HTTPIngestor.
type HTTPOption func(*HTTPIngestor)

// WithReadiness sets the check behind GET /ready.
func WithReadiness(f func() error) HTTPOption {
	return func(h *HTTPIngestor) {
		h.ready = f
	}
}

// WithStats sets the snapshot served by GET /v1/stats.
func WithStats(f func() any) HTTPOption {
	return func(h *HTTPIngestor) {
		h.stats = f
	}
}

// HTTPIngestor accepts events from local applications over HTTP.
//
//	POST /v1/events  single event, array of events, or {"events":[...]}
//	GET  /health     liveness
//	GET  /ready      readiness
//	GET  /v1/stats   delivery counters
//
// POST and stats require X-API-Key when keys are configured.
type HTTPIngestor struct {
	cfg    config.HTTPIngestorConfig
	name   string
	keys   map[string]struct{}
	ready  func() error
	stats  func() any
	logger logger.ILogger
}

// NewHTTPIngestor creates a new HTTP ingestor.
func NewHTTPIngestor(cfg config.HTTPIngestorConfig, log logger.ILogger, opts ...HTTPOption) *HTTPIngestor {
	h := &HTTPIngestor{
		cfg:    cfg,
		name:   "http",
		keys:   make(map[string]struct{}, len(cfg.APIKeys)),
		ready:  func() error { return nil },
		logger: log.SubLogger("HTTPIngestor"),
	}
	for _, k := range cfg.APIKeys {
		h.keys[k] = struct{}{}
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Name returns the ingestor identifier.
func (h *HTTPIngestor) Name() string {
	return h.name
}

// envelopeGate guards out against handlers that outlive server shutdown.
// Handlers send under the read lock; close takes the write lock.
type envelopeGate struct {
	mu     sync.RWMutex
	closed bool
	out    chan<- *model.Envelope
}

func (g *envelopeGate) close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.closed = true
		close(g.out)
	}
}

// Start serves until ctx is cancelled, then shuts the server down gracefully.
// out is closed once no handler can send on it, even if shutdown times out.
func (h *HTTPIngestor) Start(ctx context.Context, out chan<- *model.Envelope) error {
	gate := &envelopeGate{out: out}
	defer gate.close()

	srv := &http.Server{
		Addr:              h.cfg.Address,
		Handler:           h.router(ctx, gate),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Infof("listening for events: address=%s", h.cfg.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		h.logger.Warningf("http ingestor shutdown: %v", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}

// Router builds the gin engine. Accepted envelopes are sent on out until ctx
// is cancelled.
func (h *HTTPIngestor) Router(ctx context.Context, out chan<- *model.Envelope) *gin.Engine {
	return h.router(ctx, &envelopeGate{out: out})
}

func (h *HTTPIngestor) router(ctx context.Context, gate *envelopeGate) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := h.ready(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	v1 := r.Group("/v1")
	v1.Use(h.apiKeyMiddleware())

	v1.POST("/events", func(c *gin.Context) {
		h.handleEvents(ctx, c, gate)
	})

	v1.GET("/stats", func(c *gin.Context) {
		if h.stats == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "stats unavailable"})
			return
		}
		c.JSON(http.StatusOK, h.stats())
	})

	return r
}

func (h *HTTPIngestor) apiKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(h.keys) == 0 {
			c.Next()
			return
		}
		if _, ok := h.keys[strings.TrimSpace(c.GetHeader("X-API-Key"))]; !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (h *HTTPIngestor) handleEvents(ctx context.Context, c *gin.Context, gate *envelopeGate) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxHTTPBody+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}
	if len(body) > maxHTTPBody {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}

	raws, err := splitEvents(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if len(raws) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no events"})
		return
	}
	if h.cfg.MaxEvents > 0 && len(raws) > h.cfg.MaxEvents {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too many events", "max_events": h.cfg.MaxEvents})
		return
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}

	gate.mu.RLock()
	defer gate.mu.RUnlock()

	accepted := 0
	for _, raw := range raws {
		if gate.closed || ctx.Err() != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down", "accepted": accepted, "request_id": requestID})
			return
		}

		env := model.NewEnvelope(h.name, raw)
		env.Metadata["remote_addr"] = c.ClientIP()
		env.Metadata["request_id"] = requestID

		select {
		case gate.out <- env:
			accepted++
		case <-c.Request.Context().Done():
			return
		case <-ctx.Done():
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting down", "accepted": accepted, "request_id": requestID})
			return
		}
	}

	h.logger.Debugf("events accepted: count=%d, request_id=%s", accepted, requestID)
	c.JSON(http.StatusAccepted, gin.H{"accepted": accepted, "request_id": requestID})
}

// splitEvents accepts a single event object, an array of events, or an
// {"events":[...]} wrapper and returns the raw JSON of each event.
func splitEvents(body []byte) ([]json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("empty body")
	}

	switch body[0] {
	case '[':
		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, err
		}
		return raws, nil
	case '{':
		var wrapper struct {
			Events []json.RawMessage `json:"events"`
		}
		if err := json.Unmarshal(body, &wrapper); err != nil {
			return nil, err
		}
		if wrapper.Events != nil {
			return wrapper.Events, nil
		}
		return []json.RawMessage{json.RawMessage(body)}, nil
	default:
		return nil, errors.New("expected JSON object or array")
	}
}
