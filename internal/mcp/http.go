package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HTTPServer exposes the MCP server over HTTP: POST /mcp for JSON-RPC,
// GET /mcp/sse for the sync progress stream, plus health and metrics
// endpoints.
type HTTPServer struct {
	server     *Server
	addr       string
	token      string
	httpServer *http.Server

	mu       sync.RWMutex
	listener net.Listener
}

// NewHTTPServer wraps an MCP server. An empty token disables auth.
func NewHTTPServer(s *Server, addr, token string) *HTTPServer {
	return &HTTPServer{server: s, addr: addr, token: token}
}

// Start listens and serves until the context is cancelled, then shuts
// down gracefully.
func (h *HTTPServer) Start(ctx context.Context) error {
	h.httpServer = &http.Server{
		Handler:     h.handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.addr, err)
	}
	h.mu.Lock()
	h.listener = listener
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.httpServer.Shutdown(shutdownCtx)
	}()

	if err := h.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Addr returns the bound address once listening.
func (h *HTTPServer) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener != nil {
		return h.listener.Addr().String()
	}
	return h.addr
}

func (h *HTTPServer) handler() http.Handler {
	mux := http.NewServeMux()
	// Health endpoints skip auth so orchestrators can probe them.
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/readyz", h.handleReadiness)
	mux.HandleFunc("/metrics", h.handleMetrics)
	mux.HandleFunc("/mcp", h.handleRPC)
	mux.HandleFunc("/mcp/sse", h.handleSSE)
	return mux
}

// authorize enforces the bearer token when one is configured.
func (h *HTTPServer) authorize(w http.ResponseWriter, r *http.Request) bool {
	if h.token == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		h.writeError(w, http.StatusUnauthorized, "missing Authorization header")
		return false
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "invalid Authorization header format")
		return false
	}
	if token != h.token {
		h.writeError(w, http.StatusUnauthorized, "invalid token")
		return false
	}
	return true
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m := h.server.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "healthy",
		"version": ServerVersion,
		"uptime":  fmt.Sprintf("%.0fs", m.UptimeSeconds),
	})
}

func (h *HTTPServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

func (h *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.server.Snapshot())
}

// handleRPC serves POST /mcp: one JSON-RPC message per request.
func (h *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorize(w, r) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxLineBytes))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	resp := h.server.Handle(r.Context(), body)
	if resp == nil {
		// Notification: acknowledged, nothing to return.
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

// handleSSE serves GET /mcp/sse: a stream of sync progress events. The
// since query parameter (unix ms) replays buffered events first.
func (h *HTTPServer) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.authorize(w, r) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid 'since' parameter: must be unix ms")
			return
		}
		since = time.UnixMilli(ms)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := h.server.Subscribe()
	defer unsubscribe()

	if !since.IsZero() {
		for _, evt := range h.server.EventsSince(since) {
			writeSSEEvent(w, evt)
		}
		flusher.Flush()
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			writeSSEEvent(w, evt)
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, evt ProgressEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	// id: carries the timestamp for Last-Event-ID style reconnection.
	fmt.Fprintf(w, "id: %d\n", evt.Timestamp.UnixMilli())
	fmt.Fprintf(w, "event: sync\n")
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func (h *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
