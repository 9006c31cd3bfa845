package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/core"
	"github.com/dynamicsmcp/fomcp/internal/debug"
	"github.com/dynamicsmcp/fomcp/internal/profile"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

// ToolHandler executes one tool call. The returned value is serialized to
// JSON and wrapped in a text content block; errors become IsError results.
type ToolHandler func(ctx context.Context, args json.RawMessage) (any, error)

// ResourceHandler materializes one resource for resources/read.
type ResourceHandler func(ctx context.Context) (any, error)

// progressEventBuffer bounds the SSE replay window.
const progressEventBuffer = 256

// ProgressEvent is one sync progress update fanned out to SSE clients.
type ProgressEvent struct {
	Timestamp time.Time          `json:"timestamp"`
	Progress  types.SyncProgress `json:"progress"`
}

type toolEntry struct {
	def    Tool
	handle ToolHandler
}

type resourceEntry struct {
	def  Resource
	read ResourceHandler
}

// Server dispatches MCP requests against one Core. Safe for concurrent
// use; every transport funnels into Handle.
type Server struct {
	core     *core.Core
	profiles *profile.Registry

	tools     map[string]*toolEntry
	toolOrder []string
	resources []resourceEntry

	startTime time.Time

	metricsMu  sync.Mutex
	requests   int64
	toolCalls  map[string]int64
	toolErrors int64

	eventsMu    sync.Mutex
	events      []ProgressEvent
	subscribers map[uint64]chan ProgressEvent
	nextSubID   uint64
}

// NewServer builds a server over the given core. The profile registry is
// optional; without it the profile tool reports an empty list.
func NewServer(c *core.Core, profiles *profile.Registry) *Server {
	s := &Server{
		core:        c,
		profiles:    profiles,
		tools:       make(map[string]*toolEntry),
		toolCalls:   make(map[string]int64),
		subscribers: make(map[uint64]chan ProgressEvent),
		startTime:   time.Now(),
	}
	registerSearchTools(s, c)
	registerSchemaTools(s, c)
	registerLabelTools(s, c)
	registerSyncTools(s, c)
	registerProfileTools(s, profiles)
	registerResources(s, c)
	return s
}

// registerTool adds a tool to the registry. Duplicate names are a
// programming error.
func (s *Server) registerTool(def Tool, handle ToolHandler) {
	if _, ok := s.tools[def.Name]; ok {
		panic(fmt.Sprintf("mcp: duplicate tool %q", def.Name))
	}
	s.tools[def.Name] = &toolEntry{def: def, handle: handle}
	s.toolOrder = append(s.toolOrder, def.Name)
}

func (s *Server) registerResource(def Resource, read ResourceHandler) {
	s.resources = append(s.resources, resourceEntry{def: def, read: read})
}

// Handle processes one raw JSON-RPC message and returns the serialized
// response, or nil for notifications.
func (s *Server) Handle(ctx context.Context, raw []byte) []byte {
	s.metricsMu.Lock()
	s.requests++
	s.metricsMu.Unlock()

	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		return marshalResponse(&response{
			JSONRPC: "2.0",
			ID:      json.RawMessage("null"),
			Error:   &rpcError{Code: codeParseError, Message: "parse error: " + err.Error()},
		})
	}

	resp := s.dispatch(ctx, &req)
	if req.isNotification() {
		return nil
	}
	return marshalResponse(resp)
}

func (s *Server) dispatch(ctx context.Context, req *request) *response {
	resp := &response{JSONRPC: "2.0", ID: req.ID}
	if len(req.ID) == 0 {
		resp.ID = json.RawMessage("null")
	}

	switch req.Method {
	case "initialize":
		resp.Result = initializeResult{
			ProtocolVersion: ProtocolVersion,
			Capabilities: capabilities{
				Tools:     map[string]any{},
				Resources: map[string]any{},
			},
			ServerInfo: serverInfo{Name: ServerName, Version: ServerVersion},
		}

	case "ping":
		resp.Result = map[string]any{}

	case "tools/list":
		out := toolsListResult{Tools: make([]Tool, 0, len(s.toolOrder))}
		for _, name := range s.toolOrder {
			out.Tools = append(out.Tools, s.tools[name].def)
		}
		resp.Result = out

	case "tools/call":
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &rpcError{Code: codeInvalidParams, Message: "invalid tools/call params: " + err.Error()}
			return resp
		}
		entry, ok := s.tools[params.Name]
		if !ok {
			resp.Error = &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("unknown tool: %s", params.Name)}
			return resp
		}
		resp.Result = s.callTool(ctx, entry, params)

	case "resources/list":
		out := resourcesListResult{Resources: make([]Resource, 0, len(s.resources))}
		for _, r := range s.resources {
			out.Resources = append(out.Resources, r.def)
		}
		resp.Result = out

	case "resources/read":
		var params resourceReadParams
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &rpcError{Code: codeInvalidParams, Message: "invalid resources/read params: " + err.Error()}
			return resp
		}
		result, rpcErr := s.readResource(ctx, params.URI)
		if rpcErr != nil {
			resp.Error = rpcErr
			return resp
		}
		resp.Result = result

	default:
		if req.isNotification() {
			// Clients send notifications/initialized and friends; ignore.
			return resp
		}
		resp.Error = &rpcError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
	return resp
}

// callTool runs a handler and folds any failure into an IsError result
// carrying the structured error JSON.
func (s *Server) callTool(ctx context.Context, entry *toolEntry, params toolCallParams) *ToolResult {
	s.metricsMu.Lock()
	s.toolCalls[params.Name]++
	s.metricsMu.Unlock()

	args := params.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := entry.handle(ctx, args)
	if err != nil {
		s.metricsMu.Lock()
		s.toolErrors++
		s.metricsMu.Unlock()
		debug.Logf("mcp: tool %s failed: %v", params.Name, err)
		return &ToolResult{Content: []ContentBlock{{Type: "text", Text: errorJSON(err)}}, IsError: true}
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return &ToolResult{Content: []ContentBlock{{Type: "text", Text: errorJSON(err)}}, IsError: true}
	}
	return &ToolResult{Content: []ContentBlock{{Type: "text", Text: string(payload)}}}
}

func (s *Server) readResource(ctx context.Context, uri string) (*resourceReadResult, *rpcError) {
	for _, r := range s.resources {
		if r.def.URI != uri {
			continue
		}
		value, err := r.read(ctx)
		if err != nil {
			return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
		}
		payload, err := json.Marshal(value)
		if err != nil {
			return nil, &rpcError{Code: codeInternalError, Message: err.Error()}
		}
		return &resourceReadResult{Contents: []ResourceContents{{
			URI:      uri,
			MimeType: "application/json",
			Text:     string(payload),
		}}}, nil
	}
	return nil, &rpcError{Code: codeInvalidParams, Message: fmt.Sprintf("unknown resource: %s", uri)}
}

// errorJSON renders an error as the structured JSON tool results carry.
func errorJSON(err error) string {
	var se *types.Error
	if !errors.As(err, &se) {
		se = &types.Error{Message: err.Error()}
	}
	payload, merr := json.Marshal(se)
	if merr != nil {
		return fmt.Sprintf(`{"message":%q}`, err.Error())
	}
	return string(payload)
}

func marshalResponse(resp *response) []byte {
	out, err := json.Marshal(resp)
	if err != nil {
		// The response itself failed to serialize; degrade to a bare
		// internal error so the client gets something parseable.
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"response serialization failed"}}`)
	}
	return out
}

// PublishProgress records a sync progress update for SSE fan-out. Wire it
// to core.Options.Progress in serve mode.
func (s *Server) PublishProgress(p types.SyncProgress) {
	evt := ProgressEvent{Timestamp: time.Now(), Progress: p}
	s.eventsMu.Lock()
	s.events = append(s.events, evt)
	if len(s.events) > progressEventBuffer {
		s.events = s.events[len(s.events)-progressEventBuffer:]
	}
	for _, ch := range s.subscribers {
		select {
		case ch <- evt:
		default:
			// Slow subscriber; drop rather than stall the sync worker.
		}
	}
	s.eventsMu.Unlock()
}

// Subscribe registers an SSE subscriber. The returned func unsubscribes
// and closes the channel.
func (s *Server) Subscribe() (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, 32)
	s.eventsMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	s.eventsMu.Unlock()

	return ch, func() {
		s.eventsMu.Lock()
		if _, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(ch)
		}
		s.eventsMu.Unlock()
	}
}

// EventsSince returns buffered progress events newer than the given time.
func (s *Server) EventsSince(t time.Time) []ProgressEvent {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	var out []ProgressEvent
	for _, evt := range s.events {
		if evt.Timestamp.After(t) {
			out = append(out, evt)
		}
	}
	return out
}

// Metrics is the /metrics payload.
type Metrics struct {
	UptimeSeconds float64          `json:"uptime_seconds"`
	Requests      int64            `json:"requests"`
	ToolCalls     map[string]int64 `json:"tool_calls"`
	ToolErrors    int64            `json:"tool_errors"`
}

// Snapshot returns current server metrics.
func (s *Server) Snapshot() Metrics {
	s.metricsMu.Lock()
	defer s.metricsMu.Unlock()
	calls := make(map[string]int64, len(s.toolCalls))
	for k, v := range s.toolCalls {
		calls[k] = v
	}
	return Metrics{
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Requests:      s.requests,
		ToolCalls:     calls,
		ToolErrors:    s.toolErrors,
	}
}
