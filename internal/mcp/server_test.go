package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/config"
	"github.com/dynamicsmcp/fomcp/internal/core"
	"github.com/dynamicsmcp/fomcp/internal/odata/odatatest"
	"github.com/dynamicsmcp/fomcp/internal/profile"
	"github.com/dynamicsmcp/fomcp/internal/storage/sqlite"
	"github.com/dynamicsmcp/fomcp/internal/types"
)

const moduleLine = "Name: ApplicationFoundation | Version: 7.0.7521.60 | Module: ApplicationFoundation | Publisher: Microsoft Corporation | DisplayName: Application Foundation"

func newMetadataFake(base string) *odatatest.FakeClient {
	f := odatatest.New(base)
	f.Responses["GetInstalledModules"] = []byte(`{"value":["` + moduleLine + `"]}`)
	f.Responses["GetApplicationVersion"] = []byte(`{"value":"10.0.1985.137"}`)
	f.Responses["GetPlatformBuildVersion"] = []byte(`{"value":"7.0.7521.60"}`)
	f.Responses["Metadata/DataEntities"] = []byte(`{"value":[
		{"Name":"CustCustomerV3Entity","PublicEntityName":"Customer","PublicCollectionName":"Customers",
		 "LabelId":"@SYS100","DataServiceEnabled":true,"DataManagementEnabled":true,
		 "EntityCategory":"Master","IsReadOnly":false}
	]}`)
	f.Responses["Metadata/PublicEntities('Customer')"] = []byte(`{
		"Name":"Customer","EntitySetName":"Customers","LabelId":"@SYS100",
		"Properties":[{"Name":"CustomerAccount","TypeName":"Edm.String","DataType":"String","IsKey":true}]
	}`)
	f.Responses["Metadata/PublicEnumerations"] = []byte(`{"value":[
		{"Name":"CustVendorBlocked","LabelId":"@SYS200","Members":[{"Name":"No","Value":0}]}
	]}`)
	return f
}

type fakeLabelFetcher struct {
	texts map[string]string
}

func (f *fakeLabelFetcher) FetchLabels(ctx context.Context, ids []string, language string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if text, ok := f.texts[id]; ok {
			out[id] = text
		}
	}
	return out, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store, err := sqlite.Open(context.Background(), t.TempDir()+"/metadata.sqlite")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.DefaultConfig()
	cfg.BaseURL = "https://test.example"
	cfg.CacheDir = t.TempDir()
	c, err := core.New(context.Background(), cfg, core.Options{
		Store:   store,
		Client:  newMetadataFake(cfg.BaseURL),
		Fetcher: &fakeLabelFetcher{texts: map[string]string{"@SYS100": "Customers"}},
	})
	if err != nil {
		t.Fatalf("new core: %v", err)
	}

	registry, err := profile.Load(t.TempDir() + "/profiles.yaml")
	if err != nil {
		t.Fatalf("load profiles: %v", err)
	}
	if err := registry.Set("test", cfg); err != nil {
		t.Fatalf("set profile: %v", err)
	}
	return NewServer(c, registry)
}

// call runs one request through Handle and decodes the response envelope.
func call(t *testing.T, s *Server, id int, method string, params any) *response {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	out := s.Handle(context.Background(), raw)
	if out == nil {
		t.Fatalf("no response for %s", method)
	}
	var resp response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return &resp
}

// callTool invokes tools/call and decodes the embedded tool result.
func callTool(t *testing.T, s *Server, name string, args any) (string, bool) {
	t.Helper()
	resp := call(t, s, 1, "tools/call", map[string]any{"name": name, "arguments": args})
	if resp.Error != nil {
		t.Fatalf("tools/call %s: protocol error %v", name, resp.Error)
	}
	payload, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-marshal result: %v", err)
	}
	var result struct {
		Content []ContentBlock `json:"content"`
		IsError bool           `json:"isError"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("decode tool result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("tool result shape: %+v", result)
	}
	return result.Content[0].Text, result.IsError
}

func syncViaTool(t *testing.T, s *Server) string {
	t.Helper()
	text, isErr := callTool(t, s, "d365fo_start_sync", map[string]any{"strategy": "full_without_labels"})
	if isErr {
		t.Fatalf("start_sync failed: %s", text)
	}
	var session types.SyncSession
	if err := json.Unmarshal([]byte(text), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.core.WaitForSync(ctx, session.ID); err != nil {
		t.Fatalf("wait for sync: %v", err)
	}
	return session.ID
}

func TestInitializeHandshake(t *testing.T) {
	s := newTestServer(t)
	resp := call(t, s, 1, "initialize", map[string]any{"protocolVersion": ProtocolVersion})
	if resp.Error != nil {
		t.Fatalf("initialize: %v", resp.Error)
	}
	payload, _ := json.Marshal(resp.Result)
	var result initializeResult
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.ProtocolVersion != ProtocolVersion {
		t.Errorf("protocol version = %q", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != ServerName {
		t.Errorf("server name = %q", result.ServerInfo.Name)
	}
}

func TestToolsListExposesRegistry(t *testing.T) {
	s := newTestServer(t)
	resp := call(t, s, 1, "tools/list", nil)
	if resp.Error != nil {
		t.Fatalf("tools/list: %v", resp.Error)
	}
	payload, _ := json.Marshal(resp.Result)
	var result toolsListResult
	if err := json.Unmarshal(payload, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}

	want := []string{
		"d365fo_search_entities", "d365fo_get_entity_schema", "d365fo_get_enum",
		"d365fo_list_actions", "d365fo_get_environment_info", "d365fo_get_labels",
		"d365fo_start_sync", "d365fo_get_sync_progress", "d365fo_cancel_sync",
		"d365fo_list_profiles",
	}
	have := make(map[string]bool)
	for _, tool := range result.Tools {
		have[tool.Name] = true
		if len(tool.InputSchema) == 0 {
			t.Errorf("tool %s has no input schema", tool.Name)
		}
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing tool %s", name)
		}
	}
}

func TestToolCallAfterSync(t *testing.T) {
	s := newTestServer(t)
	syncViaTool(t, s)

	text, isErr := callTool(t, s, "d365fo_search_entities", map[string]any{"query": "customer"})
	if isErr {
		t.Fatalf("search failed: %s", text)
	}
	var result struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Count == 0 {
		t.Error("search returned nothing after sync")
	}

	text, isErr = callTool(t, s, "d365fo_get_entity_schema", map[string]any{"name": "Customer"})
	if isErr {
		t.Fatalf("get schema failed: %s", text)
	}
	if !strings.Contains(text, "CustomerAccount") {
		t.Errorf("schema missing property: %s", text)
	}

	text, isErr = callTool(t, s, "d365fo_get_labels", map[string]any{"ids": []string{"@SYS100"}})
	if isErr {
		t.Fatalf("get labels failed: %s", text)
	}
	if !strings.Contains(text, "Customers") {
		t.Errorf("label not resolved: %s", text)
	}
}

func TestToolErrorIsResultNotProtocolFailure(t *testing.T) {
	s := newTestServer(t)

	// No sync has run; reads fail with a structured not_found.
	text, isErr := callTool(t, s, "d365fo_get_entity_schema", map[string]any{"name": "Customer"})
	if !isErr {
		t.Fatalf("expected isError result, got %s", text)
	}
	var se types.Error
	if err := json.Unmarshal([]byte(text), &se); err != nil {
		t.Fatalf("error payload not structured: %v (%s)", err, text)
	}
	if se.Kind != types.ErrNotFound {
		t.Errorf("kind = %q", se.Kind)
	}
}

func TestSyncProgressAndCancelTools(t *testing.T) {
	s := newTestServer(t)
	sessionID := syncViaTool(t, s)

	text, isErr := callTool(t, s, "d365fo_get_sync_progress", map[string]any{"session_id": sessionID})
	if isErr {
		t.Fatalf("progress failed: %s", text)
	}
	var session types.SyncSession
	if err := json.Unmarshal([]byte(text), &session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.State != types.SyncStateCompleted {
		t.Errorf("state = %s", session.State)
	}

	// Cancelling a terminal session is a tool error, not a crash.
	text, isErr = callTool(t, s, "d365fo_cancel_sync", map[string]any{"session_id": sessionID})
	if !isErr {
		t.Fatalf("cancel of terminal session accepted: %s", text)
	}
	if !strings.Contains(text, string(types.ErrNotCancellable)) {
		t.Errorf("error payload = %s", text)
	}
}

func TestListProfilesHidesSecrets(t *testing.T) {
	s := newTestServer(t)
	text, isErr := callTool(t, s, "d365fo_list_profiles", nil)
	if isErr {
		t.Fatalf("list profiles failed: %s", text)
	}
	if !strings.Contains(text, `"test"`) {
		t.Errorf("profile missing: %s", text)
	}
	if strings.Contains(text, "secret") || strings.Contains(text, "client_secret") {
		t.Errorf("secrets leaked: %s", text)
	}
}

func TestResourcesListAndRead(t *testing.T) {
	s := newTestServer(t)
	syncViaTool(t, s)

	resp := call(t, s, 1, "resources/list", nil)
	if resp.Error != nil {
		t.Fatalf("resources/list: %v", resp.Error)
	}
	payload, _ := json.Marshal(resp.Result)
	var list resourcesListResult
	if err := json.Unmarshal(payload, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Resources) != 2 {
		t.Fatalf("resources = %d", len(list.Resources))
	}

	resp = call(t, s, 2, "resources/read", map[string]any{"uri": "d365fo://environment"})
	if resp.Error != nil {
		t.Fatalf("resources/read: %v", resp.Error)
	}
	payload, _ = json.Marshal(resp.Result)
	var read resourceReadResult
	if err := json.Unmarshal(payload, &read); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(read.Contents) != 1 || !strings.Contains(read.Contents[0].Text, "10.0.1985.137") {
		t.Errorf("contents = %+v", read.Contents)
	}
}

func TestUnknownMethod(t *testing.T) {
	s := newTestServer(t)
	resp := call(t, s, 1, "bogus/method", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestNotificationGetsNoResponse(t *testing.T) {
	s := newTestServer(t)
	out := s.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if out != nil {
		t.Errorf("notification answered: %s", out)
	}
}

func TestMalformedRequestIsParseError(t *testing.T) {
	s := newTestServer(t)
	out := s.Handle(context.Background(), []byte(`{not json`))
	var resp response
	if err := json.Unmarshal(out, &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestProgressEventsBufferAndFanOut(t *testing.T) {
	s := newTestServer(t)
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	s.PublishProgress(types.SyncProgress{SessionID: "abc", State: types.SyncStateRunning})
	select {
	case evt := <-ch:
		if evt.Progress.SessionID != "abc" {
			t.Errorf("event = %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	events := s.EventsSince(time.Now().Add(-time.Minute))
	if len(events) != 1 {
		t.Errorf("buffered = %d", len(events))
	}
}
