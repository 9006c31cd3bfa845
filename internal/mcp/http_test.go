package mcp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dynamicsmcp/fomcp/internal/types"
)

func newHTTPTestServer(t *testing.T, token string) (*Server, *httptest.Server) {
	t.Helper()
	s := newTestServer(t)
	h := NewHTTPServer(s, "127.0.0.1:0", token)
	ts := httptest.NewServer(h.handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestHealthEndpointsNeedNoAuth(t *testing.T) {
	_, ts := newHTTPTestServer(t, "sekrit")

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}
}

func TestRPCEndpointEnforcesBearerToken(t *testing.T) {
	_, ts := newHTTPTestServer(t, "sekrit")
	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`

	resp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/mcp", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sekrit")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post with token: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with token = %d", resp.StatusCode)
	}
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Error != nil {
		t.Errorf("ping error: %+v", out.Error)
	}
}

func TestRPCRoundTripOverHTTP(t *testing.T) {
	_, ts := newHTTPTestServer(t, "")

	body := `{"jsonrpc":"2.0","id":7,"method":"tools/list"}`
	resp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Error != nil {
		t.Fatalf("tools/list: %+v", out.Error)
	}
	payload, _ := json.Marshal(out.Result)
	if !bytes.Contains(payload, []byte("d365fo_search_entities")) {
		t.Errorf("tools missing from %s", payload)
	}
}

func TestNotificationOverHTTPIsAccepted(t *testing.T) {
	_, ts := newHTTPTestServer(t, "")

	body := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	resp, err := http.Post(ts.URL+"/mcp", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("notification = %d, want 202", resp.StatusCode)
	}
}

func TestSSEReplaysBufferedEvents(t *testing.T) {
	s, ts := newHTTPTestServer(t, "")
	s.PublishProgress(types.SyncProgress{SessionID: "abc", State: types.SyncStateRunning, Phase: types.PhaseEntities})

	resp, err := http.Get(ts.URL + "/mcp/sse?since=1")
	if err != nil {
		t.Fatalf("get sse: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Read one full SSE frame from the replay.
	type frame struct {
		event string
		data  string
	}
	got := make(chan frame, 1)
	go func() {
		var f frame
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				f.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				f.data = strings.TrimPrefix(line, "data: ")
				got <- f
				return
			}
		}
	}()

	select {
	case f := <-got:
		if f.event != "sync" {
			t.Errorf("event = %q", f.event)
		}
		var evt ProgressEvent
		if err := json.Unmarshal([]byte(f.data), &evt); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if evt.Progress.SessionID != "abc" || evt.Progress.Phase != types.PhaseEntities {
			t.Errorf("event = %+v", evt.Progress)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no SSE frame received")
	}
}

func TestSSERejectsBadSince(t *testing.T) {
	_, ts := newHTTPTestServer(t, "")
	resp, err := http.Get(ts.URL + "/mcp/sse?since=yesterday")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad since = %d", resp.StatusCode)
	}
}
