package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pandeptwidyaop/n8n-monitor/internal/models"
	"github.com/pandeptwidyaop/n8n-monitor/internal/remote"
)

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestWorkflowRefreshAndList(t *testing.T) {
	f := setupAPITest(t)

	w := f.do(t, "POST", "/api/workflows/refresh?active=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["count"]; got != float64(2) {
		t.Errorf("expected 2 refreshed workflows, got %v", got)
	}

	w = f.do(t, "GET", "/api/workflows?active=true&limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if got := decode(t, w)["count"]; got != float64(2) {
		t.Errorf("expected 2 stored workflows, got %v", got)
	}

	w = f.do(t, "GET", "/api/workflows?q=Orders", nil)
	if got := decode(t, w)["count"]; got != float64(1) {
		t.Errorf("expected 1 search result, got %v", got)
	}

	w = f.do(t, "GET", "/api/workflows/w2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if got := decode(t, w)["name"]; got != "Invoices" {
		t.Errorf("expected Invoices, got %v", got)
	}
}

func TestWorkflowBookmark(t *testing.T) {
	f := setupAPITest(t)
	f.do(t, "POST", "/api/workflows/refresh", nil)

	w := f.do(t, "PUT", "/api/workflows/w2/bookmark", map[string]bool{"bookmarked": true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, "GET", "/api/workflows?limit=10", nil)
	var list struct {
		Workflows []models.Workflow `json:"workflows"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if len(list.Workflows) != 2 || list.Workflows[0].ID != "w2" {
		t.Errorf("expected bookmarked w2 first, got %+v", list.Workflows)
	}

	w = f.do(t, "POST", "/api/workflows/w2/bookmark/toggle", nil)
	if got := decode(t, w)["is_bookmarked"]; got != false {
		t.Errorf("expected toggle to clear bookmark, got %v", got)
	}

	w = f.do(t, "PUT", "/api/workflows/w2/bookmark", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without bookmarked, got %d", w.Code)
	}

	w = f.do(t, "PUT", "/api/workflows/missing/bookmark", map[string]bool{"bookmarked": true})
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown workflow, got %d", w.Code)
	}
}

func TestWorkflowGet_Validation(t *testing.T) {
	f := setupAPITest(t)

	w := f.do(t, "GET", "/api/workflows/bad%20id", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid id, got %d", w.Code)
	}

	w = f.do(t, "GET", "/api/workflows?limit=abc", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid limit, got %d", w.Code)
	}

	w = f.do(t, "GET", "/api/workflows/w1/stats?since=yesterday", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid since, got %d", w.Code)
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		kind     string
		upstream float64
	}{
		{"unauthorized", &remote.HTTPError{StatusCode: 401, Message: "unauthorized"}, http.StatusUnauthorized, "unauthorized", 401},
		{"forbidden", &remote.HTTPError{StatusCode: 403, Message: "forbidden"}, http.StatusForbidden, "forbidden", 403},
		{"server error", &remote.HTTPError{StatusCode: 500, Message: "boom"}, http.StatusBadGateway, "server_error", 500},
		{"connectivity", &remote.TransportError{Op: "GET", Err: http.ErrHandlerTimeout}, http.StatusServiceUnavailable, "connectivity", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupAPITest(t)
			f.remote.err = tt.err

			w := f.do(t, "POST", "/api/workflows/refresh", nil)
			if w.Code != tt.status {
				t.Fatalf("expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			body := decode(t, w)
			if body["kind"] != tt.kind {
				t.Errorf("expected kind %s, got %v", tt.kind, body["kind"])
			}
			if guidance, _ := body["guidance"].(string); guidance == "" {
				t.Error("expected guidance in error body")
			}
			if tt.upstream != 0 && body["upstream_status"] != tt.upstream {
				t.Errorf("expected upstream status %v, got %v", tt.upstream, body["upstream_status"])
			}
		})
	}
}

func TestNotConfigured(t *testing.T) {
	f := setupAPITest(t)

	w := f.do(t, "DELETE", "/api/settings", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if got := decode(t, w)["configured"]; got != false {
		t.Errorf("expected configured false after clear, got %v", got)
	}

	w = f.do(t, "POST", "/api/workflows/refresh", nil)
	if w.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", w.Code)
	}
	body := decode(t, w)
	if body["kind"] != "configuration" || body["problem"] != "missing_url_and_api_key" {
		t.Errorf("expected configuration/missing_url_and_api_key, got %v/%v", body["kind"], body["problem"])
	}
}

func TestExecutions(t *testing.T) {
	f := setupAPITest(t)

	w := f.do(t, "POST", "/api/executions/refresh?limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["count"]; got != float64(2) {
		t.Errorf("expected 2 executions, got %v", got)
	}

	w = f.do(t, "GET", "/api/executions?status=error", nil)
	if got := decode(t, w)["count"]; got != float64(1) {
		t.Errorf("expected 1 failed execution, got %v", got)
	}

	w = f.do(t, "GET", "/api/executions", nil)
	if got := decode(t, w)["count"]; got != float64(2) {
		t.Errorf("expected 2 recent executions, got %v", got)
	}

	w = f.do(t, "GET", "/api/workflows/w1/executions", nil)
	if got := decode(t, w)["count"]; got != float64(2) {
		t.Errorf("expected 2 executions for w1, got %v", got)
	}

	w = f.do(t, "GET", "/api/executions/latest", nil)
	if got := decode(t, w)["count"]; got != float64(1) {
		t.Errorf("expected latest execution for one workflow, got %v", got)
	}

	w = f.do(t, "GET", "/api/workflows/w1", nil)
	if got := decode(t, w)["last_execution_status"]; got != "error" {
		t.Errorf("expected last execution status error, got %v", got)
	}
}

func TestExecutionPayload(t *testing.T) {
	f := setupAPITest(t)
	f.do(t, "POST", "/api/executions/refresh", nil)

	w := f.do(t, "GET", "/api/executions/e1/payload", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 before data was fetched, got %d", w.Code)
	}

	w = f.do(t, "GET", "/api/executions/e1?include_data=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, "GET", "/api/executions/e1/payload", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	nodes, _ := decode(t, w)["nodes"].([]any)
	if len(nodes) != 1 {
		t.Errorf("expected 1 stored node, got %d", len(nodes))
	}
}

func TestExecutionStop(t *testing.T) {
	f := setupAPITest(t)

	w := f.do(t, "POST", "/api/executions/e1/stop", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", w.Code)
	}
	if len(f.remote.stopped) != 1 || f.remote.stopped[0] != "e1" {
		t.Errorf("expected stop forwarded for e1, got %v", f.remote.stopped)
	}

	f.remote.stopErr = &remote.HTTPError{StatusCode: http.StatusConflict, Message: "not running"}
	w = f.do(t, "POST", "/api/executions/e1/stop", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", w.Code)
	}
}

func TestSettings(t *testing.T) {
	f := setupAPITest(t)

	w := f.do(t, "GET", "/api/settings", nil)
	body := decode(t, w)
	if body["base_url"] != "https://n8n.example.com" {
		t.Errorf("expected normalized base url, got %v", body["base_url"])
	}
	if key, _ := body["api_key"].(string); strings.Contains(key, "0123456") {
		t.Errorf("expected masked api key, got %q", key)
	}

	w = f.do(t, "PUT", "/api/settings", map[string]any{"api_key": "short"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for short key, got %d", w.Code)
	}

	w = f.do(t, "PUT", "/api/settings", map[string]any{"base_url": "ftp://nope", "poll_interval_minutes": 30})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad scheme, got %d", w.Code)
	}
	if got := f.settings.Snapshot().PollIntervalMinutes; got != 15 {
		t.Errorf("expected nothing written on validation failure, got interval %d", got)
	}

	w = f.do(t, "PUT", "/api/settings", map[string]any{"poll_interval_minutes": 90, "notifications_enabled": false})
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body = decode(t, w)
	if body["poll_interval_minutes"] != float64(60) {
		t.Errorf("expected interval clamped to 60, got %v", body["poll_interval_minutes"])
	}
	if body["notifications_enabled"] != false {
		t.Errorf("expected notifications disabled, got %v", body["notifications_enabled"])
	}
}

func TestSystemEndpoints(t *testing.T) {
	f := setupAPITest(t)
	f.do(t, "POST", "/api/executions/refresh", nil)

	w := f.do(t, "GET", "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if got := decode(t, w)["status"]; got != "ok" {
		t.Errorf("expected status ok, got %v", got)
	}

	w = f.do(t, "GET", "/api/summary?since=24h", nil)
	body := decode(t, w)
	if body["executions_since"] != float64(2) {
		t.Errorf("expected 2 executions in summary, got %v", body["executions_since"])
	}

	w = f.do(t, "GET", "/api/cache/stats", nil)
	if _, ok := decode(t, w)["capacity"]; !ok {
		t.Error("expected capacity in cache stats")
	}

	w = f.do(t, "POST", "/api/maintenance/cleanup", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	w = f.do(t, "GET", "/api/version", nil)
	if _, ok := decode(t, w)["version"]; !ok {
		t.Error("expected version field")
	}

	w = f.do(t, "GET", "/api/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestLiveWorkflows(t *testing.T) {
	f := setupAPITest(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live/workflows?active=true"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	type frame struct {
		Type  string            `json:"type"`
		Query string            `json:"query"`
		Data  []models.Workflow `json:"data"`
	}
	read := func() frame {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var fr frame
		if err := conn.ReadJSON(&fr); err != nil {
			t.Fatalf("failed to read frame: %v", err)
		}
		return fr
	}

	first := read()
	if first.Type != "snapshot" || first.Query != "workflows" || len(first.Data) != 0 {
		t.Fatalf("expected empty initial snapshot, got %+v", first)
	}

	if _, err := f.repo.RefreshWorkflows(t.Context(), nil); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	next := read()
	if len(next.Data) != 2 {
		t.Errorf("expected 2 workflows after refresh, got %d", len(next.Data))
	}
}

func TestLive_ClosedWhenServerStops(t *testing.T) {
	f := setupAPITest(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live/workflows/bookmarked"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("failed to read initial snapshot: %v", err)
	}

	f.stop()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going away close, got %v", err)
	}
}

func TestLive_RejectsForeignOrigin(t *testing.T) {
	f := setupAPITest(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live/workflows/bookmarked"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected dial to fail for foreign origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 response, got %v", resp)
	}
}
