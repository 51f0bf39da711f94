package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roman-kulish/pioneer-control/internal/dispatch"
	"github.com/roman-kulish/pioneer-control/internal/telemetry"
)

type call struct {
	action string
	params dispatch.Params
}

type fakeHandler struct {
	mu    sync.Mutex
	calls []call
}

func (h *fakeHandler) Handle(ctx context.Context, action string, params dispatch.Params) dispatch.Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls = append(h.calls, call{action: action, params: params})
	return dispatch.Result{Action: strings.ToLower(action), Connected: true, Result: action != ""}
}

func (h *fakeHandler) last(t *testing.T) call {
	t.Helper()

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.calls) == 0 {
		t.Fatal("Expected the handler to be called")
	}
	return h.calls[len(h.calls)-1]
}

func decodeResult(t *testing.T, resp *http.Response) dispatch.Result {
	t.Helper()

	var res dispatch.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return res
}

func TestServer_GetAction(t *testing.T) {
	h := &fakeHandler{}
	srv := httptest.NewServer(NewServer("", h).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/?action=setSpeedMove&value=0.5")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected CORS header *, got %q", got)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Expected JSON content type, got %q", got)
	}

	res := decodeResult(t, resp)
	if res.Action != "setspeedmove" || !res.Result {
		t.Errorf("Unexpected result: %+v", res)
	}

	c := h.last(t)
	if c.action != "setSpeedMove" || c.params["value"] != "0.5" {
		t.Errorf("Unexpected call: %+v", c)
	}
	if _, ok := c.params["action"]; ok {
		t.Error("Action must not be passed as a parameter")
	}
}

func TestServer_PostMergesBodyOverQuery(t *testing.T) {
	testCases := []struct {
		name        string
		contentType string
		body        string
	}{
		{"json", "application/json", `{"action":"setTimerValue","value":300}`},
		{"form", "application/x-www-form-urlencoded", "action=setTimerValue&value=300"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := &fakeHandler{}
			srv := httptest.NewServer(NewServer("", h).Handler())
			defer srv.Close()

			resp, err := http.Post(srv.URL+"/?action=status&value=1&step=7", tc.contentType, strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			resp.Body.Close()

			c := h.last(t)
			if c.action != "setTimerValue" {
				t.Errorf("Expected body action to win, got %q", c.action)
			}
			if c.params["value"] != "300" || c.params["step"] != "7" {
				t.Errorf("Unexpected params: %v", c.params)
			}
		})
	}
}

func TestServer_PostInvalidJSON(t *testing.T) {
	srv := httptest.NewServer(NewServer("", &fakeHandler{}).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestServer_Methods(t *testing.T) {
	srv := httptest.NewServer(NewServer("", &fakeHandler{}).Handler())
	defer srv.Close()

	testCases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodOptions, "/", http.StatusNoContent},
		{http.MethodPut, "/", http.StatusMethodNotAllowed},
		{http.MethodGet, "/favicon.ico", http.StatusNotFound},
	}

	for _, tc := range testCases {
		req, _ := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s failed: %v", tc.method, tc.path, err)
		}
		resp.Body.Close()

		if resp.StatusCode != tc.want {
			t.Errorf("%s %s: expected status %d, got %d", tc.method, tc.path, tc.want, resp.StatusCode)
		}
	}
}

func TestServer_IndexPage(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "page.html")
	if err := os.WriteFile(page, []byte("<html>controls</html>"), 0o644); err != nil {
		t.Fatalf("Failed to write page: %v", err)
	}

	t.Run("configured path", func(t *testing.T) {
		srv := httptest.NewServer(NewServer("", &fakeHandler{}, WithIndexPage(page)).Handler())
		defer srv.Close()

		body, status := get(t, srv.URL+"/")
		if status != http.StatusOK || body != "<html>controls</html>" {
			t.Errorf("Unexpected page %d: %q", status, body)
		}
	})

	t.Run("parent directory", func(t *testing.T) {
		sub := filepath.Join(dir, "bin")
		if err := os.Mkdir(sub, 0o755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		chdir(t, sub)

		srv := httptest.NewServer(NewServer("", &fakeHandler{}, WithIndexPage("page.html")).Handler())
		defer srv.Close()

		body, status := get(t, srv.URL+"/")
		if status != http.StatusOK || body != "<html>controls</html>" {
			t.Errorf("Unexpected page %d: %q", status, body)
		}
	})

	t.Run("missing", func(t *testing.T) {
		srv := httptest.NewServer(NewServer("", &fakeHandler{}, WithIndexPage(filepath.Join(dir, "missing.html"))).Handler())
		defer srv.Close()

		body, status := get(t, srv.URL+"/")
		if status != http.StatusNotFound || !strings.Contains(body, "not found") {
			t.Errorf("Expected built-in not found page, got %d: %q", status, body)
		}
	})
}

func get(t *testing.T, u string) (string, int) {
	t.Helper()

	resp, err := http.Get(u)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}
	return string(body), resp.StatusCode
}

func chdir(t *testing.T, dir string) {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get working directory: %v", err)
	}
	if err = os.Chdir(dir); err != nil {
		t.Fatalf("Failed to change directory: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestServer_ControlSocket(t *testing.T) {
	h := &fakeHandler{}
	srv := httptest.NewServer(NewServer("", h).Handler())
	defer srv.Close()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/control"

	ws, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("Failed to dial control socket: %v", err)
	}
	defer ws.Close()

	for _, msg := range []map[string]any{{"action": "forward"}, {"action": "setSpeedTurn", "value": 0.3}} {
		if err = ws.WriteJSON(msg); err != nil {
			t.Fatalf("Failed to write: %v", err)
		}

		var res dispatch.Result
		if err = ws.ReadJSON(&res); err != nil {
			t.Fatalf("Failed to read result: %v", err)
		}
		if res.Action != strings.ToLower(msg["action"].(string)) {
			t.Errorf("Expected result for %v, got %+v", msg["action"], res)
		}
	}

	if c := h.last(t); c.params["value"] != "0.3" {
		t.Errorf("Expected value 0.3, got %v", c.params)
	}

	_, resp, err := websocket.DefaultDialer.Dial(u, nil)
	if err == nil {
		t.Fatal("Expected the second controller to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected status 409 for the second controller, got %v", resp)
	}

	ws.Close()

	// the slot is released once the first controller is gone
	deadline := time.Now().Add(2 * time.Second)
	for {
		second, _, err := websocket.DefaultDialer.Dial(u, nil)
		if err == nil {
			second.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Controller slot was not released: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

type staticProvider struct {
	tm *telemetry.Telemetry
}

func (p staticProvider) Get() *telemetry.Telemetry {
	return p.tm
}

func TestServer_TelemetrySocket(t *testing.T) {
	distance := 1.25
	provider := staticProvider{tm: &telemetry.Telemetry{Distance: &distance}}

	s := NewServer("127.0.0.1:0", &fakeHandler{}, WithTelemetry(provider, 10*time.Millisecond))
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.broadcaster.start(ctx)
	defer s.broadcaster.stop()

	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/telemetry"

	// any number of subscribers
	var conns []*websocket.Conn
	for i := 0; i < 2; i++ {
		conn, _, err := websocket.DefaultDialer.Dial(u, nil)
		if err != nil {
			t.Fatalf("Failed to dial telemetry socket: %v", err)
		}
		defer conn.Close()
		conns = append(conns, conn)
	}

	for _, conn := range conns {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

		var tm telemetry.Telemetry
		if err := conn.ReadJSON(&tm); err != nil {
			t.Fatalf("Failed to receive telemetry: %v", err)
		}
		if tm.Distance == nil || *tm.Distance != distance {
			t.Errorf("Expected distance %f, got %v", distance, tm.Distance)
		}
	}
}

func TestServer_StartShutdown(t *testing.T) {
	s := NewServer("127.0.0.1:0", &fakeHandler{})

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	if err := s.Start(context.Background()); err != ErrAlreadyStarted {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}

	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Second shutdown failed: %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Error("Expected the serving loop to return after shutdown")
	}
}
