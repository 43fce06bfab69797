package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"clawlegion/internal/agents"
	"clawlegion/internal/db"
	"clawlegion/internal/domain"
	"clawlegion/internal/health"
	"clawlegion/internal/localstate"
	clawsdk "clawlegion/sdk/go"
)

type fakeTasks struct {
	tasks map[string]domain.Task
	acts  map[string][]domain.TaskActivity
}

func (f fakeTasks) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, ok := f.tasks[id]
	if !ok {
		return domain.Task{}, &clawsdk.APIError{Method: http.MethodGet, Path: "/api/tasks/" + id, StatusCode: http.StatusNotFound}
	}
	return t, nil
}

func (f fakeTasks) Activities(ctx context.Context, id string) ([]domain.TaskActivity, error) {
	if _, ok := f.tasks[id]; !ok {
		return nil, &clawsdk.APIError{Method: http.MethodGet, Path: "/api/tasks/" + id + "/activities", StatusCode: http.StatusNotFound}
	}
	return f.acts[id], nil
}

type testServer struct {
	URL     string
	client  *http.Client
	close   func()
	metrics *Metrics
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, targets []health.Target, auth AuthConfig) (*testServer, func()) {
	t.Helper()
	store, err := localstate.Open(context.Background(), db.Config{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	created := time.Now().Add(-3 * time.Hour)
	tasks := fakeTasks{
		tasks: map[string]domain.Task{
			"t1": {ID: "t1", Title: "Ship chat", Status: "in_progress", CreatedBy: "alice", CreatedAt: created},
		},
		acts: map[string][]domain.TaskActivity{
			"t1": {
				{ID: "a1", EventType: domain.EventCreated, Actor: "alice", ActorType: domain.ActorHuman, Timestamp: created},
				{ID: "a2", EventType: domain.EventStatusChange, Actor: "archon", ActorType: domain.ActorAgent, Timestamp: created.Add(time.Hour),
					Details: domain.ActivityDetails{"fromValue": "backlog", "toValue": "todo"}},
				{ID: "a3", EventType: domain.EventStatusChange, Actor: "forge", ActorType: domain.ActorAgent, Timestamp: created.Add(2 * time.Hour),
					Details: domain.ActivityDetails{"fromValue": "todo", "toValue": "in_progress"}},
				{ID: "a4", EventType: domain.EventAgentFailed, Actor: "forge", ActorType: domain.ActorAgent, Timestamp: created.Add(150 * time.Minute),
					Details: domain.ActivityDetails{"error": "exit status 1"}},
			},
		},
	}
	metrics := NewMetrics()
	monitor := NewMonitor(health.Checker{Targets: targets, Timeout: 200 * time.Millisecond}, time.Minute, metrics, nil)
	handler, err := New(Config{
		Agents:   agents.Default(),
		Tasks:    tasks,
		Monitor:  monitor,
		State:    store,
		Metrics:  metrics,
		BasePath: "/api",
		Auth:     auth,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:     "http://" + ln.Addr().String(),
		client:  &http.Client{},
		metrics: metrics,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			store.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func healthyTarget(t *testing.T) health.Target {
	t.Helper()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status":"ok"}`)
	}))
	t.Cleanup(up.Close)
	return health.Target{Name: "web-server", URL: up.URL}
}

func TestHealthReturns503WhenDown(t *testing.T) {
	targets := []health.Target{healthyTarget(t), {Name: "api-server", URL: "http://127.0.0.1:1"}}
	srv, cleanup := newTestServer(t, targets, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", res.StatusCode, string(data))
	}
	var report health.Report
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.Status != health.StatusDown || report.Summary.Down != 1 || report.Summary.Healthy != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), `clawlegion_health_target_status{kind="http",target="api-server"} 2`) {
		t.Fatalf("expected api-server gauge in metrics:\n%s", string(data))
	}
	if !strings.Contains(string(data), "clawlegion_http_requests_total") {
		t.Fatalf("expected request counter in metrics")
	}
}

func TestHealthOKAndCached(t *testing.T) {
	srv, cleanup := newTestServer(t, []health.Target{healthyTarget(t)}, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health?cached=true", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, string(data))
	}
	var first health.Report
	if err := json.Unmarshal(data, &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	_, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health?cached=true", nil, nil)
	var second health.Report
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !first.CheckedAt.Equal(second.CheckedAt) {
		t.Fatalf("expected cached report, got %s then %s", first.CheckedAt, second.CheckedAt)
	}
}

func TestAgentsEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/agents", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list agents status %d: %s", res.StatusCode, string(data))
	}
	var list AgentListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(list.Council) != 3 || len(list.Army) != 4 {
		t.Fatalf("unexpected tiers: %d council, %d army", len(list.Council), len(list.Army))
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/agents/Forge", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get by name status %d: %s", res.StatusCode, string(data))
	}
	var forge domain.Agent
	if err := json.Unmarshal(data, &forge); err != nil || forge.ID != "forge" {
		t.Fatalf("expected forge, got %+v (%v)", forge, err)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/agents/nobody", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Error.Code != "not_found" {
		t.Fatalf("expected not_found envelope, got %s", string(data))
	}
}

func TestTaskPhasesAndTimeline(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks/t1/phases", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("phases status %d: %s", res.StatusCode, string(data))
	}
	var phases PhasesResponse
	if err := json.Unmarshal(data, &phases); err != nil {
		t.Fatalf("unmarshal phases: %v", err)
	}
	if phases.Phase != "building" || len(phases.Phases) != 7 {
		t.Fatalf("unexpected phases: %+v", phases)
	}
	if phases.Phases[4].State != "current" || phases.Phases[4].Agent != "forge" {
		t.Fatalf("expected building current by forge, got %+v", phases.Phases[4])
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks/t1/timeline", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("timeline status %d: %s", res.StatusCode, string(data))
	}
	var tl TimelineResponse
	if err := json.Unmarshal(data, &tl); err != nil {
		t.Fatalf("unmarshal timeline: %v", err)
	}
	if tl.Critical != 1 || len(tl.Handoffs) != 3 {
		t.Fatalf("unexpected timeline: critical=%d handoffs=%d", tl.Critical, len(tl.Handoffs))
	}

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks/missing/phases", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing task, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/tasks/t1/timeline?tz=Mars/Olympus", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad tz, got %d", res.StatusCode)
	}
}

func TestTemplatesAndSelections(t *testing.T) {
	srv, cleanup := newTestServer(t, nil, AuthConfig{})
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/templates", map[string]any{
		"name":     "Mobile",
		"criteria": []string{"Works on iOS"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("save template status %d: %s", res.StatusCode, string(data))
	}
	var saved struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &saved); err != nil || saved.ID == "" {
		t.Fatalf("expected template id, got %s", string(data))
	}

	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/templates", nil, nil)
	var list TemplateListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal templates: %v", err)
	}
	last := list.Templates[len(list.Templates)-1]
	if last.ID != saved.ID || !last.Saved {
		t.Fatalf("expected saved template last, got %+v", last)
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/api/templates/"+saved.ID, nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/api/templates/"+saved.ID, nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/api/selections/room-1", map[string]any{"agents": []string{"forge", "ghost"}}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown agent, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodPut, srv.URL+"/api/selections/room-1", map[string]any{"agents": []string{"forge", "Sage"}}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("put selection status %d", res.StatusCode)
	}
	_, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/selections/room-1", nil, nil)
	var sel SelectionResponse
	if err := json.Unmarshal(data, &sel); err != nil {
		t.Fatalf("unmarshal selection: %v", err)
	}
	if strings.Join(sel.Agents, ",") != "forge,sage" {
		t.Fatalf("unexpected selection %v", sel.Agents)
	}
}

func TestAuthRequiredExceptHealthAndMetrics(t *testing.T) {
	secret := "s3cret"
	srv, cleanup := newTestServer(t, []health.Target{healthyTarget(t)}, AuthConfig{JWTSecret: secret, APIKey: "key-1"})
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/api/agents", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metrics should be open, got %d", res.StatusCode)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/me", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"actor_id":"alice"`) {
		t.Fatalf("expected alice, got %d: %s", res.StatusCode, string(data))
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/agents", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/api/agents", nil, map[string]string{"X-Api-Key": "key-1"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected api key to authenticate, got %d", res.StatusCode)
	}
}
