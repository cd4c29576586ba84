package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"pillarline/internal/catalog"
	"pillarline/internal/config"
	"pillarline/internal/db"
	"pillarline/internal/domain"
	"pillarline/internal/engine"
	"pillarline/internal/events"
	"pillarline/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestEngine(t *testing.T, cfg *config.Config) engine.Engine {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	e := engine.New(conn, cfg, catalog.Builtin())
	if err := e.Bootstrap(context.Background(), "tester"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return e
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	e := newTestEngine(t, nil)
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{JWTSecret: testSecret}})
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
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
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

func login(t *testing.T, srv *testServer, username string) map[string]string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"username": username,
		"password": username,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %s", username, res.StatusCode, string(data))
	}
	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + out.Token}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func TestHealthIsPublicAndAPIRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/products", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "unauthorized" {
		t.Fatalf("expected 401 unauthorized, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/products", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %d %s", res.StatusCode, string(body))
	}
}

func TestLoginAndMe(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/auth/login", map[string]any{
		"username": "admin",
		"password": "wrong",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, body) != "invalid_credentials" {
		t.Fatalf("expected 401 for bad password, got %d %s", res.StatusCode, string(body))
	}

	headers := login(t, srv, "uk.user")
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/me", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(body))
	}
	var me MeResponse
	_ = json.Unmarshal(body, &me)
	if me.Username != "uk.user" || me.Entity != "UK" || me.Role != domain.RoleUser || me.Source != "jwt" {
		t.Fatalf("unexpected me %+v", me)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	cfg := AuthConfig{JWTSecret: testSecret, Now: func() time.Time { return time.Now().Add(-48 * time.Hour) }}
	token, _, err := signToken(cfg, domain.User{Username: "admin"}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := authenticateJWT(token, AuthConfig{JWTSecret: testSecret}); err == nil {
		t.Fatalf("expected expired token to fail")
	}
	if _, err := authenticateJWT(token, AuthConfig{JWTSecret: "other"}); err == nil {
		t.Fatalf("expected wrong secret to fail")
	}
}

func TestListProductsHonoursVisibilityAndFilters(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/products", nil, login(t, srv, "uk.user"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list: %d %s", res.StatusCode, string(body))
	}
	var items []domain.Product
	_ = json.Unmarshal(body, &items)
	if len(items) == 0 {
		t.Fatalf("expected UK products")
	}
	for _, p := range items {
		if p.Entity != "UK" {
			t.Fatalf("uk.user sees %s from %s", p.ID, p.Entity)
		}
	}

	admin := login(t, srv, "admin")
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/products?pinned=true", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pinned list: %d %s", res.StatusCode, string(body))
	}
	items = nil
	_ = json.Unmarshal(body, &items)
	if len(items) != 1 || items[0].ID != "prod-1" {
		t.Fatalf("unexpected pinned products %+v", items)
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/products?stage=someday", nil, admin)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad stage, got %d %s", res.StatusCode, string(body))
	}
}

func TestSubmitAssessmentAdvancesStage(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "uk.user")

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/products/prod-3/assessments/preview", map[string]any{
		"pillar_id": "p1",
		"answers":   map[string]string{"p1-q3": "yes", "p1-q4": "yes"},
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("preview: %d %s", res.StatusCode, string(body))
	}
	var pv engine.Preview
	_ = json.Unmarshal(body, &pv)
	if !pv.WouldAdvance || pv.NextStage != domain.StageMVP {
		t.Fatalf("unexpected preview %+v", pv)
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/products/prod-3/assessments", map[string]any{
		"pillar_id": "p1",
		"answers":   map[string]string{"p1-q1": "no", "p1-q3": "yes", "p1-q4": "yes", "p1-q5": "unknown"},
	}, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit: %d %s", res.StatusCode, string(body))
	}
	var result engine.CompletionResult
	if err := json.Unmarshal(body, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	// 2 yes of the 7 p1 questions that count
	if result.Score != 29 || !result.Advanced || result.Stage != domain.StageMVP {
		t.Fatalf("unexpected result %+v", result)
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/products/prod-3/assessments", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("history: %d %s", res.StatusCode, string(body))
	}
	var history []domain.Assessment
	_ = json.Unmarshal(body, &history)
	if len(history) != 1 || history[0].OverallScore != 29 {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestSubmitAssessmentErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "uk.user")
	cases := []struct {
		name   string
		path   string
		body   map[string]any
		status int
		code   string
	}{
		{"unknown product", "/v0/products/nope/assessments", map[string]any{"pillar_id": "p1"}, http.StatusNotFound, "not_found"},
		{"unknown pillar", "/v0/products/prod-3/assessments", map[string]any{"pillar_id": "p42"}, http.StatusNotFound, "not_found"},
		{"other entity", "/v0/products/prod-1/assessments", map[string]any{"pillar_id": "p1"}, http.StatusForbidden, "forbidden"},
		{"bad answer", "/v0/products/prod-3/assessments", map[string]any{"pillar_id": "p1", "answers": map[string]string{"p1-q1": "perhaps"}}, http.StatusBadRequest, "bad_request"},
		{"foreign question", "/v0/products/prod-3/assessments", map[string]any{"pillar_id": "p1", "answers": map[string]string{"p2-q1": "yes"}}, http.StatusBadRequest, "bad_request"},
	}
	for _, tc := range cases {
		res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+tc.path, tc.body, headers)
		if res.StatusCode != tc.status || errorCode(t, body) != tc.code {
			t.Fatalf("%s: expected %d %s, got %d %s", tc.name, tc.status, tc.code, res.StatusCode, string(body))
		}
	}
}

func TestCreateProductAndPin(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "uk.user")

	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/products", map[string]any{
		"id":              "renewals",
		"name":            "Renewal nudges",
		"business_domain": "P&C Retail Pricing",
		"business_info":   map[string]any{"risk_level": "intermediate", "problem": "Churn at renewal"},
	}, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(body))
	}
	var p domain.Product
	_ = json.Unmarshal(body, &p)
	if p.Entity != "UK" || p.LifecycleStage != domain.StageIdeation || p.BusinessInfo.RiskLevel != domain.RiskIntermediate {
		t.Fatalf("unexpected product %+v", p)
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/products", map[string]any{"id": "renewals", "name": "Again"}, headers)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/products", map[string]any{"name": "Elsewhere", "entity": "FR"}, headers)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/products/renewals/pin", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pin: %d %s", res.StatusCode, string(body))
	}
	_ = json.Unmarshal(body, &p)
	if !p.Pinned {
		t.Fatalf("expected pinned product")
	}
}

func TestCatalogAndViews(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	headers := login(t, srv, "admin")

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/pillars/p2/questions", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("questions: %d %s", res.StatusCode, string(body))
	}
	var qs QuestionsResponse
	_ = json.Unmarshal(body, &qs)
	if qs.Pillar.ID != "p2" || len(qs.Sections) != 2 {
		t.Fatalf("unexpected questions %+v", qs)
	}

	for _, view := range []string{"lifecycle", "heatmap", "strategy", "dashboard"} {
		res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/views/"+view, nil, headers)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("view %s: %d %s", view, res.StatusCode, string(body))
		}
	}

	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/products/prod-1/model-card", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("model card: %d %s", res.StatusCode, string(body))
	}
	var card ModelCardResponse
	_ = json.Unmarshal(body, &card)
	if !strings.HasPrefix(card.Markdown, "# Claims Fraud Detection AI") {
		t.Fatalf("unexpected model card %q", card.Markdown)
	}
}

func TestEventsAdminOnlyWithCursor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events", nil, login(t, srv, "uk.user"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(body))
	}
	admin := login(t, srv, "admin")
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=2", nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, string(body))
	}
	var page paginatedEvents
	_ = json.Unmarshal(body, &page)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected page %+v", page)
	}
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/events?limit=2&cursor="+page.NextCursor, nil, admin)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2: %d %s", res.StatusCode, string(body))
	}
	var next paginatedEvents
	_ = json.Unmarshal(body, &next)
	if len(next.Items) == 0 || next.Items[0].ID >= page.Items[1].ID {
		t.Fatalf("cursor did not advance: %+v", next)
	}
}

func TestOpenAPIServed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(body), "/v0/products/{product_id}/assessments") {
		t.Fatalf("openapi: %d", res.StatusCode)
	}
}

func TestWebhookDispatcherDeliversMatchingEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []webhookEvent
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		if r.Header.Get("X-Pillarline-Secret") != "s3" {
			http.Error(w, "bad secret", http.StatusUnauthorized)
			return
		}
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
	}))
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{events.ProductAdvanced}, Secret: "s3"}}
	e := newTestEngine(t, cfg)
	d := newWebhookDispatcher(e, nil)
	ctx := context.Background()
	d.dispatchAll(ctx) // positions the cursor after the seed events

	admin, _ := e.Auth.Lookup("admin")
	if _, err := e.CompleteAssessment(ctx, engine.CompleteOptions{
		ProductID: "prod-3",
		PillarID:  "p1",
		Answers:   map[string]string{"p1-q3": "yes", "p1-q4": "yes"},
		Actor:     admin,
	}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected one delivery, got %+v", received)
	}
	if received[0].Type != events.ProductAdvanced || received[0].EntityID != "prod-3" || received[0].ActorID != "admin" {
		t.Fatalf("unexpected delivery %+v", received[0])
	}
}
