package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/dustin/sitepulse/internal/analytics"
	"github.com/dustin/sitepulse/internal/config"
	"github.com/dustin/sitepulse/internal/metrics"
	"github.com/dustin/sitepulse/internal/sse"
	"github.com/dustin/sitepulse/internal/storage"
	"github.com/dustin/sitepulse/internal/version"
)

const testToken = "s3cret"

type testEnv struct {
	srv     *Server
	store   *storage.FileStore
	metrics *metrics.Metrics
	hub     *sse.Hub
	cfg     config.Config
}

type envOption func(*config.Config, *Deps)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		DataDir:             dir,
		StoreBackend:        "file",
		MaxEvents:           analytics.DefaultCapacity,
		AdminToken:          testToken,
		MaxRequestBodyBytes: 64 << 10,
		ContactRateLimit:    5,
		ContactRateWindow:   time.Hour,
		MetricsEnabled:      true,
	}

	store := storage.NewFileStore(cfg.StorePath(), cfg.MaxEvents)
	hub := sse.NewHub()
	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.Options{SSEClients: hub.ClientCount})
	if err := m.Register(reg); err != nil {
		t.Fatal(err)
	}

	deps := Deps{
		Store:    store,
		Hub:      hub,
		Metrics:  m,
		Gatherer: reg,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	deps.Ingestor = analytics.NewIngestor(store, m, hub)
	deps.Aggregator = analytics.NewAggregator(store, cfg.AdminToken)

	srv := New(cfg, deps)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, metrics: m, hub: hub, cfg: cfg}
}

func (e *testEnv) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.RemoteAddr = "198.51.100.20:4000"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not a JSON object: %v (%q)", err, rec.Body.String())
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" || body["store"] != "ok" || body["version"] != version.Version {
		t.Errorf("body = %v", body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("disk gone") }

func TestHealth_StoreUnavailable(t *testing.T) {
	env := newTestEnv(t, func(_ *config.Config, d *Deps) { d.Store = failingPinger{} })

	rec := env.do("GET", "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if body := decodeBody(t, rec); body["store"] != "unavailable" {
		t.Errorf("body = %v", body)
	}
}

func TestRobotsAndSecurityHeaders(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/robots.txt", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Disallow: /api/") {
		t.Errorf("robots.txt = %d %q", rec.Code, rec.Body.String())
	}
	for _, h := range []string{"Content-Security-Policy", "X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s header", h)
		}
	}
}

func TestTrack(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/api/track", "/track"} {
		rec := env.do("POST", path, `{"path":"/projects","referrer":"https://google.com/search"}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, rec.Code)
		}
		if body := decodeBody(t, rec); body["ok"] != true {
			t.Errorf("%s body = %v", path, body)
		}
	}

	events, err := env.store.ReadAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 || events[0].Path != "/projects" || events[0].Referrer != "https://google.com/search" {
		t.Errorf("stored events = %+v", events)
	}
	if got := testutil.ToFloat64(env.metrics.IngestEventsTotal.WithLabelValues("pageview", "unknown", "unknown")); got != 2 {
		t.Errorf("ingest counter = %v, want 2", got)
	}
}

func TestTrack_PathRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("POST", "/api/track", `{"referrer":"google.com"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Path is required" {
		t.Errorf("body = %v", body)
	}
	if n, _ := env.store.Len(context.Background()); n != 0 {
		t.Errorf("log length = %d, want 0", n)
	}
}

func TestTrack_MalformedBodyStillOK(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("POST", "/api/track", `{"path":`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["ok"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestTrack_WrongTypedOptionalFields(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("POST", "/api/track", `{"referrer":5}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing path with bad referrer = %d, want 400", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Path is required" {
		t.Errorf("body = %v", body)
	}

	rec = env.do("POST", "/api/track", `{"path":"/a","eventData":["x"],"timestamp":"yesterday-ish"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	events, err := env.store.ReadAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Path != "/a" || events[0].EventData != nil {
		t.Fatalf("stored events = %+v", events)
	}
	if events[0].Timestamp != "yesterday-ish" {
		t.Errorf("timestamp = %q, want value as sent", events[0].Timestamp)
	}
}

func TestTrack_StorageFailureStillOK(t *testing.T) {
	env := newTestEnv(t)
	// A directory where the log file should be makes every append fail.
	if err := os.MkdirAll(env.cfg.StorePath(), 0o755); err != nil {
		t.Fatal(err)
	}

	rec := env.do("POST", "/api/track", `{"path":"/"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := testutil.ToFloat64(env.metrics.IngestFailuresTotal); got != 1 {
		t.Errorf("failures = %v, want 1", got)
	}
}

func TestTrack_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do("GET", "/api/track", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/track = %d, want 405", rec.Code)
	}
}

func TestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config, _ *Deps) { c.MaxRequestBodyBytes = 100 })

	req := httptest.NewRequest("POST", "/api/track", strings.NewReader(strings.Repeat("x", 200)))
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestGlobalRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config, _ *Deps) { c.RateLimitPerMinute = 2 })

	for i := range 2 {
		if rec := env.do("GET", "/health", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i+1, rec.Code)
		}
	}
	if rec := env.do("GET", "/health", "", nil); rec.Code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", rec.Code)
	}
}

func TestAnalytics_Unauthorized(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		token  string
	}{
		{"no token", testToken, ""},
		{"wrong token", testToken, "guess"},
		{"no secret configured", "", ""},
		{"no secret configured with token", "", "anything"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, func(c *config.Config, _ *Deps) { c.AdminToken = tc.secret })
			rec := env.do("GET", "/api/analytics", "", map[string]string{"x-admin-token": tc.token})
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if body := decodeBody(t, rec); body["error"] != "Unauthorized" {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestAnalytics_EmptyLog(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/analytics", "", map[string]string{"x-admin-token": testToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	want := `{"totalVisits":0,"visitsLast7Days":0,"visitsLast30Days":0,"topPages":[],"topReferrers":[],"dailyVisits":[]}`
	if got := strings.TrimSpace(rec.Body.String()); got != want {
		t.Errorf("body = %s\nwant %s", got, want)
	}
}

func TestAnalytics_Snapshot(t *testing.T) {
	env := newTestEnv(t)
	now := analytics.FormatTimestamp(time.Now())

	env.do("POST", "/api/track", `{"path":"/","referrer":"Google.com","timestamp":"`+now+`"}`, nil)
	env.do("POST", "/api/track", `{"path":"/","referrer":"https://google.com/x"}`, nil)
	env.do("POST", "/api/track", `{"path":"/about","timestamp":"2020-01-01T00:00:00.000Z"}`, nil)

	rec := env.do("GET", "/api/analytics", "", map[string]string{"x-admin-token": testToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var snap analytics.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.TotalVisits != 3 || snap.VisitsLast7Days != 2 || snap.VisitsLast30Days != 2 {
		t.Errorf("counts = %d/%d/%d, want 3/2/2", snap.TotalVisits, snap.VisitsLast7Days, snap.VisitsLast30Days)
	}
	if len(snap.TopPages) != 2 || snap.TopPages[0] != (analytics.PathCount{Path: "/", Count: 2}) {
		t.Errorf("topPages = %+v", snap.TopPages)
	}
	if len(snap.TopReferrers) != 1 || snap.TopReferrers[0] != (analytics.ReferrerCount{Referrer: "google.com", Count: 2}) {
		t.Errorf("topReferrers = %+v", snap.TopReferrers)
	}
	if len(snap.DailyVisits) != 7 || snap.DailyVisits[6].Count != 2 {
		t.Errorf("dailyVisits = %+v", snap.DailyVisits)
	}
	if got := testutil.ToFloat64(env.metrics.StatsRequestsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("stats ok counter = %v", got)
	}
}

func TestAnalytics_CancelledRequest(t *testing.T) {
	env := newTestEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest("GET", "/api/analytics", nil).WithContext(ctx)
	req.Header.Set("x-admin-token", testToken)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if body := decodeBody(t, rec); body["error"] != "Failed to fetch analytics" {
		t.Errorf("body = %v", body)
	}
}

func TestAnalytics_CorruptLogServesEmpty(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(env.cfg.StorePath(), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := env.do("GET", "/api/analytics", "", map[string]string{"x-admin-token": testToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeBody(t, rec); body["totalVisits"] != float64(0) {
		t.Errorf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do("POST", "/api/track", `{"path":"/"}`, nil)

	rec := env.do("GET", "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `sitepulse_http_requests_total{method="POST",route="/api/track",status="200"} 1`) {
		t.Errorf("metrics output missing track request:\n%s", rec.Body.String())
	}
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config, _ *Deps) { c.MetricsEnabled = false })
	if rec := env.do("GET", "/metrics", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestContent(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do("GET", "/api/ai-content", "", nil)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != "{}" {
		t.Errorf("missing document = %d %q, want {}", rec.Code, rec.Body.String())
	}

	doc := `{"heroTagline":"Ships reliable systems","lastGenerated":"2026-10-14T00:00:00.000Z"}`
	if err := os.WriteFile(filepath.Join(env.cfg.DataDir, "generated.json"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	rec = env.do("GET", "/api/ai-content", "", nil)
	if body := decodeBody(t, rec); body["heroTagline"] != "Ships reliable systems" {
		t.Errorf("body = %v", body)
	}
}

func TestStream_Unauthorized(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do("GET", "/api/analytics/stream?token=wrong", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestStream_SnapshotThenTrack(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/api/analytics/stream?token="+testToken, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() string {
		if !lines.Scan() {
			t.Fatalf("stream ended: %v", lines.Err())
		}
		return lines.Text()
	}

	if got := next(); got != "event: snapshot" {
		t.Fatalf("first line = %q", got)
	}
	if got := next(); !strings.HasPrefix(got, `data: {"totalVisits":0`) {
		t.Fatalf("snapshot data = %q", got)
	}
	next()

	// The subscription exists once the snapshot has been sent.
	post, err := http.Post(ts.URL+"/api/track", "application/json", strings.NewReader(`{"path":"/live"}`))
	if err != nil {
		t.Fatal(err)
	}
	post.Body.Close()

	if got := next(); got != "event: track" {
		t.Fatalf("event line = %q", got)
	}
	if got := next(); !strings.Contains(got, `"path":"/live"`) {
		t.Errorf("track data = %q", got)
	}
}
