package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/github-cache/internal/testutil"
	"github.com/Sternrassler/github-cache/pkg/cache"
	"github.com/Sternrassler/github-cache/pkg/config"
	"github.com/Sternrassler/github-cache/pkg/view"
)

const reposListing = `[
	{"full_name": "acme/x"},
	{"full_name": "acme/b", "stargazers_count": 5},
	{"full_name": "acme/c", "stargazers_count": 10}
]`

func testConfig(originURL string) config.Config {
	cfg := config.Default()
	cfg.Origin.BaseURL = originURL
	cfg.Origin.RetryAttempts = 1
	cfg.Server.Hostname = "cache-test"
	return cfg
}

func newTestApp(t *testing.T, cfg config.Config) (*app, *miniredis.Miniredis) {
	t.Helper()
	require.NoError(t, cfg.Validate())

	client, mr := testutil.NewRedis(t)
	a, err := newApp(cfg, client)
	require.NoError(t, err)
	return a, mr
}

func withViews(cfg config.Config) config.Config {
	cfg.Cache.AllowList = []string{"/orgs/acme/repos"}
	cfg.Views.RootPath = "/orgs/acme/repos"
	cfg.ViewSpecs = []view.Spec{{Field: "stargazers_count", Path: "stars", Converter: view.ConverterNumber}}
	return cfg
}

func do(t *testing.T, h http.Handler, method, target string) *http.Response {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w.Result()
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	a, mr := newTestApp(t, config.Default())
	router := newRouter(a)

	t.Run("ready", func(t *testing.T) {
		resp := do(t, router, "GET", "/ready")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "OK", readBody(t, resp))
	})

	t.Run("not_ready_redis_down", func(t *testing.T) {
		mr.Close()

		resp := do(t, router, "GET", "/ready")
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/orgs/acme", testutil.NewJSONResponse(`{"login":"acme"}`))

	a, _ := newTestApp(t, testConfig(origin.URL()))
	router := newRouter(a)

	// a proxied request guarantees the origin and proxy series exist
	do(t, router, "GET", "/orgs/acme")

	resp := do(t, router, "GET", "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := readBody(t, resp)
	assert.Contains(t, body, "# HELP")
	assert.Contains(t, body, "ghcache_proxy_requests_total")
	assert.Contains(t, body, "ghcache_origin_requests_total")
}

func TestProxyHandler_CachedPath(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/orgs/acme", testutil.NewJSONResponse(`{"login":"acme"}`))

	cfg := testConfig(origin.URL())
	cfg.Cache.AllowList = []string{"/orgs/acme"}
	a, _ := newTestApp(t, cfg)
	router := newRouter(a)

	for i := 0; i < 2; i++ {
		resp := do(t, router, "GET", "/orgs/acme")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{"login":"acme"}`, readBody(t, resp))
		assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))
		assert.Equal(t, "cache-test", resp.Header.Get("X-Forwarded-Host"))
	}
	assert.Equal(t, 1, origin.GetPathCount("/orgs/acme"), "second request should be served from the cache")

	resp := do(t, router, "GET", "/orgs/acme?force=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, origin.GetPathCount("/orgs/acme"), "force should bypass the cache")
}

func TestProxyHandler_PassThrough(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/users/octocat", testutil.NewJSONResponse(`{"login":"octocat"}`))

	a, _ := newTestApp(t, testConfig(origin.URL()))
	router := newRouter(a)

	for i := 0; i < 2; i++ {
		resp := do(t, router, "GET", "/users/octocat")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, 2, origin.GetPathCount("/users/octocat"))
}

func TestProxyHandler_MergesPages(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetPages("/orgs/acme/repos", []string{`[{"id":1}]`, `[{"id":2}]`, `[{"id":3}]`}, nil)

	a, _ := newTestApp(t, testConfig(origin.URL()))

	resp := do(t, newRouter(a), "GET", "/orgs/acme/repos")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[{"id":1},{"id":2},{"id":3}]`, readBody(t, resp))
	assert.Empty(t, resp.Header.Get("Link"))
}

func TestProxyHandler_OriginStatusReplayed(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()

	a, _ := newTestApp(t, testConfig(origin.URL()))

	resp := do(t, newRouter(a), "GET", "/repos/acme/missing")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"message": "Not Found"}`, readBody(t, resp))
}

func TestProxyHandler_OriginUnavailable(t *testing.T) {
	origin := testutil.NewMockOrigin()
	originURL := origin.URL()
	origin.Close()

	a, _ := newTestApp(t, testConfig(originURL))

	resp := do(t, newRouter(a), "GET", "/orgs/acme")
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestWriteResponse(t *testing.T) {
	resp := &cache.CachedResponse{
		Status: cache.Status{Code: http.StatusOK, Reason: "OK"},
		Headers: []cache.Header{
			{Name: "content-type", Value: "application/json"},
			{Name: "Vary", Value: "Accept"},
			{Name: "Vary", Value: "Authorization"},
			{Name: "Content-Length", Value: "999"},
		},
		Content: []byte(`[]`),
	}

	rec := httptest.NewRecorder()
	writeResponse(rec, resp, "cache-test", zerolog.Nop())

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{"Accept", "Authorization"}, rec.Header().Values("Vary"))
	assert.Empty(t, rec.Header().Get("Content-Length"), "stored length must not be replayed")
	assert.Equal(t, "cache-test", rec.Header().Get(headerForwardedHost))
	assert.Equal(t, `[]`, rec.Body.String())
}

func TestCachePath(t *testing.T) {
	tests := []struct {
		target        string
		expectedPath  string
		expectedForce bool
	}{
		{"/", "/", false},
		{"/orgs/acme", "/orgs/acme", false},
		{"/orgs/acme?force=true", "/orgs/acme", true},
		{"/orgs/acme?force=false", "/orgs/acme", false},
		{"/orgs/acme?force=yes", "/orgs/acme", false},
		{"/orgs/acme/repos?per_page=100&force=1&type=public", "/orgs/acme/repos?per_page=100&type=public", true},
		{"/search?q=a%20b&&sort=stars", "/search?q=a%20b&sort=stars", false},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			u, err := url.Parse(tt.target)
			require.NoError(t, err)

			path, force := cachePath(u)
			assert.Equal(t, tt.expectedPath, path)
			assert.Equal(t, tt.expectedForce, force)
		})
	}
}

func TestRebuildEndpoint(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/orgs/acme", testutil.NewJSONResponse(`{"login":"acme"}`))

	cfg := testConfig(origin.URL())
	cfg.Cache.AllowList = []string{"/orgs/acme"}
	a, _ := newTestApp(t, cfg)
	router := newRouter(a)

	resp := do(t, router, "DELETE", "/")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 1, origin.GetPathCount("/orgs/acme"))

	do(t, router, "GET", "/orgs/acme")
	assert.Equal(t, 1, origin.GetPathCount("/orgs/acme"), "rebuilt entry should be served from the cache")
}

func TestViewEndpoints(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/orgs/acme/repos", testutil.NewJSONResponse(reposListing))

	a, _ := newTestApp(t, withViews(testConfig(origin.URL())))
	router := newRouter(a)

	resp := do(t, router, "DELETE", "/view")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	tests := []struct {
		target         string
		expectedStatus int
		expectedBody   string
	}{
		{"/view/top/2/stars", http.StatusOK, `[["acme/c",10],["acme/b",5]]`},
		{"/view/top/5/stars", http.StatusOK, `[["acme/c",10],["acme/b",5],["acme/x",null]]`},
		{"/view/top/0/stars", http.StatusOK, `[]`},
		{"/view/top/2/forks", http.StatusOK, `[["acme/x",null],["acme/b",null]]`},
		{"/view/top/stars", http.StatusNotFound, ""},
		{"/view/bottom/2/stars", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			resp := do(t, router, "GET", tt.target)
			require.Equal(t, tt.expectedStatus, resp.StatusCode)
			if tt.expectedBody != "" {
				assert.JSONEq(t, tt.expectedBody, readBody(t, resp))
			}
		})
	}
}

func TestViewEndpoints_Disabled(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	router := newRouter(a)

	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/view/top/1/stars").StatusCode)
	assert.Equal(t, http.StatusNotFound, do(t, router, "DELETE", "/view").StatusCode)
}

func TestTasks(t *testing.T) {
	a, _ := newTestApp(t, config.Default())
	tasks := a.tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, "cache-rebuild", tasks[0].Name)
	assert.Equal(t, 9*time.Minute, tasks[0].Interval)

	cfg := withViews(config.Default())
	a, _ = newTestApp(t, cfg)
	tasks = a.tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "view-refresh", tasks[1].Name)
	assert.Equal(t, 15*time.Minute, tasks[1].Interval)
}

func TestServe_GracefulShutdown(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Addr = "127.0.0.1:0"
	a, _ := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, a) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancellation")
	}
}

func TestTopCommand(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetResponse("/orgs/acme/repos", testutil.NewJSONResponse(reposListing))

	a, mr := newTestApp(t, withViews(testConfig(origin.URL())))
	require.NoError(t, a.views.Refresh(context.Background()))

	t.Setenv("GHCACHE_REDIS_URL", "redis://"+mr.Addr())
	t.Setenv("GHCACHE_ORIGIN_BASE_URL", origin.URL())
	t.Setenv("GHCACHE_CACHE_ALLOW_LIST", "/orgs/acme/repos")
	t.Setenv("GHCACHE_VIEWS_ROOT_PATH", "/orgs/acme/repos")
	t.Setenv("GHCACHE_VIEW_SPECS", `[{"field":"stargazers_count","path":"stars"}]`)

	out := &bytes.Buffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetArgs([]string{"top", "2", "stars", "--log-level", "error"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "acme/c")
	assert.Contains(t, out.String(), "10")
	assert.NotContains(t, out.String(), "acme/x")
}

func TestTopCommand_InvalidArgs(t *testing.T) {
	tests := [][]string{
		{"top", "2"},
		{"top", "two", "stars"},
		{"serve", "--log-level", "loud"},
	}

	for _, args := range tests {
		cmd := newRootCmd()
		cmd.SetOut(io.Discard)
		cmd.SetErr(io.Discard)
		cmd.SetArgs(args)
		assert.Error(t, cmd.Execute(), "args %v", args)
	}
}
