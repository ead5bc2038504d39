package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/colloquy/config"
	colloquyerrors "github.com/teilomillet/colloquy/errors"
	"go.uber.org/zap/zaptest"
)

// fakeCompletions stands in for the upstream chat completion endpoint.
func fakeCompletions(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}]}`, answer)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Completion.Endpoint = fakeCompletions(t, "4").URL
	cfg.Completion.APIKey = "sk-test"
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	app, err := NewApp(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(app.Close)
	return app
}

func TestRouter(t *testing.T) {
	app := newTestApp(t, nil)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		cookie         string
		expectedStatus int
	}{
		{"health", http.MethodGet, "/health", "", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"submit", http.MethodPost, "/v1/dialogues", `{"instruction":"Be concise","question":"2+2?"}`, "a@x.com", http.StatusOK},
		{"history", http.MethodGet, "/v1/dialogues", "", "a@x.com", http.StatusOK},
		{"history without cookie", http.MethodGet, "/v1/dialogues", "", "", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/nope", "", "", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/v1/dialogues", "", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "email", Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			app.Handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func TestEndToEndDialogue(t *testing.T) {
	app := newTestApp(t, nil)

	submit := httptest.NewRequest(http.MethodPost, "/v1/dialogues",
		strings.NewReader(`{"instruction":"Be concise","question":"2+2?"}`))
	submit.Header.Set("Content-Type", "application/json")
	submit.AddCookie(&http.Cookie{Name: "email", Value: "a@x.com"})
	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, submit)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "4", view["response"])

	history := httptest.NewRequest(http.MethodGet, "/v1/dialogues", nil)
	history.AddCookie(&http.Cookie{Name: "email", Value: "a@x.com"})
	rec = httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, history)
	require.Equal(t, http.StatusOK, rec.Code)

	var views []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "2+2?", views[0]["question"])
	assert.Equal(t, "4", views[0]["response"])
	assert.Equal(t, "a@x.com", views[0]["email"])

	metrics := httptest.NewRecorder()
	app.Handler.ServeHTTP(metrics, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, metrics.Body.String(), `colloquy_completion_requests_total{outcome="success"} 1`)
	assert.Contains(t, metrics.Body.String(), `colloquy_store_operations_total{op="insert",status="ok"} 1`)
}

func TestRateLimitedRoutes(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.RateLimit.Enabled = true
		cfg.RateLimit.RequestsPerMinute = 1
		cfg.RateLimit.Burst = 1
	})

	do := func(path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.AddCookie(&http.Cookie{Name: "email", Value: "a@x.com"})
		rec := httptest.NewRecorder()
		app.Handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("/v1/dialogues"))
	assert.Equal(t, http.StatusTooManyRequests, do("/v1/dialogues"))
	assert.Equal(t, http.StatusOK, do("/health"), "health is not rate limited")
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return stderrors.New("down") }

func TestHealthReportsStore(t *testing.T) {
	rec := httptest.NewRecorder()
	healthHandler(failingPinger{})(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	healthHandler(nil)(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServerLifecycle(t *testing.T) {
	app := newTestApp(t, func(cfg *config.Config) {
		cfg.Server.ShutdownTimeout = time.Second
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.server.Serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/health", ln.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}

	_, err = http.Get(url)
	assert.Error(t, err, "server should be closed")
}

func TestNewAppRejectsUnknownDriver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Store.Driver = "cassandra"
	_, err := NewApp(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestUnmatchedRoutesWriteJSONErrors(t *testing.T) {
	app := newTestApp(t, nil)

	tests := []struct {
		method       string
		path         string
		expectedCode int
		expectedType colloquyerrors.ErrorType
	}{
		{http.MethodGet, "/nope", http.StatusNotFound, colloquyerrors.NotFoundError},
		{http.MethodPut, "/v1/dialogues", http.StatusMethodNotAllowed, colloquyerrors.BadRequestError},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			app.Handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			require.Equal(t, tt.expectedCode, rec.Code)
			var body colloquyerrors.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.expectedType, body.Type)
			assert.Equal(t, rec.Header().Get("X-Request-ID"), body.RequestID)
		})
	}
}
