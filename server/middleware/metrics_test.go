package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/colloquy/server/metrics"
	"github.com/teilomillet/colloquy/server/middleware"
)

func TestPrometheusMetrics(t *testing.T) {
	m := metrics.NewMetrics()

	tests := []struct {
		name           string
		handler        http.HandlerFunc
		expectedCode   int
		expectedStatus string
		errorType      string
	}{
		{
			name: "success request",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			},
			expectedCode:   http.StatusOK,
			expectedStatus: "200",
		},
		{
			name: "client error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
			},
			expectedCode:   http.StatusBadRequest,
			expectedStatus: "400",
			errorType:      "client_error",
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			expectedCode:   http.StatusInternalServerError,
			expectedStatus: "500",
			errorType:      "server_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := middleware.PrometheusMetrics(m)(tt.handler)
			server := httptest.NewServer(handler)
			defer server.Close()

			before := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/", tt.expectedStatus))
			resp, err := http.Get(server.URL + "/")
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.expectedCode, resp.StatusCode)
			assert.Equal(t, before+1, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/", tt.expectedStatus)))
			if tt.errorType != "" {
				assert.Equal(t, float64(1), testutil.ToFloat64(m.ErrorsTotal.WithLabelValues(tt.errorType)))
			}
		})
	}
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveRequests.WithLabelValues("/")))
}

func TestPrometheusMetricsUsesRoutePattern(t *testing.T) {
	m := metrics.NewMetrics()
	r := chi.NewRouter()
	r.Use(middleware.PrometheusMetrics(m))
	r.Get("/v1/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/items/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	assert.Equal(t, float64(3), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/v1/items/{id}", "200")))
}
