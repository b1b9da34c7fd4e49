package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnehpets/linerpc/jsonrpc"
)

func TestObserveDispatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveDispatch("ping", jsonrpc.OutcomeResult, time.Millisecond)
	m.ObserveDispatch("ping", jsonrpc.OutcomeResult, time.Millisecond)
	m.ObserveDispatch("ping", jsonrpc.OutcomeError, time.Millisecond)
	m.ObserveDispatch("no.such.method", jsonrpc.OutcomeMethodNotFound, 0)
	m.ObserveDispatch("", jsonrpc.OutcomeParseError, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("ping", "result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("ping", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("unknown", "method_not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("", "parse_error")))
	assert.Equal(t, 4, testutil.CollectAndCount(m.requests))
	assert.Equal(t, 3, testutil.CollectAndCount(m.duration))
}

func TestObserveTransportError(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.ObserveTransportError(errors.New("broken pipe"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transportErrors))
}

func TestNewRejectsDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestServerFeedsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	r := jsonrpc.NewRegistry()
	require.NoError(t, r.RegisterFunc("ok", func(_ context.Context, _ *jsonrpc.Request) (any, error) {
		return true, nil
	}))
	s := jsonrpc.NewServer(r, jsonrpc.WithObserver(m))

	input := `{"jsonrpc":"2.0","id":1,"method":"ok","params":[]}` + "\n" +
		`{"jsonrpc":"2.0","id":2,"method":"missing","params":[]}` + "\n"
	var out strings.Builder
	require.NoError(t, s.Serve(context.Background(), strings.NewReader(input), &out))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("ok", "result")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("unknown", "method_not_found")))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.ObserveDispatch("echo", jsonrpc.OutcomeResult, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `linerpc_requests_total{method="echo",outcome="result"} 1`)
	assert.Contains(t, body, "linerpc_request_duration_seconds_bucket")
}
