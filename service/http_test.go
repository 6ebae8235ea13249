package service

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/timzifer/drivelink/config"
)

func newTestSurface(t *testing.T, opts ...Option) (*Bridge, *httptest.Server) {
	t.Helper()
	b := newTestBridge(t, testConfig(), opts...)
	srv := httptest.NewServer(newHandler(b, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return b, srv
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTPListRegisters(t *testing.T) {
	_, srv := newTestSurface(t)
	resp, err := http.Get(srv.URL + "/api/registers")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var infos []RegisterInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&infos))
	require.Len(t, infos, 17)
	require.Equal(t, uint16(0x3), infos[0].Address)
	require.Equal(t, "Va", infos[0].Mnemonic)
}

func TestHTTPWriteRegister(t *testing.T) {
	b, srv := newTestSurface(t)

	resp := postJSON(t, srv.URL+"/api/registers/0xB", `{"value": 1.5}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out writeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, uint16(0xB), out.Address)
	require.Equal(t, "Im2109\n", out.Command)

	cases := map[string]struct {
		path   string
		body   string
		status int
	}{
		"out of range":   {path: "/api/registers/11", body: `{"value": 50}`, status: http.StatusUnprocessableEntity},
		"unknown":        {path: "/api/registers/0x99", body: `{"value": 1}`, status: http.StatusNotFound},
		"bad address":    {path: "/api/registers/zz", body: `{"value": 1}`, status: http.StatusBadRequest},
		"missing value":  {path: "/api/registers/11", body: `{}`, status: http.StatusBadRequest},
		"malformed body": {path: "/api/registers/11", body: `{"value":`, status: http.StatusBadRequest},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+tc.path, tc.body)
			require.Equal(t, tc.status, resp.StatusCode)
		})
	}

	pending, ok := b.exchange.TakeCommandIfPending()
	require.True(t, ok)
	require.Equal(t, "Im2109\n", pending)
}

func TestHTTPWriteDefaultAndRestore(t *testing.T) {
	b, srv := newTestSurface(t)

	resp := postJSON(t, srv.URL+"/api/registers/12", `{"default": true}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	pending, ok := b.exchange.TakeCommandIfPending()
	require.True(t, ok)
	require.Equal(t, "Il3276\n", pending)

	resp = postJSON(t, srv.URL+"/api/restore-defaults", ``)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	pending, ok = b.exchange.TakeCommandIfPending()
	require.True(t, ok)
	require.Equal(t, "r", pending)

	require.NoError(t, b.Close())
	resp = postJSON(t, srv.URL+"/api/restore-defaults", ``)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHTTPTelemetry(t *testing.T) {
	b, srv := newTestSurface(t)

	resp, err := http.Get(srv.URL + "/api/telemetry")
	require.NoError(t, err)
	var empty telemetryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	resp.Body.Close()
	require.Zero(t, empty.Generation)
	require.Zero(t, empty.Rows)

	row := make([]int64, b.exchange.Width())
	for i := 0; i < b.cfg.Link.BufferRows; i++ {
		row[0] = int64(i)
		_, err := b.exchange.PushTelemetryRow(row)
		require.NoError(t, err)
	}

	resp, err = http.Get(srv.URL + "/api/telemetry?rows=true")
	require.NoError(t, err)
	defer resp.Body.Close()
	var got telemetryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Equal(t, uint64(1), got.Generation)
	require.Equal(t, b.cfg.Link.BufferRows, got.Rows)
	require.Equal(t, 18, got.Width)
	require.Len(t, got.Data, got.Rows)
	require.Len(t, got.Latest, 18)
	require.Equal(t, int64(got.Rows-1), got.Latest[0].Raw)
}

func TestHTTPTelemetryReportsNonFiniteColumns(t *testing.T) {
	cfg := testConfig()
	cfg.Link.Width = 2
	cfg.Link.BufferRows = 1
	cfg.Columns = []config.ColumnConfig{{Name: "period", Expr: "1000 / raw"}}
	b := newTestBridge(t, cfg)
	srv := httptest.NewServer(newHandler(b, zerolog.Nop()))
	defer srv.Close()

	_, err := b.exchange.PushTelemetryRow([]int64{0, 2})
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/api/telemetry")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got telemetryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got.Latest, 2)
	require.Equal(t, "period", got.Latest[0].Name)
	require.Contains(t, got.Latest[0].Error, "not finite")
	require.Zero(t, got.Latest[0].Value)
	require.Empty(t, got.Latest[1].Error)
	require.Equal(t, 2.0, got.Latest[1].Value)
}

func TestWriteJSONFailsBeforeHeaders(t *testing.T) {
	s := &httpSurface{logger: zerolog.Nop()}
	rec := httptest.NewRecorder()
	s.writeJSON(rec, http.StatusOK, map[string]float64{"bad": math.Inf(1)})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestHTTPStatusAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "drivelink_surface_test_total", Help: "test counter"})
	reg.MustRegister(counter)
	counter.Inc()
	b, srv := newTestSurface(t, WithGatherer(reg))

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	var status Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	resp.Body.Close()
	require.Equal(t, b.Session(), status.Session)
	require.Equal(t, "/dev/ttyTEST", status.Port)
	require.False(t, status.Connected)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "drivelink_surface_test_total 1")
}

func TestHTTPMetricsDisabledWithoutGatherer(t *testing.T) {
	_, srv := newTestSurface(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTPRejectsWrongMethod(t *testing.T) {
	_, srv := newTestSurface(t)
	resp := postJSON(t, srv.URL+"/api/registers", `{}`)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestEnableHTTPServesAndCloses(t *testing.T) {
	b := newTestBridge(t, testConfig())
	require.NoError(t, b.EnableHTTP("127.0.0.1:0"))
	require.Error(t, b.EnableHTTP("127.0.0.1:0"))
	addr := b.HTTPAddress()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/api/status")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, b.Close())
	_, err = http.Get("http://" + addr + "/api/status")
	require.Error(t, err)
}
