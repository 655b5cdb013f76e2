package handlers_test

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livechart/chart"
	"livechart/events"
	"livechart/metrics"
	"livechart/web/handlers"
)

var base = time.Date(2024, time.March, 4, 10, 17, 42, 0, time.UTC)

type harness struct {
	chart   *chart.Chart
	clock   *quartz.Mock
	metrics *metrics.Metrics
	srv     *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slogtest.Make(t, nil)
	mClock := quartz.NewMock(t)
	mClock.Set(base)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	hub := events.NewHub()
	c, err := chart.New(chart.Options{
		ReadingKind: "od_raw",
		Location:    time.UTC,
		Clock:       mClock,
		Hub:         hub,
		Metrics:     m,
		Logger:      logger,
	})
	require.NoError(t, err)

	dashboard, err := handlers.NewDashboard(c, logger)
	require.NoError(t, err)
	server := handlers.NewServer(
		dashboard,
		handlers.NewAPI(c),
		handlers.NewFeed(hub, m, logger),
		registry,
		mClock,
		logger,
	)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	return &harness{chart: c, clock: mClock, metrics: m, srv: srv}
}

func (h *harness) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(h.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (h *harness) toggle(t *testing.T, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(h.srv.URL+"/toggle-visibility", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(out)
}

func TestIndex(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.chart.Record("1-A", 0.25)

	status, body := h.get(t, "/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "od_raw")
	assert.Contains(t, body, `id="legend-1-A"`)
	assert.Contains(t, body, "Unit 1 A")
	assert.Contains(t, body, "0.250")

	status, body = h.get(t, "/static/livechart.js")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "livechart")
	// the x scale reaches the padded last tick
	assert.Contains(t, body, "ticks[ticks.length - 1]")
}

func TestAPI(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	t.Run("EmptyWindow", func(t *testing.T) {
		status, body := h.get(t, "/api/window")
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"hasData": false}`, body)
	})

	h.chart.Record("1", 0.1)
	h.clock.Advance(time.Hour)
	h.chart.Record("2", 0.2)
	h.chart.Record("1", 0.15)
	h.chart.ToggleVisibility("2")

	t.Run("Window", func(t *testing.T) {
		status, body := h.get(t, "/api/window")
		require.Equal(t, http.StatusOK, status)
		var resp struct {
			HasData bool `json:"hasData"`
			Window  struct {
				MinTimestamp int64    `json:"minTimestamp"`
				MaxTimestamp int64    `json:"maxTimestamp"`
				Granularity  string   `json:"granularity"`
				TickLabels   []string `json:"tickLabels"`
			} `json:"window"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &resp))
		assert.True(t, resp.HasData)
		assert.Equal(t, base.UnixMilli(), resp.Window.MinTimestamp)
		assert.Equal(t, base.Add(time.Hour).UnixMilli(), resp.Window.MaxTimestamp)
		assert.Equal(t, "minute", resp.Window.Granularity)
		assert.Len(t, resp.Window.TickLabels, 6)
	})

	t.Run("Series", func(t *testing.T) {
		status, body := h.get(t, "/api/series")
		require.Equal(t, http.StatusOK, status)
		var all []struct {
			Key    string `json:"key"`
			Hidden bool   `json:"hidden"`
			Points []struct {
				Value float64 `json:"value"`
			} `json:"points"`
		}
		require.NoError(t, json.Unmarshal([]byte(body), &all))
		require.Len(t, all, 2)
		assert.Equal(t, "1", all[0].Key)
		assert.Len(t, all[0].Points, 2)
		assert.Equal(t, "2", all[1].Key)
		assert.True(t, all[1].Hidden)

		_, body = h.get(t, "/api/series?visible=true")
		require.NoError(t, json.Unmarshal([]byte(body), &all))
		require.Len(t, all, 1)
		assert.Equal(t, "1", all[0].Key)
	})

	t.Run("SeriesByKey", func(t *testing.T) {
		status, body := h.get(t, "/api/series/2")
		require.Equal(t, http.StatusOK, status)
		assert.Contains(t, body, `"colour":"#009988"`)
		// tooltip labels use the window's minute layout
		assert.Contains(t, body, `"label":"11:17"`)

		status, _ = h.get(t, "/api/series/9")
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestToggleVisibility(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.chart.Record("1", 0.1)

	status, body := h.toggle(t, `{"legend": {"key": "1"}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, h.chart.IsHidden("1"))
	assert.Contains(t, body, "datastar-patch-elements")
	assert.Contains(t, body, `id="legend-1"`)
	assert.Contains(t, body, "hidden")
	assert.Contains(t, body, "datastar-patch-signals")

	// buffered data is untouched
	points, ok := h.chart.SeriesFor("1")
	require.True(t, ok)
	assert.Len(t, points, 1)

	status, _ = h.toggle(t, `{"legend": {"key": "1"}}`)
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, h.chart.IsHidden("1"))

	status, _ = h.toggle(t, `{"legend": {"key": ""}}`)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = h.toggle(t, `{"legend": `)
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = h.toggle(t, `{"legend": {"key": "7"}}`)
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, h.chart.IsHidden("7"))
}

// readUntil scans SSE lines until one contains want.
func readUntil(t *testing.T, scanner *bufio.Scanner, want string) string {
	t.Helper()
	for scanner.Scan() {
		if strings.Contains(scanner.Text(), want) {
			return scanner.Text()
		}
	}
	t.Fatalf("stream ended before %q: %v", want, scanner.Err())
	return ""
}

func TestTick(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.srv.URL+"/tick", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	readUntil(t, scanner, "event: datastar-patch-elements")
	line := readUntil(t, scanner, "data: signals")
	assert.Contains(t, line, `"hasData":false`)

	h.chart.Record("3", 0.75)
	h.clock.Advance(time.Second / handlers.FRAMERATE).MustWait(ctx)

	readUntil(t, scanner, `id="legend-3"`)
	line = readUntil(t, scanner, "data: signals")
	assert.Contains(t, line, `"hasData":true`)
	assert.Contains(t, line, `"key":"3"`)
	assert.Contains(t, line, `"value":0.75`)
	assert.Contains(t, line, `"label":"10:17"`)
}

func TestFeed(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	// points from before the connection are not replayed
	h.chart.Record("9", 9)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/feed"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.FeedSubscribers) == 1
	}, 5*time.Second, 10*time.Millisecond)

	h.chart.Record("2-B", 1.5)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg struct {
		Key       string  `json:"key"`
		Timestamp int64   `json:"timestamp"`
		Value     float64 `json:"value"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "2-B", msg.Key)
	assert.Equal(t, base.UnixMilli(), msg.Timestamp)
	assert.Equal(t, 1.5, msg.Value)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.FeedSubscribers) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.chart.Record("1", 0.1)

	status, body := h.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "livechart_store_series 1")
}
