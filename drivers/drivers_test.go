package drivers

import (
	"context"
	"sync"
	"testing"

	"cdr.dev/slog/v3/sloggers/slogtest"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"livechart/metrics"
	"livechart/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorded struct {
	key   string
	value float64
}

type fakeRecorder struct {
	mu       sync.Mutex
	readings []recorded
}

func (r *fakeRecorder) Record(key string, value float64) models.DataPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, recorded{key, value})
	return models.NewDataPoint(int64(len(r.readings)), value)
}

func (r *fakeRecorder) all() []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]recorded, len(r.readings))
	copy(out, r.readings)
	return out
}

var testFilter = TopicFilter{Namespace: "morbidostat", Experiment: "trial-1", Reading: "od_raw"}

func TestTopicFilter(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "morbidostat/+/trial-1/od_raw", testFilter.Pattern())

	cases := []struct {
		topic string
		unit  string
		ok    bool
	}{
		{"morbidostat/1/trial-1/od_raw", "1", true},
		{"morbidostat/2-B/trial-1/od_raw", "2-B", true},
		{"morbidostat//trial-1/od_raw", "", false},
		{"morbidostat/1/trial-2/od_raw", "", false},
		{"morbidostat/1/trial-1/growth_rate", "", false},
		{"other/1/trial-1/od_raw", "", false},
		{"morbidostat/1/trial-1/od_raw/extra", "", false},
		{"morbidostat/1/trial-1", "", false},
	}
	for _, c := range cases {
		unit, ok := testFilter.UnitFromTopic(c.topic)
		assert.Equal(t, c.ok, ok, c.topic)
		assert.Equal(t, c.unit, unit, c.topic)
	}
}

func TestParseReading(t *testing.T) {
	t.Parallel()

	value, err := ParseReading([]byte("0.153"))
	require.NoError(t, err)
	assert.Equal(t, 0.153, value)

	value, err = ParseReading([]byte(" -2e-3\n"))
	require.NoError(t, err)
	assert.Equal(t, -0.002, value)

	for _, payload := range []string{"", "abc", "0.1.2", "NaN", "+Inf", "-inf", "1,5"} {
		_, err := ParseReading([]byte(payload))
		assert.ErrorIs(t, err, ErrMalformedPayload, payload)
	}
}

func TestIngest(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	m := metrics.New(nil)
	i := &ingester{
		driver:   MQTT_DRIVER,
		filter:   testFilter,
		recorder: recorder,
		metrics:  m,
		logger:   slogtest.Make(t, nil),
	}
	ctx := context.Background()

	assert.True(t, i.ingest(ctx, "morbidostat/1/trial-1/od_raw", []byte("0.12")))
	assert.True(t, i.ingest(ctx, "morbidostat/3/trial-1/od_raw", []byte("0.5")))
	assert.False(t, i.ingest(ctx, "morbidostat/1/trial-1/od_raw", []byte("abc")))
	assert.False(t, i.ingest(ctx, "morbidostat/1/trial-9/od_raw", []byte("0.3")))

	assert.Equal(t, []recorded{{"1", 0.12}, {"3", 0.5}}, recorder.all())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues(MQTT_DRIVER, metrics.Accepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues(MQTT_DRIVER, metrics.Malformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal.WithLabelValues(MQTT_DRIVER, metrics.Unmatched)))
}

func TestConnectionState(t *testing.T) {
	t.Parallel()

	var seen []ConnectionState
	tracker := newStateTracker(func(s ConnectionState) { seen = append(seen, s) })
	assert.Equal(t, Disconnected, tracker.get())

	tracker.set(Connecting)
	tracker.set(Connecting)
	tracker.set(Connected)
	select {
	case <-tracker.ready:
	default:
		t.Fatal("ready should be closed once connected")
	}
	tracker.set(Lost)
	tracker.set(Connected)

	assert.Equal(t, []ConnectionState{Connecting, Connected, Lost, Connected}, seen)
	assert.Equal(t, "lost", Lost.String())
	assert.Equal(t, "unknown", ConnectionState(42).String())
}
