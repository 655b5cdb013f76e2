package drivers

import (
	"context"
	"math"
	"strconv"
	"strings"

	"cdr.dev/slog/v3"
	"golang.org/x/xerrors"

	"livechart/metrics"
	"livechart/models"
)

// Driver feeds readings from some transport into a Recorder. Init prepares the transport, Run blocks until
// ctx is done and tears the transport down before returning.
type Driver interface {
	Init(ctx context.Context) error
	Run(ctx context.Context) error
}

// Recorder accepts a reading for a unit and stamps it with the time of receipt.
type Recorder interface {
	Record(key string, value float64) models.DataPoint
}

var ErrMalformedPayload = xerrors.New("payload is not a finite decimal number")

// TopicFilter matches topics of the form <namespace>/<unit>/<experiment>/<reading>.
type TopicFilter struct {
	Namespace  string
	Experiment string
	Reading    string
}

// Pattern is the wildcard subscription covering every unit.
func (f TopicFilter) Pattern() string {
	return f.Namespace + "/+/" + f.Experiment + "/" + f.Reading
}

// UnitFromTopic returns the unit segment of topic if the rest of it matches the filter.
func (f TopicFilter) UnitFromTopic(topic string) (string, bool) {
	segments := strings.Split(topic, "/")
	if len(segments) != 4 {
		return "", false
	}
	if segments[0] != f.Namespace || segments[2] != f.Experiment || segments[3] != f.Reading {
		return "", false
	}
	if segments[1] == "" {
		return "", false
	}
	return segments[1], true
}

// ParseReading parses a text payload such as "0.153".
func ParseReading(payload []byte) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, ErrMalformedPayload
	}
	return value, nil
}

// ingester is the shared message path: match the topic, parse the payload, record. Bad messages are
// dropped without touching the recorder.
type ingester struct {
	driver   string
	filter   TopicFilter
	recorder Recorder
	metrics  *metrics.Metrics
	logger   slog.Logger
}

func (i *ingester) ingest(ctx context.Context, topic string, payload []byte) bool {
	unit, ok := i.filter.UnitFromTopic(topic)
	if !ok {
		i.count(metrics.Unmatched)
		i.logger.Debug(ctx, "dropping message on unexpected topic", slog.F("topic", topic))
		return false
	}
	value, err := ParseReading(payload)
	if err != nil {
		i.count(metrics.Malformed)
		i.logger.Debug(ctx, "dropping malformed reading",
			slog.F("unit", unit),
			slog.F("payload", string(payload)),
		)
		return false
	}
	i.recorder.Record(unit, value)
	i.count(metrics.Accepted)
	return true
}

func (i *ingester) count(result string) {
	if i.metrics == nil {
		return
	}
	i.metrics.MessagesTotal.WithLabelValues(i.driver, result).Inc()
}

// observeState keeps the transport gauge in step with the connection.
func (i *ingester) observeState(state ConnectionState) {
	if i.metrics == nil {
		return
	}
	up := 0.0
	if state == Connected {
		up = 1
	}
	i.metrics.TransportUp.WithLabelValues(i.driver).Set(up)
}
