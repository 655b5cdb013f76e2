package handlers

import (
	"net/http"
	"time"

	"cdr.dev/slog/v3"
	"github.com/gorilla/websocket"

	"livechart/events"
	"livechart/metrics"
)

const WRITE_TIMEOUT = 5 * time.Second

type feedMessage struct {
	Key       string  `json:"key"`
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Feed streams every accepted point to websocket clients as it arrives.
type Feed struct {
	hub      *events.EventHub
	metrics  *metrics.Metrics
	logger   slog.Logger
	upgrader websocket.Upgrader
}

func NewFeed(hub *events.EventHub, m *metrics.Metrics, logger slog.Logger) *Feed {
	return &Feed{
		hub:      hub,
		metrics:  m,
		logger:   logger.Named("feed"),
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Debug(ctx, "websocket upgrade failed", slog.Error(err))
		return
	}
	defer conn.Close()

	eventCh, unsubscribe := f.hub.Subscribe()
	defer unsubscribe()
	if f.metrics != nil {
		f.metrics.FeedSubscribers.Inc()
		defer f.metrics.FeedSubscribers.Dec()
	}

	// Clients never send anything, reading only notices when they go away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(WRITE_TIMEOUT))
			err := conn.WriteJSON(feedMessage{
				Key:       event.Key,
				Timestamp: event.Point.Timestamp(),
				Value:     event.Point.Value(),
			})
			if err != nil {
				f.logger.Debug(ctx, "websocket write failed", slog.Error(err))
				return
			}
		}
	}
}
