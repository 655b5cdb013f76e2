// Package chart owns the live state of one chart session: the buffered history of every unit, which units
// are hidden and how the time window should be formatted.
//
// Record (called by drivers as readings arrive) and ToggleVisibility (called from the UI) are the only
// mutations. Both take the same lock so appends to a key keep arrival order and a toggle never lands in the
// middle of an append. Everything else is a read that hands back copies.
package chart

import (
	"context"
	"sort"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"livechart/events"
	"livechart/metrics"
	"livechart/models"
	"livechart/store"
	"livechart/window"
)

var ErrNoReadingKind = xerrors.New("reading kind is required")

type Options struct {
	// ReadingKind is the measurement this chart watches, e.g. "od_raw" or "growth_rate".
	ReadingKind string
	// MaxPoints caps each unit's history, models.DefaultMaxPoints when zero.
	MaxPoints int
	Palette   *models.Palette
	// InitialSeries seeds history that existed before the session started.
	InitialSeries map[string][]models.DataPoint
	// Location is used for tick snapping and labels, time.Local when nil.
	Location *time.Location

	Clock   quartz.Clock
	Hub     *events.EventHub
	Metrics *metrics.Metrics
	Logger  slog.Logger
}

type Chart struct {
	readingKind string
	palette     *models.Palette
	formatter   *window.Formatter
	clock       quartz.Clock
	hub         *events.EventHub
	metrics     *metrics.Metrics
	logger      slog.Logger

	mu         sync.RWMutex
	store      *store.Store
	visibility *store.VisibilitySet
	// version bumps on every mutation so readers can skip redraws.
	version uint64
}

func New(opts Options) (*Chart, error) {
	if opts.ReadingKind == "" {
		return nil, ErrNoReadingKind
	}
	if opts.MaxPoints < 0 {
		return nil, xerrors.Errorf("max points must be positive, got %d", opts.MaxPoints)
	}
	if opts.Palette == nil {
		opts.Palette = models.DefaultPalette()
	}
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}

	c := &Chart{
		readingKind: opts.ReadingKind,
		palette:     opts.Palette,
		formatter:   window.NewFormatter(opts.Location),
		clock:       opts.Clock,
		hub:         opts.Hub,
		metrics:     opts.Metrics,
		logger:      opts.Logger.Named("chart"),
		store:       store.New(opts.Palette, opts.MaxPoints),
		visibility:  store.NewVisibilitySet(),
	}

	// Seeded units are discovered in key order.
	seedKeys := make([]string, 0, len(opts.InitialSeries))
	for key := range opts.InitialSeries {
		seedKeys = append(seedKeys, key)
	}
	sort.Strings(seedKeys)
	for _, key := range seedKeys {
		c.store.Seed(key, opts.InitialSeries[key])
	}
	if len(opts.InitialSeries) > 0 {
		c.logger.Debug(context.Background(), "seeded initial series",
			slog.F("reading", c.readingKind),
			slog.F("units", len(opts.InitialSeries)),
		)
	}
	c.observeSeries()

	return c, nil
}

func (c *Chart) ReadingKind() string {
	return c.readingKind
}

func (c *Chart) MaxPoints() int {
	return c.store.MaxPoints()
}

// Record stamps value with the current wall clock and appends it to key's series.
func (c *Chart) Record(key string, value float64) models.DataPoint {
	now := c.clock.Now().UnixMilli()
	point := models.NewDataPoint(now, value)
	c.append(key, point, now)
	return point
}

// Append adds a point carrying its own timestamp. The window's right edge still advances to now.
func (c *Chart) Append(key string, point models.DataPoint) {
	c.append(key, point, c.clock.Now().UnixMilli())
}

func (c *Chart) append(key string, point models.DataPoint, nowMs int64) {
	c.mu.Lock()
	created := false
	if _, ok := c.store.Get(key); !ok {
		created = true
	}
	c.store.Append(key, point, nowMs)
	c.version++
	// Broadcast never blocks, doing it under the lock keeps the feed in store order.
	if c.hub != nil {
		c.hub.Broadcast(events.Event{Key: key, Point: point})
	}
	c.mu.Unlock()

	if created {
		c.logger.Info(context.Background(), "new unit observed",
			slog.F("unit", key),
			slog.F("reading", c.readingKind),
		)
		c.observeSeries()
	}
}

// ToggleVisibility flips key between hidden and shown and reports whether it's now hidden. Buffered data
// is untouched and hidden units keep receiving points.
func (c *Chart) ToggleVisibility(key string) bool {
	c.mu.Lock()
	hidden := c.visibility.Toggle(key)
	c.version++
	c.mu.Unlock()

	c.logger.Debug(context.Background(), "toggled visibility",
		slog.F("unit", key),
		slog.F("hidden", hidden),
	)
	c.observeSeries()
	return hidden
}

func (c *Chart) IsHidden(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.visibility.IsHidden(key)
}

// Keys returns every unit seen so far in discovery order, hidden or not.
func (c *Chart) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Keys()
}

// ListVisibleKeys returns the known units that aren't hidden, in discovery order.
func (c *Chart) ListVisibleKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, c.store.Len())
	for _, key := range c.store.Keys() {
		if !c.visibility.IsHidden(key) {
			keys = append(keys, key)
		}
	}
	return keys
}

// SeriesFor returns a copy of key's buffered points, oldest first.
func (c *Chart) SeriesFor(key string) ([]models.DataPoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	series, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	return series.Points(), true
}

// ColourFor returns the colour assigned to key's series, or the palette's pick if the unit hasn't been
// seen yet.
func (c *Chart) ColourFor(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if series, ok := c.store.Get(key); ok {
		return series.Colour()
	}
	return c.palette.ColourFor(key)
}

// CurrentWindow computes the display window. ok is false while no unit has any points.
func (c *Chart) CurrentWindow() (window.Window, bool) {
	c.mu.RLock()
	minMs, maxMs, ok := c.store.Bounds()
	c.mu.RUnlock()
	if !ok {
		return window.Window{}, false
	}
	return c.formatter.Compute(minMs, maxMs), true
}

// Tooltip formats a timestamp for w's tooltip granularity.
func (c *Chart) Tooltip(w window.Window, timestampMs int64) string {
	return c.formatter.Tooltip(w, timestampMs)
}

func (c *Chart) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

type SeriesView struct {
	Key    string             `json:"key"`
	Colour string             `json:"colour"`
	Hidden bool               `json:"hidden"`
	Points []models.DataPoint `json:"-"`
}

// Snapshot is a consistent copy of everything a renderer needs.
type Snapshot struct {
	Version     uint64        `json:"version"`
	ReadingKind string        `json:"readingKind"`
	HasData     bool          `json:"hasData"`
	Window      window.Window `json:"window"`
	Series      []SeriesView  `json:"series"`
}

func (c *Chart) Snapshot() Snapshot {
	c.mu.RLock()
	snap := Snapshot{
		Version:     c.version,
		ReadingKind: c.readingKind,
		Series:      make([]SeriesView, 0, c.store.Len()),
	}
	for _, key := range c.store.Keys() {
		series, _ := c.store.Get(key)
		snap.Series = append(snap.Series, SeriesView{
			Key:    key,
			Colour: series.Colour(),
			Hidden: c.visibility.IsHidden(key),
			Points: series.Points(),
		})
	}
	minMs, maxMs, ok := c.store.Bounds()
	c.mu.RUnlock()

	if ok {
		snap.HasData = true
		snap.Window = c.formatter.Compute(minMs, maxMs)
	}
	return snap
}

func (c *Chart) observeSeries() {
	if c.metrics == nil {
		return
	}
	c.mu.RLock()
	series, hidden := c.store.Len(), c.visibility.Len()
	c.mu.RUnlock()
	c.metrics.Series.Set(float64(series))
	c.metrics.HiddenSeries.Set(float64(hidden))
}
