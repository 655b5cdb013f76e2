// Package store holds the buffered history for every unit seen in a session.
//
// Store and VisibilitySet are plain values and are not safe for concurrent use on their own, the chart
// session owning them serialises access.
package store

import (
	"livechart/models"
)

type Store struct {
	palette   *models.Palette
	maxPoints int

	series map[string]*models.Series
	// order is the discovery order of keys.
	order []string
	// lastSeenMs is the latest "now" observed by Append, it keeps the window's right edge moving while
	// units are quiet.
	lastSeenMs int64
}

func New(palette *models.Palette, maxPoints int) *Store {
	if palette == nil {
		palette = models.DefaultPalette()
	}
	if maxPoints <= 0 {
		maxPoints = models.DefaultMaxPoints
	}
	return &Store{
		palette:   palette,
		maxPoints: maxPoints,
		series:    make(map[string]*models.Series),
	}
}

func (s *Store) MaxPoints() int {
	return s.maxPoints
}

// Append adds point to the series for key, creating the series on first sight. nowMs is the wall clock
// at receipt. The last seen instant only moves forward, to the later of nowMs and the point itself.
func (s *Store) Append(key string, point models.DataPoint, nowMs int64) {
	s.getOrCreate(key).Add(point)
	s.lastSeenMs = max(s.lastSeenMs, nowMs, point.Timestamp())
}

// Seed installs pre-existing history for key. Only the newest MaxPoints points are kept.
func (s *Store) Seed(key string, points []models.DataPoint) {
	series := s.getOrCreate(key)
	for _, p := range points {
		series.Add(p)
	}
	if latest, ok := series.Latest(); ok && latest.Timestamp() > s.lastSeenMs {
		s.lastSeenMs = latest.Timestamp()
	}
}

func (s *Store) getOrCreate(key string) *models.Series {
	series, ok := s.series[key]
	if !ok {
		series = models.NewSeries(key, s.palette.ColourFor(key), s.maxPoints)
		s.series[key] = series
		s.order = append(s.order, key)
	}
	return series
}

// Keys returns every known key in discovery order.
func (s *Store) Keys() []string {
	keys := make([]string, len(s.order))
	copy(keys, s.order)
	return keys
}

func (s *Store) Get(key string) (*models.Series, bool) {
	series, ok := s.series[key]
	return series, ok
}

func (s *Store) Len() int {
	return len(s.order)
}

func (s *Store) LastSeenMs() int64 {
	return s.lastSeenMs
}

// Bounds returns the earliest first point across all non-empty series and the right edge of the
// window. ok is false until at least one point exists.
func (s *Store) Bounds() (minMs, maxMs int64, ok bool) {
	for _, key := range s.order {
		series := s.series[key]
		first, hasFirst := series.First()
		if !hasFirst {
			continue
		}
		if !ok || first.Timestamp() < minMs {
			minMs = first.Timestamp()
		}
		latest, _ := series.Latest()
		if !ok || latest.Timestamp() > maxMs {
			maxMs = latest.Timestamp()
		}
		ok = true
	}
	if !ok {
		return 0, 0, false
	}
	if s.lastSeenMs > maxMs {
		maxMs = s.lastSeenMs
	}
	return minMs, maxMs, true
}
