package models

// DefaultMaxPoints is how many points a series keeps when no cap is configured.
const DefaultMaxPoints = 1000

type Series struct {
	// key is the unit identifier and doubles as the legend label.
	key string
	// colour is picked once from the palette when the series is created and never changes.
	colour string
	// maxPoints caps the length of points, oldest points are dropped first.
	maxPoints int
	// points holds the buffered history in arrival order.
	points []DataPoint
}

func NewSeries(key, colour string, maxPoints int) *Series {
	if maxPoints <= 0 {
		maxPoints = DefaultMaxPoints
	}
	return &Series{
		key,
		colour,
		maxPoints,
		make([]DataPoint, 0),
	}
}

func (s *Series) Key() string {
	return s.key
}

func (s *Series) Colour() string {
	return s.colour
}

func (s *Series) MaxPoints() int {
	return s.maxPoints
}

func (s *Series) Len() int {
	return len(s.points)
}

// Points returns a copy of the buffered history, oldest first.
func (s *Series) Points() []DataPoint {
	points := make([]DataPoint, len(s.points))
	copy(points, s.points)
	return points
}

// Add appends the point and evicts from the front until the cap holds again.
func (s *Series) Add(point DataPoint) {
	s.points = append(s.points, point)
	if over := len(s.points) - s.maxPoints; over > 0 {
		// Shift into a fresh slice every so often so the backing array doesn't grow forever.
		if cap(s.points) > 2*s.maxPoints {
			trimmed := make([]DataPoint, s.maxPoints, s.maxPoints+1)
			copy(trimmed, s.points[over:])
			s.points = trimmed
			return
		}
		s.points = s.points[over:]
	}
}

// First returns the oldest buffered point.
func (s *Series) First() (DataPoint, bool) {
	if len(s.points) == 0 {
		return DataPoint{}, false
	}
	return s.points[0], true
}

// Latest returns the newest buffered point.
func (s *Series) Latest() (DataPoint, bool) {
	if len(s.points) == 0 {
		return DataPoint{}, false
	}
	return s.points[len(s.points)-1], true
}
