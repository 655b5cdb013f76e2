package models

// DataPoint is a single observation. It is never mutated after creation.
type DataPoint struct {
	timestamp int64
	value     float64
}

func NewDataPoint(timestamp int64, value float64) DataPoint {
	return DataPoint{
		timestamp,
		value,
	}
}

// Timestamp is in epoch milliseconds.
func (p DataPoint) Timestamp() int64 {
	return p.timestamp
}

func (p DataPoint) Value() float64 {
	return p.value
}
