// Package window picks the display span and time formatting for a chart from the span of its data, so the
// same chart reads sensibly whether it covers minutes or weeks.
package window

import (
	"time"
)

const (
	TICK_COUNT = 6
	// TICK_PAD pushes the last tick past the newest data so it's never flush with the right edge.
	TICK_PAD = 100 * time.Second

	HOURLY_THRESHOLD_HOURS = 16.0
	DAILY_THRESHOLD_HOURS  = 120.0
)

// Go reference layouts for tick labels and tooltips.
const (
	MinuteLayout       = "15:04"
	WeekdayLayout      = "Mon 15:04"
	MonthDayLayout     = "Jan 2"
	MonthDayTimeLayout = "Jan 2 15:04"
)

// Granularity is the unit ticks are snapped down to.
type Granularity int

const (
	Minute Granularity = iota
	Hour
)

func (g Granularity) String() string {
	switch g {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	default:
		return "unknown"
	}
}

func (g Granularity) MarshalText() ([]byte, error) {
	return []byte(g.String()), nil
}

func (g Granularity) Duration() time.Duration {
	if g == Minute {
		return time.Minute
	}
	return time.Hour
}

type Window struct {
	MinTimestamp  int64       `json:"minTimestamp"`
	MaxTimestamp  int64       `json:"maxTimestamp"`
	DeltaHours    float64     `json:"deltaHours"`
	Granularity   Granularity `json:"granularity"`
	TickFormat    string      `json:"tickFormat"`
	TooltipFormat string      `json:"tooltipFormat"`
	Ticks         []int64     `json:"ticks"`
	TickLabels    []string    `json:"tickLabels"`
}

// Formats returns grouping, tick layout and tooltip layout for a span. Lower bounds are inclusive.
func Formats(deltaHours float64) (Granularity, string, string) {
	switch {
	case deltaHours < HOURLY_THRESHOLD_HOURS:
		return Minute, MinuteLayout, MinuteLayout
	case deltaHours < DAILY_THRESHOLD_HOURS:
		return Hour, WeekdayLayout, WeekdayLayout
	default:
		return Hour, MonthDayLayout, MonthDayTimeLayout
	}
}

type Formatter struct {
	// location is where ticks are snapped and labels rendered.
	location *time.Location
}

func NewFormatter(location *time.Location) *Formatter {
	if location == nil {
		location = time.Local
	}
	return &Formatter{location}
}

func (f *Formatter) Location() *time.Location {
	return f.location
}

// Compute builds the window between minMs and maxMs. Callers must only call it once data exists.
func (f *Formatter) Compute(minMs, maxMs int64) Window {
	if maxMs < minMs {
		maxMs = minMs
	}
	deltaHours := float64(maxMs-minMs) / float64(time.Hour.Milliseconds())
	granularity, tickFormat, tooltipFormat := Formats(deltaHours)

	ticks := f.Ticks(minMs, maxMs, granularity)
	labels := make([]string, len(ticks))
	for i, tick := range ticks {
		labels[i] = f.format(tick, tickFormat)
	}

	return Window{
		MinTimestamp:  minMs,
		MaxTimestamp:  maxMs,
		DeltaHours:    deltaHours,
		Granularity:   granularity,
		TickFormat:    tickFormat,
		TooltipFormat: tooltipFormat,
		Ticks:         ticks,
		TickLabels:    labels,
	}
}

// Ticks spreads TICK_COUNT instants evenly over [minMs, maxMs+TICK_PAD] and snaps each one down to the
// start of its minute or hour.
func (f *Formatter) Ticks(minMs, maxMs int64, granularity Granularity) []int64 {
	span := maxMs + TICK_PAD.Milliseconds() - minMs
	ticks := make([]int64, TICK_COUNT)
	for i := range ticks {
		instant := minMs + span*int64(i)/int64(TICK_COUNT-1)
		ticks[i] = f.snap(instant, granularity)
	}
	return ticks
}

// Tooltip formats a point timestamp the way the window's tooltips should show it.
func (f *Formatter) Tooltip(w Window, timestampMs int64) string {
	return f.format(timestampMs, w.TooltipFormat)
}

func (f *Formatter) format(timestampMs int64, layout string) string {
	return time.UnixMilli(timestampMs).In(f.location).Format(layout)
}

func (f *Formatter) snap(timestampMs int64, granularity Granularity) int64 {
	t := time.UnixMilli(timestampMs).In(f.location)
	minute := t.Minute()
	if granularity == Hour {
		minute = 0
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, f.location).UnixMilli()
}
