package models

import "strings"

const FALLBACK_COLOUR = "#888888"

// Each unit gets a hue family: the base id takes the strongest shade and its sub-channels
// (1-A, 1-B, ...) take lighter shades of the same hue.
var defaultColours = map[string]string{
	"1":   "#0077BB",
	"1-A": "#0077BB",
	"1-B": "#4FA3D9",
	"1-C": "#9CCBEB",
	"2":   "#009988",
	"2-A": "#009988",
	"2-B": "#4DBBAE",
	"2-C": "#99D9D1",
	"3":   "#CC3311",
	"3-A": "#CC3311",
	"3-B": "#E06A50",
	"3-C": "#EFA593",
	"4":   "#EE7733",
	"4-A": "#EE7733",
	"4-B": "#F4A06F",
	"4-C": "#F9C8AB",
	"5":   "#AA3377",
	"5-A": "#AA3377",
	"5-B": "#C86F9F",
	"5-C": "#E2AFCB",
	"6":   "#33BBEE",
	"6-A": "#33BBEE",
	"6-B": "#70D0F3",
	"6-C": "#ADE5F8",
}

// Palette maps unit keys to display colours. Lookups always produce a colour.
type Palette struct {
	colours  map[string]string
	fallback string
}

func NewPalette(colours map[string]string, fallback string) *Palette {
	if fallback == "" {
		fallback = FALLBACK_COLOUR
	}
	c := make(map[string]string, len(colours))
	for k, v := range colours {
		c[k] = v
	}
	return &Palette{
		c,
		fallback,
	}
}

func DefaultPalette() *Palette {
	return NewPalette(defaultColours, FALLBACK_COLOUR)
}

// ColourFor tries the exact key, then the base unit of a sub-channel key, then the fallback.
func (p *Palette) ColourFor(key string) string {
	if c, ok := p.colours[key]; ok {
		return c
	}
	if base, _, found := strings.Cut(key, "-"); found {
		if c, ok := p.colours[base]; ok {
			return c
		}
	}
	return p.fallback
}

func (p *Palette) Fallback() string {
	return p.fallback
}

// Colours returns a copy of the explicit key to colour entries.
func (p *Palette) Colours() map[string]string {
	c := make(map[string]string, len(p.colours))
	for k, v := range p.colours {
		c[k] = v
	}
	return c
}

// Merge returns a new palette where entries from other override entries from p.
func (p *Palette) Merge(other map[string]string) *Palette {
	merged := NewPalette(p.colours, p.fallback)
	for k, v := range other {
		merged.colours[k] = v
	}
	return merged
}
