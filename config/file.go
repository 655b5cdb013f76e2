package config

import (
	"os"
	"sort"

	"golang.org/x/xerrors"
	"gopkg.in/yaml.v3"

	"livechart/models"
)

// File is the optional yaml config:
//
//	palette:
//	  fallback: "#888888"
//	  colours:
//	    "1": "#0077BB"
//	    "1-B": "#4FA3D9"
//	initialSeries:
//	  "1":
//	    - {timestamp: 1709547462000, value: 0.12}
type File struct {
	Palette       PaletteFile            `yaml:"palette"`
	InitialSeries map[string][]PointFile `yaml:"initialSeries"`
}

type PaletteFile struct {
	Fallback string            `yaml:"fallback"`
	Colours  map[string]string `yaml:"colours"`
}

type PointFile struct {
	Timestamp int64   `yaml:"timestamp"`
	Value     float64 `yaml:"value"`
}

// LoadFile reads the yaml file at path. An empty path gives an empty File.
func LoadFile(path string) (*File, error) {
	if path == "" {
		return &File{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("read config %s: %w", path, err)
	}
	file := &File{}
	if err := yaml.Unmarshal(raw, file); err != nil {
		return nil, xerrors.Errorf("parse config %s: %w", path, err)
	}
	return file, nil
}

// BuildPalette layers the file's colours over the default palette.
func (f *File) BuildPalette() *models.Palette {
	palette := models.DefaultPalette().Merge(f.Palette.Colours)
	if f.Palette.Fallback != "" {
		palette = models.NewPalette(palette.Colours(), f.Palette.Fallback)
	}
	return palette
}

// Seed converts the initial series, ordering each unit's points by timestamp.
func (f *File) Seed() map[string][]models.DataPoint {
	if len(f.InitialSeries) == 0 {
		return nil
	}
	seed := make(map[string][]models.DataPoint, len(f.InitialSeries))
	for key, points := range f.InitialSeries {
		sorted := make([]PointFile, len(points))
		copy(sorted, points)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Timestamp < sorted[j].Timestamp
		})
		converted := make([]models.DataPoint, len(sorted))
		for i, p := range sorted {
			converted[i] = models.NewDataPoint(p.Timestamp, p.Value)
		}
		seed[key] = converted
	}
	return seed
}
