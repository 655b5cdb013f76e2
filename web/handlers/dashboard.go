package handlers

import (
	"html/template"
	"net/http"
	"strings"

	"cdr.dev/slog/v3"
	ds "github.com/starfederation/datastar-go/datastar"
	"golang.org/x/xerrors"

	"livechart/chart"
	"livechart/models"
	"livechart/web"
	"livechart/window"
)

// Dashboard draws one chart session: the plot is driven by the "chart" signal and the legend is patched as
// html. Clicking a legend entry toggles that unit's visibility for every viewer.
type Dashboard struct {
	chart     *chart.Chart
	templates *template.Template
	logger    slog.Logger
}

type legendKeySig struct {
	Legend struct {
		Key string `json:"key"`
	} `json:"legend"`
}

type pointJSON struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
	// Label is the tooltip text, formatted for the current window.
	Label string `json:"label,omitempty"`
}

type seriesJSON struct {
	Key    string      `json:"key"`
	Colour string      `json:"colour"`
	Hidden bool        `json:"hidden"`
	Points []pointJSON `json:"points"`
}

// chartSignals is the "chart" signal the browser plots from. Hidden series are left out.
type chartSignals struct {
	HasData bool         `json:"hasData"`
	Window  any          `json:"window"`
	Series  []seriesJSON `json:"series"`
}

func NewDashboard(c *chart.Chart, logger slog.Logger) (dashboard *Dashboard, err error) {
	dashboard = &Dashboard{
		chart:  c,
		logger: logger.Named("dashboard"),
	}
	templates := template.New("").Funcs(template.FuncMap{
		"unitLabel": func(key string) string { return "Unit " + strings.ReplaceAll(key, "-", " ") },
		"latest": func(points []models.DataPoint) *models.DataPoint {
			if len(points) == 0 {
				return nil
			}
			return &points[len(points)-1]
		},
	})
	dashboard.templates, err = templates.ParseFS(web.Templates, "templates/dashboard/*.gohtml")
	if err != nil {
		return nil, xerrors.Errorf("parse dashboard templates: %w", err)
	}
	return dashboard, nil
}

func (d *Dashboard) Templates() *template.Template {
	return d.templates
}

func (d *Dashboard) Handlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"/toggle-visibility": d.ToggleVisibilityHandler,
	}
}

func (d *Dashboard) Data() map[string]any {
	return map[string]any{
		"readingKind": d.chart.ReadingKind(),
		"snapshot":    d.chart.Snapshot(),
	}
}

func (d *Dashboard) Version() uint64 {
	return d.chart.Version()
}

// OnTick patches the legend and the chart signal.
func (d *Dashboard) OnTick(sse *ds.ServerSentEventGenerator) error {
	snap := d.chart.Snapshot()

	var buf strings.Builder
	if err := d.templates.ExecuteTemplate(&buf, "legend", snap); err != nil {
		return xerrors.Errorf("execute legend template: %w", err)
	}
	if err := sse.PatchElements(buf.String()); err != nil {
		return err
	}
	return sse.MarshalAndPatchSignals(map[string]any{"chart": d.chartSignals(snap)})
}

// ToggleVisibilityHandler is called when the client clicks on a legend entry.
func (d *Dashboard) ToggleVisibilityHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var sig legendKeySig
	if err := ds.ReadSignals(r, &sig); err != nil {
		d.logger.Debug(ctx, "couldn't read signals", slog.Error(err))
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	key := sig.Legend.Key
	if key == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, ok := d.chart.SeriesFor(key); !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	hidden := d.chart.ToggleVisibility(key)
	d.logger.Debug(ctx, "toggled unit visibility", slog.F("unit", key), slog.F("hidden", hidden))

	snap := d.chart.Snapshot()
	var buf strings.Builder
	for _, series := range snap.Series {
		if series.Key != key {
			continue
		}
		if err := d.templates.ExecuteTemplate(&buf, "legend.entry", series); err != nil {
			d.logger.Error(ctx, "couldn't execute legend entry template", slog.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}

	sse := ds.NewSSE(w, r)
	if err := sse.PatchElements(buf.String()); err != nil {
		d.logger.Debug(ctx, "couldn't patch legend entry", slog.Error(err))
		return
	}
	if err := sse.MarshalAndPatchSignals(map[string]any{"chart": d.chartSignals(snap)}); err != nil {
		d.logger.Debug(ctx, "couldn't patch chart signals", slog.Error(err))
	}
}

func (d *Dashboard) chartSignals(snap chart.Snapshot) chartSignals {
	signals := chartSignals{
		HasData: snap.HasData,
		Window:  struct{}{},
		Series:  make([]seriesJSON, 0, len(snap.Series)),
	}
	if snap.HasData {
		signals.Window = snap.Window
	}
	label := tooltipLabeller(d.chart, snap.Window, snap.HasData)
	for _, series := range snap.Series {
		if series.Hidden {
			continue
		}
		signals.Series = append(signals.Series, newSeriesJSON(series, label))
	}
	return signals
}

// tooltipLabeller formats point timestamps for w, or returns nil when there is no window yet.
func tooltipLabeller(c *chart.Chart, w window.Window, ok bool) func(int64) string {
	if !ok {
		return nil
	}
	return func(timestampMs int64) string {
		return c.Tooltip(w, timestampMs)
	}
}

func newSeriesJSON(series chart.SeriesView, label func(int64) string) seriesJSON {
	points := make([]pointJSON, len(series.Points))
	for i, p := range series.Points {
		points[i] = pointJSON{Timestamp: p.Timestamp(), Value: p.Value()}
		if label != nil {
			points[i].Label = label(p.Timestamp())
		}
	}
	return seriesJSON{
		Key:    series.Key,
		Colour: series.Colour,
		Hidden: series.Hidden,
		Points: points,
	}
}
