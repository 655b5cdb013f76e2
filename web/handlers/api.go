package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"livechart/chart"
	"livechart/window"
)

type windowResponse struct {
	HasData bool           `json:"hasData"`
	Window  *window.Window `json:"window,omitempty"`
}

// API is the read-only JSON view of a chart session.
type API struct {
	chart *chart.Chart
}

func NewAPI(c *chart.Chart) *API {
	return &API{chart: c}
}

func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/window", a.WindowHandler)
	r.Get("/series", a.SeriesHandler)
	r.Get("/series/{key}", a.SeriesByKeyHandler)
	return r
}

func (a *API) WindowHandler(w http.ResponseWriter, _ *http.Request) {
	win, ok := a.chart.CurrentWindow()
	resp := windowResponse{HasData: ok}
	if ok {
		resp.Window = &win
	}
	writeJSON(w, http.StatusOK, resp)
}

// SeriesHandler lists every unit in discovery order, ?visible=true drops hidden ones.
func (a *API) SeriesHandler(w http.ResponseWriter, r *http.Request) {
	keys := a.chart.Keys()
	if r.URL.Query().Get("visible") == "true" {
		keys = a.chart.ListVisibleKeys()
	}
	out := make([]seriesJSON, 0, len(keys))
	label := a.labeller()
	for _, key := range keys {
		if series, ok := a.series(key, label); ok {
			out = append(out, series)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) SeriesByKeyHandler(w http.ResponseWriter, r *http.Request) {
	series, ok := a.series(chi.URLParam(r, "key"), a.labeller())
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "unknown unit"})
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (a *API) labeller() func(int64) string {
	w, ok := a.chart.CurrentWindow()
	return tooltipLabeller(a.chart, w, ok)
}

func (a *API) series(key string, label func(int64) string) (seriesJSON, bool) {
	points, ok := a.chart.SeriesFor(key)
	if !ok {
		return seriesJSON{}, false
	}
	return newSeriesJSON(chart.SeriesView{
		Key:    key,
		Colour: a.chart.ColourFor(key),
		Hidden: a.chart.IsHidden(key),
		Points: points,
	}, label), true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}
