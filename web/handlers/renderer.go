package handlers

import (
	"html/template"
	"net/http"

	ds "github.com/starfederation/datastar-go/datastar"
)

// Renderer is a page served by Server. Handlers are mounted as POST routes.
type Renderer interface {
	Templates() *template.Template
	Handlers() map[string]http.HandlerFunc
	Data() map[string]any
	// Version changes whenever the next OnTick would draw something different.
	Version() uint64
	OnTick(sse *ds.ServerSentEventGenerator) error
}
