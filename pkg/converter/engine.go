// Package converter wraps a typesetting engine to turn MathML into the same
// response envelope a remote render backend would produce.
package converter

import "context"

// SVG is the rendered output of a typesetting engine: an SVG root element
// exposing its outer markup and dimension attributes. Dimensions keep the
// engine's unit suffix (e.g. "12.34ex"); the converter strips it.
type SVG struct {
	OuterMarkup string
	Width       string
	Height      string
}

// Engine renders MathML to SVG. Implementations must be safe for concurrent
// use; rendering blocks the caller until the engine produces a result.
type Engine interface {
	Render(ctx context.Context, mathml string) (*SVG, error)
}
