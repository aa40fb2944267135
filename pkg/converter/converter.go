package converter

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/mathbridge/render-dispatcher/pkg/dispatcher"
)

const logPrefix = "converter:convert"

// localBaseline is a fixed placeholder: the local path does not compute a real
// baseline.
const localBaseline = "27"

// Converter produces response envelopes from MathML via a typesetting engine.
type Converter struct {
	engine Engine
}

// New creates a Converter over the given engine.
func New(engine Engine) *Converter {
	return &Converter{engine: engine}
}

// ConvertMathMLToSVG renders the MathML and returns the serialized response
// envelope: status "ok", the SVG outer markup as content, dimensions with unit
// suffixes stripped, format "svg" and role "math". It fails when the MathML is
// malformed or the engine cannot produce an SVG element; callers are expected
// to catch the error and degrade.
func (c *Converter) ConvertMathMLToSVG(ctx context.Context, mathml string) (string, error) {
	if err := checkMathML(mathml); err != nil {
		return "", err
	}
	if c.engine == nil {
		return "", fmt.Errorf("%s - no typesetting engine configured", logPrefix)
	}

	svg, err := c.engine.Render(ctx, mathml)
	if err != nil {
		return "", fmt.Errorf("%s - engine failed: %w", logPrefix, err)
	}
	if svg == nil || svg.OuterMarkup == "" {
		return "", fmt.Errorf("%s - engine produced no SVG element", logPrefix)
	}

	envelope := &dispatcher.Envelope{
		Status: dispatcher.StatusOK,
		Result: &dispatcher.RenderResult{
			Height:   stripUnits(svg.Height),
			Width:    stripUnits(svg.Width),
			Content:  svg.OuterMarkup,
			Baseline: localBaseline,
			Format:   "svg",
			Alt:      "",
			Role:     "math",
		},
	}
	return envelope.Serialize()
}

// checkMathML verifies the input is well-formed XML rooted at a math element.
func checkMathML(mathml string) error {
	dec := xml.NewDecoder(strings.NewReader(mathml))
	root := ""
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%s - malformed MathML: %w", logPrefix, err)
		}
		if start, ok := tok.(xml.StartElement); ok && root == "" {
			root = start.Name.Local
		}
	}
	if root != "math" {
		return fmt.Errorf("%s - input is not a math element (root %q)", logPrefix, root)
	}
	return nil
}

// stripUnits removes a trailing unit suffix from a dimension attribute
// ("12.34ex" becomes "12.34").
func stripUnits(value string) string {
	return strings.TrimRightFunc(strings.TrimSpace(value), func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})
}
