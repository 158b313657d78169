// Package humastar bridges Huma (REST/OpenAPI) with Datastar (SSE/hypermedia).
//
// It provides:
//   - SSE: Huma streaming to Datastar SSE protocol via [SSE] and [NewSSE]
//   - Signals: Datastar signal parsing via [Signals] and [SignalsInput]
//   - Handler: Embeddable base for viewer SSE handlers via [Handler]
//
// Usage:
//
//	type MyHandler struct {
//	    humastar.Handler
//	    sessions *service.Registry
//	}
//
//	func (h *MyHandler) Close(ctx context.Context, input *humastar.EmptyInput) (*huma.StreamResponse, error) {
//	    return h.Stream(func(sse humastar.SSE) {
//	        sse.Patch(h.Render("popup", popup), "#popup-content")
//	    }), nil
//	}
package humastar

import (
	"encoding/json"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/starfederation/datastar-go/datastar"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-riskmap/internal/templates"
)

// ---------------------------------------------------------------------------
// Handler: embeddable base for Datastar SSE handlers
// ---------------------------------------------------------------------------

// Handler is an embeddable base for Huma handlers that produce Datastar SSE
// responses. It holds a [templates.Renderer] and provides convenience methods
// to create streams and render templates.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream returns a Huma StreamResponse that calls fn with a ready SSE helper.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(NewSSE(humaCtx))
		},
	}
}

// Render renders a fragment, logging and returning "" on failure so a broken
// template never kills a live stream.
func (h *Handler) Render(name string, data any) string {
	html, err := h.Renderer.Render(name, data)
	if err != nil {
		zap.L().Error("humastar: render fragment", zap.String("template", name), zap.Error(err))
		return ""
	}
	return html
}

// ---------------------------------------------------------------------------
// SSE: Huma to Datastar bridge
// ---------------------------------------------------------------------------

// SSE wraps a Datastar SSE generator. Every send returns the write error so
// a stream can stop once the client is gone.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE creates a Datastar SSE helper from a Huma streaming context.
func NewSSE(ctx huma.Context) SSE {
	r, w := humachi.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Patch sends HTML to replace inner content at a CSS selector.
func (s SSE) Patch(html, selector string) error {
	return s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeInner(),
	)
}

// Signals merges signals into the page's signal store.
func (s SSE) Signals(signals map[string]any) error {
	return s.MarshalAndPatchSignals(signals)
}

// ---------------------------------------------------------------------------
// Signals: Datastar signal parsing
// ---------------------------------------------------------------------------

// Signals provides type-safe access to Datastar signal values.
// Datastar sends all signals as a flat JSON object in the request body.
type Signals map[string]any

// ParseSignals parses Datastar signals from a raw request body. An empty body
// yields empty signals.
func ParseSignals(body []byte) (Signals, error) {
	signals := Signals{}
	if len(body) == 0 {
		return signals, nil
	}
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// String returns a string signal, or "" when missing or of another type.
func (s Signals) String(key string) string { return value[string](s, key) }

// Float returns a numeric signal. JSON numbers always decode as float64.
func (s Signals) Float(key string) float64 { return value[float64](s, key) }

// Bool returns a boolean signal, or false.
func (s Signals) Bool(key string) bool { return value[bool](s, key) }

// Sub returns a nested signal object such as layers in {"layers":{"cctv":true}}.
// A missing object yields nil, which reads as empty.
func (s Signals) Sub(key string) Signals {
	if m, ok := s[key].(map[string]any); ok {
		return m
	}
	return nil
}

func value[T any](s Signals, key string) T {
	v, _ := s[key].(T)
	return v
}

// Has reports whether the signal was sent at all, even as a zero value.
func (s Signals) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// ---------------------------------------------------------------------------
// Input types
// ---------------------------------------------------------------------------

// EmptyInput is a shared input struct for handlers with no parameters.
type EmptyInput struct{}

// SignalsInput is an input struct for handlers that receive Datastar signals.
type SignalsInput struct {
	RawBody []byte
}

// MustParse parses signals or returns a Huma 400 error.
func (i *SignalsInput) MustParse() (Signals, error) {
	return MustParseSignals(i.RawBody)
}

// MustParseSignals parses a raw body or returns a Huma 400 error.
func MustParseSignals(body []byte) (Signals, error) {
	signals, err := ParseSignals(body)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
	}
	return signals, nil
}
