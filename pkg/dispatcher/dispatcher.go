package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mathbridge/render-dispatcher/pkg/cache"
	"github.com/mathbridge/render-dispatcher/pkg/events"
	"github.com/mathbridge/render-dispatcher/pkg/semver"
	"github.com/mathbridge/render-dispatcher/pkg/services"
)

const logPrefix = "dispatcher:dispatch"

// ParamMathML is the structured parameter carrying the MathML source.
const ParamMathML = "mml"

// Params are structured request parameters. They are sent url-encoded; for
// the show-image service a ParamMathML entry routes the call to the local
// conversion path instead of the network.
type Params map[string]string

// MathMLConverter is the local fallback conversion path: MathML in,
// serialized response envelope out.
type MathMLConverter interface {
	ConvertMathMLToSVG(ctx context.Context, mathml string) (string, error)
}

// Dispatcher resolves logical service names to backend URIs and routes each
// invocation to the remote backend or the local converter, returning one
// normalized envelope shape either way. It is an explicit instance owned by
// the caller; independent dispatchers do not share state.
type Dispatcher struct {
	bus       *events.Bus
	transport Transport
	converter MathMLConverter
	store     cache.Store

	cfg   services.Config
	paths *services.Registry
}

// NewDispatcherParams holds parameters for NewDispatcher. Bus and Transport
// default when nil; a nil Converter disables the local conversion path and a
// nil Store disables caching.
type NewDispatcherParams struct {
	Bus       *events.Bus
	Transport Transport
	Converter MathMLConverter
	Store     cache.Store
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(params NewDispatcherParams) *Dispatcher {
	bus := params.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	transport := params.Transport
	if transport == nil {
		transport = &HTTPTransport{}
	}
	return &Dispatcher{
		bus:       bus,
		transport: transport,
		converter: params.Converter,
		store:     params.Store,
		paths:     services.NewRegistry(),
	}
}

// Bus returns the dispatcher's event bus, for listener subscription.
func (d *Dispatcher) Bus() *events.Bus {
	return d.bus
}

// Paths returns the service path registry.
func (d *Dispatcher) Paths() *services.Registry {
	return d.paths
}

// Initialize stores the integration configuration, resolves the URI of every
// canonical service into the path registry and publishes EventInit with an
// empty payload. Re-entrant: a second call recomputes and overwrites all
// entries without error. Listeners subscribed before earlier calls persist.
func (d *Dispatcher) Initialize(cfg services.Config) {
	slog.Info(fmt.Sprintf("%s - initialize path=%s technology=%s", logPrefix, cfg.IntegrationPath, cfg.ServerTechnology))
	d.cfg = cfg
	d.paths.Populate(cfg)
	d.bus.Publish(events.EventInit, events.Payload{})
}

// Invoke dispatches a service call and returns the serialized response
// envelope in the backend's wire format. params is either Params (structured)
// or string (a body the caller already serialized). isGet selects GET with a
// query string over POST with a url-encoded body.
//
// Failures never panic and never raise: local conversion errors are logged
// and degrade to the warning envelope, transport errors degrade to an empty
// body indistinguishable from an empty response.
func (d *Dispatcher) Invoke(ctx context.Context, service services.Name, params any, isGet bool) string {
	if service == services.ShowImage {
		if envelope, handled := d.showImage(ctx, params); handled {
			return envelope
		}
	}
	return d.invokeRemote(ctx, service, params, isGet)
}

// showImage handles the local conversion branch. handled is false when the
// structured parameters carry no MathML, in which case the call proceeds to
// the remote backend.
func (d *Dispatcher) showImage(ctx context.Context, params any) (envelope string, handled bool) {
	mathml, ok := mathMLParam(params)
	if !ok {
		// A pre-serialized or absent body means no MathML object was
		// supplied; there is nothing to convert locally.
		if _, structured := asParams(params); structured {
			return "", false
		}
		d.publishDispatch(services.ShowImage, events.OriginWarning)
		return WarningEnvelope, true
	}

	envelope, origin, err := d.convertLocal(ctx, mathml)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - local conversion failed: %v", logPrefix, err))
		d.publishDispatch(services.ShowImage, events.OriginWarning)
		return WarningEnvelope, true
	}
	d.publishDispatch(services.ShowImage, origin)
	return envelope, true
}

// convertLocal converts MathML through the cache and converter.
func (d *Dispatcher) convertLocal(ctx context.Context, mathml string) (envelope, origin string, err error) {
	if d.converter == nil {
		return "", "", &DispatchError{Code: "NO_CONVERTER", Message: "no local converter configured"}
	}

	key := cache.Key(mathml)
	if d.store != nil {
		cached, ok, err := d.store.Get(ctx, key)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - cache read failed: %v", logPrefix, err))
		} else if ok {
			return cached, events.OriginCache, nil
		}
	}

	envelope, err = d.converter.ConvertMathMLToSVG(ctx, mathml)
	if err != nil {
		return "", "", err
	}

	if d.store != nil {
		if err := d.store.Put(ctx, key, envelope); err != nil {
			slog.Warn(fmt.Sprintf("%s - cache write failed: %v", logPrefix, err))
		}
	}
	return envelope, events.OriginLocal, nil
}

func (d *Dispatcher) invokeRemote(ctx context.Context, service services.Name, params any, isGet bool) string {
	uri := d.paths.GetPath(service)
	body := encodeParams(params)

	var respBody string
	var err error
	if isGet {
		target := uri
		if body != "" {
			target += "?" + body
		}
		respBody, err = d.transport.Request(ctx, http.MethodGet, target, "")
	} else {
		respBody, err = d.transport.Request(ctx, http.MethodPost, d.postTarget(uri), body)
	}
	if err != nil {
		// Transport failures degrade to an empty body; callers cannot tell
		// them apart from an empty response.
		slog.Error(fmt.Sprintf("%s - %s dispatch failed: %v", logPrefix, service, err))
		respBody = ""
	}

	d.publishDispatch(service, events.OriginRemote)
	return respBody
}

// postTarget resolves a relative service URI against the embedding document's
// directory. Absolute and root-relative URIs pass through.
func (d *Dispatcher) postTarget(uri string) string {
	if strings.Contains(uri, "://") || strings.HasPrefix(uri, "/") || d.cfg.DocumentBase == "" {
		return uri
	}
	return services.Join(d.cfg.DocumentBase, uri)
}

func (d *Dispatcher) publishDispatch(service services.Name, origin string) {
	d.bus.Publish(events.EventDispatch, events.Payload{
		"service": string(service),
		"origin":  origin,
	})
}

// VerifyBackend fetches the backend's configuration service and checks its
// reported version against a minimum constraint (e.g. ">=7.0.0"). An
// incompatible or unreadable backend is reported, not fatal: dispatch keeps
// working either way.
func (d *Dispatcher) VerifyBackend(ctx context.Context, constraint string) error {
	body := d.Invoke(ctx, services.Configuration, nil, true)
	if body == "" {
		return &DispatchError{Code: "BACKEND_UNREACHABLE", Message: "configuration service returned no body"}
	}

	var conf struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal([]byte(body), &conf); err != nil {
		return &DispatchError{Code: "BAD_CONFIGURATION", Message: fmt.Sprintf("configuration service returned invalid JSON: %v", err)}
	}
	if conf.Version == "" {
		return &DispatchError{Code: "BAD_CONFIGURATION", Message: "configuration service reported no version"}
	}

	ok, err := semver.Satisfies(conf.Version, constraint)
	if err != nil {
		return &DispatchError{Code: "BAD_CONFIGURATION", Message: err.Error()}
	}
	if !ok {
		return &DispatchError{
			Code:    "INCOMPATIBLE_BACKEND",
			Message: fmt.Sprintf("backend version %s does not satisfy %s", conf.Version, constraint),
		}
	}
	return nil
}

// mathMLParam extracts the MathML entry from structured parameters.
func mathMLParam(params any) (string, bool) {
	p, ok := asParams(params)
	if !ok {
		return "", false
	}
	mathml, ok := p[ParamMathML]
	if !ok || mathml == "" {
		return "", false
	}
	return mathml, true
}

func asParams(params any) (Params, bool) {
	switch p := params.(type) {
	case Params:
		return p, true
	case map[string]string:
		return Params(p), true
	default:
		return nil, false
	}
}

// encodeParams serializes parameters for the wire: structured parameters are
// url-encoded, a string passes through as the caller serialized it.
func encodeParams(params any) string {
	switch p := params.(type) {
	case nil:
		return ""
	case string:
		return p
	case Params:
		return encodeValues(p)
	case map[string]string:
		return encodeValues(p)
	default:
		return ""
	}
}

func encodeValues(p map[string]string) string {
	values := url.Values{}
	for k, v := range p {
		values.Set(k, v)
	}
	return values.Encode()
}
