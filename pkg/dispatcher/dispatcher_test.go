package dispatcher

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mathbridge/render-dispatcher/pkg/cache"
	"github.com/mathbridge/render-dispatcher/pkg/events"
	"github.com/mathbridge/render-dispatcher/pkg/services"
)

type fakeTransport struct {
	method string
	url    string
	body   string
	resp   string
	err    error
	calls  int
}

func (t *fakeTransport) Request(_ context.Context, method, url, body string) (string, error) {
	t.calls++
	t.method = method
	t.url = url
	t.body = body
	return t.resp, t.err
}

type fakeConverter struct {
	envelope string
	err      error
	calls    int
	last     string
}

func (c *fakeConverter) ConvertMathMLToSVG(_ context.Context, mathml string) (string, error) {
	c.calls++
	c.last = mathml
	return c.envelope, c.err
}

const sampleMathML = "<math><mi>x</mi></math>"

func testConfig() services.Config {
	return services.Config{
		IntegrationPath:  "https://backend/app/integration",
		ServerTechnology: "tomcat-java",
	}
}

func TestInitialize_PublishesOnInit(t *testing.T) {
	d := NewDispatcher(NewDispatcherParams{Transport: &fakeTransport{}})

	var gotEvents []string
	var gotPayloads []events.Payload
	d.Bus().Subscribe(events.ListenerFunc(func(event string, payload events.Payload) {
		gotEvents = append(gotEvents, event)
		gotPayloads = append(gotPayloads, payload)
	}))

	d.Initialize(testConfig())

	if len(gotEvents) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(gotEvents))
	}
	if gotEvents[0] != events.EventInit {
		t.Errorf("expected %s, got %s", events.EventInit, gotEvents[0])
	}
	if len(gotPayloads[0]) != 0 {
		t.Errorf("expected empty payload, got %v", gotPayloads[0])
	}
}

func TestInitialize_Reentrant(t *testing.T) {
	d := NewDispatcher(NewDispatcherParams{Transport: &fakeTransport{}})

	d.Initialize(services.Config{IntegrationPath: "/first", ServerTechnology: "php", PageOrigin: "https://a"})
	d.Initialize(services.Config{IntegrationPath: "/second", ServerTechnology: "java", PageOrigin: "https://b"})

	got := d.Paths().GetPath(services.ShowImage)
	want := "https://b/second/showimage"
	if got != want {
		t.Errorf("GetPath after re-init = %q, want %q", got, want)
	}
}

func TestInvoke_ShowImageLocalConversion(t *testing.T) {
	transport := &fakeTransport{}
	conv := &fakeConverter{envelope: `{"status":"ok","result":{"format":"svg"}}`}
	d := NewDispatcher(NewDispatcherParams{Transport: transport, Converter: conv})
	d.Initialize(testConfig())

	got := d.Invoke(context.Background(), services.ShowImage, Params{ParamMathML: sampleMathML}, false)

	if got != conv.envelope {
		t.Errorf("Invoke = %q, want the converter envelope", got)
	}
	if conv.last != sampleMathML {
		t.Errorf("converter received %q, want %q", conv.last, sampleMathML)
	}
	if transport.calls != 0 {
		t.Errorf("expected no network call, transport was called %d times", transport.calls)
	}
}

func TestInvoke_ShowImageStringParams(t *testing.T) {
	transport := &fakeTransport{}
	d := NewDispatcher(NewDispatcherParams{Transport: transport, Converter: &fakeConverter{}})
	d.Initialize(testConfig())

	got := d.Invoke(context.Background(), services.ShowImage, "mml=raw-string-params", false)

	if got != `{"status":"warning"}` {
		t.Errorf("Invoke = %q, want exactly %q", got, `{"status":"warning"}`)
	}
	if transport.calls != 0 {
		t.Errorf("expected no network call, transport was called %d times", transport.calls)
	}
}

func TestInvoke_ShowImageNilParams(t *testing.T) {
	d := NewDispatcher(NewDispatcherParams{Transport: &fakeTransport{}, Converter: &fakeConverter{}})
	d.Initialize(testConfig())

	got := d.Invoke(context.Background(), services.ShowImage, nil, false)
	if got != WarningEnvelope {
		t.Errorf("Invoke = %q, want %q", got, WarningEnvelope)
	}
}

func TestInvoke_ShowImageConversionFailureDegrades(t *testing.T) {
	conv := &fakeConverter{err: errors.New("malformed MathML")}
	d := NewDispatcher(NewDispatcherParams{Transport: &fakeTransport{}, Converter: conv})
	d.Initialize(testConfig())

	// Must not panic or propagate; falls through to the warning envelope.
	got := d.Invoke(context.Background(), services.ShowImage, Params{ParamMathML: "<not valid"}, false)
	if got != WarningEnvelope {
		t.Errorf("Invoke = %q, want %q", got, WarningEnvelope)
	}
}

func TestInvoke_ShowImageNoConverterDegrades(t *testing.T) {
	d := NewDispatcher(NewDispatcherParams{Transport: &fakeTransport{}})
	d.Initialize(testConfig())

	got := d.Invoke(context.Background(), services.ShowImage, Params{ParamMathML: sampleMathML}, false)
	if got != WarningEnvelope {
		t.Errorf("Invoke = %q, want %q", got, WarningEnvelope)
	}
}

func TestInvoke_ShowImageStructuredWithoutMathMLGoesRemote(t *testing.T) {
	transport := &fakeTransport{resp: `{"status":"ok"}`}
	d := NewDispatcher(NewDispatcherParams{Transport: transport, Converter: &fakeConverter{}})
	d.Initialize(testConfig())

	got := d.Invoke(context.Background(), services.ShowImage, Params{"formula": "digest-123"}, false)

	if transport.calls != 1 {
		t.Fatalf("expected 1 network call, got %d", transport.calls)
	}
	if got != `{"status":"ok"}` {
		t.Errorf("Invoke = %q, want the backend body", got)
	}
}

func TestInvoke_GetAppendsQueryString(t *testing.T) {
	transport := &fakeTransport{resp: "{}"}
	d := NewDispatcher(NewDispatcherParams{Transport: transport})
	d.Initialize(testConfig())

	d.Invoke(context.Background(), services.GetMathML, Params{"digest": "abc"}, true)

	if transport.method != "GET" {
		t.Errorf("method = %q, want GET", transport.method)
	}
	want := "https://backend/app/integration/getmathml?digest=abc"
	if transport.url != want {
		t.Errorf("url = %q, want %q", transport.url, want)
	}
	if transport.body != "" {
		t.Errorf("GET must not send a body, got %q", transport.body)
	}
}

func TestInvoke_PostSendsEncodedBody(t *testing.T) {
	transport := &fakeTransport{resp: "{}"}
	d := NewDispatcher(NewDispatcherParams{Transport: transport})
	d.Initialize(testConfig())

	d.Invoke(context.Background(), services.CreateImage, Params{"mml": sampleMathML, "lang": "en"}, false)

	if transport.method != "POST" {
		t.Errorf("method = %q, want POST", transport.method)
	}
	if transport.url != "https://backend/app/integration/createimage" {
		t.Errorf("url = %q", transport.url)
	}
	if !strings.Contains(transport.body, "lang=en") || !strings.Contains(transport.body, "mml=") {
		t.Errorf("body = %q, want url-encoded parameters", transport.body)
	}
}

func TestInvoke_PostStringParamsPassThrough(t *testing.T) {
	transport := &fakeTransport{resp: "{}"}
	d := NewDispatcher(NewDispatcherParams{Transport: transport})
	d.Initialize(testConfig())

	d.Invoke(context.Background(), services.Generic, "already=encoded&body=1", false)

	if transport.body != "already=encoded&body=1" {
		t.Errorf("body = %q, want the pre-serialized string unchanged", transport.body)
	}
}

func TestInvoke_PostRelativeURIResolvesAgainstDocumentBase(t *testing.T) {
	transport := &fakeTransport{resp: "{}"}
	d := NewDispatcher(NewDispatcherParams{Transport: transport})
	cfg := services.Config{
		IntegrationPath:  "integration",
		ServerTechnology: "php",
		DocumentBase:     "https://example.com/editor/",
	}
	d.Initialize(cfg)

	d.Invoke(context.Background(), services.CreateImage, Params{"mml": sampleMathML}, false)

	want := "https://example.com/editor/integration/createimage.php"
	if transport.url != want {
		t.Errorf("url = %q, want %q", transport.url, want)
	}
}

func TestInvoke_TransportFailureReturnsEmpty(t *testing.T) {
	transport := &fakeTransport{err: errors.New("connection refused")}
	d := NewDispatcher(NewDispatcherParams{Transport: transport})
	d.Initialize(testConfig())

	got := d.Invoke(context.Background(), services.CreateImage, Params{"mml": sampleMathML}, false)
	if got != "" {
		t.Errorf("Invoke = %q, want empty body on transport failure", got)
	}
}

func TestInvoke_UnknownServiceDegrades(t *testing.T) {
	transport := &fakeTransport{err: errors.New("unsupported protocol scheme")}
	d := NewDispatcher(NewDispatcherParams{Transport: transport})
	d.Initialize(testConfig())

	got := d.Invoke(context.Background(), services.Name("nosuchservice"), nil, true)
	if got != "" {
		t.Errorf("Invoke = %q, want empty body", got)
	}
	if transport.url != "" {
		t.Errorf("expected dispatch to the unregistered (empty) URI, got %q", transport.url)
	}
}

func TestInvoke_PublishesDispatchEvent(t *testing.T) {
	conv := &fakeConverter{envelope: `{"status":"ok"}`}
	d := NewDispatcher(NewDispatcherParams{Transport: &fakeTransport{resp: "{}"}, Converter: conv})
	d.Initialize(testConfig())

	var origins []string
	d.Bus().Subscribe(events.ListenerFunc(func(event string, payload events.Payload) {
		if event == events.EventDispatch {
			origins = append(origins, payload["origin"].(string))
		}
	}))

	d.Invoke(context.Background(), services.ShowImage, Params{ParamMathML: sampleMathML}, false)
	d.Invoke(context.Background(), services.CreateImage, Params{"mml": sampleMathML}, false)

	if len(origins) != 2 {
		t.Fatalf("expected 2 dispatch events, got %d", len(origins))
	}
	if origins[0] != events.OriginLocal {
		t.Errorf("first origin = %q, want %q", origins[0], events.OriginLocal)
	}
	if origins[1] != events.OriginRemote {
		t.Errorf("second origin = %q, want %q", origins[1], events.OriginRemote)
	}
}

func TestInvoke_CachedConversion(t *testing.T) {
	conv := &fakeConverter{envelope: `{"status":"ok"}`}
	store := cache.NewMemoryStore()
	d := NewDispatcher(NewDispatcherParams{Transport: &fakeTransport{}, Converter: conv, Store: store})
	d.Initialize(testConfig())

	first := d.Invoke(context.Background(), services.ShowImage, Params{ParamMathML: sampleMathML}, false)
	second := d.Invoke(context.Background(), services.ShowImage, Params{ParamMathML: sampleMathML}, false)

	if first != second {
		t.Errorf("cached envelope differs: %q vs %q", first, second)
	}
	if conv.calls != 1 {
		t.Errorf("converter called %d times, want 1 (second hit served from cache)", conv.calls)
	}
}

func TestVerifyBackend(t *testing.T) {
	tests := []struct {
		name     string
		resp     string
		err      error
		wantCode string
	}{
		{"compatible", `{"version":"7.24.1"}`, nil, ""},
		{"incompatible", `{"version":"6.9.0"}`, nil, "INCOMPATIBLE_BACKEND"},
		{"invalid json", `<html>not json</html>`, nil, "BAD_CONFIGURATION"},
		{"no version", `{}`, nil, "BAD_CONFIGURATION"},
		{"unreachable", "", errors.New("connection refused"), "BACKEND_UNREACHABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(NewDispatcherParams{Transport: &fakeTransport{resp: tt.resp, err: tt.err}})
			d.Initialize(testConfig())

			err := d.VerifyBackend(context.Background(), ">=7.0.0")
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("VerifyBackend unexpected error: %v", err)
				}
				return
			}
			var dispatchErr *DispatchError
			if !errors.As(err, &dispatchErr) {
				t.Fatalf("expected DispatchError, got %v", err)
			}
			if dispatchErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", dispatchErr.Code, tt.wantCode)
			}
		})
	}
}
