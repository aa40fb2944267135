package converter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

const wasmLogPrefix = "converter:wasm"

// ErrEngineShutdown is returned for renders issued against a closed engine.
var ErrEngineShutdown = errors.New("typesetting engine is shutting down")

// renderRequest and renderResponse form the JSON-line protocol spoken with the
// wasm typesetting module over its stdin/stdout. The ID correlates responses
// with in-flight requests and must be unique within the pending window.
type renderRequest struct {
	ID     uint32 `json:"id"`
	MathML string `json:"mathml"`
}

type renderResponse struct {
	ID     uint32 `json:"id"`
	SVG    string `json:"svg"`
	Width  string `json:"width"`
	Height string `json:"height"`
	Error  string `json:"error,omitempty"`
}

// WasmEngineOptions configures a WasmEngine.
type WasmEngineOptions struct {
	// WasmPath is the filesystem path of the WASI typesetting module.
	WasmPath string
	// PoolSize is the number of module instances renders round-robin over.
	// Defaults to 1.
	PoolSize int
	// RenderTimeout bounds a single render. Defaults to 30 seconds.
	RenderTimeout time.Duration
}

// WasmEngine runs a WASI typesetting module (MathML in, SVG out) under wazero.
// Requests are multiplexed over a pool of module instances; each instance
// speaks the JSON-line protocol over its stdin/stdout.
type WasmEngine struct {
	counter   atomic.Uint32
	ids       atomic.Uint32
	instances []*wasmInstance
	timeout   time.Duration
}

// NewWasmEngine compiles the wasm module at opts.WasmPath and starts the
// instance pool.
func NewWasmEngine(ctx context.Context, opts WasmEngineOptions) (*WasmEngine, error) {
	if opts.PoolSize == 0 {
		opts.PoolSize = 1
	}
	if opts.RenderTimeout == 0 {
		opts.RenderTimeout = 30 * time.Second
	}

	source, err := os.ReadFile(opts.WasmPath)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read module: %w", wasmLogPrefix, err)
	}

	runtimeConfig := wazero.NewRuntimeConfig().WithCompilationCache(wazero.NewCompilationCache())
	// Compiled modules can be shared across runtimes.
	r := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	compiled, err := r.CompileModule(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to compile module: %w", wasmLogPrefix, err)
	}

	e := &WasmEngine{
		instances: make([]*wasmInstance, opts.PoolSize),
		timeout:   opts.RenderTimeout,
	}
	for i := 0; i < opts.PoolSize; i++ {
		inst, err := newWasmInstance(ctx, runtimeConfig, compiled)
		if err != nil {
			e.Close()
			return nil, err
		}
		e.instances[i] = inst
	}
	return e, nil
}

// Render sends the MathML to an instance and blocks until it responds.
func (e *WasmEngine) Render(ctx context.Context, mathml string) (*SVG, error) {
	inst := e.instances[int(e.counter.Add(1))%len(e.instances)]

	id := e.ids.Add(1)
	if id == 0 {
		id = e.ids.Add(1)
	}

	call, err := inst.newCall(renderRequest{ID: id, MathML: mathml})
	if err != nil {
		return nil, err
	}
	if err := inst.send(call); err != nil {
		inst.drop(id)
		return nil, err
	}

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case <-call.done:
	case <-ctx.Done():
		inst.drop(id)
		return nil, ctx.Err()
	case <-timer.C:
		inst.drop(id)
		return nil, fmt.Errorf("%s - render timed out after %s", wasmLogPrefix, e.timeout)
	}

	if call.err != nil {
		return nil, call.err
	}
	if call.response.Error != "" {
		return nil, fmt.Errorf("%s - engine error: %s", wasmLogPrefix, call.response.Error)
	}
	return &SVG{
		OuterMarkup: call.response.SVG,
		Width:       call.response.Width,
		Height:      call.response.Height,
	}, nil
}

// Close shuts down every instance.
func (e *WasmEngine) Close() error {
	for _, inst := range e.instances {
		if inst == nil {
			continue
		}
		if err := inst.close(); err != nil {
			return err
		}
	}
	return nil
}

type renderCall struct {
	request  renderRequest
	response renderResponse
	err      error
	done     chan struct{}
}

type wasmInstance struct {
	mu    sync.Mutex
	encMu sync.Mutex

	pending map[uint32]*renderCall

	stdin  pipeReadWriteCloser
	stdout pipeReadWriteCloser
	enc    *json.Encoder
	dec    *json.Decoder

	closing  bool
	shutdown bool

	close func() error
}

func newWasmInstance(ctx context.Context, runtimeConfig wazero.RuntimeConfig, compiled wazero.CompiledModule) (*wasmInstance, error) {
	r := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	// Instantiate WASI, which implements the system I/O the module's
	// stdin/stdout loop runs on.
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return nil, fmt.Errorf("%s - failed to instantiate WASI: %w", wasmLogPrefix, err)
	}

	stdin := newPipeReadWriteCloser()
	stdout := newPipeReadWriteCloser()
	config := wazero.NewModuleConfig().WithStdin(stdin).WithStdout(stdout).WithStderr(os.Stderr)

	done := make(chan struct{})
	go func() {
		// This blocks until stdin is closed.
		if _, err := r.InstantiateModule(ctx, compiled, config.WithName("typesetter")); err != nil {
			panic(err)
		}
		close(done)
	}()

	var inst *wasmInstance

	closeFn := func() error {
		inst.mu.Lock()
		inst.closing = true
		inst.mu.Unlock()

		if err := stdin.Close(); err != nil {
			return err
		}
		if err := stdout.Close(); err != nil {
			return err
		}

		// Wait for the module instance to finish before closing the runtime.
		<-done

		return r.Close(ctx)
	}

	inst = &wasmInstance{
		pending: make(map[uint32]*renderCall),
		stdin:   stdin,
		stdout:  stdout,
		enc:     json.NewEncoder(stdin),
		dec:     json.NewDecoder(stdout),
		close:   closeFn,
	}

	go inst.input()

	return inst, nil
}

func (inst *wasmInstance) newCall(req renderRequest) (*renderCall, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.shutdown || inst.closing {
		return nil, ErrEngineShutdown
	}
	call := &renderCall{request: req, done: make(chan struct{})}
	inst.pending[req.ID] = call
	return call, nil
}

func (inst *wasmInstance) send(call *renderCall) error {
	inst.mu.Lock()
	if inst.shutdown || inst.closing {
		inst.mu.Unlock()
		return ErrEngineShutdown
	}
	inst.mu.Unlock()

	inst.encMu.Lock()
	defer inst.encMu.Unlock()
	return inst.enc.Encode(call.request)
}

func (inst *wasmInstance) drop(id uint32) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	delete(inst.pending, id)
}

// input reads responses off the module's stdout and completes pending calls.
// When the stream ends, every still-pending call fails.
func (inst *wasmInstance) input() {
	var inputErr error

	for inst.dec.More() {
		var resp renderResponse
		if err := inst.dec.Decode(&resp); err != nil {
			inputErr = err
			break
		}

		inst.mu.Lock()
		call, found := inst.pending[resp.ID]
		if found {
			delete(inst.pending, resp.ID)
		}
		inst.mu.Unlock()
		if !found {
			// Response for a call that timed out or was cancelled.
			continue
		}
		call.response = resp
		close(call.done)
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.shutdown = true
	if inputErr != nil {
		if errors.Is(inputErr, io.EOF) || inst.closing {
			inputErr = ErrEngineShutdown
		}
	} else {
		inputErr = ErrEngineShutdown
	}
	for _, call := range inst.pending {
		call.err = inputErr
		close(call.done)
	}
	inst.pending = make(map[uint32]*renderCall)
}

type pipeReadWriteCloser struct {
	*io.PipeReader
	*io.PipeWriter
}

func newPipeReadWriteCloser() pipeReadWriteCloser {
	pr, pw := io.Pipe()
	return pipeReadWriteCloser{pr, pw}
}

func (c pipeReadWriteCloser) Close() error {
	if err := c.PipeReader.Close(); err != nil {
		return err
	}
	return c.PipeWriter.Close()
}
