// Package server orchestrates the dispatcher components: logging, COMMS
// bridge, render cache, typesetting engine and the HTTP render surface.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/mathbridge/render-dispatcher/internal/config"
	"github.com/mathbridge/render-dispatcher/pkg/cache"
	"github.com/mathbridge/render-dispatcher/pkg/commsutil"
	"github.com/mathbridge/render-dispatcher/pkg/converter"
	"github.com/mathbridge/render-dispatcher/pkg/dispatcher"
	"github.com/mathbridge/render-dispatcher/pkg/events"
	"github.com/mathbridge/render-dispatcher/pkg/services"
)

const logPrefix = "server:server"

// Server is the render-dispatcher orchestrator.
type Server struct {
	cfg        *config.Config
	nc         *comms.Conn
	pool       *pgxpool.Pool
	engine     *converter.WasmEngine
	httpServer *http.Server
	disp       *dispatcher.Dispatcher
}

// Run starts the render proxy, blocks until shutdown signal, then cleans up.
func Run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	setupLogging(cfg.LogLevel)

	slog.Info(fmt.Sprintf("%s - Starting render-dispatcher", logPrefix))

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Server{cfg: cfg}

	// Step 1: Event bus, with an optional COMMS bridge
	bus := events.NewBus()
	if cfg.COMMSURL != "" {
		nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
		if err != nil {
			return fmt.Errorf("%s - failed to connect to COMMS: %w", logPrefix, err)
		}
		s.nc = nc
		publisher := events.NewCommsPublisher(nc, &events.CommsPublisherOpts{GlobalEventSubject: cfg.EventSubject})
		bus.Subscribe(events.NewBridge(publisher))
		slog.Info(fmt.Sprintf("%s - Lifecycle events bridged to COMMS at %s", logPrefix, cfg.COMMSURL))
	}

	// Step 2: Render cache
	var store cache.Store
	if cfg.CacheURL != "" {
		pool, err := cache.NewPool(ctx, cfg.CacheURL)
		if err != nil {
			s.closeComms()
			return fmt.Errorf("%s - failed to connect to cache: %w", logPrefix, err)
		}
		s.pool = pool
		if err := cache.Ensure(ctx, pool); err != nil {
			s.closeAll()
			return err
		}
		store = cache.NewPGStore(pool)
	} else {
		store = cache.NewMemoryStore()
		slog.Info(fmt.Sprintf("%s - CACHE_URL not set, using in-memory render cache", logPrefix))
	}

	// Step 3: Typesetting engine
	engine, err := converter.NewWasmEngine(ctx, converter.WasmEngineOptions{
		WasmPath: cfg.EngineWasmPath,
		PoolSize: cfg.EnginePoolSize,
	})
	if err != nil {
		s.closeAll()
		return fmt.Errorf("%s - failed to start typesetting engine: %w", logPrefix, err)
	}
	s.engine = engine

	// Step 4: Dispatcher
	s.disp = dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Bus:       bus,
		Converter: converter.New(engine),
		Store:     store,
	})
	s.disp.Initialize(services.Config{
		IntegrationPath:  cfg.IntegrationPath,
		ServerTechnology: cfg.ServerTechnology,
		PageOrigin:       cfg.PageOrigin,
		DocumentBase:     cfg.DocumentBase,
	})

	// Step 5: Backend compatibility check (reported, never fatal)
	if cfg.MinBackendVersion != "" {
		if err := s.disp.VerifyBackend(ctx, cfg.MinBackendVersion); err != nil {
			slog.Warn(fmt.Sprintf("%s - backend compatibility check failed: %v", logPrefix, err))
		}
	}

	// Step 6: HTTP surface
	s.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: newMux(s.disp),
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP listening on %s", logPrefix, cfg.HTTPAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		slog.Info(fmt.Sprintf("%s - Received %s, shutting down", logPrefix, sig))
	case err := <-errCh:
		s.closeAll()
		return fmt.Errorf("%s - HTTP server failed: %w", logPrefix, err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}
	s.closeAll()

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func (s *Server) closeComms() {
	if s.nc != nil {
		s.nc.Close()
	}
}

func (s *Server) closeAll() {
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			slog.Warn(fmt.Sprintf("%s - engine close: %v", logPrefix, err))
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	s.closeComms()
}

// newMux builds the HTTP surface: POST /render dispatches the show-image
// service, GET /health reports liveness.
func newMux(d *dispatcher.Dispatcher) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/render", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		mathml, err := readMathML(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		var params any
		if mathml != "" {
			params = dispatcher.Params{dispatcher.ParamMathML: mathml}
		}
		envelope := d.Invoke(r.Context(), services.ShowImage, params, false)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, envelope)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"ok"}`)
	})
	return mux
}

// readMathML pulls the MathML source from a JSON body ({"mml": ...}) or a
// url-encoded form (mml=...), matching the two ways editor frontends submit.
func readMathML(r *http.Request) (string, error) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var body struct {
			MathML string `json:"mml"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return "", fmt.Errorf("invalid JSON body: %w", err)
		}
		return body.MathML, nil
	}

	if err := r.ParseForm(); err != nil {
		return "", fmt.Errorf("invalid form body: %w", err)
	}
	return r.PostFormValue(dispatcher.ParamMathML), nil
}
