// Package main is the entrypoint for the render-dispatcher binary.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/mathbridge/render-dispatcher/internal/config"
	"github.com/mathbridge/render-dispatcher/internal/server"
	"github.com/mathbridge/render-dispatcher/pkg/cache"
	"github.com/mathbridge/render-dispatcher/pkg/converter"
	"github.com/mathbridge/render-dispatcher/pkg/dispatcher"
	"github.com/mathbridge/render-dispatcher/pkg/services"
)

const usage = `Usage: render-dispatcher [command]
       render-dispatcher serve           Start the render proxy (HTTP, cache, COMMS bridge).
       render-dispatcher cache ensure    Create the render cache schema if missing.
       render-dispatcher render [file]   Render MathML from a file (or stdin) and print the envelope.

Commands:
  serve          (default) Start the render proxy.
  cache ensure   Create the render_cache table on CACHE_URL.
  render [file]  One-shot local conversion; reads MathML from the file or stdin.

Environment: INTEGRATION_PATH, SERVER_TECHNOLOGY, ENGINE_WASM_PATH (required for
serve/render), CACHE_URL, COMMS_URL, DISPATCHER_HTTP_ADDR (default 0.0.0.0:8080).
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "cache":
		if len(args) < 2 || args[1] != "ensure" {
			log.Fatalf("render-dispatcher cache: require subcommand (ensure)")
		}
		if err := runCacheEnsure(); err != nil {
			log.Fatalf("render-dispatcher cache ensure: %v", err)
		}
		return
	case "render":
		file := ""
		if len(args) > 1 {
			file = args[1]
		}
		if err := runRender(file); err != nil {
			log.Fatalf("render-dispatcher render: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("render-dispatcher: %v", err)
	}
}

func runCacheEnsure() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForCache(); err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := cache.NewPool(ctx, cfg.CacheURL)
	if err != nil {
		return fmt.Errorf("connect cache: %w", err)
	}
	defer pool.Close()

	if err := cache.Ensure(ctx, pool); err != nil {
		return err
	}
	fmt.Println("Render cache schema ensured.")
	return nil
}

func runRender(file string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.EngineWasmPath == "" {
		return fmt.Errorf("ENGINE_WASM_PATH is required for render")
	}

	var source []byte
	if file == "" || file == "-" {
		source, err = io.ReadAll(os.Stdin)
	} else {
		source, err = os.ReadFile(file)
	}
	if err != nil {
		return fmt.Errorf("read MathML: %w", err)
	}

	ctx := context.Background()
	engine, err := converter.NewWasmEngine(ctx, converter.WasmEngineOptions{
		WasmPath: cfg.EngineWasmPath,
		PoolSize: 1,
	})
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer engine.Close()

	d := dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
		Converter: converter.New(engine),
	})
	d.Initialize(services.Config{
		IntegrationPath:  cfg.IntegrationPath,
		ServerTechnology: cfg.ServerTechnology,
		PageOrigin:       cfg.PageOrigin,
		DocumentBase:     cfg.DocumentBase,
	})

	envelope := d.Invoke(ctx, services.ShowImage, dispatcher.Params{dispatcher.ParamMathML: string(source)}, false)
	fmt.Println(envelope)
	return nil
}
