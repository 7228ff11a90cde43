package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/kwv/noisegraph/noise"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	runOnce    = flag.Bool("run", false, "Run the pipeline once and write outputs (default)")
	fetchWFS   = flag.Bool("fetch", false, "Download layers with a wfs source before anything else")
	renderMap  = flag.Bool("render", false, "Render the band map to output.map")
	serveMode  = flag.Bool("serve", false, "Run the pipeline, then serve results over HTTP")
	httpPort   = flag.Int("http-port", 0, "HTTP server port (overrides http.port)")
	debugMode  = flag.Bool("debug", false, "Write intermediate point layers to output.debugDir")
)

func main() {
	flag.Parse()
	os.Exit(run(AppOptions{
		ConfigFile: *configFile,
		Run:        *runOnce,
		Fetch:      *fetchWFS,
		Render:     *renderMap,
		Serve:      *serveMode,
		Debug:      *debugMode,
		HTTPPort:   *httpPort,
	}))
}

// run executes one CLI invocation and returns the process exit code.
func run(opts AppOptions) int {
	cfg, err := noise.LoadConfig(opts.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "noisegraph: failed to load config: %v (looked at %s)\n", err, opts.ConfigFile)
		return 2
	}
	logger := newLogger(cfg.Log, os.Stderr)
	logger.Info().Str("version", Version).Str("config", opts.ConfigFile).Msg("noisegraph starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(cfg, logger)
	app.ApplyOptions(opts)

	if opts.Fetch {
		if err := app.Fetch(ctx); err != nil {
			logger.Error().Err(err).Msg("fetch failed")
			return 1
		}
		if !opts.Run && !opts.Serve && !opts.Render {
			return 0
		}
	}

	if err := app.Open(); err != nil {
		logger.Error().Err(err).Msg("opening outputs")
		return 1
	}
	defer app.Close()

	if _, err := app.RunPipeline(ctx); err != nil {
		logger.Error().Err(err).Msg("run failed")
		return 1
	}

	if opts.Serve {
		if err := app.Serve(ctx); err != nil {
			logger.Error().Err(err).Msg("HTTP server error")
			return 1
		}
	}
	return 0
}

func isPNG(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".png")
}
