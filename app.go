package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/kwv/noisegraph/noise"
	"github.com/rs/zerolog"
)

// AppOptions are the CLI switches that select what a process does.
type AppOptions struct {
	ConfigFile string
	Run        bool
	Fetch      bool
	Render     bool
	Serve      bool
	Debug      bool
	HTTPPort   int
}

// App encapsulates the application state and dependencies
type App struct {
	Config    *noise.Config
	Logger    zerolog.Logger
	Store     *noise.Store
	Metrics   *noise.Metrics
	Publisher *noise.Publisher
	State     *noise.StateTracker
	Fetcher   *noise.Fetcher

	Options AppOptions

	now   func() time.Time
	runID func() string
}

// NewApp creates an App for a loaded config. Outputs are opened by Open.
func NewApp(cfg *noise.Config, logger zerolog.Logger) *App {
	return &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   noise.NewMetrics(nil),
		Publisher: noise.NewPublisher(nil, cfg.MQTT.PublishPrefix, logger),
		State:     noise.NewStateTracker(),
		Fetcher:   noise.NewFetcher(logger),
		now:       time.Now,
		runID:     func() string { return uuid.NewString() },
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.Options = opts
	if opts.HTTPPort > 0 {
		a.Config.HTTP.Port = opts.HTTPPort
	}
	if opts.Debug && a.Config.Output.DebugDir == "" {
		a.Config.Output.DebugDir = "debug"
	}
	if opts.Render && a.Config.Output.Map == "" {
		a.Config.Output.Map = "noise-map.svg"
	}
}

// Open connects the optional sinks: the SQLite store and the MQTT broker.
func (a *App) Open() error {
	if path := a.Config.Output.Database; path != "" {
		store, err := noise.OpenStore(path, a.Logger)
		if err != nil {
			return err
		}
		if err := store.MigrateUp(); err != nil {
			_ = store.Close()
			return err
		}
		a.Store = store
		a.Logger.Info().Str("path", path).Msg("store ready")
	}

	client, err := noise.NewMQTTClient(a.Config.MQTT, a.Logger)
	if err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if client != nil {
		a.Publisher = noise.NewPublisher(client, a.Config.MQTT.PublishPrefix, a.Logger)
	}
	return nil
}

// Close releases the sinks opened by Open.
func (a *App) Close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("closing store")
		}
	}
}

// Fetch downloads every layer that has a WFS source.
func (a *App) Fetch(ctx context.Context) error {
	n, err := a.Fetcher.FetchAll(ctx, a.Config.Layers)
	if err != nil {
		return err
	}
	a.Logger.Info().Int("layers", n).Msg("fetch complete")
	return nil
}

// RunPipeline loads the input, runs every stage and writes the configured
// outputs. Setup errors abort; integrity issues are logged and the run is kept.
func (a *App) RunPipeline(ctx context.Context) (*noise.Result, error) {
	start := a.now()

	in, load, err := noise.LoadInput(a.Config)
	if err != nil {
		return nil, err
	}
	for _, name := range load.Absent {
		a.Logger.Warn().Str("layer", name).Msg("optional layer file not found, skipped")
	}
	for name, s := range load.Layers {
		a.Logger.Debug().Str("layer", name).
			Int("features", s.Features).
			Int("polygons", s.Polygons).
			Int("exploded", s.Exploded).
			Int("skipped_geometry", s.SkippedGeometry).
			Int("skipped_value", s.SkippedValue).
			Msg("layer loaded")
	}

	params := a.Config.Pipeline
	params.KeepStages = a.Config.Output.DebugDir != ""
	pipeline, err := noise.NewPipeline(params)
	if err != nil {
		return nil, err
	}
	result, err := pipeline.Run(in)
	if err != nil {
		return nil, err
	}

	runID := a.runID()
	at := a.now()
	a.logDiagnostics(runID, result.Diagnostics)

	if err := a.writeOutputs(ctx, runID, at, in.Edges, result); err != nil {
		return result, err
	}

	a.Metrics.Observe(result, at.Sub(start), at)
	if path := a.Config.Output.Metrics; path != "" {
		if err := a.Metrics.WriteTextfile(path); err != nil {
			return result, err
		}
	}

	a.State.Update(runID, at, in.Edges, result)
	if a.Publisher.Enabled() {
		snap, _ := a.State.Latest()
		if err := a.Publisher.PublishSummary(snap.Summary, result.Profiles); err != nil {
			a.Logger.Error().Err(err).Msg("publishing run summary")
		}
	}

	a.Logger.Info().Str("run_id", runID).
		Int("profiles", len(result.Profiles)).
		Int("issues", len(result.Diagnostics.Issues)).
		Dur("elapsed", a.now().Sub(start)).
		Msg("run complete")
	return result, nil
}

func (a *App) logDiagnostics(runID string, d noise.Diagnostics) {
	a.Logger.Info().Str("run_id", runID).
		Int("edges", d.Sampling.Edges).
		Int("sampled_edges", d.Sampling.SampledEdges).
		Int("skipped_edges", len(d.Sampling.Skipped)).
		Int("sample_points", d.Sampling.Points).
		Float64("points_per_edge", d.Sampling.PointsPerEdge()).
		Int("unique_points", d.UniquePoints).
		Int("zone_points", d.ZonePoints).
		Int("missing_points", d.MissingPoints).
		Int("flagged_points", d.FlaggedPoints).
		Int("conflict_points", d.ConflictPoints()).
		Msg("sampling and join")

	for _, s := range d.Join {
		ev := a.Logger.Debug()
		if s.Conflicts > 0 {
			ev = a.Logger.Warn()
		}
		ev.Str("layer", s.Layer).
			Int("matched", s.Matched).
			Int("conflicts", s.Conflicts).
			Float64("conflict_ratio", s.ConflictRatio()).
			Msg("layer join")
	}

	a.Logger.Info().
		Int("centers", d.Ring.Centers).
		Int("ring_points", d.Ring.Points).
		Int("repaired", d.Ring.Repaired).
		Int("unrepaired", d.Ring.Unrepaired).
		Int("merged", d.Merge.Merged).
		Int("profiled_edges", d.Profiles.Edges).
		Msg("repair and aggregate")

	for _, issue := range d.Issues {
		a.Logger.Error().Str("run_id", runID).Msg(issue)
	}
}

func (a *App) writeOutputs(ctx context.Context, runID string, at time.Time, edges []noise.Edge, r *noise.Result) error {
	out := a.Config.Output

	if out.Profiles != "" {
		fc := noise.ProfilesToFeatureCollection(edges, r.Profiles)
		if err := noise.WriteFeatureCollection(out.Profiles, fc); err != nil {
			return err
		}
		a.Logger.Info().Str("path", out.Profiles).Int("features", len(fc.Features)).Msg("profiles written")
	}

	if out.DebugDir != "" {
		if err := noise.WriteDebugLayers(out.DebugDir, r.Stages); err != nil {
			return err
		}
		a.Logger.Info().Str("dir", out.DebugDir).Msg("debug layers written")
	}

	if a.Store != nil {
		run := noise.Run{
			ID:        runID,
			CreatedAt: at,
			Params:    a.Config.Pipeline,
			Summary:   noise.Summarize(runID, at, r),
			Profiles:  r.Profiles,
		}
		if err := a.Store.SaveRun(ctx, run); err != nil {
			return err
		}
		a.Logger.Info().Str("run_id", runID).Msg("run stored")
	}

	if a.Options.Render && out.Map != "" {
		if err := renderMapFile(out.Map, edges, r.Profiles); err != nil {
			return err
		}
		a.Logger.Info().Str("path", out.Map).Msg("band map written")
	}
	return nil
}

// Serve runs the inspection server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", a.Config.HTTP.Port),
		Handler:           newHTTPServer(a.Config.HTTP, a.State, a.Metrics, a.Logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info().Str("addr", srv.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down HTTP server: %w", err)
	}
	a.Logger.Info().Msg("HTTP server stopped")
	return nil
}

func renderMapFile(path string, edges []noise.Edge, profiles []noise.EdgeNoiseProfile) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating map file: %w", err)
	}
	r := noise.NewBandRenderer(edges, profiles)
	if isPNG(path) {
		err = r.RenderToPNG(f)
	} else {
		err = r.RenderToSVG(f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("rendering %s: %w", path, err)
	}
	return nil
}
