package main

import (
	"bytes"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/kwv/noisegraph/noise"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
)

func testServer(t *testing.T, withRun bool) (*httptest.Server, *noise.StateTracker) {
	t.Helper()
	return testServerWith(t, noise.DefaultConfig().HTTP, withRun)
}

func testServerWith(t *testing.T, cfg noise.HTTPConfig, withRun bool) (*httptest.Server, *noise.StateTracker) {
	t.Helper()
	state := noise.NewStateTracker()
	metrics := noise.NewMetrics(nil)

	if withRun {
		in := noise.Input{
			Edges: []noise.Edge{
				{ID: 1, Geometry: orb.LineString{{0, 0}, {9, 0}}},
				{ID: 2, Geometry: orb.LineString{{0, 100}, {21, 100}}},
			},
			Layers: []noise.NoiseLayer{{
				Name: "road",
				Polygons: []noise.NoisePolygon{{
					Geometry: orb.Polygon{{{-1, -1}, {10, -1}, {10, 1}, {-1, 1}, {-1, -1}}},
					DB:       55,
				}},
			}},
		}
		p, err := noise.NewPipeline(noise.DefaultParams())
		if err != nil {
			t.Fatal(err)
		}
		result, err := p.Run(in)
		if err != nil {
			t.Fatal(err)
		}
		at := time.Unix(1700000000, 0)
		state.Update("run-1", at, in.Edges, result)
		metrics.Observe(result, time.Second, at)
	}

	server := httptest.NewServer(newHTTPServer(cfg, state, metrics, zerolog.Nop()))
	t.Cleanup(server.Close)
	return server, state
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading %s: %v", url, err)
	}
	return resp, body
}

func TestHandlers_NoRunYet(t *testing.T) {
	server, _ := testServer(t, false)

	for _, path := range []string{"/profiles", "/profiles/1", "/diagnostics", "/map.svg", "/map.png"} {
		resp, _ := get(t, server.URL+path)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, resp.StatusCode)
		}
	}

	resp, body := get(t, server.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/health status = %d", resp.StatusCode)
	}
	var health struct {
		Status string `json:"status"`
		HasRun bool   `json:"hasRun"`
	}
	if err := json.Unmarshal(body, &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.HasRun {
		t.Errorf("health = %+v", health)
	}
}

func TestHandlers_Profiles(t *testing.T) {
	server, _ := testServer(t, true)

	resp, body := get(t, server.URL+"/profiles")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var list struct {
		RunID    string                   `json:"runId"`
		Profiles []noise.EdgeNoiseProfile `json:"profiles"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if list.RunID != "run-1" || len(list.Profiles) != 2 {
		t.Errorf("profiles response = %+v", list)
	}

	resp, body = get(t, server.URL+"/profiles/1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/profiles/1 status = %d", resp.StatusCode)
	}
	var p noise.EdgeNoiseProfile
	if err := json.Unmarshal(body, &p); err != nil {
		t.Fatal(err)
	}
	if p.EdgeID != 1 || p.Bands[55] != 9 {
		t.Errorf("profile = %+v", p)
	}
}

func TestHandlers_ProfileErrors(t *testing.T) {
	server, _ := testServer(t, true)

	tests := map[string]int{
		"/profiles/abc": http.StatusBadRequest,
		"/profiles/42":  http.StatusNotFound,
		"/nothing":      http.StatusNotFound,
	}
	for path, want := range tests {
		resp, _ := get(t, server.URL+path)
		if resp.StatusCode != want {
			t.Errorf("%s status = %d, want %d", path, resp.StatusCode, want)
		}
	}
}

func TestHandlers_Diagnostics(t *testing.T) {
	server, _ := testServer(t, true)

	_, body := get(t, server.URL+"/diagnostics")
	var diag struct {
		Summary     noise.Summary     `json:"summary"`
		Diagnostics noise.Diagnostics `json:"diagnostics"`
	}
	if err := json.Unmarshal(body, &diag); err != nil {
		t.Fatal(err)
	}
	if diag.Summary.RunID != "run-1" || diag.Summary.Profiles != 2 {
		t.Errorf("summary = %+v", diag.Summary)
	}
	if diag.Diagnostics.Sampling.Points != 10 || diag.Diagnostics.MissingPoints != 7 {
		t.Errorf("diagnostics = %+v", diag.Diagnostics)
	}
}

func TestHandlers_Maps(t *testing.T) {
	server, _ := testServer(t, true)

	resp, body := get(t, server.URL+"/map.svg")
	if resp.Header.Get("Content-Type") != "image/svg+xml" || !strings.Contains(string(body), "<svg") {
		t.Errorf("map.svg: %s %.60s", resp.Header.Get("Content-Type"), body)
	}

	resp, body = get(t, server.URL+"/map.png")
	if resp.Header.Get("Content-Type") != "image/png" {
		t.Errorf("map.png Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if _, err := png.Decode(bytes.NewReader(body)); err != nil {
		t.Errorf("map.png does not decode: %v", err)
	}
}

func TestHandlers_Metrics(t *testing.T) {
	server, _ := testServer(t, true)

	resp, body := get(t, server.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "noisegraph_runs_total 1") {
		t.Errorf("metrics missing run counter:\n%s", body)
	}
}

func TestHandlers_CORS(t *testing.T) {
	server, _ := testServerWith(t, noise.HTTPConfig{CORSOrigins: []string{"https://maps.example.org"}}, true)

	req, err := http.NewRequest(http.MethodGet, server.URL+"/profiles", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "https://maps.example.org")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://maps.example.org" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestHandlers_RateLimit(t *testing.T) {
	server, _ := testServerWith(t, noise.HTTPConfig{RateLimit: 2}, false)

	var last int
	for i := 0; i < 3; i++ {
		resp, _ := get(t, server.URL+"/health")
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("third request status = %d, want 429", last)
	}
}
