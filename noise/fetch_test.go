package noise

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testFetcher(opts ...FetchOption) *Fetcher {
	opts = append([]FetchOption{WithBaseBackoff(time.Millisecond), WithTimeout(5 * time.Second)}, opts...)
	return NewFetcher(zerolog.Nop(), opts...)
}

func TestGetFeatureURL(t *testing.T) {
	raw, err := GetFeatureURL(WFSConfig{
		URL:      "https://example.org/geoserver/wfs?map=noise",
		TypeName: "noise:road_lden",
		SRSName:  "EPSG:25832",
	})
	if err != nil {
		t.Fatalf("GetFeatureURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	want := map[string]string{
		"map":          "noise",
		"service":      "WFS",
		"version":      "1.0.0",
		"request":      "GetFeature",
		"typeName":     "noise:road_lden",
		"outputFormat": "json",
		"srsName":      "EPSG:25832",
	}
	for k, v := range want {
		if got := q.Get(k); got != v {
			t.Errorf("query %s = %q, want %q", k, got, v)
		}
	}
	if u.Host != "example.org" || u.Path != "/geoserver/wfs" {
		t.Errorf("URL = %s", raw)
	}
}

func TestFetchLayer_Success(t *testing.T) {
	var typeName string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		typeName = r.URL.Query().Get("typeName")
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		_, _ = w.Write([]byte(layerJSON))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "layers", "road.geojson")
	layer := LayerConfig{Name: "road", Path: path, WFS: &WFSConfig{URL: server.URL, TypeName: "noise:road"}}

	if err := testFetcher().FetchLayer(context.Background(), layer); err != nil {
		t.Fatalf("FetchLayer: %v", err)
	}
	if typeName != "noise:road" {
		t.Errorf("typeName = %q", typeName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written layer: %v", err)
	}
	if string(data) != layerJSON {
		t.Error("written layer differs from response body")
	}
}

func TestFetchLayer_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(zoneJSON))
	}))
	defer server.Close()

	layer := LayerConfig{Name: "rail", Path: filepath.Join(t.TempDir(), "rail.geojson"), WFS: &WFSConfig{URL: server.URL, TypeName: "rail"}}
	if err := testFetcher().FetchLayer(context.Background(), layer); err != nil {
		t.Fatalf("FetchLayer: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("calls = %d, want 3", got)
	}
}

func TestFetchLayer_GivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "road.geojson")
	layer := LayerConfig{Name: "road", Path: path, WFS: &WFSConfig{URL: server.URL, TypeName: "road"}}
	err := testFetcher(WithMaxRetries(2)).FetchLayer(context.Background(), layer)
	if err == nil || !strings.Contains(err.Error(), "all 2 attempts failed") {
		t.Fatalf("error = %v, want exhausted retries", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("calls = %d, want 2", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("nothing should be written on failure")
	}
}

func TestFetchLayer_DecodeErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("<ServiceExceptionReport/>"))
	}))
	defer server.Close()

	layer := LayerConfig{Name: "road", Path: filepath.Join(t.TempDir(), "road.geojson"), WFS: &WFSConfig{URL: server.URL, TypeName: "road"}}
	err := testFetcher().FetchLayer(context.Background(), layer)
	if err == nil || !strings.Contains(err.Error(), "decoding response") {
		t.Fatalf("error = %v, want decode error", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestFetchLayer_ResponseTooLarge(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"type": "FeatureCollection", "features": []}`))
	}))
	defer server.Close()

	path := filepath.Join(t.TempDir(), "road.geojson")
	layer := LayerConfig{Name: "road", Path: path, WFS: &WFSConfig{URL: server.URL, TypeName: "road"}}
	err := testFetcher(WithMaxResponseBytes(16)).FetchLayer(context.Background(), layer)
	if err == nil || !strings.Contains(err.Error(), "response exceeds 16 bytes") {
		t.Fatalf("error = %v, want size limit error", err)
	}
	if strings.Contains(err.Error(), "decoding") {
		t.Errorf("size limit reported as decode error: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("nothing should be written on failure")
	}
}

func TestFetchLayer_ResponseAtLimit(t *testing.T) {
	body := `{"type": "FeatureCollection", "features": []}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	layer := LayerConfig{Name: "road", Path: filepath.Join(t.TempDir(), "road.geojson"), WFS: &WFSConfig{URL: server.URL, TypeName: "road"}}
	if err := testFetcher(WithMaxResponseBytes(int64(len(body)))).FetchLayer(context.Background(), layer); err != nil {
		t.Fatalf("FetchLayer: %v", err)
	}
}

func TestByteSize(t *testing.T) {
	if got := byteSize(maxResponseBytes); got != "512 MB" {
		t.Errorf("byteSize(max) = %q, want 512 MB", got)
	}
	if got := byteSize(1500); got != "1500 bytes" {
		t.Errorf("byteSize(1500) = %q", got)
	}
}

func TestFetchLayer_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	layer := LayerConfig{Name: "road", Path: filepath.Join(t.TempDir(), "road.geojson"), WFS: &WFSConfig{URL: server.URL, TypeName: "road"}}
	if err := testFetcher(WithBaseBackoff(time.Hour)).FetchLayer(ctx, layer); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestFetchAll_SkipsLayersWithoutSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(zoneJSON))
	}))
	defer server.Close()

	dir := t.TempDir()
	layers := []LayerConfig{
		{Name: "road", Path: filepath.Join(dir, "road.geojson"), WFS: &WFSConfig{URL: server.URL, TypeName: "road"}},
		{Name: "local", Path: filepath.Join(dir, "local.geojson")},
		{Name: "rail", Path: filepath.Join(dir, "rail.geojson"), WFS: &WFSConfig{URL: server.URL, TypeName: "rail"}},
	}
	n, err := testFetcher().FetchAll(context.Background(), layers)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if n != 2 {
		t.Errorf("fetched = %d, want 2", n)
	}

	if err := testFetcher().FetchLayer(context.Background(), layers[1]); err == nil {
		t.Error("FetchLayer without wfs source should fail")
	}
}
