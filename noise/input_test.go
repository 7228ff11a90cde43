package noise

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

const zoneJSON = `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "properties": {},
   "geometry": {"type": "Polygon", "coordinates": [[[100,100],[110,100],[110,110],[100,110],[100,100]]]}}
]}`

func inputConfig(t *testing.T) (*Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Graph.Path = writeFile(t, dir, "graph.geojson", edgesJSON)
	cfg.Layers = []LayerConfig{
		{Name: "road", Path: writeFile(t, dir, "road.geojson", layerJSON), Required: true},
		{Name: "rail", Path: filepath.Join(dir, "rail.geojson")},
	}
	return &cfg, dir
}

func TestLoadInput(t *testing.T) {
	cfg, dir := inputConfig(t)
	cfg.Zone.Path = writeFile(t, dir, "zone.geojson", zoneJSON)

	in, report, err := LoadInput(cfg)
	require.NoError(t, err)

	assert.Len(t, in.Edges, 2)
	require.Len(t, in.Layers, 1)
	assert.Equal(t, "road", in.Layers[0].Name)
	assert.Len(t, in.Zone, 1)

	assert.Equal(t, 2, report.Edges)
	assert.Equal(t, []string{"rail"}, report.Absent)
	assert.True(t, report.HasZone)
	assert.Equal(t, 4, report.Layers["road"].Polygons)
}

func TestLoadInput_RequiredLayerMissing(t *testing.T) {
	cfg, _ := inputConfig(t)
	cfg.Layers[1].Required = true

	_, _, err := LoadInput(cfg)
	assert.ErrorIs(t, err, ErrMissingLayer)
}

func TestLoadInput_RequiredLayerEmpty(t *testing.T) {
	cfg, dir := inputConfig(t)
	cfg.Layers[0].Path = writeFile(t, dir, "empty.geojson", `{"type": "FeatureCollection", "features": []}`)

	_, report, err := LoadInput(cfg)
	assert.ErrorIs(t, err, ErrMissingLayer)
	assert.Equal(t, 0, report.Layers["road"].Features)
}

func TestLoadInput_NoLayerReadable(t *testing.T) {
	cfg, _ := inputConfig(t)
	cfg.Layers = cfg.Layers[1:]

	_, report, err := LoadInput(cfg)
	assert.ErrorIs(t, err, ErrMissingLayer)
	assert.Equal(t, []string{"rail"}, report.Absent)
}

func TestLoadInput_BadZone(t *testing.T) {
	cfg, dir := inputConfig(t)
	cfg.Zone.Path = writeFile(t, dir, "zone.geojson", `{"type": "FeatureCollection", "features": []}`)

	_, _, err := LoadInput(cfg)
	assert.ErrorIs(t, err, ErrInvalidZone)
}

func TestLoadInput_MissingGraph(t *testing.T) {
	cfg, _ := inputConfig(t)
	cfg.Graph.Path = filepath.Join(t.TempDir(), "none.geojson")

	_, _, err := LoadInput(cfg)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
