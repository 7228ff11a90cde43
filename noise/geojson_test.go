package noise

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const edgesJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "id": 11, "properties": {"osmid": "1001", "length": 9},
     "geometry": {"type": "LineString", "coordinates": [[0, 0], [9, 0]]}},
    {"type": "Feature", "id": 12, "properties": {"osmid": 1002},
     "geometry": {"type": "Point", "coordinates": [5, 5]}}
  ]
}`

func TestParseEdges(t *testing.T) {
	t.Run("feature id", func(t *testing.T) {
		edges, err := ParseEdges([]byte(edgesJSON), "")
		require.NoError(t, err)
		require.Len(t, edges, 2)

		assert.Equal(t, int64(11), edges[0].ID)
		assert.Equal(t, orb.LineString{{0, 0}, {9, 0}}, edges[0].Geometry)
		assert.Equal(t, 9.0, edges[0].Length)

		assert.Equal(t, int64(12), edges[1].ID)
		assert.Nil(t, edges[1].Geometry, "non-line geometry is dropped")
	})

	t.Run("id property", func(t *testing.T) {
		edges, err := ParseEdges([]byte(edgesJSON), "osmid")
		require.NoError(t, err)
		assert.Equal(t, int64(1001), edges[0].ID)
		assert.Equal(t, int64(1002), edges[1].ID)
	})

	t.Run("missing id", func(t *testing.T) {
		_, err := ParseEdges([]byte(edgesJSON), "way_id")
		assert.ErrorContains(t, err, "no usable edge id")
	})

	t.Run("bad json", func(t *testing.T) {
		_, err := ParseEdges([]byte(`{"type":`), "")
		assert.Error(t, err)
	})
}

const layerJSON = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"db": 55},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[10,0],[10,10],[0,10],[0,0]]]}},
    {"type": "Feature", "properties": {"db": "60-65"},
     "geometry": {"type": "MultiPolygon", "coordinates": [
       [[[20,0],[30,0],[30,10],[20,10],[20,0]]],
       [[[40,0],[50,0],[50,10],[40,10],[40,0]]]
     ]}},
    {"type": "Feature", "properties": {"db": ">75"},
     "geometry": {"type": "Polygon", "coordinates": [[[60,0],[70,0],[70,10],[60,10],[60,0]]]}},
    {"type": "Feature", "properties": {"db": "unknown"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}},
    {"type": "Feature", "properties": {},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,0]]]}},
    {"type": "Feature", "properties": {"db": 80},
     "geometry": {"type": "LineString", "coordinates": [[0,0],[1,1]]}}
  ]
}`

func TestParseNoiseLayer(t *testing.T) {
	layer, stats, err := ParseNoiseLayer([]byte(layerJSON), "road", "db")
	require.NoError(t, err)

	assert.Equal(t, "road", layer.Name)
	assert.Equal(t, LayerReadStats{
		Features:        6,
		Polygons:        4,
		Exploded:        1,
		SkippedGeometry: 1,
		SkippedValue:    2,
	}, stats)

	dbs := make([]float64, len(layer.Polygons))
	for i, p := range layer.Polygons {
		dbs[i] = p.DB
	}
	assert.Equal(t, []float64{55, 60, 60, 75}, dbs)
}

func TestReadNoiseLayer_MissingFile(t *testing.T) {
	_, _, err := ReadNoiseLayer(filepath.Join(t.TempDir(), "nope.geojson"), "road", "db")
	assert.True(t, errors.Is(err, os.ErrNotExist), "error %v should wrap ErrNotExist", err)
}

func TestParseDB(t *testing.T) {
	tests := []struct {
		in     interface{}
		want   float64
		wantOK bool
	}{
		{55.0, 55, true},
		{int(60), 60, true},
		{int64(65), 65, true},
		{"70", 70, true},
		{" 55 - 60 ", 55, true},
		{">=75", 75, true},
		{"<45", 45, true},
		{"loud", 0, false},
		{nil, 0, false},
		{true, 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseDB(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseDB(%#v) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseZone(t *testing.T) {
	zone, err := ParseZone([]byte(`{"type": "FeatureCollection", "features": [
	  {"type": "Feature", "properties": {},
	   "geometry": {"type": "Polygon", "coordinates": [[[0,0],[4,0],[4,4],[0,4],[0,0]]]}},
	  {"type": "Feature", "properties": {},
	   "geometry": {"type": "MultiPolygon", "coordinates": [
	     [[[10,0],[14,0],[14,4],[10,4],[10,0]]],
	     [[[20,0],[24,0],[24,4],[20,4],[20,0]]]
	   ]}}
	]}`))
	require.NoError(t, err)
	assert.Len(t, zone, 3)

	tests := map[string]string{
		"not json":   `zone`,
		"empty":      `{"type": "FeatureCollection", "features": []}`,
		"line in it": `{"type": "FeatureCollection", "features": [{"type": "Feature", "properties": {}, "geometry": {"type": "LineString", "coordinates": [[0,0],[1,1]]}}]}`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseZone([]byte(data))
			assert.ErrorIs(t, err, ErrInvalidZone)
		})
	}
}

func TestProfilesToFeatureCollection(t *testing.T) {
	edges := []Edge{{ID: 1, Geometry: straightLine(9)}}
	profiles := []EdgeNoiseProfile{{
		EdgeID:        1,
		Length:        9,
		Bands:         map[int]float64{55: 6},
		Ambient:       3,
		SourceLengths: map[string]float64{"road": 6},
	}}

	fc := ProfilesToFeatureCollection(edges, profiles)
	require.Len(t, fc.Features, 1)

	f := fc.Features[0]
	assert.Equal(t, straightLine(9), f.Geometry)
	assert.Equal(t, int64(1), f.Properties["edge_id"])
	assert.Equal(t, 6.0, f.Properties["db_55"])
	assert.NotContains(t, f.Properties, "db_60")
	assert.Equal(t, 3.0, f.Properties["ambient"])
	assert.Equal(t, 55, f.Properties["dominant_band"])
	assert.Equal(t, 6.0, f.Properties["src_road"])

	data, err := fc.MarshalJSON()
	require.NoError(t, err)
	back, err := geojson.UnmarshalFeatureCollection(data)
	require.NoError(t, err)
	assert.Equal(t, 6.0, back.Features[0].Properties.MustFloat64("db_55"))
}

func TestWriteDebugLayers(t *testing.T) {
	params := DefaultParams()
	params.KeepStages = true
	result, err := mustPipeline(t, params).Run(gapInput())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "debug")
	require.NoError(t, WriteDebugLayers(dir, result.Stages))

	counts := map[PointLayer]int{
		LayerRaw:      8,
		LayerUnique:   8,
		LayerZone:     2,
		LayerJoined:   8,
		LayerMissing:  2,
		LayerRing:     2 * DefaultRingCount,
		LayerRepaired: 2,
		LayerFinal:    8,
	}
	for _, layer := range PointLayers {
		data, err := os.ReadFile(filepath.Join(dir, string(layer)+".geojson"))
		require.NoError(t, err, "layer %s", layer)
		fc, err := geojson.UnmarshalFeatureCollection(data)
		require.NoError(t, err, "layer %s", layer)
		assert.Len(t, fc.Features, counts[layer], "layer %s", layer)
	}

	final, err := PointLayerCollection(result.Stages, LayerFinal)
	require.NoError(t, err)
	props := final.Features[3].Properties
	assert.Equal(t, true, props["repaired"])
	assert.Equal(t, 60.0, props["db_max"])
	assert.Equal(t, "road", props["sources"])
}

func TestPointLayerCollection_Errors(t *testing.T) {
	_, err := PointLayerCollection(nil, LayerRaw)
	assert.Error(t, err)

	_, err = PointLayerCollection(&Stages{}, PointLayer("bogus"))
	assert.Error(t, err)
}
