package noise

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// LayerReadStats counts what a layer read kept and skipped.
type LayerReadStats struct {
	Features        int `json:"features"`
	Polygons        int `json:"polygons"`
	Exploded        int `json:"exploded"`        // multipolygon features split into polygons
	SkippedGeometry int `json:"skippedGeometry"` // features that are not (multi)polygons
	SkippedValue    int `json:"skippedValue"`    // features without a usable decibel value
}

// ReadEdges loads graph edges from a GeoJSON file.
func ReadEdges(path, idProperty string) ([]Edge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading graph: %w", err)
	}
	edges, err := ParseEdges(data, idProperty)
	if err != nil {
		return nil, fmt.Errorf("graph %s: %w", path, err)
	}
	return edges, nil
}

// ParseEdges decodes a FeatureCollection of LineStrings. The edge id comes
// from idProperty when set, otherwise from the feature id. Features with any
// other geometry become edges without geometry and are skipped by sampling.
func ParseEdges(data []byte, idProperty string) ([]Edge, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing GeoJSON: %w", err)
	}

	edges := make([]Edge, 0, len(fc.Features))
	for i, f := range fc.Features {
		var raw interface{} = f.ID
		if idProperty != "" {
			raw = f.Properties[idProperty]
		}
		id, ok := toInt64(raw)
		if !ok {
			return nil, fmt.Errorf("feature %d: no usable edge id", i)
		}

		e := Edge{ID: id}
		if ls, ok := f.Geometry.(orb.LineString); ok {
			e.Geometry = ls
		}
		e.Length = f.Properties.MustFloat64("length", 0)
		edges = append(edges, e)
	}
	return edges, nil
}

// ReadNoiseLayer loads one noise layer from a GeoJSON file, reading decibel
// values from dbField.
func ReadNoiseLayer(path, name, dbField string) (NoiseLayer, LayerReadStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NoiseLayer{}, LayerReadStats{}, fmt.Errorf("reading layer %s: %w", name, err)
	}
	layer, stats, err := ParseNoiseLayer(data, name, dbField)
	if err != nil {
		return NoiseLayer{}, stats, fmt.Errorf("layer %s: %w", name, err)
	}
	return layer, stats, nil
}

// ParseNoiseLayer decodes a FeatureCollection of polygons into a layer.
// MultiPolygons are exploded and every part keeps the feature's value.
func ParseNoiseLayer(data []byte, name, dbField string) (NoiseLayer, LayerReadStats, error) {
	var stats LayerReadStats
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return NoiseLayer{}, stats, fmt.Errorf("parsing GeoJSON: %w", err)
	}

	layer := NoiseLayer{Name: name}
	for _, f := range fc.Features {
		stats.Features++

		var polys []orb.Polygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			polys = []orb.Polygon{g}
		case orb.MultiPolygon:
			polys = g
			stats.Exploded++
		default:
			stats.SkippedGeometry++
			continue
		}

		db, ok := ParseDB(f.Properties[dbField])
		if !ok {
			stats.SkippedValue++
			continue
		}
		for _, p := range polys {
			if len(p) == 0 {
				continue
			}
			layer.Polygons = append(layer.Polygons, NoisePolygon{Geometry: p, DB: db})
		}
	}
	stats.Polygons = len(layer.Polygons)
	return layer, stats, nil
}

// ReadZone loads the nodata boundary strip and unions every polygon of the
// file into one MultiPolygon.
func ReadZone(path string) (orb.MultiPolygon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading zone: %w", err)
	}
	return ParseZone(data)
}

// ParseZone decodes the nodata zone. Anything but polygons is rejected.
func ParseZone(data []byte) (orb.MultiPolygon, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidZone, err)
	}

	var zone orb.MultiPolygon
	for i, f := range fc.Features {
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			zone = append(zone, g)
		case orb.MultiPolygon:
			zone = append(zone, g...)
		default:
			return nil, fmt.Errorf("%w: feature %d is %T", ErrInvalidZone, i, f.Geometry)
		}
	}
	if len(zone) == 0 {
		return nil, fmt.Errorf("%w: no polygons", ErrInvalidZone)
	}
	return zone, nil
}

// ParseDB reads a decibel value from a feature property. Numbers are taken as
// they are; strings may be plain numbers or band labels such as "55-60" or
// ">70", which resolve to their lower bound.
func ParseDB(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimLeft(s, "<>= ")
		if i := strings.Index(s, "-"); i > 0 {
			s = s[:i]
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toInt64(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		return n, err == nil
	}
	return 0, false
}

// ProfilesToFeatureCollection exports each profile with its edge geometry.
// Band lengths are flattened to "db_<band>" properties.
func ProfilesToFeatureCollection(edges []Edge, profiles []EdgeNoiseProfile) *geojson.FeatureCollection {
	geom := make(map[int64]orb.LineString, len(edges))
	for _, e := range edges {
		if _, ok := geom[e.ID]; !ok {
			geom[e.ID] = e.Geometry
		}
	}

	fc := geojson.NewFeatureCollection()
	for _, p := range profiles {
		f := geojson.NewFeature(geom[p.EdgeID])
		f.ID = p.EdgeID
		f.Properties["edge_id"] = p.EdgeID
		f.Properties["length"] = p.Length
		f.Properties["ambient"] = p.Ambient
		f.Properties["dominant_band"] = p.DominantBand()
		for _, band := range Bands {
			if l, ok := p.Bands[band]; ok {
				f.Properties["db_"+strconv.Itoa(band)] = l
			}
		}
		for src, l := range p.SourceLengths {
			f.Properties["src_"+src] = l
		}
		fc.Append(f)
	}
	return fc
}

// PointLayer names one of the intermediate point sets of a run.
type PointLayer string

const (
	LayerRaw      PointLayer = "raw"
	LayerUnique   PointLayer = "unique"
	LayerZone     PointLayer = "zone"
	LayerJoined   PointLayer = "joined"
	LayerMissing  PointLayer = "missing"
	LayerRing     PointLayer = "ring"
	LayerRepaired PointLayer = "repaired"
	LayerFinal    PointLayer = "final"
)

// PointLayers lists the debug layers in pipeline order.
var PointLayers = []PointLayer{
	LayerRaw, LayerUnique, LayerZone, LayerJoined,
	LayerMissing, LayerRing, LayerRepaired, LayerFinal,
}

// PointLayerCollection builds one debug layer from the stages of a run.
func PointLayerCollection(s *Stages, layer PointLayer) (*geojson.FeatureCollection, error) {
	if s == nil {
		return nil, fmt.Errorf("point layer %s: run kept no stages", layer)
	}
	fc := geojson.NewFeatureCollection()
	add := func(p orb.Point, props geojson.Properties) {
		f := geojson.NewFeature(p)
		for k, v := range props {
			f.Properties[k] = v
		}
		fc.Append(f)
	}

	switch layer {
	case LayerRaw:
		for _, sp := range s.Samples {
			add(sp.Point, geojson.Properties{"edge_id": sp.EdgeID, "length": sp.Length, "xy": sp.Key})
		}
	case LayerUnique:
		for i, u := range s.Unique {
			add(u.Point, geojson.Properties{"unique": i, "xy": u.Key})
		}
	case LayerZone:
		for i, u := range s.Unique {
			if i < len(s.InZone) && s.InZone[i] {
				add(u.Point, geojson.Properties{"unique": i, "xy": u.Key})
			}
		}
	case LayerJoined:
		for i, u := range s.Unique {
			if i < len(s.Joined) {
				add(u.Point, levelProperties(i, u.Key, s.Joined[i]))
			}
		}
	case LayerMissing:
		for i, u := range s.Unique {
			if i < len(s.Joined) && IsMissing(s.Joined[i]) {
				inZone := i < len(s.InZone) && s.InZone[i]
				add(u.Point, geojson.Properties{"unique": i, "xy": u.Key, "in_zone": inZone})
			}
		}
	case LayerRing:
		for _, r := range s.Ring {
			add(r.Point, levelProperties(r.Unique, s.Unique[r.Unique].Key, r.Sample))
		}
	case LayerRepaired:
		for _, r := range s.Repaired {
			add(s.Unique[r.Unique].Point, levelProperties(r.Unique, s.Unique[r.Unique].Key, r.Sample))
		}
	case LayerFinal:
		for i, u := range s.Unique {
			if i >= len(s.Points) {
				break
			}
			pn := s.Points[i]
			props := geojson.Properties{"unique": i, "xy": u.Key, "repaired": pn.Repaired}
			if pn.MaxDB.Valid {
				props["db_max"] = pn.MaxDB.DB
				props["sources"] = strings.Join(pn.Sources, ",")
			}
			if pn.AdjacentDB.Valid {
				props["db_adjacent"] = pn.AdjacentDB.DB
				props["adjacent_sources"] = strings.Join(pn.AdjacentSources, ",")
			}
			add(u.Point, props)
		}
	default:
		return nil, fmt.Errorf("unknown point layer %q", layer)
	}
	return fc, nil
}

func levelProperties(unique int, key string, s NoiseSample) geojson.Properties {
	props := geojson.Properties{"unique": unique, "xy": key}
	for name, l := range s.Levels {
		if l.Valid {
			props["db_"+name] = l.DB
		}
	}
	return props
}

// WriteFeatureCollection writes fc as a GeoJSON file.
func WriteFeatureCollection(path string, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// WriteDebugLayers writes every debug point layer of a run into dir as
// <layer>.geojson.
func WriteDebugLayers(dir string, s *Stages) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating debug dir: %w", err)
	}
	for _, layer := range PointLayers {
		fc, err := PointLayerCollection(s, layer)
		if err != nil {
			return err
		}
		if err := WriteFeatureCollection(filepath.Join(dir, string(layer)+".geojson"), fc); err != nil {
			return err
		}
	}
	return nil
}
