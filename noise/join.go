package noise

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/quadtree"
)

// LayerJoinStats records the join cardinality of one layer.
type LayerJoinStats struct {
	Layer     string `json:"layer"`
	Points    int    `json:"points"`
	Matched   int    `json:"matched"`
	Conflicts int    `json:"conflicts"` // points covered by more than one polygon
}

// ConflictRatio is the share of joined points that hit overlapping polygons.
func (s LayerJoinStats) ConflictRatio() float64 {
	if s.Points == 0 {
		return 0
	}
	return float64(s.Conflicts) / float64(s.Points)
}

// JoinLayers resolves, for every point, the decibel value contributed by each
// layer. A point covered by several polygons of the same layer takes the
// highest value among them; a point covered by none gets an absent level.
func JoinLayers(points []orb.Point, layers []NoiseLayer) ([]NoiseSample, []LayerJoinStats) {
	ordered := sortedLayers(layers)

	samples := make([]NoiseSample, len(points))
	for i := range samples {
		levels := make(map[string]Level, len(ordered))
		for _, l := range ordered {
			levels[l.Name] = Level{}
		}
		samples[i] = NoiseSample{Levels: levels}
	}

	stats := make([]LayerJoinStats, 0, len(ordered))
	if len(points) == 0 {
		for _, l := range ordered {
			stats = append(stats, LayerJoinStats{Layer: l.Name})
		}
		return samples, stats
	}

	index := newPointIndex(points)
	var buf []orb.Pointer

	for _, layer := range ordered {
		matches := make([]int, len(points))
		for _, poly := range layer.Polygons {
			if len(poly.Geometry) == 0 {
				continue
			}
			buf = index.InBound(buf[:0], poly.Geometry.Bound())
			for _, ptr := range buf {
				ip := ptr.(indexedPoint)
				if !planar.PolygonContains(poly.Geometry, ip.p) {
					continue
				}
				matches[ip.i]++
				cur := samples[ip.i].Levels[layer.Name]
				if !cur.Valid || poly.DB > cur.DB {
					samples[ip.i].Levels[layer.Name] = DB(poly.DB)
				}
			}
		}

		s := LayerJoinStats{Layer: layer.Name, Points: len(points)}
		for _, m := range matches {
			if m > 0 {
				s.Matched++
			}
			if m > 1 {
				s.Conflicts++
			}
		}
		stats = append(stats, s)
	}

	return samples, stats
}

// LayerNames returns the layer names in join order.
func LayerNames(layers []NoiseLayer) []string {
	ordered := sortedLayers(layers)
	names := make([]string, len(ordered))
	for i, l := range ordered {
		names[i] = l.Name
	}
	return names
}

func sortedLayers(layers []NoiseLayer) []NoiseLayer {
	ordered := make([]NoiseLayer, len(layers))
	copy(ordered, layers)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Name < ordered[j].Name
	})
	return ordered
}

// indexedPoint carries the position of a point in the joined slice.
type indexedPoint struct {
	i int
	p orb.Point
}

func (ip indexedPoint) Point() orb.Point { return ip.p }

func newPointIndex(points []orb.Point) *quadtree.Quadtree {
	bound := orb.MultiPoint(points).Bound()
	qt := quadtree.New(bound)
	for i, p := range points {
		// cannot fail: every point is inside the bound built from them
		_ = qt.Add(indexedPoint{i: i, p: p})
	}
	return qt
}
