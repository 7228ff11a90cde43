package noise

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// SampleStats summarizes a sampling pass over the graph.
type SampleStats struct {
	Edges        int     `json:"edges"`
	SampledEdges int     `json:"sampledEdges"`
	Skipped      []int64 `json:"skipped,omitempty"` // edges without a usable line geometry
	Points       int     `json:"points"`
}

// PointsPerEdge returns the mean number of sample points per sampled edge.
func (s SampleStats) PointsPerEdge() float64 {
	if s.SampledEdges == 0 {
		return 0
	}
	return float64(s.Points) / float64(s.SampledEdges)
}

// SamplingDistances returns the normalized positions of count sample points,
// each at the center of one of count equal sections of the line.
func SamplingDistances(count int) []float64 {
	if count < 1 {
		return nil
	}
	step := 1 / float64(count)
	distances := make([]float64, count)
	for i := range distances {
		distances[i] = step/2 + float64(i)*step
	}
	return distances
}

// SampleCount returns how many points a line of the given length gets.
// Halves round to even. Every line gets at least one point.
func SampleCount(length, interval float64) int {
	n := int(math.RoundToEven(length / interval))
	if n < 1 {
		return 1
	}
	return n
}

// SampleLine places evenly spaced points along ls. The second return value is
// the representative length of each point. A nil, single vertex or zero length
// line yields no points.
func SampleLine(ls orb.LineString, interval float64) ([]orb.Point, float64) {
	if !isLine(ls) {
		return nil, 0
	}
	length := planar.Length(ls)
	count := SampleCount(length, interval)

	points := make([]orb.Point, 0, count)
	for _, d := range SamplingDistances(count) {
		points = append(points, interpolate(ls, length, d))
	}
	return points, length / float64(count)
}

// SampleEdges samples every edge of the graph. Edges are visited in the given
// order, so output order is deterministic.
func SampleEdges(edges []Edge, interval float64) ([]SamplePoint, SampleStats) {
	stats := SampleStats{Edges: len(edges)}
	var samples []SamplePoint

	for _, e := range edges {
		points, repLen := SampleLine(e.Geometry, interval)
		if len(points) == 0 {
			stats.Skipped = append(stats.Skipped, e.ID)
			continue
		}
		stats.SampledEdges++
		for _, p := range points {
			samples = append(samples, SamplePoint{EdgeID: e.ID, Point: p, Length: repLen})
		}
	}

	stats.Points = len(samples)
	return samples, stats
}

func isLine(ls orb.LineString) bool {
	if len(ls) < 2 {
		return false
	}
	return planar.Length(ls) > 0
}

// interpolate returns the point at normalized distance d along ls, whose
// total planar length is length.
func interpolate(ls orb.LineString, length, d float64) orb.Point {
	target := d * length
	walked := 0.0
	for i := 0; i < len(ls)-1; i++ {
		a, b := ls[i], ls[i+1]
		seg := planar.Distance(a, b)
		if seg == 0 {
			continue
		}
		if walked+seg >= target {
			t := (target - walked) / seg
			return orb.Point{a[0] + t*(b[0]-a[0]), a[1] + t*(b[1]-a[1])}
		}
		walked += seg
	}
	return ls[len(ls)-1]
}
