package noise

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Default ring resampling parameters. They are empirical and configurable.
const (
	DefaultRingDistance   = 12.0
	DefaultRingCount      = 20
	DefaultRingPercentile = 70.0
)

// RingParams controls how a missing point is repaired from its neighbourhood.
type RingParams struct {
	Distance   float64 `yaml:"distance" json:"distance" validate:"gt=0"`
	Count      int     `yaml:"count" json:"count" validate:"gte=1"`
	Percentile float64 `yaml:"percentile" json:"percentile" validate:"gte=0,lte=100"`
}

// DefaultRingParams returns the default repair parameters.
func DefaultRingParams() RingParams {
	return RingParams{
		Distance:   DefaultRingDistance,
		Count:      DefaultRingCount,
		Percentile: DefaultRingPercentile,
	}
}

// RingPoint is an auxiliary point synthesized around a missing point.
type RingPoint struct {
	Unique int         `json:"unique"`
	Point  orb.Point   `json:"point"`
	Sample NoiseSample `json:"sample"`
}

// RingReport summarizes a repair pass.
type RingReport struct {
	Centers    int              `json:"centers"`
	Points     int              `json:"points"`
	Repaired   int              `json:"repaired"`   // centers that got at least one layer value
	Unrepaired int              `json:"unrepaired"` // centers whose ring found nothing
	Join       []LayerJoinStats `json:"join"`
}

// RingPoints returns count points evenly spaced on a circle of radius
// distance around center, starting east and going counter-clockwise.
func RingPoints(center orb.Point, distance float64, count int) []orb.Point {
	if count < 1 {
		return nil
	}
	points := make([]orb.Point, count)
	for i := range points {
		angle := 2 * math.Pi * float64(i) / float64(count)
		points[i] = orb.Point{
			center[0] + distance*math.Cos(angle),
			center[1] + distance*math.Sin(angle),
		}
	}
	return points
}

// NearestRankPercentile returns the p-th percentile of values, picking the
// sorted element nearest to the fractional rank (n-1)*p/100. Ties in the
// rank are rounded half to even. The bool is false for an empty input.
func NearestRankPercentile(values []float64, p float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(math.RoundToEven(float64(len(sorted)-1) * p / 100))
	if rank < 0 {
		rank = 0
	}
	if rank > len(sorted)-1 {
		rank = len(sorted) - 1
	}
	return sorted[rank], true
}

// RepairSamples synthesizes a value per layer for each flagged unique point
// from a ring of points around it. All ring points are joined in one pass.
func RepairSamples(unique []UniquePoint, flagged []int, layers []NoiseLayer, params RingParams) ([]RepairedSample, []RingPoint, RingReport) {
	report := RingReport{Centers: len(flagged)}
	if len(flagged) == 0 {
		return nil, nil, report
	}

	var ringCoords []orb.Point
	var ringOwner []int
	for _, u := range flagged {
		for _, p := range RingPoints(unique[u].Point, params.Distance, params.Count) {
			ringCoords = append(ringCoords, p)
			ringOwner = append(ringOwner, u)
		}
	}
	report.Points = len(ringCoords)

	ringSamples, joinStats := JoinLayers(ringCoords, layers)
	report.Join = joinStats

	ring := make([]RingPoint, len(ringCoords))
	for i := range ringCoords {
		ring[i] = RingPoint{Unique: ringOwner[i], Point: ringCoords[i], Sample: ringSamples[i]}
	}

	names := LayerNames(layers)
	repaired := make([]RepairedSample, 0, len(flagged))
	for n, u := range flagged {
		members := ringSamples[n*params.Count : (n+1)*params.Count]
		levels := make(map[string]Level, len(names))
		for _, name := range names {
			values := fillAbsent(members, name)
			v, _ := NearestRankPercentile(values, params.Percentile)
			levels[name] = restoreAbsent(v)
		}
		rs := RepairedSample{Unique: u, Sample: NoiseSample{Levels: levels}}
		if IsMissing(rs.Sample) {
			report.Unrepaired++
		} else {
			report.Repaired++
		}
		repaired = append(repaired, rs)
	}

	return repaired, ring, report
}

// fillAbsent reads one layer across the ring members, using 0 as the
// stand-in for "no coverage". Only the ring aggregation uses this sentinel.
func fillAbsent(members []NoiseSample, layer string) []float64 {
	values := make([]float64, len(members))
	for i, m := range members {
		if l := m.Levels[layer]; l.Valid {
			values[i] = l.DB
		}
	}
	return values
}

// restoreAbsent reverses fillAbsent on the aggregated value. A genuine 0 dB
// reading also becomes absent here.
func restoreAbsent(v float64) Level {
	if v == 0 {
		return Level{}
	}
	return DB(v)
}
