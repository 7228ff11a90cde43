package noise

import (
	"errors"

	"github.com/paulmach/orb"
)

var (
	// ErrInvalidConfig is returned when pipeline parameters cannot be used.
	ErrInvalidConfig = errors.New("invalid pipeline config")

	// ErrMissingLayer is returned when a required noise layer is absent or empty.
	ErrMissingLayer = errors.New("missing noise layer")

	// ErrInvalidZone is returned when the nodata zone has no usable polygons.
	ErrInvalidZone = errors.New("invalid nodata zone")
)

// Edge is a street network edge as consumed from the graph.
type Edge struct {
	ID       int64          `json:"id"`
	Geometry orb.LineString `json:"-"`
	Length   float64        `json:"length"` // as declared by the graph, 0 when absent
}

// SamplePoint is one discretization point along an edge.
type SamplePoint struct {
	EdgeID int64     `json:"edgeId"`
	Point  orb.Point `json:"point"`
	Length float64   `json:"length"` // share of the edge length this point stands for
	Key    string    `json:"key"`    // grid key, set by Deduplicate
}

// UniquePoint is a sample location shared by one or more SamplePoints.
type UniquePoint struct {
	Key   string    `json:"key"`
	Point orb.Point `json:"point"`
}

// NoisePolygon is a single survey polygon with its lower decibel bound.
type NoisePolygon struct {
	Geometry orb.Polygon
	DB       float64
}

// NoiseLayer is a named polygon layer, one per source category or survey tile.
type NoiseLayer struct {
	Name     string
	Polygons []NoisePolygon
}

// Level is a decibel value that may be absent. Absent means "no data from this
// layer", which is not the same as 0 dB.
type Level struct {
	DB    float64 `json:"db"`
	Valid bool    `json:"valid"`
}

// DB returns a present Level.
func DB(v float64) Level {
	return Level{DB: v, Valid: true}
}

// NoiseSample maps every layer name to the level resolved for one point.
type NoiseSample struct {
	Levels map[string]Level `json:"levels"`
}

// RepairedSample is a NoiseSample synthesized from a ring of nearby points.
type RepairedSample struct {
	Unique int         `json:"unique"` // index into the unique point set
	Sample NoiseSample `json:"sample"`
}

// PointNoise is the per-point aggregate over all layers.
type PointNoise struct {
	MaxDB           Level    `json:"maxDb"`
	Sources         []string `json:"sources,omitempty"`
	AdjacentDB      Level    `json:"adjacentDb"`
	AdjacentSources []string `json:"adjacentSources,omitempty"`
	Repaired        bool     `json:"repaired,omitempty"`
}

// EdgeNoiseProfile is the decibel band exposure of one edge.
type EdgeNoiseProfile struct {
	EdgeID        int64              `json:"edgeId"`
	Length        float64            `json:"length"`
	Bands         map[int]float64    `json:"bands"`
	Ambient       float64            `json:"ambient"`
	SourceLengths map[string]float64 `json:"sourceLengths,omitempty"`
}

// BandTotal returns the summed length of all decibel bands.
func (p EdgeNoiseProfile) BandTotal() float64 {
	total := 0.0
	for _, band := range Bands {
		total += p.Bands[band]
	}
	return total
}

// DominantBand returns the band with the longest exposure, or 0 when the
// ambient residual dominates.
func (p EdgeNoiseProfile) DominantBand() int {
	best, bestLen := 0, p.Ambient
	for _, band := range Bands {
		if l := p.Bands[band]; l > bestLen {
			best, bestLen = band, l
		}
	}
	return best
}
