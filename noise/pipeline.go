package noise

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// DefaultSamplingInterval is the default distance between sample points.
const DefaultSamplingInterval = 3.0

// Params configures one pipeline run.
type Params struct {
	Interval float64    `yaml:"interval" json:"interval" validate:"gt=0"`
	Ring     RingParams `yaml:"ring" json:"ring"`
	// KeepStages retains every intermediate point set on the result.
	KeepStages bool `yaml:"-" json:"-"`
}

// DefaultParams returns the default sampling and repair parameters.
func DefaultParams() Params {
	return Params{
		Interval: DefaultSamplingInterval,
		Ring:     DefaultRingParams(),
	}
}

// Input is everything a run reads: the graph edges, the noise layers and the
// nodata zone between neighbouring surveys.
type Input struct {
	Edges  []Edge
	Layers []NoiseLayer
	Zone   orb.MultiPolygon
}

// Diagnostics collects the counts and integrity findings of a run. Issues are
// problems the run tolerated; callers decide how loudly to report them.
type Diagnostics struct {
	Sampling      SampleStats      `json:"sampling"`
	UniquePoints  int              `json:"uniquePoints"`
	ZonePoints    int              `json:"zonePoints"`
	Join          []LayerJoinStats `json:"join"`
	MissingPoints int              `json:"missingPoints"`
	FlaggedPoints int              `json:"flaggedPoints"`
	Ring          RingReport       `json:"ring"`
	Merge         MergeReport      `json:"merge"`
	Profiles      ProfileReport    `json:"profiles"`
	Issues        []string         `json:"issues,omitempty"`
}

// ConflictPoints is the number of unique points that hit overlapping
// polygons, summed over layers.
func (d Diagnostics) ConflictPoints() int {
	n := 0
	for _, s := range d.Join {
		n += s.Conflicts
	}
	return n
}

func (d *Diagnostics) issuef(format string, args ...any) {
	d.Issues = append(d.Issues, fmt.Sprintf(format, args...))
}

// Stages holds the intermediate point sets of a run for inspection.
type Stages struct {
	Samples  []SamplePoint
	Unique   []UniquePoint
	Owner    []int
	InZone   []bool
	Joined   []NoiseSample
	Flagged  []int
	Ring     []RingPoint
	Repaired []RepairedSample
	Points   []PointNoise
}

// Result is the outcome of a run.
type Result struct {
	Profiles    []EdgeNoiseProfile `json:"profiles"`
	Diagnostics Diagnostics        `json:"diagnostics"`
	Stages      *Stages            `json:"-"`
}

// Profile returns the profile of one edge.
func (r *Result) Profile(edgeID int64) (EdgeNoiseProfile, bool) {
	for _, p := range r.Profiles {
		if p.EdgeID == edgeID {
			return p, true
		}
	}
	return EdgeNoiseProfile{}, false
}

// Pipeline turns edges and survey layers into per-edge noise profiles.
type Pipeline struct {
	params Params
}

// NewPipeline validates params and returns a pipeline.
func NewPipeline(params Params) (*Pipeline, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Pipeline{params: params}, nil
}

// Validate checks the numeric parameters.
func (p Params) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("%w: sampling interval must be positive, got %v", ErrInvalidConfig, p.Interval)
	}
	if p.Ring.Distance <= 0 {
		return fmt.Errorf("%w: ring distance must be positive, got %v", ErrInvalidConfig, p.Ring.Distance)
	}
	if p.Ring.Count < 1 {
		return fmt.Errorf("%w: ring count must be at least 1, got %d", ErrInvalidConfig, p.Ring.Count)
	}
	if p.Ring.Percentile < 0 || p.Ring.Percentile > 100 {
		return fmt.Errorf("%w: percentile must be within [0, 100], got %v", ErrInvalidConfig, p.Ring.Percentile)
	}
	return nil
}

// ValidateInput rejects inputs a run cannot start from.
func ValidateInput(in Input) error {
	if len(in.Layers) == 0 {
		return fmt.Errorf("%w: no noise layers given", ErrMissingLayer)
	}
	seen := make(map[string]bool, len(in.Layers))
	for i, l := range in.Layers {
		if l.Name == "" {
			return fmt.Errorf("%w: layer[%d] has no name", ErrInvalidConfig, i)
		}
		if seen[l.Name] {
			return fmt.Errorf("%w: duplicate layer name %q", ErrInvalidConfig, l.Name)
		}
		seen[l.Name] = true
	}
	for i, poly := range in.Zone {
		if len(poly) == 0 || len(poly[0]) < 4 {
			return fmt.Errorf("%w: polygon %d has no closed outer ring", ErrInvalidZone, i)
		}
	}
	return nil
}

// Run executes every stage in order. Setup problems are returned as errors
// before any sampling; integrity problems found later are recorded in the
// diagnostics and the run completes.
func (p *Pipeline) Run(in Input) (*Result, error) {
	if err := ValidateInput(in); err != nil {
		return nil, err
	}

	var diag Diagnostics

	checkEdgeLengths(in.Edges, &diag)

	samples, sampling := SampleEdges(in.Edges, p.params.Interval)
	diag.Sampling = sampling

	unique, owner := Deduplicate(samples)
	diag.UniquePoints = len(unique)
	if len(owner) != len(samples) {
		diag.issuef("deduplicate: %d samples but %d owner rows", len(samples), len(owner))
	}

	inZone := ClassifyZone(unique, in.Zone)
	diag.ZonePoints = countTrue(inZone)

	joined, joinStats := JoinLayers(uniqueCoords(unique), in.Layers)
	diag.Join = joinStats
	if len(joined) != len(unique) {
		diag.issuef("join: %d unique points but %d joined rows", len(unique), len(joined))
	}

	gaps := DetectGaps(joined, inZone)
	diag.MissingPoints = gaps.Missing
	diag.FlaggedPoints = len(gaps.Flagged)

	repaired, ring, ringReport := RepairSamples(unique, gaps.Flagged, in.Layers, p.params.Ring)
	diag.Ring = ringReport

	flagged := make(map[int]bool, len(gaps.Flagged))
	for _, u := range gaps.Flagged {
		flagged[u] = true
	}
	direct := make([]IndexedNoise, 0, len(joined)-len(gaps.Flagged))
	for i, s := range joined {
		if flagged[i] {
			continue
		}
		direct = append(direct, IndexedNoise{Unique: i, Noise: AggregatePoint(s)})
	}
	fixed := make([]IndexedNoise, 0, len(repaired))
	for _, r := range repaired {
		pn := AggregatePoint(r.Sample)
		pn.Repaired = pn.MaxDB.Valid
		fixed = append(fixed, IndexedNoise{Unique: r.Unique, Noise: pn})
	}

	points, merge := MergeAggregates(len(unique), direct, fixed)
	diag.Merge = merge
	if !merge.OK() {
		diag.issuef("merge: expected %d points, merged %d (%d duplicates, %d dropped)",
			merge.Expected, merge.Merged, merge.Duplicates, merge.Dropped)
	}

	profiles, profileReport, err := BuildProfiles(in.Edges, samples, owner, points)
	if err != nil {
		diag.issuef("%v", err)
	}
	diag.Profiles = profileReport
	if profileReport.Broadcast != len(samples) {
		diag.issuef("broadcast: %d of %d sample points received a value", profileReport.Broadcast, len(samples))
	}
	for _, id := range profileReport.Overflow {
		diag.issuef("profile: edge %d band lengths exceed its length", id)
	}
	if got, want := len(profiles)+len(sampling.Skipped), len(in.Edges); got != want {
		diag.issuef("profile: %d profiles and %d skipped edges for %d edges", len(profiles), len(sampling.Skipped), want)
	}

	result := &Result{Profiles: profiles, Diagnostics: diag}
	if p.params.KeepStages {
		result.Stages = &Stages{
			Samples:  samples,
			Unique:   unique,
			Owner:    owner,
			InZone:   inZone,
			Joined:   joined,
			Flagged:  gaps.Flagged,
			Ring:     ring,
			Repaired: repaired,
			Points:   points,
		}
	}
	return result, nil
}

// edgeLengthTolerance is how far a declared edge length may drift from the
// geometry before it is reported.
const edgeLengthTolerance = 0.01

// checkEdgeLengths reports edges whose declared length disagrees with their
// geometry. Profiles always use the geometric length.
func checkEdgeLengths(edges []Edge, diag *Diagnostics) {
	for _, e := range edges {
		if e.Length <= 0 || len(e.Geometry) < 2 {
			continue
		}
		if geom := planar.Length(e.Geometry); math.Abs(geom-e.Length) > edgeLengthTolerance {
			diag.issuef("edge %d: declared length %.3f but geometry is %.3f long", e.ID, e.Length, geom)
		}
	}
}
