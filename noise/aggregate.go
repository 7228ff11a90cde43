package noise

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb/planar"
)

// Bands are the decibel band lower bounds, ascending. Levels below the first
// band are ambient.
var Bands = []int{40, 50, 55, 60, 65, 70}

// profileTolerance is the slack allowed when comparing band totals to the
// edge length.
const profileTolerance = 1e-6

// BandFor returns the band whose lower bound is the highest one not above db.
// The bool is false for ambient levels.
func BandFor(db float64) (int, bool) {
	for i := len(Bands) - 1; i >= 0; i-- {
		if db >= float64(Bands[i]) {
			return Bands[i], true
		}
	}
	return 0, false
}

// AggregatePoint combines the per-layer levels of one point: the maximum level,
// every layer reaching it, and the next lower distinct level with its layers.
func AggregatePoint(s NoiseSample) PointNoise {
	names := make([]string, 0, len(s.Levels))
	for name, l := range s.Levels {
		if l.Valid {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return PointNoise{}
	}
	sort.Strings(names)

	var pn PointNoise
	for _, name := range names {
		if v := s.Levels[name].DB; !pn.MaxDB.Valid || v > pn.MaxDB.DB {
			pn.MaxDB = DB(v)
		}
	}
	for _, name := range names {
		v := s.Levels[name].DB
		switch {
		case v == pn.MaxDB.DB:
			pn.Sources = append(pn.Sources, name)
		case !pn.AdjacentDB.Valid || v > pn.AdjacentDB.DB:
			pn.AdjacentDB = DB(v)
		}
	}
	if pn.AdjacentDB.Valid {
		for _, name := range names {
			if s.Levels[name].DB == pn.AdjacentDB.DB {
				pn.AdjacentSources = append(pn.AdjacentSources, name)
			}
		}
	}
	return pn
}

// IndexedNoise is a point aggregate tagged with its unique point index.
type IndexedNoise struct {
	Unique int
	Noise  PointNoise
}

// MergeReport checks that merging reconstituted every unique point once.
type MergeReport struct {
	Expected   int `json:"expected"`
	Merged     int `json:"merged"`
	Duplicates int `json:"duplicates"`
	Dropped    int `json:"dropped"`
}

// OK reports whether the merge neither lost nor duplicated a point.
func (r MergeReport) OK() bool {
	return r.Merged == r.Expected && r.Duplicates == 0 && r.Dropped == 0
}

// MergeAggregates unions the direct and repaired aggregates into one slice
// indexed by unique point. A point present in both keeps the first entry and
// counts as a duplicate; a point present in neither stays absent and counts as
// dropped.
func MergeAggregates(total int, direct, repaired []IndexedNoise) ([]PointNoise, MergeReport) {
	merged := make([]PointNoise, total)
	seen := make([]bool, total)
	report := MergeReport{Expected: total}

	add := func(in []IndexedNoise) {
		for _, n := range in {
			if n.Unique < 0 || n.Unique >= total {
				report.Duplicates++
				continue
			}
			if seen[n.Unique] {
				report.Duplicates++
				continue
			}
			seen[n.Unique] = true
			merged[n.Unique] = n.Noise
			report.Merged++
		}
	}
	add(direct)
	add(repaired)

	for _, ok := range seen {
		if !ok {
			report.Dropped++
		}
	}
	return merged, report
}

// ProfileReport summarizes the per-edge re-aggregation.
type ProfileReport struct {
	Edges     int     `json:"edges"`
	Broadcast int     `json:"broadcast"` // sample points that received a value
	Overflow  []int64 `json:"overflow,omitempty"`
}

// BuildProfiles broadcasts the unique point aggregates back to every sample
// point and sums representative lengths per band for each sampled edge.
// Profiles follow the order of edges; edges without samples get none.
func BuildProfiles(edges []Edge, samples []SamplePoint, owner []int, points []PointNoise) ([]EdgeNoiseProfile, ProfileReport, error) {
	if len(owner) != len(samples) {
		return nil, ProfileReport{}, fmt.Errorf("build profiles: %d samples but %d owners", len(samples), len(owner))
	}

	var report ProfileReport
	byEdge := make(map[int64]*EdgeNoiseProfile)
	for i, s := range samples {
		p, ok := byEdge[s.EdgeID]
		if !ok {
			p = &EdgeNoiseProfile{
				EdgeID:        s.EdgeID,
				Bands:         make(map[int]float64),
				SourceLengths: make(map[string]float64),
			}
			byEdge[s.EdgeID] = p
		}

		u := owner[i]
		if u < 0 || u >= len(points) {
			continue
		}
		report.Broadcast++
		pn := points[u]
		if !pn.MaxDB.Valid {
			continue
		}
		band, ok := BandFor(pn.MaxDB.DB)
		if !ok {
			continue
		}
		p.Bands[band] += s.Length
		for _, src := range pn.Sources {
			p.SourceLengths[src] += s.Length
		}
	}

	profiles := make([]EdgeNoiseProfile, 0, len(byEdge))
	for _, e := range edges {
		p, ok := byEdge[e.ID]
		if !ok {
			continue
		}
		delete(byEdge, e.ID)

		p.Length = planar.Length(e.Geometry)
		total := p.BandTotal()
		if total > p.Length+profileTolerance {
			report.Overflow = append(report.Overflow, e.ID)
		}
		if residual := p.Length - total; residual > profileTolerance {
			p.Ambient = residual
		}
		if len(p.SourceLengths) == 0 {
			p.SourceLengths = nil
		}
		profiles = append(profiles, *p)
	}
	report.Edges = len(profiles)

	return profiles, report, nil
}
