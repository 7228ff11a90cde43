package noise

import "time"

// Summary is the compact description of a run shared by the publisher, the
// store and the HTTP server.
type Summary struct {
	RunID         string          `json:"runId"`
	Timestamp     int64           `json:"timestamp"`
	Edges         int             `json:"edges"`
	Profiles      int             `json:"profiles"`
	SkippedEdges  int             `json:"skippedEdges"`
	SamplePoints  int             `json:"samplePoints"`
	UniquePoints  int             `json:"uniquePoints"`
	ZonePoints    int             `json:"zonePoints"`
	MissingPoints int             `json:"missingPoints"`
	Repaired      int             `json:"repaired"`
	Unrepaired    int             `json:"unrepaired"`
	BandLengths   map[int]float64 `json:"bandLengths"`
	AmbientLength float64         `json:"ambientLength"`
	Issues        []string        `json:"issues,omitempty"`
}

// Summarize condenses a result. Band lengths are totals over all profiles.
func Summarize(runID string, at time.Time, r *Result) Summary {
	d := r.Diagnostics
	s := Summary{
		RunID:         runID,
		Timestamp:     at.Unix(),
		Edges:         d.Sampling.Edges,
		Profiles:      len(r.Profiles),
		SkippedEdges:  len(d.Sampling.Skipped),
		SamplePoints:  d.Sampling.Points,
		UniquePoints:  d.UniquePoints,
		ZonePoints:    d.ZonePoints,
		MissingPoints: d.MissingPoints,
		Repaired:      d.Ring.Repaired,
		Unrepaired:    d.Ring.Unrepaired,
		BandLengths:   make(map[int]float64, len(Bands)),
		Issues:        d.Issues,
	}
	for _, p := range r.Profiles {
		for _, band := range Bands {
			if l, ok := p.Bands[band]; ok {
				s.BandLengths[band] += l
			}
		}
		s.AmbientLength += p.Ambient
	}
	return s
}
