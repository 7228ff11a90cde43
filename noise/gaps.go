package noise

// GapReport lists the unique points that lack any layer value.
type GapReport struct {
	Missing int   `json:"missing"`
	Flagged []int `json:"flagged"` // unique indices to repair, ascending
}

// IsMissing reports whether no layer contributed a value to s.
func IsMissing(s NoiseSample) bool {
	for _, l := range s.Levels {
		if l.Valid {
			return false
		}
	}
	return true
}

// DetectGaps flags the points that are missing every layer value and lie in
// the nodata zone. A missing point outside the zone is genuine silence and is
// left as is.
func DetectGaps(samples []NoiseSample, inZone []bool) GapReport {
	var r GapReport
	for i, s := range samples {
		if !IsMissing(s) {
			continue
		}
		r.Missing++
		if i < len(inZone) && inZone[i] {
			r.Flagged = append(r.Flagged, i)
		}
	}
	return r
}
