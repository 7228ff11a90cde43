package noise

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ClassifyZone flags the unique points that lie within the nodata boundary
// strip. Boundaries are inclusive: points on an outer ring or on a hole ring
// count as inside.
func ClassifyZone(unique []UniquePoint, zone orb.MultiPolygon) []bool {
	flags := make([]bool, len(unique))
	if len(zone) == 0 {
		return flags
	}

	bound := zone.Bound()
	for i, u := range unique {
		if !bound.Contains(u.Point) {
			continue
		}
		flags[i] = planar.MultiPolygonContains(zone, u.Point) || onHoleRing(zone, u.Point)
	}
	return flags
}

// ringTolerance is how close to a hole ring a point must be to lie on it.
const ringTolerance = 1e-9

func onHoleRing(zone orb.MultiPolygon, p orb.Point) bool {
	for _, poly := range zone {
		if len(poly) < 2 {
			continue
		}
		for _, hole := range poly[1:] {
			if !hole.Bound().Pad(ringTolerance).Contains(p) {
				continue
			}
			if planar.DistanceFrom(hole, p) <= ringTolerance {
				return true
			}
		}
	}
	return false
}

func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
