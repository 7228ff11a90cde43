package noise

import (
	"math"
	"strconv"

	"github.com/paulmach/orb"
)

// XYKey returns the grid key of p: both coordinates rounded to 0.1 map units.
func XYKey(p orb.Point) string {
	return formatTenth(p[0]) + "_" + formatTenth(p[1])
}

func formatTenth(v float64) string {
	r := math.Round(v*10) / 10
	if r == 0 {
		r = 0 // normalize -0
	}
	return strconv.FormatFloat(r, 'f', 1, 64)
}

// Deduplicate collapses samples that share a grid key. It sets Key on every
// sample and returns the unique points in order of first appearance together
// with the owner index of each sample into that slice.
func Deduplicate(samples []SamplePoint) ([]UniquePoint, []int) {
	byKey := make(map[string]int, len(samples))
	unique := make([]UniquePoint, 0, len(samples))
	owner := make([]int, len(samples))

	for i := range samples {
		key := XYKey(samples[i].Point)
		samples[i].Key = key

		idx, ok := byKey[key]
		if !ok {
			idx = len(unique)
			byKey[key] = idx
			unique = append(unique, UniquePoint{Key: key, Point: samples[i].Point})
		}
		owner[i] = idx
	}

	return unique, owner
}

func uniqueCoords(unique []UniquePoint) []orb.Point {
	points := make([]orb.Point, len(unique))
	for i, u := range unique {
		points[i] = u.Point
	}
	return points
}
