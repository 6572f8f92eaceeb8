package cluster

import "fmt"

// zoomRes maps a web-map zoom level to the H3 resolution used for bucketing.
// Coarser cells at low zoom merge aggressively; from street level up the
// grid is fine enough that most buckets fall below the cluster minimum and
// raw features show through.
var zoomRes = [...]int{
	0:  0,
	1:  1,
	2:  1,
	3:  2,
	4:  3,
	5:  3,
	6:  4,
	7:  5,
	8:  5,
	9:  6,
	10: 7,
	11: 7,
	12: 8,
	13: 9,
	14: 9,
	15: 10,
	16: 11,
	17: 11,
	18: 12,
	19: 12,
	20: 12,
}

const maxRes = 15

func validateRes(res int) error {
	if res < 0 || res > maxRes {
		return fmt.Errorf("h3 resolution %d out of range [0,%d]", res, maxRes)
	}
	return nil
}

// ResolutionForZoom clamps zoom into the table range.
func ResolutionForZoom(zoom int) int {
	if zoom < 0 {
		zoom = 0
	}
	if zoom >= len(zoomRes) {
		zoom = len(zoomRes) - 1
	}
	return zoomRes[zoom]
}

// zoomForResolution returns the lowest zoom bucketed at the given
// resolution, used when walking expansion zooms.
func zoomForResolution(res int) int {
	for z, r := range zoomRes {
		if r >= res {
			return z
		}
	}
	return len(zoomRes) - 1
}
