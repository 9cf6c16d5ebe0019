package course

import "math"

const earthRadius = 6371000.0

func rad(deg float64) float64 { return deg * math.Pi / 180 }

// Haversine returns the great-circle distance in meters.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// project places p relative to the segment a->b on a local equirectangular
// plane centered on a. Only valid for segments of a few kilometers.
// t is the clamped along-segment fraction, offset the perpendicular distance in meters.
func project(aLat, aLon, bLat, bLon, pLat, pLon float64) (t float64, offset float64) {
	k := math.Cos(rad((aLat + bLat) / 2))
	bx := rad(bLon-aLon) * k * earthRadius
	by := rad(bLat-aLat) * earthRadius
	px := rad(pLon-aLon) * k * earthRadius
	py := rad(pLat-aLat) * earthRadius

	denom := bx*bx + by*by
	if denom > 0 {
		t = (px*bx + py*by) / denom
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
	}
	dx := px - t*bx
	dy := py - t*by
	return t, math.Sqrt(dx*dx + dy*dy)
}
