package services

import "math"

// metersPerDegreeLat approximates one degree of latitude. Used only to size
// the bounding-box pre-filter; exact distances go through Haversine.
const metersPerDegreeLat = 111320.0

// HaversineMeters computes the great-circle distance in meters between two
// (longitude, latitude) pairs in degrees, on a sphere of the WGS84 equatorial
// radius. That is an approximation, not true ellipsoidal distance, but it is
// well within tolerance at the ~100 m scales the dedup engine cares about.
// Non-finite inputs propagate as NaN; validation is the caller's job.
func HaversineMeters(lng1, lat1, lng2, lat2 float64) float64 {
	const deg2rad = math.Pi / 180

	phi1 := lat1 * deg2rad
	phi2 := lat2 * deg2rad
	dPhi := (lat2 - lat1) * deg2rad
	dLambda := (lng2 - lng1) * deg2rad

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)

	a := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusMeters * c
}

// boundingBox returns a degree-delta window around a point that contains
// every location within radiusMeters. The longitude delta widens with
// latitude; near the poles cos(lat) approaches zero, so the delta is clamped
// to a full hemisphere rather than dividing by zero.
func boundingBox(lng, lat, radiusMeters float64) (minLng, maxLng, minLat, maxLat float64) {
	latDelta := radiusMeters / metersPerDegreeLat

	cosLat := math.Cos(lat * math.Pi / 180)
	lngDelta := 180.0
	if cosLat > 1e-9 {
		lngDelta = radiusMeters / (metersPerDegreeLat * cosLat)
	}

	return lng - lngDelta, lng + lngDelta, lat - latDelta, lat + latDelta
}
