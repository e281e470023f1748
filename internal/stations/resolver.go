package stations

import (
	"math"

	"tracklog/internal/types"
)

// earthRadiusM is the mean Earth radius used for the spherical-earth
// distance approximation.
const earthRadiusM = 6371000.0

// StationDistance pairs a station with its distance from a query point.
type StationDistance struct {
	Station   types.Station `json:"station"`
	DistanceM float64       `json:"distance_m"`
}

// DistanceMeters returns the haversine great-circle distance in meters
// between two coordinates.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// Nearest returns the closest station in the snapshot to the given point,
// or nil when the snapshot is empty or not yet populated.
//
// This is a plain linear scan rather than an index query: snapshots hold at
// most a few hundred stations, and ties must break by snapshot iteration
// order (first minimum wins) so results are deterministic for a given
// snapshot ordering.
func Nearest(lat, lon float64, snap *Snapshot) *StationDistance {
	if snap.Empty() {
		return nil
	}

	best := StationDistance{DistanceM: math.Inf(1)}
	for _, st := range snap.Stations {
		d := DistanceMeters(lat, lon, st.Latitude, st.Longitude)
		if d < best.DistanceM {
			best = StationDistance{Station: st, DistanceM: d}
		}
	}
	return &best
}
