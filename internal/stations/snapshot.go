// Package stations holds the environmental-context side of the logger: the
// immutable station snapshot, the background poller that replaces it, and
// the nearest-station resolver the pacing loop consults on every emitted
// record.
package stations

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/dhconnelly/rtreego"

	"tracklog/internal/types"
)

const (
	rtreeDimensions  = 2
	rtreeMinChildren = 25
	rtreeMaxChildren = 50
	// pointTolerance is the degree-sized rectangle each station occupies
	// in the index. Results are always re-filtered by true distance, so
	// the value only affects candidate selection.
	pointTolerance = 0.01
)

// stationEntry wraps a station to implement rtreego.Spatial.
type stationEntry struct {
	station *types.Station
	rect    *rtreego.Rect
}

func (e *stationEntry) Bounds() *rtreego.Rect {
	return e.rect
}

// Snapshot is an immutable point-in-time copy of the station set plus a
// capture timestamp. It is shared by reference between the poller (sole
// writer, via SnapshotRef) and its readers, and replaced wholesale on each
// successful poll -- never mutated.
type Snapshot struct {
	Stations   []types.Station
	CapturedAt time.Time

	// index accelerates the radius query on the status API. The nearest
	// resolver deliberately does not use it; see resolver.go.
	index *rtreego.Rtree
}

// NewSnapshot builds a snapshot and its spatial index. The station slice is
// owned by the snapshot after this call.
func NewSnapshot(list []types.Station, capturedAt time.Time) *Snapshot {
	tree := rtreego.NewTree(rtreeDimensions, rtreeMinChildren, rtreeMaxChildren)
	snap := &Snapshot{
		Stations:   list,
		CapturedAt: capturedAt,
		index:      tree,
	}
	for i := range snap.Stations {
		st := &snap.Stations[i]
		p := rtreego.Point{st.Latitude, st.Longitude}
		snap.index.Insert(&stationEntry{station: st, rect: p.ToRect(pointTolerance)})
	}
	return snap
}

// Empty reports whether the snapshot holds no stations.
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.Stations) == 0
}

// Within returns the stations no farther than radiusM meters from the
// given point, ordered by ascending distance. The index narrows the search
// to a bounding box; candidates are then filtered by great-circle distance.
func (s *Snapshot) Within(lat, lon, radiusM float64) []StationDistance {
	if s.Empty() {
		return nil
	}

	// Convert the radius to a degree box around the center. A degree of
	// longitude shrinks with cos(lat), so the east-west half-width must
	// widen accordingly or stations inside the radius fall outside the
	// box at this latitude.
	latDeg := (radiusM / earthRadiusM) * (180 / math.Pi)
	lonDeg := 180.0
	if cosLat := math.Cos(lat * math.Pi / 180); cosLat > 1e-6 {
		lonDeg = latDeg / cosLat
		if lonDeg > 180 {
			lonDeg = 180
		}
	}
	bounds, err := rtreego.NewRect(
		rtreego.Point{lat - latDeg, lon - lonDeg},
		[]float64{2 * latDeg, 2 * lonDeg},
	)
	if err != nil {
		return nil
	}

	var out []StationDistance
	for _, hit := range s.index.SearchIntersect(bounds) {
		entry, ok := hit.(*stationEntry)
		if !ok {
			continue
		}
		d := DistanceMeters(lat, lon, entry.station.Latitude, entry.station.Longitude)
		if d <= radiusM {
			out = append(out, StationDistance{Station: *entry.station, DistanceM: d})
		}
	}

	// Insertion sort; result sets are small.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].DistanceM < out[j-1].DistanceM; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// SnapshotRef is the single shared cell between the poller and its
// readers. The poller performs one atomic pointer replace per successful
// cycle; readers always observe a fully-formed snapshot, never a partial
// update. Load returns nil until the first successful poll.
type SnapshotRef struct {
	ptr atomic.Pointer[Snapshot]
}

// NewSnapshotRef creates an empty reference.
func NewSnapshotRef() *SnapshotRef {
	return &SnapshotRef{}
}

// Load returns the current snapshot, or nil before the first poll.
func (r *SnapshotRef) Load() *Snapshot {
	return r.ptr.Load()
}

// Store atomically replaces the current snapshot.
func (r *SnapshotRef) Store(s *Snapshot) {
	r.ptr.Store(s)
}
