package geo

import (
	"fmt"

	"cleanspot/models"

	"github.com/golang/geo/s2"
	geojson "github.com/paulmach/go.geojson"
)

// Zone is a named service area a worker can be responsible for.
type Zone struct {
	Name  string
	loops []*s2.Loop
}

// ZoneIndex answers point-in-zone queries for the task scheduler's
// zone filter. Zones are loaded once at startup and read-only after.
type ZoneIndex struct {
	zones map[string]*Zone
}

// NewZoneIndex builds an index from GeoJSON features. Each feature needs
// a "name" property and a Polygon or MultiPolygon geometry.
func NewZoneIndex(features []*geojson.Feature) (*ZoneIndex, error) {
	idx := &ZoneIndex{zones: make(map[string]*Zone)}
	for _, f := range features {
		name, err := f.PropertyString("name")
		if err != nil {
			return nil, fmt.Errorf("zone feature without name property: %w", err)
		}
		z := &Zone{Name: name}
		switch {
		case f.Geometry.IsPolygon():
			z.loops = append(z.loops, polygonLoops(f.Geometry.Polygon)...)
		case f.Geometry.IsMultiPolygon():
			for _, poly := range f.Geometry.MultiPolygon {
				z.loops = append(z.loops, polygonLoops(poly)...)
			}
		default:
			return nil, fmt.Errorf("zone %q: unsupported geometry type %s", name, f.Geometry.Type)
		}
		idx.zones[name] = z
	}
	return idx, nil
}

// polygonLoops converts the outer ring of a GeoJSON polygon into an s2
// loop. Holes are rare in municipal zones and are ignored here.
func polygonLoops(poly [][][]float64) []*s2.Loop {
	if len(poly) == 0 {
		return nil
	}
	ring := poly[0]
	pts := make([]s2.Point, 0, len(ring))
	for i, coord := range ring {
		// GeoJSON rings repeat the first coordinate at the end.
		if i == len(ring)-1 && len(ring) > 1 && coord[0] == ring[0][0] && coord[1] == ring[0][1] {
			break
		}
		pts = append(pts, s2.PointFromLatLng(s2.LatLngFromDegrees(coord[1], coord[0])))
	}
	loop := s2.LoopFromPoints(pts)
	loop.Normalize()
	return []*s2.Loop{loop}
}

// Contains reports whether loc falls inside the named zone. Unknown
// zone names never match.
func (idx *ZoneIndex) Contains(zoneName string, loc models.Location) bool {
	z, ok := idx.zones[zoneName]
	if !ok {
		return false
	}
	p := s2.PointFromLatLng(s2.LatLngFromDegrees(loc.Latitude, loc.Longitude))
	for _, loop := range z.loops {
		if loop.ContainsPoint(p) {
			return true
		}
	}
	return false
}

// ContainsAny reports whether loc falls inside any of the named zones.
// An empty zone list means no zone restriction.
func (idx *ZoneIndex) ContainsAny(zoneNames []string, loc models.Location) bool {
	if len(zoneNames) == 0 {
		return true
	}
	for _, name := range zoneNames {
		if idx.Contains(name, loc) {
			return true
		}
	}
	return false
}
