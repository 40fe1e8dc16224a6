// Package geo holds the pure geospatial predicates used by the workflow
// gates. Nothing here touches storage, so the geofence and duplicate
// checks are testable with plain coordinates.
package geo

import (
	"cleanspot/models"

	"github.com/golang/geo/s2"
)

// earthRadiusMeters matches the mean radius used by the s2 library docs.
const earthRadiusMeters = 6371010.0

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(a, b models.Location) float64 {
	llA := s2.LatLngFromDegrees(a.Latitude, a.Longitude)
	llB := s2.LatLngFromDegrees(b.Latitude, b.Longitude)
	return llA.Distance(llB).Radians() * earthRadiusMeters
}

// CheckGeofence validates that actor is within radiusMeters of target.
// The returned error carries the measured distance for the worker UI.
func CheckGeofence(actor, target models.Location, radiusMeters float64) error {
	d := HaversineMeters(actor, target)
	if d > radiusMeters {
		return models.NewProximityError(d, radiusMeters)
	}
	return nil
}

// ValidateCoordinates rejects positions outside the WGS84 ranges.
func ValidateCoordinates(loc models.Location) error {
	if loc.Latitude < -90 || loc.Latitude > 90 {
		return models.NewValidationError("latitude", "latitude must be within [-90, 90]")
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		return models.NewValidationError("longitude", "longitude must be within [-180, 180]")
	}
	if loc.Accuracy < 0 {
		return models.NewValidationError("accuracy", "accuracy must be non-negative")
	}
	return nil
}

// CheckTiming validates that a task's elapsed minutes lie inside the
// accepted window. Too fast implies fraud, too slow implies staleness.
func CheckTiming(elapsedMinutes, minMinutes, maxMinutes float64) error {
	if elapsedMinutes < minMinutes || elapsedMinutes > maxMinutes {
		return models.NewTimingError(elapsedMinutes, minMinutes, maxMinutes)
	}
	return nil
}
