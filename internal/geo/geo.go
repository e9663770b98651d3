package geo

import (
	"math"

	"github.com/fleetconsole/tracker/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// EarthRadiusKm is the mean Earth radius used for great-circle math.
const EarthRadiusKm = 6371.0

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }
func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }

// DistanceKm returns the haversine distance between a and b in kilometres.
func DistanceKm(a, b core.Position) float64 {
	dLat := toRadians(b.Latitude - a.Latitude)
	dLon := toRadians(b.Longitude - a.Longitude)
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

// BearingDegrees returns the initial great-circle bearing from one position
// to another, clockwise from north in [0, 360).
// Identical positions yield 0, which is indistinguishable from due north;
// callers must check for that case themselves.
func BearingDegrees(from, to core.Position) float64 {
	if from == to {
		return 0
	}
	lat1 := toRadians(from.Latitude)
	lat2 := toRadians(to.Latitude)
	dLon := toRadians(to.Longitude - from.Longitude)

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	return NormalizeDegrees(toDegrees(math.Atan2(y, x)))
}

// NormalizeDegrees folds any angle into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return 0
	}
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	if d >= 360 {
		d = 0
	}
	return d
}

// ToWebMercator projects a WGS84 position (EPSG:4326) to EPSG:3857 metres.
func ToWebMercator(p core.Position) (x, y float64) {
	f := wgs84.EPSG().Transform(4326, 3857)
	x, y, _ = f(p.Longitude, p.Latitude, 0)
	return x, y
}

// Point returns p as a simplefeatures point with X=longitude, Y=latitude.
func Point(p core.Position) geom.Point {
	// OmitInvalid maps NaN or infinite coordinates to an empty point.
	pt, _ := geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.Longitude, Y: p.Latitude},
		Type: geom.DimXY,
	}, geom.OmitInvalid)
	return pt
}

// PositionFromPoint is the inverse of Point. Empty points map to the zero position.
func PositionFromPoint(pt geom.Point) core.Position {
	c, ok := pt.Coordinates()
	if !ok {
		return core.Position{}
	}
	return core.Position{Latitude: c.Y, Longitude: c.X}
}
