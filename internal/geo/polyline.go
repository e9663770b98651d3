package geo

import (
	"github.com/fleetconsole/tracker/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// LineString builds a geom.LineString (X=longitude, Y=latitude) from a path.
// Paths shorter than two distinct positions produce an empty LineString.
func LineString(path []core.Position) geom.LineString {
	if len(path) < 2 {
		return geom.LineString{}
	}
	flat := make([]float64, 0, len(path)*2)
	for _, p := range path {
		flat = append(flat, p.Longitude, p.Latitude)
	}
	// OmitInvalid yields an empty LineString instead of an error.
	ls, _ := geom.NewLineString(geom.NewSequence(flat, geom.DimXY), geom.OmitInvalid)
	return ls
}

// PathWKT renders a path as WKT, e.g. "LINESTRING(85.82 20.3,85.82 20.31)".
func PathWKT(path []core.Position) string {
	return LineString(path).AsText()
}
