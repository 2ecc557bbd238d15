package territory

import (
	"fmt"

	"github.com/twpayne/go-polyline"
)

// MapPath discretizes an ordered list of coordinates into the cell path visited at resolution.
// Consecutive points in the same cell collapse into one entry; standing still is not a revisit.
func MapPath(grid Grid, points []LatLng, resolution int) ([]string, error) {
	path := make([]string, 0, len(points))
	for i, p := range points {
		cell, err := grid.CellAt(p.Lat, p.Lng, resolution)
		if err != nil {
			return nil, fmt.Errorf("point %d (%f,%f): %w", i, p.Lat, p.Lng, err)
		}
		if n := len(path); n > 0 && path[n-1] == cell {
			continue
		}
		path = append(path, cell)
	}
	return path, nil
}

// DecodePolyline decodes a Google encoded polyline (precision 5) into coordinates.
func DecodePolyline(encoded string) ([]LatLng, error) {
	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode polyline: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode polyline: %d trailing bytes", len(rest))
	}
	out := make([]LatLng, 0, len(coords))
	for _, c := range coords {
		out = append(out, LatLng{Lat: c[0], Lng: c[1]})
	}
	return out, nil
}

// EncodePolyline is the inverse of DecodePolyline.
func EncodePolyline(points []LatLng) string {
	coords := make([][]float64, 0, len(points))
	for _, p := range points {
		coords = append(coords, []float64{p.Lat, p.Lng})
	}
	return string(polyline.EncodeCoords(coords))
}
