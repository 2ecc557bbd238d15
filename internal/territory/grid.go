// Package territory turns a run's cell path into captured territory: it finds the first closed
// loop in the path and rasterizes the cells enclosed by that loop.
package territory

// LatLng is a geographic coordinate in degrees.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Grid is the hierarchical hex grid the engine discretizes coordinates onto.
// Implementations must be deterministic and safe for concurrent use.
type Grid interface {
	// CellAt returns the id of the cell containing the coordinate at resolution.
	CellAt(lat, lng float64, resolution int) (string, error)
	// CenterOf returns the geographic center of a cell.
	CenterOf(cell string) (LatLng, error)
	// FillPolygon returns every cell at resolution whose center lies inside the closed ring.
	FillPolygon(ring []LatLng, resolution int) ([]string, error)
}
