// Package hexgrid backs territory.Grid with Uber's H3 hierarchical hexagon index.
package hexgrid

import (
	"fmt"

	"github.com/uber/h3-go/v4"

	"example.com/territory/internal/territory"
)

// MaxResolution is the finest H3 resolution.
const MaxResolution = 15

// H3 implements territory.Grid. Cell ids are lower-case H3 hex strings.
type H3 struct{}

// New returns an H3 grid.
func New() H3 { return H3{} }

// CellAt implements territory.Grid.
func (H3) CellAt(lat, lng float64, resolution int) (string, error) {
	if resolution < 0 || resolution > MaxResolution {
		return "", fmt.Errorf("h3: resolution %d out of range", resolution)
	}
	cell, err := h3.LatLngToCell(h3.NewLatLng(lat, lng), resolution)
	if err != nil {
		return "", fmt.Errorf("h3: cell at (%f,%f): %w", lat, lng, err)
	}
	return cell.String(), nil
}

// CenterOf implements territory.Grid.
func (H3) CenterOf(id string) (territory.LatLng, error) {
	cell, err := parseCell(id)
	if err != nil {
		return territory.LatLng{}, err
	}
	ll, err := h3.CellToLatLng(cell)
	if err != nil {
		return territory.LatLng{}, fmt.Errorf("h3: center of %s: %w", id, err)
	}
	return territory.LatLng{Lat: ll.Lat, Lng: ll.Lng}, nil
}

// FillPolygon implements territory.Grid using H3's center-containment polyfill.
func (H3) FillPolygon(ring []territory.LatLng, resolution int) ([]string, error) {
	if resolution < 0 || resolution > MaxResolution {
		return nil, fmt.Errorf("h3: resolution %d out of range", resolution)
	}
	loop := make(h3.GeoLoop, 0, len(ring))
	for _, p := range ring {
		loop = append(loop, h3.NewLatLng(p.Lat, p.Lng))
	}
	cells, err := h3.PolygonToCells(h3.GeoPolygon{GeoLoop: loop}, resolution)
	if err != nil {
		return nil, fmt.Errorf("h3: polygon to cells: %w", err)
	}
	out := make([]string, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.String())
	}
	return out, nil
}

func parseCell(id string) (h3.Cell, error) {
	cell := h3.Cell(h3.IndexFromString(id))
	if !cell.IsValid() {
		return 0, fmt.Errorf("h3: invalid cell %q", id)
	}
	return cell, nil
}
