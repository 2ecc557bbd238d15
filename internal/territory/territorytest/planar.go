// Package territorytest provides a deterministic square grid satisfying territory.Grid for tests.
package territorytest

import (
	"fmt"
	"math"
	"sync/atomic"

	"example.com/territory/internal/territory"
)

// PlanarGrid tiles the plane into squares of side 1/2^resolution degrees.
// Cell ids look like "res/x/y".
type PlanarGrid struct {
	fills atomic.Int64
}

// FillCalls reports how many times FillPolygon ran.
func (g *PlanarGrid) FillCalls() int64 { return g.fills.Load() }

func size(resolution int) float64 { return 1 / math.Pow(2, float64(resolution)) }

// Cell returns the id of square (x, y) at resolution.
func Cell(resolution, x, y int) string { return fmt.Sprintf("%d/%d/%d", resolution, x, y) }

// Center returns the coordinate at the middle of square (x, y).
func Center(resolution, x, y int) territory.LatLng {
	s := size(resolution)
	return territory.LatLng{Lat: (float64(y) + 0.5) * s, Lng: (float64(x) + 0.5) * s}
}

// CellAt implements territory.Grid.
func (g *PlanarGrid) CellAt(lat, lng float64, resolution int) (string, error) {
	if resolution < 0 || resolution > 15 {
		return "", fmt.Errorf("resolution %d out of range", resolution)
	}
	s := size(resolution)
	return Cell(resolution, int(math.Floor(lng/s)), int(math.Floor(lat/s))), nil
}

// CenterOf implements territory.Grid.
func (g *PlanarGrid) CenterOf(cell string) (territory.LatLng, error) {
	var res, x, y int
	if _, err := fmt.Sscanf(cell, "%d/%d/%d", &res, &x, &y); err != nil {
		return territory.LatLng{}, fmt.Errorf("invalid cell %q: %w", cell, err)
	}
	return Center(res, x, y), nil
}

// FillPolygon implements territory.Grid with an even-odd test on every square center in the
// ring's bounding box.
func (g *PlanarGrid) FillPolygon(ring []territory.LatLng, resolution int) ([]string, error) {
	g.fills.Add(1)
	if len(ring) < 4 {
		return nil, nil
	}
	s := size(resolution)
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	for _, p := range ring {
		minX, maxX = math.Min(minX, p.Lng), math.Max(maxX, p.Lng)
		minY, maxY = math.Min(minY, p.Lat), math.Max(maxY, p.Lat)
	}

	var out []string
	for x := int(math.Floor(minX / s)); x <= int(math.Floor(maxX/s)); x++ {
		for y := int(math.Floor(minY / s)); y <= int(math.Floor(maxY/s)); y++ {
			if inside(ring, Center(resolution, x, y)) {
				out = append(out, Cell(resolution, x, y))
			}
		}
	}
	return out, nil
}

func inside(ring []territory.LatLng, p territory.LatLng) bool {
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) {
			crossLng := (b.Lng-a.Lng)*(p.Lat-a.Lat)/(b.Lat-a.Lat) + a.Lng
			if p.Lng < crossLng {
				in = !in
			}
		}
	}
	return in
}

// SquareRing returns the perimeter cells of the square [x0, x0+side) x [y0, y0+side) walked
// clockwise from (x0, y0), without repeating the first cell at the end.
func SquareRing(resolution, x0, y0, side int) []string {
	var ring []string
	last := side - 1
	for i := 0; i < last; i++ {
		ring = append(ring, Cell(resolution, x0+i, y0))
	}
	for i := 0; i < last; i++ {
		ring = append(ring, Cell(resolution, x0+last, y0+i))
	}
	for i := last; i > 0; i-- {
		ring = append(ring, Cell(resolution, x0+i, y0+last))
	}
	for i := last; i > 0; i-- {
		ring = append(ring, Cell(resolution, x0, y0+i))
	}
	return ring
}

// SquareInterior returns the cells strictly inside SquareRing(resolution, x0, y0, side).
func SquareInterior(resolution, x0, y0, side int) []string {
	var cells []string
	for x := x0 + 1; x < x0+side-1; x++ {
		for y := y0 + 1; y < y0+side-1; y++ {
			cells = append(cells, Cell(resolution, x, y))
		}
	}
	return cells
}

// Points returns the centers of cells, in order.
func Points(g *PlanarGrid, cells []string) []territory.LatLng {
	out := make([]territory.LatLng, 0, len(cells))
	for _, c := range cells {
		p, err := g.CenterOf(c)
		if err != nil {
			panic(err)
		}
		out = append(out, p)
	}
	return out
}
