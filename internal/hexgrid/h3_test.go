package hexgrid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/territory/internal/territory"
)

func TestCellAtKnownIndex(t *testing.T) {
	cell, err := New().CellAt(37.775938728915946, -122.41795063018799, 9)
	require.NoError(t, err)
	require.Equal(t, "8928308280fffff", cell)
}

func TestCenterRoundTrip(t *testing.T) {
	g := New()
	cell, err := g.CellAt(51.5007, -0.1246, 10)
	require.NoError(t, err)

	center, err := g.CenterOf(cell)
	require.NoError(t, err)

	again, err := g.CellAt(center.Lat, center.Lng, 10)
	require.NoError(t, err)
	require.Equal(t, cell, again)
}

func TestCenterOfRejectsGarbage(t *testing.T) {
	_, err := New().CenterOf("not-a-cell")
	require.Error(t, err)
}

func TestResolutionBounds(t *testing.T) {
	_, err := New().CellAt(0, 0, 16)
	require.Error(t, err)
	_, err = New().FillPolygon(nil, -1)
	require.Error(t, err)
}

func TestResolverOverH3EnclosesCenter(t *testing.T) {
	g := New()
	const res = 10
	center := territory.LatLng{Lat: 40.7829, Lng: -73.9654}

	// A diamond roughly 1km across around the center, many res-10 cells wide.
	d := 0.005
	corners := []territory.LatLng{
		{Lat: center.Lat + d, Lng: center.Lng},
		{Lat: center.Lat, Lng: center.Lng + d},
		{Lat: center.Lat - d, Lng: center.Lng},
		{Lat: center.Lat, Lng: center.Lng - d},
		{Lat: center.Lat + d, Lng: center.Lng},
	}
	var points []territory.LatLng
	for i := 0; i < len(corners)-1; i++ {
		a, b := corners[i], corners[i+1]
		for s := 0; s < 20; s++ {
			f := float64(s) / 20
			points = append(points, territory.LatLng{Lat: a.Lat + (b.Lat-a.Lat)*f, Lng: a.Lng + (b.Lng-a.Lng)*f})
		}
	}
	points = append(points, corners[0])

	path, err := territory.MapPath(g, points, res)
	require.NoError(t, err)
	loop, ok := territory.DetectLoop(path, 5)
	require.True(t, ok)

	interior, err := territory.NewResolver(g).Enclosed(context.Background(), loop.Boundary, res)
	require.NoError(t, err)

	mid, err := g.CellAt(center.Lat, center.Lng, res)
	require.NoError(t, err)
	require.Contains(t, interior, mid)
	for _, c := range loop.Boundary {
		require.NotContains(t, interior, c)
	}
}
