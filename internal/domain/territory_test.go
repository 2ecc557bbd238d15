package domain_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/territory/internal/domain"
	perr "example.com/territory/internal/errors"
	"example.com/territory/internal/persistence/memory"
	"example.com/territory/internal/territory"
	"example.com/territory/internal/territory/territorytest"
)

const res = 10

var analysisCfg = domain.TerritoryConfig{MinLoopLength: 5, Resolution: res, Timeout: 5 * time.Second}

func newTerritory(grid territory.Grid, store *memory.Store, cfg domain.TerritoryConfig) *domain.TerritoryService {
	return domain.NewTerritoryService(store, store, grid, territory.NewResolver(grid), cfg)
}

func rawPoints(points []territory.LatLng) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(points))
	for i, p := range points {
		out = append(out, json.RawMessage(fmt.Sprintf(`{"lat":%.9f,"lng":%.9f,"seq":%d}`, p.Lat, p.Lng, i)))
	}
	return out
}

func storeRun(t *testing.T, store *memory.Store, id, user string, traj []json.RawMessage, polyline string) {
	t.Helper()
	run := domain.Run{
		ID:        id,
		UserID:    user,
		StartTime: fixedNow.Add(-time.Hour),
		EndTime:   fixedNow,
		Polyline:  polyline,
		Status:    domain.RunStatusSynced,
	}
	require.NoError(t, store.CreateRun(context.Background(), run, domain.RawTrajectory{ID: id + "-t", RunID: id, Points: traj}))
}

func closedSquare(x0, y0, side int) []string {
	ring := territorytest.SquareRing(res, x0, y0, side)
	return append(append([]string{}, ring...), ring[0])
}

func TestAnalyzeRunCapturesSquare(t *testing.T) {
	grid := &territorytest.PlanarGrid{}
	store := memory.NewStore()
	svc := newTerritory(grid, store, analysisCfg)

	path := closedSquare(0, 0, 5)
	storeRun(t, store, "run-1", "u1", rawPoints(territorytest.Points(grid, path)), "")

	loop, err := svc.AnalyzeRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, loop)
	require.Equal(t, 0, loop.StartIndex)
	require.Equal(t, 16, loop.EndIndex)
	require.Equal(t, path, loop.Boundary)

	want := territorytest.SquareInterior(res, 0, 0, 5)
	sort.Strings(want)
	require.Equal(t, want, loop.Enclosed)
	require.Equal(t, domain.CycleKey(path), loop.CycleKey)

	stored, err := store.GetLoop(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, loop.Enclosed, stored.Enclosed)
}

func TestAnalyzeRunFallsBackToPolyline(t *testing.T) {
	grid := &territorytest.PlanarGrid{}
	store := memory.NewStore()
	svc := newTerritory(grid, store, analysisCfg)

	path := closedSquare(3, 3, 6)
	encoded := territory.EncodePolyline(territorytest.Points(grid, path))
	storeRun(t, store, "run-1", "u1", []json.RawMessage{json.RawMessage(`{"hr":140}`)}, encoded)

	loop, err := svc.AnalyzeRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, loop)
	require.Len(t, loop.Enclosed, 16)
}

func TestAnalyzeRunWithoutLoopStoresNothing(t *testing.T) {
	grid := &territorytest.PlanarGrid{}
	store := memory.NewStore()
	svc := newTerritory(grid, store, analysisCfg)

	line := make([]string, 0, 20)
	for x := 0; x < 20; x++ {
		line = append(line, territorytest.Cell(res, x, 0))
	}
	storeRun(t, store, "run-1", "u1", rawPoints(territorytest.Points(grid, line)), "")

	loop, err := svc.AnalyzeRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Nil(t, loop)
	require.Equal(t, 0, store.LoopCount())
	require.Zero(t, grid.FillCalls())
}

func TestAnalyzeRunUnknownRun(t *testing.T) {
	store := memory.NewStore()
	svc := newTerritory(&territorytest.PlanarGrid{}, store, analysisCfg)

	_, err := svc.AnalyzeRun(context.Background(), "missing")
	require.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
}

func TestAnalyzeRunTwiceKeepsOneLoop(t *testing.T) {
	grid := &territorytest.PlanarGrid{}
	store := memory.NewStore()
	svc := newTerritory(grid, store, analysisCfg)
	storeRun(t, store, "run-1", "u1", rawPoints(territorytest.Points(grid, closedSquare(0, 0, 5))), "")

	first, err := svc.AnalyzeRun(context.Background(), "run-1")
	require.NoError(t, err)
	second, err := svc.AnalyzeRun(context.Background(), "run-1")
	require.NoError(t, err)

	require.Equal(t, first.CycleKey, second.CycleKey)
	require.Equal(t, first.Enclosed, second.Enclosed)
	require.Equal(t, 1, store.LoopCount())
}

func TestAnalyzePathReplacesPreviousLoop(t *testing.T) {
	grid := &territorytest.PlanarGrid{}
	store := memory.NewStore()
	svc := newTerritory(grid, store, analysisCfg)
	ctx := context.Background()

	_, err := svc.AnalyzePath(ctx, "run-1", closedSquare(0, 0, 5))
	require.NoError(t, err)
	bigger, err := svc.AnalyzePath(ctx, "run-1", closedSquare(0, 0, 7))
	require.NoError(t, err)

	stored, err := store.GetLoop(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, bigger.CycleKey, stored.CycleKey)
	require.Len(t, stored.Enclosed, 25)
	require.Equal(t, 1, store.LoopCount())
}

type slowGrid struct {
	territorytest.PlanarGrid
	delay time.Duration
}

func (g *slowGrid) FillPolygon(ring []territory.LatLng, resolution int) ([]string, error) {
	time.Sleep(g.delay)
	return g.PlanarGrid.FillPolygon(ring, resolution)
}

func TestAnalyzePathTimeoutIsNotRetryable(t *testing.T) {
	grid := &slowGrid{delay: 300 * time.Millisecond}
	store := memory.NewStore()
	cfg := analysisCfg
	cfg.Timeout = 20 * time.Millisecond
	svc := newTerritory(grid, store, cfg)

	_, err := svc.AnalyzePath(context.Background(), "run-1", closedSquare(0, 0, 5))
	require.Error(t, err)
	require.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
	require.False(t, perr.Retryable(err))
	require.Equal(t, 0, store.LoopCount())
}

func TestGetLoopChecksOwnership(t *testing.T) {
	grid := &territorytest.PlanarGrid{}
	store := memory.NewStore()
	svc := newTerritory(grid, store, analysisCfg)
	ctx := context.Background()
	storeRun(t, store, "run-1", "u1", rawPoints(territorytest.Points(grid, closedSquare(0, 0, 5))), "")

	_, err := svc.GetLoop(ctx, "u1", "run-1")
	require.True(t, perr.IsCode(err, perr.ErrorCodeNotFound), "no loop yet")

	_, err = svc.AnalyzeRun(ctx, "run-1")
	require.NoError(t, err)

	loop, err := svc.GetLoop(ctx, "u1", "run-1")
	require.NoError(t, err)
	require.Len(t, loop.Enclosed, 9)

	_, err = svc.GetLoop(ctx, "u2", "run-1")
	require.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
}

func TestCycleKeyIgnoresStartingCell(t *testing.T) {
	ring := territorytest.SquareRing(res, 0, 0, 5)
	rotated := append(append([]string{}, ring[3:]...), ring[:3]...)
	require.Equal(t, domain.CycleKey(append(ring, ring[0])), domain.CycleKey(append(rotated, rotated[0])))
	require.NotEqual(t, domain.CycleKey(ring), domain.CycleKey(territorytest.SquareRing(res, 1, 0, 5)))
}

func TestRoutePointsAcceptsCoordinateAliases(t *testing.T) {
	traj := &domain.RawTrajectory{Points: []json.RawMessage{
		json.RawMessage(`{"latitude":1.5,"longitude":2.5}`),
		json.RawMessage(`{"lat":3,"lon":4}`),
		json.RawMessage(`{"hr":120}`),
		json.RawMessage(`"not an object"`),
	}}
	points, err := domain.RoutePoints(domain.Run{}, traj)
	require.NoError(t, err)
	require.Equal(t, []territory.LatLng{{Lat: 1.5, Lng: 2.5}, {Lat: 3, Lng: 4}}, points)

	none, err := domain.RoutePoints(domain.Run{}, nil)
	require.NoError(t, err)
	require.Nil(t, none)

	_, err = domain.RoutePoints(domain.Run{Polyline: "_p~iF~ps|U_"}, nil)
	require.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
}
