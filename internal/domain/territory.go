package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	perr "example.com/territory/internal/errors"
	"example.com/territory/internal/logger"
	"example.com/territory/internal/observability"
	"example.com/territory/internal/territory"
)

// TerritoryConfig holds the game-balance and cost knobs of loop analysis.
type TerritoryConfig struct {
	MinLoopLength int
	Resolution    int
	Timeout       time.Duration
}

// TerritoryService turns a stored run into its captured territory.
type TerritoryService struct {
	runs     RunRepository
	loops    LoopRepository
	grid     territory.Grid
	resolver *territory.Resolver
	cfg      TerritoryConfig
	now      func() time.Time
}

// NewTerritoryService constructs a TerritoryService.
func NewTerritoryService(runs RunRepository, loops LoopRepository, grid territory.Grid, resolver *territory.Resolver, cfg TerritoryConfig) *TerritoryService {
	return &TerritoryService{
		runs:     runs,
		loops:    loops,
		grid:     grid,
		resolver: resolver,
		cfg:      cfg,
		now:      time.Now,
	}
}

// AnalyzeRun maps the run's trajectory onto the grid, detects its first loop and stores the
// enclosed territory. It returns nil, nil when the path never closes a loop.
func (s *TerritoryService) AnalyzeRun(ctx context.Context, runID string) (*RunLoop, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, storageErr(err, "get run")
	}
	if run == nil {
		return nil, perr.NotFoundf("run %s not found", runID)
	}
	trajectory, err := s.runs.GetTrajectory(ctx, runID)
	if err != nil {
		return nil, storageErr(err, "get trajectory")
	}

	points, err := RoutePoints(*run, trajectory)
	if err != nil {
		return nil, err
	}
	path, err := territory.MapPath(s.grid, points, s.cfg.Resolution)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "map path")
	}
	return s.AnalyzePath(ctx, runID, path)
}

// AnalyzePath runs loop detection and area resolution over an already discretized path and
// upserts the result for runID.
func (s *TerritoryService) AnalyzePath(ctx context.Context, runID string, path []string) (*RunLoop, error) {
	log := logger.C(ctx).With().Str("run_id", runID).Logger()

	detected, ok := territory.DetectLoop(path, s.cfg.MinLoopLength)
	if !ok {
		observability.RecordAnalysisSkipped("no_loop")
		log.Debug().Int("path_cells", len(path)).Msg("path closes no loop")
		return nil, nil
	}

	resolveCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		resolveCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	started := time.Now()
	enclosed, err := s.resolver.Enclosed(resolveCtx, detected.Boundary, s.cfg.Resolution)
	observability.ObserveAreaResolve(time.Since(started))
	if err != nil {
		observability.RecordAnalysisSkipped("resolve_failed")
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			// Deterministic work; a retry would time out again.
			return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "area resolution exceeded %s", s.cfg.Timeout)
		}
		return nil, err
	}

	loop := RunLoop{
		RunID:      runID,
		CycleKey:   CycleKey(detected.Boundary),
		StartIndex: detected.StartIndex,
		EndIndex:   detected.EndIndex,
		Boundary:   detected.Boundary,
		Enclosed:   enclosed,
		UpdatedAt:  s.now().UTC(),
	}
	if err := s.loops.UpsertLoop(ctx, loop); err != nil {
		return nil, storageErr(err, "upsert loop")
	}
	observability.RecordLoopDetected(len(enclosed))
	log.Info().
		Int("loop_start", loop.StartIndex).
		Int("loop_end", loop.EndIndex).
		Int("enclosed_cells", len(enclosed)).
		Msg("territory captured")
	return &loop, nil
}

// GetLoop returns the stored loop of a run owned by userID.
func (s *TerritoryService) GetLoop(ctx context.Context, userID, runID string) (*RunLoop, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, storageErr(err, "get run")
	}
	if run == nil || run.UserID != userID {
		return nil, perr.NotFoundf("run %s not found", runID)
	}
	loop, err := s.loops.GetLoop(ctx, runID)
	if err != nil {
		return nil, storageErr(err, "get loop")
	}
	if loop == nil {
		return nil, perr.NotFoundf("run %s has no captured loop", runID)
	}
	return loop, nil
}

// CycleKey identifies a loop by its distinct boundary cells, independent of where the runner
// started walking it.
func CycleKey(boundary []string) string {
	seen := make(map[string]struct{}, len(boundary))
	cells := make([]string, 0, len(boundary))
	for _, c := range boundary {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		cells = append(cells, c)
	}
	sort.Strings(cells)
	sum := sha256.Sum256([]byte(strings.Join(cells, ",")))
	return hex.EncodeToString(sum[:])
}

type rawPoint struct {
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
	Lon       *float64 `json:"lon"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (p rawPoint) coords() (territory.LatLng, bool) {
	lat := firstSet(p.Lat, p.Latitude)
	lng := firstSet(p.Lng, p.Lon, p.Longitude)
	if lat == nil || lng == nil {
		return territory.LatLng{}, false
	}
	return territory.LatLng{Lat: *lat, Lng: *lng}, true
}

func firstSet(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

// RoutePoints extracts the ordered coordinates of a run: the raw trajectory points that carry a
// position, or the decoded polyline when none do.
func RoutePoints(run Run, trajectory *RawTrajectory) ([]territory.LatLng, error) {
	if trajectory != nil {
		points := make([]territory.LatLng, 0, len(trajectory.Points))
		for _, raw := range trajectory.Points {
			var p rawPoint
			if err := json.Unmarshal(raw, &p); err != nil {
				continue
			}
			if ll, ok := p.coords(); ok {
				points = append(points, ll)
			}
		}
		if len(points) > 0 {
			return points, nil
		}
	}
	if strings.TrimSpace(run.Polyline) == "" {
		return nil, nil
	}
	points, err := territory.DecodePolyline(run.Polyline)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeInvalidArgument, "route polyline")
	}
	return points, nil
}
