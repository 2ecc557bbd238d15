package territory

import (
	"context"
	"fmt"
	"sort"

	perr "example.com/territory/internal/errors"
	"example.com/territory/internal/logger"
)

// minBoundaryCells is the smallest ring able to enclose anything.
const minBoundaryCells = 4

// Resolver computes the cells enclosed by a loop boundary.
type Resolver struct {
	grid          Grid
	maxBoundary   int
	maxResolution int
	log           *logger.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithMaxBoundary caps the number of boundary cells accepted. Zero disables the cap.
func WithMaxBoundary(n int) ResolverOption {
	return func(r *Resolver) { r.maxBoundary = n }
}

// WithMaxResolution caps the grid resolution accepted.
func WithMaxResolution(res int) ResolverOption {
	return func(r *Resolver) { r.maxResolution = res }
}

// WithResolverLogger overrides the logger used for degenerate geometry reports.
func WithResolverLogger(l *logger.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

// NewResolver builds a Resolver over grid.
func NewResolver(grid Grid, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		grid:          grid,
		maxBoundary:   2000,
		maxResolution: 15,
		log:           logger.Named("area_resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enclosed returns the sorted cells strictly inside boundary at resolution. The fill runs on its
// own goroutine so callers bound it with ctx; on cancellation ctx.Err() is returned and the
// abandoned fill finishes in the background. Degenerate rings yield an empty slice, not an error.
func (r *Resolver) Enclosed(ctx context.Context, boundary []string, resolution int) ([]string, error) {
	if len(boundary) < minBoundaryCells {
		r.log.Debug().Int("boundary_cells", len(boundary)).Msg("boundary too small to enclose area")
		return []string{}, nil
	}
	if r.maxBoundary > 0 && len(boundary) > r.maxBoundary {
		return nil, perr.InvalidArgf("boundary has %d cells, limit is %d", len(boundary), r.maxBoundary)
	}
	if resolution < 0 || resolution > r.maxResolution {
		return nil, perr.InvalidArgf("resolution %d outside [0, %d]", resolution, r.maxResolution)
	}

	type result struct {
		cells []string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		cells, err := r.fill(boundary, resolution)
		done <- result{cells: cells, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.cells, res.err
	}
}

func (r *Resolver) fill(boundary []string, resolution int) ([]string, error) {
	ring := make([]LatLng, 0, len(boundary)+1)
	for _, cell := range boundary {
		center, err := r.grid.CenterOf(cell)
		if err != nil {
			return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "boundary cell %q", cell)
		}
		ring = append(ring, center)
	}
	if ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}

	filled, err := r.grid.FillPolygon(ring, resolution)
	if err != nil {
		return nil, fmt.Errorf("fill polygon: %w", err)
	}

	wall := make(map[string]struct{}, len(boundary))
	for _, cell := range boundary {
		wall[cell] = struct{}{}
	}

	seen := make(map[string]struct{}, len(filled))
	interior := make([]string, 0, len(filled))
	for _, cell := range filled {
		if _, onWall := wall[cell]; onWall {
			continue
		}
		if _, dup := seen[cell]; dup {
			continue
		}
		seen[cell] = struct{}{}
		interior = append(interior, cell)
	}
	sort.Strings(interior)

	if len(interior) == 0 {
		r.log.Debug().Int("boundary_cells", len(boundary)).Int("resolution", resolution).Msg("boundary encloses no cells")
	}
	return interior, nil
}
