package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"example.com/territory/internal/domain"
	"example.com/territory/internal/hexgrid"
	"example.com/territory/internal/territory"
)

type detectOptions struct {
	polyline      string
	resolution    int
	minLoopLength int
	maxBoundary   int
}

// DetectResult is printed by the detect command.
type DetectResult struct {
	PathCells int         `json:"path_cells"`
	Loop      *LoopResult `json:"loop"`
}

// LoopResult describes the first loop found and the territory it encloses.
type LoopResult struct {
	CycleKey      string   `json:"cycle_key"`
	StartIndex    int      `json:"start_index"`
	EndIndex      int      `json:"end_index"`
	BoundaryCells []string `json:"boundary_cells"`
	EnclosedCells []string `json:"enclosed_cells"`
}

func newDetectCmd() *cobra.Command {
	opts := detectOptions{}
	cmd := &cobra.Command{
		Use:   "detect [points.json]",
		Short: "Detect a loop in a path without touching the database",
		Long: `Maps a path onto the H3 grid, finds its first loop and resolves the enclosed cells.

The path is either a JSON array of points in any raw_data shape ({"lat","lng"},
{"latitude","longitude"}, ...) read from the file argument or stdin ("-"), or an
encoded polyline given with --polyline.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []json.RawMessage
			if len(args) == 1 {
				var data []byte
				var err error
				if args[0] == "-" {
					data, err = io.ReadAll(cmd.InOrStdin())
				} else {
					data, err = os.ReadFile(args[0])
				}
				if err != nil {
					return fmt.Errorf("read points: %w", err)
				}
				if err := json.Unmarshal(data, &raw); err != nil {
					return fmt.Errorf("points must be a JSON array: %w", err)
				}
			}
			if len(raw) == 0 && opts.polyline == "" {
				return fmt.Errorf("provide a points file or --polyline")
			}

			points, err := domain.RoutePoints(domain.Run{Polyline: opts.polyline}, &domain.RawTrajectory{Points: raw})
			if err != nil {
				return err
			}
			result, err := detect(cmd, hexgrid.New(), points, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&opts.polyline, "polyline", "", "encoded polyline used when no points file is given")
	cmd.Flags().IntVar(&opts.resolution, "resolution", 10, "H3 resolution")
	cmd.Flags().IntVar(&opts.minLoopLength, "min-loop", 5, "minimum loop length in cells")
	cmd.Flags().IntVar(&opts.maxBoundary, "max-boundary", 2000, "largest boundary resolved, 0 for no cap")
	return cmd
}

func detect(cmd *cobra.Command, grid territory.Grid, points []territory.LatLng, opts detectOptions) (DetectResult, error) {
	path, err := territory.MapPath(grid, points, opts.resolution)
	if err != nil {
		return DetectResult{}, err
	}
	result := DetectResult{PathCells: len(path)}

	loop, ok := territory.DetectLoop(path, opts.minLoopLength)
	if !ok {
		return result, nil
	}
	resolver := territory.NewResolver(grid, territory.WithMaxBoundary(opts.maxBoundary))
	enclosed, err := resolver.Enclosed(cmd.Context(), loop.Boundary, opts.resolution)
	if err != nil {
		return DetectResult{}, err
	}
	result.Loop = &LoopResult{
		CycleKey:      domain.CycleKey(loop.Boundary),
		StartIndex:    loop.StartIndex,
		EndIndex:      loop.EndIndex,
		BoundaryCells: loop.Boundary,
		EnclosedCells: enclosed,
	}
	return result, nil
}
