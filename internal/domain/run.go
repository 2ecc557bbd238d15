package domain

import (
	"context"
	"encoding/json"
	"time"
)

// RunStatus is assigned once when a run is created.
type RunStatus string

const (
	RunStatusSynced      RunStatus = "synced"
	RunStatusOverlapping RunStatus = "overlapping"
)

// Run is the canonical record of one submitted run. Its id is client supplied and global.
type Run struct {
	ID           string
	UserID       string
	StartTime    time.Time
	EndTime      time.Time
	Duration     float64
	Distance     float64
	ActivityType string
	Polyline     string
	Status       RunStatus
	Metadata     map[string]any
	CreatedAt    time.Time
}

// RawTrajectory is the append-only copy of the points a client uploaded with a run.
type RawTrajectory struct {
	ID        string
	RunID     string
	Points    []json.RawMessage
	CreatedAt time.Time
}

// RunLoop is the captured-territory result stored for a run. At most one exists per run.
type RunLoop struct {
	RunID      string
	CycleKey   string
	StartIndex int
	EndIndex   int
	Boundary   []string
	Enclosed   []string
	UpdatedAt  time.Time
}

// Cursor models the run listing pagination token.
type Cursor struct {
	StartTime time.Time
	ID        string
}

// RunRepository persists runs and their raw trajectories.
type RunRepository interface {
	// GetRun returns nil, nil when the id is unknown.
	GetRun(ctx context.Context, id string) (*Run, error)
	// HasOverlap reports whether userID owns a run with start < end AND end > start.
	HasOverlap(ctx context.Context, userID string, start, end time.Time) (bool, error)
	// CreateRun writes the run and its trajectory atomically. A taken id yields a duplicate key error.
	CreateRun(ctx context.Context, run Run, trajectory RawTrajectory) error
	// GetTrajectory returns nil, nil when the run has no stored trajectory.
	GetTrajectory(ctx context.Context, runID string) (*RawTrajectory, error)
	ListRunsByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Run, *Cursor, error)
}

// LoopRepository stores one RunLoop per run, replacing it wholesale on upsert.
type LoopRepository interface {
	UpsertLoop(ctx context.Context, loop RunLoop) error
	// GetLoop returns nil, nil when no loop has been stored for the run.
	GetLoop(ctx context.Context, runID string) (*RunLoop, error)
}

// AnalysisTrigger is told about every newly created run so its territory can be analyzed.
type AnalysisTrigger interface {
	RunCreated(ctx context.Context, run Run) error
}
