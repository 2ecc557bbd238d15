// Package events defines the payloads published through the outbox and their routing.
package events

import "time"

// Event types written to the outbox.
const (
	TypeRunIngested  = "run.ingested"
	TypeLoopCaptured = "loop.captured"
)

// RunIngested is emitted once for every newly created run. Replays emit nothing.
type RunIngested struct {
	RunID      string    `json:"run_id"`
	UserID     string    `json:"user_id"`
	Status     string    `json:"status"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	IngestedAt time.Time `json:"ingested_at"`
}

// LoopCaptured is emitted whenever a run's loop is stored or replaced.
type LoopCaptured struct {
	RunID         string    `json:"run_id"`
	UserID        string    `json:"user_id"`
	CycleKey      string    `json:"cycle_key"`
	BoundaryCells int       `json:"boundary_cells"`
	EnclosedCells int       `json:"enclosed_cells"`
	CapturedAt    time.Time `json:"captured_at"`
}

// Route tells the outbox where an event type goes and which schema it carries.
type Route struct {
	Topic         string
	SchemaSubject string
	Schema        string
}

var routes = map[string]Route{
	TypeRunIngested: {
		Topic:         "territory_runs",
		SchemaSubject: "territory_runs-value",
		Schema:        runIngestedSchema,
	},
	TypeLoopCaptured: {
		Topic:         "territory_loops",
		SchemaSubject: "territory_loops-value",
		Schema:        loopCapturedSchema,
	},
}

// Lookup returns the route of eventType.
func Lookup(eventType string) (Route, bool) {
	r, ok := routes[eventType]
	return r, ok
}

const runIngestedSchema = `{
  "type": "object",
  "title": "RunIngested",
  "properties": {
    "run_id": {"type": "string"},
    "user_id": {"type": "string"},
    "status": {"type": "string", "enum": ["synced", "overlapping"]},
    "start_time": {"type": "string", "format": "date-time"},
    "end_time": {"type": "string", "format": "date-time"},
    "ingested_at": {"type": "string", "format": "date-time"}
  },
  "required": ["run_id", "user_id", "status", "start_time", "end_time", "ingested_at"],
  "additionalProperties": false
}`

const loopCapturedSchema = `{
  "type": "object",
  "title": "LoopCaptured",
  "properties": {
    "run_id": {"type": "string"},
    "user_id": {"type": "string"},
    "cycle_key": {"type": "string"},
    "boundary_cells": {"type": "integer"},
    "enclosed_cells": {"type": "integer"},
    "captured_at": {"type": "string", "format": "date-time"}
  },
  "required": ["run_id", "user_id", "cycle_key", "boundary_cells", "enclosed_cells", "captured_at"],
  "additionalProperties": false
}`
