// Package postgres stores runs, trajectories, loops and their outbox events in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/territory/internal/domain"
	perr "example.com/territory/internal/errors"
	"example.com/territory/internal/events"
)

// Repository implements domain.RunRepository and domain.LoopRepository. Every run it creates and
// every loop it stores also writes an outbox row in the same transaction.
type Repository struct {
	pool *pgxpool.Pool
}

var (
	_ domain.RunRepository  = (*Repository)(nil)
	_ domain.LoopRepository = (*Repository)(nil)
)

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const runColumns = `id, user_id, start_time, end_time, duration, distance, activity_type, polyline, status, metadata, created_at`

func scanRun(row pgx.Row) (domain.Run, error) {
	var (
		run    domain.Run
		status string
	)
	err := row.Scan(&run.ID, &run.UserID, &run.StartTime, &run.EndTime, &run.Duration, &run.Distance,
		&run.ActivityType, &run.Polyline, &status, &run.Metadata, &run.CreatedAt)
	run.Status = domain.RunStatus(status)
	return run, err
}

// GetRun implements domain.RunRepository.
func (r *Repository) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	run, err := scanRun(r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, perr.FromPostgres(err, "get run")
	}
	return &run, nil
}

// HasOverlap implements domain.RunRepository.
func (r *Repository) HasOverlap(ctx context.Context, userID string, start, end time.Time) (bool, error) {
	const query = `SELECT EXISTS (
        SELECT 1 FROM runs WHERE user_id = $1 AND start_time < $3 AND end_time > $2
    )`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, start, end).Scan(&exists); err != nil {
		return false, perr.FromPostgres(err, "overlap check")
	}
	return exists, nil
}

// CreateRun implements domain.RunRepository. A taken id surfaces as a duplicate key error and
// leaves nothing behind.
func (r *Repository) CreateRun(ctx context.Context, run domain.Run, trajectory domain.RawTrajectory) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return perr.FromPostgres(err, "begin create run")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const insertRun = `INSERT INTO runs (` + runColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	if _, err = tx.Exec(ctx, insertRun,
		run.ID, run.UserID, run.StartTime, run.EndTime, run.Duration, run.Distance,
		run.ActivityType, run.Polyline, string(run.Status), run.Metadata, run.CreatedAt,
	); err != nil {
		return perr.FromPostgres(err, "insert run")
	}

	points, err := json.Marshal(trajectory.Points)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "encode trajectory")
	}
	if _, err = tx.Exec(ctx,
		`INSERT INTO raw_trajectories (id, run_id, points, created_at) VALUES ($1,$2,$3,$4)`,
		trajectory.ID, run.ID, points, trajectory.CreatedAt,
	); err != nil {
		return perr.FromPostgres(err, "insert trajectory")
	}

	if err = insertOutbox(ctx, tx, outboxRow{
		userID:      run.UserID,
		aggregateID: run.ID,
		eventType:   events.TypeRunIngested,
		dedupeKey:   run.ID + ":" + events.TypeRunIngested,
		payload: events.RunIngested{
			RunID:      run.ID,
			UserID:     run.UserID,
			Status:     string(run.Status),
			StartTime:  run.StartTime,
			EndTime:    run.EndTime,
			IngestedAt: run.CreatedAt,
		},
	}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return perr.FromPostgres(err, "commit create run")
	}
	return nil
}

// GetTrajectory implements domain.RunRepository.
func (r *Repository) GetTrajectory(ctx context.Context, runID string) (*domain.RawTrajectory, error) {
	var (
		t   domain.RawTrajectory
		raw []byte
	)
	err := r.pool.QueryRow(ctx,
		`SELECT id::text, run_id, points, created_at FROM raw_trajectories WHERE run_id = $1 ORDER BY created_at LIMIT 1`, runID,
	).Scan(&t.ID, &t.RunID, &raw, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, perr.FromPostgres(err, "get trajectory")
	}
	if err := json.Unmarshal(raw, &t.Points); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeJSON, "decode trajectory")
	}
	return &t, nil
}

// ListRunsByUser implements domain.RunRepository with keyset pagination on (start_time, id).
func (r *Repository) ListRunsByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Run, *domain.Cursor, error) {
	args := []any{userID, limit}
	query := `SELECT ` + runColumns + ` FROM runs WHERE user_id = $1`
	if cursor != nil {
		query += ` AND (start_time, id) < ($3, $4)`
		args = append(args, cursor.StartTime, cursor.ID)
	}
	query += ` ORDER BY start_time DESC, id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, perr.FromPostgres(err, "list runs")
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Run, error) { return scanRun(row) })
	if err != nil {
		return nil, nil, perr.FromPostgres(err, "scan runs")
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{StartTime: last.StartTime, ID: last.ID}
	}
	return results, next, nil
}

// UpsertLoop implements domain.LoopRepository. The stored row is replaced wholesale and a
// loop.captured event is recorded once per distinct cycle.
func (r *Repository) UpsertLoop(ctx context.Context, loop domain.RunLoop) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return perr.FromPostgres(err, "begin upsert loop")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var userID string
	if err = tx.QueryRow(ctx, `SELECT user_id FROM runs WHERE id = $1`, loop.RunID).Scan(&userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return perr.NotFoundf("run %s not found", loop.RunID)
		}
		return perr.FromPostgres(err, "lookup loop owner")
	}

	const upsert = `INSERT INTO run_loops (run_id, cycle_key, start_index, end_index, boundary, enclosed, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (run_id) DO UPDATE SET
            cycle_key = EXCLUDED.cycle_key,
            start_index = EXCLUDED.start_index,
            end_index = EXCLUDED.end_index,
            boundary = EXCLUDED.boundary,
            enclosed = EXCLUDED.enclosed,
            updated_at = EXCLUDED.updated_at`
	if _, err = tx.Exec(ctx, upsert,
		loop.RunID, loop.CycleKey, loop.StartIndex, loop.EndIndex,
		nonNil(loop.Boundary), nonNil(loop.Enclosed), loop.UpdatedAt,
	); err != nil {
		return perr.FromPostgres(err, "upsert loop")
	}

	if err = insertOutbox(ctx, tx, outboxRow{
		userID:      userID,
		aggregateID: loop.RunID,
		eventType:   events.TypeLoopCaptured,
		dedupeKey:   fmt.Sprintf("%s:%s:%s", loop.RunID, events.TypeLoopCaptured, loop.CycleKey),
		payload: events.LoopCaptured{
			RunID:         loop.RunID,
			UserID:        userID,
			CycleKey:      loop.CycleKey,
			BoundaryCells: len(loop.Boundary),
			EnclosedCells: len(loop.Enclosed),
			CapturedAt:    loop.UpdatedAt,
		},
	}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return perr.FromPostgres(err, "commit upsert loop")
	}
	return nil
}

// GetLoop implements domain.LoopRepository.
func (r *Repository) GetLoop(ctx context.Context, runID string) (*domain.RunLoop, error) {
	var loop domain.RunLoop
	err := r.pool.QueryRow(ctx,
		`SELECT run_id, cycle_key, start_index, end_index, boundary, enclosed, updated_at FROM run_loops WHERE run_id = $1`, runID,
	).Scan(&loop.RunID, &loop.CycleKey, &loop.StartIndex, &loop.EndIndex, &loop.Boundary, &loop.Enclosed, &loop.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, perr.FromPostgres(err, "get loop")
	}
	return &loop, nil
}

type outboxRow struct {
	userID      string
	aggregateID string
	eventType   string
	dedupeKey   string
	payload     any
}

// insertOutbox records an event for the dispatcher. Rows whose dedupe key already exists are skipped.
func insertOutbox(ctx context.Context, tx pgx.Tx, row outboxRow) error {
	route, ok := events.Lookup(row.eventType)
	if !ok {
		return perr.Newf(perr.ErrorCodeUnknown, "unknown event type: %s", row.eventType)
	}
	body, err := json.Marshal(row.payload)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeJSON, "encode event")
	}

	const stmt = `INSERT INTO outbox (user_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO NOTHING`
	if _, err := tx.Exec(ctx, stmt,
		row.userID, "run", row.aggregateID, row.eventType, route.Topic, route.SchemaSubject,
		row.aggregateID, body, row.dedupeKey,
	); err != nil {
		return perr.FromPostgres(err, "insert outbox")
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
