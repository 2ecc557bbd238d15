//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/territory/db/postgres/migrations"
	"example.com/territory/internal/domain"
	perr "example.com/territory/internal/errors"
	"example.com/territory/internal/events"
	"example.com/territory/internal/persistence/postgres"
	"example.com/territory/internal/testsupport"
)

var start = time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)

func newRun(id, user string, offset time.Duration) domain.Run {
	return domain.Run{
		ID:           id,
		UserID:       user,
		StartTime:    start.Add(offset),
		EndTime:      start.Add(offset + 30*time.Minute),
		Duration:     1800,
		Distance:     5200,
		ActivityType: "run",
		Polyline:     "_p~iF~ps|U_ulLnnqC_mqNvxq`@",
		Status:       domain.RunStatusSynced,
		Metadata:     map[string]any{"device": "watch"},
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
	}
}

func trajectory(runID string) domain.RawTrajectory {
	return domain.RawTrajectory{
		ID:        uuid.NewString(),
		RunID:     runID,
		Points:    []json.RawMessage{json.RawMessage(`{"lat":1,"lng":2}`)},
		CreatedAt: time.Now().UTC(),
	}
}

func TestRepositoryCreateAndRead(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	repo := postgres.NewRepository(pool)

	run := newRun("run-1", "u1", 0)
	require.NoError(t, repo.CreateRun(ctx, run, trajectory(run.ID)))

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, run.UserID, got.UserID)
	require.Equal(t, domain.RunStatusSynced, got.Status)
	require.True(t, run.StartTime.Equal(got.StartTime))
	require.Equal(t, "watch", got.Metadata["device"])

	traj, err := repo.GetTrajectory(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, traj.Points, 1)
	require.JSONEq(t, `{"lat":1,"lng":2}`, string(traj.Points[0]))

	missing, err := repo.GetRun(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	var outboxRows int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1 AND event_type = $2`, run.ID, events.TypeRunIngested,
	).Scan(&outboxRows))
	require.Equal(t, 1, outboxRows)
}

func TestRepositoryDuplicateIDLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	repo := postgres.NewRepository(pool)

	require.NoError(t, repo.CreateRun(ctx, newRun("run-1", "u1", 0), trajectory("run-1")))
	err := repo.CreateRun(ctx, newRun("run-1", "u2", time.Hour), trajectory("run-1"))
	require.True(t, perr.IsDuplicateKey(err))

	var trajectories, outboxRows int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM raw_trajectories WHERE run_id = 'run-1'`).Scan(&trajectories))
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE aggregate_id = 'run-1'`).Scan(&outboxRows))
	require.Equal(t, 1, trajectories)
	require.Equal(t, 1, outboxRows)
}

func TestRepositoryOverlapAndPagination(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	repo := postgres.NewRepository(pool)

	for i, id := range []string{"a", "b", "c"} {
		run := newRun(id, "u1", time.Duration(i)*time.Hour)
		require.NoError(t, repo.CreateRun(ctx, run, trajectory(id)))
	}

	overlap, err := repo.HasOverlap(ctx, "u1", start.Add(10*time.Minute), start.Add(20*time.Minute))
	require.NoError(t, err)
	require.True(t, overlap)

	touching, err := repo.HasOverlap(ctx, "u1", start.Add(30*time.Minute), start.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, touching)

	other, err := repo.HasOverlap(ctx, "u2", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, other)

	page, next, err := repo.ListRunsByUser(ctx, "u1", nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "c", page[0].ID)
	require.Equal(t, "b", page[1].ID)
	require.NotNil(t, next)

	page, next, err = repo.ListRunsByUser(ctx, "u1", next, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, "a", page[0].ID)
	require.Nil(t, next)
}

func TestRepositoryUpsertLoopReplaces(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	repo := postgres.NewRepository(pool)
	require.NoError(t, repo.CreateRun(ctx, newRun("run-1", "u1", 0), trajectory("run-1")))

	first := domain.RunLoop{RunID: "run-1", CycleKey: "k1", StartIndex: 0, EndIndex: 6, Boundary: []string{"a", "b"}, Enclosed: []string{"x"}, UpdatedAt: time.Now().UTC()}
	require.NoError(t, repo.UpsertLoop(ctx, first))
	require.NoError(t, repo.UpsertLoop(ctx, first))

	second := first
	second.CycleKey = "k2"
	second.Enclosed = []string{}
	require.NoError(t, repo.UpsertLoop(ctx, second))

	got, err := repo.GetLoop(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "k2", got.CycleKey)
	require.Empty(t, got.Enclosed)

	var loops, captured int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM run_loops`).Scan(&loops))
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type = $1`, events.TypeLoopCaptured).Scan(&captured))
	require.Equal(t, 1, loops)
	require.Equal(t, 2, captured)

	err = repo.UpsertLoop(ctx, domain.RunLoop{RunID: "ghost", CycleKey: "k"})
	require.True(t, perr.IsCode(err, perr.ErrorCodeNotFound))
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	require.NoError(t, postgres.Migrate(ctx, pool, migrations.FS))

	var applied int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&applied))
	require.Equal(t, 2, applied)
}
