package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/territory/internal/domain"
	perr "example.com/territory/internal/errors"
)

var base = time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)

func run(id, user string, startMin, endMin int) domain.Run {
	return domain.Run{
		ID:        id,
		UserID:    user,
		StartTime: base.Add(time.Duration(startMin) * time.Minute),
		EndTime:   base.Add(time.Duration(endMin) * time.Minute),
		Status:    domain.RunStatusSynced,
	}
}

func TestCreateRunRejectsTakenID(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.CreateRun(ctx, run("r1", "u1", 0, 30), domain.RawTrajectory{RunID: "r1"}))
	err := store.CreateRun(ctx, run("r1", "u2", 60, 90), domain.RawTrajectory{RunID: "r1"})
	require.True(t, perr.IsDuplicateKey(err))

	stored, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "u1", stored.UserID)
	require.Equal(t, 1, store.RunCount())
}

func TestGetRunUnknownIsNil(t *testing.T) {
	got, err := NewStore().GetRun(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestHasOverlapIsStrictAndPerUser(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	require.NoError(t, store.CreateRun(ctx, run("r1", "u1", 0, 30), domain.RawTrajectory{RunID: "r1"}))

	cases := []struct {
		name  string
		user  string
		start int
		end   int
		want  bool
	}{
		{"inside", "u1", 10, 20, true},
		{"straddles start", "u1", -10, 5, true},
		{"touches end", "u1", 30, 60, false},
		{"touches start", "u1", -30, 0, false},
		{"other user", "u2", 10, 20, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := store.HasOverlap(ctx, tc.user,
				base.Add(time.Duration(tc.start)*time.Minute),
				base.Add(time.Duration(tc.end)*time.Minute))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestListRunsByUserPaginates(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, store.CreateRun(ctx, run(id, "u1", i*60, i*60+30), domain.RawTrajectory{RunID: id}))
	}
	require.NoError(t, store.CreateRun(ctx, run("x", "u2", 0, 30), domain.RawTrajectory{RunID: "x"}))

	page, next, err := store.ListRunsByUser(ctx, "u1", nil, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"e", "d"}, ids(page))
	require.NotNil(t, next)

	page, next, err = store.ListRunsByUser(ctx, "u1", next, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, ids(page))

	page, next, err = store.ListRunsByUser(ctx, "u1", next, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, ids(page))
	require.Nil(t, next)
}

func TestUpsertLoopReplaces(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.UpsertLoop(ctx, domain.RunLoop{RunID: "r1", CycleKey: "k1", Enclosed: []string{"a"}}))
	require.NoError(t, store.UpsertLoop(ctx, domain.RunLoop{RunID: "r1", CycleKey: "k2", Enclosed: []string{"b", "c"}}))

	got, err := store.GetLoop(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "k2", got.CycleKey)
	require.Equal(t, []string{"b", "c"}, got.Enclosed)
	require.Equal(t, 1, store.LoopCount())

	missing, err := store.GetLoop(ctx, "r2")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestGetLoopKeepsEmptyEnclosedSet(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	require.NoError(t, store.UpsertLoop(ctx, domain.RunLoop{RunID: "r1", Boundary: []string{"a", "b", "a"}, Enclosed: []string{}}))

	got, err := store.GetLoop(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, got.Enclosed)
	require.Empty(t, got.Enclosed)
}

func TestReadsDoNotAliasStoredRows(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	run := domain.Run{ID: "r1", UserID: "u1", Metadata: map[string]any{"shoe": "a"}}
	require.NoError(t, store.CreateRun(ctx, run, domain.RawTrajectory{RunID: "r1"}))
	run.Metadata["shoe"] = "changed by caller"

	got, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "a", got.Metadata["shoe"])
	got.Metadata["shoe"] = "b"

	again, err := store.GetRun(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "a", again.Metadata["shoe"])

	require.NoError(t, store.UpsertLoop(ctx, domain.RunLoop{RunID: "r1", Boundary: []string{"x"}, Enclosed: []string{"y"}}))
	loop, err := store.GetLoop(ctx, "r1")
	require.NoError(t, err)
	loop.Boundary[0] = "mutated"
	loop.Enclosed[0] = "mutated"

	stored, err := store.GetLoop(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, stored.Boundary)
	require.Equal(t, []string{"y"}, stored.Enclosed)
}

func ids(runs []domain.Run) []string {
	out := make([]string, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.ID)
	}
	return out
}
