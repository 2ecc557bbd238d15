// Package domain defines run ingestion and territory analysis.
package domain

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	perr "example.com/territory/internal/errors"
	"example.com/territory/internal/logger"
	"example.com/territory/internal/observability"
	"example.com/territory/internal/validation"
)

// SubmitRunInput is one run submission. UserID comes from the caller's credentials.
type SubmitRunInput struct {
	ID           string            `json:"id" validate:"required"`
	UserID       string            `json:"-"`
	StartTime    string            `json:"start_time" validate:"required,instant"`
	EndTime      string            `json:"end_time" validate:"required,instant"`
	Duration     float64           `json:"duration" validate:"min=0"`
	Distance     float64           `json:"distance" validate:"min=0"`
	ActivityType string            `json:"activity_type"`
	Polyline     string            `json:"polyline" validate:"required"`
	RawData      []json.RawMessage `json:"raw_data" validate:"required,min=1"`
	Metadata     map[string]any    `json:"metadata"`
}

// SubmitResult is returned for both fresh and replayed submissions.
type SubmitResult struct {
	RunID      string
	Status     RunStatus
	ReceivedAt time.Time
	Replay     bool
}

// IngestionService accepts run submissions idempotently by run id.
type IngestionService struct {
	runs    RunRepository
	trigger AnalysisTrigger
	now     func() time.Time
}

// IngestionOption configures an IngestionService.
type IngestionOption func(*IngestionService)

// WithClock overrides the clock used for creation timestamps.
func WithClock(now func() time.Time) IngestionOption {
	return func(s *IngestionService) { s.now = now }
}

// NewIngestionService constructs an IngestionService.
func NewIngestionService(runs RunRepository, trigger AnalysisTrigger, opts ...IngestionOption) *IngestionService {
	s := &IngestionService{runs: runs, trigger: trigger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit validates and stores a run, flagging it overlapping when the same user already has a run
// whose interval intersects it. Resubmitting an id the caller already owns returns the stored
// status without writing anything; an id owned by someone else is forbidden.
func (s *IngestionService) Submit(ctx context.Context, in SubmitRunInput) (SubmitResult, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return SubmitResult{}, perr.Unauthorizedf("missing caller identity")
	}
	if strings.TrimSpace(in.ID) == "" {
		return SubmitResult{}, perr.Validationf("id", "id is required")
	}

	existing, err := s.runs.GetRun(ctx, in.ID)
	if err != nil {
		return SubmitResult{}, storageErr(err, "lookup run")
	}
	if existing != nil {
		return replay(ctx, existing, in.UserID)
	}

	start, end, err := validateSubmission(in)
	if err != nil {
		return SubmitResult{}, err
	}

	overlapping, err := s.runs.HasOverlap(ctx, in.UserID, start, end)
	if err != nil {
		return SubmitResult{}, storageErr(err, "overlap check")
	}
	status := RunStatusSynced
	if overlapping {
		status = RunStatusOverlapping
	}

	now := s.now().UTC()
	run := Run{
		ID:           in.ID,
		UserID:       in.UserID,
		StartTime:    start,
		EndTime:      end,
		Duration:     in.Duration,
		Distance:     in.Distance,
		ActivityType: in.ActivityType,
		Polyline:     in.Polyline,
		Status:       status,
		Metadata:     in.Metadata,
		CreatedAt:    now,
	}
	trajectory := RawTrajectory{
		ID:        uuid.NewString(),
		RunID:     in.ID,
		Points:    in.RawData,
		CreatedAt: now,
	}

	if err := s.runs.CreateRun(ctx, run, trajectory); err != nil {
		if perr.IsDuplicateKey(err) {
			// Lost a race on the same id; the stored row decides.
			winner, lookupErr := s.runs.GetRun(ctx, in.ID)
			if lookupErr != nil {
				return SubmitResult{}, storageErr(lookupErr, "lookup run")
			}
			if winner != nil {
				return replay(ctx, winner, in.UserID)
			}
		}
		return SubmitResult{}, storageErr(err, "create run")
	}
	observability.RecordRunIngested(string(status), now)

	if err := s.trigger.RunCreated(ctx, run); err != nil {
		logger.C(ctx).Warn().Err(err).Str("run_id", run.ID).Msg("territory analysis trigger failed")
	}

	return SubmitResult{RunID: run.ID, Status: status, ReceivedAt: now}, nil
}

// GetRun returns a run owned by userID. Runs owned by others are reported as not found.
func (s *IngestionService) GetRun(ctx context.Context, userID, runID string) (*Run, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, storageErr(err, "get run")
	}
	if run == nil || run.UserID != userID {
		return nil, perr.NotFoundf("run %s not found", runID)
	}
	return run, nil
}

// ListRuns pages through a user's runs, newest start time first.
func (s *IngestionService) ListRuns(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Run, *Cursor, error) {
	runs, next, err := s.runs.ListRunsByUser(ctx, userID, cursor, limit)
	if err != nil {
		return nil, nil, storageErr(err, "list runs")
	}
	return runs, next, nil
}

func replay(ctx context.Context, existing *Run, userID string) (SubmitResult, error) {
	if existing.UserID != userID {
		observability.RecordForbiddenSubmission()
		logger.C(ctx).Warn().Str("run_id", existing.ID).Msg("run id already owned by another user")
		return SubmitResult{}, perr.Forbiddenf("run %s belongs to another user", existing.ID)
	}
	observability.RecordReplay()
	return SubmitResult{
		RunID:      existing.ID,
		Status:     existing.Status,
		ReceivedAt: existing.CreatedAt,
		Replay:     true,
	}, nil
}

func validateSubmission(in SubmitRunInput) (time.Time, time.Time, error) {
	if err := validation.Struct(in); err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, err := validation.ParseInstant(in.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, perr.Validationf("start_time", "start_time must be an RFC 3339 timestamp")
	}
	end, err := validation.ParseInstant(in.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, perr.Validationf("end_time", "end_time must be an RFC 3339 timestamp")
	}
	if !end.After(start) {
		return time.Time{}, time.Time{}, perr.Validationf("end_time", "end_time must be after start_time")
	}
	return start.UTC(), end.UTC(), nil
}

// storageErr keeps coded store errors and classifies everything else as a storage failure.
func storageErr(err error, op string) error {
	if _, ok := perr.As(err); ok {
		return err
	}
	return perr.Wrap(err, perr.ErrorCodeDB, op)
}
