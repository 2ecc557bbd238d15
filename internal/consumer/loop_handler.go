package consumer

import (
	"context"
	"encoding/json"
	"time"

	"example.com/territory/internal/domain"
	perr "example.com/territory/internal/errors"
	"example.com/territory/internal/events"
	"example.com/territory/internal/logger"
)

// LoopHandler runs territory analysis for every run.ingested event.
type LoopHandler struct {
	analyzer domain.RunAnalyzer
	timeout  time.Duration
	log      *logger.Logger
}

// NewLoopHandler constructs a LoopHandler. A zero timeout leaves analysis unbounded.
func NewLoopHandler(analyzer domain.RunAnalyzer, timeout time.Duration) *LoopHandler {
	return &LoopHandler{analyzer: analyzer, timeout: timeout, log: logger.Named("loop_handler")}
}

// Handle implements Handler. Only retryable failures are returned; everything else is logged and
// acknowledged, since redelivering the same run would fail the same way.
func (h *LoopHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.TypeRunIngested {
		recordSkipped("event_type")
		return nil
	}

	var evt events.RunIngested
	if err := json.Unmarshal(msg.Payload, &evt); err != nil || evt.RunID == "" {
		h.log.Warn().Err(err).Int64("offset", msg.Offset).Msg("run.ingested without run id")
		recordSkipped("malformed")
		return nil
	}

	actx := logger.WithRequest(ctx, "", evt.UserID)
	if h.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, h.timeout)
		defer cancel()
	}

	loop, err := h.analyzer.AnalyzeRun(actx, evt.RunID)
	if err != nil {
		if perr.Retryable(err) {
			return err
		}
		h.log.Warn().Err(err).Str("run_id", evt.RunID).Stringer("code", perr.CodeOf(err)).Msg("analysis abandoned")
		recordSkipped(perr.CodeOf(err).String())
		return nil
	}
	if loop == nil {
		recordSkipped("no_loop")
	}
	return nil
}
