package credcore

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
)

// activitySink turns login and logout audit events into activity records.
type activitySink struct {
	log    ActivityLog
	logger *slog.Logger
}

func (s activitySink) Emit(ctx context.Context, ev AuditEvent) {
	var action ActivityAction
	switch {
	case ev.Type == auditEventLoginSuccess && ev.Success:
		action = ActivityLogin
	case ev.Type == auditEventLogout && ev.Success:
		action = ActivityLogout
	default:
		return
	}

	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec := ActivityRecord{
		ID:        ulid.MustNew(ulid.Timestamp(ts), ulid.DefaultEntropy()).String(),
		UserID:    ev.UserID,
		Action:    action,
		IP:        ev.IP,
		UserAgent: ev.UserAgent,
		CreatedAt: ts,
	}
	if err := s.log.RecordActivity(ctx, rec); err != nil {
		s.logger.WarnContext(ctx, "activity record dropped",
			"user_id", ev.UserID, "action", string(action), "error", err)
	}
}
