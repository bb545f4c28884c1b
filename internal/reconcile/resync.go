package reconcile

import (
	"context"
	"fmt"
	"time"

	"hexdash/internal/logging"
	"hexdash/internal/session"
)

// ResyncResult summarizes a bulk total recomputation.
type ResyncResult struct {
	SessionsSeen    int
	SessionsUpdated int
}

// Resync recomputes token totals for every session directly from the
// source, independent of the entry log. Windows are bounded by the end
// time for ended sessions so neighboring sessions are not double counted;
// the active session's window stays open-ended. A recomputed total is
// adopted only when it exceeds the stored value, which keeps manual
// estimates and earlier resync results intact and makes re-runs no-ops.
func (r *Reconciler) Resync(ctx context.Context) (*ResyncResult, error) {
	timer := logging.StartTimer(logging.CategoryReconcile, "Resync")
	defer timer.Stop()

	sessions, err := r.sessions.List(session.Filter{})
	if err != nil {
		return nil, err
	}

	result := &ResyncResult{}
	for _, sess := range sessions {
		result.SessionsSeen++

		rows, err := r.src.RowsSince(ctx, sess.StartTime)
		if err != nil {
			// Source unavailability aborts the whole pass without mutation.
			return nil, err
		}

		var total int64
		for _, row := range rows {
			if row.Hash == "" {
				continue
			}
			if sess.EndTime != nil && row.CreatedTime().After(*sess.EndTime) {
				continue
			}
			total += int64(EstimateTokens(row.Source))
		}

		adopted, err := r.sessions.AdoptTotalIfLarger(sess.ID, total)
		if err != nil {
			return nil, fmt.Errorf("adopt total for %s: %w", sess.ID, err)
		}
		if adopted {
			result.SessionsUpdated++
			logging.Reconcile("Resync adopted total %d for session %s (window %s..%s)",
				total, sess.ID, sess.StartTime.Format(time.RFC3339), endLabel(sess))
		}
	}
	return result, nil
}

func endLabel(sess *session.Session) string {
	if sess.EndTime == nil {
		return "open"
	}
	return sess.EndTime.Format(time.RFC3339)
}
