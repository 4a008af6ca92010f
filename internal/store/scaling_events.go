package store

import (
	"context"

	cperr "github.com/Harshaan-Chugh/rabbitreels/internal/errors"
)

// RecordScalingEvent durably audits a fleet change. internal/cache keeps
// the fast bounded-100 ring buffer spec §3 describes; this table is the
// unbounded audit trail operators can query after the ring buffer rolls
// the event off.
func (s *Store) RecordScalingEvent(ctx context.Context, action string, target, current, queueDepth int, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scaling_events (action, target_workers, current_workers, queue_depth, reason)
		VALUES ($1,$2,$3,$4,$5)`, action, target, current, queueDepth, reason)
	if err != nil {
		return cperr.New("RecordScalingEvent", cperr.KindDependencyUnavailable, err)
	}
	return nil
}
