// Package audit emits one structured event per state-changing operation.
// The sink is fire-and-forget: an audit failure never rolls back or fails
// the operation that produced it.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/medanta-hms/opd-queue-core/pkg/logging"
)

type Event struct {
	Actor      string
	ActionType string
	EntityType string
	EntityID   string
	Details    map[string]any
	Timestamp  time.Time
}

type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Execer is the single pg operation the sink needs; pgxpool.Pool
// satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PgSink struct {
	db     Execer
	logger *logging.Logger
}

func NewPgSink(db Execer, logger *logging.Logger) *PgSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &PgSink{db: db, logger: logger}
}

func (s *PgSink) Emit(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	details, err := json.Marshal(ev.Details)
	if err != nil {
		s.logger.Warn("marshal audit details", "action", ev.ActionType, "error", err)
		details = nil
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO audit_events (actor, action_type, entity_type, entity_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.Actor, ev.ActionType, ev.EntityType, ev.EntityID, details, ev.Timestamp)
	if err != nil {
		s.logger.Warn("audit event dropped",
			"action", ev.ActionType, "entity_id", ev.EntityID, "error", err)
	}
}

// NopSink discards every event. Used in tests and tools that do not need
// an audit trail.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) {}
