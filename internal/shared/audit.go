package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/meridian-exim/meridian-exim/internal/platform/db"
)

// AuditLog records a document mutation (create, delete, confirm) with
// machine-readable meta such as the document number and derivation id.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	q db.Querier
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(q db.Querier) *AuditLogger {
	return &AuditLogger{q: q}
}

// Record persists the log entry. A zero At is stamped with the current time;
// pgx would otherwise encode it as year 1, not NULL.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	_, err = l.q.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, log.At)
	return err
}
