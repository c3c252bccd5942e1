package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TransitionLog represents one applied lifecycle transition.
type TransitionLog struct {
	ID       int64
	Entity   string
	EntityID string
	Name     string
	ActorID  string
	Role     Role
	Note     string
	At       time.Time
}

// TransitionObserver counts applied transitions, typically a metrics
// registry.
type TransitionObserver interface {
	ObserveTransition(entity, transition string)
}

// TransitionRecorder persists transition history for audit views.
type TransitionRecorder struct {
	pool     *pgxpool.Pool
	logger   *slog.Logger
	observer TransitionObserver
}

// NewTransitionRecorder constructs TransitionRecorder.
func NewTransitionRecorder(pool *pgxpool.Pool, logger *slog.Logger, observer TransitionObserver) *TransitionRecorder {
	return &TransitionRecorder{pool: pool, logger: logger, observer: observer}
}

// Record writes a transition entry to the database.
func (r *TransitionRecorder) Record(ctx context.Context, log TransitionLog) error {
	if r == nil {
		return errors.New("transition recorder not initialised")
	}
	if log.Entity == "" || log.EntityID == "" {
		return errors.New("transition entity required")
	}
	if log.Name == "" {
		return errors.New("transition name required")
	}
	if log.ActorID == "" {
		return errors.New("transition actor required")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO transition_logs (entity, entity_id, name, actor_id, actor_role, note, at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`, log.Entity, log.EntityID, log.Name, log.ActorID, string(log.Role), log.Note, nullTime(log.At))
	if err != nil {
		r.logger.Error("record transition", slog.Any("error", err))
		return err
	}
	if r.observer != nil {
		r.observer.ObserveTransition(log.Entity, log.Name)
	}
	return nil
}

// List returns transition history for an entity, oldest first.
func (r *TransitionRecorder) List(ctx context.Context, entity, entityID string) ([]TransitionLog, error) {
	if r == nil {
		return nil, errors.New("transition recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, entity, entity_id, name, actor_id, actor_role, note, at
FROM transition_logs WHERE entity=$1 AND entity_id=$2 ORDER BY at ASC`, entity, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []TransitionLog
	for rows.Next() {
		var l TransitionLog
		var role string
		if err := rows.Scan(&l.ID, &l.Entity, &l.EntityID, &l.Name, &l.ActorID, &role, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Role = Role(role)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
