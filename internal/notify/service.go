package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stockline-erp/stockline/internal/shared"
)

// RepositoryPort describes notification persistence.
type RepositoryPort interface {
	Insert(ctx context.Context, n Notification) error
	Get(ctx context.Context, id string) (Notification, error)
	List(ctx context.Context, role shared.Role, recipientID string, unreadOnly bool, limit, offset int) ([]Notification, int, error)
	UnreadExists(ctx context.Context, notificationType, reference string, role shared.Role, recipientID string) (bool, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, role shared.Role, recipientID string) (int64, error)
	MarkDispatched(ctx context.Context, id string, at time.Time) error
	ListUndispatched(ctx context.Context, createdBefore time.Time, limit int) ([]Notification, error)
}

// EnqueuerPort hands a persisted notification to the dispatch queue.
type EnqueuerPort interface {
	Enqueue(ctx context.Context, n Notification) error
}

// Service persists notifications and queues them for delivery.
type Service struct {
	repo     RepositoryPort
	enqueuer EnqueuerPort
	logger   *slog.Logger
}

// NewService constructs the notify service.
func NewService(repo RepositoryPort, enqueuer EnqueuerPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, enqueuer: enqueuer, logger: logger}
}

// Publish persists the notification and queues it for delivery. An
// unread duplicate (same type and reference for the same inbox) is
// skipped so repeated low-stock scans do not pile up alerts. Enqueue
// failures return a DeliveryError; the row is already persisted and a
// later sweep re-queues it.
func (s *Service) Publish(ctx context.Context, n Notification) error {
	if n.Type == "" {
		return fmt.Errorf("notify: type required")
	}
	if n.RecipientRole == "" && n.RecipientID == "" {
		return fmt.Errorf("notify: recipient role or id required")
	}
	if n.Reference != "" {
		exists, err := s.repo.UnreadExists(ctx, n.Type, n.Reference, n.RecipientRole, n.RecipientID)
		if err != nil {
			return fmt.Errorf("notify: dedupe check: %w", err)
		}
		if exists {
			return nil
		}
	}
	n.ID = uuid.NewString()
	n.Read = false
	n.CreatedAt = time.Now().UTC()
	if err := s.repo.Insert(ctx, n); err != nil {
		return fmt.Errorf("notify: persist: %w", err)
	}
	if s.enqueuer == nil {
		return nil
	}
	if err := s.enqueuer.Enqueue(ctx, n); err != nil {
		return &DeliveryError{NotificationID: n.ID, Err: err}
	}
	return nil
}

// List returns the inbox for an actor: role-wide notifications plus
// ones addressed to them directly.
func (s *Service) List(ctx context.Context, actor shared.Actor, unreadOnly bool, limit, offset int) ([]Notification, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.List(ctx, actor.Role, actor.ID, unreadOnly, limit, offset)
}

// MarkRead marks one notification read.
func (s *Service) MarkRead(ctx context.Context, id string) error {
	return s.repo.MarkRead(ctx, id)
}

// MarkAllRead marks the actor's whole inbox read.
func (s *Service) MarkAllRead(ctx context.Context, actor shared.Actor) (int64, error) {
	return s.repo.MarkAllRead(ctx, actor.Role, actor.ID)
}

// markDelivered is called by the dispatcher once delivery succeeds.
func (s *Service) markDelivered(ctx context.Context, id string) error {
	return s.repo.MarkDispatched(ctx, id, time.Now().UTC())
}
