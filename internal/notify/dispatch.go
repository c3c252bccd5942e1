package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stockline-erp/stockline/internal/shared"
)

const (
	// TaskDispatch delivers one persisted notification.
	TaskDispatch = "notify:dispatch"
	// QueueNotifications isolates delivery from other background work.
	QueueNotifications = "notifications"
)

type dispatchPayload struct {
	NotificationID string `json:"notification_id"`
}

// NewDispatchTask constructs the delivery task for a notification.
func NewDispatchTask(n Notification) (*asynq.Task, error) {
	data, err := json.Marshal(dispatchPayload{NotificationID: n.ID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDispatch, data), nil
}

// Enqueuer queues notification deliveries on Asynq.
type Enqueuer struct {
	client *asynq.Client
}

// NewEnqueuer constructs an Enqueuer.
func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

// Enqueue queues the dispatch task with retries.
func (e *Enqueuer) Enqueue(ctx context.Context, n Notification) error {
	task, err := NewDispatchTask(n)
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, task, asynq.Queue(QueueNotifications), asynq.MaxRetry(5), asynq.Timeout(30*time.Second))
	return err
}

// HandleDispatchTask processes TaskDispatch tasks. Delivery is the
// structured log line; external channels hang off this point.
func (s *Service) HandleDispatchTask(ctx context.Context, t *asynq.Task) error {
	var payload dispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	n, err := s.repo.Get(ctx, payload.NotificationID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return asynq.SkipRetry
		}
		return &DeliveryError{NotificationID: payload.NotificationID, Err: err}
	}
	if !n.DispatchedAt.IsZero() {
		return nil
	}
	s.logger.Info("notification delivered",
		slog.String("id", n.ID),
		slog.String("type", n.Type),
		slog.String("recipient_role", string(n.RecipientRole)),
		slog.String("recipient_id", n.RecipientID),
		slog.String("reference", n.Reference),
	)
	if err := s.markDelivered(ctx, n.ID); err != nil {
		return &DeliveryError{NotificationID: n.ID, Err: err}
	}
	return nil
}

// RequeueUndispatched re-queues notifications whose initial enqueue
// failed. Run from cron as the delivery safety net.
func (s *Service) RequeueUndispatched(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	if s.enqueuer == nil {
		return 0, nil
	}
	pending, err := s.repo.ListUndispatched(ctx, time.Now().UTC().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, n := range pending {
		if err := s.enqueuer.Enqueue(ctx, n); err != nil {
			s.logger.Warn("requeue notification", slog.String("id", n.ID), slog.Any("error", err))
			continue
		}
		requeued++
	}
	return requeued, nil
}
