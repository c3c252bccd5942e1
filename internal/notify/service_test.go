package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/stockline-erp/stockline/internal/shared"
)

type memoryRepo struct {
	mu            sync.Mutex
	notifications map[string]Notification
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{notifications: map[string]Notification{}}
}

func (r *memoryRepo) Insert(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[n.ID] = n
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id string) (Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return Notification{}, shared.ErrNotFound
	}
	return n, nil
}

func (r *memoryRepo) List(ctx context.Context, role shared.Role, recipientID string, unreadOnly bool, limit, offset int) ([]Notification, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.notifications {
		if n.RecipientRole != role && n.RecipientID != recipientID {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, n)
	}
	return out, len(out), nil
}

func (r *memoryRepo) UnreadExists(ctx context.Context, notificationType, reference string, role shared.Role, recipientID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.notifications {
		if n.Type == notificationType && n.Reference == reference && n.RecipientRole == role && n.RecipientID == recipientID && !n.Read {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) MarkRead(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return shared.ErrNotFound
	}
	n.Read = true
	r.notifications[id] = n
	return nil
}

func (r *memoryRepo) MarkAllRead(ctx context.Context, role shared.Role, recipientID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, n := range r.notifications {
		if (n.RecipientRole == role || n.RecipientID == recipientID) && !n.Read {
			n.Read = true
			r.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func (r *memoryRepo) MarkDispatched(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[id]
	if !ok {
		return shared.ErrNotFound
	}
	n.DispatchedAt = at
	r.notifications[id] = n
	return nil
}

func (r *memoryRepo) ListUndispatched(ctx context.Context, createdBefore time.Time, limit int) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Notification
	for _, n := range r.notifications {
		if n.DispatchedAt.IsZero() && n.CreatedAt.Before(createdBefore) {
			out = append(out, n)
		}
	}
	return out, nil
}

type stubEnqueuer struct {
	enqueued []Notification
	fail     bool
}

func (s *stubEnqueuer) Enqueue(ctx context.Context, n Notification) error {
	if s.fail {
		return fmt.Errorf("queue unreachable")
	}
	s.enqueued = append(s.enqueued, n)
	return nil
}

func newTestService(t *testing.T) (*Service, *memoryRepo, *stubEnqueuer) {
	t.Helper()
	repo := newMemoryRepo()
	enqueuer := &stubEnqueuer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, enqueuer, logger), repo, enqueuer
}

func TestPublishPersistsAndEnqueues(t *testing.T) {
	svc, repo, enqueuer := newTestService(t)

	err := svc.Publish(context.Background(), Notification{
		RecipientRole: shared.RoleDepartmentHead,
		Type:          TypeOrderSubmitted,
		Message:       "Order PO-2026-0001 awaits approval",
		Reference:     "PO-2026-0001",
	})
	require.NoError(t, err)
	require.Len(t, repo.notifications, 1)
	require.Len(t, enqueuer.enqueued, 1)
	require.NotEmpty(t, enqueuer.enqueued[0].ID)
}

func TestPublishSkipsUnreadDuplicate(t *testing.T) {
	svc, repo, _ := newTestService(t)
	n := Notification{
		RecipientRole: shared.RoleWarehouse,
		Type:          TypeLowStock,
		Message:       "Stock for rice is low",
		Reference:     "rice",
	}
	require.NoError(t, svc.Publish(context.Background(), n))
	require.NoError(t, svc.Publish(context.Background(), n))
	require.Len(t, repo.notifications, 1)
}

func TestPublishEnqueueFailureStillPersists(t *testing.T) {
	svc, repo, enqueuer := newTestService(t)
	enqueuer.fail = true

	err := svc.Publish(context.Background(), Notification{
		RecipientRole: shared.RoleAuditor,
		Type:          TypePricingRequired,
		Message:       "Delivery PUR-2026-0001 received",
		Reference:     "PUR-2026-0001",
	})
	var de *DeliveryError
	require.ErrorAs(t, err, &de)
	require.Len(t, repo.notifications, 1)
}

func TestRequeueUndispatched(t *testing.T) {
	svc, repo, enqueuer := newTestService(t)
	enqueuer.fail = true
	_ = svc.Publish(context.Background(), Notification{
		RecipientRole: shared.RoleAuditor,
		Type:          TypePricingRequired,
		Reference:     "PUR-2026-0001",
		Message:       "pending",
	})
	// Backdate so the sweep window covers it.
	for id, n := range repo.notifications {
		n.CreatedAt = time.Now().UTC().Add(-time.Hour)
		repo.notifications[id] = n
	}
	enqueuer.fail = false

	count, err := svc.RequeueUndispatched(context.Background(), time.Minute, 100)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Len(t, enqueuer.enqueued, 1)
}

func TestHandleDispatchTaskMarksDelivered(t *testing.T) {
	svc, repo, _ := newTestService(t)
	require.NoError(t, svc.Publish(context.Background(), Notification{
		RecipientRole: shared.RolePurchasing,
		Type:          TypeOrderApproved,
		Message:       "Order approved",
		Reference:     "PO-2026-0001",
	}))
	var stored Notification
	for _, n := range repo.notifications {
		stored = n
	}

	payload, err := json.Marshal(dispatchPayload{NotificationID: stored.ID})
	require.NoError(t, err)
	err = svc.HandleDispatchTask(context.Background(), asynq.NewTask(TaskDispatch, payload))
	require.NoError(t, err)

	after, err := repo.Get(context.Background(), stored.ID)
	require.NoError(t, err)
	require.False(t, after.DispatchedAt.IsZero())
}

func TestHandleDispatchTaskSkipsMissingNotification(t *testing.T) {
	svc, _, _ := newTestService(t)
	payload, _ := json.Marshal(dispatchPayload{NotificationID: "gone"})
	err := svc.HandleDispatchTask(context.Background(), asynq.NewTask(TaskDispatch, payload))
	require.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestMarkAllRead(t *testing.T) {
	svc, _, _ := newTestService(t)
	actor := shared.Actor{ID: "u-head", Role: shared.RoleDepartmentHead}
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Publish(context.Background(), Notification{
			RecipientRole: shared.RoleDepartmentHead,
			Type:          TypeOrderSubmitted,
			Message:       "order",
			Reference:     fmt.Sprintf("PO-2026-%04d", i+1),
		}))
	}

	count, err := svc.MarkAllRead(context.Background(), actor)
	require.NoError(t, err)
	require.Equal(t, int64(3), count)

	unread, _, err := svc.List(context.Background(), actor, true, 10, 0)
	require.NoError(t, err)
	require.Empty(t, unread)
}
