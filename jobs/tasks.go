package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskLowStockScan sweeps inventory for items at or below threshold.
	TaskLowStockScan = "inventory:low-stock-scan"
	// TaskLedgerAudit verifies that movement sums match item quantities.
	TaskLedgerAudit = "inventory:ledger-audit"
	// TaskNotifyRequeue re-enqueues notifications that were persisted but
	// never dispatched.
	TaskNotifyRequeue = "notify:requeue"
	// TaskIdempotencyCleanup prunes expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency-cleanup"
)

// ScheduledPayload carries scheduling metadata shared by cron tasks.
type ScheduledPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

func newScheduledTask(taskType string) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{ScheduledFor: time.Now().UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

// NewLowStockScanTask constructs the low stock sweep task.
func NewLowStockScanTask() (*asynq.Task, error) {
	return newScheduledTask(TaskLowStockScan)
}

// NewLedgerAuditTask constructs the ledger reconciliation task.
func NewLedgerAuditTask() (*asynq.Task, error) {
	return newScheduledTask(TaskLedgerAudit)
}

// NewNotifyRequeueTask constructs the undispatched notification sweep task.
func NewNotifyRequeueTask() (*asynq.Task, error) {
	return newScheduledTask(TaskNotifyRequeue)
}

// NewIdempotencyCleanupTask constructs the idempotency key pruning task.
func NewIdempotencyCleanupTask() (*asynq.Task, error) {
	return newScheduledTask(TaskIdempotencyCleanup)
}
