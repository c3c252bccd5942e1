package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/stockline-erp/stockline/internal/inventory"
	jobmetrics "github.com/stockline-erp/stockline/internal/jobs"
	"github.com/stockline-erp/stockline/internal/notify"
	"github.com/stockline-erp/stockline/internal/shared"
)

// MaintenanceConfig tunes the periodic sweeps.
type MaintenanceConfig struct {
	// IdempotencyRetention bounds how long processed keys are kept.
	IdempotencyRetention time.Duration
	// RequeueAfter is how old an undispatched notification must be
	// before the sweep re-enqueues it.
	RequeueAfter time.Duration
	// RequeueBatch caps notifications re-enqueued per run.
	RequeueBatch int
	// AuditBatch is the page size for the ledger reconciliation scan.
	AuditBatch int
}

func (c MaintenanceConfig) withDefaults() MaintenanceConfig {
	if c.IdempotencyRetention <= 0 {
		c.IdempotencyRetention = 7 * 24 * time.Hour
	}
	if c.RequeueAfter <= 0 {
		c.RequeueAfter = 5 * time.Minute
	}
	if c.RequeueBatch <= 0 {
		c.RequeueBatch = 200
	}
	if c.AuditBatch <= 0 {
		c.AuditBatch = 200
	}
	return c
}

// Maintenance bundles the handlers behind the periodic sweeps.
type Maintenance struct {
	inventory   *inventory.Service
	notify      *notify.Service
	idempotency *shared.IdempotencyStore
	metrics     *jobmetrics.Metrics
	logger      *slog.Logger
	cfg         MaintenanceConfig
}

// NewMaintenance constructs the maintenance job handlers.
func NewMaintenance(inv *inventory.Service, notifier *notify.Service, idempotency *shared.IdempotencyStore, metrics *jobmetrics.Metrics, logger *slog.Logger, cfg MaintenanceConfig) *Maintenance {
	return &Maintenance{
		inventory:   inv,
		notify:      notifier,
		idempotency: idempotency,
		metrics:     metrics,
		logger:      logger,
		cfg:         cfg.withDefaults(),
	}
}

// HandleLowStockScan publishes alerts for every item at or below threshold.
func (m *Maintenance) HandleLowStockScan(ctx context.Context, t *asynq.Task) error {
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := m.metrics.Track("low_stock_scan")
	count, err := m.inventory.ScanLowStock(ctx)
	if err != nil {
		m.logger.Error("low stock scan", slog.Any("error", err))
		return tracker.End(err)
	}
	m.logger.Info("low stock scan complete", slog.Int("alerted", count))
	return tracker.End(nil)
}

// HandleLedgerAudit recomputes movement sums and flags items whose ledger
// disagrees with the stored quantity.
func (m *Maintenance) HandleLedgerAudit(ctx context.Context, t *asynq.Task) error {
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := m.metrics.Track("ledger_audit")

	var mismatches int
	for offset := 0; ; offset += m.cfg.AuditBatch {
		items, _, err := m.inventory.ListItems(ctx, m.cfg.AuditBatch, offset, inventory.ListFilters{})
		if err != nil {
			return tracker.End(err)
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			qty, ledger, err := m.inventory.CheckLedger(ctx, item.ProductID)
			if err != nil {
				return tracker.End(err)
			}
			if qty != ledger {
				mismatches++
				m.logger.Error("ledger mismatch",
					slog.String("product_id", item.ProductID),
					slog.Float64("item_qty", qty),
					slog.Float64("ledger_sum", ledger))
			}
		}
		if len(items) < m.cfg.AuditBatch {
			break
		}
	}
	if mismatches > 0 {
		m.logger.Warn("ledger audit found mismatches", slog.Int("count", mismatches))
	}
	return tracker.End(nil)
}

// HandleNotifyRequeue re-enqueues notifications whose dispatch never happened.
func (m *Maintenance) HandleNotifyRequeue(ctx context.Context, t *asynq.Task) error {
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := m.metrics.Track("notify_requeue")
	count, err := m.notify.RequeueUndispatched(ctx, m.cfg.RequeueAfter, m.cfg.RequeueBatch)
	if err != nil {
		return tracker.End(err)
	}
	if count > 0 {
		m.logger.Info("requeued undispatched notifications", slog.Int("count", count))
	}
	return tracker.End(nil)
}

// HandleIdempotencyCleanup prunes keys older than the retention window.
func (m *Maintenance) HandleIdempotencyCleanup(ctx context.Context, t *asynq.Task) error {
	var payload ScheduledPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := m.metrics.Track("idempotency_cleanup")
	return tracker.End(m.idempotency.Cleanup(ctx, m.cfg.IdempotencyRetention))
}

// Handlers returns the task registrations for the worker mux.
func (m *Maintenance) Handlers() []TaskHandler {
	return []TaskHandler{
		{Type: TaskLowStockScan, Handler: m.HandleLowStockScan},
		{Type: TaskLedgerAudit, Handler: m.HandleLedgerAudit},
		{Type: TaskNotifyRequeue, Handler: m.HandleNotifyRequeue},
		{Type: TaskIdempotencyCleanup, Handler: m.HandleIdempotencyCleanup},
	}
}
