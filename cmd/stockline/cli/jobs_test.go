package cli

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/stockline-erp/stockline/jobs"
)

func TestTriggerEnqueuesMaintenanceTask(t *testing.T) {
	mr := miniredis.RunT(t)
	cli, err := NewJobsCLI(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	info, err := cli.Trigger(context.Background(), jobs.TaskLowStockScan)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLowStockScan, info.Type)
	require.Equal(t, jobs.QueueDefault, info.Queue)
	require.Equal(t, asynq.TaskStatePending, info.State)
}

func TestTriggerRejectsUnknownJob(t *testing.T) {
	mr := miniredis.RunT(t)
	cli, err := NewJobsCLI(mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	_, err = cli.Trigger(context.Background(), "finance:close")
	require.ErrorContains(t, err, "unsupported job")
}
