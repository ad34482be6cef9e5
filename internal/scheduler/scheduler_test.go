package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mamadbah2/flockledger/internal/config"
	"github.com/mamadbah2/flockledger/internal/domain/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type counter struct {
	calls atomic.Int32
	err   error
}

func (c *counter) Flush(context.Context) (int, error) {
	c.calls.Add(1)
	return 1, c.err
}

func (c *counter) Reconcile(context.Context) ([]models.Drift, error) {
	c.calls.Add(1)
	return nil, c.err
}

func (c *counter) Export(context.Context) (int, error) {
	c.calls.Add(1)
	return 0, c.err
}

func TestJobsRun(t *testing.T) {
	audit, ledger := &counter{}, &counter{err: errors.New("store down")}
	export := &counter{}
	s, err := NewScheduler(config.SchedulerConfig{
		AuditRetrySchedule:  "@every 1s",
		ReconcileSchedule:   "@every 1s",
		AuditExportSchedule: "@every 1s",
		Timezone:            "UTC",
	}, Jobs{Audit: audit, Ledger: ledger, Exporter: export}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return audit.calls.Load() > 0 && ledger.calls.Load() > 0 && export.calls.Load() > 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestDisabledJobsAreSkipped(t *testing.T) {
	s, err := NewScheduler(config.SchedulerConfig{AuditRetrySchedule: "@every 1s"}, Jobs{Audit: &counter{}, Ledger: &counter{}}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	assert.Len(t, s.cron.Entries(), 1)
	s.Stop()
}

func TestInvalidScheduleFails(t *testing.T) {
	s, err := NewScheduler(config.SchedulerConfig{ReconcileSchedule: "whenever"}, Jobs{Audit: &counter{}, Ledger: &counter{}}, nil)
	require.NoError(t, err)
	assert.ErrorContains(t, s.Start(), "reconcile")
}

func TestUnknownTimezone(t *testing.T) {
	_, err := NewScheduler(config.SchedulerConfig{Timezone: "Mars/Olympus"}, Jobs{}, nil)
	assert.Error(t, err)
}
