package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alimogh/trdk/internal/database"
	"github.com/alimogh/trdk/internal/domain"
	"github.com/alimogh/trdk/internal/events"
)

type fakeReconciler struct {
	calls   int
	initial []bool
	err     error
}

func (f *fakeReconciler) ReconcileBrokerPositions(isInitial bool) error {
	f.calls++
	f.initial = append(f.initial, isInitial)
	return f.err
}

type fakeBackup struct {
	calls int
	err   error
}

func (f *fakeBackup) CreateAndUploadBackup(ctx context.Context) error {
	f.calls++
	return f.err
}

func TestReconcileJob(t *testing.T) {
	rec := &fakeReconciler{}
	job := NewReconcileJob(rec)

	assert.Equal(t, "broker_reconcile", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, []bool{false}, rec.initial)

	rec.err = errors.New("broker unavailable")
	assert.Error(t, job.Run())
}

func TestBackupJob(t *testing.T) {
	b := &fakeBackup{}
	job := NewBackupJob(b, 0)

	assert.Equal(t, "archive_backup", job.Name())
	require.NoError(t, job.Run())
	assert.Equal(t, 1, b.calls)
}

func TestMaintenanceJob(t *testing.T) {
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "archive.db"),
		Profile: database.ProfileLedger,
		Name:    "archive",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	job := NewMaintenanceJob(db, zerolog.Nop())
	assert.Equal(t, "db_maintenance", job.Name())
	require.NoError(t, job.Run())
}

func TestScheduler_RejectsBadSchedule(t *testing.T) {
	s := New(nil, zerolog.Nop())
	err := s.AddJob("not a schedule", NewReconcileJob(&fakeReconciler{}))
	assert.Error(t, err)

	// The failed registration must not occupy the job name.
	require.NoError(t, s.AddJob("@every 1h", NewReconcileJob(&fakeReconciler{})))
}

func TestScheduler_RejectsDuplicateJobName(t *testing.T) {
	s := New(nil, zerolog.Nop())
	require.NoError(t, s.AddJob("@every 1h", NewReconcileJob(&fakeReconciler{})))

	err := s.AddJob("@every 2h", NewReconcileJob(&fakeReconciler{}))
	require.Error(t, err)
	assert.True(t, domain.IsConfigError(err))
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(nil, zerolog.Nop())
	rec := &fakeReconciler{}
	require.NoError(t, s.AddJob("@every 1h", NewReconcileJob(rec)))

	require.NoError(t, s.RunNow("broker_reconcile"))
	assert.Equal(t, 1, rec.calls)

	err := s.RunNow("nothing")
	require.Error(t, err)
	assert.True(t, domain.IsConfigError(err))
}

func TestScheduler_FailedRunEmitsErrorEvent(t *testing.T) {
	bus := events.NewBus()
	ch, unsubscribe := bus.Subscribe(8, events.ErrorOccurred)
	defer unsubscribe()

	s := New(events.NewManager(bus, zerolog.Nop()), zerolog.Nop())
	rec := &fakeReconciler{err: errors.New("broker unavailable")}
	require.NoError(t, s.AddJob("@every 1h", NewReconcileJob(rec)))
	require.NoError(t, s.RunNow("broker_reconcile"))

	select {
	case event := <-ch:
		assert.Equal(t, "scheduler", event.Module)
		assert.Equal(t, "broker unavailable", event.Data["error"])
	case <-time.After(time.Second):
		t.Fatal("no error event emitted")
	}
}
