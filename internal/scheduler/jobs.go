package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/alimogh/trdk/internal/database"
)

// brokerReconciler is the slice of the dispatch engine the reconcile
// job needs.
type brokerReconciler interface {
	ReconcileBrokerPositions(isInitial bool) error
}

// ReconcileJob compares broker-reported positions against local state
// and reports drift.
type ReconcileJob struct {
	engine brokerReconciler
}

// NewReconcileJob creates a broker reconciliation job.
func NewReconcileJob(engine brokerReconciler) *ReconcileJob {
	return &ReconcileJob{engine: engine}
}

func (j *ReconcileJob) Name() string { return "broker_reconcile" }

func (j *ReconcileJob) Run() error {
	return j.engine.ReconcileBrokerPositions(false)
}

// backupRunner is the slice of the backup service the backup job needs.
type backupRunner interface {
	CreateAndUploadBackup(ctx context.Context) error
}

// BackupJob uploads a fresh archive backup to object storage.
type BackupJob struct {
	backup  backupRunner
	timeout time.Duration
}

// NewBackupJob creates an archive backup job.
func NewBackupJob(backup backupRunner, timeout time.Duration) *BackupJob {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &BackupJob{backup: backup, timeout: timeout}
}

func (j *BackupJob) Name() string { return "archive_backup" }

func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.backup.CreateAndUploadBackup(ctx)
}

// MaintenanceJob keeps the archive database healthy: integrity check,
// WAL truncation and size reporting.
type MaintenanceJob struct {
	db  *database.DB
	log zerolog.Logger
}

// NewMaintenanceJob creates a database maintenance job.
func NewMaintenanceJob(db *database.DB, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		db:  db,
		log: log.With().Str("job", "db_maintenance").Logger(),
	}
}

func (j *MaintenanceJob) Name() string { return "db_maintenance" }

func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := j.db.HealthCheck(ctx); err != nil {
		return err
	}
	if err := j.db.WALCheckpoint("TRUNCATE"); err != nil {
		return err
	}

	if stats, err := j.db.GetStats(); err == nil {
		j.log.Info().
			Str("database", j.db.Name()).
			Int64("size_bytes", stats.SizeBytes).
			Int64("wal_bytes", stats.WALSizeBytes).
			Msg("Database maintenance completed")
	}
	return nil
}
