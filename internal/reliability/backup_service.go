// Package reliability backs up the position archive to object storage
// and keeps the database healthy between backups.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/alimogh/trdk/internal/database"
	"github.com/alimogh/trdk/internal/events"
	"github.com/alimogh/trdk/internal/version"
)

const (
	backupPrefix     = "trdk-backup-"
	backupTimeLayout = "20060102-150405"
	minBackupsKept   = 3
)

// BackupMetadata describes one backup archive. It rides inside the
// archive as metadata.json so a restore can verify integrity.
type BackupMetadata struct {
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Database  DatabaseMetadata `json:"database"`
}

// DatabaseMetadata holds per-file integrity information.
type DatabaseMetadata struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo summarizes a backup that exists in the bucket.
type BackupInfo struct {
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
}

// BackupService snapshots the archive database and uploads it to
// object storage. Snapshots are taken with VACUUM INTO, so the live
// database keeps serving writes during a backup.
type BackupService struct {
	s3     *S3Client
	db     *database.DB
	events *events.Manager
	maxAge time.Duration
	log    zerolog.Logger
}

// NewBackupService creates a backup service for one database.
func NewBackupService(s3 *S3Client, db *database.DB, eventsManager *events.Manager, maxAge time.Duration, log zerolog.Logger) *BackupService {
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	return &BackupService{
		s3:     s3,
		db:     db,
		events: eventsManager,
		maxAge: maxAge,
		log:    log.With().Str("component", "backup").Logger(),
	}
}

// CreateAndUploadBackup snapshots the database, archives it with
// checksum metadata and uploads the archive. Old backups beyond the
// retention window are rotated out afterwards.
func (s *BackupService) CreateAndUploadBackup(ctx context.Context) error {
	start := time.Now()
	timestamp := start.UTC().Format(backupTimeLayout)

	stagingDir, err := os.MkdirTemp("", "trdk-backup-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	// Flush the WAL first so the snapshot carries every committed write.
	if err := s.db.WALCheckpoint("TRUNCATE"); err != nil {
		s.log.Warn().Err(err).Msg("WAL checkpoint before backup failed")
	}

	snapshotPath := filepath.Join(stagingDir, filepath.Base(s.db.Path()))
	if _, err := s.db.Exec("VACUUM INTO ?", snapshotPath); err != nil {
		return fmt.Errorf("failed to snapshot database %s: %w", s.db.Name(), err)
	}

	checksum, size, err := calculateChecksum(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to checksum snapshot: %w", err)
	}

	meta := BackupMetadata{
		Timestamp: start.UTC(),
		Version:   version.Version,
		Database: DatabaseMetadata{
			Name:      s.db.Name(),
			SizeBytes: size,
			Checksum:  checksum,
		},
	}
	metadataPath := filepath.Join(stagingDir, "metadata.json")
	if err := writeMetadata(metadataPath, meta); err != nil {
		return err
	}

	archiveName := backupPrefix + timestamp + ".tar.gz"
	archivePath := filepath.Join(stagingDir, archiveName)
	if err := createArchive(archivePath, snapshotPath, metadataPath); err != nil {
		return fmt.Errorf("failed to create backup archive: %w", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open backup archive: %w", err)
	}
	defer f.Close()

	if err := s.s3.Upload(ctx, archiveName, f); err != nil {
		return err
	}

	archiveInfo, _ := os.Stat(archivePath)
	var archiveSize int64
	if archiveInfo != nil {
		archiveSize = archiveInfo.Size()
	}

	s.log.Info().
		Str("key", archiveName).
		Int64("db_bytes", size).
		Int64("archive_bytes", archiveSize).
		Dur("elapsed", time.Since(start)).
		Msg("Backup uploaded")

	if s.events != nil {
		s.events.Emit(events.BackupCompleted, "reliability", map[string]interface{}{
			"key":        archiveName,
			"size_bytes": archiveSize,
			"checksum":   checksum,
			"elapsed_ms": time.Since(start).Milliseconds(),
		})
	}

	if err := s.RotateOldBackups(ctx); err != nil {
		s.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}

// ListBackups returns the backups currently in the bucket, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.s3.List(ctx, backupPrefix)
	if err != nil {
		return nil, err
	}

	var backups []BackupInfo
	for _, obj := range objects {
		if obj.Key == nil {
			continue
		}
		ts, ok := parseBackupKey(*obj.Key)
		if !ok {
			continue
		}
		info := BackupInfo{Key: *obj.Key, Timestamp: ts}
		if obj.Size != nil {
			info.SizeBytes = *obj.Size
		}
		backups = append(backups, info)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes backups older than the retention window,
// always keeping the newest few regardless of age.
func (s *BackupService) RotateOldBackups(ctx context.Context) error {
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return err
	}
	if len(backups) <= minBackupsKept {
		return nil
	}

	cutoff := time.Now().UTC().Add(-s.maxAge)
	for _, b := range backups[minBackupsKept:] {
		if b.Timestamp.After(cutoff) {
			continue
		}
		if err := s.s3.Delete(ctx, b.Key); err != nil {
			s.log.Warn().Err(err).Str("key", b.Key).Msg("Failed to delete old backup")
			continue
		}
		s.log.Info().Str("key", b.Key).Msg("Rotated out old backup")
	}
	return nil
}

func parseBackupKey(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, backupPrefix) || !strings.HasSuffix(key, ".tar.gz") {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(key, backupPrefix), ".tar.gz")
	ts, err := time.Parse(backupTimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func calculateChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), size, nil
}

func writeMetadata(path string, meta BackupMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode backup metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write backup metadata: %w", err)
	}
	return nil
}

func createArchive(archivePath string, files ...string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	defer gw.Close()
	tw := tar.NewWriter(gw)
	defer tw.Close()

	for _, file := range files {
		if err := addFileToArchive(tw, file); err != nil {
			return err
		}
	}
	return nil
}

func addFileToArchive(tw *tar.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = filepath.Base(path)

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
