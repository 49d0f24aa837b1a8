// Package restore locates the newest backup pair in the store, verifies it
// against its checksum sidecar, and materializes the tree back onto disk.
package restore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/tabbyclass/tabbyback/internal/checksum"
	"github.com/tabbyclass/tabbyback/internal/store"
)

var (
	// ErrNoBackupFound indicates no matching archive exists under the
	// prefix. Expected on a first-ever restore, but still a failed run.
	ErrNoBackupFound = errors.New("no backup found")

	// ErrChecksumMismatch indicates the downloaded archive does not hash to
	// the value in its checksum sidecar.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

const archiveSuffix = ".tar.zst"

// ObjectStore locates and downloads backup objects.
type ObjectStore interface {
	FindLatest(ctx context.Context, prefix, suffix string) (string, error)
	Download(ctx context.Context, key, localPath string, progress store.Progress) error
}

// Archiver unpacks a compressed archive under a target directory.
type Archiver interface {
	Extract(ctx context.Context, archivePath, targetDir string) error
}

// Options describes one restore run.
type Options struct {
	// Prefix is the key namespace to search for the newest archive, e.g.
	// "db-backups/".
	Prefix string

	// DestDir is where the archive's root directory is recreated.
	DestDir string

	// WorkDir is the scratch location for the downloaded archive and
	// checksum file. Defaults to the system temp directory.
	WorkDir string

	// CleanupLocal removes the downloaded artifacts after a successful
	// extraction. On any failure they stay on disk for inspection.
	CleanupLocal bool

	// Progress receives transfer and digest progress. May be nil.
	Progress store.Progress
}

// Service runs restores.
type Service struct {
	logger   *zap.Logger
	store    ObjectStore
	archiver Archiver
}

func New(logger *zap.Logger, store ObjectStore, archiver Archiver) *Service {
	return &Service{logger: logger, store: store, archiver: archiver}
}

// Run locates the newest backup under opts.Prefix, downloads and verifies
// it, and extracts it under opts.DestDir. A missing checksum sidecar is
// tolerated with a warning; a mismatching one aborts before extraction and
// leaves the archive on disk.
func (s *Service) Run(ctx context.Context, opts Options) error {
	if opts.DestDir == "" {
		return errors.New("destination directory is required")
	}

	key, err := s.store.FindLatest(ctx, opts.Prefix, archiveSuffix)
	if err != nil {
		return fmt.Errorf("failed to locate latest backup: %w", err)
	}
	if key == "" {
		return fmt.Errorf("%w under prefix %q", ErrNoBackupFound, opts.Prefix)
	}
	s.logger.Info("found latest backup", zap.String("key", key))

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	localArchive := filepath.Join(workDir, path.Base(key))
	localDigest := localArchive + ".sha256"

	s.logger.Info("downloading archive", zap.String("key", key))
	if err := s.store.Download(ctx, key, localArchive, opts.Progress); err != nil {
		return fmt.Errorf("failed to download archive: %w", err)
	}

	digestKey := key + ".sha256"
	err = s.store.Download(ctx, digestKey, localDigest, nil)
	switch {
	case errors.Is(err, store.ErrObjectNotFound):
		// Tolerated: some backups were uploaded without a sidecar. The
		// archive is restored unverified.
		s.logger.Warn("no checksum object found, skipping verification",
			zap.String("key", digestKey))
	case err != nil:
		return fmt.Errorf("failed to download checksum: %w", err)
	default:
		if err := s.verify(localArchive, localDigest); err != nil {
			return err
		}
	}

	s.logger.Info("extracting archive",
		zap.String("archive", localArchive),
		zap.String("dest", opts.DestDir))
	if err := s.archiver.Extract(ctx, localArchive, opts.DestDir); err != nil {
		return fmt.Errorf("failed to extract archive: %w", err)
	}

	if opts.CleanupLocal {
		for _, p := range []string{localArchive, localDigest} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("failed to remove local artifact",
					zap.String("path", p),
					zap.Error(err))
			}
		}
	}

	s.logger.Info("restore complete", zap.String("dest", opts.DestDir))
	return nil
}

func (s *Service) verify(localArchive, localDigest string) error {
	data, err := os.ReadFile(localDigest)
	if err != nil {
		return fmt.Errorf("failed to read checksum file: %w", err)
	}
	expected, err := checksum.ParseSumLine(data)
	if err != nil {
		return fmt.Errorf("failed to parse checksum file: %w", err)
	}

	s.logger.Info("verifying checksum", zap.String("expected", expected))
	ok, err := checksum.Verify(localArchive, expected)
	if err != nil {
		return fmt.Errorf("failed to verify archive: %w", err)
	}
	if !ok {
		// The corrupt archive stays at localArchive for inspection.
		return fmt.Errorf("%w: %s does not hash to %s", ErrChecksumMismatch, localArchive, expected)
	}
	s.logger.Info("checksum OK")
	return nil
}
