// Package backup composes the archiver, checksum and object-store client
// into the dated, checksummed backup sequence: archive, digest, upload
// archive, upload digest, optional local cleanup.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/tabbyclass/tabbyback/internal/checksum"
	"github.com/tabbyclass/tabbyback/internal/store"
)

// ObjectStore uploads local files into the configured bucket.
type ObjectStore interface {
	Upload(ctx context.Context, key, localPath string, progress store.Progress) error
}

// Archiver packages a directory tree into a compressed archive.
type Archiver interface {
	Create(ctx context.Context, sourceDir, archivePath string, exclusions []string) error
}

// Options describes one backup run.
type Options struct {
	// SourceDir is the directory tree to archive. Its base name becomes the
	// archive's single root entry.
	SourceDir string

	// Label names the backup series, e.g. "db" or "models". It forms the
	// object key together with Prefix and the run date.
	Label string

	// Prefix is the key namespace the backup pair is written under, e.g.
	// "db-backups/".
	Prefix string

	// Exclusions are paths relative to SourceDir omitted from the archive.
	Exclusions []string

	// WorkDir is where the local archive and checksum file are written.
	// Defaults to the system temp directory.
	WorkDir string

	// CleanupLocal removes the local artifacts after both uploads succeed.
	// Failed runs always leave them on disk for inspection.
	CleanupLocal bool

	// Progress receives transfer and digest progress. May be nil.
	Progress store.Progress
}

// Result describes the backup pair written to the store.
type Result struct {
	ArchiveKey string
	DigestKey  string
	Digest     string

	// Local paths of the produced artifacts; empty when cleaned up.
	LocalArchive string
	LocalDigest  string
}

// Service runs backups. Every step is fail-fast: the first error halts the
// sequence and is propagated unchanged, with no internal retries.
type Service struct {
	logger   *zap.Logger
	store    ObjectStore
	archiver Archiver
	now      func() time.Time
}

func New(logger *zap.Logger, store ObjectStore, archiver Archiver) *Service {
	return &Service{
		logger:   logger,
		store:    store,
		archiver: archiver,
		now:      time.Now,
	}
}

// Run executes one backup: archive, digest, upload archive, upload digest,
// then cleanup when requested.
func (s *Service) Run(ctx context.Context, opts Options) (Result, error) {
	if opts.SourceDir == "" {
		return Result{}, errors.New("source directory is required")
	}
	if opts.Label == "" {
		return Result{}, errors.New("label is required")
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}

	date := s.now().UTC().Format(time.DateOnly)
	archiveName := fmt.Sprintf("%s_%s.tar.zst", opts.Label, date)
	archiveKey := opts.Prefix + archiveName
	digestKey := archiveKey + ".sha256"
	localArchive := filepath.Join(workDir, archiveName)
	localDigest := localArchive + ".sha256"

	s.logger.Info("creating archive",
		zap.String("source", opts.SourceDir),
		zap.String("archive", localArchive),
		zap.Strings("exclusions", opts.Exclusions))
	if err := s.archiver.Create(ctx, opts.SourceDir, localArchive, opts.Exclusions); err != nil {
		return Result{}, fmt.Errorf("failed to create archive: %w", err)
	}

	s.logger.Info("computing checksum", zap.String("archive", localArchive))
	sum, err := checksum.File(localArchive, checksum.Progress(opts.Progress))
	if err != nil {
		return Result{}, fmt.Errorf("failed to compute checksum: %w", err)
	}
	if err := checksum.WriteSumFile(localDigest, localArchive, sum); err != nil {
		return Result{}, fmt.Errorf("failed to write checksum file: %w", err)
	}

	// The archive always goes up before its digest so a reader never sees a
	// digest without its archive.
	s.logger.Info("uploading archive", zap.String("key", archiveKey))
	if err := s.store.Upload(ctx, archiveKey, localArchive, opts.Progress); err != nil {
		return Result{}, fmt.Errorf("failed to upload archive: %w", err)
	}
	s.logger.Info("uploading checksum", zap.String("key", digestKey))
	if err := s.store.Upload(ctx, digestKey, localDigest, nil); err != nil {
		return Result{}, fmt.Errorf("failed to upload checksum: %w", err)
	}

	result := Result{
		ArchiveKey:   archiveKey,
		DigestKey:    digestKey,
		Digest:       sum,
		LocalArchive: localArchive,
		LocalDigest:  localDigest,
	}

	if opts.CleanupLocal {
		for _, p := range []string{localArchive, localDigest} {
			if err := os.Remove(p); err != nil {
				s.logger.Warn("failed to remove local artifact",
					zap.String("path", p),
					zap.Error(err))
			}
		}
		result.LocalArchive = ""
		result.LocalDigest = ""
		s.logger.Info("removed local artifacts")
	}

	s.logger.Info("backup complete",
		zap.String("archive_key", archiveKey),
		zap.String("digest", sum))
	return result, nil
}
