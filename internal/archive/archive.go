// Package archive creates and extracts zstd-compressed tar archives holding a
// single root directory. It prefers the system tar/zstd tools for throughput
// and falls back to an in-process codec when they are not installed, so
// backups still run on hosts without the packages.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// ErrToolMissing indicates the system tar/zstd tools were required but are
// not available on PATH.
var ErrToolMissing = errors.New("required system tools not found")

// Codec creates and extracts archives. Implementations must preserve the
// single-root-directory layout: the archive's only top-level entry is the
// base name of the source directory.
type Codec interface {
	Name() string
	Create(ctx context.Context, sourceDir, archivePath string, exclusions []string) error
	Extract(ctx context.Context, archivePath, targetDir string) error
}

// Options configures archiver construction.
type Options struct {
	// RequireSystem refuses to construct an archiver when the system
	// tar/zstd tools are missing instead of silently degrading to the
	// slower in-process codec.
	RequireSystem bool

	// Fs is the filesystem used by the in-process codec. Defaults to the
	// OS filesystem.
	Fs afero.Fs
}

// Archiver selects between the system codec and the in-process fallback.
// The capability probe runs once, at construction.
type Archiver struct {
	logger   *zap.Logger
	primary  Codec
	fallback Codec
}

// New probes for the system tar/zstd tools and returns an archiver using
// them as the primary codec, with the in-process codec as fallback. When the
// tools are missing the in-process codec becomes primary, unless
// opts.RequireSystem is set, in which case ErrToolMissing is returned.
func New(logger *zap.Logger, opts Options) (*Archiver, error) {
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	stream := newStreamCodec(fs)

	system, err := probeSystemCodec()
	if err != nil {
		if opts.RequireSystem {
			return nil, err
		}
		logger.Warn("system tar/zstd unavailable, using in-process compression",
			zap.Error(err))
		return &Archiver{logger: logger, primary: stream}, nil
	}

	if opts.RequireSystem {
		return &Archiver{logger: logger, primary: system}, nil
	}
	return &Archiver{logger: logger, primary: system, fallback: stream}, nil
}

// Create packages sourceDir into a zstd-compressed tar archive at
// archivePath. The archive's single root entry is the base name of
// sourceDir, so extracting under any target recreates
// <target>/<base name>/... . exclusions are paths relative to sourceDir that
// are omitted, matched as exact path prefixes.
func (a *Archiver) Create(ctx context.Context, sourceDir, archivePath string, exclusions []string) error {
	info, err := os.Stat(sourceDir)
	if err != nil {
		return fmt.Errorf("failed to stat source directory %s: %w", sourceDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", sourceDir)
	}

	a.logger.Debug("creating archive",
		zap.String("source", sourceDir),
		zap.String("archive", archivePath),
		zap.String("codec", a.primary.Name()),
		zap.Strings("exclusions", exclusions))

	err = a.primary.Create(ctx, sourceDir, archivePath, exclusions)
	if err == nil {
		return nil
	}
	if a.fallback == nil {
		return fmt.Errorf("failed to create archive with %s codec: %w", a.primary.Name(), err)
	}

	a.logger.Warn("primary codec failed, retrying with fallback",
		zap.String("codec", a.primary.Name()),
		zap.Error(err))
	if ferr := a.fallback.Create(ctx, sourceDir, archivePath, exclusions); ferr != nil {
		return errors.Join(
			fmt.Errorf("failed to create archive with %s codec: %w", a.primary.Name(), err),
			fmt.Errorf("failed to create archive with %s codec: %w", a.fallback.Name(), ferr),
		)
	}
	return nil
}

// Extract unpacks the archive at archivePath under targetDir, creating the
// target if needed. Conflicting existing paths are overwritten.
func (a *Archiver) Extract(ctx context.Context, archivePath, targetDir string) error {
	if _, err := os.Stat(archivePath); err != nil {
		return fmt.Errorf("failed to stat archive %s: %w", archivePath, err)
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create target directory %s: %w", targetDir, err)
	}

	a.logger.Debug("extracting archive",
		zap.String("archive", archivePath),
		zap.String("target", targetDir),
		zap.String("codec", a.primary.Name()))

	err := a.primary.Extract(ctx, archivePath, targetDir)
	if err == nil {
		return nil
	}
	if a.fallback == nil {
		return fmt.Errorf("failed to extract archive with %s codec: %w", a.primary.Name(), err)
	}

	a.logger.Warn("primary codec failed, retrying with fallback",
		zap.String("codec", a.primary.Name()),
		zap.Error(err))
	if ferr := a.fallback.Extract(ctx, archivePath, targetDir); ferr != nil {
		return errors.Join(
			fmt.Errorf("failed to extract archive with %s codec: %w", a.primary.Name(), err),
			fmt.Errorf("failed to extract archive with %s codec: %w", a.fallback.Name(), ferr),
		)
	}
	return nil
}

// CodecName returns the name of the codec that will be attempted first.
func (a *Archiver) CodecName() string {
	return a.primary.Name()
}
