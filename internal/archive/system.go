package archive

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
)

// zstdCreateArgs matches the compression settings used for backups taken
// with the system tools: all cores, level 19.
const zstdCreateArgs = "zstd -T0 -19"

// systemCodec shells out to tar with zstd compression. This is the fast
// path: multithreaded compression at a high level.
type systemCodec struct {
	tarPath string
}

// probeSystemCodec checks that tar, zstd and unzstd are on PATH and returns
// a codec using them. The error wraps ErrToolMissing and names the missing
// tools.
func probeSystemCodec() (Codec, error) {
	tarPath, tarErr := exec.LookPath("tar")

	var missing []string
	if tarErr != nil {
		missing = append(missing, "tar")
	}
	for _, tool := range []string{"zstd", "unzstd"} {
		if _, err := exec.LookPath(tool); err != nil {
			missing = append(missing, tool)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrToolMissing, strings.Join(missing, ", "))
	}

	return &systemCodec{tarPath: tarPath}, nil
}

func (c *systemCodec) Name() string {
	return "system"
}

func (c *systemCodec) Create(ctx context.Context, sourceDir, archivePath string, exclusions []string) error {
	root := filepath.Base(sourceDir)
	parent := filepath.Dir(sourceDir)

	// -C parent + bare root name keeps the archive rooted at the directory
	// base name rather than an absolute path. -h dereferences symlinks.
	args := []string{"-I", zstdCreateArgs, "-chf", archivePath, "-C", parent}
	for _, exclusion := range exclusions {
		args = append(args, "--exclude", path.Join(root, filepath.ToSlash(exclusion)))
	}
	args = append(args, root)

	return c.run(ctx, args)
}

func (c *systemCodec) Extract(ctx context.Context, archivePath, targetDir string) error {
	return c.run(ctx, []string{"--use-compress-program=unzstd", "-xf", archivePath, "-C", targetDir})
}

func (c *systemCodec) run(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, c.tarPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("tar failed: %w: %s", err, msg)
		}
		return fmt.Errorf("tar failed: %w", err)
	}
	return nil
}
