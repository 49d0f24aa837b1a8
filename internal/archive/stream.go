package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

// streamCodec is the in-process fallback: a sequential walk of the source
// tree written through a streaming zstd compressor into a tar container.
// Slower and single-threaded compared to the system codec, but it has no
// host dependencies.
type streamCodec struct {
	fs afero.Fs
}

func newStreamCodec(fs afero.Fs) Codec {
	return &streamCodec{fs: fs}
}

func (c *streamCodec) Name() string {
	return "in-process"
}

func (c *streamCodec) Create(ctx context.Context, sourceDir, archivePath string, exclusions []string) (err error) {
	root := filepath.Base(sourceDir)

	out, err := c.fs.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file %s: %w", archivePath, err)
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	tw := tar.NewWriter(enc)

	walkErr := afero.Walk(c.fs, sourceDir, func(p string, info os.FileInfo, werr error) error {
		if werr != nil {
			return werr
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		rel, rerr := filepath.Rel(sourceDir, p)
		if rerr != nil {
			return rerr
		}

		if excluded(rel, exclusions) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinked files are stored dereferenced, matching tar -h on the
		// system path.
		if info.Mode()&os.ModeSymlink != 0 {
			resolved, serr := c.fs.Stat(p)
			if serr != nil || !resolved.Mode().IsRegular() {
				return nil
			}
			info = resolved
		}

		name := root
		if rel != "." {
			name = path.Join(root, filepath.ToSlash(rel))
		}

		switch {
		case info.IsDir():
			return tw.WriteHeader(&tar.Header{
				Name:     name + "/",
				Typeflag: tar.TypeDir,
				Mode:     int64(info.Mode().Perm()),
				ModTime:  info.ModTime(),
			})
		case info.Mode().IsRegular():
			if herr := tw.WriteHeader(&tar.Header{
				Name:    name,
				Size:    info.Size(),
				Mode:    int64(info.Mode().Perm()),
				ModTime: info.ModTime(),
			}); herr != nil {
				return herr
			}
			f, oerr := c.fs.Open(p)
			if oerr != nil {
				return oerr
			}
			defer f.Close()
			_, cerr := io.Copy(tw, f)
			return cerr
		default:
			// Sockets, devices and the like are not backed up.
			return nil
		}
	})
	if walkErr != nil {
		return fmt.Errorf("failed to archive %s: %w", sourceDir, walkErr)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finalize tar stream: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize zstd stream: %w", err)
	}
	return nil
}

func (c *streamCodec) Extract(ctx context.Context, archivePath, targetDir string) (err error) {
	in, err := c.fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer func() {
		err = errors.Join(err, in.Close())
	}()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer dec.Close()

	if err := c.fs.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create target directory %s: %w", targetDir, err)
	}

	cleanTarget := filepath.Clean(targetDir)
	tr := tar.NewReader(dec)
	for {
		hdr, nerr := tr.Next()
		if nerr == io.EOF {
			return nil
		}
		if nerr != nil {
			return fmt.Errorf("corrupt archive %s: %w", archivePath, nerr)
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		dest := filepath.Join(cleanTarget, filepath.FromSlash(hdr.Name))
		if dest != cleanTarget && !strings.HasPrefix(dest, cleanTarget+string(filepath.Separator)) {
			return fmt.Errorf("archive entry %q escapes target directory", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if merr := c.fs.MkdirAll(dest, os.FileMode(hdr.Mode).Perm()); merr != nil {
				return fmt.Errorf("failed to create directory %s: %w", dest, merr)
			}
		case tar.TypeReg:
			if werr := c.writeFile(dest, os.FileMode(hdr.Mode).Perm(), tr); werr != nil {
				return fmt.Errorf("failed to extract %s: %w", hdr.Name, werr)
			}
		case tar.TypeSymlink:
			if lerr := c.writeSymlink(dest, hdr.Linkname); lerr != nil {
				return fmt.Errorf("failed to extract symlink %s: %w", hdr.Name, lerr)
			}
		default:
			// Other entry types are skipped; Create never emits them.
		}
	}
}

func (c *streamCodec) writeFile(dest string, mode os.FileMode, r io.Reader) (err error) {
	if merr := c.fs.MkdirAll(filepath.Dir(dest), 0o755); merr != nil {
		return merr
	}

	f, err := c.fs.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	_, err = io.Copy(f, r)
	return err
}

func (c *streamCodec) writeSymlink(dest, linkname string) error {
	linker, ok := c.fs.(afero.Linker)
	if !ok {
		// Filesystems without symlink support (MemMapFs) drop the entry.
		return nil
	}
	if err := c.fs.Remove(dest); err != nil && !os.IsNotExist(err) {
		return err
	}
	return linker.SymlinkIfPossible(linkname, dest)
}

// excluded reports whether rel (a path relative to the source root) matches
// one of the exclusions. Matching is exact-prefix on path segments, never
// substring: excluding "models" skips "models/x" but not "models-v2".
func excluded(rel string, exclusions []string) bool {
	rel = filepath.ToSlash(rel)
	for _, exclusion := range exclusions {
		e := strings.TrimSuffix(filepath.ToSlash(exclusion), "/")
		if rel == e || strings.HasPrefix(rel, e+"/") {
			return true
		}
	}
	return false
}
