// Package checksum computes and verifies SHA-256 digests of local files and
// reads/writes the conventional "<hex>  <filename>" sidecar format.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Progress is invoked after each chunk with the number of bytes hashed so far
// and the total file size.
type Progress func(done, total int64)

const chunkSize = 1 << 20

// File computes the SHA-256 digest of the file at path, reading it in
// fixed-size chunks so large archives are never loaded into memory. The
// returned digest is lowercase hex. progress may be nil.
func File(path string, progress Progress) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", path, err)
	}
	total := info.Size()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	var done int64
	for {
		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			done += int64(n)
			if progress != nil {
				progress(done, total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify reports whether the file at path hashes to expected. The hex
// comparison is case-insensitive.
func Verify(path, expected string) (bool, error) {
	sum, err := File(path, nil)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(sum, expected), nil
}

// WriteSumFile writes the checksum sidecar for digestedPath to sumPath. The
// content is a single line, "<hex>  <base name>\n", with two spaces between
// the fields as produced by sha256sum.
func WriteSumFile(sumPath, digestedPath, sum string) error {
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(digestedPath))
	if err := os.WriteFile(sumPath, []byte(line), 0o644); err != nil {
		return fmt.Errorf("failed to write checksum file %s: %w", sumPath, err)
	}
	return nil
}

// ParseSumLine extracts the expected digest from checksum-file content,
// taking the first whitespace-delimited token and normalizing it to
// lowercase.
func ParseSumLine(data []byte) (string, error) {
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", errors.New("empty checksum file")
	}

	sum := fields[0]
	if len(sum) != sha256.Size*2 {
		return "", fmt.Errorf("malformed digest %q: expected %d hex characters", sum, sha256.Size*2)
	}
	if _, err := hex.DecodeString(sum); err != nil {
		return "", fmt.Errorf("malformed digest %q: %w", sum, err)
	}

	return strings.ToLower(sum), nil
}
