package dataset

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Archive describes a remotely stored dataset archive and where its
// extracted content should live locally.
type Archive struct {
	// TargetDir is the directory the archive extracts into. When it
	// already exists, EnsureLocal does nothing.
	TargetDir string

	// CachePath is where the downloaded zip is kept. A present, valid
	// cache skips the download.
	CachePath string

	// SHA256, when set, is verified against the downloaded archive
	// before extraction.
	SHA256 string

	// Open streams the archive's bytes (from an object store or an
	// HTTP URL).
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// EnsureLocal makes the archive's content available at TargetDir:
// short-circuits when the directory exists, otherwise downloads (or
// reuses the cached zip), verifies the checksum when one is declared
// and extracts. The cached archive is left in place.
func EnsureLocal(ctx context.Context, a Archive) error {
	if strings.TrimSpace(a.TargetDir) == "" {
		return fmt.Errorf("target dir is required")
	}
	if info, err := os.Stat(a.TargetDir); err == nil {
		if !info.IsDir() {
			return fmt.Errorf("target %s exists and is not a directory", a.TargetDir)
		}
		return nil
	}
	if strings.TrimSpace(a.CachePath) == "" {
		return fmt.Errorf("cache path is required")
	}
	if a.Open == nil {
		return fmt.Errorf("archive opener is required")
	}

	if _, err := os.Stat(a.CachePath); err != nil {
		if err := download(ctx, a); err != nil {
			return err
		}
	}
	if a.SHA256 != "" {
		if err := verifySHA256(a.CachePath, a.SHA256); err != nil {
			return err
		}
	}
	return extractZip(a.CachePath, a.TargetDir)
}

func download(ctx context.Context, a Archive) error {
	body, err := a.Open(ctx)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(a.CachePath), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := a.CachePath + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("download archive: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp, a.CachePath); err != nil {
		return fmt.Errorf("finalize cache file: %w", err)
	}
	return nil
}

func verifySHA256(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash archive: %w", err)
	}
	got := hex.EncodeToString(h.Sum(nil))
	want = strings.ToLower(strings.TrimSpace(want))
	if got != want {
		return fmt.Errorf("archive checksum mismatch: got %s, want %s", got, want)
	}
	return nil
}

// extractZip unpacks the archive into targetDir, rejecting entries
// whose cleaned path escapes it (zip-slip).
func extractZip(archivePath, targetDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("create target dir: %w", err)
	}
	root, err := filepath.Abs(targetDir)
	if err != nil {
		return err
	}

	for _, entry := range reader.File {
		dest := filepath.Join(root, filepath.Clean(entry.Name))
		if dest != root && !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
			return fmt.Errorf("zip entry %q escapes target dir", entry.Name)
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("create dir %s: %w", dest, err)
			}
			continue
		}
		if err := extractFile(entry, dest); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", dest, err)
	}
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	return out.Close()
}
