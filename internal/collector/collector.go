// Package collector captures and packages a finished run's artifacts. It
// depends only on a handle to the container's output location; failures here
// surface as storage warnings and never block an experiment's terminal
// transition.
package collector

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/SomBagchi/bioreactor-website/internal/experiment"
)

// BundleName is the combined downloadable archive inside every result dir.
const BundleName = "results.zip"

// OutputSource is the slice of a terminated container the collector needs.
type OutputSource interface {
	Output(ctx context.Context) (stdout, stderr []byte, err error)
}

// Collector packages results into fixed-layout archives under baseDir and
// purges them once their retention deadline passes.
type Collector struct {
	baseDir   string
	retention time.Duration
	log       *slog.Logger
}

// New creates a collector writing archives under baseDir/archives.
func New(baseDir string, retention time.Duration, log *slog.Logger) *Collector {
	return &Collector{baseDir: baseDir, retention: retention, log: log}
}

// Finalize captures stdout, stderr and exit code from the terminated
// container, copies the experiment's output directory, and produces the
// archive: output/, stdout.txt, stderr.txt, exitcode.txt, results.zip.
// It returns the archive path and the retention deadline. Any failure is
// wrapped as a StorageError.
func (c *Collector) Finalize(ctx context.Context, id uuid.UUID, src OutputSource, outputDir string, exitCode int) (string, time.Time, error) {
	archiveDir := filepath.Join(c.baseDir, "archives", id.String())
	retainUntil := time.Now().UTC().Add(c.retention)

	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return "", retainUntil, &experiment.StorageError{Op: "create archive dir", Err: err}
	}

	stdout, stderr, err := src.Output(ctx)
	if err != nil {
		return "", retainUntil, &experiment.StorageError{Op: "capture container output", Err: err}
	}

	if err := os.WriteFile(filepath.Join(archiveDir, "stdout.txt"), stdout, 0o644); err != nil {
		return "", retainUntil, &experiment.StorageError{Op: "write stdout.txt", Err: err}
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "stderr.txt"), stderr, 0o644); err != nil {
		return "", retainUntil, &experiment.StorageError{Op: "write stderr.txt", Err: err}
	}
	if err := os.WriteFile(filepath.Join(archiveDir, "exitcode.txt"), []byte(strconv.Itoa(exitCode)), 0o644); err != nil {
		return "", retainUntil, &experiment.StorageError{Op: "write exitcode.txt", Err: err}
	}

	if err := copyTree(outputDir, filepath.Join(archiveDir, "output")); err != nil {
		return "", retainUntil, &experiment.StorageError{Op: "copy output dir", Err: err}
	}

	if err := c.writeBundle(archiveDir); err != nil {
		return "", retainUntil, &experiment.StorageError{Op: "write bundle", Err: err}
	}

	c.log.Info("results finalized", "experiment_id", id, "archive", archiveDir)
	return archiveDir, retainUntil, nil
}

// ListFiles returns the relative paths of every file in an archive, sorted.
func (c *Collector) ListFiles(archiveDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(archiveDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(archiveDir, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, &experiment.StorageError{Op: "list archive", Err: err}
	}
	sort.Strings(files)
	return files, nil
}

// BundlePath returns the path of the downloadable zip inside an archive.
func (c *Collector) BundlePath(archiveDir string) string {
	return filepath.Join(archiveDir, BundleName)
}

// Purge removes an archive past its retention deadline.
func (c *Collector) Purge(archiveDir string) error {
	if err := os.RemoveAll(archiveDir); err != nil {
		return &experiment.StorageError{Op: "purge archive", Err: err}
	}
	return nil
}

// writeBundle zips the archive contents in sorted order with fixed header
// metadata, so identical inputs produce identical bundles.
func (c *Collector) writeBundle(archiveDir string) error {
	bundlePath := filepath.Join(archiveDir, BundleName)

	var entries []string
	err := filepath.WalkDir(archiveDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path == bundlePath {
			return nil
		}
		rel, err := filepath.Rel(archiveDir, path)
		if err != nil {
			return err
		}
		entries = append(entries, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(entries)

	f, err := os.Create(bundlePath)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range entries {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		src, err := os.Open(filepath.Join(archiveDir, filepath.FromSlash(name)))
		if err != nil {
			return err
		}
		_, err = io.Copy(w, src)
		src.Close()
		if err != nil {
			return err
		}
	}
	return zw.Close()
}

func copyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			// A script that wrote nothing still gets an empty output/.
			return os.MkdirAll(dst, 0o755)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("output path %s is not a directory", src)
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
