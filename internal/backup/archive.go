package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const archivePrefix = "calmplan-"

// Snapshotter writes a consistent copy of the database to a file.
type Snapshotter interface {
	SnapshotTo(ctx context.Context, path string) error
}

// WriteLocalSnapshot snapshots the database and archives it as
// <dir>/calmplan-<timestamp>.tar.gz, returning the archive path.
func WriteLocalSnapshot(ctx context.Context, snap Snapshotter, dir string, now time.Time) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("snapshot directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.MkdirTemp(dir, ".snapshot-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	dbCopy := filepath.Join(tmp, "calmplan.db")
	if err := snap.SnapshotTo(ctx, dbCopy); err != nil {
		return "", err
	}

	archivePath := filepath.Join(dir, archivePrefix+now.UTC().Format("20060102-150405")+".tar.gz")
	if err := archiveFile(dbCopy, archivePath); err != nil {
		_ = os.Remove(archivePath)
		return "", err
	}
	return archivePath, nil
}

// archiveFile writes src as the single entry of a tar.gz at archivePath.
func archiveFile(src, archivePath string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}

	f, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = filepath.Base(src)
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if _, err := io.Copy(tw, in); err != nil {
		return err
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return f.Close()
}

// ExtractSnapshot restores the database file from an archive into dir and
// returns its path.
func ExtractSnapshot(archivePath, dir string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return "", fmt.Errorf("no database in archive %s", archivePath)
		}
		if err != nil {
			return "", err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		name := filepath.Base(filepath.Clean(hdr.Name))
		if name == "." || name == ".." || name == string(filepath.Separator) {
			return "", fmt.Errorf("invalid archive entry path: %s", hdr.Name)
		}

		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
		outPath := filepath.Join(dir, name)
		dst, err := os.OpenFile(outPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(dst, tr); err != nil {
			_ = dst.Close()
			return "", err
		}
		return outPath, dst.Close()
	}
}

// ListSnapshots returns archive paths in dir, newest first.
func ListSnapshots(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), archivePrefix) && strings.HasSuffix(e.Name(), ".tar.gz") {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	// Timestamped names sort chronologically
	sort.Sort(sort.Reverse(sort.StringSlice(paths)))
	return paths, nil
}

// PruneSnapshots deletes all but the newest keep archives. keep <= 0 keeps
// everything.
func PruneSnapshots(dir string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	paths, err := ListSnapshots(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range paths[min(keep, len(paths)):] {
		if err := os.Remove(p); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
