// Package archive handles the job's inbound and outbound archives:
// extracting uploaded source trees (zip, tar.gz, tar.bz2, rar) and packing
// translated trees into the downloadable artifacts. Every extraction path
// resolves entry names against the destination root and refuses anything
// that would escape it.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// maxEntrySize bounds a single extracted file; uploads are localization
// trees, not media.
const maxEntrySize = 64 << 20

// Extract unpacks src into destDir based on the file extension.
func Extract(ctx context.Context, src, destDir string) error {
	lower := strings.ToLower(src)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return extractZip(src, destDir)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return extractTar(src, destDir, "gz")
	case strings.HasSuffix(lower, ".tar.bz2"), strings.HasSuffix(lower, ".tbz2"):
		return extractTar(src, destDir, "bz2")
	case strings.HasSuffix(lower, ".tar"):
		return extractTar(src, destDir, "")
	case strings.HasSuffix(lower, ".rar"):
		return extractRar(ctx, src, destDir)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(src))
	}
}

// SupportedArchive reports whether the filename carries an extension
// Extract understands.
func SupportedArchive(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range []string{".zip", ".tar.gz", ".tgz", ".tar.bz2", ".tbz2", ".tar", ".rar"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// securePath joins name under destDir and rejects traversal outside it.
func securePath(destDir, name string) (string, error) {
	path := filepath.Join(destDir, filepath.FromSlash(name))
	if path != destDir && !strings.HasPrefix(path, destDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry escapes destination: %s", name)
	}
	return path, nil
}

func extractZip(src, destDir string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		path, err := securePath(destDir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := writeZipEntry(f, path); err != nil {
			return fmt.Errorf("extract %s: %w", f.Name, err)
		}
	}
	return nil
}

func writeZipEntry(f *zip.File, path string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return writeFile(path, io.LimitReader(rc, maxEntrySize))
}

func extractTar(src, destDir, compression string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	switch compression {
	case "gz":
		gz, err := gzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "bz2":
		reader = bzip2.NewReader(f)
	}

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		path, err := securePath(destDir, hdr.Name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(path, io.LimitReader(tr, maxEntrySize)); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		}
		// Links and specials are dropped.
	}
}

// extractRar shells out to unrar; there is no stdlib reader for the format.
func extractRar(ctx context.Context, src, destDir string) error {
	if _, err := exec.LookPath("unrar"); err != nil {
		return fmt.Errorf("rar support requires the unrar binary: %w", err)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	out, err := exec.CommandContext(ctx, "unrar", "x", "-o+", "-y", src, destDir+string(os.PathSeparator)).CombinedOutput()
	if err != nil {
		return fmt.Errorf("unrar failed: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return err
	}
	return out.Close()
}

// FindPHPRoot locates the directory to treat as the translation root: the
// shallowest directory under root that contains at least one .php file.
// Archives often wrap their payload in a single top-level folder.
func FindPHPRoot(root string) (string, error) {
	type candidate struct {
		dir   string
		depth int
	}
	var best *candidate

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".php") {
			return nil
		}
		dir := filepath.Dir(path)
		depth := strings.Count(dir, string(os.PathSeparator))
		if best == nil || depth < best.depth {
			best = &candidate{dir: dir, depth: depth}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan extracted tree: %w", err)
	}
	if best == nil {
		return "", fmt.Errorf("no PHP files found in archive")
	}
	return best.dir, nil
}
