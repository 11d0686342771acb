package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// DefaultVersion is used in the voipnow meta when no version string can be
// detected in the translated tree.
const DefaultVersion = "1.0.0"

// versionScanLimit bounds how much of each file the version scan reads.
const versionScanLimit = 8 * 1024

var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$version\s*=\s*"(\d+\.\d+(?:\.\d+)?)"`),
	regexp.MustCompile(`@version\s+(\d+\.\d+(?:\.\d+)?)`),
	regexp.MustCompile(`Version:\s*(\d+\.\d+(?:\.\d+)?)`),
}

// PackZip writes every file under srcDir into a zip at zipPath, paths
// relative to srcDir, sorted for reproducible output.
func PackZip(srcDir, zipPath string) error {
	files, err := listFiles(srcDir)
	if err != nil {
		return err
	}

	out, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("create zip: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, rel := range files {
		if err := addZipEntry(zw, srcDir, rel); err != nil {
			zw.Close()
			return fmt.Errorf("pack %s: %w", rel, err)
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}

func addZipEntry(zw *zip.Writer, srcDir, rel string) error {
	f, err := os.Open(filepath.Join(srcDir, rel))
	if err != nil {
		return err
	}
	defer f.Close()

	w, err := zw.Create(filepath.ToSlash(rel))
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

// PackVoipnow writes the VoipNow language pack: a tar.gz with a
// language/meta descriptor and the translated tree under language/pt_br/.
func PackVoipnow(srcDir, tarPath string) error {
	files, err := listFiles(srcDir)
	if err != nil {
		return err
	}
	meta := buildMeta(DetectVersion(srcDir, files))

	out, err := os.Create(tarPath)
	if err != nil {
		return fmt.Errorf("create tarball: %w", err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)
	now := time.Now()

	writeEntry := func(name string, data io.Reader, size int64) error {
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    size,
			ModTime: now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err := io.Copy(tw, data)
		return err
	}

	if err := writeEntry("language/meta", strings.NewReader(meta), int64(len(meta))); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	for _, rel := range files {
		path := filepath.Join(srcDir, rel)
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		err = writeEntry("language/pt_br/"+filepath.ToSlash(rel), f, info.Size())
		f.Close()
		if err != nil {
			return fmt.Errorf("pack %s: %w", rel, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return out.Close()
}

func buildMeta(version string) string {
	return "ISO: pt_br\n" +
		"Language: Portuguese\n" +
		"Charset: UTF-8\n" +
		"Version: " + version + "\n"
}

// DetectVersion scans the head of each file for a version declaration and
// returns the first hit, falling back to DefaultVersion.
func DetectVersion(srcDir string, files []string) string {
	buf := make([]byte, versionScanLimit)
	for _, rel := range files {
		f, err := os.Open(filepath.Join(srcDir, rel))
		if err != nil {
			continue
		}
		n, _ := io.ReadFull(f, buf)
		f.Close()

		head := string(buf[:n])
		for _, re := range versionPatterns {
			if m := re.FindStringSubmatch(head); m != nil {
				return m[1]
			}
		}
	}
	return DefaultVersion
}

func listFiles(srcDir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", srcDir, err)
	}
	sort.Strings(files)
	return files, nil
}
