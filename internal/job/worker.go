package job

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fcs7/translate-php-tool/internal/phpmsg"
)

// ErrCancelled is returned by workers when the job's cancel flag trips.
var ErrCancelled = errors.New("job cancelled")

// Translator is the slice of the engine the worker needs.
type Translator interface {
	TranslateBatch(ctx context.Context, texts []string) ([]string, []bool)
}

// slot is one translatable line awaiting its translation.
type slot struct {
	lineIdx   int
	match     *phpmsg.Match
	protected string
	mapping   phpmsg.PlaceholderMap
}

// FileResult summarizes one file worker run.
type FileResult struct {
	Translated int
	Skipped    bool
}

// TranslateFile runs the three-pass worker over one file: collect the
// translatable lines, translate them in batches, then emit the whole file
// in one atomic write. A partially written output never exists on disk;
// cancellation between batches leaves the previous output (or nothing)
// untouched.
//
// Resume: an existing output with at least as many lines as the input is
// taken as done and skipped. A shorter one is discarded and the file is
// redone from the start; anything else risks stitching two half-runs
// together.
func TranslateFile(ctx context.Context, tr Translator, j *Job, srcPath, dstPath string, batchSize int, onBatch func(processed int)) (FileResult, error) {
	srcLines, trailingNewline, err := readFileLines(srcPath)
	if err != nil {
		return FileResult{}, fmt.Errorf("read %s: %w", srcPath, err)
	}

	if dstLines, _, err := readFileLines(dstPath); err == nil {
		if len(dstLines) >= len(srcLines) {
			return FileResult{Skipped: true}, nil
		}
		// Shorter output is a broken partial from an earlier run.
		_ = os.Remove(dstPath)
	}

	// Pass 1: collect.
	out := append([]string(nil), srcLines...)
	var slots []slot
	for i, line := range srcLines {
		m := phpmsg.Classify(line)
		if m == nil {
			continue
		}
		prepared := phpmsg.Prepare(m.RawLiteral, m.Quote)
		protected, mapping := phpmsg.Protect(prepared)
		slots = append(slots, slot{lineIdx: i, match: m, protected: protected, mapping: mapping})
	}

	// Pass 2: translate in batches.
	translated := 0
	for start := 0; start < len(slots); start += batchSize {
		if j.Cancelled() {
			return FileResult{Translated: translated}, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return FileResult{Translated: translated}, err
		}

		end := start + batchSize
		if end > len(slots) {
			end = len(slots)
		}
		batch := slots[start:end]

		texts := make([]string, len(batch))
		for k, s := range batch {
			texts[k] = s.protected
		}
		results, ok := tr.TranslateBatch(ctx, texts)

		for k, s := range batch {
			if k < len(ok) && ok[k] {
				restored := phpmsg.Restore(results[k], s.mapping)
				out[s.lineIdx] = s.match.Prefix + phpmsg.Reescape(restored, s.match.Quote) + s.match.Suffix
				translated++
			}
			// Failed elements keep the original line verbatim.
		}
		if onBatch != nil {
			onBatch(len(batch))
		}

		if end < len(slots) && j.Delay > 0 {
			if err := sleepCtx(ctx, j.Delay); err != nil {
				return FileResult{Translated: translated}, err
			}
		}
	}

	// Pass 3: emit atomically.
	if err := writeFileLines(dstPath, out, trailingNewline); err != nil {
		return FileResult{Translated: translated}, fmt.Errorf("write %s: %w", dstPath, err)
	}
	return FileResult{Translated: translated}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// readFileLines splits a file on \n, reporting whether it ended with a
// newline so the emit pass can reproduce it exactly.
func readFileLines(path string) ([]string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}
	content := string(data)
	trailing := strings.HasSuffix(content, "\n")
	if trailing {
		content = content[:len(content)-1]
	}
	if content == "" {
		return []string{}, trailing, nil
	}
	return strings.Split(content, "\n"), trailing, nil
}

// writeFileLines writes lines to a temp file in the target directory and
// renames it into place.
func writeFileLines(path string, lines []string, trailingNewline bool) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	content := strings.Join(lines, "\n")
	if trailingNewline {
		content += "\n"
	}
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
