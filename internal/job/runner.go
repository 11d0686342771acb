package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fcs7/translate-php-tool/internal/archive"
	"github.com/fcs7/translate-php-tool/internal/domain"
	"github.com/fcs7/translate-php-tool/internal/events"
	"github.com/fcs7/translate-php-tool/internal/phpmsg"
	"github.com/fcs7/translate-php-tool/internal/validate"
)

// ArtifactStore mirrors job artifacts into object storage. A nil store
// keeps artifacts local-only.
type ArtifactStore interface {
	UploadFile(ctx context.Context, jobID, name, localPath string) error
	RemoveJob(ctx context.Context, jobID string) error
}

// Runner drives admitted jobs: pre-count, parallel file translation,
// validation, packaging, and terminal bookkeeping.
type Runner struct {
	engine   Translator
	registry *Registry
	hub      *events.Hub
	store    ArtifactStore

	batchSize        int
	maxParallelFiles int
	log              *slog.Logger
}

// NewRunner wires the runner. store may be nil.
func NewRunner(engine Translator, registry *Registry, hub *events.Hub, store ArtifactStore, batchSize, maxParallelFiles int, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{
		engine:           engine,
		registry:         registry,
		hub:              hub,
		store:            store,
		batchSize:        batchSize,
		maxParallelFiles: maxParallelFiles,
		log:              log,
	}
}

// Run executes the job to a terminal state. Intended to be launched on its
// own goroutine; it never returns an error, it records one on the job.
func (r *Runner) Run(ctx context.Context, j *Job) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("job panicked", "job_id", j.ID, "panic", rec)
			r.fail(ctx, j, fmt.Sprintf("internal error: %v", rec))
		}
	}()

	j.SetStatus(domain.JobStatusRunning)
	r.registry.Persist(ctx, j)
	r.log.Info("job started", "job_id", j.ID)

	srcRoot, err := archive.FindPHPRoot(j.InputDir())
	if err != nil {
		r.fail(ctx, j, err.Error())
		return
	}

	phpFiles, otherFiles, totalStrings, totalBytes, err := scanTree(srcRoot)
	if err != nil {
		r.fail(ctx, j, fmt.Sprintf("scan input: %v", err))
		return
	}
	j.SetTotals(len(phpFiles), totalStrings, totalBytes)
	r.publishProgress(j)

	if err := r.translateAll(ctx, j, srcRoot, phpFiles); err != nil {
		if errors.Is(err, ErrCancelled) || j.Cancelled() {
			r.finish(ctx, j, domain.JobStatusCancelled, "job cancelled", nil)
			return
		}
		r.fail(ctx, j, err.Error())
		return
	}
	if j.Cancelled() {
		r.finish(ctx, j, domain.JobStatusCancelled, "job cancelled", nil)
		return
	}

	// Non-translatable files pass through so the artifacts hold a complete
	// tree.
	for _, rel := range otherFiles {
		if err := copyFile(filepath.Join(srcRoot, rel), filepath.Join(j.OutputDir(), rel)); err != nil {
			j.AddError(fmt.Sprintf("copy %s: %v", rel, err))
		}
	}

	report, err := validate.Run(srcRoot, j.OutputDir())
	if err != nil {
		j.AddError(fmt.Sprintf("validation: %v", err))
	} else {
		j.SetValidation(report)
	}

	if err := archive.PackZip(j.OutputDir(), j.OutputZipPath()); err != nil {
		r.fail(ctx, j, fmt.Sprintf("pack zip: %v", err))
		return
	}
	if err := archive.PackVoipnow(j.OutputDir(), j.VoipnowPath()); err != nil {
		r.fail(ctx, j, fmt.Sprintf("pack language pack: %v", err))
		return
	}
	r.mirrorArtifacts(ctx, j)

	r.finish(ctx, j, domain.JobStatusCompleted, "translation complete", report)
}

// translateAll fans the PHP files out over the worker pool.
func (r *Runner) translateAll(ctx context.Context, j *Job, srcRoot string, phpFiles []string) error {
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(r.maxParallelFiles)

	for _, rel := range phpFiles {
		rel := rel
		if j.Cancelled() {
			break
		}
		grp.Go(func() error {
			if j.Cancelled() {
				return ErrCancelled
			}
			j.SetCurrentFile(rel)

			srcPath := filepath.Join(srcRoot, rel)
			dstPath := filepath.Join(j.OutputDir(), rel)
			res, err := TranslateFile(ctx, r.engine, j, srcPath, dstPath, r.batchSize, func(processed int) {
				j.AddTranslated(processed)
				r.publishProgress(j)
			})
			if err != nil {
				if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				// A broken file is recorded and skipped; the job keeps going.
				j.AddError(fmt.Sprintf("%s: %v", rel, err))
				j.FileDone()
				r.publishProgress(j)
				return nil
			}
			if res.Skipped {
				// Resumed files count their strings as done.
				j.AddTranslated(phpmsg.CountStrings(srcPath))
			}
			j.FileDone()
			r.publishProgress(j)
			return nil
		})
	}
	return grp.Wait()
}

func (r *Runner) publishProgress(j *Job) {
	snap := j.Snapshot()
	r.hub.Publish(events.Event{
		Kind:              events.KindProgress,
		JobID:             j.ID,
		Progress:          snap.Progress,
		CurrentFile:       snap.CurrentFile,
		FilesDone:         snap.FilesDone,
		TotalFiles:        snap.TotalFiles,
		TranslatedStrings: snap.TranslatedStrings,
		TotalStrings:      snap.TotalStrings,
	})
}

func (r *Runner) fail(ctx context.Context, j *Job, msg string) {
	j.AddError(msg)
	j.SetStatus(domain.JobStatusFailed)
	r.registry.Persist(ctx, j)
	r.hub.Publish(events.Event{
		Kind:    events.KindError,
		JobID:   j.ID,
		Status:  string(domain.JobStatusFailed),
		Message: msg,
	})
	r.log.Error("job failed", "job_id", j.ID, "error", msg)
}

func (r *Runner) finish(ctx context.Context, j *Job, status domain.JobStatus, msg string, report *domain.ValidationReport) {
	j.SetStatus(status)
	r.registry.Persist(ctx, j)
	r.hub.Publish(events.Event{
		Kind:    events.KindComplete,
		JobID:   j.ID,
		Status:  string(status),
		Message: msg,
		Report:  report,
	})
	r.log.Info("job finished", "job_id", j.ID, "status", status)
}

func (r *Runner) mirrorArtifacts(ctx context.Context, j *Job) {
	if r.store == nil {
		return
	}
	for name, path := range map[string]string{
		OutputZipName:  j.OutputZipPath(),
		VoipnowTarName: j.VoipnowPath(),
	} {
		if err := r.store.UploadFile(ctx, j.ID, name, path); err != nil {
			r.log.Warn("artifact mirror failed", "job_id", j.ID, "artifact", name, "error", err)
		}
	}
}

// scanTree walks root once, splitting PHP files from the rest and
// pre-counting translatable strings so progress is meaningful from the
// first batch.
func scanTree(root string) (phpFiles, otherFiles []string, totalStrings int, totalBytes int64, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if info, infoErr := d.Info(); infoErr == nil {
			totalBytes += info.Size()
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".php") {
			phpFiles = append(phpFiles, rel)
			totalStrings += phpmsg.CountStrings(path)
		} else {
			otherFiles = append(otherFiles, rel)
		}
		return nil
	})
	if err != nil {
		return nil, nil, 0, 0, err
	}
	sort.Strings(phpFiles)
	sort.Strings(otherFiles)
	return phpFiles, otherFiles, totalStrings, totalBytes, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
