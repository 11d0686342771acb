// Package job holds the translation job lifecycle: the mutable job state,
// the in-memory registry that enforces concurrency limits, the per-file
// worker, and the runner that drives a job from extracted upload to packed
// artifacts.
package job

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fcs7/translate-php-tool/internal/domain"
)

// Artifact file names inside the job directory.
const (
	OutputZipName  = "output.zip"
	VoipnowTarName = "voipnow.tar.gz"
)

// maxErrors caps the per-job error list; on overflow the oldest entries are
// dropped so the snapshot always shows the most recent failures, including
// the terminal one.
const maxErrors = 10

// Job is one translation run. All mutable fields are guarded by mu; the
// cancel flag is atomic so workers can poll it without contention.
type Job struct {
	ID      string
	Owner   string
	Dir     string
	Delay   time.Duration
	Created time.Time

	cancelled atomic.Bool

	mu                sync.Mutex
	status            domain.JobStatus
	progress          int
	currentFile       string
	totalFiles        int
	filesDone         int
	totalStrings      int
	translatedStrings int
	errors            []string
	validation        *domain.ValidationReport
	sizeBytes         int64
	startedAt         *time.Time
	finishedAt        *time.Time
}

// NewID returns a fresh 8-hex-char job identifier.
func NewID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// New creates a pending job rooted at dir.
func New(id, owner, dir string, delay time.Duration) *Job {
	return &Job{
		ID:      id,
		Owner:   owner,
		Dir:     dir,
		Delay:   delay,
		Created: time.Now().UTC(),
		status:  domain.JobStatusPending,
	}
}

// InputDir is where the uploaded tree is extracted.
func (j *Job) InputDir() string { return filepath.Join(j.Dir, "input") }

// OutputDir is where translated files are written.
func (j *Job) OutputDir() string { return filepath.Join(j.Dir, "output") }

// OutputZipPath is the downloadable zip artifact.
func (j *Job) OutputZipPath() string { return filepath.Join(j.Dir, OutputZipName) }

// VoipnowPath is the downloadable VoipNow language pack.
func (j *Job) VoipnowPath() string { return filepath.Join(j.Dir, VoipnowTarName) }

// Cancel flags the job; workers stop at the next batch boundary.
func (j *Job) Cancel() { j.cancelled.Store(true) }

// Cancelled reports whether cancellation was requested.
func (j *Job) Cancelled() bool { return j.cancelled.Load() }

// Status returns the current lifecycle state.
func (j *Job) Status() domain.JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// SetStatus transitions the lifecycle state, stamping start and finish
// times. Terminal states are sticky; a late transition out of one is
// ignored.
func (j *Job) SetStatus(s domain.JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.status = s
	now := time.Now().UTC()
	switch {
	case s == domain.JobStatusRunning && j.startedAt == nil:
		j.startedAt = &now
	case s.Terminal():
		j.finishedAt = &now
	}
}

// SetTotals records the pre-count results.
func (j *Job) SetTotals(files, strings int, sizeBytes int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.totalFiles = files
	j.totalStrings = strings
	j.sizeBytes = sizeBytes
}

// SetCurrentFile records the file a worker just picked up.
func (j *Job) SetCurrentFile(rel string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.currentFile = rel
}

// AddTranslated advances the translated-strings counter and recomputes
// progress, returning the new percentage.
func (j *Job) AddTranslated(n int) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.translatedStrings += n
	j.progress = j.computeProgress()
	return j.progress
}

// FileDone advances the completed-files counter.
func (j *Job) FileDone() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.filesDone++
	j.progress = j.computeProgress()
}

func (j *Job) computeProgress() int {
	if j.totalStrings == 0 {
		if j.totalFiles == 0 {
			return 0
		}
		return j.filesDone * 100 / j.totalFiles
	}
	p := j.translatedStrings * 100 / j.totalStrings
	if p > 100 {
		p = 100
	}
	return p
}

// AddError appends an error message, keeping only the last maxErrors.
func (j *Job) AddError(msg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, msg)
	if len(j.errors) > maxErrors {
		j.errors = j.errors[len(j.errors)-maxErrors:]
	}
}

// SetValidation attaches the validation report.
func (j *Job) SetValidation(r *domain.ValidationReport) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.validation = r
}

// Snapshot returns a consistent copy of the job state for the API.
func (j *Job) Snapshot() domain.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	snap := domain.JobSnapshot{
		JobID:             j.ID,
		Owner:             j.Owner,
		Status:            j.status,
		Progress:          j.progress,
		CurrentFile:       j.currentFile,
		TotalFiles:        j.totalFiles,
		FilesDone:         j.filesDone,
		TotalStrings:      j.totalStrings,
		TranslatedStrings: j.translatedStrings,
		Errors:            append([]string(nil), j.errors...),
		Validation:        j.validation,
		SizeBytes:         j.sizeBytes,
		CreatedAt:         j.Created,
		StartedAt:         j.startedAt,
		FinishedAt:        j.finishedAt,
	}
	if j.status == domain.JobStatusCompleted {
		snap.HasOutput = fileExists(j.Dir, OutputZipName)
		snap.HasVoipnow = fileExists(j.Dir, VoipnowTarName)
	}
	return snap
}

func fileExists(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
