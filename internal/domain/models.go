// Package domain defines the core business types shared across transd.
// These types represent the translation engine's data model — not HTTP
// specifics.
//
// Domain types carry json tags because they are directly serialized in API
// responses and progress events. Job itself is never serialized directly:
// the runner owns the live Job and readers only ever see a JobSnapshot.
package domain

import (
	"errors"
	"regexp"
	"time"
)

// ErrJobNotFound indicates a lookup for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// ErrTooManyJobs indicates the concurrent-job limit has been reached.
var ErrTooManyJobs = errors.New("too many concurrent jobs")

// JobIDPattern matches a valid job id: 8 lowercase hex characters.
// Every path parameter claiming to be a job id must pass this before any
// filesystem use.
var JobIDPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// ValidJobID reports whether s is a well-formed job id.
func ValidJobID(s string) bool {
	return JobIDPattern.MatchString(s)
}

// JobStatus represents the state of a translation job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is a frozen final state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobSnapshot is an immutable copy of a job's state, taken under the job's
// lock. Snapshots are what the API returns and what the event hub publishes.
type JobSnapshot struct {
	JobID             string            `json:"job_id"`
	Owner             string            `json:"owner,omitempty"`
	Status            JobStatus         `json:"status"`
	Progress          int               `json:"progress"`
	CurrentFile       string            `json:"current_file"`
	TotalFiles        int               `json:"total_files"`
	FilesDone         int               `json:"files_done"`
	TotalStrings      int               `json:"total_strings"`
	TranslatedStrings int               `json:"translated_strings"`
	Errors            []string          `json:"errors"`
	Validation        *ValidationReport `json:"validation,omitempty"`
	HasOutput         bool              `json:"has_output"`
	HasVoipnow        bool              `json:"has_voipnow"`
	SizeBytes         int64             `json:"file_size_bytes"`
	CreatedAt         time.Time         `json:"created_at"`
	StartedAt         *time.Time        `json:"started_at"`
	FinishedAt        *time.Time        `json:"finished_at"`
}

// Issue tag values used by the cross-tree validator.
const (
	IssueMissingFile  = "missing_file"
	IssueLineCount    = "line_count"
	IssueKeyChanged   = "key_changed"
	IssueUntranslated = "untranslated"
	IssuePlaceholder  = "placeholder"
	IssueEscape       = "escape"
)

// ValidationIssue describes one problem found while comparing the source
// tree against the translated tree.
type ValidationIssue struct {
	Type    string   `json:"type"`
	File    string   `json:"file"`
	Line    int      `json:"line,omitempty"`
	Message string   `json:"msg,omitempty"`
	Source  string   `json:"en,omitempty"`
	Target  string   `json:"br,omitempty"`
	Missing []string `json:"missing,omitempty"`
	Extra   []string `json:"extra,omitempty"`
}

// ValidationStats aggregates validator counters across the whole tree.
type ValidationStats struct {
	Success             int `json:"success"`
	Untranslated        int `json:"untranslated"`
	MissingPlaceholders int `json:"missing_placeholders"`
	EscapeIssues        int `json:"escape_issues"`
	LineMismatch        int `json:"line_mismatch"`
	MissingFiles        int `json:"missing_files"`
}

// ValidationReport is attached to a job after the last file is translated.
// Issues is capped to the first 20 problems; Stats counts everything.
type ValidationReport struct {
	Stats  ValidationStats   `json:"stats"`
	Issues []ValidationIssue `json:"issues"`
}

// ProviderStatus is the availability classification of a translation provider.
type ProviderStatus string

const (
	ProviderAvailable   ProviderStatus = "available"
	ProviderRateLimited ProviderStatus = "rate_limited"
	ProviderDisabled    ProviderStatus = "disabled"
)

// ProviderStats is a read-only snapshot of one provider's counters.
type ProviderStats struct {
	Status        ProviderStatus `json:"status"`
	TotalRequests int64          `json:"total_requests"`
	Successful    int64          `json:"successful"`
	Failed        int64          `json:"failed"`
	RateLimited   int64          `json:"rate_limited"`
	SuccessRate   string         `json:"success_rate"`
}

// CacheStats is a read-only snapshot of the two-level cache counters.
type CacheStats struct {
	TotalLookups int64  `json:"total_lookups"`
	HitsL1       int64  `json:"hits_l1"`
	HitsL2       int64  `json:"hits_l2"`
	Misses       int64  `json:"misses"`
	HitRateL1    string `json:"hit_rate_l1"`
	HitRateTotal string `json:"hit_rate_total"`
	L1Size       int    `json:"l1_size"`
	L1Max        int    `json:"l1_max"`
}

// EngineStats is the on-demand engine telemetry exposed by the API.
type EngineStats struct {
	Cache          CacheStats               `json:"cache"`
	Providers      map[string]ProviderStats `json:"providers"`
	ActiveProvider string                   `json:"active_provider"`
}
