package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fcs7/translate-php-tool/internal/domain"
)

// JobStore implements job.Store backed by the jobs table.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore creates a JobStore backed by the given pool.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// SaveJob upserts the snapshot.
func (s *JobStore) SaveJob(ctx context.Context, snap domain.JobSnapshot) error {
	errs, err := json.Marshal(snap.Errors)
	if err != nil {
		return fmt.Errorf("marshal job errors: %w", err)
	}
	var validation []byte
	if snap.Validation != nil {
		validation, err = json.Marshal(snap.Validation)
		if err != nil {
			return fmt.Errorf("marshal validation report: %w", err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (
			job_id, owner_name, status, progress,
			total_files, files_done, total_strings, translated_strings,
			file_size_bytes, errors, validation,
			created_at, started_at, finished_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			progress = EXCLUDED.progress,
			total_files = EXCLUDED.total_files,
			files_done = EXCLUDED.files_done,
			total_strings = EXCLUDED.total_strings,
			translated_strings = EXCLUDED.translated_strings,
			file_size_bytes = EXCLUDED.file_size_bytes,
			errors = EXCLUDED.errors,
			validation = EXCLUDED.validation,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`,
		snap.JobID, snap.Owner, string(snap.Status), snap.Progress,
		snap.TotalFiles, snap.FilesDone, snap.TotalStrings, snap.TranslatedStrings,
		snap.SizeBytes, errs, validation,
		snap.CreatedAt, snap.StartedAt, snap.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", snap.JobID, err)
	}
	return nil
}

// DeleteJob removes the mirror row.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM jobs WHERE job_id = $1", jobID); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

// ListJobs returns up to limit snapshots, newest first.
func (s *JobStore) ListJobs(ctx context.Context, limit int) ([]domain.JobSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT job_id, owner_name, status, progress,
		       total_files, files_done, total_strings, translated_strings,
		       file_size_bytes, errors, validation,
		       created_at, started_at, finished_at
		FROM jobs
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.JobSnapshot
	for rows.Next() {
		var (
			snap       domain.JobSnapshot
			status     string
			errs       []byte
			validation []byte
		)
		if err := rows.Scan(
			&snap.JobID, &snap.Owner, &status, &snap.Progress,
			&snap.TotalFiles, &snap.FilesDone, &snap.TotalStrings, &snap.TranslatedStrings,
			&snap.SizeBytes, &errs, &validation,
			&snap.CreatedAt, &snap.StartedAt, &snap.FinishedAt,
		); err != nil {
			return nil, err
		}
		snap.Status = domain.JobStatus(status)
		if len(errs) > 0 {
			if err := json.Unmarshal(errs, &snap.Errors); err != nil {
				return nil, fmt.Errorf("unmarshal job errors: %w", err)
			}
		}
		if len(validation) > 0 {
			snap.Validation = &domain.ValidationReport{}
			if err := json.Unmarshal(validation, snap.Validation); err != nil {
				return nil, fmt.Errorf("unmarshal validation report: %w", err)
			}
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
