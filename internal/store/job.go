package store

import (
	"context"
	"database/sql"
	"errors"
)

func (s *Store) CreateJob(ctx context.Context, j Job) error {
	const q = `INSERT INTO job (job_id, session_id, status, queued_at, started_at, finished_at, exit_code, timeout_flag, truncated_flag, output_ref_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := s.write.ExecContext(ctx, q, j.JobID, j.SessionID, j.Status, j.QueuedAt, j.StartedAt, j.FinishedAt,
		j.ExitCode, j.TimeoutFlag, j.TruncatedFlag, j.OutputRefJSON)
	return err
}

func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	const q = `SELECT job_id, session_id, status, queued_at, started_at, finished_at, exit_code, timeout_flag, truncated_flag, output_ref_json
FROM job WHERE job_id = $1`
	var j Job
	if err := s.read.GetContext(ctx, &j, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &j, nil
}

func (s *Store) UpdateJob(ctx context.Context, j Job) error {
	const q = `UPDATE job SET status = $2, started_at = $3, finished_at = $4, exit_code = $5, timeout_flag = $6, truncated_flag = $7, output_ref_json = $8
WHERE job_id = $1`
	_, err := s.write.ExecContext(ctx, q, j.JobID, j.Status, j.StartedAt, j.FinishedAt, j.ExitCode, j.TimeoutFlag, j.TruncatedFlag, j.OutputRefJSON)
	return err
}
