package db

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/YannKr/signflow/internal/model"
)

const (
	JobPending   = "PENDING"
	JobRunning   = "RUNNING"
	JobCompleted = "COMPLETED"
	JobFailed    = "FAILED"
)

// EnqueueJobIfNotExists inserts j only if no PENDING or RUNNING job of the
// same type exists for the document. Returns true if one already existed.
func EnqueueJobIfNotExists(ctx context.Context, database *sql.DB, j *model.Job) (alreadyExists bool, err error) {
	runAfter := j.RunAfter
	if runAfter.IsZero() {
		runAfter = time.Now()
	}
	res, err := database.ExecContext(ctx,
		`INSERT INTO jobs (id, job_type, document_id, state, run_after)
		 SELECT ?, ?, ?, 'PENDING', ?
		 WHERE NOT EXISTS (
		   SELECT 1 FROM jobs WHERE document_id = ? AND job_type = ? AND state IN ('PENDING', 'RUNNING')
		 )`,
		j.ID, j.JobType, j.DocumentID, formatTime(runAfter), j.DocumentID, j.JobType,
	)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 0, nil
}

// ClaimNextJob moves the oldest due PENDING job of one of jobTypes to
// RUNNING and returns it, or nil when nothing is due.
func ClaimNextJob(ctx context.Context, database *sql.DB, jobTypes []string, now time.Time) (*model.Job, error) {
	if len(jobTypes) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(jobTypes)+2)
	args = append(args, formatTime(now))
	for _, jt := range jobTypes {
		args = append(args, jt)
	}
	args = append(args, formatTime(now))

	query := `
		UPDATE jobs
		SET state = 'RUNNING', started_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE state = 'PENDING' AND job_type IN (` + placeholders(len(jobTypes)) + `)
			  AND run_after <= ?
			ORDER BY run_after ASC, created_at ASC LIMIT 1
		)
		RETURNING id, job_type, document_id, state, attempts, COALESCE(error_message, ''),
		          run_after, created_at, started_at`

	j := &model.Job{}
	var runAfter, createdAt, startedAt SQLiteTime
	err := database.QueryRowContext(ctx, query, args...).Scan(
		&j.ID, &j.JobType, &j.DocumentID, &j.State, &j.Attempts, &j.ErrorMessage,
		&runAfter, &createdAt, &startedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.RunAfter = runAfter.Time
	j.CreatedAt = createdAt.Time
	j.StartedAt = &startedAt.Time
	return j, nil
}

func GetJob(ctx context.Context, database *sql.DB, id string) (*model.Job, error) {
	j := &model.Job{}
	var runAfter, createdAt SQLiteTime
	var startedAt, completedAt sql.NullString
	err := database.QueryRowContext(ctx,
		`SELECT id, job_type, document_id, state, attempts, COALESCE(error_message, ''),
		        run_after, created_at, started_at, completed_at
		 FROM jobs WHERE id = ?`, id,
	).Scan(&j.ID, &j.JobType, &j.DocumentID, &j.State, &j.Attempts, &j.ErrorMessage,
		&runAfter, &createdAt, &startedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	j.RunAfter = runAfter.Time
	j.CreatedAt = createdAt.Time
	j.StartedAt = parseNullTime(startedAt)
	j.CompletedAt = parseNullTime(completedAt)
	return j, nil
}

func CompleteJob(ctx context.Context, database *sql.DB, id string) error {
	_, err := database.ExecContext(ctx,
		`UPDATE jobs SET state = 'COMPLETED', attempts = attempts + 1,
		        completed_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`, id,
	)
	return err
}

// RetryJob puts a RUNNING job back to PENDING, due at runAfter.
func RetryJob(ctx context.Context, database *sql.DB, id, errorMsg string, runAfter time.Time) error {
	_, err := database.ExecContext(ctx,
		`UPDATE jobs SET state = 'PENDING', attempts = attempts + 1, error_message = ?, run_after = ?, started_at = NULL
		 WHERE id = ?`, errorMsg, formatTime(runAfter), id,
	)
	return err
}

func FailJob(ctx context.Context, database *sql.DB, id, errorMsg string) error {
	_, err := database.ExecContext(ctx,
		`UPDATE jobs SET state = 'FAILED', attempts = attempts + 1, error_message = ?,
		        completed_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		 WHERE id = ?`, errorMsg, id,
	)
	return err
}

// ResetStaleJobs returns RUNNING jobs started before cutoff to PENDING so
// that a crashed worker does not strand them.
func ResetStaleJobs(ctx context.Context, database *sql.DB, cutoff time.Time) (int64, error) {
	res, err := database.ExecContext(ctx,
		`UPDATE jobs SET state = 'PENDING', started_at = NULL
		 WHERE state = 'RUNNING' AND started_at < ?`, formatTime(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func PruneFinishedJobs(ctx context.Context, database *sql.DB, before time.Time) (int64, error) {
	res, err := database.ExecContext(ctx,
		`DELETE FROM jobs WHERE state IN ('COMPLETED', 'FAILED') AND completed_at < ?`, formatTime(before),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
