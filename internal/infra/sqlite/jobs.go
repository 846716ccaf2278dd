package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/speaknet/speakd/internal/domain"
)

// ─── TTS Job Operations ─────────────────────────────────────────────────────
// Job status transitions are enforced here with conditional updates; workers
// only call these guarded methods, never raw writes.

const jobColumns = `id, agent_id, status,
	request_text, request_text_length, request_voice_id, request_model_id,
	request_output_format, request_voice_settings,
	estimated_chars, reserved_chars, actual_chars, refunded_chars,
	download_url, mime_type, size_bytes, sha256,
	error_code, error_message,
	created_at, started_at, completed_at`

// InsertJob persists a new job in queued state with its immutable request
// snapshot. reserved_chars is fixed here and never changes.
func (db *DB) InsertJob(ctx context.Context, j *domain.TTSJob) error {
	var settings any
	if j.Request.VoiceSettings != nil {
		raw, err := json.Marshal(j.Request.VoiceSettings)
		if err != nil {
			return fmt.Errorf("encode voice settings: %w", err)
		}
		settings = string(raw)
	}
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO tts_jobs (id, agent_id, status,
			request_text, request_text_length, request_voice_id, request_model_id,
			request_output_format, request_voice_settings,
			estimated_chars, reserved_chars, created_at)
		VALUES (?, ?, 'queued', ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.AgentID,
		j.Request.Text, j.Request.TextLength, j.Request.VoiceID, j.Request.ModelID,
		j.Request.OutputFormat, settings,
		j.Usage.EstimatedChars, j.Usage.ReservedChars,
		j.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads a full job record.
func (db *DB) GetJob(ctx context.Context, jobID string) (*domain.TTSJob, error) {
	row := db.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM tts_jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

// GetJobExecutionInput re-reads the execution input fresh from the store.
// Workers call this on every delivery instead of trusting the queue payload.
func (db *DB) GetJobExecutionInput(ctx context.Context, jobID string) (*domain.JobExecutionInput, error) {
	j, err := db.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &domain.JobExecutionInput{
		ID:             j.ID,
		AgentID:        j.AgentID,
		Text:           j.Request.Text,
		VoiceID:        j.Request.VoiceID,
		ModelID:        j.Request.ModelID,
		OutputFormat:   j.Request.OutputFormat,
		VoiceSettings:  j.Request.VoiceSettings,
		EstimatedChars: j.Usage.EstimatedChars,
		ReservedChars:  j.Usage.ReservedChars,
	}, nil
}

// AcquireJob attempts the queued -> running transition. Returns whether THIS
// caller won it. A redelivered queue item loses here and exits without side
// effects, which is what keeps execution at-most-once-active.
func (db *DB) AcquireJob(ctx context.Context, jobID string) (bool, error) {
	res, err := db.db.ExecContext(ctx, `
		UPDATE tts_jobs SET status = 'running', started_at = ?
		WHERE id = ? AND status = 'queued'
	`, now(), jobID)
	if err != nil {
		return false, fmt.Errorf("acquire job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire job: %w", err)
	}
	return affected == 1, nil
}

// CompleteJob finalizes a successful job. Only permitted from queued or
// running so a stale worker cannot clobber an already-finalized record.
// Prior error fields are cleared.
func (db *DB) CompleteJob(ctx context.Context, jobID string, result domain.JobResult, actualChars, refundedChars int64) (bool, error) {
	res, err := db.db.ExecContext(ctx, `
		UPDATE tts_jobs
		SET status = 'done', completed_at = ?,
			actual_chars = ?, refunded_chars = ?,
			download_url = ?, mime_type = ?, size_bytes = ?, sha256 = ?,
			error_code = NULL, error_message = NULL
		WHERE id = ? AND status IN ('queued', 'running')
	`, now(), actualChars, refundedChars,
		result.DownloadURL, result.MimeType, result.SizeBytes, result.SHA256, jobID)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	return affected == 1, nil
}

// FailJob finalizes a failed job with an error code and message. Same guard
// as CompleteJob: finalization is write-once.
func (db *DB) FailJob(ctx context.Context, jobID, code, message string) (bool, error) {
	res, err := db.db.ExecContext(ctx, `
		UPDATE tts_jobs
		SET status = 'failed', completed_at = ?, error_code = ?, error_message = ?
		WHERE id = ? AND status IN ('queued', 'running')
	`, now(), code, message, jobID)
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return affected == 1, nil
}

// RequeueStale moves jobs that have been running longer than olderThan back
// to queued and returns their ids so the dispatcher can re-enqueue them.
// This is the reclaim path for workers that crashed mid-job.
func (db *DB) RequeueStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	rows, err := db.db.QueryContext(ctx, `
		SELECT id FROM tts_jobs WHERE status = 'running' AND started_at < ?
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("find stale jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale job: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale jobs: %w", err)
	}

	var requeued []string
	for _, id := range ids {
		// Guarded per id: a job that finished between SELECT and UPDATE
		// stays finished.
		res, err := db.db.ExecContext(ctx, `
			UPDATE tts_jobs SET status = 'queued', started_at = NULL
			WHERE id = ? AND status = 'running' AND started_at < ?
		`, id, cutoff)
		if err != nil {
			return requeued, fmt.Errorf("requeue stale job: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			requeued = append(requeued, id)
		}
	}
	return requeued, nil
}

// ListJobsByAgent returns the agent's most recent jobs.
func (db *DB) ListJobsByAgent(ctx context.Context, agentID string, limit int) ([]*domain.TTSJob, error) {
	rows, err := db.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM tts_jobs WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?`,
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.TTSJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// JobCounts returns per-status job counts.
func (db *DB) JobCounts(ctx context.Context) (*domain.JobStats, error) {
	var s domain.JobStats
	err := db.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(status = 'queued'), 0),
			COALESCE(SUM(status = 'running'), 0),
			COALESCE(SUM(status = 'done'), 0),
			COALESCE(SUM(status = 'failed'), 0)
		FROM tts_jobs
	`).Scan(&s.Total, &s.Queued, &s.Running, &s.Done, &s.Failed)
	if err != nil {
		return nil, fmt.Errorf("job counts: %w", err)
	}
	return &s, nil
}

func scanJob(row rowScanner) (*domain.TTSJob, error) {
	var (
		j                    domain.TTSJob
		status               string
		settings             sql.NullString
		actualChars          sql.NullInt64
		refundedChars        sql.NullInt64
		downloadURL          sql.NullString
		mimeType             sql.NullString
		sizeBytes            sql.NullInt64
		sha                  sql.NullString
		errCode              sql.NullString
		errMessage           sql.NullString
		createdAt            string
		startedAt, completed sql.NullString
	)
	err := row.Scan(&j.ID, &j.AgentID, &status,
		&j.Request.Text, &j.Request.TextLength, &j.Request.VoiceID, &j.Request.ModelID,
		&j.Request.OutputFormat, &settings,
		&j.Usage.EstimatedChars, &j.Usage.ReservedChars, &actualChars, &refundedChars,
		&downloadURL, &mimeType, &sizeBytes, &sha,
		&errCode, &errMessage,
		&createdAt, &startedAt, &completed)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.Status = domain.JobStatus(status)
	if settings.Valid && settings.String != "" {
		var vs domain.VoiceSettings
		if err := json.Unmarshal([]byte(settings.String), &vs); err == nil {
			j.Request.VoiceSettings = &vs
		}
	}
	if actualChars.Valid {
		j.Usage.ActualChars = &actualChars.Int64
	}
	if refundedChars.Valid {
		j.Usage.RefundedChars = &refundedChars.Int64
	}
	if downloadURL.Valid && mimeType.Valid && sizeBytes.Valid && sha.Valid {
		j.Result = &domain.JobResult{
			DownloadURL: downloadURL.String,
			MimeType:    mimeType.String,
			SizeBytes:   sizeBytes.Int64,
			SHA256:      sha.String,
		}
	}
	if errCode.Valid && errMessage.Valid {
		j.Error = &domain.JobError{Code: errCode.String, Message: errMessage.String}
	}
	j.CreatedAt = parseTime(createdAt)
	j.StartedAt = parseTimePtr(startedAt)
	j.CompletedAt = parseTimePtr(completed)
	return &j, nil
}
