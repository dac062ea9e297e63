package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const jobColumns = "id, uid, kind, status, source_language, target_language, media_path, output_path, " +
	"has_video, duration_seconds, credits_cost, credits_reserved, credits_confirmed, credits_released, " +
	"total_chunks, completed_chunks, transcript_json, translation_json, speaker_map_json, error_message, " +
	"retries_exhausted, progress_stage, progress_percent, progress_message, reserved_at, last_heartbeat, " +
	"created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id               string
		uid              string
		kind             string
		statusStr        string
		sourceLanguage   sql.NullString
		targetLanguage   sql.NullString
		mediaPath        sql.NullString
		outputPath       sql.NullString
		hasVideo         sql.NullInt64
		durationSeconds  sql.NullFloat64
		creditsCost      sql.NullFloat64
		creditsReserved  sql.NullInt64
		creditsConfirmed sql.NullInt64
		creditsReleased  sql.NullInt64
		totalChunks      sql.NullInt64
		completedChunks  sql.NullInt64
		transcript       sql.NullString
		translation      sql.NullString
		speakerMap       sql.NullString
		errorMessage     sql.NullString
		retriesExhausted sql.NullInt64
		progressStage    sql.NullString
		progressPercent  sql.NullFloat64
		progressMessage  sql.NullString
		reservedRaw      sql.NullString
		heartbeatRaw     sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)

	if err := scanner.Scan(
		&id, &uid, &kind, &statusStr,
		&sourceLanguage, &targetLanguage, &mediaPath, &outputPath,
		&hasVideo, &durationSeconds, &creditsCost,
		&creditsReserved, &creditsConfirmed, &creditsReleased,
		&totalChunks, &completedChunks,
		&transcript, &translation, &speakerMap, &errorMessage,
		&retriesExhausted, &progressStage, &progressPercent, &progressMessage,
		&reservedRaw, &heartbeatRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:               id,
		UID:              uid,
		Kind:             JobKind(kind),
		Status:           Status(statusStr),
		SourceLanguage:   sourceLanguage.String,
		TargetLanguage:   targetLanguage.String,
		MediaPath:        mediaPath.String,
		OutputPath:       outputPath.String,
		HasVideo:         hasVideo.Int64 != 0,
		DurationSeconds:  durationSeconds.Float64,
		CreditsCost:      creditsCost.Float64,
		CreditsReserved:  creditsReserved.Int64 != 0,
		CreditsConfirmed: creditsConfirmed.Int64 != 0,
		CreditsReleased:  creditsReleased.Int64 != 0,
		TotalChunks:      int(totalChunks.Int64),
		CompletedChunks:  int(completedChunks.Int64),
		TranscriptJSON:   transcript.String,
		TranslationJSON:  translation.String,
		SpeakerMapJSON:   speakerMap.String,
		ErrorMessage:     errorMessage.String,
		RetriesExhausted: retriesExhausted.Int64 != 0,
		ProgressStage:    progressStage.String,
		ProgressPercent:  progressPercent.Float64,
		ProgressMessage:  progressMessage.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if reservedRaw.Valid {
		if reserved, err := parseTimeString(reservedRaw.String); err == nil {
			job.ReservedAt = &reserved
		}
	}
	if heartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(heartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

// GetJob fetches a job by identifier. Returns ErrNotFound when missing.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// UpdateJob persists the mutable fields of a job.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET
            status = ?, source_language = ?, target_language = ?, media_path = ?, output_path = ?,
            has_video = ?, duration_seconds = ?, total_chunks = ?, completed_chunks = ?,
            transcript_json = ?, translation_json = ?, speaker_map_json = ?, error_message = ?,
            retries_exhausted = ?, progress_stage = ?, progress_percent = ?, progress_message = ?,
            last_heartbeat = ?, updated_at = ?
         WHERE id = ?`,
		string(job.Status),
		nullableString(job.SourceLanguage),
		nullableString(job.TargetLanguage),
		nullableString(job.MediaPath),
		nullableString(job.OutputPath),
		boolToInt(job.HasVideo),
		job.DurationSeconds,
		job.TotalChunks,
		job.CompletedChunks,
		nullableString(job.TranscriptJSON),
		nullableString(job.TranslationJSON),
		nullableString(job.SpeakerMapJSON),
		nullableString(job.ErrorMessage),
		boolToInt(job.RetriesExhausted),
		nullableString(job.ProgressStage),
		job.ProgressPercent,
		nullableString(job.ProgressMessage),
		nullableTime(job.LastHeartbeat),
		timestampNow(),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job %s: %w", job.ID, ErrNotFound)
	}
	return nil
}

// SetJobStatus transitions a job to a new status, recording an optional
// error message for terminal failures.
func (s *Store) SetJobStatus(ctx context.Context, id string, status Status, errorMessage string) error {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), nullableString(errorMessage), timestampNow(), id,
	)
	if err != nil {
		return fmt.Errorf("set status: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set status rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return nil
}

// Heartbeat refreshes a job's liveness timestamp while a stage is running.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)
	now := timestampNow()
	_, err := s.execWithRetry(ctx,
		`UPDATE jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ?`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

// ListJobs returns jobs filtered by status, newest first. An empty status
// list returns everything.
func (s *Store) ListJobs(ctx context.Context, statuses ...Status) ([]*Job, error) {
	ctx = ensureContext(ctx)
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListJobsForUser returns a user's jobs, newest first.
func (s *Store) ListJobsForUser(ctx context.Context, uid string) ([]*Job, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE uid = ? ORDER BY created_at DESC`, uid)
	if err != nil {
		return nil, fmt.Errorf("list user jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountActiveJobs counts a user's jobs that are neither terminal nor expired.
func (s *Store) CountActiveJobs(ctx context.Context, uid string) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM jobs WHERE uid = ? AND status NOT IN (?, ?, ?)`,
		uid, string(StatusCompleted), string(StatusFailed), string(StatusExpired),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active jobs: %w", err)
	}
	return count, nil
}
