package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const chunkColumns = "job_id, chunk_index, status, text, speakers_json, start_time, end_time, audio_path, created_at, updated_at"

func scanChunk(scanner interface{ Scan(dest ...any) error }) (*Chunk, error) {
	var (
		jobID      string
		index      int
		statusStr  string
		text       sql.NullString
		speakers   sql.NullString
		startTime  sql.NullFloat64
		endTime    sql.NullFloat64
		audioPath  sql.NullString
		createdRaw sql.NullString
		updatedRaw sql.NullString
	)
	if err := scanner.Scan(&jobID, &index, &statusStr, &text, &speakers, &startTime, &endTime, &audioPath, &createdRaw, &updatedRaw); err != nil {
		return nil, err
	}

	chunk := &Chunk{
		JobID:        jobID,
		Index:        index,
		Status:       ChunkStatus(statusStr),
		Text:         text.String,
		SpeakersJSON: speakers.String,
		StartTime:    startTime.Float64,
		EndTime:      endTime.Float64,
		AudioPath:    audioPath.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		chunk.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		chunk.UpdatedAt = updated
	}
	return chunk, nil
}

// CreateChunks replaces a job's chunk set and records the total on the job.
// Called once when the chunk plan is computed; re-running it resets progress.
func (s *Store) CreateChunks(ctx context.Context, jobID string, chunks []*Chunk) error {
	ctx = ensureContext(ctx)
	now := timestampNow()
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE job_id = ?`, jobID); err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		for _, chunk := range chunks {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO chunks (job_id, chunk_index, status, text, speakers_json, start_time, end_time, created_at, updated_at)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				jobID, chunk.Index, string(ChunkPending),
				nullableString(chunk.Text), nullableString(chunk.SpeakersJSON),
				chunk.StartTime, chunk.EndTime, now, now,
			); err != nil {
				return fmt.Errorf("insert chunk %d: %w", chunk.Index, err)
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE jobs SET total_chunks = ?, completed_chunks = 0, updated_at = ? WHERE id = ?`,
			len(chunks), now, jobID,
		)
		if err != nil {
			return fmt.Errorf("record chunk total: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("record chunk total rows: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil
	})
}

// GetChunk fetches one chunk. Returns ErrNotFound when missing.
func (s *Store) GetChunk(ctx context.Context, jobID string, index int) (*Chunk, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE job_id = ? AND chunk_index = ?`, jobID, index)
	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s/%d: %w", jobID, index, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	return chunk, nil
}

// ListChunks returns a job's chunks ordered by index.
func (s *Store) ListChunks(ctx context.Context, jobID string) ([]*Chunk, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE job_id = ? ORDER BY chunk_index`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// ChunkCompletion is the result of recording one finished chunk.
type ChunkCompletion struct {
	// AlreadyDone is set when the chunk had been completed by an earlier
	// delivery. Duplicate completions never advance the counter.
	AlreadyDone bool
	Completed   int
	Total       int
}

// AllDone reports whether every chunk of the job has completed.
func (c ChunkCompletion) AllDone() bool {
	return c.Total > 0 && c.Completed >= c.Total
}

// CompleteChunk marks a chunk completed and advances the job's completion
// counter in the same transaction. At-least-once delivery can report a chunk
// more than once; only the first report counts, so exactly one caller
// observes the transition to fully complete.
func (s *Store) CompleteChunk(ctx context.Context, jobID string, index int, audioPath string) (ChunkCompletion, error) {
	ctx = ensureContext(ctx)
	var result ChunkCompletion
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE chunks SET status = ?, audio_path = ?, updated_at = ?
             WHERE job_id = ? AND chunk_index = ? AND status != ?`,
			string(ChunkCompleted), nullableString(audioPath), timestampNow(),
			jobID, index, string(ChunkCompleted),
		)
		if err != nil {
			return fmt.Errorf("complete chunk: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("complete chunk rows: %w", err)
		}

		if rows == 0 {
			var exists int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(1) FROM chunks WHERE job_id = ? AND chunk_index = ?`, jobID, index,
			).Scan(&exists)
			if err != nil {
				return fmt.Errorf("check chunk: %w", err)
			}
			if exists == 0 {
				return fmt.Errorf("chunk %s/%d: %w", jobID, index, ErrNotFound)
			}
			result.AlreadyDone = true
		} else {
			if _, err := tx.ExecContext(ctx,
				`UPDATE jobs SET completed_chunks = completed_chunks + 1, updated_at = ? WHERE id = ?`,
				timestampNow(), jobID,
			); err != nil {
				return fmt.Errorf("advance completion counter: %w", err)
			}
		}

		err = tx.QueryRowContext(ctx,
			`SELECT completed_chunks, total_chunks FROM jobs WHERE id = ?`, jobID,
		).Scan(&result.Completed, &result.Total)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("read completion counters: %w", err)
		}
		return nil
	})
	if err != nil {
		return ChunkCompletion{}, err
	}
	return result, nil
}

// FailChunk marks a chunk failed without touching the completion counter.
func (s *Store) FailChunk(ctx context.Context, jobID string, index int) error {
	ctx = ensureContext(ctx)
	res, err := s.execWithRetry(ctx,
		`UPDATE chunks SET status = ?, updated_at = ? WHERE job_id = ? AND chunk_index = ? AND status != ?`,
		string(ChunkFailed), timestampNow(), jobID, index, string(ChunkCompleted),
	)
	if err != nil {
		return fmt.Errorf("fail chunk: %w", err)
	}
	if _, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("fail chunk rows: %w", err)
	}
	return nil
}
