package delivery

import (
	"context"
	"time"
)

// Task is the queue message envelope. Tasks are routed by Type and carry
// only identifiers; handlers reload state from the store so a redelivered
// task always sees current data.
type Task struct {
	Type       string    `json:"type"`
	JobID      string    `json:"job_id"`
	UID        string    `json:"uid,omitempty"`
	ChunkIndex int       `json:"chunk_index,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Task types dispatched through the queue. Each maps to one pipeline stage.
const (
	TaskUpload     = "job.upload"
	TaskExtract    = "job.extract"
	TaskTranscribe = "job.transcribe"
	TaskCluster    = "job.cluster"
	TaskTranslate  = "job.translate"
	TaskSynthesize = "chunk.synthesize"
	TaskMerge      = "job.merge"
	TaskExpire     = "job.expire"
)

// Info describes the delivery state of the current attempt.
type Info struct {
	// Attempt is 1-based: the first delivery is attempt 1.
	Attempt     int
	MaxAttempts int
}

// Final reports whether no further redeliveries will happen after this
// attempt fails.
func (i Info) Final() bool {
	return i.Attempt >= i.MaxAttempts
}

// Disposition tells the transport what to do with the message.
type Disposition int

const (
	// Ack removes the message; the work is done or permanently settled.
	Ack Disposition = iota
	// Retry redelivers the message after a backoff.
	Retry
	// Fail removes the message without redelivery.
	Fail
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case Fail:
		return "fail"
	default:
		return "unknown"
	}
}

// Handler processes one task. Returned errors are classified by the retry
// middleware: validation, consistency, and not-found errors fail
// immediately, everything else retries until attempts are exhausted.
type Handler func(ctx context.Context, task Task) error
