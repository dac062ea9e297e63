// Package pipeline orchestrates generation jobs from submission through
// merged output. Each lifecycle stage is a task handler behind the retry
// middleware; stages hand off by publishing the next task, so a worker
// crash mid-job resumes from the last completed stage.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"voiceloom/internal/blobstore"
	"voiceloom/internal/config"
	"voiceloom/internal/delivery"
	"voiceloom/internal/extsvc"
	"voiceloom/internal/ledger"
	"voiceloom/internal/logging"
	"voiceloom/internal/media"
	"voiceloom/internal/metrics"
	"voiceloom/internal/notifications"
	"voiceloom/internal/store"
	"voiceloom/internal/taskqueue"
)

// Transcriber produces a diarized transcript from mono 16 kHz audio.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader) (*extsvc.Transcript, error)
}

// Translator converts texts between languages, preserving order.
type Translator interface {
	Translate(ctx context.Context, source, target string, texts []string) ([]string, error)
}

// Synthesizer renders one chunk of dialogue as audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req extsvc.SynthesizeRequest) ([]byte, error)
}

// Pipeline wires the stage handlers to their dependencies.
type Pipeline struct {
	cfg         *config.Config
	store       *store.Store
	ledger      *ledger.Ledger
	queue       taskqueue.Queue
	blobs       blobstore.Store
	media       *media.Service
	transcriber Transcriber
	translator  Translator
	synthesizer Synthesizer
	signer      *blobstore.Signer
	notifier    notifications.Service
	middleware  *delivery.Middleware
	logger      *slog.Logger
}

// Deps collects the pipeline's collaborators.
type Deps struct {
	Config      *config.Config
	Store       *store.Store
	Ledger      *ledger.Ledger
	Queue       taskqueue.Queue
	Blobs       blobstore.Store
	Media       *media.Service
	Transcriber Transcriber
	Translator  Translator
	Synthesizer Synthesizer
	Signer      *blobstore.Signer
	Notifier    notifications.Service
	Logger      *slog.Logger
}

// New constructs the pipeline and its retry middleware.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Config == nil:
		return nil, fmt.Errorf("pipeline: config required")
	case deps.Store == nil:
		return nil, fmt.Errorf("pipeline: store required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("pipeline: ledger required")
	case deps.Queue == nil:
		return nil, fmt.Errorf("pipeline: queue required")
	case deps.Blobs == nil:
		return nil, fmt.Errorf("pipeline: blob store required")
	case deps.Media == nil:
		return nil, fmt.Errorf("pipeline: media service required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewService(deps.Config)
	}

	p := &Pipeline{
		cfg:         deps.Config,
		store:       deps.Store,
		ledger:      deps.Ledger,
		queue:       deps.Queue,
		blobs:       deps.Blobs,
		media:       deps.Media,
		transcriber: deps.Transcriber,
		translator:  deps.Translator,
		synthesizer: deps.Synthesizer,
		signer:      deps.Signer,
		notifier:    notifier,
		logger:      logger.With(logging.String(logging.FieldComponent, "pipeline")),
	}

	p.middleware = delivery.NewMiddleware(deps.Store, deps.Ledger, logger)
	p.middleware.FailureHook = func(ctx context.Context, task delivery.Task, err error) {
		if notifyErr := p.notifier.NotifyJobFailed(ctx, task.JobID, err.Error()); notifyErr != nil {
			p.logger.Warn("failure notification", logging.String(logging.FieldJobID, task.JobID), logging.Error(notifyErr))
		}
	}
	return p, nil
}

// Consumer returns the queue consumer that routes tasks to their stage
// handlers. Unknown task types are dropped permanently.
func (p *Pipeline) Consumer() taskqueue.ConsumeFunc {
	handlers := map[string]func(ctx context.Context, task delivery.Task, info delivery.Info) delivery.Disposition{
		delivery.TaskUpload:     p.middleware.Wrap("uploading", p.handleUpload),
		delivery.TaskExtract:    p.middleware.Wrap("extracting", p.handleExtract),
		delivery.TaskTranscribe: p.middleware.Wrap("transcribing", p.handleTranscribe),
		delivery.TaskCluster:    p.middleware.Wrap("clustering", p.handleCluster),
		delivery.TaskTranslate:  p.middleware.Wrap("translating", p.handleTranslate),
		delivery.TaskSynthesize: p.middleware.Wrap("cloning", p.handleSynthesize),
		delivery.TaskMerge:      p.middleware.Wrap("merging", p.handleMerge),
		delivery.TaskExpire:     p.middleware.Wrap("expiring", p.handleExpire),
	}

	return func(ctx context.Context, task delivery.Task, info delivery.Info) delivery.Disposition {
		handle, ok := handlers[task.Type]
		if !ok {
			p.logger.Error("unknown task type",
				logging.String("task", task.Type),
				logging.String(logging.FieldJobID, task.JobID))
			return delivery.Fail
		}

		started := time.Now()
		disposition := handle(ctx, task, info)
		metrics.RecordStageDuration(task.Type, time.Since(started).Seconds())
		metrics.RecordTaskAttempt(task.Type, disposition.String())
		return disposition
	}
}

// Start subscribes the consumer on the queue.
func (p *Pipeline) Start(ctx context.Context) error {
	return p.queue.Subscribe(ctx, p.Consumer())
}

// workDir returns the scratch directory for one job, creating it if
// needed.
func (p *Pipeline) workDir(jobID string) (string, error) {
	dir := filepath.Join(p.cfg.Paths.WorkDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	return dir, nil
}

// cleanupWorkDir drops a job's scratch files. Failures are logged, not
// propagated; stale scratch never blocks a completed job.
func (p *Pipeline) cleanupWorkDir(jobID string) {
	dir := filepath.Join(p.cfg.Paths.WorkDir, jobID)
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn("cleanup work dir", logging.String(logging.FieldJobID, jobID), logging.Error(err))
	}
}

func (p *Pipeline) setStage(ctx context.Context, job *store.Job, status store.Status, stage, message string, percent float64) error {
	job.Status = status
	job.SetProgress(stage, message, percent)
	now := time.Now().UTC()
	job.LastHeartbeat = &now
	return p.store.UpdateJob(ctx, job)
}

// blob key layout: <uid>/<job>/<artifact>
func sourceKey(job *store.Job) string {
	return job.UID + "/" + job.ID + "/source"
}

func audioKey(job *store.Job) string {
	return job.UID + "/" + job.ID + "/audio.wav"
}

// sampleKey locates a speaker's reference audio. Dubbing jobs cut their
// samples from the source media and store them under the job; voice jobs
// use samples the caller staged under the account, since the job ID does
// not exist before submission.
func sampleKey(job *store.Job, speaker string) string {
	if job.Kind == store.KindVoice {
		return job.UID + "/samples/" + speaker + ".wav"
	}
	return job.UID + "/" + job.ID + "/samples/" + speaker + ".wav"
}

func chunkKey(job *store.Job, index int) string {
	return fmt.Sprintf("%s/%s/chunks/chunk_%d.wav", job.UID, job.ID, index)
}

func outputKey(job *store.Job) string {
	name := "output.wav"
	if job.HasVideo {
		name = "output.mp4"
	}
	return job.UID + "/" + job.ID + "/" + name
}
