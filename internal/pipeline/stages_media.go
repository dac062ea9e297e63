package pipeline

import (
	"context"
	"errors"
	"path/filepath"

	"voiceloom/internal/blobstore"
	"voiceloom/internal/delivery"
	"voiceloom/internal/logging"
	"voiceloom/internal/services"
	"voiceloom/internal/store"
)

// loadJob fetches the task's job, translating a missing row into a
// permanent failure.
func (p *Pipeline) loadJob(ctx context.Context, task delivery.Task) (*store.Job, error) {
	job, err := p.store.GetJob(ctx, task.JobID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, services.Wrap(services.ErrNotFound, "pipeline", "load job", "job row missing", err)
		}
		return nil, services.Wrap(services.ErrDependency, "pipeline", "load job", "load job row", err)
	}
	return job, nil
}

// handleUpload copies the submitted media into the blob store so workers
// on any host can reach it.
func (p *Pipeline) handleUpload(ctx context.Context, task delivery.Task) error {
	job, err := p.loadJob(ctx, task)
	if err != nil {
		return err
	}
	if store.IsTerminal(job.Status) {
		return nil
	}

	if err := p.setStage(ctx, job, store.StatusUploading, "Uploading", "Storing source media", 5); err != nil {
		return services.Wrap(services.ErrDependency, "uploading", "update job", "record stage", err)
	}

	if job.MediaPath == "" {
		return services.Wrap(services.ErrValidation, "uploading", "store media", "job has no media path", nil)
	}
	if err := blobUploadFile(ctx, p, sourceKey(job), job.MediaPath); err != nil {
		return err
	}

	return p.publishNext(ctx, job, delivery.Task{Type: delivery.TaskExtract, JobID: job.ID, UID: job.UID})
}

// handleExtract pulls the mono 16 kHz track the transcription backend
// expects out of the stored media.
func (p *Pipeline) handleExtract(ctx context.Context, task delivery.Task) error {
	job, err := p.loadJob(ctx, task)
	if err != nil {
		return err
	}
	if store.IsTerminal(job.Status) {
		return nil
	}

	if err := p.setStage(ctx, job, store.StatusExtracting, "Extracting", "Extracting audio track", 15); err != nil {
		return services.Wrap(services.ErrDependency, "extracting", "update job", "record stage", err)
	}

	dir, err := p.workDir(job.ID)
	if err != nil {
		return services.Wrap(services.ErrDependency, "extracting", "work dir", "create scratch dir", err)
	}

	source := filepath.Join(dir, "source")
	if err := blobDownloadFile(ctx, p, sourceKey(job), source); err != nil {
		return err
	}

	audio := filepath.Join(dir, "audio.wav")
	if err := p.media.ExtractAudio(ctx, source, audio); err != nil {
		return services.Wrap(services.ErrDependency, "extracting", "ffmpeg", "extract audio", err)
	}
	if err := blobUploadFile(ctx, p, audioKey(job), audio); err != nil {
		return err
	}

	return p.publishNext(ctx, job, delivery.Task{Type: delivery.TaskTranscribe, JobID: job.ID, UID: job.UID})
}

func (p *Pipeline) publishNext(ctx context.Context, job *store.Job, task delivery.Task) error {
	if err := p.queue.Publish(ctx, task); err != nil {
		return services.Wrap(services.ErrDependency, "pipeline", "enqueue", "publish "+task.Type, err)
	}
	p.logger.Debug("stage handed off",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("next", task.Type))
	return nil
}

func blobUploadFile(ctx context.Context, p *Pipeline, key, path string) error {
	if err := blobstore.UploadFile(ctx, p.blobs, key, path); err != nil {
		return services.Wrap(services.ErrDependency, "pipeline", "blob put", "store "+key, err)
	}
	return nil
}

func blobDownloadFile(ctx context.Context, p *Pipeline, key, path string) error {
	if err := blobstore.DownloadFile(ctx, p.blobs, key, path); err != nil {
		return services.Wrap(services.ErrDependency, "pipeline", "blob get", "fetch "+key, err)
	}
	return nil
}
