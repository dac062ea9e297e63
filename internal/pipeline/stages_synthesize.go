package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"voiceloom/internal/chunking"
	"voiceloom/internal/delivery"
	"voiceloom/internal/extsvc"
	"voiceloom/internal/ledger"
	"voiceloom/internal/logging"
	"voiceloom/internal/media"
	"voiceloom/internal/metrics"
	"voiceloom/internal/services"
	"voiceloom/internal/store"
)

// planChunks splits the dialogue into synthesis chunks, persists them,
// and fans out one task per chunk.
func (p *Pipeline) planChunks(ctx context.Context, job *store.Job, doc transcriptDoc) error {
	lines, err := doc.lines()
	if err != nil {
		return services.Wrap(services.ErrConsistency, "cloning", "plan", "transcript lines", err)
	}
	chunks, err := chunking.Split(lines, p.cfg.Pipeline.MaxSpeakersPerChunk)
	if err != nil {
		return err
	}

	rows := make([]*store.Chunk, len(chunks))
	for i, chunk := range chunks {
		speakers, err := json.Marshal(chunk.Speakers)
		if err != nil {
			return services.Wrap(services.ErrDependency, "cloning", "plan", "encode chunk speakers", err)
		}
		rows[i] = &store.Chunk{
			JobID:        job.ID,
			Index:        chunk.Index,
			Text:         chunk.Script(),
			SpeakersJSON: string(speakers),
			StartTime:    chunk.StartTime,
			EndTime:      chunk.EndTime,
		}
	}
	if err := p.store.CreateChunks(ctx, job.ID, rows); err != nil {
		return services.Wrap(services.ErrDependency, "cloning", "plan", "persist chunk plan", err)
	}

	job.TotalChunks = len(rows)
	job.CompletedChunks = 0
	if err := p.setStage(ctx, job, store.StatusCloning, "Cloning", "Synthesizing dialogue", 65); err != nil {
		return services.Wrap(services.ErrDependency, "cloning", "update job", "record stage", err)
	}

	for _, chunk := range rows {
		task := delivery.Task{Type: delivery.TaskSynthesize, JobID: job.ID, UID: job.UID, ChunkIndex: chunk.Index}
		if err := p.queue.Publish(ctx, task); err != nil {
			return services.Wrap(services.ErrDependency, "cloning", "enqueue",
				fmt.Sprintf("publish chunk %d", chunk.Index), err)
		}
	}

	p.logger.Info("chunks planned",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("chunks", len(rows)))
	return nil
}

// handleSynthesize renders one chunk. Completing the final chunk
// publishes the merge task; the counter transaction guarantees exactly
// one delivery observes that transition.
func (p *Pipeline) handleSynthesize(ctx context.Context, task delivery.Task) error {
	job, err := p.loadJob(ctx, task)
	if err != nil {
		return err
	}
	if store.IsTerminal(job.Status) {
		return nil
	}
	if p.synthesizer == nil {
		return services.Wrap(services.ErrDependency, "cloning", "configure", "no synthesis backend configured", nil)
	}

	chunk, err := p.store.GetChunk(ctx, job.ID, task.ChunkIndex)
	if err != nil {
		return services.Wrap(services.ErrNotFound, "cloning", "load chunk", "chunk row missing", err)
	}
	if chunk.Status == store.ChunkCompleted {
		return p.rearmMerge(ctx, job, job.CompletedChunks, job.TotalChunks)
	}

	if err := p.store.Heartbeat(ctx, job.ID); err != nil {
		p.logger.Warn("heartbeat", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
	}

	voices, err := p.loadVoices(ctx, job, chunk)
	if err != nil {
		return err
	}

	audio, err := p.synthesizer.Synthesize(ctx, extsvc.SynthesizeRequest{
		Script:   chunk.Text,
		Language: job.TargetLanguage,
		Voices:   voices,
	})
	if err != nil {
		if failErr := p.store.FailChunk(ctx, job.ID, chunk.Index); failErr != nil {
			p.logger.Warn("mark chunk failed", logging.String(logging.FieldJobID, job.ID), logging.Error(failErr))
		}
		return err
	}

	key := chunkKey(job, chunk.Index)
	if err := p.blobs.Put(ctx, key, bytes.NewReader(audio)); err != nil {
		return services.Wrap(services.ErrDependency, "cloning", "blob put", "store chunk audio", err)
	}

	completion, err := p.store.CompleteChunk(ctx, job.ID, chunk.Index, key)
	if err != nil {
		return services.Wrap(services.ErrDependency, "cloning", "record", "record chunk completion", err)
	}
	if completion.AlreadyDone {
		return p.rearmMerge(ctx, job, completion.Completed, completion.Total)
	}

	if completion.Total > 0 {
		percent := 65 + 25*float64(completion.Completed)/float64(completion.Total)
		job.SetProgress("Cloning",
			fmt.Sprintf("Synthesized %d of %d chunks", completion.Completed, completion.Total), percent)
		job.CompletedChunks = completion.Completed
		if err := p.store.UpdateJob(ctx, job); err != nil {
			p.logger.Warn("update progress", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		}
	}

	if completion.AllDone() {
		return p.publishNext(ctx, job, delivery.Task{Type: delivery.TaskMerge, JobID: job.ID, UID: job.UID})
	}
	return nil
}

// rearmMerge republishes the merge task when a redelivered chunk finds the
// job fully synthesized but not yet merging. A crash or publish failure
// after the completion counter commits would otherwise strand the job;
// merge is idempotent and the transport dedupes, so publishing again is
// safe.
func (p *Pipeline) rearmMerge(ctx context.Context, job *store.Job, completed, total int) error {
	if total <= 0 || completed < total {
		return nil
	}
	if job.Status != store.StatusCloning && job.Status != store.StatusRetrying {
		return nil
	}
	return p.publishNext(ctx, job, delivery.Task{Type: delivery.TaskMerge, JobID: job.ID, UID: job.UID})
}

// loadVoices fetches the reference sample for each speaker in the chunk,
// in chunk-local numbering order.
func (p *Pipeline) loadVoices(ctx context.Context, job *store.Job, chunk *store.Chunk) ([]extsvc.VoiceSample, error) {
	var speakers []string
	if err := json.Unmarshal([]byte(chunk.SpeakersJSON), &speakers); err != nil {
		return nil, services.Wrap(services.ErrConsistency, "cloning", "load chunk", "chunk speakers unreadable", err)
	}

	voices := make([]extsvc.VoiceSample, 0, len(speakers))
	for _, speaker := range speakers {
		obj, err := p.blobs.Get(ctx, sampleKey(job, speaker))
		if err != nil {
			return nil, services.Wrap(services.ErrDependency, "cloning", "blob get",
				"fetch voice sample for "+speaker, err)
		}
		audio, err := io.ReadAll(obj)
		obj.Close()
		if err != nil {
			return nil, services.Wrap(services.ErrDependency, "cloning", "blob get",
				"read voice sample for "+speaker, err)
		}
		voices = append(voices, extsvc.VoiceSample{Speaker: speaker, Audio: audio})
	}
	return voices, nil
}

// handleMerge stretches each chunk into its timeline window, joins the
// result, muxes video when present, and settles the credit reservation.
func (p *Pipeline) handleMerge(ctx context.Context, task delivery.Task) error {
	job, err := p.loadJob(ctx, task)
	if err != nil {
		return err
	}
	if job.Status == store.StatusCompleted {
		return nil
	}
	if store.IsTerminal(job.Status) {
		return nil
	}

	if err := p.setStage(ctx, job, store.StatusMerging, "Merging", "Assembling final audio", 90); err != nil {
		return services.Wrap(services.ErrDependency, "merging", "update job", "record stage", err)
	}

	chunks, err := p.store.ListChunks(ctx, job.ID)
	if err != nil {
		return services.Wrap(services.ErrDependency, "merging", "load chunks", "list chunks", err)
	}
	if len(chunks) == 0 {
		return services.Wrap(services.ErrConsistency, "merging", "load chunks", "job has no chunks", nil)
	}

	dir, err := p.workDir(job.ID)
	if err != nil {
		return services.Wrap(services.ErrDependency, "merging", "work dir", "create scratch dir", err)
	}

	clips, err := p.fitChunks(ctx, job, chunks, dir)
	if err != nil {
		return err
	}

	dubbed := filepath.Join(dir, "dubbed.wav")
	inputs := make([]string, len(clips))
	for i, clip := range clips {
		inputs[i] = clip.Path
	}
	if err := p.media.ConcatClips(ctx, inputs, dubbed); err != nil {
		return services.Wrap(services.ErrDependency, "merging", "ffmpeg", "concatenate chunks", err)
	}

	output := dubbed
	if job.HasVideo {
		output, err = p.muxWithVideo(ctx, job, dir, dubbed)
		if err != nil {
			return err
		}
	}

	key := outputKey(job)
	if err := blobUploadFile(ctx, p, key, output); err != nil {
		return err
	}
	job.OutputPath = key

	if err := p.settleAndComplete(ctx, job, chunks, output); err != nil {
		return err
	}
	p.cleanupWorkDir(job.ID)
	return nil
}

// fitChunks downloads each chunk's audio and stretches it into its
// timeline window.
func (p *Pipeline) fitChunks(ctx context.Context, job *store.Job, chunks []*store.Chunk, dir string) ([]media.TimedClip, error) {
	clips := make([]media.TimedClip, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.Status != store.ChunkCompleted || chunk.AudioPath == "" {
			return nil, services.Wrap(services.ErrConsistency, "merging", "load chunks",
				fmt.Sprintf("chunk %d is not completed", chunk.Index), nil)
		}

		raw := filepath.Join(dir, fmt.Sprintf("chunk_%d.wav", chunk.Index))
		if err := blobDownloadFile(ctx, p, chunk.AudioPath, raw); err != nil {
			return nil, err
		}

		target := chunk.EndTime - chunk.StartTime
		fitted := raw
		if target > 0 {
			current, err := p.media.ProbeDuration(ctx, raw)
			if err != nil {
				return nil, services.Wrap(services.ErrDependency, "merging", "ffprobe", "probe chunk duration", err)
			}
			plan, err := media.BuildStretchPlan(current, target, p.cfg.Pipeline.StretchToleranceSec)
			if err != nil {
				return nil, services.Wrap(services.ErrConsistency, "merging", "plan", "stretch plan", err)
			}
			if !plan.Skip {
				fitted = filepath.Join(dir, fmt.Sprintf("chunk_%d_fit.wav", chunk.Index))
				if err := p.media.StretchAudio(ctx, raw, fitted, plan); err != nil {
					return nil, services.Wrap(services.ErrDependency, "merging", "ffmpeg", "stretch chunk", err)
				}
			}
		}

		clips = append(clips, media.TimedClip{
			Index:     chunk.Index,
			Path:      fitted,
			StartTime: chunk.StartTime,
			EndTime:   chunk.EndTime,
		})
	}
	return media.SortClips(clips), nil
}

func (p *Pipeline) muxWithVideo(ctx context.Context, job *store.Job, dir, dubbed string) (string, error) {
	source := filepath.Join(dir, "source")
	if err := blobDownloadFile(ctx, p, sourceKey(job), source); err != nil {
		return "", err
	}
	videoSeconds, err := p.media.ProbeDuration(ctx, source)
	if err != nil {
		return "", services.Wrap(services.ErrDependency, "merging", "ffprobe", "probe video duration", err)
	}
	audioSeconds, err := p.media.ProbeDuration(ctx, dubbed)
	if err != nil {
		return "", services.Wrap(services.ErrDependency, "merging", "ffprobe", "probe dubbed duration", err)
	}
	plan, err := media.BuildMuxPlan(videoSeconds, audioSeconds)
	if err != nil {
		return "", services.Wrap(services.ErrConsistency, "merging", "plan", "mux plan", err)
	}

	output := filepath.Join(dir, "output.mp4")
	if err := p.media.MuxVideo(ctx, source, dubbed, output, plan); err != nil {
		return "", services.Wrap(services.ErrDependency, "merging", "ffmpeg", "mux video", err)
	}
	return output, nil
}

// settleAndComplete charges the actual cost, marks the job done, and
// notifies the user.
func (p *Pipeline) settleAndComplete(ctx context.Context, job *store.Job, chunks []*store.Chunk, output string) error {
	duration, err := p.media.ProbeDuration(ctx, output)
	if err != nil {
		// Fall back to the submitted estimate rather than stranding a
		// finished job on a probe failure.
		p.logger.Warn("probe output duration", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		duration = job.DurationSeconds
	}

	actual := ledger.EstimateCost(p.cfg.Billing, ledger.CostParams{
		DurationSeconds: duration,
		SpeakerCount:    countSpeakers(chunks),
		Translated:      job.SourceLanguage != job.TargetLanguage,
		HasVideo:        job.HasVideo,
	})

	outcome, err := p.ledger.Confirm(ctx, job.ID, actual)
	if err != nil {
		return services.Wrap(services.ErrConsistency, "merging", "settle", "confirm credits", err)
	}
	if outcome == ledger.OutcomeOK {
		metrics.RecordCreditsConfirmed(actual)
	}

	job.Status = store.StatusCompleted
	job.SetProgress("Completed", "Output ready", 100)
	job.LastHeartbeat = nil
	if err := p.store.UpdateJob(ctx, job); err != nil {
		return services.Wrap(services.ErrDependency, "merging", "persist", "mark job completed", err)
	}

	link := job.OutputPath
	if p.signer != nil {
		link = p.signer.Sign(job.OutputPath, time.Now().UTC())
	}
	if err := p.notifier.NotifyJobCompleted(ctx, job.ID, job.ID, link); err != nil {
		p.logger.Warn("completion notification", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
	}

	p.logger.Info("job completed",
		logging.String(logging.FieldJobID, job.ID),
		logging.Float64("charged", actual),
		logging.String("output", job.OutputPath))
	return nil
}

// countSpeakers unions the speaker sets of all chunks.
func countSpeakers(chunks []*store.Chunk) int {
	seen := make(map[string]struct{})
	for _, chunk := range chunks {
		var speakers []string
		if err := json.Unmarshal([]byte(chunk.SpeakersJSON), &speakers); err != nil {
			continue
		}
		for _, speaker := range speakers {
			seen[speaker] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return 1
	}
	return len(seen)
}
