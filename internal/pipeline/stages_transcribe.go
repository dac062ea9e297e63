package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	"voiceloom/internal/clustering"
	"voiceloom/internal/delivery"
	"voiceloom/internal/logging"
	"voiceloom/internal/services"
	"voiceloom/internal/store"
)

// handleTranscribe sends the extracted audio to the speech-to-text
// backend and stores the diarized transcript on the job.
func (p *Pipeline) handleTranscribe(ctx context.Context, task delivery.Task) error {
	job, err := p.loadJob(ctx, task)
	if err != nil {
		return err
	}
	if store.IsTerminal(job.Status) {
		return nil
	}
	if p.transcriber == nil {
		return services.Wrap(services.ErrDependency, "transcribing", "configure", "no transcription backend configured", nil)
	}

	if err := p.setStage(ctx, job, store.StatusTranscribing, "Transcribing", "Waiting for transcription backend", 30); err != nil {
		return services.Wrap(services.ErrDependency, "transcribing", "update job", "record stage", err)
	}

	audio, err := p.blobs.Get(ctx, audioKey(job))
	if err != nil {
		return services.Wrap(services.ErrDependency, "transcribing", "blob get", "fetch extracted audio", err)
	}
	defer audio.Close()

	transcript, err := p.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return err
	}

	doc := transcriptFromBackend(transcript)
	raw, err := doc.marshal()
	if err != nil {
		return services.Wrap(services.ErrDependency, "transcribing", "persist", "encode transcript", err)
	}
	job.TranscriptJSON = raw
	if err := p.store.UpdateJob(ctx, job); err != nil {
		return services.Wrap(services.ErrDependency, "transcribing", "persist", "store transcript", err)
	}

	p.logger.Info("transcript stored",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("segments", len(doc.Segments)))
	return p.publishNext(ctx, job, delivery.Task{Type: delivery.TaskCluster, JobID: job.ID, UID: job.UID})
}

// handleCluster groups segments by voice, cuts reference samples for each
// speaker, and hands off to translation or chunk planning.
func (p *Pipeline) handleCluster(ctx context.Context, task delivery.Task) error {
	job, err := p.loadJob(ctx, task)
	if err != nil {
		return err
	}
	if store.IsTerminal(job.Status) {
		return nil
	}

	if err := p.setStage(ctx, job, store.StatusClustering, "Clustering", "Grouping segments by voice", 50); err != nil {
		return services.Wrap(services.ErrDependency, "clustering", "update job", "record stage", err)
	}

	doc, err := parseTranscript(job.TranscriptJSON)
	if err != nil {
		return services.Wrap(services.ErrConsistency, "clustering", "load transcript", "job transcript unreadable", err)
	}

	result, err := clustering.Cluster(doc.clusterSegments(), clustering.Options{
		Eps:               p.cfg.Pipeline.ClusterEps,
		MinSamples:        p.cfg.Pipeline.ClusterMinSamples,
		MinSegmentSeconds: p.cfg.Pipeline.MinSegmentSeconds,
	})
	if err != nil {
		return err
	}
	if err := doc.applyLabels(result.Labels); err != nil {
		return services.Wrap(services.ErrConsistency, "clustering", "label segments", "apply speaker labels", err)
	}

	if err := p.cutVoiceSamples(ctx, job, doc, result); err != nil {
		return err
	}

	speakerMap := make(map[string]string, len(result.Speakers))
	for _, speaker := range result.Speakers {
		speakerMap[speaker] = sampleKey(job, speaker)
	}
	mapJSON, err := json.Marshal(speakerMap)
	if err != nil {
		return services.Wrap(services.ErrDependency, "clustering", "persist", "encode speaker map", err)
	}

	raw, err := doc.marshal()
	if err != nil {
		return services.Wrap(services.ErrDependency, "clustering", "persist", "encode transcript", err)
	}
	job.TranscriptJSON = raw
	job.SpeakerMapJSON = string(mapJSON)
	if err := p.store.UpdateJob(ctx, job); err != nil {
		return services.Wrap(services.ErrDependency, "clustering", "persist", "store labeled transcript", err)
	}

	p.logger.Info("speakers clustered",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("speakers", len(result.Speakers)))

	if job.SourceLanguage != job.TargetLanguage {
		return p.publishNext(ctx, job, delivery.Task{Type: delivery.TaskTranslate, JobID: job.ID, UID: job.UID})
	}
	return p.planChunks(ctx, job, doc)
}

// cutVoiceSamples assembles each speaker's reference audio from their
// longest utterances, padding short speakers to the configured floor.
func (p *Pipeline) cutVoiceSamples(ctx context.Context, job *store.Job, doc transcriptDoc, result clustering.Result) error {
	plans := clustering.PlanSamples(doc.clusterSegments(), result,
		p.cfg.Pipeline.SampleTargetSeconds, p.cfg.Pipeline.SampleFloorSeconds)

	dir, err := p.workDir(job.ID)
	if err != nil {
		return services.Wrap(services.ErrDependency, "clustering", "work dir", "create scratch dir", err)
	}
	audio := filepath.Join(dir, "audio.wav")
	if err := blobDownloadFile(ctx, p, audioKey(job), audio); err != nil {
		return err
	}

	for _, plan := range plans {
		if len(plan.Windows) == 0 {
			continue
		}
		parts := make([]string, 0, len(plan.Windows))
		for i, window := range plan.Windows {
			part := filepath.Join(dir, fmt.Sprintf("sample_%s_%d.wav", plan.Speaker, i))
			if err := p.media.ExtractWindow(ctx, audio, window.StartTime, window.EndTime-window.StartTime, part); err != nil {
				return services.Wrap(services.ErrDependency, "clustering", "ffmpeg", "cut voice sample", err)
			}
			parts = append(parts, part)
		}

		sample := filepath.Join(dir, fmt.Sprintf("sample_%s.wav", plan.Speaker))
		if err := p.media.ConcatClips(ctx, parts, sample); err != nil {
			return services.Wrap(services.ErrDependency, "clustering", "ffmpeg", "assemble voice sample", err)
		}
		if plan.PadToSeconds > 0 {
			padded := filepath.Join(dir, fmt.Sprintf("sample_%s_padded.wav", plan.Speaker))
			if err := p.media.PadAudio(ctx, sample, plan.PadToSeconds, padded); err != nil {
				return services.Wrap(services.ErrDependency, "clustering", "ffmpeg", "pad voice sample", err)
			}
			sample = padded
		}
		if err := blobUploadFile(ctx, p, sampleKey(job, plan.Speaker), sample); err != nil {
			return err
		}
	}
	return nil
}

// handleTranslate converts the labeled transcript into the target
// language, keeps the original for reference, and plans the chunks.
func (p *Pipeline) handleTranslate(ctx context.Context, task delivery.Task) error {
	job, err := p.loadJob(ctx, task)
	if err != nil {
		return err
	}
	if store.IsTerminal(job.Status) {
		return nil
	}
	if p.translator == nil {
		return services.Wrap(services.ErrDependency, "translating", "configure", "no translation backend configured", nil)
	}

	if err := p.setStage(ctx, job, store.StatusTranslating, "Translating", "Translating dialogue", 60); err != nil {
		return services.Wrap(services.ErrDependency, "translating", "update job", "record stage", err)
	}

	doc, err := parseTranscript(job.TranscriptJSON)
	if err != nil {
		return services.Wrap(services.ErrConsistency, "translating", "load transcript", "job transcript unreadable", err)
	}

	translations, err := p.translator.Translate(ctx, job.SourceLanguage, job.TargetLanguage, doc.texts())
	if err != nil {
		return err
	}
	translated, err := doc.withTexts(translations)
	if err != nil {
		return services.Wrap(services.ErrDependency, "translating", "apply", "map translations onto segments", err)
	}
	translated.Language = job.TargetLanguage

	raw, err := translated.marshal()
	if err != nil {
		return services.Wrap(services.ErrDependency, "translating", "persist", "encode translation", err)
	}
	job.TranslationJSON = raw
	if err := p.store.UpdateJob(ctx, job); err != nil {
		return services.Wrap(services.ErrDependency, "translating", "persist", "store translation", err)
	}

	return p.planChunks(ctx, job, translated)
}
