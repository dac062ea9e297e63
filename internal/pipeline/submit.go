package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"

	"voiceloom/internal/chunking"
	"voiceloom/internal/delivery"
	"voiceloom/internal/language"
	"voiceloom/internal/ledger"
	"voiceloom/internal/logging"
	"voiceloom/internal/metrics"
	"voiceloom/internal/services"
	"voiceloom/internal/store"
)

// ScriptLine is one line of prepared dialogue in a voice job.
type ScriptLine struct {
	Speaker   string
	Text      string
	StartTime float64
	EndTime   float64
}

// SubmitRequest describes a new generation job.
type SubmitRequest struct {
	UID  string
	Kind store.JobKind

	// SourceLanguage is the spoken language of the input. TargetLanguage,
	// when different, turns on translation.
	SourceLanguage string
	TargetLanguage string

	// MediaPath is the local media file for dubbing jobs.
	MediaPath string

	// Lines is the prepared script for voice jobs. Voice jobs expect the
	// caller to have staged reference audio under the account's samples
	// prefix before the chunks synthesize.
	Lines []ScriptLine

	// ExpectedSpeakers sizes the cost estimate. Zero means one speaker.
	ExpectedSpeakers int
}

// Submit validates a request, reserves credits, and enqueues the first
// stage. The returned job is in status queued (dubbing) or cloning
// (voice, which skips the media stages).
func (p *Pipeline) Submit(ctx context.Context, req SubmitRequest) (*store.Job, error) {
	if req.UID == "" {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate", "uid is required", nil)
	}

	source, target, translated, err := resolveLanguages(req.SourceLanguage, req.TargetLanguage)
	if err != nil {
		return nil, err
	}

	switch req.Kind {
	case store.KindDubbing:
		return p.submitDubbing(ctx, req, source, target, translated)
	case store.KindVoice:
		return p.submitVoice(ctx, req, source, target, translated)
	default:
		return nil, services.Wrap(services.ErrValidation, "submit", "validate",
			fmt.Sprintf("unknown job kind %q", req.Kind), nil)
	}
}

// resolveLanguages normalizes the pair. A missing target means no
// translation; the output stays in the source language.
func resolveLanguages(sourceRaw, targetRaw string) (source, target string, translated bool, err error) {
	if targetRaw != "" {
		source, target, err = language.ValidatePair(sourceRaw, targetRaw)
		return source, target, err == nil, err
	}
	source, err = language.Normalize(sourceRaw)
	if err != nil {
		return "", "", false, err
	}
	return source, source, false, nil
}

func (p *Pipeline) submitDubbing(ctx context.Context, req SubmitRequest, source, target string, translated bool) (*store.Job, error) {
	if req.MediaPath == "" {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate", "media path is required", nil)
	}
	if _, err := os.Stat(req.MediaPath); err != nil {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate", "media file not readable", err)
	}

	duration, err := p.media.ProbeDuration(ctx, req.MediaPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "submit", "probe", "could not read media duration", err)
	}
	if maxDur := float64(p.cfg.Pipeline.MaxUploadDurationSec); maxDur > 0 && duration > maxDur {
		return nil, services.Wrap(services.ErrValidation, "submit", "probe",
			fmt.Sprintf("media is %.0fs, limit is %.0fs", duration, maxDur), nil)
	}
	hasVideo, err := p.media.HasVideoStream(ctx, req.MediaPath)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "submit", "probe", "could not inspect media streams", err)
	}

	speakers := req.ExpectedSpeakers
	if speakers < 1 {
		speakers = 1
	}

	job, err := p.ledger.Reserve(ctx, reserveRequest(req, uuid.NewString(), source, target, duration, hasVideo, speakers, translated))
	if err != nil {
		return nil, err
	}
	metrics.RecordCreditsReserved(job.CreditsCost)

	if err := p.queue.Publish(ctx, delivery.Task{Type: delivery.TaskUpload, JobID: job.ID, UID: job.UID}); err != nil {
		// The reservation stands; the expiry sweep reclaims it if the
		// submission is never retried.
		return nil, services.Wrap(services.ErrDependency, "submit", "enqueue", "enqueue upload task", err)
	}

	p.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldUID, job.UID),
		logging.String("kind", string(job.Kind)),
		logging.Float64("duration", duration),
		logging.Bool("translated", translated))
	return job, nil
}

func (p *Pipeline) submitVoice(ctx context.Context, req SubmitRequest, source, target string, translated bool) (*store.Job, error) {
	if len(req.Lines) == 0 {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate", "voice jobs require script lines", nil)
	}

	doc := transcriptDoc{Language: source, Segments: make([]segmentDoc, len(req.Lines))}
	var duration float64
	for i, line := range req.Lines {
		if line.Speaker == "" || line.Text == "" {
			return nil, services.Wrap(services.ErrValidation, "submit", "validate",
				fmt.Sprintf("line %d needs a speaker and text", i), nil)
		}
		if line.EndTime < line.StartTime {
			return nil, services.Wrap(services.ErrValidation, "submit", "validate",
				fmt.Sprintf("line %d has a negative window", i), nil)
		}
		doc.Segments[i] = segmentDoc{
			StartTime: line.StartTime,
			EndTime:   line.EndTime,
			Text:      line.Text,
			Speaker:   line.Speaker,
		}
		duration += line.EndTime - line.StartTime
	}
	if duration <= 0 {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate",
			"script lines carry no timing information", nil)
	}

	lines, err := doc.lines()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate", "script lines", err)
	}
	speakers := chunking.TotalSpeakers(lines)

	job, err := p.ledger.Reserve(ctx, reserveRequest(req, uuid.NewString(), source, target, duration, false, speakers, translated))
	if err != nil {
		return nil, err
	}
	metrics.RecordCreditsReserved(job.CreditsCost)

	raw, err := doc.marshal()
	if err != nil {
		return nil, services.Wrap(services.ErrDependency, "submit", "persist", "store script", err)
	}
	job.TranscriptJSON = raw
	if err := p.store.UpdateJob(ctx, job); err != nil {
		return nil, services.Wrap(services.ErrDependency, "submit", "persist", "store script", err)
	}

	if translated {
		if err := p.queue.Publish(ctx, delivery.Task{Type: delivery.TaskTranslate, JobID: job.ID, UID: job.UID}); err != nil {
			return nil, services.Wrap(services.ErrDependency, "submit", "enqueue", "enqueue translate task", err)
		}
		return p.store.GetJob(ctx, job.ID)
	}

	if err := p.planChunks(ctx, job, doc); err != nil {
		return nil, err
	}
	return p.store.GetJob(ctx, job.ID)
}

func reserveRequest(req SubmitRequest, jobID, source, target string, duration float64, hasVideo bool, speakers int, translated bool) ledger.ReserveRequest {
	return ledger.ReserveRequest{
		UID:             req.UID,
		JobID:           jobID,
		Kind:            req.Kind,
		SourceLanguage:  source,
		TargetLanguage:  target,
		MediaPath:       req.MediaPath,
		HasVideo:        hasVideo,
		DurationSeconds: duration,
		SpeakerCount:    speakers,
		Translated:      translated,
	}
}
