package pipeline_test

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"voiceloom/internal/blobstore"
	"voiceloom/internal/config"
	"voiceloom/internal/delivery"
	"voiceloom/internal/extsvc"
	"voiceloom/internal/ledger"
	"voiceloom/internal/media"
	"voiceloom/internal/pipeline"
	"voiceloom/internal/store"
	"voiceloom/internal/taskqueue"
	"voiceloom/internal/testsupport"
)

type fakeTranscriber struct {
	transcript *extsvc.Transcript
	err        error
}

func (f *fakeTranscriber) Transcribe(context.Context, io.Reader) (*extsvc.Transcript, error) {
	return f.transcript, f.err
}

type fakeTranslator struct{}

func (fakeTranslator) Translate(_ context.Context, _, target string, texts []string) ([]string, error) {
	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = target + ":" + text
	}
	return out, nil
}

type fakeSynthesizer struct {
	calls   int
	scripts []string
	err     error
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, req extsvc.SynthesizeRequest) ([]byte, error) {
	f.calls++
	f.scripts = append(f.scripts, req.Script)
	if f.err != nil {
		return nil, f.err
	}
	return []byte("synthesized audio"), nil
}

type fixture struct {
	cfg      *config.Config
	store    *store.Store
	ledger   *ledger.Ledger
	queue    *taskqueue.MemoryQueue
	blobs    blobstore.Store
	pipeline *pipeline.Pipeline
	synth    *fakeSynthesizer
}

func newFixture(t *testing.T, transcriber pipeline.Transcriber) *fixture {
	t.Helper()
	return newFixtureWithQueue(t, transcriber, nil)
}

// newFixtureWithQueue lets a test interpose on the task transport; wrap
// receives the memory queue and returns the queue handed to the pipeline.
func newFixtureWithQueue(t *testing.T, transcriber pipeline.Transcriber, wrap func(taskqueue.Queue) taskqueue.Queue) *fixture {
	t.Helper()

	root := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(root, "data")
	cfg.Paths.WorkDir = filepath.Join(root, "work")
	cfg.Paths.LogDir = filepath.Join(root, "logs")
	cfg.BlobStore.Root = filepath.Join(root, "blobs")

	s, err := store.OpenPath(filepath.Join(root, "jobs.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	blobs, err := blobstore.NewFS(cfg.BlobStore.Root)
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}

	svc := media.NewService("ffmpeg", "ffprobe")
	// Every ffmpeg invocation writes its output file; ffprobe reports a
	// fixed ten second duration and no video stream.
	svc.WithCommandRunner(func(_ context.Context, _ string, args ...string) error {
		dest := args[len(args)-1]
		return os.WriteFile(dest, []byte("media"), 0o644)
	})
	svc.WithOutputRunner(func(_ context.Context, _ string, args ...string) (string, error) {
		for _, arg := range args {
			if strings.Contains(arg, "codec_type") {
				return "", nil
			}
		}
		return "10.0\n", nil
	})

	led := ledger.New(s, cfg.Billing, nil)
	queue := taskqueue.NewMemory(cfg.Queue.MaxAttempts)
	synth := &fakeSynthesizer{}

	var transport taskqueue.Queue = queue
	if wrap != nil {
		transport = wrap(queue)
	}

	p, err := pipeline.New(pipeline.Deps{
		Config:      &cfg,
		Store:       s,
		Ledger:      led,
		Queue:       transport,
		Blobs:       blobs,
		Media:       svc,
		Transcriber: transcriber,
		Translator:  fakeTranslator{},
		Synthesizer: synth,
	})
	if err != nil {
		t.Fatalf("build pipeline: %v", err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("start pipeline: %v", err)
	}

	return &fixture{cfg: &cfg, store: s, ledger: led, queue: queue, blobs: blobs, pipeline: p, synth: synth}
}

// twoSpeakerTranscript yields two dense voice clusters of two segments
// each.
func twoSpeakerTranscript() *extsvc.Transcript {
	return &extsvc.Transcript{
		Language: "en",
		Segments: []extsvc.TranscriptSegment{
			{StartTime: 0, EndTime: 3, Text: "hello there", Embedding: []float64{1, 0}},
			{StartTime: 3, EndTime: 6, Text: "hi yourself", Embedding: []float64{0, 1}},
			{StartTime: 6, EndTime: 9, Text: "how are you", Embedding: []float64{0.99, 0.05}},
			{StartTime: 9, EndTime: 12, Text: "doing fine", Embedding: []float64{0.05, 0.99}},
		},
	}
}

func writeMediaFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mp4")
	testsupport.WriteFile(t, path, 64*1024)
	return path
}

func TestDubbingJobRunsToCompletion(t *testing.T) {
	fix := newFixture(t, &fakeTranscriber{transcript: twoSpeakerTranscript()})
	ctx := context.Background()

	if _, err := fix.store.CreateUser(ctx, "u1", store.TierFree, 100); err != nil {
		t.Fatal(err)
	}

	job, err := fix.pipeline.Submit(ctx, pipeline.SubmitRequest{
		UID:            "u1",
		Kind:           store.KindDubbing,
		SourceLanguage: "en",
		TargetLanguage: "es",
		MediaPath:      writeMediaFile(t),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != store.StatusQueued {
		t.Fatalf("submitted status = %s", job.Status)
	}
	if job.CreditsCost <= 0 {
		t.Fatalf("credits cost = %f", job.CreditsCost)
	}

	fix.queue.Drain(ctx)

	final, err := fix.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != store.StatusCompleted {
		t.Fatalf("final status = %s (error %q)", final.Status, final.ErrorMessage)
	}
	if final.OutputPath == "" {
		t.Fatal("completed job has no output path")
	}
	if final.ProgressPercent != 100 {
		t.Fatalf("progress = %f", final.ProgressPercent)
	}
	if !final.CreditsConfirmed {
		t.Fatal("credits were not confirmed")
	}
	if final.TranslationJSON == "" {
		t.Fatal("translated transcript missing")
	}

	// The hold settled: nothing pending, usage counted.
	user, err := fix.store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if user.PendingCredits != 0 {
		t.Fatalf("pending credits = %f, want 0", user.PendingCredits)
	}
	if user.Credits >= 100 {
		t.Fatalf("credits = %f, want a charge applied", user.Credits)
	}
	if user.TotalVoicesGenerated != 1 {
		t.Fatalf("usage counter = %d, want 1", user.TotalVoicesGenerated)
	}

	// Two speakers fit one chunk; the script carries chunk-local numbers
	// and translated text.
	if fix.synth.calls != 1 {
		t.Fatalf("synthesize calls = %d, want 1", fix.synth.calls)
	}
	script := fix.synth.scripts[0]
	if !strings.Contains(script, "Speaker 1: es:hello there") || !strings.Contains(script, "Speaker 2: es:hi yourself") {
		t.Fatalf("script = %q", script)
	}

	obj, err := fix.blobs.Get(ctx, final.OutputPath)
	if err != nil {
		t.Fatalf("output blob: %v", err)
	}
	obj.Close()
}

func TestVoiceJobSkipsMediaStages(t *testing.T) {
	fix := newFixture(t, &fakeTranscriber{transcript: twoSpeakerTranscript()})
	ctx := context.Background()

	if _, err := fix.store.CreateUser(ctx, "u1", store.TierFree, 100); err != nil {
		t.Fatal(err)
	}
	for _, speaker := range []string{"narrator", "guest"} {
		if err := fix.blobs.Put(ctx, "u1/samples/"+speaker+".wav", strings.NewReader("sample")); err != nil {
			t.Fatal(err)
		}
	}

	job, err := fix.pipeline.Submit(ctx, pipeline.SubmitRequest{
		UID:            "u1",
		Kind:           store.KindVoice,
		SourceLanguage: "en",
		Lines: []pipeline.ScriptLine{
			{Speaker: "narrator", Text: "welcome back", StartTime: 0, EndTime: 4},
			{Speaker: "guest", Text: "glad to be here", StartTime: 4, EndTime: 8},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != store.StatusCloning {
		t.Fatalf("submitted status = %s, want cloning", job.Status)
	}
	if job.TotalChunks != 1 {
		t.Fatalf("total chunks = %d", job.TotalChunks)
	}

	fix.queue.Drain(ctx)

	final, err := fix.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != store.StatusCompleted {
		t.Fatalf("final status = %s (error %q)", final.Status, final.ErrorMessage)
	}
	if fix.synth.calls != 1 {
		t.Fatalf("synthesize calls = %d", fix.synth.calls)
	}
	if !strings.Contains(fix.synth.scripts[0], "Speaker 1: welcome back") {
		t.Fatalf("script = %q", fix.synth.scripts[0])
	}
}

func TestSubmitRejectsUnsupportedLanguagePair(t *testing.T) {
	fix := newFixture(t, &fakeTranscriber{transcript: twoSpeakerTranscript()})
	ctx := context.Background()

	if _, err := fix.store.CreateUser(ctx, "u1", store.TierFree, 100); err != nil {
		t.Fatal(err)
	}

	_, err := fix.pipeline.Submit(ctx, pipeline.SubmitRequest{
		UID:            "u1",
		Kind:           store.KindDubbing,
		SourceLanguage: "en",
		TargetLanguage: "en",
		MediaPath:      writeMediaFile(t),
	})
	if err == nil {
		t.Fatal("same-language pair was accepted")
	}
}

func TestSynthesisFailureFailsJobAndReleasesHold(t *testing.T) {
	fix := newFixture(t, &fakeTranscriber{transcript: twoSpeakerTranscript()})
	ctx := context.Background()

	if _, err := fix.store.CreateUser(ctx, "u1", store.TierFree, 100); err != nil {
		t.Fatal(err)
	}
	fix.synth.err = fmt.Errorf("backend exploded")

	job, err := fix.pipeline.Submit(ctx, pipeline.SubmitRequest{
		UID:            "u1",
		Kind:           store.KindDubbing,
		SourceLanguage: "en",
		TargetLanguage: "es",
		MediaPath:      writeMediaFile(t),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	fix.queue.Drain(ctx)

	final, err := fix.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != store.StatusFailed {
		t.Fatalf("final status = %s", final.Status)
	}
	if !final.RetriesExhausted {
		t.Fatal("transient failure should exhaust retries")
	}
	if !final.CreditsReleased {
		t.Fatal("hold was not released after failure")
	}

	user, err := fix.store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if user.PendingCredits != 0 {
		t.Fatalf("pending credits = %f, want 0", user.PendingCredits)
	}
	if user.Credits != 100 {
		t.Fatalf("credits = %f, want untouched balance", user.Credits)
	}
}

// dropFirstPublish fails the first publish of one task type and then
// behaves normally, modeling a connection drop between the chunk counter
// commit and the merge handoff.
type dropFirstPublish struct {
	taskqueue.Queue
	dropType string
	dropped  bool
}

func (q *dropFirstPublish) Publish(ctx context.Context, task delivery.Task) error {
	if !q.dropped && task.Type == q.dropType {
		q.dropped = true
		return fmt.Errorf("connection reset during publish")
	}
	return q.Queue.Publish(ctx, task)
}

func TestMergeTriggerSurvivesPublishFailure(t *testing.T) {
	flaky := &dropFirstPublish{dropType: delivery.TaskMerge}
	fix := newFixtureWithQueue(t, &fakeTranscriber{transcript: twoSpeakerTranscript()},
		func(q taskqueue.Queue) taskqueue.Queue {
			flaky.Queue = q
			return flaky
		})
	ctx := context.Background()

	if _, err := fix.store.CreateUser(ctx, "u1", store.TierFree, 100); err != nil {
		t.Fatal(err)
	}

	job, err := fix.pipeline.Submit(ctx, pipeline.SubmitRequest{
		UID:            "u1",
		Kind:           store.KindDubbing,
		SourceLanguage: "en",
		TargetLanguage: "es",
		MediaPath:      writeMediaFile(t),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	fix.queue.Drain(ctx)

	if !flaky.dropped {
		t.Fatal("merge publish was never attempted")
	}
	// The redelivered chunk task finds every chunk completed and re-arms
	// the merge instead of acking the job into a stall.
	final, err := fix.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != store.StatusCompleted {
		t.Fatalf("final status = %s (error %q), want completed", final.Status, final.ErrorMessage)
	}
	if !final.CreditsConfirmed {
		t.Fatal("credits were not confirmed after recovery")
	}
	if fix.synth.calls != 1 {
		t.Fatalf("synthesize calls = %d, want 1 despite redelivery", fix.synth.calls)
	}
}

func TestExpireTaskReleasesStaleReservation(t *testing.T) {
	fix := newFixture(t, &fakeTranscriber{transcript: twoSpeakerTranscript()})
	ctx := context.Background()

	if _, err := fix.store.CreateUser(ctx, "u1", store.TierFree, 100); err != nil {
		t.Fatal(err)
	}
	job, err := fix.ledger.Reserve(ctx, ledger.ReserveRequest{
		UID:             "u1",
		JobID:           "job-stale",
		Kind:            store.KindDubbing,
		DurationSeconds: 60,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := fix.queue.Publish(ctx, delivery.Task{Type: delivery.TaskExpire, JobID: job.ID, UID: "u1"}); err != nil {
		t.Fatal(err)
	}
	fix.queue.Drain(ctx)

	expired, err := fix.store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if expired.Status != store.StatusExpired {
		t.Fatalf("status = %s, want expired", expired.Status)
	}
	user, err := fix.store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if user.PendingCredits != 0 {
		t.Fatalf("pending credits = %f, want 0", user.PendingCredits)
	}
}
