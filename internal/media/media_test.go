package media_test

import (
	"context"
	"math"
	"reflect"
	"strings"
	"testing"

	"voiceloom/internal/media"
)

type recordedCommand struct {
	name string
	args []string
}

func newRecordingService() (*media.Service, *[]recordedCommand) {
	svc := media.NewService("ffmpeg", "ffprobe")
	var commands []recordedCommand
	svc.WithCommandRunner(func(_ context.Context, name string, args ...string) error {
		commands = append(commands, recordedCommand{name: name, args: args})
		return nil
	})
	return svc, &commands
}

func TestBuildStretchPlan(t *testing.T) {
	tests := []struct {
		name       string
		current    float64
		target     float64
		wantSkip   bool
		wantRatio  float64
		wantFilter string
	}{
		{"within tolerance", 10.05, 10.0, true, 1, ""},
		{"speed up", 9.4, 10.0, false, 0.94, "atempo=0.940000"},
		{"slow down", 12.0, 10.0, false, 1.2, "atempo=1.200000"},
		{"extreme ratio uses resample", 30.0, 10.0, false, 3.0, "asetrate=44100*3.000000,aresample=44100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := media.BuildStretchPlan(tt.current, tt.target, 0.1)
			if err != nil {
				t.Fatalf("BuildStretchPlan: %v", err)
			}
			if plan.Skip != tt.wantSkip {
				t.Fatalf("Skip = %v, want %v", plan.Skip, tt.wantSkip)
			}
			if math.Abs(plan.Ratio-tt.wantRatio) > 1e-9 {
				t.Fatalf("Ratio = %.6f, want %.6f", plan.Ratio, tt.wantRatio)
			}
			if plan.Filter != tt.wantFilter {
				t.Fatalf("Filter = %q, want %q", plan.Filter, tt.wantFilter)
			}
		})
	}

	if _, err := media.BuildStretchPlan(0, 10, 0.1); err == nil {
		t.Fatal("expected error for zero duration")
	}
}

func TestStretchAudioArgs(t *testing.T) {
	svc, commands := newRecordingService()
	plan, err := media.BuildStretchPlan(9.4, 10.0, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.StretchAudio(context.Background(), "in.wav", "out.wav", plan); err != nil {
		t.Fatal(err)
	}

	cmd := (*commands)[0]
	if cmd.name != "ffmpeg" {
		t.Fatalf("binary = %s", cmd.name)
	}
	joined := strings.Join(cmd.args, " ")
	if !strings.Contains(joined, "-af atempo=0.940000") {
		t.Fatalf("args missing stretch filter: %s", joined)
	}
	if !strings.HasSuffix(joined, "out.wav") {
		t.Fatalf("args missing destination: %s", joined)
	}
}

func TestSortClipsByIndex(t *testing.T) {
	clips := []media.TimedClip{
		{Index: 2, Path: "c.wav"},
		{Index: 0, Path: "a.wav"},
		{Index: 1, Path: "b.wav"},
	}
	sorted := media.SortClips(clips)
	var paths []string
	for _, clip := range sorted {
		paths = append(paths, clip.Path)
	}
	if !reflect.DeepEqual(paths, []string{"a.wav", "b.wav", "c.wav"}) {
		t.Fatalf("sorted = %v", paths)
	}
	if clips[0].Index != 2 {
		t.Fatal("SortClips must not mutate its input")
	}
}

func TestConcatClipsArgs(t *testing.T) {
	svc, commands := newRecordingService()
	inputs := []string{"0.wav", "1.wav", "2.wav"}
	if err := svc.ConcatClips(context.Background(), inputs, "merged.wav"); err != nil {
		t.Fatal(err)
	}

	joined := strings.Join((*commands)[0].args, " ")
	if !strings.Contains(joined, "[0:a][1:a][2:a]concat=n=3:v=0:a=1[out]") {
		t.Fatalf("concat filter wrong: %s", joined)
	}
	for _, input := range inputs {
		if !strings.Contains(joined, "-i "+input) {
			t.Fatalf("missing input %s: %s", input, joined)
		}
	}

	if err := svc.ConcatClips(context.Background(), nil, "out.wav"); err == nil {
		t.Fatal("expected error for empty inputs")
	}
}

func TestConcatSingleClipCopies(t *testing.T) {
	svc, commands := newRecordingService()
	if err := svc.ConcatClips(context.Background(), []string{"only.wav"}, "out.wav"); err != nil {
		t.Fatal(err)
	}
	joined := strings.Join((*commands)[0].args, " ")
	if !strings.Contains(joined, "-c copy") {
		t.Fatalf("single input should copy: %s", joined)
	}
}

func TestBuildMuxPlan(t *testing.T) {
	plan, err := media.BuildMuxPlan(100, 100.5)
	if err != nil {
		t.Fatal(err)
	}
	if plan.VideoScale != 1 || plan.AudioStretch.Filter != "" {
		t.Fatalf("near-equal durations should copy both streams: %+v", plan)
	}

	// Audio longer than video: the audio is compressed, the video untouched.
	plan, err = media.BuildMuxPlan(100, 120)
	if err != nil {
		t.Fatal(err)
	}
	if plan.VideoScale != 1 {
		t.Fatalf("longer audio must not retime video, scale = %.4f", plan.VideoScale)
	}
	if math.Abs(plan.AudioStretch.Ratio-1.2) > 1e-9 || plan.AudioStretch.Filter != "atempo=1.200000" {
		t.Fatalf("audio stretch = %+v, want atempo 1.2", plan.AudioStretch)
	}

	// Video longer than audio: the video timestamps are scaled to the audio.
	plan, err = media.BuildMuxPlan(120, 100)
	if err != nil {
		t.Fatal(err)
	}
	if plan.AudioStretch.Filter != "" {
		t.Fatalf("longer video must not stretch audio: %+v", plan.AudioStretch)
	}
	if math.Abs(plan.VideoScale-100.0/120.0) > 1e-9 {
		t.Fatalf("scale = %.4f, want %.4f", plan.VideoScale, 100.0/120.0)
	}

	if _, err := media.BuildMuxPlan(0, 10); err == nil {
		t.Fatal("expected error for zero duration")
	}
}

func TestMuxVideoArgs(t *testing.T) {
	svc, commands := newRecordingService()

	copyPlan := media.MuxPlan{VideoScale: 1}
	if err := svc.MuxVideo(context.Background(), "video.mp4", "dub.wav", "out.mp4", copyPlan); err != nil {
		t.Fatal(err)
	}
	joined := strings.Join((*commands)[0].args, " ")
	if !strings.Contains(joined, "-c:v copy") {
		t.Fatalf("unit scale should copy video: %s", joined)
	}

	scalePlan := media.MuxPlan{VideoScale: 0.833333}
	if err := svc.MuxVideo(context.Background(), "video.mp4", "dub.wav", "out.mp4", scalePlan); err != nil {
		t.Fatal(err)
	}
	joined = strings.Join((*commands)[1].args, " ")
	if !strings.Contains(joined, "setpts=PTS*0.833333") {
		t.Fatalf("scaled mux missing setpts: %s", joined)
	}
	if strings.Contains(joined, "-c:v copy") {
		t.Fatalf("scaled mux must re-encode video: %s", joined)
	}

	stretchPlan, err := media.BuildMuxPlan(10.0, 12.0)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.MuxVideo(context.Background(), "video.mp4", "dub.wav", "out.mp4", stretchPlan); err != nil {
		t.Fatal(err)
	}
	joined = strings.Join((*commands)[2].args, " ")
	if !strings.Contains(joined, "[1:a]atempo=1.200000[a]") {
		t.Fatalf("longer audio must be stretched down: %s", joined)
	}
	if !strings.Contains(joined, "-c:v copy") {
		t.Fatalf("video must stay copied when audio is stretched: %s", joined)
	}
	if strings.Contains(joined, "setpts") {
		t.Fatalf("audio-stretch mux must not retime video: %s", joined)
	}
}

func TestProbeDurationParsesOutput(t *testing.T) {
	svc := media.NewService("", "")
	svc.WithOutputRunner(func(_ context.Context, name string, args ...string) (string, error) {
		if name != "ffprobe" {
			t.Fatalf("binary = %s", name)
		}
		return "123.456\n", nil
	})
	duration, err := svc.ProbeDuration(context.Background(), "file.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(duration-123.456) > 1e-9 {
		t.Fatalf("duration = %.3f", duration)
	}

	svc.WithOutputRunner(func(_ context.Context, _ string, _ ...string) (string, error) {
		return "N/A", nil
	})
	if _, err := svc.ProbeDuration(context.Background(), "file.mp4"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestExtractArgs(t *testing.T) {
	svc, commands := newRecordingService()
	if err := svc.ExtractAudio(context.Background(), "movie.mkv", "audio.wav"); err != nil {
		t.Fatal(err)
	}
	joined := strings.Join((*commands)[0].args, " ")
	for _, want := range []string{"-i movie.mkv", "-ac 1", "-ar 16000", "-c:a pcm_s16le"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q: %s", want, joined)
		}
	}
	if strings.Contains(joined, "-ss") {
		t.Fatalf("full extract must not seek: %s", joined)
	}

	if err := svc.ExtractWindow(context.Background(), "movie.mkv", 12.5, 15, "sample.wav"); err != nil {
		t.Fatal(err)
	}
	joined = strings.Join((*commands)[1].args, " ")
	if !strings.Contains(joined, "-ss 12.500") || !strings.Contains(joined, "-t 15.000") {
		t.Fatalf("window args wrong: %s", joined)
	}

	if err := svc.ExtractWindow(context.Background(), "movie.mkv", 0, 0, "x.wav"); err == nil {
		t.Fatal("expected error for zero duration")
	}
}
