package clustering_test

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"voiceloom/internal/clustering"
	"voiceloom/internal/services"
)

func testOptions() clustering.Options {
	return clustering.Options{Eps: 0.15, MinSamples: 2, MinSegmentSeconds: 0.5}
}

// embeddings near the given base direction, normalized.
func embedNear(base []float64, jitter float64) []float64 {
	out := make([]float64, len(base))
	var norm float64
	for i, v := range base {
		out[i] = v + jitter*float64(i%3-1)
		norm += out[i] * out[i]
	}
	norm = math.Sqrt(norm)
	for i := range out {
		out[i] /= norm
	}
	return out
}

func seg(start, end float64, embedding []float64) clustering.Segment {
	return clustering.Segment{StartTime: start, EndTime: end, Embedding: embedding}
}

func TestClusterGroupsSimilarVoices(t *testing.T) {
	voiceA := []float64{1, 0.1, 0}
	voiceB := []float64{0, 0.1, 1}

	segments := []clustering.Segment{
		seg(0, 2, embedNear(voiceA, 0.01)),
		seg(2, 4, embedNear(voiceB, 0.01)),
		seg(4, 6, embedNear(voiceA, 0.02)),
		seg(6, 8, embedNear(voiceB, 0.02)),
	}

	result, err := clustering.Cluster(segments, testOptions())
	if err != nil {
		t.Fatalf("Cluster: %v", err)
	}
	if len(result.Speakers) != 2 {
		t.Fatalf("speakers = %v, want 2 distinct", result.Speakers)
	}
	if result.Labels[0] != result.Labels[2] {
		t.Fatalf("same voice split: %v", result.Labels)
	}
	if result.Labels[1] != result.Labels[3] {
		t.Fatalf("same voice split: %v", result.Labels)
	}
	if result.Labels[0] == result.Labels[1] {
		t.Fatalf("distinct voices merged: %v", result.Labels)
	}
}

func TestClusterNoiseBecomesSingletonSpeakers(t *testing.T) {
	voiceA := []float64{1, 0.1, 0}
	outlier1 := []float64{0, 1, 0}
	outlier2 := []float64{0.5, -0.5, 0.7}

	segments := []clustering.Segment{
		seg(0, 2, embedNear(voiceA, 0.01)),
		seg(2, 4, embedNear(voiceA, 0.02)),
		seg(4, 6, outlier1),
		seg(6, 8, outlier2),
	}

	result, err := clustering.Cluster(segments, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Speakers) != 3 {
		t.Fatalf("speakers = %v, want dense cluster plus two singletons", result.Speakers)
	}
	if result.Labels[2] == result.Labels[3] {
		t.Fatal("distinct outliers must not share a label")
	}
	if result.Labels[0] != "speaker_1" {
		t.Fatalf("dense cluster label = %s, want speaker_1", result.Labels[0])
	}
	// Singletons are numbered after the dense clusters.
	if result.Labels[2] != "speaker_2" || result.Labels[3] != "speaker_3" {
		t.Fatalf("singleton labels = %s, %s", result.Labels[2], result.Labels[3])
	}
}

func TestClusterShortSegmentsInheritPrecedingLabel(t *testing.T) {
	voiceA := []float64{1, 0.1, 0}
	voiceB := []float64{0, 0.1, 1}

	segments := []clustering.Segment{
		seg(0, 2, embedNear(voiceA, 0.01)),
		seg(2, 4, embedNear(voiceA, 0.02)),
		seg(4, 4.3, nil), // too short to embed
		seg(4.3, 6, embedNear(voiceB, 0.01)),
		seg(6, 8, embedNear(voiceB, 0.02)),
	}

	result, err := clustering.Cluster(segments, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if result.Labels[2] != result.Labels[1] {
		t.Fatalf("short segment label = %s, want preceding %s", result.Labels[2], result.Labels[1])
	}
}

func TestClusterLeadingShortSegmentBecomesNewSpeaker(t *testing.T) {
	voiceA := []float64{1, 0.1, 0}
	segments := []clustering.Segment{
		seg(0, 0.2, nil),
		seg(0.2, 2, embedNear(voiceA, 0.01)),
		seg(2, 4, embedNear(voiceA, 0.02)),
	}
	result, err := clustering.Cluster(segments, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if result.Labels[0] == result.Labels[1] {
		t.Fatalf("leading short segment merged into %s, want its own speaker", result.Labels[1])
	}
	if result.Labels[0] != "speaker_2" {
		t.Fatalf("leading short segment = %s, want speaker_2", result.Labels[0])
	}
	if len(result.Speakers) != 2 {
		t.Fatalf("speakers = %v, want 2", result.Speakers)
	}
}

func TestClusterConsecutiveLeadingShortsShareOneSpeaker(t *testing.T) {
	voiceA := []float64{1, 0.1, 0}
	segments := []clustering.Segment{
		seg(0, 0.2, nil),
		seg(0.2, 0.4, nil),
		seg(0.4, 2, embedNear(voiceA, 0.01)),
		seg(2, 4, embedNear(voiceA, 0.02)),
	}
	result, err := clustering.Cluster(segments, testOptions())
	if err != nil {
		t.Fatal(err)
	}
	if result.Labels[0] != result.Labels[1] {
		t.Fatalf("consecutive shorts split: %v", result.Labels)
	}
	if result.Labels[0] == result.Labels[2] {
		t.Fatalf("leading shorts merged into the cluster: %v", result.Labels)
	}
}

func TestClusterValidation(t *testing.T) {
	segments := []clustering.Segment{seg(0, 2, []float64{1, 0, 0})}

	_, err := clustering.Cluster(segments, clustering.Options{Eps: 0, MinSamples: 2})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("eps=0 err = %v", err)
	}
	_, err = clustering.Cluster(segments, clustering.Options{Eps: 0.15, MinSamples: 0})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("min_samples=0 err = %v", err)
	}
	_, err = clustering.Cluster(
		[]clustering.Segment{seg(0, 0.1, nil)},
		testOptions(),
	)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("all-short err = %v", err)
	}

	result, err := clustering.Cluster(nil, testOptions())
	if err != nil || result.Labels != nil {
		t.Fatalf("empty input = %+v, %v", result, err)
	}
}

func TestPlanSamplesTargetsAndFloors(t *testing.T) {
	segments := []clustering.Segment{
		{StartTime: 0, EndTime: 10},
		{StartTime: 10, EndTime: 22},
		{StartTime: 22, EndTime: 23},
	}
	result := clustering.Result{
		Labels:   []string{"speaker_1", "speaker_1", "speaker_2"},
		Speakers: []string{"speaker_1", "speaker_2"},
	}

	plans := clustering.PlanSamples(segments, result, 15, 2)
	if len(plans) != 2 {
		t.Fatalf("got %d plans, want 2", len(plans))
	}

	first := plans[0]
	if first.Speaker != "speaker_1" {
		t.Fatalf("plan order = %v", plans)
	}
	if math.Abs(first.TotalSeconds()-15) > 1e-9 {
		t.Fatalf("speaker_1 sample = %.2fs, want capped at 15", first.TotalSeconds())
	}
	// Longest segment first, truncated remainder second.
	if !reflect.DeepEqual(first.Windows[0], clustering.SampleWindow{StartTime: 10, EndTime: 22}) {
		t.Fatalf("first window = %+v", first.Windows[0])
	}
	if first.PadToSeconds != 0 {
		t.Fatalf("speaker_1 should not need padding: %+v", first)
	}

	second := plans[1]
	if math.Abs(second.TotalSeconds()-1) > 1e-9 {
		t.Fatalf("speaker_2 sample = %.2fs, want 1", second.TotalSeconds())
	}
	if second.PadToSeconds != 2 {
		t.Fatalf("speaker_2 pad = %.2f, want floor 2", second.PadToSeconds)
	}
}
