package pipeline

import (
	"encoding/json"
	"fmt"

	"voiceloom/internal/chunking"
	"voiceloom/internal/clustering"
	"voiceloom/internal/extsvc"
)

// transcriptDoc is the transcript persisted on the job row. Embeddings
// are kept through clustering and dropped afterwards; speaker labels are
// filled in by the clustering stage.
type transcriptDoc struct {
	Language string       `json:"language"`
	Segments []segmentDoc `json:"segments"`
}

type segmentDoc struct {
	StartTime float64   `json:"start"`
	EndTime   float64   `json:"end"`
	Text      string    `json:"text"`
	Speaker   string    `json:"speaker,omitempty"`
	Embedding []float64 `json:"embedding,omitempty"`
}

func transcriptFromBackend(t *extsvc.Transcript) transcriptDoc {
	doc := transcriptDoc{Language: t.Language, Segments: make([]segmentDoc, len(t.Segments))}
	for i, seg := range t.Segments {
		doc.Segments[i] = segmentDoc{
			StartTime: seg.StartTime,
			EndTime:   seg.EndTime,
			Text:      seg.Text,
			Embedding: seg.Embedding,
		}
	}
	return doc
}

func parseTranscript(raw string) (transcriptDoc, error) {
	var doc transcriptDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return transcriptDoc{}, fmt.Errorf("parse transcript: %w", err)
	}
	return doc, nil
}

func (d transcriptDoc) marshal() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal transcript: %w", err)
	}
	return string(data), nil
}

// clusterSegments converts the document into the clusterer's input form.
func (d transcriptDoc) clusterSegments() []clustering.Segment {
	segments := make([]clustering.Segment, len(d.Segments))
	for i, seg := range d.Segments {
		segments[i] = clustering.Segment{
			StartTime: seg.StartTime,
			EndTime:   seg.EndTime,
			Text:      seg.Text,
			Embedding: seg.Embedding,
		}
	}
	return segments
}

// applyLabels records one speaker label per segment and drops the
// embeddings, which have served their purpose.
func (d *transcriptDoc) applyLabels(labels []string) error {
	if len(labels) != len(d.Segments) {
		return fmt.Errorf("label count %d does not match segment count %d", len(labels), len(d.Segments))
	}
	for i := range d.Segments {
		d.Segments[i].Speaker = labels[i]
		d.Segments[i].Embedding = nil
	}
	return nil
}

// texts returns the segment texts in order, for translation.
func (d transcriptDoc) texts() []string {
	out := make([]string, len(d.Segments))
	for i, seg := range d.Segments {
		out[i] = seg.Text
	}
	return out
}

// withTexts returns a copy of the document carrying replacement texts.
func (d transcriptDoc) withTexts(texts []string) (transcriptDoc, error) {
	if len(texts) != len(d.Segments) {
		return transcriptDoc{}, fmt.Errorf("text count %d does not match segment count %d", len(texts), len(d.Segments))
	}
	out := transcriptDoc{Language: d.Language, Segments: make([]segmentDoc, len(d.Segments))}
	copy(out.Segments, d.Segments)
	for i := range out.Segments {
		out.Segments[i].Text = texts[i]
	}
	return out, nil
}

// lines converts the labeled document into chunker input.
func (d transcriptDoc) lines() ([]chunking.Line, error) {
	lines := make([]chunking.Line, len(d.Segments))
	for i, seg := range d.Segments {
		if seg.Speaker == "" {
			return nil, fmt.Errorf("segment %d has no speaker label", i)
		}
		lines[i] = chunking.Line{
			Speaker:   seg.Speaker,
			Text:      seg.Text,
			StartTime: seg.StartTime,
			EndTime:   seg.EndTime,
		}
	}
	return lines, nil
}
