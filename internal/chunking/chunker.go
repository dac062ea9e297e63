package chunking

import (
	"fmt"
	"strings"

	"voiceloom/internal/services"
)

// Line is one dialogue line attributed to a speaker.
type Line struct {
	Speaker   string
	Text      string
	StartTime float64
	EndTime   float64
}

// Chunk groups consecutive dialogue lines whose distinct speakers fit the
// synthesis backend's per-request limit.
type Chunk struct {
	Index int
	Lines []Line
	// Speakers lists the chunk's distinct speakers in first-appearance
	// order. Local speaker numbers in the rendered script are 1-based
	// positions in this slice.
	Speakers  []string
	StartTime float64
	EndTime   float64
}

// Script renders the chunk in the wire format the synthesis backend
// expects: one "Speaker N: text" line per dialogue line, with N assigned
// by first appearance within the chunk.
func (c Chunk) Script() string {
	index := make(map[string]int, len(c.Speakers))
	for i, speaker := range c.Speakers {
		index[speaker] = i + 1
	}
	var b strings.Builder
	for i, line := range c.Lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "Speaker %d: %s", index[line.Speaker], strings.TrimSpace(line.Text))
	}
	return b.String()
}

// SpeakerForLocal resolves a chunk-local 1-based speaker number back to the
// global speaker label.
func (c Chunk) SpeakerForLocal(n int) (string, bool) {
	if n < 1 || n > len(c.Speakers) {
		return "", false
	}
	return c.Speakers[n-1], true
}

// Split partitions dialogue lines into ordered chunks, greedily extending
// the current chunk until admitting the next line's speaker would exceed
// maxSpeakers distinct voices. Line order is preserved; a speaker already
// present in the chunk never forces a split.
func Split(lines []Line, maxSpeakers int) ([]Chunk, error) {
	if maxSpeakers < 1 {
		return nil, services.Wrap(services.ErrValidation, "chunking", "split",
			"max speakers per chunk must be positive", nil)
	}
	for i, line := range lines {
		if strings.TrimSpace(line.Speaker) == "" {
			return nil, services.Wrap(services.ErrValidation, "chunking", "split",
				fmt.Sprintf("line %d has no speaker", i), nil)
		}
	}
	if len(lines) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	current := Chunk{Index: 0}
	seen := make(map[string]struct{})

	flush := func() {
		if len(current.Lines) == 0 {
			return
		}
		current.StartTime = current.Lines[0].StartTime
		current.EndTime = current.Lines[len(current.Lines)-1].EndTime
		chunks = append(chunks, current)
		current = Chunk{Index: len(chunks)}
		seen = make(map[string]struct{})
	}

	for _, line := range lines {
		if _, ok := seen[line.Speaker]; !ok && len(seen) == maxSpeakers {
			flush()
		}
		if _, ok := seen[line.Speaker]; !ok {
			seen[line.Speaker] = struct{}{}
			current.Speakers = append(current.Speakers, line.Speaker)
		}
		current.Lines = append(current.Lines, line)
	}
	flush()

	return chunks, nil
}

// TotalSpeakers counts the distinct speakers across all lines.
func TotalSpeakers(lines []Line) int {
	seen := make(map[string]struct{})
	for _, line := range lines {
		seen[line.Speaker] = struct{}{}
	}
	return len(seen)
}
