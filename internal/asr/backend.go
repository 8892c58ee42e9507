package asr

import (
	"context"
	"strings"
)

// Segment is one normalized unit of recognized text with optional timing.
type Segment struct {
	Text  string
	Start float64
	End   float64
}

// Options carries per-request decoding parameters.
type Options struct {
	Language      string
	InitialPrompt string
	BeamSize      int
}

// Attribution credits the upstream project behind a backend.
type Attribution struct {
	Name string
	URL  string
}

// Backend is the normalized contract every recognition engine satisfies.
// Transcribe returns the full segment sequence for one audio file; engine
// failures degrade to an empty sequence rather than an error, so a non-nil
// error only ever reflects caller-side problems such as a canceled context.
type Backend interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) ([]Segment, error)
	SupportedLanguages() []string
	Version() string
	Attribution() Attribution
}

// normalizeSegments trims segment text and drops segments that are empty
// after trimming. Backends call this before returning their results so no
// engine-specific shape leaks past this package.
func normalizeSegments(in []Segment) []Segment {
	var out []Segment
	for _, seg := range in {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		seg.Text = text
		out = append(out, seg)
	}
	return out
}

// JoinSegments collapses a segment sequence into the transcript string:
// trimmed texts joined by single spaces, in segment order.
func JoinSegments(segments []Segment) string {
	var parts []string
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}
