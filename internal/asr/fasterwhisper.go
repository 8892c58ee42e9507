package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/mattn/go-shellwords"
)

// fasterWhisperBackend drives the CTranslate2-accelerated whisper engine as
// a subprocess. The engine prints a JSON array of segment objects on stdout.
type fasterWhisperBackend struct {
	cmd   []string
	model string
	cfg   config.ASRConfig
	log   *slog.Logger
}

type fwSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

func NewFasterWhisper(model string, cfg config.ASRConfig, log *slog.Logger) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.FasterWhisperCommand)
	if err != nil {
		return nil, fmt.Errorf("parse faster-whisper command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("faster-whisper command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("faster-whisper engine not found: %w", err)
	}
	return &fasterWhisperBackend{
		cmd:   args,
		model: model,
		cfg:   cfg,
		log:   log.With(slog.String("backend", BackendFasterWhisper)),
	}, nil
}

func (b *fasterWhisperBackend) Transcribe(ctx context.Context, audioPath string, opts Options) ([]Segment, error) {
	args := append([]string{}, b.cmd[1:]...)
	args = append(args,
		"--audio", audioPath,
		"--model", b.model,
		"--device", b.cfg.Device,
		"--compute-type", b.cfg.ComputeType,
		"--beam-size", strconv.Itoa(opts.BeamSize),
		"--output-format", "json",
	)
	if b.cfg.DownloadDir != "" {
		args = append(args, "--download-dir", b.cfg.DownloadDir)
	}
	if opts.Language != "" {
		args = append(args, "--language", opts.Language)
	}
	if opts.InitialPrompt != "" {
		args = append(args, "--initial-prompt", opts.InitialPrompt)
	}

	command := exec.CommandContext(ctx, b.cmd[0], args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		b.log.Warn("transcription failed",
			slog.String("error", err.Error()),
			slog.String("stderr", stderr.String()))
		return nil, nil
	}
	return parseFasterWhisperOutput(stdout.Bytes(), b.log), nil
}

// parseFasterWhisperOutput normalizes the engine's segment list shape.
// Malformed output degrades to zero segments.
func parseFasterWhisperOutput(data []byte, log *slog.Logger) []Segment {
	var raw []fwSegment
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Warn("failed to decode engine output", slog.String("error", err.Error()))
		return nil
	}
	segments := make([]Segment, 0, len(raw))
	for _, seg := range raw {
		segments = append(segments, Segment{Text: seg.Text, Start: seg.Start, End: seg.End})
	}
	return normalizeSegments(segments)
}

func (b *fasterWhisperBackend) SupportedLanguages() []string {
	return whisperLanguages
}

func (b *fasterWhisperBackend) Version() string {
	return "faster-whisper"
}

func (b *fasterWhisperBackend) Attribution() Attribution {
	return Attribution{
		Name: "Guillaume Klein",
		URL:  "https://github.com/guillaumekln/faster-whisper/",
	}
}
