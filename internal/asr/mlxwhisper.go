package asr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/mattn/go-shellwords"
)

// mlxWhisperBackend drives the Apple-silicon MLX whisper engine as a
// subprocess. The engine prints a JSON object that carries either a
// "segments" list, a bare "text" field, or both.
type mlxWhisperBackend struct {
	cmd       []string
	modelPath string
	log       *slog.Logger
}

type mlxResult struct {
	Segments []struct {
		Text  string  `json:"text"`
		Start float64 `json:"start"`
		End   float64 `json:"end"`
	} `json:"segments"`
	Text string `json:"text"`
}

func NewMLXWhisper(model string, cfg config.ASRConfig, log *slog.Logger) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.MLXCommand)
	if err != nil {
		return nil, fmt.Errorf("parse mlx command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("mlx command is empty")
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("mlx engine not found: %w", err)
	}
	b := &mlxWhisperBackend{
		cmd:       args,
		modelPath: mlxModelPath(model),
		log:       log.With(slog.String("backend", BackendMLXWhisper)),
	}
	b.log.Info("mlx backend initialized", slog.String("model", b.modelPath))
	return b, nil
}

// mlxModelPath maps bare size names onto the community repo layout and
// falls back to the curated tiny model for anything unrecognized.
func mlxModelPath(model string) string {
	if strings.HasPrefix(model, "mlx-community/") {
		return model
	}
	switch model {
	case "tiny", "base", "small", "medium", "large":
		return "mlx-community/whisper-" + model + "-mlx"
	}
	return "mlx-community/whisper-tiny-mlx"
}

func (b *mlxWhisperBackend) Transcribe(ctx context.Context, audioPath string, opts Options) ([]Segment, error) {
	args := append([]string{}, b.cmd[1:]...)
	args = append(args,
		"--audio", audioPath,
		"--model", b.modelPath,
		"--output-format", "json",
	)
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
	return parseMLXOutput(stdout.Bytes(), b.log), nil
}

// parseMLXOutput normalizes the engine's dictionary shape: a segment list
// when present, otherwise one segment covering the full text. Malformed
// output degrades to zero segments.
func parseMLXOutput(data []byte, log *slog.Logger) []Segment {
	var result mlxResult
	if err := json.Unmarshal(data, &result); err != nil {
		log.Warn("failed to decode engine output", slog.String("error", err.Error()))
		return nil
	}
	if len(result.Segments) > 0 {
		segments := make([]Segment, 0, len(result.Segments))
		for _, seg := range result.Segments {
			segments = append(segments, Segment{Text: seg.Text, Start: seg.Start, End: seg.End})
		}
		return normalizeSegments(segments)
	}
	return normalizeSegments([]Segment{{Text: result.Text}})
}

func (b *mlxWhisperBackend) SupportedLanguages() []string {
	return mlxLanguages
}

func (b *mlxWhisperBackend) Version() string {
	return "mlx-whisper"
}

func (b *mlxWhisperBackend) Attribution() Attribution {
	return Attribution{
		Name: "MLX Community",
		URL:  "https://github.com/ml-explore/mlx-examples/",
	}
}
