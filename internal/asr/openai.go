package asr

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/loqalabs/loqa-stt/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

// openAIWhisperBackend delegates transcription to the OpenAI Whisper API.
// The verbose response object may or may not carry a segment breakdown.
type openAIWhisperBackend struct {
	client *openai.Client
	model  string
	log    *slog.Logger
}

const openAIWhisperModel = "whisper-1"

func NewOpenAIWhisper(model string, cfg config.ASRConfig, log *slog.Logger) (Backend, error) {
	key := cfg.OpenAIAPIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, errors.New("OpenAI API key required: set asr.openai_api_key or OPENAI_API_KEY")
	}

	clientCfg := openai.DefaultConfig(key)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}

	logger := log.With(slog.String("backend", BackendOpenAIWhisper))
	if model != openAIWhisperModel {
		logger.Warn("unknown API model, using default",
			slog.String("requested", model),
			slog.String("model", openAIWhisperModel))
		model = openAIWhisperModel
	}

	return &openAIWhisperBackend{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		log:    logger,
	}, nil
}

func (b *openAIWhisperBackend) Transcribe(ctx context.Context, audioPath string, opts Options) ([]Segment, error) {
	req := openai.AudioRequest{
		Model:    b.model,
		FilePath: audioPath,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: opts.Language,
		Prompt:   opts.InitialPrompt,
	}

	resp, err := b.client.CreateTranscription(ctx, req)
	if err != nil {
		b.log.Warn("transcription failed", slog.String("error", err.Error()))
		return nil, nil
	}

	if len(resp.Segments) > 0 {
		segments := make([]Segment, 0, len(resp.Segments))
		for _, seg := range resp.Segments {
			segments = append(segments, Segment{Text: seg.Text, Start: seg.Start, End: seg.End})
		}
		return normalizeSegments(segments), nil
	}
	return normalizeSegments([]Segment{{Text: resp.Text}}), nil
}

func (b *openAIWhisperBackend) SupportedLanguages() []string {
	return whisperLanguages
}

func (b *openAIWhisperBackend) Version() string {
	return "openai-api"
}

func (b *openAIWhisperBackend) Attribution() Attribution {
	return Attribution{
		Name: "OpenAI",
		URL:  "https://platform.openai.com/docs/guides/speech-to-text",
	}
}
