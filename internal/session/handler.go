package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-stt/internal/asr"
	"github.com/loqalabs/loqa-stt/internal/protocol"
)

// ErrProtocolViolation is returned for event sequences with no well-defined
// output, such as a stop with no buffered audio. It terminates the session.
var ErrProtocolViolation = errors.New("protocol violation")

type state int

const (
	stateIdle state = iota
	stateRecording
	stateTranscribing
)

// Defaults are the startup decoding parameters a session reverts to after
// every utterance.
type Defaults struct {
	Language      string
	InitialPrompt string
	BeamSize      int
}

// Result couples the transcript reply for one utterance with its
// measurements.
type Result struct {
	Transcript protocol.Transcript
	Audio      time.Duration
	GateWait   time.Duration
	Decode     time.Duration
}

// Handler is the per-session state machine: Idle, Recording while chunks
// arrive, Transcribing between stop and reply. The backend and gate are
// process-wide and shared by reference; everything else is session-local.
type Handler struct {
	id       string
	backend  asr.Backend
	gate     *asr.Gate
	defaults Defaults
	spoolDir string
	emit     func(Result) error
	log      *slog.Logger

	state    state
	language string
	spool    *Spool
}

func NewHandler(id string, backend asr.Backend, gate *asr.Gate, defaults Defaults, spoolDir string, emit func(Result) error, log *slog.Logger) *Handler {
	return &Handler{
		id:       id,
		backend:  backend,
		gate:     gate,
		defaults: defaults,
		spoolDir: spoolDir,
		emit:     emit,
		log:      log.With(slog.String("session", id)),
		language: defaults.Language,
	}
}

// HandleChunk buffers one frame of audio, opening the spool with the
// chunk's format on the first frame of an utterance.
func (h *Handler) HandleChunk(chunk protocol.AudioChunk) error {
	if h.spool == nil {
		spool, err := OpenSpool(h.spoolDir, formatOf(chunk))
		if err != nil {
			return fmt.Errorf("open audio spool: %w", err)
		}
		h.spool = spool
		h.state = stateRecording
		h.log.Debug("recording started",
			slog.Int("rate", chunk.Rate),
			slog.Int("width", chunk.Width),
			slog.Int("channels", chunk.Channels))
	}
	return h.spool.Write(chunk)
}

// HandleStop completes the utterance: the spool is closed, the gate is
// acquired, the backend runs, and a transcript reply is emitted. A backend
// failure degrades to an empty transcript so the session stays alive; the
// language override always reverts to the startup default afterwards.
func (h *Handler) HandleStop(ctx context.Context) error {
	if h.spool == nil {
		return fmt.Errorf("%w: audio stop without buffered audio", ErrProtocolViolation)
	}

	spool := h.spool
	h.spool = nil
	h.state = stateTranscribing
	defer spool.Remove()

	if err := spool.Close(); err != nil {
		return fmt.Errorf("finalize audio spool: %w", err)
	}

	opts := asr.Options{
		Language:      asr.ResolveLanguage(h.language),
		InitialPrompt: h.defaults.InitialPrompt,
		BeamSize:      h.defaults.BeamSize,
	}

	gateStart := time.Now()
	h.gate.Acquire()
	gateWait := time.Since(gateStart)

	decodeStart := time.Now()
	segments, err := h.backend.Transcribe(ctx, spool.Path(), opts)
	decode := time.Since(decodeStart)
	h.gate.Release()

	if err != nil {
		h.log.Warn("transcription failed", slog.String("error", err.Error()))
		segments = nil
	}
	text := asr.JoinSegments(segments)
	h.log.Debug("utterance transcribed",
		slog.Int("segments", len(segments)),
		slog.Duration("decode", decode))

	result := Result{
		Transcript: protocol.Transcript{
			SessionID: h.id,
			Text:      text,
			Language:  opts.Language,
			Timestamp: time.Now().UTC(),
		},
		Audio:    spool.Duration(),
		GateWait: gateWait,
		Decode:   decode,
	}

	h.language = h.defaults.Language
	h.state = stateIdle
	return h.emit(result)
}

// SetLanguage overrides the language for the next utterance. Valid in any
// state.
func (h *Handler) SetLanguage(language string) {
	if language == "" {
		return
	}
	h.language = language
	h.log.Debug("language set", slog.String("language", language))
}

// Language reports the effective language for the next utterance.
func (h *Handler) Language() string {
	return h.language
}

// Recording reports whether an utterance is currently buffering.
func (h *Handler) Recording() bool {
	return h.state == stateRecording
}

// Close releases the session's spool, if any. Called on disconnect, expiry,
// and terminal errors; a backend call already in flight runs to completion
// and its result is discarded by the caller.
func (h *Handler) Close() {
	if h.spool != nil {
		h.spool.Remove()
		h.spool = nil
	}
	h.state = stateIdle
}
