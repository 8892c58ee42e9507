package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-stt/internal/asr"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type capture struct {
	mu      sync.Mutex
	results []Result
}

func (c *capture) emit(r Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return nil
}

func (c *capture) last(t *testing.T) Result {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.results) == 0 {
		t.Fatal("expected a transcript reply")
	}
	return c.results[len(c.results)-1]
}

func newTestHandler(t *testing.T, backend asr.Backend, gate *asr.Gate, defaults Defaults) (*Handler, *capture) {
	t.Helper()
	c := &capture{}
	h := NewHandler("session-1", backend, gate, defaults, t.TempDir(), c.emit, newLogger())
	return h, c
}

func TestEmptySegmentsYieldEmptyTranscript(t *testing.T) {
	h, c := newTestHandler(t, &asr.MockBackend{}, &asr.Gate{}, Defaults{})
	if err := h.HandleChunk(chunk(16000, 2, 1, 160)); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if err := h.HandleStop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := c.last(t).Transcript.Text; got != "" {
		t.Fatalf("expected empty transcript, got %q", got)
	}
}

func TestSegmentsJoined(t *testing.T) {
	backend := &asr.MockBackend{Segments: []asr.Segment{
		{Text: "hello"},
		{Text: "  "},
		{Text: "world"},
	}}
	h, c := newTestHandler(t, backend, &asr.Gate{}, Defaults{})
	if err := h.HandleChunk(chunk(16000, 2, 1, 160)); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if err := h.HandleStop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := c.last(t).Transcript.Text; got != "hello world" {
		t.Fatalf("expected %q, got %q", "hello world", got)
	}
}

func TestBackendFailureDegradesToEmpty(t *testing.T) {
	backend := &asr.MockBackend{Err: errors.New("engine exploded")}
	h, c := newTestHandler(t, backend, &asr.Gate{}, Defaults{})
	if err := h.HandleChunk(chunk(16000, 2, 1, 160)); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if err := h.HandleStop(context.Background()); err != nil {
		t.Fatalf("expected failure recovered locally, got %v", err)
	}
	if got := c.last(t).Transcript.Text; got != "" {
		t.Fatalf("expected empty transcript after backend failure, got %q", got)
	}
}

func TestStopWithoutAudioIsProtocolViolation(t *testing.T) {
	h, _ := newTestHandler(t, &asr.MockBackend{}, &asr.Gate{}, Defaults{})
	if err := h.HandleStop(context.Background()); !errors.Is(err, ErrProtocolViolation) {
		t.Fatalf("expected ErrProtocolViolation, got %v", err)
	}
}

func TestFormatMismatchTerminatesUtterance(t *testing.T) {
	h, _ := newTestHandler(t, &asr.MockBackend{}, &asr.Gate{}, Defaults{})
	if err := h.HandleChunk(chunk(16000, 2, 1, 160)); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if err := h.HandleChunk(chunk(44100, 2, 1, 160)); !errors.Is(err, ErrFormatMismatch) {
		t.Fatalf("expected ErrFormatMismatch, got %v", err)
	}
}

func TestLanguageOverrideAndReset(t *testing.T) {
	h, c := newTestHandler(t, &asr.MockBackend{}, &asr.Gate{}, Defaults{Language: "en"})

	h.SetLanguage("nl")
	if err := h.HandleChunk(chunk(16000, 2, 1, 160)); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if err := h.HandleStop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := c.last(t).Transcript.Language; got != "nl" {
		t.Fatalf("expected override used for utterance, got %q", got)
	}
	if got := h.Language(); got != "en" {
		t.Fatalf("expected language reset to default, got %q", got)
	}
}

func TestLanguageAutoMapsToDetection(t *testing.T) {
	h, c := newTestHandler(t, &asr.MockBackend{}, &asr.Gate{}, Defaults{})
	h.SetLanguage("auto")
	if err := h.HandleChunk(chunk(16000, 2, 1, 160)); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if err := h.HandleStop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := c.last(t).Transcript.Language; got != "" {
		t.Fatalf("expected auto mapped to empty, got %q", got)
	}
}

func TestCloseReleasesSpool(t *testing.T) {
	h, _ := newTestHandler(t, &asr.MockBackend{}, &asr.Gate{}, Defaults{})
	if err := h.HandleChunk(chunk(16000, 2, 1, 160)); err != nil {
		t.Fatalf("chunk: %v", err)
	}
	path := h.spool.Path()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected spool on disk: %v", err)
	}

	h.Close()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected spool removed on close, got %v", err)
	}
	if h.Recording() {
		t.Fatal("expected handler back to idle")
	}
}

// exclusiveBackend fails the test if two transcriptions ever overlap.
type exclusiveBackend struct {
	asr.MockBackend
	inflight atomic.Int32
	overlap  atomic.Bool
}

func (b *exclusiveBackend) Transcribe(ctx context.Context, path string, opts asr.Options) ([]asr.Segment, error) {
	if b.inflight.Add(1) > 1 {
		b.overlap.Store(true)
	}
	defer b.inflight.Add(-1)
	time.Sleep(20 * time.Millisecond)
	return b.MockBackend.Transcribe(ctx, path, opts)
}

func TestGateSerializesTranscriptions(t *testing.T) {
	backend := &exclusiveBackend{}
	gate := &asr.Gate{}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		h, _ := newTestHandler(t, backend, gate, Defaults{})
		if err := h.HandleChunk(chunk(16000, 2, 1, 160)); err != nil {
			t.Fatalf("chunk: %v", err)
		}
		wg.Add(1)
		go func(h *Handler) {
			defer wg.Done()
			if err := h.HandleStop(context.Background()); err != nil {
				t.Errorf("stop: %v", err)
			}
		}(h)
	}
	wg.Wait()

	if backend.overlap.Load() {
		t.Fatal("expected backend calls to never overlap")
	}
	if backend.Calls() != 4 {
		t.Fatalf("expected 4 backend calls, got %d", backend.Calls())
	}
}
