package asr

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-stt/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCreateUnknownBackend(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("no-such-engine", "tiny", config.ASRConfig{}, newLogger())
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestRegisterAndCreate(t *testing.T) {
	r := NewRegistry()
	mock := &MockBackend{}
	r.Register("mock", func(model string, _ config.ASRConfig, _ *slog.Logger) (Backend, error) {
		if model != "tiny" {
			t.Fatalf("expected model passthrough, got %q", model)
		}
		return mock, nil
	})
	backend, err := r.Create("mock", "tiny", config.ASRConfig{}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend != mock {
		t.Fatal("expected registered constructor to be used")
	}
}

func TestCreateWrapsConstructorFailure(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("model weights missing")
	r.Register("broken", func(string, config.ASRConfig, *slog.Logger) (Backend, error) {
		return nil, boom
	})
	_, err := r.Create("broken", "tiny", config.ASRConfig{}, newLogger())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped constructor error, got %v", err)
	}
}

func TestAvailableSorted(t *testing.T) {
	r := Builtin()
	names := r.Available()
	if len(names) != 3 {
		t.Fatalf("expected 3 builtin backends, got %v", names)
	}
	want := []string{BackendFasterWhisper, BackendMLXWhisper, BackendOpenAIWhisper}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("expected %v, got %v", want, names)
		}
	}
}
