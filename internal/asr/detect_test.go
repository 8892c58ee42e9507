package asr

import (
	"errors"
	"testing"

	"github.com/loqalabs/loqa-stt/internal/config"
)

func probes(mlx, fw, oa bool) Probes {
	return Probes{
		MLX:           func() bool { return mlx },
		FasterWhisper: func() bool { return fw },
		OpenAI:        func() bool { return oa },
	}
}

var (
	appleSilicon = Platform{OS: "darwin", Arch: "arm64"}
	linuxAMD64   = Platform{OS: "linux", Arch: "amd64"}
	linuxARM64   = Platform{OS: "linux", Arch: "arm64"}
)

func TestDetectAppleSilicon(t *testing.T) {
	name, err := Detect(appleSilicon, probes(true, true, true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != BackendMLXWhisper {
		t.Fatalf("expected mlx-whisper on apple silicon, got %q", name)
	}
}

func TestDetectMLXIgnoredOffApple(t *testing.T) {
	name, err := Detect(linuxARM64, probes(true, true, false))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != BackendFasterWhisper {
		t.Fatalf("expected faster-whisper off apple, got %q", name)
	}
}

func TestDetectBaselineFallback(t *testing.T) {
	name, err := Detect(linuxAMD64, probes(false, false, true))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != BackendOpenAIWhisper {
		t.Fatalf("expected openai-whisper fallback, got %q", name)
	}
}

func TestDetectNoBackendAvailable(t *testing.T) {
	_, err := Detect(linuxAMD64, probes(false, false, false))
	if !errors.Is(err, ErrNoBackendAvailable) {
		t.Fatalf("expected ErrNoBackendAvailable, got %v", err)
	}
}

func TestResolveModelAuto(t *testing.T) {
	if got := ResolveModel(BackendMLXWhisper, Auto, appleSilicon); got.Engine != "mlx-community/whisper-tiny-mlx" {
		t.Fatalf("expected curated mlx default, got %q", got.Engine)
	}
	if got := ResolveModel(BackendFasterWhisper, Auto, linuxARM64); got.Display != "tiny-int8" {
		t.Fatalf("expected tiny-int8 on arm, got %q", got.Display)
	}
	if got := ResolveModel(BackendFasterWhisper, Auto, linuxAMD64); got.Display != "base-int8" {
		t.Fatalf("expected base-int8 on amd64, got %q", got.Display)
	}
}

func TestResolveModelFasterWhisperRewrite(t *testing.T) {
	got := ResolveModel(BackendFasterWhisper, "small.int8", linuxAMD64)
	if got.Engine != "rhasspy/faster-whisper-small-int8" {
		t.Fatalf("expected repo rewrite, got %q", got.Engine)
	}
	if got.Display != "small-int8" {
		t.Fatalf("expected short display name, got %q", got.Display)
	}

	got = ResolveModel(BackendFasterWhisper, "large-v3", linuxAMD64)
	if got.Engine != "large-v3" || got.Display != "large-v3" {
		t.Fatalf("expected non-quantized name untouched, got %+v", got)
	}
}

func TestResolveBeamSize(t *testing.T) {
	if got := ResolveBeamSize(0, linuxARM64); got != 1 {
		t.Fatalf("expected beam 1 on arm, got %d", got)
	}
	if got := ResolveBeamSize(0, linuxAMD64); got != 5 {
		t.Fatalf("expected beam 5 on amd64, got %d", got)
	}
	if got := ResolveBeamSize(7, linuxARM64); got != 7 {
		t.Fatalf("expected explicit beam kept, got %d", got)
	}
}

func TestResolveLanguage(t *testing.T) {
	if got := ResolveLanguage("auto"); got != "" {
		t.Fatalf("expected auto mapped to empty, got %q", got)
	}
	if got := ResolveLanguage("nl"); got != "nl" {
		t.Fatalf("expected explicit language kept, got %q", got)
	}
}

func TestSelectResolvesDownloadDir(t *testing.T) {
	cfg := config.ASRConfig{
		Backend:  Auto,
		Model:    Auto,
		DataDirs: []string{"/models/primary", "/models/extra"},
	}
	name, selection, resolved, err := Select(cfg, linuxAMD64, probes(false, true, false), newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != BackendFasterWhisper {
		t.Fatalf("expected faster-whisper, got %q", name)
	}
	if selection.Display != "base-int8" {
		t.Fatalf("expected base-int8 display, got %q", selection.Display)
	}
	if resolved.Model != "rhasspy/faster-whisper-base-int8" {
		t.Fatalf("expected rewritten engine model, got %q", resolved.Model)
	}
	if resolved.DownloadDir != "/models/primary" {
		t.Fatalf("expected first data dir as download dir, got %q", resolved.DownloadDir)
	}
	if resolved.BeamSize != 5 {
		t.Fatalf("expected resolved beam size, got %d", resolved.BeamSize)
	}
}
