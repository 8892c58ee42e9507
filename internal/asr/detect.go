package asr

import (
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	goruntime "runtime"
	"strings"

	"github.com/loqalabs/loqa-stt/internal/config"
	"github.com/mattn/go-shellwords"
)

// Backend names accepted by the registry and by configuration.
const (
	BackendFasterWhisper = "faster-whisper"
	BackendMLXWhisper    = "mlx-whisper"
	BackendOpenAIWhisper = "openai-whisper"

	// Auto is the sentinel for backend and model auto-selection.
	Auto = "auto"
)

// Platform describes the host for backend and model auto-selection.
type Platform struct {
	OS   string
	Arch string
}

func HostPlatform() Platform {
	return Platform{OS: goruntime.GOOS, Arch: goruntime.GOARCH}
}

// AppleSilicon reports whether the host is an ARM Mac.
func (p Platform) AppleSilicon() bool {
	return p.OS == "darwin" && p.ARM()
}

// ARM reports whether the host runs an ARM-class CPU, which gets the
// constrained defaults for model size and beam width.
func (p Platform) ARM() bool {
	arch := strings.ToLower(p.Arch)
	return strings.Contains(arch, "arm") || strings.Contains(arch, "aarch")
}

// Probes reports which engines are usable on this host. Each probe is
// injectable so detection stays deterministic under test.
type Probes struct {
	MLX           func() bool
	FasterWhisper func() bool
	OpenAI        func() bool
}

// HostProbes builds the real availability checks: engine commands must be on
// PATH, and the API backend needs a credential.
func HostProbes(cfg config.ASRConfig) Probes {
	return Probes{
		MLX:           commandProbe(cfg.MLXCommand),
		FasterWhisper: commandProbe(cfg.FasterWhisperCommand),
		OpenAI: func() bool {
			return cfg.OpenAIAPIKey != "" || os.Getenv("OPENAI_API_KEY") != ""
		},
	}
}

func commandProbe(command string) func() bool {
	return func() bool {
		args, err := shellwords.NewParser().Parse(command)
		if err != nil || len(args) == 0 {
			return false
		}
		_, err = exec.LookPath(args[0])
		return err == nil
	}
}

// Detect picks the backend for the host, first match wins: the Apple-native
// engine on Apple silicon, then the accelerated local engine, then the API
// engine as baseline.
func Detect(p Platform, probes Probes) (string, error) {
	if p.AppleSilicon() && probes.MLX != nil && probes.MLX() {
		return BackendMLXWhisper, nil
	}
	if probes.FasterWhisper != nil && probes.FasterWhisper() {
		return BackendFasterWhisper, nil
	}
	if probes.OpenAI != nil && probes.OpenAI() {
		return BackendOpenAIWhisper, nil
	}
	return "", ErrNoBackendAvailable
}

// ModelSelection couples the identifier handed to the engine with the
// shorter name advertised to clients.
type ModelSelection struct {
	Engine  string
	Display string
}

var quantizedModel = regexp.MustCompile(`^(tiny|base|small|medium)[.-]int8$`)

// ResolveModel applies model auto-selection and backend-specific name
// rewrites. With model == "auto", the Apple-native backend gets its curated
// default and other backends get a quantized default sized by CPU class.
func ResolveModel(backend, model string, p Platform) ModelSelection {
	if model == Auto {
		if backend == BackendMLXWhisper {
			model = "mlx-community/whisper-tiny-mlx"
		} else if p.ARM() {
			model = "tiny-int8"
		} else {
			model = "base-int8"
		}
	}

	selection := ModelSelection{Engine: model, Display: model}
	if backend == BackendFasterWhisper {
		if m := quantizedModel.FindStringSubmatch(model); m != nil {
			selection.Display = m[1] + "-int8"
			selection.Engine = "rhasspy/faster-whisper-" + selection.Display
		}
	}
	return selection
}

// ResolveBeamSize maps a non-positive requested width to the platform
// default: 1 on constrained ARM-class hardware, 5 otherwise.
func ResolveBeamSize(requested int, p Platform) int {
	if requested > 0 {
		return requested
	}
	if p.ARM() {
		return 1
	}
	return 5
}

// ResolveLanguage maps the "auto" sentinel to empty, which engines treat as
// language auto-detection.
func ResolveLanguage(language string) string {
	if language == Auto {
		return ""
	}
	return language
}

// Select runs detection and resolution in one pass over the configuration,
// returning the backend name, model selection, and resolved decoding
// parameters. Used once at startup.
func Select(cfg config.ASRConfig, p Platform, probes Probes, log *slog.Logger) (string, ModelSelection, config.ASRConfig, error) {
	name := cfg.Backend
	if name == Auto {
		detected, err := Detect(p, probes)
		if err != nil {
			return "", ModelSelection{}, cfg, err
		}
		name = detected
		log.Info("auto-detected backend", slog.String("backend", name))
	}

	selection := ResolveModel(name, cfg.Model, p)
	if cfg.Model == Auto {
		log.Info("model automatically selected", slog.String("model", selection.Display))
	}

	resolved := cfg
	resolved.Backend = name
	resolved.Model = selection.Engine
	resolved.BeamSize = ResolveBeamSize(cfg.BeamSize, p)
	resolved.Language = ResolveLanguage(cfg.Language)
	if resolved.DownloadDir == "" && len(resolved.DataDirs) > 0 {
		resolved.DownloadDir = resolved.DataDirs[0]
	}
	return name, selection, resolved, nil
}
