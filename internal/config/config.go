package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// ASRConfig selects and parameterizes the recognition backend. Backend and
// Model accept the sentinel "auto" for platform-based selection.
type ASRConfig struct {
	Backend       string   `yaml:"backend"`
	Model         string   `yaml:"model"`
	Device        string   `yaml:"device"`
	ComputeType   string   `yaml:"compute_type"`
	Language      string   `yaml:"language"`
	BeamSize      int      `yaml:"beam_size"`
	InitialPrompt string   `yaml:"initial_prompt"`
	DataDirs      []string `yaml:"data_dirs"`
	DownloadDir   string   `yaml:"download_dir"`

	FasterWhisperCommand string `yaml:"faster_whisper_command"`
	MLXCommand           string `yaml:"mlx_command"`
	OpenAIAPIKey         string `yaml:"openai_api_key"`
	OpenAIBaseURL        string `yaml:"openai_base_url"`
}

type SessionConfig struct {
	SpoolDir            string `yaml:"spool_dir"`
	IdleTimeoutMS       int    `yaml:"idle_timeout_ms"`
	TranscribeTimeoutMS int    `yaml:"transcribe_timeout_ms"`
}

type TranscriptStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
}

type Config struct {
	ServiceName string                `yaml:"service_name"`
	Environment string                `yaml:"environment"`
	HTTP        HTTPConfig            `yaml:"http"`
	Telemetry   TelemetryConfig       `yaml:"telemetry"`
	Bus         BusConfig             `yaml:"bus"`
	ASR         ASRConfig             `yaml:"asr"`
	Session     SessionConfig         `yaml:"session"`
	Transcripts TranscriptStoreConfig `yaml:"transcripts"`
}

func Default() Config {
	return Config{
		ServiceName: "loqa-stt",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8082,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       false,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		ASR: ASRConfig{
			Backend:              "auto",
			Model:                "auto",
			Device:               "cpu",
			ComputeType:          "default",
			Language:             "",
			BeamSize:             0,
			DataDirs:             []string{"./data/models"},
			FasterWhisperCommand: "faster-whisper",
			MLXCommand:           "mlx_whisper",
		},
		Session: SessionConfig{
			SpoolDir:            "",
			IdleTimeoutMS:       60000,
			TranscribeTimeoutMS: 45000,
		},
		Transcripts: TranscriptStoreConfig{
			Path:          "./data/loqa-stt-transcripts.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "LOQA_STT_SERVICE_NAME")
	overrideString(&cfg.Environment, "LOQA_STT_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_STT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_STT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_STT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_STT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_STT_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "LOQA_STT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_STT_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_STT_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_STT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_STT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_STT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_STT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_STT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_STT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.ASR.Backend, "LOQA_STT_ASR_BACKEND")
	overrideString(&cfg.ASR.Model, "LOQA_STT_ASR_MODEL")
	overrideString(&cfg.ASR.Device, "LOQA_STT_ASR_DEVICE")
	overrideString(&cfg.ASR.ComputeType, "LOQA_STT_ASR_COMPUTE_TYPE")
	overrideString(&cfg.ASR.Language, "LOQA_STT_ASR_LANGUAGE")
	overrideInt(&cfg.ASR.BeamSize, "LOQA_STT_ASR_BEAM_SIZE")
	overrideString(&cfg.ASR.InitialPrompt, "LOQA_STT_ASR_INITIAL_PROMPT")
	overrideStringSlice(&cfg.ASR.DataDirs, "LOQA_STT_ASR_DATA_DIRS")
	overrideString(&cfg.ASR.DownloadDir, "LOQA_STT_ASR_DOWNLOAD_DIR")
	overrideString(&cfg.ASR.FasterWhisperCommand, "LOQA_STT_ASR_FASTER_WHISPER_COMMAND")
	overrideString(&cfg.ASR.MLXCommand, "LOQA_STT_ASR_MLX_COMMAND")
	overrideString(&cfg.ASR.OpenAIAPIKey, "LOQA_STT_ASR_OPENAI_API_KEY")
	overrideString(&cfg.ASR.OpenAIBaseURL, "LOQA_STT_ASR_OPENAI_BASE_URL")
	overrideString(&cfg.Session.SpoolDir, "LOQA_STT_SESSION_SPOOL_DIR")
	overrideInt(&cfg.Session.IdleTimeoutMS, "LOQA_STT_SESSION_IDLE_TIMEOUT_MS")
	overrideInt(&cfg.Session.TranscribeTimeoutMS, "LOQA_STT_SESSION_TRANSCRIBE_TIMEOUT_MS")
	overrideString(&cfg.Transcripts.Path, "LOQA_STT_TRANSCRIPTS_PATH")
	overrideString(&cfg.Transcripts.RetentionMode, "LOQA_STT_TRANSCRIPTS_RETENTION_MODE")
	overrideInt(&cfg.Transcripts.RetentionDays, "LOQA_STT_TRANSCRIPTS_RETENTION_DAYS")
	overrideInt(&cfg.Transcripts.MaxSessions, "LOQA_STT_TRANSCRIPTS_MAX_SESSIONS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if cfg.ASR.Backend == "" {
		return errors.New("asr.backend must not be empty (use \"auto\" for detection)")
	}
	if cfg.ASR.Model == "" {
		return errors.New("asr.model must not be empty (use \"auto\" for selection)")
	}
	if len(cfg.ASR.DataDirs) == 0 {
		return errors.New("asr.data_dirs must not be empty")
	}
	if cfg.Session.IdleTimeoutMS <= 0 {
		return errors.New("session.idle_timeout_ms must be positive")
	}
	if cfg.Session.TranscribeTimeoutMS < 0 {
		return errors.New("session.transcribe_timeout_ms must be >= 0")
	}
	switch cfg.Transcripts.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("transcripts.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Transcripts.RetentionMode != "ephemeral" && cfg.Transcripts.Path == "" {
		return errors.New("transcripts.path must not be empty when retention is enabled")
	}
	if cfg.Transcripts.RetentionDays < 0 {
		return errors.New("transcripts.retention_days must be >= 0")
	}
	return nil
}
