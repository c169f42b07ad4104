package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string          `yaml:"runtime_name"`
	Environment string          `yaml:"environment"`
	EnvFile     string          `yaml:"env_file"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Journal     JournalConfig   `yaml:"journal"`
	Source      SourceConfig    `yaml:"source"`
	LLM         LLMConfig       `yaml:"llm"`
	TTS         TTSConfig       `yaml:"tts"`
	Audio       AudioConfig     `yaml:"audio"`
	Personas    []PersonaConfig `yaml:"personas"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	SubjectPrefix  string   `yaml:"subject_prefix"`
	WorkerID       string   `yaml:"worker_id"`
	HeartbeatMS    int      `yaml:"heartbeat_interval_ms"`
	HeartbeatTTLMS int      `yaml:"heartbeat_timeout_ms"`
}

// JournalConfig controls the optional per-request stage journal.
type JournalConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxRequests   int    `yaml:"max_requests"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

type SourceConfig struct {
	FetchTimeoutMS int   `yaml:"fetch_timeout_ms"`
	StripHTML      bool  `yaml:"strip_html"`
	MaxBytes       int64 `yaml:"max_bytes"`
}

type LLMConfig struct {
	Mode          string  `yaml:"mode"` // openai, ollama, exec, mock
	Endpoint      string  `yaml:"endpoint"`
	APIKey        string  `yaml:"api_key"`
	Command       string  `yaml:"command"`
	Model         string  `yaml:"model"`
	KeyPointModel string  `yaml:"key_point_model"`
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"max_tokens"`
	TimeoutMS     int     `yaml:"timeout_ms"`
}

type TTSConfig struct {
	Mode      string `yaml:"mode"` // elevenlabs, polly, exec, mock
	Endpoint  string `yaml:"endpoint"`
	APIKey    string `yaml:"api_key"`
	Command   string `yaml:"command"`
	Model     string `yaml:"model"`
	Region    string `yaml:"region"`
	Engine    string `yaml:"engine"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type AudioConfig struct {
	Dir      string `yaml:"dir"`
	MinBytes int64  `yaml:"min_bytes"`
}

type PersonaConfig struct {
	Label   string `yaml:"label"`
	VoiceID string `yaml:"voice_id"`
	Tone    string `yaml:"tone"`
	Preview string `yaml:"preview"`
}

func Default() Config {
	return Config{
		RuntimeName: "voice-agent",
		Environment: "development",
		EnvFile:     ".env",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			SubjectPrefix:  "voiceagent",
			HeartbeatMS:    5000,
			HeartbeatTTLMS: 15000,
		},
		Journal: JournalConfig{
			Path:          "./data/voice-agent.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxRequests:   10000,
		},
		Source: SourceConfig{
			FetchTimeoutMS: 10000,
			StripHTML:      false,
			MaxBytes:       20 << 20,
		},
		LLM: LLMConfig{
			Mode:          "openai",
			Endpoint:      "https://api.openai.com/v1",
			Model:         "gpt-4o",
			KeyPointModel: "gpt-4o",
			Temperature:   0.7,
			TimeoutMS:     120000,
		},
		TTS: TTSConfig{
			Mode:      "elevenlabs",
			Endpoint:  "https://api.elevenlabs.io/v1",
			Model:     "eleven_multilingual_v2",
			Region:    "us-east-1",
			Engine:    "neural",
			TimeoutMS: 60000,
		},
		Audio: AudioConfig{
			Dir:      "audio_outputs",
			MinBytes: 1000,
		},
	}
}

// Load reads the layered configuration and validates it.
func Load(path string) (Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return cfg, err
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Read layers defaults, the YAML file, the dotenv file and the environment
// without validating backend settings. Callers that only inspect static
// settings such as personas use it to avoid requiring credentials.
func Read(path string) (Config, error) {
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

	if err := loadEnvFile(cfg.EnvFile); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// loadEnvFile populates unset variables from a dotenv file. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "VOICEAGENT_RUNTIME_NAME")
	overrideString(&cfg.Environment, "VOICEAGENT_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "VOICEAGENT_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "VOICEAGENT_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "VOICEAGENT_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "VOICEAGENT_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "VOICEAGENT_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "VOICEAGENT_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "VOICEAGENT_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "VOICEAGENT_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "VOICEAGENT_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "VOICEAGENT_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "VOICEAGENT_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "VOICEAGENT_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "VOICEAGENT_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "VOICEAGENT_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "VOICEAGENT_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Bus.SubjectPrefix, "VOICEAGENT_BUS_SUBJECT_PREFIX")
	overrideString(&cfg.Bus.WorkerID, "VOICEAGENT_BUS_WORKER_ID")
	overrideInt(&cfg.Bus.HeartbeatMS, "VOICEAGENT_BUS_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Bus.HeartbeatTTLMS, "VOICEAGENT_BUS_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.Journal.Path, "VOICEAGENT_JOURNAL_PATH")
	overrideString(&cfg.Journal.RetentionMode, "VOICEAGENT_JOURNAL_RETENTION_MODE")
	overrideInt(&cfg.Journal.RetentionDays, "VOICEAGENT_JOURNAL_RETENTION_DAYS")
	overrideInt(&cfg.Journal.MaxRequests, "VOICEAGENT_JOURNAL_MAX_REQUESTS")
	overrideBool(&cfg.Journal.VacuumOnStart, "VOICEAGENT_JOURNAL_VACUUM_ON_START")
	overrideInt(&cfg.Source.FetchTimeoutMS, "VOICEAGENT_SOURCE_FETCH_TIMEOUT_MS")
	overrideBool(&cfg.Source.StripHTML, "VOICEAGENT_SOURCE_STRIP_HTML")
	overrideInt64(&cfg.Source.MaxBytes, "VOICEAGENT_SOURCE_MAX_BYTES")
	overrideString(&cfg.LLM.Mode, "VOICEAGENT_LLM_MODE")
	overrideString(&cfg.LLM.Endpoint, "VOICEAGENT_LLM_ENDPOINT")
	overrideString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	overrideString(&cfg.LLM.APIKey, "VOICEAGENT_LLM_API_KEY")
	overrideString(&cfg.LLM.Command, "VOICEAGENT_LLM_COMMAND")
	overrideString(&cfg.LLM.Model, "VOICEAGENT_LLM_MODEL")
	overrideString(&cfg.LLM.KeyPointModel, "VOICEAGENT_LLM_KEY_POINT_MODEL")
	overrideFloat(&cfg.LLM.Temperature, "VOICEAGENT_LLM_TEMPERATURE")
	overrideInt(&cfg.LLM.MaxTokens, "VOICEAGENT_LLM_MAX_TOKENS")
	overrideInt(&cfg.LLM.TimeoutMS, "VOICEAGENT_LLM_TIMEOUT_MS")
	overrideString(&cfg.TTS.Mode, "VOICEAGENT_TTS_MODE")
	overrideString(&cfg.TTS.Endpoint, "VOICEAGENT_TTS_ENDPOINT")
	overrideString(&cfg.TTS.APIKey, "ELEVENLABS_API_KEY")
	overrideString(&cfg.TTS.APIKey, "VOICEAGENT_TTS_API_KEY")
	overrideString(&cfg.TTS.Command, "VOICEAGENT_TTS_COMMAND")
	overrideString(&cfg.TTS.Model, "VOICEAGENT_TTS_MODEL")
	overrideString(&cfg.TTS.Region, "VOICEAGENT_TTS_REGION")
	overrideString(&cfg.TTS.Engine, "VOICEAGENT_TTS_ENGINE")
	overrideInt(&cfg.TTS.TimeoutMS, "VOICEAGENT_TTS_TIMEOUT_MS")
	overrideString(&cfg.Audio.Dir, "VOICEAGENT_AUDIO_DIR")
	overrideInt64(&cfg.Audio.MinBytes, "VOICEAGENT_AUDIO_MIN_BYTES")
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

func overrideInt64(target *int64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.SubjectPrefix == "" {
			return errors.New("bus.subject_prefix must not be empty")
		}
		if cfg.Bus.HeartbeatMS <= 0 || cfg.Bus.HeartbeatTTLMS < cfg.Bus.HeartbeatMS {
			return errors.New("bus.heartbeat_timeout_ms must be >= bus.heartbeat_interval_ms > 0")
		}
	}
	switch cfg.Journal.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("journal.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Journal.RetentionMode != "ephemeral" && cfg.Journal.Path == "" {
		return errors.New("journal.path must not be empty when retention is enabled")
	}
	if cfg.Journal.RetentionDays < 0 {
		return errors.New("journal.retention_days must be >= 0")
	}
	if cfg.Source.FetchTimeoutMS <= 0 {
		return errors.New("source.fetch_timeout_ms must be positive")
	}
	if cfg.Source.MaxBytes <= 0 {
		return errors.New("source.max_bytes must be positive")
	}
	switch cfg.LLM.Mode {
	case "openai":
		if cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=openai")
		}
		if cfg.LLM.APIKey == "" {
			return errors.New("llm.api_key (or OPENAI_API_KEY) must be set when mode=openai")
		}
	case "ollama":
		if cfg.LLM.Endpoint == "" {
			return errors.New("llm.endpoint must be set when mode=ollama")
		}
	case "exec":
		if cfg.LLM.Command == "" {
			return errors.New("llm.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("llm.mode must be one of openai|ollama|exec|mock")
	}
	if cfg.LLM.Model == "" {
		return errors.New("llm.model must not be empty")
	}
	if cfg.LLM.MaxTokens < 0 {
		return errors.New("llm.max_tokens must be >= 0")
	}
	switch cfg.TTS.Mode {
	case "elevenlabs":
		if cfg.TTS.APIKey == "" {
			return errors.New("tts.api_key (or ELEVENLABS_API_KEY) must be set when mode=elevenlabs")
		}
		if cfg.TTS.Endpoint == "" {
			return errors.New("tts.endpoint must be set when mode=elevenlabs")
		}
	case "polly":
		if cfg.TTS.Region == "" {
			return errors.New("tts.region must be set when mode=polly")
		}
	case "exec":
		if cfg.TTS.Command == "" {
			return errors.New("tts.command must be set when mode=exec")
		}
	case "mock":
	default:
		return errors.New("tts.mode must be one of elevenlabs|polly|exec|mock")
	}
	if cfg.Audio.Dir == "" {
		return errors.New("audio.dir must not be empty")
	}
	if cfg.Audio.MinBytes < 0 {
		return errors.New("audio.min_bytes must be >= 0")
	}
	for i, p := range cfg.Personas {
		if strings.TrimSpace(p.Label) == "" {
			return fmt.Errorf("personas[%d].label must not be empty", i)
		}
		if strings.TrimSpace(p.VoiceID) == "" {
			return fmt.Errorf("personas[%d].voice_id must not be empty", i)
		}
	}
	return nil
}

// SlogLevel maps log_level to a slog level, defaulting to info.
func (t TelemetryConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(t.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}
