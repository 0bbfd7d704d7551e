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

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Bus         BusConfig       `yaml:"bus"`
	Queues      QueueConfig     `yaml:"queues"`
	Status      StatusConfig    `yaml:"status_store"`
	Artifacts   ArtifactConfig  `yaml:"artifact_store"`
	Segmenter   SegmenterConfig `yaml:"segmenter"`
	Assembly    AssemblyConfig  `yaml:"assembly"`
	Synthesis   SynthesisConfig `yaml:"synthesis"`
	Extraction  ExtractConfig   `yaml:"extraction"`
}

type BusConfig struct {
	Embedded        bool     `yaml:"embedded"`
	Port            int      `yaml:"port"`
	StoreDir        string   `yaml:"store_dir"`
	Servers         []string `yaml:"servers"`
	Username        string   `yaml:"username"`
	Password        string   `yaml:"password"`
	Token           string   `yaml:"token"`
	TLSInsecure     bool     `yaml:"tls_insecure"`
	ConnectTimeout  int      `yaml:"connect_timeout_ms"`
	ConnectAttempts int      `yaml:"connect_attempts"`
}

// QueueConfig names the work queues. Group is the consumer group shared
// by competing workers; each queue delivers a task to exactly one member.
type QueueConfig struct {
	Group           string `yaml:"group"`
	Format          string `yaml:"format"`
	SpeakerClone    string `yaml:"speaker_clone"`
	Synthesize      string `yaml:"synthesize"`
	SynthesisResult string `yaml:"synthesis_result"`
	Results         string `yaml:"results"`
}

// Names returns the configured queue subjects in routing order.
func (q QueueConfig) Names() []string {
	return []string{q.Format, q.SpeakerClone, q.Synthesize, q.SynthesisResult}
}

type StatusConfig struct {
	Path string `yaml:"path"`
}

type ArtifactConfig struct {
	Path string `yaml:"path"`
}

type SegmenterConfig struct {
	MaxChars  int `yaml:"max_chars"`
	MaxTokens int `yaml:"max_tokens"`
}

type AssemblyConfig struct {
	SampleRate       int `yaml:"sample_rate"`
	Channels         int `yaml:"channels"`
	InterPauseMS     int `yaml:"inter_pause_ms"`
	HeadingPauseMS   int `yaml:"heading_pause_ms"`
	CollectTimeoutMS int `yaml:"collect_timeout_ms"`
}

type SynthesisConfig struct {
	Mode       string `yaml:"mode"` // mock, http, exec
	Endpoint   string `yaml:"endpoint"`
	Command    string `yaml:"command"`
	Voice      string `yaml:"voice"`
	Language   string `yaml:"language"`
	SampleRate int    `yaml:"sample_rate"`
	Channels   int    `yaml:"channels"`
	TimeoutMS  int    `yaml:"timeout_ms"`
}

type ExtractConfig struct {
	Mode      string `yaml:"mode"` // inline, http
	Endpoint  string `yaml:"endpoint"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		ServiceName: "narrata-core",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:        true,
			Port:            4222,
			StoreDir:        "./data/nats",
			Servers:         []string{"nats://localhost:4222"},
			ConnectTimeout:  2000,
			ConnectAttempts: 5,
		},
		Queues: QueueConfig{
			Group:           "narrata-workers",
			Format:          "tasks.format",
			SpeakerClone:    "tasks.clone",
			Synthesize:      "tasks.synthesize",
			SynthesisResult: "tasks.synthesize.result",
			Results:         "tasks.results",
		},
		Status: StatusConfig{
			Path: "./data/narrata-status.db",
		},
		Artifacts: ArtifactConfig{
			Path: "./data/narrata-artifacts.db",
		},
		Segmenter: SegmenterConfig{
			MaxChars:  2000,
			MaxTokens: 380,
		},
		Assembly: AssemblyConfig{
			SampleRate:       22050,
			Channels:         1,
			InterPauseMS:     350,
			HeadingPauseMS:   900,
			CollectTimeoutMS: 300000,
		},
		Synthesis: SynthesisConfig{
			Mode:       "mock",
			Voice:      "default",
			Language:   "en",
			SampleRate: 22050,
			Channels:   1,
			TimeoutMS:  45000,
		},
		Extraction: ExtractConfig{
			Mode:      "inline",
			TimeoutMS: 30000,
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
	overrideString(&cfg.ServiceName, "NARRATA_SERVICE_NAME")
	overrideString(&cfg.Environment, "NARRATA_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "NARRATA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "NARRATA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "NARRATA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "NARRATA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "NARRATA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "NARRATA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "NARRATA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "NARRATA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "NARRATA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "NARRATA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "NARRATA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "NARRATA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "NARRATA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "NARRATA_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.ConnectAttempts, "NARRATA_BUS_CONNECT_ATTEMPTS")
	overrideString(&cfg.Queues.Group, "NARRATA_QUEUE_GROUP")
	overrideString(&cfg.Queues.Format, "NARRATA_QUEUE_FORMAT")
	overrideString(&cfg.Queues.SpeakerClone, "NARRATA_QUEUE_SPEAKER_CLONE")
	overrideString(&cfg.Queues.Synthesize, "NARRATA_QUEUE_SYNTHESIZE")
	overrideString(&cfg.Queues.SynthesisResult, "NARRATA_QUEUE_SYNTHESIS_RESULT")
	overrideString(&cfg.Queues.Results, "NARRATA_QUEUE_RESULTS")
	overrideString(&cfg.Status.Path, "NARRATA_STATUS_STORE_PATH")
	overrideString(&cfg.Artifacts.Path, "NARRATA_ARTIFACT_STORE_PATH")
	overrideInt(&cfg.Segmenter.MaxChars, "NARRATA_SEGMENTER_MAX_CHARS")
	overrideInt(&cfg.Segmenter.MaxTokens, "NARRATA_SEGMENTER_MAX_TOKENS")
	overrideInt(&cfg.Assembly.SampleRate, "NARRATA_ASSEMBLY_SAMPLE_RATE")
	overrideInt(&cfg.Assembly.Channels, "NARRATA_ASSEMBLY_CHANNELS")
	overrideInt(&cfg.Assembly.InterPauseMS, "NARRATA_ASSEMBLY_INTER_PAUSE_MS")
	overrideInt(&cfg.Assembly.HeadingPauseMS, "NARRATA_ASSEMBLY_HEADING_PAUSE_MS")
	overrideInt(&cfg.Assembly.CollectTimeoutMS, "NARRATA_ASSEMBLY_COLLECT_TIMEOUT_MS")
	overrideString(&cfg.Synthesis.Mode, "NARRATA_SYNTHESIS_MODE")
	overrideString(&cfg.Synthesis.Endpoint, "NARRATA_SYNTHESIS_ENDPOINT")
	overrideString(&cfg.Synthesis.Command, "NARRATA_SYNTHESIS_COMMAND")
	overrideString(&cfg.Synthesis.Voice, "NARRATA_SYNTHESIS_VOICE")
	overrideString(&cfg.Synthesis.Language, "NARRATA_SYNTHESIS_LANGUAGE")
	overrideInt(&cfg.Synthesis.SampleRate, "NARRATA_SYNTHESIS_SAMPLE_RATE")
	overrideInt(&cfg.Synthesis.Channels, "NARRATA_SYNTHESIS_CHANNELS")
	overrideInt(&cfg.Synthesis.TimeoutMS, "NARRATA_SYNTHESIS_TIMEOUT_MS")
	overrideString(&cfg.Extraction.Mode, "NARRATA_EXTRACTION_MODE")
	overrideString(&cfg.Extraction.Endpoint, "NARRATA_EXTRACTION_ENDPOINT")
	overrideInt(&cfg.Extraction.TimeoutMS, "NARRATA_EXTRACTION_TIMEOUT_MS")
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
	if cfg.Bus.ConnectAttempts <= 0 {
		return errors.New("bus.connect_attempts must be >= 1")
	}
	if cfg.Queues.Group == "" {
		return errors.New("queues.group must not be empty")
	}
	for _, name := range cfg.Queues.Names() {
		if name == "" {
			return errors.New("queue names must not be empty")
		}
	}
	if cfg.Status.Path == "" {
		return errors.New("status_store.path must not be empty")
	}
	if cfg.Artifacts.Path == "" {
		return errors.New("artifact_store.path must not be empty")
	}
	if cfg.Segmenter.MaxChars <= 0 {
		return errors.New("segmenter.max_chars must be positive")
	}
	if cfg.Segmenter.MaxTokens <= 0 {
		return errors.New("segmenter.max_tokens must be positive")
	}
	if cfg.Assembly.SampleRate <= 0 {
		return errors.New("assembly.sample_rate must be positive")
	}
	if cfg.Assembly.Channels <= 0 {
		return errors.New("assembly.channels must be positive")
	}
	if cfg.Assembly.CollectTimeoutMS <= 0 {
		return errors.New("assembly.collect_timeout_ms must be positive")
	}
	if cfg.Assembly.InterPauseMS < 0 || cfg.Assembly.HeadingPauseMS < 0 {
		return errors.New("assembly pause durations must not be negative")
	}
	switch cfg.Synthesis.Mode {
	case "mock", "http", "exec":
	default:
		return errors.New("synthesis.mode must be one of mock|http|exec")
	}
	if cfg.Synthesis.Mode == "http" && cfg.Synthesis.Endpoint == "" {
		return errors.New("synthesis.endpoint must be set when mode=http")
	}
	if cfg.Synthesis.Mode == "exec" && cfg.Synthesis.Command == "" {
		return errors.New("synthesis.command must be set when mode=exec")
	}
	if cfg.Synthesis.SampleRate <= 0 {
		return errors.New("synthesis.sample_rate must be positive")
	}
	if cfg.Synthesis.Channels <= 0 {
		return errors.New("synthesis.channels must be positive")
	}
	switch cfg.Extraction.Mode {
	case "inline", "http":
	default:
		return errors.New("extraction.mode must be one of inline|http")
	}
	if cfg.Extraction.Mode == "http" && cfg.Extraction.Endpoint == "" {
		return errors.New("extraction.endpoint must be set when mode=http")
	}
	return nil
}
