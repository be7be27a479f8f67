package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all pollcast environment variables.
const EnvPrefix = "POLLCAST_"

const (
	GeneratorDirect = "direct"
	GeneratorServer = "server"
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	DBDriver              string `yaml:"db_driver"`
	DBDSN                 string `yaml:"db_dsn"`
	ListenAddr            string `yaml:"listen_addr"`
	ServerURL             string `yaml:"server_url"`
	PollModel             string `yaml:"poll_model"`
	GeneratorMode         string `yaml:"generator_mode"`
	MinExcerptChars       int    `yaml:"min_excerpt_chars"`
	ManualTrigger         string `yaml:"manual_trigger"`
	AnswerPolicy          string `yaml:"answer_policy"`
	AccessCodeRetries     int    `yaml:"access_code_retries"`
	ExportDir             string `yaml:"export_dir"`
	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	LogLevel              string `yaml:"log_level"`
	MicSampleRate         int    `yaml:"mic_sample_rate"`
	MicSampleRates        []int  `yaml:"mic_sample_rates"`

	// Secrets: env vars only, never serialized to YAML.
	DeepgramAPIKey string `yaml:"-"`
	PollAPIKey     string `yaml:"-"`
}

func defaults() Config {
	return Config{
		DBDriver:              "sqlite",
		DBDSN:                 "data/pollcast.db",
		ListenAddr:            "127.0.0.1:8080",
		PollModel:             "openrouter/qwen/qwen3-8b",
		GeneratorMode:         GeneratorDirect,
		MinExcerptChars:       50,
		ManualTrigger:         "independent",
		AnswerPolicy:          "all",
		AccessCodeRetries:     5,
		ExportDir:             "data/exports",
		GoogleCredentialsFile: "./service-account.json",
		LogLevel:              "info",
		MicSampleRate:         16000,
		MicSampleRates:        []int{48000, 44100, 32000, 24000},
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// UsesServerGenerator reports whether polls are drafted by the backend server
// rather than by a direct model call from this client.
func (c *Config) UsesServerGenerator() bool {
	return strings.EqualFold(c.GeneratorMode, GeneratorServer)
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.MicSampleRate)
	combined = append(combined, c.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func applyEnvOverrides(cfg *Config) {
	strs := []struct {
		key string
		dst *string
	}{
		{"DB_DRIVER", &cfg.DBDriver},
		{"DB_DSN", &cfg.DBDSN},
		{"LISTEN_ADDR", &cfg.ListenAddr},
		{"SERVER_URL", &cfg.ServerURL},
		{"POLL_MODEL", &cfg.PollModel},
		{"GENERATOR_MODE", &cfg.GeneratorMode},
		{"MANUAL_TRIGGER", &cfg.ManualTrigger},
		{"ANSWER_POLICY", &cfg.AnswerPolicy},
		{"EXPORT_DIR", &cfg.ExportDir},
		{"GDRIVE_FOLDER_ID", &cfg.GDriveFolderID},
		{"GOOGLE_CREDENTIALS_FILE", &cfg.GoogleCredentialsFile},
		{"LOG_LEVEL", &cfg.LogLevel},
	}
	for _, s := range strs {
		if v := os.Getenv(EnvPrefix + s.key); v != "" {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MIN_EXCERPT_CHARS", &cfg.MinExcerptChars},
		{"ACCESS_CODE_RETRIES", &cfg.AccessCodeRetries},
		{"MIC_SAMPLE_RATE", &cfg.MicSampleRate},
	}
	for _, i := range ints {
		if v := os.Getenv(EnvPrefix + i.key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
				*i.dst = n
			}
		}
	}

	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.MicSampleRates = parseSampleRates(v)
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.PollAPIKey = os.Getenv(EnvPrefix + "POLL_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured, live transcription is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}

	switch strings.ToLower(cfg.DBDriver) {
	case "sqlite", "postgres":
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown db_driver %q, using sqlite.", cfg.DBDriver))
		cfg.DBDriver = "sqlite"
	}

	switch strings.ToLower(cfg.GeneratorMode) {
	case GeneratorDirect:
	case GeneratorServer:
		if cfg.ServerURL == "" {
			warnings = append(warnings, "generator_mode is server but server_url is empty, using direct generation.")
			cfg.GeneratorMode = GeneratorDirect
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown generator_mode %q, using direct.", cfg.GeneratorMode))
		cfg.GeneratorMode = GeneratorDirect
	}

	switch strings.ToLower(cfg.ManualTrigger) {
	case "independent", "reset":
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown manual_trigger %q, using independent.", cfg.ManualTrigger))
		cfg.ManualTrigger = "independent"
	}

	switch strings.ToLower(cfg.AnswerPolicy) {
	case "all", "first", "last":
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown answer_policy %q, using all.", cfg.AnswerPolicy))
		cfg.AnswerPolicy = "all"
	}

	if cfg.MinExcerptChars <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid min_excerpt_chars %d, using 50.", cfg.MinExcerptChars))
		cfg.MinExcerptChars = 50
	}

	return warnings
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
