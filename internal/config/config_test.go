package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DB_DRIVER", "DB_DSN", "LISTEN_ADDR", "SERVER_URL", "POLL_MODEL",
		"GENERATOR_MODE", "MIN_EXCERPT_CHARS", "MANUAL_TRIGGER", "ANSWER_POLICY",
		"ACCESS_CODE_RETRIES", "EXPORT_DIR", "GDRIVE_FOLDER_ID",
		"GOOGLE_CREDENTIALS_FILE", "LOG_LEVEL",
		"MIC_SAMPLE_RATE", "MIC_SAMPLE_RATES",
		"DEEPGRAM_API_KEY", "POLL_API_KEY",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBDriver != "sqlite" || cfg.DBDSN != "data/pollcast.db" {
		t.Fatalf("expected default sqlite database, got %q %q", cfg.DBDriver, cfg.DBDSN)
	}
	if cfg.ListenAddr != "127.0.0.1:8080" {
		t.Fatalf("expected default listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.PollModel != "openrouter/qwen/qwen3-8b" {
		t.Fatalf("expected default poll_model, got %q", cfg.PollModel)
	}
	if cfg.GeneratorMode != GeneratorDirect || cfg.UsesServerGenerator() {
		t.Fatalf("expected direct generator by default, got %q", cfg.GeneratorMode)
	}
	if cfg.MinExcerptChars != 50 {
		t.Fatalf("expected default min_excerpt_chars 50, got %d", cfg.MinExcerptChars)
	}
	if cfg.ManualTrigger != "independent" || cfg.AnswerPolicy != "all" {
		t.Fatalf("unexpected policies %q %q", cfg.ManualTrigger, cfg.AnswerPolicy)
	}
	if cfg.AccessCodeRetries != 5 {
		t.Fatalf("expected default access_code_retries 5, got %d", cfg.AccessCodeRetries)
	}
	if cfg.ExportDir != "data/exports" {
		t.Fatalf("expected default export_dir, got %q", cfg.ExportDir)
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
db_driver: postgres
db_dsn: postgres://localhost/pollcast
listen_addr: :9000
server_url: http://poll.example.com
poll_model: anthropic/claude-3-5-haiku-latest
generator_mode: server
min_excerpt_chars: 80
manual_trigger: reset
answer_policy: last
access_code_retries: 2
export_dir: /srv/exports
gdrive_folder_id: my-folder
google_credentials_file: /path/to/creds.json
mic_sample_rate: 48000
mic_sample_rates: [44100, 32000]
`)

	cfg, warnings, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBDriver != "postgres" || cfg.DBDSN != "postgres://localhost/pollcast" {
		t.Fatalf("expected yaml database, got %q %q", cfg.DBDriver, cfg.DBDSN)
	}
	if cfg.ListenAddr != ":9000" || cfg.ServerURL != "http://poll.example.com" {
		t.Fatalf("unexpected addresses %q %q", cfg.ListenAddr, cfg.ServerURL)
	}
	if !cfg.UsesServerGenerator() {
		t.Fatalf("expected server generator, got %q", cfg.GeneratorMode)
	}
	if cfg.MinExcerptChars != 80 || cfg.ManualTrigger != "reset" || cfg.AnswerPolicy != "last" {
		t.Fatalf("unexpected controller settings %+v", cfg)
	}
	if cfg.AccessCodeRetries != 2 || cfg.ExportDir != "/srv/exports" {
		t.Fatalf("unexpected session settings %+v", cfg)
	}
	if cfg.GDriveFolderID != "my-folder" || cfg.GoogleCredentialsFile != "/path/to/creds.json" {
		t.Fatalf("unexpected drive settings %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.MicSampleRates, []int{44100, 32000}) {
		t.Fatalf("expected yaml mic_sample_rates, got %v", cfg.MicSampleRates)
	}
	for _, w := range warnings {
		if !strings.Contains(w, "Deepgram") {
			t.Fatalf("unexpected warning %q", w)
		}
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
db_dsn: /from/yaml
poll_model: openai/gpt-yaml
`)

	clearEnv(t)
	t.Setenv(EnvPrefix+"DB_DSN", "/from/env")
	t.Setenv(EnvPrefix+"POLL_MODEL", "openai/gpt-env")
	t.Setenv(EnvPrefix+"MIN_EXCERPT_CHARS", "120")
	t.Setenv(EnvPrefix+"ACCESS_CODE_RETRIES", "not-a-number")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBDSN != "/from/env" {
		t.Fatalf("expected env override for db_dsn, got %q", cfg.DBDSN)
	}
	if cfg.PollModel != "openai/gpt-env" {
		t.Fatalf("expected env override for poll_model, got %q", cfg.PollModel)
	}
	if cfg.MinExcerptChars != 120 {
		t.Fatalf("expected env override for min_excerpt_chars, got %d", cfg.MinExcerptChars)
	}
	if cfg.AccessCodeRetries != 5 {
		t.Fatalf("expected invalid env value to be ignored, got %d", cfg.AccessCodeRetries)
	}
}

func TestSecretsFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "dg-secret")
	t.Setenv(EnvPrefix+"POLL_API_KEY", "sk-or-secret")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "dg-secret" {
		t.Fatalf("expected deepgram key from env, got %q", cfg.DeepgramAPIKey)
	}
	if cfg.PollAPIKey != "sk-or-secret" {
		t.Fatalf("expected poll key from env, got %q", cfg.PollAPIKey)
	}
}

func TestSecretsIgnoredInYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
deepgram_api_key: should-be-ignored
poll_api_key: also-ignored
`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DeepgramAPIKey != "" || cfg.PollAPIKey != "" {
		t.Fatalf("expected secrets in yaml to be ignored, got %q %q", cfg.DeepgramAPIKey, cfg.PollAPIKey)
	}
}

func TestValidationWarnings(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"GENERATOR_MODE", "server")
	t.Setenv(EnvPrefix+"ANSWER_POLICY", "median")
	t.Setenv(EnvPrefix+"DB_DRIVER", "mysql")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	joined := strings.Join(warnings, "\n")
	for _, want := range []string{"Deepgram", "server_url", "answer_policy", "db_driver"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected warning mentioning %s, got: %v", want, warnings)
		}
	}
	if cfg.GeneratorMode != GeneratorDirect {
		t.Fatalf("expected fallback to direct generation, got %q", cfg.GeneratorMode)
	}
	if cfg.AnswerPolicy != "all" || cfg.DBDriver != "sqlite" {
		t.Fatalf("expected fallbacks, got %q %q", cfg.AnswerPolicy, cfg.DBDriver)
	}
}

func TestValidationNoWarningsWhenConfigured(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "key")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings when fully configured, got: %v", warnings)
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load should not fail for missing config file, got: %v", err)
	}

	if cfg.DBDSN != "data/pollcast.db" {
		t.Fatalf("expected defaults when config file missing, got db_dsn=%q", cfg.DBDSN)
	}
}

func TestInvalidConfigFileReturnsError(t *testing.T) {
	path := writeConfig(t, ":::invalid yaml")
	clearEnv(t)

	_, _, err := Load(path)
	if err == nil {
		t.Fatal("expected error for invalid yaml, got nil")
	}
}

func TestSampleRateCandidatesDefault(t *testing.T) {
	cfg := defaults()
	got := cfg.SampleRateCandidates()
	want := []int{16000, 48000, 44100, 32000, 24000}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected default sample rates: got=%v want=%v", got, want)
	}
}

func TestSampleRateCandidatesEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"MIC_SAMPLE_RATE", "48000")
	t.Setenv(EnvPrefix+"MIC_SAMPLE_RATES", "44100,16000,48000,abc,32000")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	got := cfg.SampleRateCandidates()
	want := []int{48000, 44100, 16000, 32000, 24000}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected env sample rates: got=%v want=%v", got, want)
	}
}

func TestParseSampleRates(t *testing.T) {
	got := parseSampleRates(" 16000,  ,invalid,0,-1,44100,16000 ")
	want := []int{16000, 44100}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected parsed sample rates: got=%v want=%v", got, want)
	}
}
