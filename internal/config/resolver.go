package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue carries a setting together with where it came from, so
// `eventsieve config` can show users why a value is what it is.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

type ResolveOptions struct {
	ConfigPath string
	CLILLM     string
	CLIDBPath  string
	CLIListen  string
}

type ResolvedConfig struct {
	ConfigPath string `json:"config_path"`

	DBPath      ResolvedValue `json:"db_path"`
	LLMProvider ResolvedValue `json:"llm_provider"`
	LLMModel    ResolvedValue `json:"llm_model"`

	OAuthClientID     ResolvedValue `json:"oauth_client_id"`
	OAuthClientSecret ResolvedValue `json:"oauth_client_secret"`
	TokenURL          ResolvedValue `json:"token_url"`
	CalendarBaseURL   ResolvedValue `json:"calendar_base_url"`
	TimeZone          ResolvedValue `json:"time_zone"`

	ListenAddr ResolvedValue `json:"listen_addr"`
	Workers    ResolvedValue `json:"workers"`

	LLMKeys map[string]ResolvedValue `json:"llm_keys,omitempty"`
}

type fileConfig struct {
	DBPath string `yaml:"db_path"`
	Listen string `yaml:"listen"`
	LLM    struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"llm"`
	Calendar struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		TokenURL     string `yaml:"token_url"`
		BaseURL      string `yaml:"base_url"`
		TimeZone     string `yaml:"time_zone"`
	} `yaml:"calendar"`
	Pipeline struct {
		Workers string `yaml:"workers"`
	} `yaml:"pipeline"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".eventsieve", "config.yaml")
}

// ResolveConfig layers settings file < env < CLI flags, recording the
// winning source for each value. A missing config file is not an error.
func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		LLMKeys:    map[string]ResolvedValue{},
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}

	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.ListenAddr, cfg.Listen, SourceConfig, path)
		apply(&out.LLMProvider, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.LLMModel, cfg.LLM.Model, SourceConfig, path)
		apply(&out.OAuthClientID, cfg.Calendar.ClientID, SourceConfig, path)
		apply(&out.OAuthClientSecret, cfg.Calendar.ClientSecret, SourceConfig, path)
		apply(&out.TokenURL, cfg.Calendar.TokenURL, SourceConfig, path)
		apply(&out.CalendarBaseURL, cfg.Calendar.BaseURL, SourceConfig, path)
		apply(&out.TimeZone, cfg.Calendar.TimeZone, SourceConfig, path)
		apply(&out.Workers, cfg.Pipeline.Workers, SourceConfig, path)

		if key := strings.TrimSpace(cfg.LLM.APIKey); key != "" {
			p := strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
			if p == "" {
				p = "default"
			}
			out.LLMKeys[p] = ResolvedValue{Value: key, Source: SourceConfig, From: path}
		}
	}

	applyEnv(&out.DBPath, "EVENTSIEVE_DB")
	applyEnv(&out.DBPath, "EVENTSIEVE_DB_PATH")
	applyEnv(&out.ListenAddr, "EVENTSIEVE_LISTEN")
	applyEnv(&out.LLMProvider, "EVENTSIEVE_LLM")
	applyEnv(&out.LLMModel, "EVENTSIEVE_LLM_MODEL")
	applyEnv(&out.OAuthClientID, "EVENTSIEVE_OAUTH_CLIENT_ID")
	applyEnv(&out.OAuthClientSecret, "EVENTSIEVE_OAUTH_CLIENT_SECRET")
	applyEnv(&out.TokenURL, "EVENTSIEVE_TOKEN_URL")
	applyEnv(&out.CalendarBaseURL, "EVENTSIEVE_CALENDAR_URL")
	applyEnv(&out.TimeZone, "EVENTSIEVE_TIMEZONE")
	applyEnv(&out.Workers, "EVENTSIEVE_WORKERS")

	for env, provider := range map[string]string{
		"OPENROUTER_API_KEY": "openrouter",
		"GEMINI_API_KEY":     "google",
		"GOOGLE_API_KEY":     "google",
	} {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			out.LLMKeys[provider] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
		}
	}

	apply(&out.LLMProvider, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.ListenAddr, opts.CLIListen, SourceCLI, "--listen")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}

	return out, nil
}

// APIKeyForProvider returns the configured key for provider, falling back
// to a "default" key when no provider-specific one exists.
func (r ResolvedConfig) APIKeyForProvider(provider string) ResolvedValue {
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "" {
		return ResolvedValue{}
	}
	if v, ok := r.LLMKeys[p]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	if v, ok := r.LLMKeys["default"]; ok && strings.TrimSpace(v.Value) != "" {
		return v
	}
	return ResolvedValue{}
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
