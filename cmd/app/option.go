package app

import (
	"strings"

	"github.com/spf13/pflag"

	"notary-chat/internal/config"
)

// Option holds the flags shared by every subcommand. Non-empty flags win over
// the config file and the environment.
type Option struct {
	ConfigPath string `json:"config_path" yaml:"configPath"`
	BaseURL    string `json:"base_url" yaml:"baseURL"`
	LogLevel   string `json:"log_level" yaml:"logLevel"`
	Profile    string `json:"profile" yaml:"profile"`
	Backend    string `json:"backend" yaml:"backend"`
}

func (opt *Option) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&opt.ConfigPath, "config", "c", "", "config file path")
	fs.StringVar(&opt.BaseURL, "api", "", "backend base url, overrides api.baseURL")
	fs.StringVar(&opt.LogLevel, "log-level", "", "one of debug, info, warn, error")
	fs.StringVarP(&opt.Profile, "profile", "p", "", "session profile name")
	fs.StringVar(&opt.Backend, "session-backend", "", "one of bolt, dynamodb, memory")
}

// GenerateConfig loads the configuration and applies the flag overrides.
func (opt *Option) GenerateConfig() (*config.Config, error) {
	cfg, err := config.Load(opt.ConfigPath)
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(opt.BaseURL); v != "" {
		cfg.API.BaseURL = v
	}
	if v := strings.TrimSpace(opt.LogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(opt.Profile); v != "" {
		cfg.Session.Profile = v
	}
	if v := strings.TrimSpace(opt.Backend); v != "" {
		cfg.Session.Backend = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
