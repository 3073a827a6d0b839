package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"notary-chat/internal/config"
)

func TestBindFlags(t *testing.T) {
	opt := &Option{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	opt.BindFlags(fs)

	require.NoError(t, fs.Parse([]string{"-c", "/tmp/x.yaml", "--api", "http://h:1", "-p", "work", "--log-level", "debug", "--session-backend", "memory"}))
	require.Equal(t, &Option{
		ConfigPath: "/tmp/x.yaml",
		BaseURL:    "http://h:1",
		LogLevel:   "debug",
		Profile:    "work",
		Backend:    "memory",
	}, opt)
}

func TestGenerateConfig_FlagsWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notary.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  baseURL: http://file:5000\nsession:\n  profile: file\n"), 0o600))

	opt := &Option{ConfigPath: path, BaseURL: "http://flag:5000", Backend: config.BackendMemory}
	cfg, err := opt.GenerateConfig()
	require.NoError(t, err)
	require.Equal(t, "http://flag:5000", cfg.API.BaseURL)
	require.Equal(t, "file", cfg.Session.Profile)
	require.Equal(t, config.BackendMemory, cfg.Session.Backend)
}

func TestGenerateConfig_InvalidOverride(t *testing.T) {
	opt := &Option{LogLevel: "verbose"}
	_, err := opt.GenerateConfig()
	require.Error(t, err)
}
