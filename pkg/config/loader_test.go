package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kadirpekel/hector/pkg/config"
	"github.com/kadirpekel/hector/pkg/config/provider"
)

const validYAML = `
providers:
  main:
    type: anthropic
    auth:
      kind: apiKey
      apiKey: ${TEST_LOADER_API_KEY:-sk-default}
agents:
  assistant:
    id: assistant
    provider: main
    model: claude-opus
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	cfg, loader, err := config.LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	defer loader.Close()

	if cfg.Providers["main"].BaseURL != "https://api.anthropic.com" {
		t.Errorf("provider baseUrl = %q, want anthropic default", cfg.Providers["main"].BaseURL)
	}
	if cfg.Providers["main"].Auth.APIKey != "sk-default" {
		t.Errorf("apiKey = %q, want expanded default sk-default", cfg.Providers["main"].Auth.APIKey)
	}
	if cfg.Agents["assistant"].Temperature != 0.7 {
		t.Errorf("temperature = %v, want default 0.7", cfg.Agents["assistant"].Temperature)
	}
}

func TestLoadConfigFileExpandsEnvVar(t *testing.T) {
	os.Setenv("TEST_LOADER_API_KEY", "sk-from-env")
	defer os.Unsetenv("TEST_LOADER_API_KEY")

	path := writeTempConfig(t, validYAML)
	cfg, loader, err := config.LoadConfigFile(context.Background(), path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	defer loader.Close()

	if cfg.Providers["main"].Auth.APIKey != "sk-from-env" {
		t.Errorf("apiKey = %q, want sk-from-env", cfg.Providers["main"].Auth.APIKey)
	}
}

func TestLoadConfigFileValidationFailure(t *testing.T) {
	path := writeTempConfig(t, `
agents:
  assistant:
    id: assistant
    provider: missing
    model: claude-opus
`)

	_, _, err := config.LoadConfigFile(context.Background(), path)
	if err == nil {
		t.Fatal("expected validation error for agent referencing undefined provider")
	}
}

func TestLoaderWatchFiresOnChange(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	p, err := provider.NewFileProvider(path)
	if err != nil {
		t.Fatalf("NewFileProvider: %v", err)
	}

	changed := make(chan *config.Config, 1)
	loader := config.NewLoader(p, config.WithOnChange(func(c *config.Config) {
		changed <- c
	}))
	defer loader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go loader.Watch(ctx)

	// Give the watcher time to establish before writing.
	time.Sleep(50 * time.Millisecond)

	updated := validYAML + "\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.Logging.Level != "debug" {
			t.Errorf("reloaded logging level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("onChange was never invoked after config file write")
	}
}
