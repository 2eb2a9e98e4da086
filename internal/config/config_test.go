package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr == "" {
		t.Error("expected default server addr")
	}
	if cfg.Database.Path == "" {
		t.Error("expected default database path")
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BEACON_TEST_DB", filepath.Join(dir, "traces.db"))
	path := filepath.Join(dir, "beacon.yaml")
	content := "database:\n  path: ${BEACON_TEST_DB}\nkeys_path: \"\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Database.Path, filepath.Join(dir, "traces.db"); got != want {
		t.Errorf("database path = %q, want %q", got, want)
	}
}

func TestEnvOverridesKeysFile(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "keys.yaml")
	if err := os.WriteFile(keysPath, []byte("openai: file-key\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfgPath := filepath.Join(dir, "beacon.yaml")
	if err := os.WriteFile(cfgPath, []byte("keys_path: "+keysPath+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.OpenAI != "env-key" {
		t.Errorf("OpenAI key = %q, want env override", cfg.Providers.OpenAI)
	}
}

func TestSaveKeysPermissions(t *testing.T) {
	cfg := Default()
	cfg.KeysPath = filepath.Join(t.TempDir(), "keys.yaml")
	cfg.Providers.Anthropic = "sk-ant-test"
	if err := cfg.SaveKeys(); err != nil {
		t.Fatalf("SaveKeys: %v", err)
	}
	info, err := os.Stat(cfg.KeysPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("keys file mode = %v, want 0600", perm)
	}
}
