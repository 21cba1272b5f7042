package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " :6000 "
environment: dev
bootstrap: " market.toml "
storage:
  path: data/state
auth:
  hmacSecret: "`+secret+`"
indexer:
  driver: SQLite
  dsn: "file:events.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.ListenAddress != ":6000" || cfg.Bootstrap != "market.toml" {
		t.Fatalf("unexpected trimmed values: %q %q", cfg.ListenAddress, cfg.Bootstrap)
	}
	if cfg.Storage.Backend != "leveldb" {
		t.Fatalf("expected leveldb default, got %q", cfg.Storage.Backend)
	}
	if cfg.Scanner.Interval != 15*time.Second || cfg.Scanner.LeaderboardSize != 20 {
		t.Fatalf("unexpected scanner defaults %+v", cfg.Scanner)
	}
	if cfg.Auth.ClockSkew != 2*time.Minute {
		t.Fatalf("unexpected clock skew %s", cfg.Auth.ClockSkew)
	}
	if cfg.Indexer.Driver != "sqlite" {
		t.Fatalf("driver not normalised: %q", cfg.Indexer.Driver)
	}
	if cfg.Telemetry.ServiceName != "lendingd" || cfg.Telemetry.Environment != "dev" {
		t.Fatalf("telemetry identity not derived: %+v", cfg.Telemetry)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string]string{
		"storage path": `
bootstrap: market.toml
storage: {backend: bolt}
auth: {hmacSecret: "` + secret + `"}
`,
		"unknown backend": `
bootstrap: market.toml
storage: {backend: redis, path: x}
auth: {hmacSecret: "` + secret + `"}
`,
		"short secret": `
bootstrap: market.toml
storage: {backend: memory}
auth: {hmacSecret: short}
`,
		"missing bootstrap": `
storage: {backend: memory}
auth: {hmacSecret: "` + secret + `"}
`,
		"indexer dsn": `
bootstrap: market.toml
storage: {backend: memory}
auth: {hmacSecret: "` + secret + `"}
indexer: {driver: postgres}
`,
		"unknown field": `
bootstrap: market.toml
storage: {backend: memory}
auth: {hmacSecret: "` + secret + `"}
listenAddr: ":1"
`,
	}
	for name, body := range cases {
		t.Run(strings.ReplaceAll(name, " ", "_"), func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected %s to fail validation", name)
			}
		})
	}
}

func TestLoadConfigRequiresPath(t *testing.T) {
	if _, err := Load(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestLoadExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "config.example.yaml"))
	if err != nil {
		t.Fatalf("load example: %v", err)
	}
	if cfg.Storage.Backend != "leveldb" || cfg.Indexer.Driver != "sqlite" || cfg.Scanner.Interval != 15*time.Second {
		t.Fatalf("unexpected example config %+v", cfg)
	}
	if cfg.Oracle.MaxAge != time.Minute || cfg.Log.File.MaxSizeMB != 100 {
		t.Fatalf("unexpected oracle or log settings %+v %+v", cfg.Oracle, cfg.Log)
	}
}
