package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setEnv clears every variable Load reads and applies the given overrides.
func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, key := range []string{
		"APP_ENV", "SERVER_HOST", "PORT", "CORS_ALLOWED_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
		"DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_MAX_CONN_IDLE",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "CACHE_TTL",
		"SUPABASE_JWT_SECRET", "SUPABASE_URL", "SUPABASE_SERVICE_KEY", "STORAGE_BUCKET",
		"ASSEMBLYAI_API_KEY", "ASSEMBLYAI_BASE_URL", "ASSEMBLYAI_HTTP_TIMEOUT", "POLL_INTERVAL", "POLL_MAX_ATTEMPTS",
		"UPLOAD_DIR", "MAX_UPLOAD_MB",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func writeDotEnv(t *testing.T, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(".", ".env"), []byte(body), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
}

func required() map[string]string {
	return map[string]string{
		"ASSEMBLYAI_API_KEY": "key",
		"DATABASE_URL":       "postgres://localhost:5432/audioscribe",
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, required())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if cfg.Addr() != "0.0.0.0:5000" {
		t.Errorf("expected 0.0.0.0:5000, got %s", cfg.Addr())
	}
	if cfg.AssemblyAI.PollInterval != 5*time.Second || cfg.AssemblyAI.MaxPollAttempts != 20 {
		t.Errorf("unexpected poll settings: %+v", cfg.AssemblyAI)
	}
	if cfg.Database.MaxConnIdleTime != 5*time.Minute {
		t.Errorf("expected 5m idle connection lifetime, got %s", cfg.Database.MaxConnIdleTime)
	}
	if cfg.AssemblyAI.HTTPTimeout != 10*time.Minute {
		t.Errorf("expected 10m provider http timeout, got %s", cfg.AssemblyAI.HTTPTimeout)
	}
	if cfg.PollCeiling() != 100*time.Second {
		t.Errorf("expected 100s poll ceiling, got %s", cfg.PollCeiling())
	}
	if cfg.Upload.Dir != "uploads" || cfg.Upload.MaxBytes != 100<<20 {
		t.Errorf("unexpected upload settings: %+v", cfg.Upload)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("unexpected origins: %v", cfg.Server.AllowedOrigins)
	}
	if cfg.ArchiveEnabled() {
		t.Error("archive should be disabled without supabase credentials")
	}
}

func TestLoad_Overrides(t *testing.T) {
	vars := required()
	vars["PORT"] = "8080"
	vars["POLL_INTERVAL"] = "250ms"
	vars["POLL_MAX_ATTEMPTS"] = "3"
	vars["ASSEMBLYAI_HTTP_TIMEOUT"] = "30m"
	vars["CORS_ALLOWED_ORIGINS"] = "https://a.example, https://b.example,"
	vars["SUPABASE_URL"] = "https://proj.supabase.co"
	vars["SUPABASE_SERVICE_KEY"] = "service"
	setEnv(t, vars)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.AssemblyAI.HTTPTimeout != 30*time.Minute {
		t.Errorf("expected 30m provider http timeout, got %s", cfg.AssemblyAI.HTTPTimeout)
	}
	if cfg.PollCeiling() != 750*time.Millisecond {
		t.Errorf("expected 750ms ceiling, got %s", cfg.PollCeiling())
	}
	if got := strings.Join(cfg.Server.AllowedOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Errorf("unexpected origins: %s", got)
	}
	if !cfg.ArchiveEnabled() {
		t.Error("archive should be enabled")
	}
}

func TestLoad_MalformedNumber(t *testing.T) {
	vars := required()
	vars["POLL_INTERVAL"] = "five seconds"
	setEnv(t, vars)

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "POLL_INTERVAL") {
		t.Fatalf("expected POLL_INTERVAL error, got %v", err)
	}
}

func TestValidate_NamesMissingVariables(t *testing.T) {
	setEnv(t, nil)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, name := range []string{"ASSEMBLYAI_API_KEY", "DATABASE_URL"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("expected %s in %q", name, err)
		}
	}
}

func TestValidate_RejectsZeroPollAttempts(t *testing.T) {
	vars := required()
	vars["POLL_MAX_ATTEMPTS"] = "0"
	setEnv(t, vars)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	err = cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "POLL_MAX_ATTEMPTS") {
		t.Fatalf("expected POLL_MAX_ATTEMPTS error, got %v", err)
	}
}

func TestLoad_ReadsDotEnvOutsideProduction(t *testing.T) {
	setEnv(t, nil)
	writeDotEnv(t, "ASSEMBLYAI_API_KEY=from-file\nDATABASE_URL=postgres://file\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AssemblyAI.APIKey != "from-file" {
		t.Errorf("expected key from .env, got %q", cfg.AssemblyAI.APIKey)
	}
}

func TestLoad_IgnoresDotEnvInProduction(t *testing.T) {
	setEnv(t, map[string]string{"APP_ENV": "production"})
	writeDotEnv(t, "ASSEMBLYAI_API_KEY=from-file\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AssemblyAI.APIKey != "" {
		t.Errorf("production must not read .env, got %q", cfg.AssemblyAI.APIKey)
	}
}
