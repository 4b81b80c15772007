package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{
		"SERVER_HOST", "SERVER_PORT", "DB_HOST", "DB_PORT", "DB_NAME",
		"STORAGE_DRIVER", "SQLITE_PATH", "LOG_LEVEL", "ANALYSIS_PARALLEL",
	} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %v, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "postgres" {
		t.Errorf("Storage.Driver = %v, want postgres", cfg.Storage.Driver)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %v, want info", cfg.Logging.Level)
	}
	if cfg.Database.ConnMaxLifetime != 30*time.Minute {
		t.Errorf("ConnMaxLifetime = %v, want 30m", cfg.Database.ConnMaxLifetime)
	}
	if cfg.Analysis.Parallel {
		t.Error("Analysis.Parallel should default to false")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORAGE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/rivers.db")
	t.Setenv("ANALYSIS_PARALLEL", "true")
	t.Setenv("ANALYSIS_MAX_CONCURRENT", "8")
	t.Setenv("DB_CONN_MAX_LIFETIME", "10m")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %v, want 9090", cfg.Server.Port)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.SQLitePath != "/tmp/rivers.db" {
		t.Errorf("Storage = %+v, want sqlite at /tmp/rivers.db", cfg.Storage)
	}
	if !cfg.Analysis.Parallel || cfg.Analysis.MaxConcurrent != 8 {
		t.Errorf("Analysis = %+v, want parallel with 8 workers", cfg.Analysis)
	}
	if cfg.Database.ConnMaxLifetime != 10*time.Minute {
		t.Errorf("ConnMaxLifetime = %v, want 10m", cfg.Database.ConnMaxLifetime)
	}
}

func TestLoadConfig_ParseErrors(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	if _, err := LoadConfig(); err == nil {
		t.Error("LoadConfig() with bad SERVER_PORT should fail")
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("LoadConfig() error = %v", err)
		}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Storage.Driver = "dynamo" },
			wantErr: true,
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Storage.Driver = "sqlite"; c.Storage.SQLitePath = "" },
			wantErr: true,
		},
		{
			name:    "postgres without database name",
			mutate:  func(c *Config) { c.Database.Database = "" },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Analysis.MaxConcurrent = 0 },
			wantErr: true,
		},
		{
			name:   "memory driver needs nothing else",
			mutate: func(c *Config) { c.Storage.Driver = "memory"; c.Database = DatabaseConfig{} },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
