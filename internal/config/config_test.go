package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{
			name:   "default mode is server",
			check:  func(c *Config) bool { return c.Mode == "server" },
			expect: "server",
		},
		{
			name:   "default environment is lab",
			check:  func(c *Config) bool { return c.Environment == "lab" },
			expect: "lab",
		},
		{
			name:   "default host is 0.0.0.0",
			check:  func(c *Config) bool { return c.Host == "0.0.0.0" },
			expect: "0.0.0.0",
		},
		{
			name:   "default port is 8080",
			check:  func(c *Config) bool { return c.Port == 8080 },
			expect: "8080",
		},
		{
			name:   "default transport is stdio",
			check:  func(c *Config) bool { return c.Transport == "stdio" },
			expect: "stdio",
		},
		{
			name:   "default log level is info",
			check:  func(c *Config) bool { return c.LogLevel == "info" },
			expect: "info",
		},
		{
			name:   "default health interval is 60s",
			check:  func(c *Config) bool { return c.HealthIntervalSeconds == 60 },
			expect: "60",
		},
		{
			name:   "default job worker pool size is 4",
			check:  func(c *Config) bool { return c.JobWorkerPoolSize == 4 },
			expect: "4",
		},
		{
			name:   "listen addr format",
			check:  func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" },
			expect: "0.0.0.0:8080",
		},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}
