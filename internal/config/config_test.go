package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name  string
		check func(*Config) bool
	}{
		{"default host", func(c *Config) bool { return c.Host == "0.0.0.0" }},
		{"default port", func(c *Config) bool { return c.Port == 8080 }},
		{"default vllm url", func(c *Config) bool { return c.VLLMURL == "http://localhost:8000" }},
		{"default vllm timeout", func(c *Config) bool { return c.VLLMTimeoutS == 120 }},
		{"default max concurrency", func(c *Config) bool { return c.VLLMMaxConcurrency == 8 }},
		{"default queue size", func(c *Config) bool { return c.QueueMaxSize == 2048 }},
		{"default request timeout", func(c *Config) bool { return c.RequestTimeoutS == 300 }},
		{"default rps", func(c *Config) bool { return c.RateLimitRPSDefault == 10 }},
		{"default burst", func(c *Config) bool { return c.RateLimitBurstDefault == 20 }},
		{"default log level", func(c *Config) bool { return c.LogLevel == "info" }},
		{"default log format", func(c *Config) bool { return c.LogFormat == "json" }},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("unexpected default for %s", tt.name)
			}
		})
	}
}

func TestListenAddr(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1", Port: 9090}
	if got := cfg.ListenAddr(); got != "127.0.0.1:9090" {
		t.Errorf("ListenAddr() = %q, want %q", got, "127.0.0.1:9090")
	}
}
