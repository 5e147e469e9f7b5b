package config

import (
	"testing"
	"time"
)

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid random key", "fw_9a81bc02d4e6f135", false},
		{"too short", "short-key", true},
		{"placeholder", "your-api-key", true},
		{"repetitive", "aaaaaaaabbbbbbbb", true},
		{"long placeholder", "xxxxxxxxxxxxxxxx", true},
		{"valid long key", "Qk7mPv2XrT9sLw4ZnB6c", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateAPIKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateAPIKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestFirecrawlConfig_IsConfigured(t *testing.T) {
	tests := []struct {
		name   string
		config FirecrawlConfig
		want   bool
	}{
		{"configured", FirecrawlConfig{URL: "http://localhost:3002"}, true},
		{"empty", FirecrawlConfig{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAlertsConfig_IsConfigured(t *testing.T) {
	tests := []struct {
		name   string
		config AlertsConfig
		want   bool
	}{
		{
			name:   "enabled with webhook",
			config: AlertsConfig{Enabled: true, WebhookURL: "https://hooks.example.com/x"},
			want:   true,
		},
		{
			name:   "enabled without webhook",
			config: AlertsConfig{Enabled: true},
			want:   false,
		},
		{
			name:   "disabled with webhook",
			config: AlertsConfig{Enabled: false, WebhookURL: "https://hooks.example.com/x"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.IsConfigured(); got != tt.want {
				t.Errorf("IsConfigured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func validConfig() *Config {
	return &Config{
		APIKey: "fw_9a81bc02d4e6f135",
		Scrape: ScrapeConfig{
			DelayMin: 2 * time.Second,
			DelayMax: 5 * time.Second,
		},
		LLMQueue: LLMQueueConfig{
			Concurrency:    4,
			MinConcurrency: 1,
			MaxConcurrency: 16,
		},
		Cleaner: CleanerConfig{
			BoilerplateThresholdPct: 0.7,
			MinPages:                5,
			MinBlockChars:           50,
		},
		Alerts: AlertsConfig{WebhookFormat: "json"},
	}
}

func TestConfigValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"delay min above max", func(c *Config) {
			c.Scrape.DelayMin = 10 * time.Second
			c.Scrape.DelayMax = time.Second
		}},
		{"initial concurrency above max", func(c *Config) {
			c.LLMQueue.Concurrency = 32
		}},
		{"min concurrency zero", func(c *Config) {
			c.LLMQueue.MinConcurrency = 0
		}},
		{"threshold pct above 1", func(c *Config) {
			c.Cleaner.BoilerplateThresholdPct = 1.5
		}},
		{"bad webhook format", func(c *Config) {
			c.Alerts.WebhookFormat = "xml"
		}},
		{"short api key", func(c *Config) {
			c.APIKey = "short"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
