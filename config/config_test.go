package config

import (
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty model dir", func(c *Config) { c.ModelDir = "" }},
		{"empty train dir", func(c *Config) { c.TrainDir = "" }},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }},
		{"patch not multiple of 8", func(c *Config) { c.PatchSize = 60 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"zero queue depth", func(c *Config) { c.QueueDepth = 0 }},
		{"negative lr", func(c *Config) { c.LR = -1 }},
		{"gamma above one", func(c *Config) { c.Gamma = 1.5 }},
		{"zero milestone", func(c *Config) { c.Milestones = []int{0} }},
		{"zero save steps", func(c *Config) { c.SaveSteps = 0 }},
		{"negative epoch length", func(c *Config) { c.OneEpoch = -1 }},
		{"zero total steps", func(c *Config) { c.TotalSteps = 0 }},
		{"zero channels", func(c *Config) { c.Channels = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			if err := c.Validate(); err == nil {
				t.Errorf("expected error, got nil")
			}
		})
	}
}
