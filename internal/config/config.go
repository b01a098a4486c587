package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from YAML with the
// recognition credential overridable through the DEEPGRAM_API_KEY
// environment variable. The credential never travels in URLs or message
// bodies; it is handed to the transport's sub-protocol handshake only.
type Config struct {
	Recognition struct {
		Endpoint string `yaml:"endpoint"`
		Model    string `yaml:"model"`
		Diarize  *bool  `yaml:"diarize"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"recognition"`
	Capture struct {
		ListenAddr       string `yaml:"listen_addr"`
		SampleRate       int    `yaml:"sample_rate"`
		SliceIntervalMs  int    `yaml:"slice_interval_ms"`
		EchoCancellation *bool  `yaml:"echo_cancellation"`
		NoiseSuppression *bool  `yaml:"noise_suppression"`
		AutoGainControl  *bool  `yaml:"auto_gain_control"`
	} `yaml:"capture"`
	Output struct {
		Dir         string `yaml:"dir"`
		SessionLogs bool   `yaml:"session_logs"`
	} `yaml:"output"`
	Notes struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"notes"`
	Redis struct {
		Addr   string `yaml:"addr"`
		Prefix string `yaml:"prefix"`
	} `yaml:"redis"`
	Sentry struct {
		DSN string `yaml:"dsn"`
	} `yaml:"sentry"`
}

// Load reads the YAML file at path and applies defaults and environment
// overrides. A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	cfg.applyDefaults()

	if key := os.Getenv("DEEPGRAM_API_KEY"); key != "" {
		cfg.Recognition.APIKey = key
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Recognition.Model == "" {
		c.Recognition.Model = "nova-3"
	}
	if c.Recognition.Diarize == nil {
		c.Recognition.Diarize = boolPtr(true)
	}
	if c.Capture.ListenAddr == "" {
		c.Capture.ListenAddr = "127.0.0.1:8090"
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = 16000
	}
	if c.Capture.SliceIntervalMs == 0 {
		c.Capture.SliceIntervalMs = 250
	}
	if c.Capture.EchoCancellation == nil {
		c.Capture.EchoCancellation = boolPtr(true)
	}
	if c.Capture.NoiseSuppression == nil {
		c.Capture.NoiseSuppression = boolPtr(true)
	}
	if c.Capture.AutoGainControl == nil {
		c.Capture.AutoGainControl = boolPtr(true)
	}
	if c.Output.Dir == "" {
		c.Output.Dir = "./recordings"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "dictate:"
	}
}

// SliceInterval returns the capture slice cadence as a duration.
func (c *Config) SliceInterval() time.Duration {
	return time.Duration(c.Capture.SliceIntervalMs) * time.Millisecond
}

func boolPtr(b bool) *bool { return &b }
