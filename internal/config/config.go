package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration wraps time.Duration so values like "30m" parse from YAML
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// AWSConfig contains AWS-specific settings
type AWSConfig struct {
	Enabled bool     `yaml:"enabled"`
	Regions []string `yaml:"regions"`
}

// GCPConfig contains GCP-specific settings
type GCPConfig struct {
	Enabled   bool     `yaml:"enabled"`
	ProjectID string   `yaml:"project_id"`
	Zones     []string `yaml:"zones"`
}

// DigitalOceanConfig contains DigitalOcean-specific settings
type DigitalOceanConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config contains application configuration
type Config struct {
	// Directory holding per-provider credential files (aws.json, gcp.json,
	// digitalocean.json)
	CredentialsDir string `yaml:"credentials_dir"`

	// Price cache settings
	CacheDir      string   `yaml:"cache_dir"`
	CacheMaxAge   Duration `yaml:"cache_max_age"`
	FetchTimeout  Duration `yaml:"fetch_timeout"`
	MaxConcurrent int      `yaml:"max_concurrent_fetches"`

	// Provider settings
	AWS          AWSConfig          `yaml:"aws"`
	GCP          GCPConfig          `yaml:"gcp"`
	DigitalOcean DigitalOceanConfig `yaml:"digitalocean"`

	// Default VM parameters for provisioning
	DefaultImage    string `yaml:"default_image"`
	DefaultUsername string `yaml:"default_username"`
	DefaultDiskSize int64  `yaml:"default_disk_size"` // in GB

	// Directory holding the SSH key pair injected into instances
	KeyDir string `yaml:"key_dir"`
}

// Load loads configuration from YAML file
func Load() (*Config, error) {
	config := &Config{
		CredentialsDir: "credentials",
		CacheDir:       "cache",
		CacheMaxAge:    Duration(time.Hour),
		FetchTimeout:   Duration(2 * time.Minute),
		MaxConcurrent:  4,
		AWS: AWSConfig{
			Enabled: true,
			Regions: []string{"us-east-1", "us-west-2", "eu-west-1"},
		},
		GCP: GCPConfig{
			Enabled: true,
			Zones:   []string{"us-central1-a", "us-east1-b", "europe-west1-b"},
		},
		DigitalOcean: DigitalOceanConfig{
			Enabled: false,
		},
		DefaultUsername: "vmbroker",
		DefaultDiskSize: 20, // 20GB
		KeyDir:          "keys",
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "vmbroker.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	// Expand environment variables in string fields
	config.CredentialsDir = os.ExpandEnv(config.CredentialsDir)
	config.CacheDir = os.ExpandEnv(config.CacheDir)
	config.GCP.ProjectID = os.ExpandEnv(config.GCP.ProjectID)
	config.DefaultImage = os.ExpandEnv(config.DefaultImage)
	config.DefaultUsername = os.ExpandEnv(config.DefaultUsername)
	config.KeyDir = os.ExpandEnv(config.KeyDir)

	// Override with environment variables if set
	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}

	if config.CacheMaxAge <= 0 {
		config.CacheMaxAge = Duration(time.Hour)
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 4
	}

	return config, nil
}
