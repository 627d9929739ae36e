package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeploymentProfile is a named YAML override set for one deployment
// environment (dev, staging, prod). Empty fields leave the corresponding
// Config value untouched.
type DeploymentProfile struct {
	Name           string  `yaml:"name"`
	Port           string  `yaml:"port,omitempty"`
	LogLevel       string  `yaml:"log_level,omitempty"`
	StoreBackend   string  `yaml:"store_backend,omitempty"`
	SQLitePath     string  `yaml:"sqlite_path,omitempty"`
	DatabaseURL    string  `yaml:"database_url,omitempty"`
	RedisAddr      string  `yaml:"redis_addr,omitempty"`
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`
	RateLimitBurst int     `yaml:"rate_limit_burst,omitempty"`
	HideForbidden  bool    `yaml:"hide_forbidden,omitempty"`
	MetricsEnabled bool    `yaml:"metrics_enabled,omitempty"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint,omitempty"`
	AuditLogPath   string  `yaml:"audit_log_path,omitempty"`
}

// LoadProfile loads a deployment profile YAML by name. It searches the
// profiles directory for profile_<name>.yaml.
func LoadProfile(profilesDir, name string) (*DeploymentProfile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile DeploymentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}

	if profile.Name == "" {
		profile.Name = name
	}
	return &profile, nil
}

// Apply overlays the profile onto cfg. Boolean profile fields only switch
// features on; switching off is done via environment.
func (p *DeploymentProfile) Apply(cfg *Config) {
	if p.Port != "" {
		cfg.Port = p.Port
	}
	if p.LogLevel != "" {
		cfg.LogLevel = p.LogLevel
	}
	if p.StoreBackend != "" {
		cfg.StoreBackend = p.StoreBackend
	}
	if p.SQLitePath != "" {
		cfg.SQLitePath = p.SQLitePath
	}
	if p.DatabaseURL != "" {
		cfg.DatabaseURL = p.DatabaseURL
	}
	if p.RedisAddr != "" {
		cfg.RedisAddr = p.RedisAddr
	}
	if p.RateLimitRPS > 0 {
		cfg.RateLimitRPS = p.RateLimitRPS
	}
	if p.RateLimitBurst > 0 {
		cfg.RateLimitBurst = p.RateLimitBurst
	}
	if p.HideForbidden {
		cfg.HideForbidden = true
	}
	if p.MetricsEnabled {
		cfg.MetricsEnabled = true
	}
	if p.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = p.OTLPEndpoint
	}
	if p.AuditLogPath != "" {
		cfg.AuditLogPath = p.AuditLogPath
	}
}
