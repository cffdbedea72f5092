package service

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/config"
)

// ConfigOverrides carries command-line settings that win over the file.
// Nil and zero fields leave the file value in place.
type ConfigOverrides struct {
	TimeoutSeconds   *int
	Workers          *int
	DisableCache     bool
	DisableFixes     bool
	CacheDirectory   string
	StorePath        string
	LogLevel         string
	ExcludePatterns  []string
	IncludeSnippets  *bool
	MaxSuggestions   *int
	QueryMaxResults  *int
	QueryTimeoutSecs *int
	ServerAddress    string
}

// ConfigurationLoaderImpl loads and overrides configuration
type ConfigurationLoaderImpl struct{}

// NewConfigurationLoader creates a new configuration loader service
func NewConfigurationLoader() *ConfigurationLoaderImpl {
	return &ConfigurationLoaderImpl{}
}

// LoadConfig loads configuration from path, or discovers one from target
// when path is empty. Any failure is a ConfigError.
func (c *ConfigurationLoaderImpl) LoadConfig(path, target string) (*config.Config, error) {
	cfg, err := config.LoadConfigWithTarget(path, target)
	if err != nil {
		return nil, domain.NewConfigError("failed to load configuration", err)
	}
	return cfg, nil
}

// LoadDefaultConfig returns the discovered configuration, falling back to
// the embedded defaults when discovery fails
func (c *ConfigurationLoaderImpl) LoadDefaultConfig() *config.Config {
	cfg, err := config.LoadConfigWithTarget("", "")
	if err == nil {
		return cfg
	}
	return config.DefaultConfig()
}

// FindDefaultConfigFile searches dir and its parents for a configuration file
func (c *ConfigurationLoaderImpl) FindDefaultConfigFile(dir string) string {
	configFiles := []string{
		"sentinel.yaml",
		"sentinel.yml",
		".sentinel.yaml",
		".sentinel.yml",
		".sentinel.toml",
		"sentinel.json",
		".sentinel.json",
	}

	currentDir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		for _, file := range configFiles {
			configPath := filepath.Join(currentDir, file)
			if info, err := os.Stat(configPath); err == nil && !info.IsDir() {
				return configPath
			}
		}
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			break
		}
		currentDir = parentDir
	}
	return ""
}

// ApplyOverrides returns a validated copy of base with overrides applied.
// base is not modified, so a registry snapshot built from it stays intact.
func (c *ConfigurationLoaderImpl) ApplyOverrides(base *config.Config, o ConfigOverrides) (*config.Config, error) {
	merged, err := base.Clone()
	if err != nil {
		return nil, domain.NewConfigError("failed to copy configuration", err)
	}

	if o.TimeoutSeconds != nil {
		merged.Analysis.Timeout = *o.TimeoutSeconds
	}
	if o.Workers != nil {
		merged.Analysis.Workers = *o.Workers
	}
	if o.DisableCache {
		merged.Analysis.CacheEnabled = false
		merged.Cache.Enabled = false
	}
	if o.DisableFixes {
		merged.Analysis.GenerateFixes = false
	}
	if o.CacheDirectory != "" {
		merged.Cache.Directory = o.CacheDirectory
	}
	if o.StorePath != "" {
		merged.Store.Path = o.StorePath
	}
	if o.LogLevel != "" {
		merged.Logging.Level = strings.ToLower(o.LogLevel)
	}
	if len(o.ExcludePatterns) > 0 {
		merged.Analysis.ExcludePatterns = append(merged.Analysis.ExcludePatterns, o.ExcludePatterns...)
	}
	if o.IncludeSnippets != nil {
		merged.Reporting.IncludeSnippets = *o.IncludeSnippets
	}
	if o.MaxSuggestions != nil {
		merged.Reporting.MaxSuggestions = *o.MaxSuggestions
	}
	if o.QueryMaxResults != nil {
		merged.Query.MaxResults = *o.QueryMaxResults
	}
	if o.QueryTimeoutSecs != nil {
		merged.Query.TimeoutSeconds = *o.QueryTimeoutSecs
	}
	if o.ServerAddress != "" {
		merged.Server.Address = o.ServerAddress
	}

	if err := merged.Validate(); err != nil {
		return nil, domain.NewConfigError("invalid configuration override", err)
	}
	return merged, nil
}
