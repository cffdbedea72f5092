package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// Defaults for keys a user file may leave out
const (
	DefaultAnalysisTimeoutSeconds = 30
	DefaultMaxSuggestions         = 3
	DefaultCacheDirectory         = ".sentinel/cache"
	DefaultCacheMaxSizeMB         = 500
	DefaultCacheTTLHours          = 24
	DefaultASTCacheSizeMB         = 100
	DefaultASTTimeoutMs           = 5000
	DefaultMaxFileSize            = 10 << 20
	DefaultStorePath              = ".sentinel/findings.db"
	DefaultQueryMaxResults        = 100
	MaxQueryResults               = 10000
	DefaultQueryTimeoutSeconds    = 30
	DefaultServerAddress          = ":8080"
	DefaultLowThreshold           = 9
	DefaultMediumThreshold        = 19

	// EnvPrefix prefixes environment overrides: SENTINEL_ANALYSIS_TIMEOUT=10
	EnvPrefix = "SENTINEL"
)

// Parser backends accepted by languages.<lang>.ast_analysis.parser
const (
	ParserTreeSitter = "tree-sitter"
	ParserOutline    = "outline"
	ParserNone       = "none"
)

// Config represents the main configuration structure
type Config struct {
	// Analysis holds general analysis configuration
	Analysis AnalysisConfig `json:"analysis" mapstructure:"analysis" yaml:"analysis"`

	// Checks holds check definitions per language
	Checks map[string]LanguageChecks `json:"checks" mapstructure:"checks" yaml:"checks"`

	// Languages holds per-language file mapping and parser settings
	Languages map[string]LanguageConfig `json:"languages" mapstructure:"languages" yaml:"languages"`

	Reporting ReportingConfig `json:"reporting" mapstructure:"reporting" yaml:"reporting"`
	Cache     CacheConfig     `json:"cache" mapstructure:"cache" yaml:"cache"`
	Store     StoreConfig     `json:"store" mapstructure:"store" yaml:"store"`
	Query     QueryConfig     `json:"query" mapstructure:"query" yaml:"query"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics" yaml:"metrics"`
	Security  SecurityConfig  `json:"security" mapstructure:"security" yaml:"security"`
	Server    ServerConfig    `json:"server" mapstructure:"server" yaml:"server"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging" yaml:"logging"`
}

// AnalysisConfig holds general analysis configuration
type AnalysisConfig struct {
	// Timeout bounds the whole per-file pass, in seconds
	Timeout int `json:"timeout" mapstructure:"timeout" yaml:"timeout"`

	CacheEnabled  bool `json:"cache_enabled" mapstructure:"cache_enabled" yaml:"cache_enabled"`
	GenerateFixes bool `json:"generate_fixes" mapstructure:"generate_fixes" yaml:"generate_fixes"`

	// Workers is the number of files analyzed in parallel (0 = NumCPU)
	Workers int `json:"workers" mapstructure:"workers" yaml:"workers"`

	// ExcludePatterns specifies gitignore-style patterns to skip
	ExcludePatterns []string `json:"exclude_patterns" mapstructure:"exclude_patterns" yaml:"exclude_patterns"`

	RespectGitignore bool `json:"respect_gitignore" mapstructure:"respect_gitignore" yaml:"respect_gitignore"`
}

// LanguageChecks wraps the checks of one language
type LanguageChecks struct {
	Checks map[string]CheckConfig `json:"checks" mapstructure:"checks" yaml:"checks"`
}

// CheckConfig is the raw, unvalidated definition of one check
type CheckConfig struct {
	Enabled  *bool  `json:"enabled,omitempty" mapstructure:"enabled" yaml:"enabled,omitempty"`
	Severity string `json:"severity,omitempty" mapstructure:"severity" yaml:"severity,omitempty"`
	Category string `json:"category,omitempty" mapstructure:"category" yaml:"category,omitempty"`
	Kind     string `json:"kind,omitempty" mapstructure:"kind" yaml:"kind,omitempty"`
	Message  string `json:"message,omitempty" mapstructure:"message" yaml:"message,omitempty"`

	Pattern     string   `json:"pattern,omitempty" mapstructure:"pattern" yaml:"pattern,omitempty"`
	Patterns    []string `json:"patterns,omitempty" mapstructure:"patterns" yaml:"patterns,omitempty"`
	Declaration string   `json:"declaration,omitempty" mapstructure:"declaration" yaml:"declaration,omitempty"`
	// Target selects the declarations a naming check inspects: struct or function
	Target    string   `json:"target,omitempty" mapstructure:"target" yaml:"target,omitempty"`
	Functions []string `json:"functions,omitempty" mapstructure:"functions" yaml:"functions,omitempty"`

	RequiredPatterns   []string `json:"required_patterns,omitempty" mapstructure:"required_patterns" yaml:"required_patterns,omitempty"`
	AnnotationMatch    string   `json:"annotation_match,omitempty" mapstructure:"annotation_match" yaml:"annotation_match,omitempty"`
	EnforceAnnotations *bool    `json:"enforce_annotations,omitempty" mapstructure:"enforce_annotations" yaml:"enforce_annotations,omitempty"`

	TrackResources []string                  `json:"track_resources,omitempty" mapstructure:"track_resources" yaml:"track_resources,omitempty"`
	Resources      map[string]ResourceTokens `json:"resources,omitempty" mapstructure:"resources" yaml:"resources,omitempty"`

	// MaxComplexity is the cyclomatic complexity a function may reach (complexity checks)
	MaxComplexity int `json:"max_complexity,omitempty" mapstructure:"max_complexity" yaml:"max_complexity,omitempty"`
}

// IsEnabled reports whether the check is enabled (default true)
func (c CheckConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ShouldEnforceAnnotations reports whether ownership annotations are enforced (default true)
func (c CheckConfig) ShouldEnforceAnnotations() bool {
	return c.EnforceAnnotations == nil || *c.EnforceAnnotations
}

// ResourceTokens lists the call names that acquire and release one resource category
type ResourceTokens struct {
	Acquire []string `json:"acquire" mapstructure:"acquire" yaml:"acquire"`
	Release []string `json:"release" mapstructure:"release" yaml:"release"`
}

// LanguageConfig holds the settings of one language
type LanguageConfig struct {
	FileExtensions    []string          `json:"file_extensions" mapstructure:"file_extensions" yaml:"file_extensions"`
	MaxLineLength     int               `json:"max_line_length" mapstructure:"max_line_length" yaml:"max_line_length"`
	NamingConventions map[string]string `json:"naming_conventions,omitempty" mapstructure:"naming_conventions" yaml:"naming_conventions,omitempty"`
	ASTAnalysis       ASTAnalysisConfig `json:"ast_analysis" mapstructure:"ast_analysis" yaml:"ast_analysis"`
}

// ASTAnalysisConfig selects and bounds the parser of one language
type ASTAnalysisConfig struct {
	Parser            string `json:"parser" mapstructure:"parser" yaml:"parser"`
	CacheASTs         *bool  `json:"cache_asts,omitempty" mapstructure:"cache_asts" yaml:"cache_asts,omitempty"`
	MaxASTCacheSizeMB int    `json:"max_ast_cache_size_mb" mapstructure:"max_ast_cache_size_mb" yaml:"max_ast_cache_size_mb"`
	AnalysisTimeoutMs int    `json:"analysis_timeout_ms" mapstructure:"analysis_timeout_ms" yaml:"analysis_timeout_ms"`
}

// ShouldCacheASTs reports whether parsed trees are cached (default true)
func (a ASTAnalysisConfig) ShouldCacheASTs() bool {
	return a.CacheASTs == nil || *a.CacheASTs
}

// ReportingConfig holds configuration for output formatting
type ReportingConfig struct {
	Formats         []string `json:"formats" mapstructure:"formats" yaml:"formats"`
	IncludeSnippets bool     `json:"include_snippets" mapstructure:"include_snippets" yaml:"include_snippets"`
	MaxSuggestions  int      `json:"max_suggestions" mapstructure:"max_suggestions" yaml:"max_suggestions"`
}

// CacheConfig holds the result cache settings
type CacheConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled" yaml:"enabled"`
	Directory string `json:"directory" mapstructure:"directory" yaml:"directory"`
	MaxSizeMB int    `json:"max_size_mb" mapstructure:"max_size_mb" yaml:"max_size_mb"`
	TTLHours  int    `json:"ttl_hours" mapstructure:"ttl_hours" yaml:"ttl_hours"`
}

// StoreConfig locates the findings database
type StoreConfig struct {
	Path string `json:"path" mapstructure:"path" yaml:"path"`
}

// QueryConfig bounds queries over persisted findings
type QueryConfig struct {
	MaxResults     int `json:"max_results" mapstructure:"max_results" yaml:"max_results"`
	TimeoutSeconds int `json:"timeout_seconds" mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// MetricsConfig holds the complexity thresholds of the metrics report.
// Functions above LowThreshold are medium risk, above MediumThreshold high.
type MetricsConfig struct {
	LowThreshold    int `json:"low_threshold" mapstructure:"low_threshold" yaml:"low_threshold"`
	MediumThreshold int `json:"medium_threshold" mapstructure:"medium_threshold" yaml:"medium_threshold"`
}

// SecurityConfig is the initial security policy
type SecurityConfig struct {
	AllowedPaths     []string `json:"allowed_paths" mapstructure:"allowed_paths" yaml:"allowed_paths"`
	BlockedFunctions []string `json:"blocked_functions" mapstructure:"blocked_functions" yaml:"blocked_functions"`
	MaxFileSize      int64    `json:"max_file_size" mapstructure:"max_file_size" yaml:"max_file_size"`
}

// ServerConfig holds the HTTP API settings
type ServerConfig struct {
	Address             string `json:"address" mapstructure:"address" yaml:"address"`
	ReadTimeoutSeconds  int    `json:"read_timeout_seconds" mapstructure:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds" mapstructure:"write_timeout_seconds" yaml:"write_timeout_seconds"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level       string `json:"level" mapstructure:"level" yaml:"level"`
	Development bool   `json:"development" mapstructure:"development" yaml:"development"`
}

// DefaultConfig returns the embedded default configuration. The embedded
// document is validated by tests, so a failure here is a build defect.
func DefaultConfig() *Config {
	cfg, err := LoadDefaultConfig()
	if err != nil {
		panic(fmt.Sprintf("embedded default configuration is invalid: %v", err))
	}
	return cfg
}

// LoadConfig loads configuration from file or returns default config
func LoadConfig(configPath string) (*Config, error) {
	return LoadConfigWithTarget(configPath, "")
}

// LoadConfigWithTarget loads configuration with target path context
func LoadConfigWithTarget(configPath string, targetPath string) (*Config, error) {
	// If no config path specified, discover one
	if configPath == "" {
		configPath = findDefaultConfig(targetPath)
	}
	return loadConfigFromFile(configPath)
}

// newViper returns a viper instance seeded with the embedded defaults and
// environment overrides
func newViper() (*viper.Viper, error) {
	// Create a new viper instance to avoid race conditions
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultConfigYAML)); err != nil {
		return nil, fmt.Errorf("failed to read default config: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

// loadConfigFromFile merges a configuration file over the defaults
func loadConfigFromFile(configPath string) (*Config, error) {
	v, err := newViper()
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if ext := strings.TrimPrefix(filepath.Ext(configPath), "."); ext != "" {
			v.SetConfigType(strings.ToLower(ext))
		}
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// applyDefaults fills zero values a partial language entry leaves behind
func (c *Config) applyDefaults() {
	if c.Checks == nil {
		c.Checks = make(map[string]LanguageChecks)
	}
	if c.Languages == nil {
		c.Languages = make(map[string]LanguageConfig)
	}
	for name, lang := range c.Languages {
		if lang.ASTAnalysis.Parser == "" {
			lang.ASTAnalysis.Parser = ParserNone
		}
		if lang.ASTAnalysis.MaxASTCacheSizeMB == 0 {
			lang.ASTAnalysis.MaxASTCacheSizeMB = DefaultASTCacheSizeMB
		}
		if lang.ASTAnalysis.AnalysisTimeoutMs == 0 {
			lang.ASTAnalysis.AnalysisTimeoutMs = DefaultASTTimeoutMs
		}
		for i, ext := range lang.FileExtensions {
			ext = strings.ToLower(ext)
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			lang.FileExtensions[i] = ext
		}
		c.Languages[name] = lang
	}
	if len(c.Reporting.Formats) == 0 {
		c.Reporting.Formats = []string{"text"}
	}
	if c.Cache.Directory == "" {
		c.Cache.Directory = DefaultCacheDirectory
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Server.Address == "" {
		c.Server.Address = DefaultServerAddress
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// searchConfigInDirectory searches for configuration files in a specific directory
func searchConfigInDirectory(dir string, candidates []string) string {
	for _, candidate := range candidates {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// findDefaultConfig looks for default configuration files in common locations
// targetPath is the path being analyzed (file or directory)
func findDefaultConfig(targetPath string) string {
	candidates := []string{
		"sentinel.yaml",
		"sentinel.yml",
		".sentinel.yaml",
		".sentinel.yml",
		".sentinel.toml",
		"sentinel.json",
		".sentinel.json",
	}

	// If targetPath is provided, search from there upward
	if targetPath != "" {
		absPath, err := filepath.Abs(targetPath)
		if err == nil {
			// If it's a file, start from its directory
			info, err := os.Stat(absPath)
			if err == nil && !info.IsDir() {
				absPath = filepath.Dir(absPath)
			}

			volume := filepath.VolumeName(absPath)
			for dir := absPath; ; dir = filepath.Dir(dir) {
				if config := searchConfigInDirectory(dir, candidates); config != "" {
					return config
				}

				parent := filepath.Dir(dir)
				if parent == dir || // Unix-style root reached (/), Windows UNC root (\\server)
					dir == volume || // Windows volume root reached (C:\)
					(volume != "" && dir == volume+string(filepath.Separator)) {
					break
				}
			}
		}
	}

	// Fallback to current directory
	if config := searchConfigInDirectory(".", candidates); config != "" {
		return config
	}

	// Check XDG config directory (Linux/Mac standard)
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		if config := searchConfigInDirectory(filepath.Join(xdgConfig, "sentinel"), candidates); config != "" {
			return config
		}
	}

	// Check ~/.config/sentinel/ (XDG default)
	if home, err := os.UserHomeDir(); err == nil {
		configDir := filepath.Join(home, ".config", "sentinel")
		if config := searchConfigInDirectory(configDir, candidates); config != "" {
			return config
		}
	}

	// Check SENTINEL_CONFIG environment variable as fallback
	if envConfig := os.Getenv("SENTINEL_CONFIG"); envConfig != "" {
		if _, err := os.Stat(envConfig); err == nil {
			return envConfig
		}
	}

	return ""
}

// Validate validates the structural configuration values. Check
// definitions are validated by the rule registry, which names the check.
func (c *Config) Validate() error {
	if c.Analysis.Timeout < 0 {
		return fmt.Errorf("analysis.timeout must be >= 0, got %d", c.Analysis.Timeout)
	}
	if c.Analysis.Workers < 0 {
		return fmt.Errorf("analysis.workers must be >= 0, got %d", c.Analysis.Workers)
	}

	validFormats := map[string]bool{
		"text": true,
		"json": true,
		"yaml": true,
		"html": true,
	}
	for _, f := range c.Reporting.Formats {
		if !validFormats[strings.ToLower(f)] {
			return fmt.Errorf("invalid reporting.formats entry '%s', must be one of: text, json, yaml, html", f)
		}
	}
	if c.Reporting.MaxSuggestions < 0 {
		return fmt.Errorf("reporting.max_suggestions must be >= 0, got %d", c.Reporting.MaxSuggestions)
	}

	if c.Cache.MaxSizeMB < 0 {
		return fmt.Errorf("cache.max_size_mb must be >= 0, got %d", c.Cache.MaxSizeMB)
	}
	if c.Cache.TTLHours < 0 {
		return fmt.Errorf("cache.ttl_hours must be >= 0, got %d", c.Cache.TTLHours)
	}

	if c.Query.MaxResults < 0 || c.Query.MaxResults > MaxQueryResults {
		return fmt.Errorf("query.max_results must be between 0 and %d, got %d", MaxQueryResults, c.Query.MaxResults)
	}
	if c.Query.TimeoutSeconds < 0 {
		return fmt.Errorf("query.timeout_seconds must be >= 0, got %d", c.Query.TimeoutSeconds)
	}

	if c.Metrics.LowThreshold < 1 {
		return fmt.Errorf("metrics.low_threshold must be >= 1, got %d", c.Metrics.LowThreshold)
	}
	if c.Metrics.MediumThreshold <= c.Metrics.LowThreshold {
		return fmt.Errorf("metrics.medium_threshold (%d) must be greater than metrics.low_threshold (%d)",
			c.Metrics.MediumThreshold, c.Metrics.LowThreshold)
	}

	if c.Security.MaxFileSize < 0 {
		return fmt.Errorf("security.max_file_size must be >= 0, got %d", c.Security.MaxFileSize)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging.level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return c.validateLanguages()
}

// validateLanguages validates parser selection and extension ownership
func (c *Config) validateLanguages() error {
	validParsers := map[string]bool{
		ParserTreeSitter: true,
		ParserOutline:    true,
		ParserNone:       true,
	}

	owners := make(map[string]string)
	for _, name := range c.LanguageNames() {
		lang := c.Languages[name]
		if !validParsers[lang.ASTAnalysis.Parser] {
			return fmt.Errorf("invalid languages.%s.ast_analysis.parser '%s', must be one of: tree-sitter, outline, none",
				name, lang.ASTAnalysis.Parser)
		}
		if lang.ASTAnalysis.AnalysisTimeoutMs < 0 {
			return fmt.Errorf("languages.%s.ast_analysis.analysis_timeout_ms must be >= 0, got %d",
				name, lang.ASTAnalysis.AnalysisTimeoutMs)
		}
		if lang.MaxLineLength < 0 {
			return fmt.Errorf("languages.%s.max_line_length must be >= 0, got %d", name, lang.MaxLineLength)
		}
		for _, ext := range lang.FileExtensions {
			if other, ok := owners[ext]; ok {
				return fmt.Errorf("file extension '%s' is claimed by both %s and %s", ext, other, name)
			}
			owners[ext] = name
		}
	}
	return nil
}

// LanguageNames returns the configured languages in sorted order
func (c *Config) LanguageNames() []string {
	names := make([]string, 0, len(c.Languages))
	for name := range c.Languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LanguageForPath maps a file path to its configured language by extension
func (c *Config) LanguageForPath(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return "", false
	}
	for _, name := range c.LanguageNames() {
		for _, e := range c.Languages[name].FileExtensions {
			if e == ext {
				return name, true
			}
		}
	}
	return "", false
}

// Snapshot serializes the configuration and returns it with its sha256.
// Map keys are emitted sorted, so equal configurations hash equally.
func (c *Config) Snapshot() (json.RawMessage, string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, "", fmt.Errorf("failed to serialize config: %w", err)
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

// Clone returns a deep copy through the JSON snapshot
func (c *Config) Clone() (*Config, error) {
	data, _, err := c.Snapshot()
	if err != nil {
		return nil, err
	}
	out := &Config{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("failed to copy config: %w", err)
	}
	return out, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, path string) error {
	// Create a new viper instance to avoid race conditions
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set all config values in viper
	v.Set("analysis", config.Analysis)
	v.Set("checks", config.Checks)
	v.Set("languages", config.Languages)
	v.Set("reporting", config.Reporting)
	v.Set("cache", config.Cache)
	v.Set("store", config.Store)
	v.Set("query", config.Query)
	v.Set("metrics", config.Metrics)
	v.Set("security", config.Security)
	v.Set("server", config.Server)
	v.Set("logging", config.Logging)

	return v.WriteConfig()
}
