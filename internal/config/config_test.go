package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("DefaultConfig should not return nil")
	}

	// Verify analysis defaults
	if config.Analysis.Timeout != DefaultAnalysisTimeoutSeconds {
		t.Errorf("Expected Timeout %d, got %d", DefaultAnalysisTimeoutSeconds, config.Analysis.Timeout)
	}
	if !config.Analysis.CacheEnabled {
		t.Error("CacheEnabled should be true by default")
	}
	if !config.Analysis.GenerateFixes {
		t.Error("GenerateFixes should be true by default")
	}

	// Verify reporting defaults
	if len(config.Reporting.Formats) != 1 || config.Reporting.Formats[0] != "text" {
		t.Errorf("Expected formats [text], got %v", config.Reporting.Formats)
	}
	if config.Reporting.MaxSuggestions != DefaultMaxSuggestions {
		t.Errorf("Expected MaxSuggestions %d, got %d", DefaultMaxSuggestions, config.Reporting.MaxSuggestions)
	}

	// Verify cache defaults
	if config.Cache.Directory != DefaultCacheDirectory {
		t.Errorf("Expected cache directory %s, got %s", DefaultCacheDirectory, config.Cache.Directory)
	}
	if config.Cache.MaxSizeMB != DefaultCacheMaxSizeMB {
		t.Errorf("Expected MaxSizeMB %d, got %d", DefaultCacheMaxSizeMB, config.Cache.MaxSizeMB)
	}
	if config.Cache.TTLHours != DefaultCacheTTLHours {
		t.Errorf("Expected TTLHours %d, got %d", DefaultCacheTTLHours, config.Cache.TTLHours)
	}

	if config.Query.MaxResults != DefaultQueryMaxResults {
		t.Errorf("Expected MaxResults %d, got %d", DefaultQueryMaxResults, config.Query.MaxResults)
	}
	if config.Security.MaxFileSize != DefaultMaxFileSize {
		t.Errorf("Expected MaxFileSize %d, got %d", DefaultMaxFileSize, config.Security.MaxFileSize)
	}
}

func TestDefaultConfig_Languages(t *testing.T) {
	config := DefaultConfig()

	tests := []struct {
		language string
		parser   string
	}{
		{"mojo", ParserOutline},
		{"python", ParserTreeSitter},
		{"go", ParserTreeSitter},
		{"c", ParserTreeSitter},
		{"javascript", ParserTreeSitter},
		{"rust", ParserTreeSitter},
	}

	for _, tc := range tests {
		lang, ok := config.Languages[tc.language]
		if !ok {
			t.Errorf("Language %s should be configured", tc.language)
			continue
		}
		if lang.ASTAnalysis.Parser != tc.parser {
			t.Errorf("%s: expected parser %s, got %s", tc.language, tc.parser, lang.ASTAnalysis.Parser)
		}
		if lang.ASTAnalysis.AnalysisTimeoutMs != DefaultASTTimeoutMs {
			t.Errorf("%s: expected timeout %d, got %d", tc.language, DefaultASTTimeoutMs, lang.ASTAnalysis.AnalysisTimeoutMs)
		}
		if !lang.ASTAnalysis.ShouldCacheASTs() {
			t.Errorf("%s: ASTs should be cached by default", tc.language)
		}
		if _, ok := config.Checks[tc.language]; !ok {
			t.Errorf("%s: expected default checks", tc.language)
		}
	}
}

func TestDefaultConfig_Checks(t *testing.T) {
	config := DefaultConfig()

	mojo := config.Checks["mojo"].Checks
	ownership, ok := mojo["ownership"]
	if !ok {
		t.Fatal("mojo should define an ownership check")
	}
	if strings.Join(ownership.RequiredPatterns, ",") != "owned,borrowed,inout" {
		t.Errorf("Unexpected required patterns %v", ownership.RequiredPatterns)
	}
	if !ownership.ShouldEnforceAnnotations() {
		t.Error("Ownership annotations should be enforced by default")
	}

	naming := config.Checks["python"].Checks["struct_naming"]
	if naming.Severity != "medium" {
		t.Errorf("Expected struct_naming severity medium, got %s", naming.Severity)
	}
	if !naming.IsEnabled() {
		t.Error("Checks without an enabled key should be enabled")
	}

	unsafe := config.Checks["python"].Checks["unsafe_functions"]
	if unsafe.Severity != "high" {
		t.Errorf("Expected unsafe_functions severity high, got %s", unsafe.Severity)
	}

	complexity := config.Checks["go"].Checks["complexity"]
	if complexity.Kind != "complexity" || complexity.MaxComplexity != 10 {
		t.Errorf("Expected a complexity check limited to 10, got %+v", complexity)
	}
	if config.Metrics.LowThreshold != 9 || config.Metrics.MediumThreshold != 19 {
		t.Errorf("Unexpected metrics thresholds %+v", config.Metrics)
	}
}

func TestConfig_Validate_Valid(t *testing.T) {
	config := DefaultConfig()

	err := config.Validate()
	if err != nil {
		t.Errorf("Default config should be valid, got error: %v", err)
	}
}

func TestConfig_Validate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"negative timeout", func(c *Config) { c.Analysis.Timeout = -1 }, "analysis.timeout"},
		{"negative workers", func(c *Config) { c.Analysis.Workers = -2 }, "analysis.workers"},
		{"unknown format", func(c *Config) { c.Reporting.Formats = []string{"csv"} }, "reporting.formats"},
		{"negative cache size", func(c *Config) { c.Cache.MaxSizeMB = -1 }, "cache.max_size_mb"},
		{"query cap", func(c *Config) { c.Query.MaxResults = MaxQueryResults + 1 }, "query.max_results"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"zero low threshold", func(c *Config) { c.Metrics.LowThreshold = 0 }, "metrics.low_threshold"},
		{"inverted thresholds", func(c *Config) { c.Metrics.MediumThreshold = c.Metrics.LowThreshold }, "metrics.medium_threshold"},
		{"bad parser", func(c *Config) {
			lang := c.Languages["python"]
			lang.ASTAnalysis.Parser = "antlr"
			c.Languages["python"] = lang
		}, "languages.python.ast_analysis.parser"},
		{"shared extension", func(c *Config) {
			lang := c.Languages["c"]
			lang.FileExtensions = append(lang.FileExtensions, ".py")
			c.Languages["c"] = lang
		}, "'.py'"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config := DefaultConfig()
			tc.mutate(config)

			err := config.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error mentioning %q, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestConfig_ValidOutputFormats(t *testing.T) {
	config := DefaultConfig()
	validFormats := []string{"text", "json", "yaml", "html"}

	for _, format := range validFormats {
		config.Reporting.Formats = []string{format}
		err := config.Validate()
		if err != nil {
			t.Errorf("Format '%s' should be valid, got error: %v", format, err)
		}
	}
}

func TestLoadConfig_Default(t *testing.T) {
	// Load with empty path should return default
	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig with empty path failed: %v", err)
	}
	if config == nil {
		t.Fatal("Config should not be nil")
	}
	if len(config.Languages) == 0 {
		t.Error("Loaded config should carry the default languages")
	}
}

func TestLoadConfig_NonExistent(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Expected error for non-existent config file")
	}
}

func TestLoadConfig_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, "sentinel.yaml", `
analysis:
  timeout: 5
  unknown_key: ignored
checks:
  python:
    checks:
      type_hints:
        enabled: false
      unsafe_functions:
        severity: medium
reporting:
  formats: [json]
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Analysis.Timeout != 5 {
		t.Errorf("Expected timeout 5, got %d", config.Analysis.Timeout)
	}
	if !config.Analysis.CacheEnabled {
		t.Error("Omitted keys should keep their defaults")
	}
	python := config.Checks["python"].Checks
	if python["type_hints"].IsEnabled() {
		t.Error("type_hints should be disabled by the user file")
	}
	if python["unsafe_functions"].Severity != "medium" {
		t.Errorf("Expected overridden severity medium, got %s", python["unsafe_functions"].Severity)
	}
	if len(python["unsafe_functions"].Functions) == 0 {
		t.Error("Deny-list should survive a partial override")
	}
	if _, ok := python["struct_naming"]; !ok {
		t.Error("Checks not named in the user file should remain")
	}
	if config.Reporting.Formats[0] != "json" {
		t.Errorf("Expected format json, got %v", config.Reporting.Formats)
	}
}

func TestLoadConfig_JSONAndTOML(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"sentinel.json", `{"analysis": {"timeout": 9}}`},
		{".sentinel.toml", "[analysis]\ntimeout = 9\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			config, err := LoadConfig(writeConfig(t, tc.name, tc.content))
			if err != nil {
				t.Fatalf("LoadConfig failed: %v", err)
			}
			if config.Analysis.Timeout != 9 {
				t.Errorf("Expected timeout 9, got %d", config.Analysis.Timeout)
			}
		})
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("SENTINEL_ANALYSIS_TIMEOUT", "7")

	config, err := LoadConfig(writeConfig(t, "sentinel.yaml", "analysis:\n  timeout: 5\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if config.Analysis.Timeout != 7 {
		t.Errorf("Expected env override 7, got %d", config.Analysis.Timeout)
	}
}

func TestLoadConfig_InvalidValue(t *testing.T) {
	path := writeConfig(t, "sentinel.yaml", "reporting:\n  formats: [pdf]\n")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("Expected error for invalid format")
	}
	if !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestSearchConfigInDirectory(t *testing.T) {
	tempDir := t.TempDir()

	// Create a config file
	configPath := filepath.Join(tempDir, "sentinel.yaml")
	err := os.WriteFile(configPath, []byte("analysis:\n  timeout: 5"), 0644)
	if err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	// Search for config
	candidates := []string{"sentinel.yaml", "sentinel.yml"}
	result := searchConfigInDirectory(tempDir, candidates)

	if result != configPath {
		t.Errorf("Expected %s, got %s", configPath, result)
	}

	// Search in empty directory
	result = searchConfigInDirectory(t.TempDir(), candidates)
	if result != "" {
		t.Error("Expected empty string for directory without config")
	}
}

func TestFindDefaultConfig_SearchesUpward(t *testing.T) {
	root := t.TempDir()
	configPath := filepath.Join(root, ".sentinel.yaml")
	if err := os.WriteFile(configPath, []byte("analysis:\n  timeout: 3\n"), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	nested := filepath.Join(root, "src", "pkg")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("Failed to create dirs: %v", err)
	}
	file := filepath.Join(nested, "main.py")
	if err := os.WriteFile(file, []byte("x = 1\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if got := findDefaultConfig(file); got != configPath {
		t.Errorf("Expected %s, got %s", configPath, got)
	}

	config, err := LoadConfigWithTarget("", nested)
	if err != nil {
		t.Fatalf("LoadConfigWithTarget failed: %v", err)
	}
	if config.Analysis.Timeout != 3 {
		t.Errorf("Expected discovered timeout 3, got %d", config.Analysis.Timeout)
	}
}

func TestLanguageForPath(t *testing.T) {
	config := DefaultConfig()

	tests := []struct {
		path   string
		want   string
		wantOK bool
	}{
		{"a/b/main.py", "python", true},
		{"lib.MOJO", "mojo", true},
		{"fire.🔥", "mojo", true},
		{"x.go", "go", true},
		{"header.h", "c", true},
		{"app.tsx", "", false},
		{"Makefile", "", false},
	}

	for _, tc := range tests {
		got, ok := config.LanguageForPath(tc.path)
		if got != tc.want || ok != tc.wantOK {
			t.Errorf("LanguageForPath(%s) = (%s, %v), want (%s, %v)", tc.path, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestSnapshot_Deterministic(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()

	_, hashA, err := a.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	_, hashB, _ := b.Snapshot()
	if hashA != hashB {
		t.Error("Equal configurations should hash equally")
	}

	b.Analysis.Timeout++
	_, hashC, _ := b.Snapshot()
	if hashA == hashC {
		t.Error("Different configurations should hash differently")
	}
}

func TestClone_IsIndependent(t *testing.T) {
	original := DefaultConfig()
	clone, err := original.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}

	checks := clone.Checks["python"].Checks
	c := checks["type_hints"]
	disabled := false
	c.Enabled = &disabled
	checks["type_hints"] = c

	if !original.Checks["python"].Checks["type_hints"].IsEnabled() {
		t.Error("Mutating the clone should not affect the original")
	}
}

func TestGetFullConfigTemplate(t *testing.T) {
	for _, strictness := range []Strictness{StrictnessRelaxed, StrictnessStandard, StrictnessStrict} {
		t.Run(string(strictness), func(t *testing.T) {
			content := GetFullConfigTemplate([]string{"python", "mojo"}, strictness)

			var parsed map[string]interface{}
			if err := yaml.Unmarshal([]byte(content), &parsed); err != nil {
				t.Fatalf("Template should be valid YAML: %v\n%s", err, content)
			}

			config, err := LoadConfig(writeConfig(t, "sentinel.yaml", content))
			if err != nil {
				t.Fatalf("Template should load: %v", err)
			}
			preset := GetStrictnessPresets()[strictness]
			if got := config.Languages["python"].MaxLineLength; got != preset.MaxLineLength {
				t.Errorf("Expected max_line_length %d, got %d", preset.MaxLineLength, got)
			}
			if got := config.Checks["python"].Checks["type_hints"].IsEnabled(); got != preset.TypeHints {
				t.Errorf("Expected type_hints enabled=%v, got %v", preset.TypeHints, got)
			}
			if got := config.Checks["mojo"].Checks["ownership"].AnnotationMatch; got != preset.AnnotationMatch {
				t.Errorf("Expected annotation_match %s, got %s", preset.AnnotationMatch, got)
			}
			if got := config.Checks["python"].Checks["hardcoded_secret"].Pattern; got != DefaultConfig().Checks["python"].Checks["hardcoded_secret"].Pattern {
				t.Errorf("Pattern should survive the template round trip, got %q", got)
			}
		})
	}
}

func TestGetMinimalConfigTemplate(t *testing.T) {
	config, err := LoadConfig(writeConfig(t, "sentinel.yaml", GetMinimalConfigTemplate()))
	if err != nil {
		t.Fatalf("Minimal template should load: %v", err)
	}
	if config.Analysis.Timeout != 30 {
		t.Errorf("Expected timeout 30, got %d", config.Analysis.Timeout)
	}
}

func TestParseStrictness(t *testing.T) {
	if s, ok := ParseStrictness("STRICT"); !ok || s != StrictnessStrict {
		t.Errorf("Expected strict, got %s %v", s, ok)
	}
	if _, ok := ParseStrictness("extreme"); ok {
		t.Error("Unknown strictness should be rejected")
	}
}
