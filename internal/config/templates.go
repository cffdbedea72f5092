package config

import (
	"sort"
	"strconv"
	"strings"
)

// Strictness represents the analysis strictness level
type Strictness string

const (
	StrictnessRelaxed  Strictness = "relaxed"
	StrictnessStandard Strictness = "standard"
	StrictnessStrict   Strictness = "strict"
)

// StrictnessPreset holds the values that differ between strictness levels
type StrictnessPreset struct {
	MaxLineLength   int
	TypeHints       bool
	LineLength      bool
	AnnotationMatch string
	NamingSeverity  string
}

// GetStrictnessPresets returns presets for different strictness levels
func GetStrictnessPresets() map[Strictness]StrictnessPreset {
	return map[Strictness]StrictnessPreset{
		StrictnessRelaxed: {
			MaxLineLength:   120,
			TypeHints:       false,
			LineLength:      false,
			AnnotationMatch: "any",
			NamingSeverity:  "low",
		},
		StrictnessStandard: {
			MaxLineLength:   100,
			TypeHints:       true,
			LineLength:      true,
			AnnotationMatch: "any",
			NamingSeverity:  "medium",
		},
		StrictnessStrict: {
			MaxLineLength:   80,
			TypeHints:       true,
			LineLength:      true,
			AnnotationMatch: "all",
			NamingSeverity:  "high",
		},
	}
}

// ParseStrictness validates a strictness name
func ParseStrictness(s string) (Strictness, bool) {
	st := Strictness(strings.ToLower(s))
	_, ok := GetStrictnessPresets()[st]
	return st, ok
}

// AvailableLanguages returns the languages the embedded defaults configure
func AvailableLanguages() []string {
	return DefaultConfig().LanguageNames()
}

// GetFullConfigTemplate returns the documented config template as YAML.
// Only the selected languages are written; an empty selection writes all.
func GetFullConfigTemplate(languages []string, strictness Strictness) string {
	defaults := DefaultConfig()
	strict, ok := GetStrictnessPresets()[strictness]
	if !ok {
		strict = GetStrictnessPresets()[StrictnessStandard]
	}
	if len(languages) == 0 {
		languages = defaults.LanguageNames()
	}
	languages = append([]string(nil), languages...)
	sort.Strings(languages)

	var b strings.Builder
	b.WriteString(`# sentinel configuration
# Every key is optional; omitted keys fall back to the built-in defaults.
# Environment variables override file values: SENTINEL_ANALYSIS_TIMEOUT=10

# ============================================================================
# ANALYSIS
# ============================================================================
analysis:
  # Per-file time budget in seconds
  timeout: ` + strconv.Itoa(defaults.Analysis.Timeout) + `
  # Reuse results of unchanged files
  cache_enabled: true
  # Attach fix suggestions to findings
  generate_fixes: true
  # Files analyzed in parallel (0 = number of CPUs)
  workers: 0
  respect_gitignore: true
  exclude_patterns: ` + formatYAMLArray(defaults.Analysis.ExcludePatterns, 4) + `

# ============================================================================
# CHECKS
# ============================================================================
# severity: low | medium | high
# category: ast (needs a parser) | regex (raw text)
checks:
`)
	for _, lang := range languages {
		checks, ok := defaults.Checks[lang]
		if !ok {
			continue
		}
		b.WriteString("  " + lang + ":\n    checks:\n")
		for _, id := range sortedCheckIDs(checks.Checks) {
			writeCheckTemplate(&b, id, checks.Checks[id], strict)
		}
	}

	b.WriteString(`
# ============================================================================
# LANGUAGES
# ============================================================================
# ast_analysis.parser: tree-sitter | outline | none
languages:
`)
	for _, lang := range languages {
		lc, ok := defaults.Languages[lang]
		if !ok {
			continue
		}
		b.WriteString("  " + lang + ":\n")
		b.WriteString("    file_extensions: " + formatYAMLArray(lc.FileExtensions, 6) + "\n")
		b.WriteString("    max_line_length: " + strconv.Itoa(strict.MaxLineLength) + "\n")
		b.WriteString("    ast_analysis:\n")
		b.WriteString("      parser: " + lc.ASTAnalysis.Parser + "\n")
		b.WriteString("      analysis_timeout_ms: " + strconv.Itoa(lc.ASTAnalysis.AnalysisTimeoutMs) + "\n")
	}

	b.WriteString(`
# ============================================================================
# OUTPUT AND STORAGE
# ============================================================================
reporting:
  # text | json | yaml
  formats: [text]
  include_snippets: true
  max_suggestions: ` + strconv.Itoa(defaults.Reporting.MaxSuggestions) + `

cache:
  enabled: true
  directory: ` + defaults.Cache.Directory + `
  max_size_mb: ` + strconv.Itoa(defaults.Cache.MaxSizeMB) + `
  ttl_hours: ` + strconv.Itoa(defaults.Cache.TTLHours) + `

store:
  path: ` + defaults.Store.Path + `

query:
  max_results: ` + strconv.Itoa(defaults.Query.MaxResults) + `
  timeout_seconds: ` + strconv.Itoa(defaults.Query.TimeoutSeconds) + `

# ============================================================================
# SECURITY POLICY
# ============================================================================
security:
  # Targets must be inside one of these directories (empty = anywhere)
  allowed_paths: []
  # Added to every unsafe_functions deny-list
  blocked_functions: []
  # Larger files are skipped
  max_file_size: ` + strconv.FormatInt(defaults.Security.MaxFileSize, 10) + `
`)
	return b.String()
}

func writeCheckTemplate(b *strings.Builder, id string, c CheckConfig, strict StrictnessPreset) {
	enabled := c.IsEnabled()
	severity := c.Severity
	switch c.Kind {
	case "type_hints":
		enabled = enabled && strict.TypeHints
	case "line_length":
		enabled = enabled && strict.LineLength
	case "naming":
		severity = strict.NamingSeverity
	}

	b.WriteString("      " + id + ":\n")
	b.WriteString("        enabled: " + strconv.FormatBool(enabled) + "\n")
	b.WriteString("        kind: " + c.Kind + "\n")
	b.WriteString("        category: " + c.Category + "\n")
	b.WriteString("        severity: " + severity + "\n")
	if c.Pattern != "" {
		b.WriteString("        pattern: " + strconv.Quote(c.Pattern) + "\n")
	}
	if c.Message != "" {
		b.WriteString("        message: " + strconv.Quote(c.Message) + "\n")
	}
	if len(c.Functions) > 0 {
		b.WriteString("        functions: " + formatYAMLArray(c.Functions, 10) + "\n")
	}
	if len(c.RequiredPatterns) > 0 {
		b.WriteString("        required_patterns: " + formatYAMLArray(c.RequiredPatterns, 10) + "\n")
		b.WriteString("        annotation_match: " + strict.AnnotationMatch + "\n")
	}
	if len(c.TrackResources) > 0 {
		b.WriteString("        track_resources: " + formatYAMLArray(c.TrackResources, 10) + "\n")
	}
}

func sortedCheckIDs(checks map[string]CheckConfig) []string {
	ids := make([]string, 0, len(checks))
	for id := range checks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetMinimalConfigTemplate returns a minimal config template
func GetMinimalConfigTemplate() string {
	return `# sentinel configuration (minimal)
# Run "sentinel init" without --minimal for every option.

analysis:
  timeout: 30
  exclude_patterns: [node_modules, .git, vendor]

reporting:
  formats: [text]
`
}

// formatYAMLArray formats a string slice as a YAML flow sequence, falling
// back to a block sequence at the given indent when items need quoting
func formatYAMLArray(items []string, indent int) string {
	if len(items) == 0 {
		return "[]"
	}

	plain := true
	for _, item := range items {
		if item == "" || strings.ContainsAny(item, ",[]{}:#&*!|>'\"%@`") || strings.HasPrefix(item, ".") {
			plain = false
			break
		}
	}
	if plain {
		return "[" + strings.Join(items, ", ") + "]"
	}

	pad := strings.Repeat(" ", indent)
	result := ""
	for _, item := range items {
		result += "\n" + pad + "- " + strconv.Quote(item)
	}
	return result
}
