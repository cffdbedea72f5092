package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/config"
	"github.com/ludo-technologies/sentinel/internal/parser"
)

// LanguageSettings is the resolved per-language part of a snapshot
type LanguageSettings struct {
	Name           string
	FileExtensions []string
	MaxLineLength  int
	Parser         string
	CacheASTs      bool
	ASTTimeout     time.Duration
	// Extractor is nil for languages configured with parser none
	Extractor parser.Extractor
}

// Snapshot is an immutable view of the loaded checks. Sessions capture one
// at start; later SetConfig calls publish a new snapshot instead.
type Snapshot struct {
	Version    int64
	ConfigHash string
	Config     json.RawMessage
	Settings   *config.Config
	Policy     SecurityPolicy

	checks    map[string][]*CheckDefinition
	languages map[string]LanguageSettings
}

// Checks returns the enabled checks of a language sorted by id
func (s *Snapshot) Checks(language string) []*CheckDefinition {
	return s.checks[language]
}

// Check returns one check by language and id
func (s *Snapshot) Check(language, id string) (*CheckDefinition, bool) {
	for _, d := range s.checks[language] {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}

// Language returns the settings of a language
func (s *Snapshot) Language(name string) (LanguageSettings, bool) {
	l, ok := s.languages[name]
	return l, ok
}

// Languages returns the configured language names in sorted order
func (s *Snapshot) Languages() []string {
	names := make([]string, 0, len(s.languages))
	for name := range s.languages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LanguageForPath maps a file path to its language by extension
func (s *Snapshot) LanguageForPath(path string) (string, bool) {
	return s.Settings.LanguageForPath(path)
}

// CheckIDs returns every enabled check id across languages, deduplicated and sorted
func (s *Snapshot) CheckIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, defs := range s.checks {
		for _, d := range defs {
			if !seen[d.ID] {
				seen[d.ID] = true
				ids = append(ids, d.ID)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

// Restrict returns a copy holding only the named checks. Unknown ids are
// reported as a ConfigError.
func (s *Snapshot) Restrict(ids []string) (*Snapshot, error) {
	if len(ids) == 0 {
		return s, nil
	}
	keep := make(map[string]bool, len(ids))
	known := make(map[string]bool)
	for _, id := range s.CheckIDs() {
		known[id] = true
	}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if !known[id] {
			return nil, domain.NewConfigError(fmt.Sprintf("unknown or disabled check '%s'", id), nil)
		}
		keep[id] = true
	}

	selected := make([]string, 0, len(keep))
	for id := range keep {
		selected = append(selected, id)
	}
	sort.Strings(selected)
	sum := sha256.Sum256([]byte(s.ConfigHash + "\x00" + strings.Join(selected, ",")))

	out := *s
	// results of a restricted run must not be served to a full one
	out.ConfigHash = hex.EncodeToString(sum[:])
	out.checks = make(map[string][]*CheckDefinition, len(s.checks))
	for lang, defs := range s.checks {
		for _, d := range defs {
			if keep[d.ID] {
				out.checks[lang] = append(out.checks[lang], d)
			}
		}
	}
	return &out, nil
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the registry logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithSecurityPolicy overrides the policy taken from the configuration
func WithSecurityPolicy(p SecurityPolicy) Option {
	return func(r *Registry) {
		r.policy = p
		r.policySet = true
	}
}

// Registry owns the current snapshot. Readers never block; writers are
// serialized and publish a fully built snapshot or nothing.
type Registry struct {
	mu        sync.Mutex
	current   atomic.Pointer[Snapshot]
	cfg       *config.Config
	policy    SecurityPolicy
	policySet bool
	version   int64
	logger    *zap.Logger
}

// NewRegistry validates cfg and builds the first snapshot
func NewRegistry(cfg *config.Config, opts ...Option) (*Registry, error) {
	r := &Registry{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if !r.policySet {
		r.policy = PolicyFromConfig(cfg.Security)
	}

	snap, err := r.build(cfg, r.policy)
	if err != nil {
		return nil, err
	}
	r.cfg = cfg
	r.current.Store(snap)
	return r, nil
}

// Snapshot returns the current snapshot
func (r *Registry) Snapshot() *Snapshot {
	return r.current.Load()
}

// SetConfig replaces the configuration. On error the previous snapshot stays current.
func (r *Registry) SetConfig(cfg *config.Config) error {
	if cfg == nil {
		return domain.NewConfigError("configuration is nil", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	policy := r.policy
	if !r.policySet {
		policy = PolicyFromConfig(cfg.Security)
	}
	snap, err := r.build(cfg, policy)
	if err != nil {
		return err
	}
	r.cfg = cfg
	r.policy = policy
	r.current.Store(snap)
	r.logger.Info("check configuration reloaded", zap.Int64("version", snap.Version), zap.String("config_hash", snap.ConfigHash))
	return nil
}

// SetSecurityPolicy replaces the security policy and rebuilds the snapshot.
// The policy then takes precedence over the security section of later configurations.
func (r *Registry) SetSecurityPolicy(p SecurityPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap, err := r.build(r.cfg, p)
	if err != nil {
		return err
	}
	r.policy = p
	r.policySet = true
	r.current.Store(snap)
	r.logger.Info("security policy updated",
		zap.Int("allowed_paths", len(p.AllowedPaths)),
		zap.Int("blocked_functions", len(p.BlockedFunctions)))
	return nil
}

// build compiles a snapshot without touching registry state other than the version counter
func (r *Registry) build(cfg *config.Config, policy SecurityPolicy) (*Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, domain.NewConfigError("invalid configuration", err)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	settings, err := cfg.Clone()
	if err != nil {
		return nil, domain.NewConfigError("failed to snapshot configuration", err)
	}
	raw, hash, err := settings.Snapshot()
	if err != nil {
		return nil, domain.NewConfigError("failed to snapshot configuration", err)
	}

	languages := make(map[string]LanguageSettings, len(settings.Languages))
	for _, name := range settings.LanguageNames() {
		lc := settings.Languages[name]
		extractor, err := parser.NewExtractor(name, lc.ASTAnalysis.Parser)
		if err != nil {
			return nil, domain.NewConfigError(fmt.Sprintf("language '%s'", name), err)
		}
		maxLen := lc.MaxLineLength
		if maxLen == 0 {
			maxLen = DefaultMaxLineLength
		}
		languages[name] = LanguageSettings{
			Name:           name,
			FileExtensions: lc.FileExtensions,
			MaxLineLength:  maxLen,
			Parser:         lc.ASTAnalysis.Parser,
			CacheASTs:      lc.ASTAnalysis.ShouldCacheASTs(),
			ASTTimeout:     time.Duration(lc.ASTAnalysis.AnalysisTimeoutMs) * time.Millisecond,
			Extractor:      extractor,
		}
	}

	checks := make(map[string][]*CheckDefinition, len(settings.Checks))
	langNames := make([]string, 0, len(settings.Checks))
	for name := range settings.Checks {
		langNames = append(langNames, name)
	}
	sort.Strings(langNames)

	for _, lang := range langNames {
		ls, ok := languages[lang]
		if !ok {
			return nil, domain.NewConfigError(fmt.Sprintf("checks configured for unknown language '%s'", lang), nil)
		}
		ids := make([]string, 0, len(settings.Checks[lang].Checks))
		for id := range settings.Checks[lang].Checks {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			cc := settings.Checks[lang].Checks[id]
			if !cc.IsEnabled() {
				continue
			}
			def, err := compileCheck(id, lang, cc, ls, settings.Languages[lang], policy)
			if err != nil {
				return nil, domain.NewConfigError(fmt.Sprintf("invalid check '%s' for language '%s'", id, lang), err)
			}
			if def.Category == domain.CategoryRegex && cc.Category == string(domain.CategoryAST) {
				r.logger.Info("no parser for language, evaluating check on raw text",
					zap.String("check", id), zap.String("language", lang))
			}
			checks[lang] = append(checks[lang], def)
		}
	}

	version := atomic.AddInt64(&r.version, 1)
	return &Snapshot{
		Version:    version,
		ConfigHash: hash,
		Config:     raw,
		Settings:   settings,
		Policy:     policy,
		checks:     checks,
		languages:  languages,
	}, nil
}

// compileCheck validates one raw check and compiles its patterns
func compileCheck(id, lang string, cc config.CheckConfig, ls LanguageSettings, lc config.LanguageConfig, policy SecurityPolicy) (*CheckDefinition, error) {
	kindName := cc.Kind
	if kindName == "" {
		kindName = inferKind(id)
	}
	kind, ok := parseKind(kindName)
	if !ok {
		return nil, fmt.Errorf("unknown check kind '%s'", kindName)
	}

	severity, err := domain.ParseSeverity(cc.Severity)
	if err != nil {
		return nil, err
	}

	category := defaultCategory(kind)
	if cc.Category != "" {
		if category, err = domain.ParseCheckCategory(cc.Category); err != nil {
			return nil, err
		}
	}
	if !categoryAllowed(kind, category) {
		return nil, fmt.Errorf("kind '%s' cannot run in category '%s'", kind, category)
	}

	def := &CheckDefinition{
		ID:                 id,
		Language:           lang,
		Kind:               kind,
		Category:           category,
		Severity:           severity,
		Message:            cc.Message,
		MaxLineLength:      ls.MaxLineLength,
		AnnotationMatch:    MatchAny,
		EnforceAnnotations: cc.ShouldEnforceAnnotations(),
	}

	if cc.Pattern != "" {
		if def.Pattern, err = regexp.Compile(cc.Pattern); err != nil {
			return nil, fmt.Errorf("pattern does not compile: %w", err)
		}
	}
	for _, p := range cc.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("pattern %q does not compile: %w", p, err)
		}
		def.Patterns = append(def.Patterns, re)
	}
	if cc.Declaration != "" {
		if def.Declaration, err = regexp.Compile(cc.Declaration); err != nil {
			return nil, fmt.Errorf("declaration does not compile: %w", err)
		}
		if def.Declaration.NumSubexp() < 1 {
			return nil, fmt.Errorf("declaration must capture the name in group 1")
		}
	}

	// AST checks need an extractor that supplies what they read; naming can
	// fall back to raw text when a declaration pattern is given
	if category == domain.CategoryAST {
		if missing := missingCapabilities(ls.Extractor, kind); len(missing) > 0 {
			if kind == KindNaming && def.Declaration != nil {
				def.Category = domain.CategoryRegex
			} else if ls.Extractor == nil {
				return nil, fmt.Errorf("language has no parser (ast_analysis.parser: none); use category regex")
			} else {
				return nil, fmt.Errorf("parser '%s' does not supply %s", ls.Parser, strings.Join(missing, ", "))
			}
		}
	}

	switch kind {
	case KindNaming:
		if def.Pattern == nil {
			return nil, fmt.Errorf("naming check requires a pattern")
		}
		def.Target = cc.Target
		if def.Target == "" {
			def.Target = inferTarget(id)
		}
		if def.Target != TargetStruct && def.Target != TargetFunction {
			return nil, fmt.Errorf("naming target must be 'struct' or 'function', got '%s'", def.Target)
		}
		if def.Category == domain.CategoryRegex && def.Declaration == nil {
			return nil, fmt.Errorf("regex naming check requires a declaration pattern")
		}
		def.Convention = lc.NamingConventions[def.Target]

	case KindUnsafeFunctions:
		def.Functions = mergeFunctions(cc.Functions, policy.BlockedFunctions)
		if len(def.Functions) == 0 {
			return nil, fmt.Errorf("unsafe_functions check requires a non-empty functions list")
		}
		quoted := make([]string, len(def.Functions))
		for i, fn := range def.Functions {
			quoted[i] = regexp.QuoteMeta(fn)
		}
		def.unsafeCall = regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\s*\(`)

	case KindOwnership:
		if len(cc.RequiredPatterns) == 0 {
			return nil, fmt.Errorf("ownership check requires required_patterns")
		}
		def.RequiredAnnotations = append([]string(nil), cc.RequiredPatterns...)
		if cc.AnnotationMatch != "" {
			def.AnnotationMatch = strings.ToLower(cc.AnnotationMatch)
		}
		if def.AnnotationMatch != MatchAny && def.AnnotationMatch != MatchAll {
			return nil, fmt.Errorf("annotation_match must be 'any' or 'all', got '%s'", cc.AnnotationMatch)
		}

	case KindResourceLifetime:
		track := cc.TrackResources
		if len(track) == 0 {
			for c := range cc.Resources {
				track = append(track, c)
			}
			sort.Strings(track)
		}
		def.Resources = resolveResources(track, cc.Resources)
		if len(def.Resources) == 0 {
			return nil, fmt.Errorf("resource token table is empty for tracked resources %v", track)
		}

	case KindComplexity:
		if cc.MaxComplexity < 0 {
			return nil, fmt.Errorf("max_complexity must be >= 0, got %d", cc.MaxComplexity)
		}
		def.MaxComplexity = cc.MaxComplexity
		if def.MaxComplexity == 0 {
			def.MaxComplexity = DefaultMaxComplexity
		}

	case KindPattern:
		if def.Pattern == nil && len(def.Patterns) == 0 {
			return nil, fmt.Errorf("pattern check requires pattern or patterns")
		}
		if def.Pattern != nil {
			def.Patterns = append([]*regexp.Regexp{def.Pattern}, def.Patterns...)
		}
	}

	return def, nil
}

func missingCapabilities(e parser.Extractor, kind CheckKind) []string {
	var missing []string
	for _, capability := range RequiredCapabilities(kind) {
		if !parser.SupportsCapability(e, capability) {
			missing = append(missing, capability)
		}
	}
	return missing
}

// inferKind maps well-known check ids onto kinds
func inferKind(id string) string {
	if _, ok := parseKind(id); ok {
		return id
	}
	if strings.HasSuffix(id, "_naming") {
		return string(KindNaming)
	}
	return id
}

// inferTarget derives the naming target from ids like struct_naming or fn_naming
func inferTarget(id string) string {
	prefix := strings.TrimSuffix(id, "_naming")
	switch prefix {
	case "struct", "class", "type":
		return TargetStruct
	case "fn", "func", "function", "method":
		return TargetFunction
	}
	return ""
}

func mergeFunctions(configured, blocked []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range [][]string{configured, blocked} {
		for _, fn := range list {
			fn = strings.TrimSpace(fn)
			if fn == "" || seen[fn] {
				continue
			}
			seen[fn] = true
			out = append(out, fn)
		}
	}
	return out
}
