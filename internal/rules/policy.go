package rules

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/internal/config"
)

// SecurityPolicy restricts which targets may be analyzed and widens every
// unsafe_functions deny-list
type SecurityPolicy struct {
	AllowedPaths     []string
	BlockedFunctions []string
	// MaxFileSize in bytes; 0 means unlimited
	MaxFileSize int64
}

// PolicyFromConfig converts the security section of a configuration
func PolicyFromConfig(sc config.SecurityConfig) SecurityPolicy {
	return SecurityPolicy{
		AllowedPaths:     append([]string(nil), sc.AllowedPaths...),
		BlockedFunctions: append([]string(nil), sc.BlockedFunctions...),
		MaxFileSize:      sc.MaxFileSize,
	}
}

// Validate rejects negative limits and empty entries
func (p SecurityPolicy) Validate() error {
	if p.MaxFileSize < 0 {
		return domain.NewConfigError(fmt.Sprintf("security policy max_file_size must be >= 0, got %d", p.MaxFileSize), nil)
	}
	for _, fn := range p.BlockedFunctions {
		if strings.TrimSpace(fn) == "" {
			return domain.NewConfigError("security policy blocked_functions contains an empty name", nil)
		}
	}
	return nil
}

// CheckPath returns a PolicyViolation error when AllowedPaths is non-empty
// and path lies outside every entry
func (p SecurityPolicy) CheckPath(path string) error {
	if len(p.AllowedPaths) == 0 {
		return nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return domain.NewPolicyViolationError(fmt.Sprintf("cannot resolve %s", path))
	}
	for _, allowed := range p.AllowedPaths {
		root, err := filepath.Abs(allowed)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return nil
		}
	}
	return domain.NewPolicyViolationError(fmt.Sprintf("%s is outside the allowed paths", path))
}

// AllowsSize reports whether a file of size bytes may be analyzed
func (p SecurityPolicy) AllowsSize(size int64) bool {
	return p.MaxFileSize <= 0 || size <= p.MaxFileSize
}
