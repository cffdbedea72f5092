package service

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"

	"github.com/ludo-technologies/sentinel/domain"
)

// LanguageResolver maps a path to a configured language
type LanguageResolver interface {
	LanguageForPath(path string) (string, bool)
}

// FileCollector expands analysis targets into the source files to check.
// Exclude patterns use gitignore syntax; a .gitignore at the root of a
// directory target is honored when respectGitignore is set.
type FileCollector struct {
	exclude          *ignore.GitIgnore
	respectGitignore bool
	logger           *zap.Logger
}

// NewFileCollector compiles the exclude patterns
func NewFileCollector(excludePatterns []string, respectGitignore bool, logger *zap.Logger) *FileCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileCollector{
		exclude:          ignore.CompileIgnoreLines(excludePatterns...),
		respectGitignore: respectGitignore,
		logger:           logger,
	}
}

// Collect returns the sorted, de-duplicated files under paths whose
// extension maps to a language. Explicit file arguments are returned even
// when excluded; an unknown extension is left for the executor to skip.
func (c *FileCollector) Collect(paths []string, languages LanguageResolver) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, domain.NewFileNotFoundError(path, err)
			}
			return nil, domain.NewInvalidInputError("cannot access "+path, err)
		}
		if !info.IsDir() {
			add(filepath.Clean(path))
			continue
		}
		if err := c.walk(path, languages, add); err != nil {
			return nil, err
		}
	}

	sort.Strings(files)
	return files, nil
}

func (c *FileCollector) walk(root string, languages LanguageResolver, add func(string)) error {
	var gitignore *ignore.GitIgnore
	if c.respectGitignore {
		if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
			gitignore = gi
		}
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			rel += "/"
		}

		if c.excluded(rel, gitignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := languages.LanguageForPath(path); ok {
			add(path)
		}
		return nil
	})
}

func (c *FileCollector) excluded(rel string, gitignore *ignore.GitIgnore) bool {
	if c.exclude.MatchesPath(rel) || c.exclude.MatchesPath(strings.TrimSuffix(rel, "/")) {
		return true
	}
	return gitignore != nil && (gitignore.MatchesPath(rel) || gitignore.MatchesPath(strings.TrimSuffix(rel, "/")))
}
