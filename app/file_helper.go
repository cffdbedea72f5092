package app

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/ludo-technologies/sentinel/domain"
	"github.com/ludo-technologies/sentinel/service"
)

// FileHelper provides file operation utilities
type FileHelper struct{}

// NewFileHelper creates a new FileHelper
func NewFileHelper() *FileHelper {
	return &FileHelper{}
}

// FileExists checks if a file exists
func (h *FileHelper) FileExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

// ReadFile reads file content
func (h *FileHelper) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// CheckReadable reports a missing target as FileNotFound and an unreadable
// one as ParseError
func (h *FileHelper) CheckReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.NewFileNotFoundError(path, err)
		}
		return domain.NewParseError(path, err)
	}
	if info.IsDir() {
		if _, err := os.ReadDir(path); err != nil {
			return domain.NewParseError(path, err)
		}
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return domain.NewParseError(path, err)
	}
	return f.Close()
}

// WatchRoots maps targets to the directories to watch: directories as
// given, files by their parent
func (h *FileHelper) WatchRoots(paths []string) []string {
	seen := make(map[string]bool)
	var roots []string
	for _, p := range paths {
		dir := p
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			dir = filepath.Dir(p)
		}
		dir = filepath.Clean(dir)
		if !seen[dir] {
			seen[dir] = true
			roots = append(roots, dir)
		}
	}
	sort.Strings(roots)
	return roots
}

// ExistingFiles drops paths that no longer exist or are directories
func (h *FileHelper) ExistingFiles(paths []string) []string {
	var out []string
	for _, p := range paths {
		if ok, err := h.FileExists(p); err == nil && ok {
			out = append(out, p)
		}
	}
	return out
}

// ResolveFilePaths resolves file paths, returning existing files directly
// or collecting files from directories
func ResolveFilePaths(
	fileHelper *FileHelper,
	collector *service.FileCollector,
	paths []string,
	languages service.LanguageResolver,
) ([]string, error) {
	// Check if all paths are already files
	allFiles := true
	for _, path := range paths {
		exists, err := fileHelper.FileExists(path)
		if err != nil || !exists {
			allFiles = false
			break
		}
	}

	// If all paths are already files, no need to collect again
	if allFiles {
		out := append([]string(nil), paths...)
		sort.Strings(out)
		return out, nil
	}

	return collector.Collect(paths, languages)
}
