package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// ignoreFileName is the optional per-workspace ignore-rules file.
const ignoreFileName = ".quillsync.yaml"

// alwaysIgnored covers editor droppings regardless of workspace rules.
var alwaysIgnored = []string{"**/*~", "**/*.swp", "**/*.tmp"}

type ignoreFile struct {
	Ignore []string `yaml:"ignore"`
}

// IgnoreFilter decides which workspace paths participate in sync.
// Filtered paths are never scanned, watched, or uploaded. Hidden
// (dot-prefixed) path segments are always filtered.
type IgnoreFilter struct {
	patterns []string
}

// LoadIgnoreFilter reads the workspace's ignore rules. A missing rules
// file yields a filter with only the built-in rules.
func LoadIgnoreFilter(workspaceDir string) (*IgnoreFilter, error) {
	data, err := os.ReadFile(filepath.Join(workspaceDir, ignoreFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return &IgnoreFilter{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("reading ignore rules: %w", err)
	}

	var rules ignoreFile
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", ignoreFileName, err)
	}

	for _, pattern := range rules.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid ignore pattern %q in %s", pattern, ignoreFileName)
		}
	}

	return &IgnoreFilter{patterns: rules.Ignore}, nil
}

// Allow reports whether a normalized workspace-relative path should be
// synced. A nil filter applies only the built-in rules.
func (f *IgnoreFilter) Allow(relPath string) bool {
	if relPath == "" {
		return false
	}

	for _, seg := range strings.Split(relPath, "/") {
		if strings.HasPrefix(seg, ".") {
			return false
		}
	}

	for _, pattern := range alwaysIgnored {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return false
		}
	}

	if f == nil {
		return true
	}

	for _, pattern := range f.patterns {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return false
		}
	}

	return true
}
