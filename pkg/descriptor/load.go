package descriptor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// LoadFile reads and parses one YAML client definition.
func LoadFile(path string) (*ClientDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definition %s: %w", path, err)
	}
	desc, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return desc, nil
}

// LoadDir loads every definition under root whose relative path matches
// the doublestar pattern (for example "clients/**/*.yaml"). Results come
// back in path order. Any invalid definition fails the whole load.
func LoadDir(root, pattern string) ([]*ClientDescriptor, error) {
	if pattern == "" {
		pattern = "**/*.yaml"
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern)
	if err != nil {
		return nil, fmt.Errorf("glob pattern error: %w", err)
	}
	sort.Strings(matches)

	var out []*ClientDescriptor
	for _, rel := range matches {
		full := filepath.Join(root, rel)
		info, err := os.Stat(full)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", full, err)
		}
		if info.IsDir() {
			continue
		}
		desc, err := LoadFile(full)
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}
