package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Options captures the folder filtering configuration. Patterns are matched
// against the slash-joined sanitized folder path, e.g. "Inbox/Projects".
type Options struct {
	IncludeFolder []string
	ExcludeFolder []string
}

// Filter holds compiled regex patterns for selecting folders.
type Filter struct {
	includeMode   bool
	excludeMode   bool
	includeFolder []*regexp.Regexp
	excludeFolder []*regexp.Regexp
}

// New creates a new Filter from the provided options.
func New(opts Options) (*Filter, error) {
	includeFolder, err := compilePatterns(opts.IncludeFolder)
	if err != nil {
		return nil, fmt.Errorf("compile include-folder pattern: %w", err)
	}
	excludeFolder, err := compilePatterns(opts.ExcludeFolder)
	if err != nil {
		return nil, fmt.Errorf("compile exclude-folder pattern: %w", err)
	}

	includeActive := len(includeFolder) > 0
	excludeActive := len(excludeFolder) > 0
	if includeActive && excludeActive {
		return nil, fmt.Errorf("include and exclude filters are mutually exclusive")
	}

	return &Filter{
		includeMode:   includeActive,
		excludeMode:   excludeActive,
		includeFolder: includeFolder,
		excludeFolder: excludeFolder,
	}, nil
}

// Active reports whether any pattern is configured.
func (f *Filter) Active() bool {
	return f != nil && (f.includeMode || f.excludeMode)
}

// Prunes reports whether the folder and all of its descendants are skipped.
// Only exclude patterns prune.
func (f *Filter) Prunes(path string) bool {
	if f == nil || !f.excludeMode {
		return false
	}
	return matchAny(f.excludeFolder, path)
}

// Allows reports whether messages of the folder at path are converted. In
// include mode the tree is still walked so matching descendants are reached.
func (f *Filter) Allows(path string) bool {
	if f == nil {
		return true
	}

	if f.includeMode {
		return matchAny(f.includeFolder, path)
	}

	if f.excludeMode {
		if matchAny(f.excludeFolder, path) {
			return false
		}
	}

	return true
}

func compilePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compile %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

func matchAny(patterns []*regexp.Regexp, text string) bool {
	if len(patterns) == 0 {
		return false
	}
	for _, re := range patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
