// Package glob expands declared file patterns into the regular files that
// currently match them.
//
// Supported syntax is the usual shell set: '*' and '?' stay within one path
// segment, '**' spans any number of segments (including none), '[abc]'
// classes and '{a,b}' alternation. Results are absolute, regular files only
// (symlinks count when they point at a regular file) and deduplicated in
// first-seen order across patterns. Nothing is cached: every call walks the
// filesystem again.
package glob

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

const metaChars = "*?[{"

// Resolver resolves patterns against the local filesystem.
type Resolver struct {
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

// Resolve expands patterns in order. Patterns matching nothing contribute
// nothing; invalid patterns are logged and skipped.
func (r *Resolver) Resolve(patterns []string) []string {
	seen := make(map[string]struct{})
	files := make([]string, 0)

	for _, pattern := range patterns {
		matches, err := r.expand(pattern)
		if err != nil {
			r.logger.Warn("Skipping invalid pattern", "pattern", pattern, "error", err)
			continue
		}
		for _, m := range matches {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	return files
}

// Resolve uses a resolver with the default logger.
func Resolve(patterns []string) []string {
	return NewResolver(nil).Resolve(patterns)
}

func (r *Resolver) expand(pattern string) ([]string, error) {
	pattern = filepath.ToSlash(pattern)

	idx := strings.IndexAny(pattern, metaChars)
	if idx < 0 {
		abs, err := filepath.Abs(filepath.FromSlash(pattern))
		if err != nil {
			return nil, err
		}
		if isRegular(abs) {
			return []string{abs}, nil
		}
		return nil, nil
	}

	base, rest := splitBase(pattern[:idx], pattern)
	absBase, err := filepath.Abs(filepath.FromSlash(base))
	if err != nil {
		return nil, err
	}
	full := glob.QuoteMeta(strings.TrimSuffix(filepath.ToSlash(absBase), "/")) + "/" + rest

	matchers, err := compile(full)
	if err != nil {
		return nil, err
	}

	maxDepth := -1
	if !strings.Contains(rest, "**") {
		maxDepth = strings.Count(rest, "/") + 1
	}

	// WalkDir does not descend into a symlinked root, so walk its target
	// and report matches under the base as written.
	root := absBase
	if resolved, err := filepath.EvalSymlinks(absBase); err == nil {
		root = resolved
	}

	var out []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are simply not part of the set
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if maxDepth >= 0 && path != root && depth(root, path) >= maxDepth {
				return fs.SkipDir
			}
			return nil
		}
		declared := path
		if root != absBase {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			declared = filepath.Join(absBase, rel)
		}
		if !matchAny(matchers, filepath.ToSlash(declared)) {
			return nil
		}
		if d.Type().IsRegular() || (d.Type()&fs.ModeSymlink != 0 && isRegular(path)) {
			out = append(out, declared)
		}
		return nil
	})
	if walkErr != nil && !os.IsNotExist(walkErr) {
		return nil, walkErr
	}
	return out, nil
}

// splitBase returns the literal directory to walk and the pattern remainder
// relative to it.
func splitBase(prefix, pattern string) (string, string) {
	slash := strings.LastIndex(prefix, "/")
	switch {
	case slash < 0:
		return ".", pattern
	case slash == 0:
		return "/", pattern[1:]
	default:
		return pattern[:slash], pattern[slash+1:]
	}
}

// compile builds one matcher per variant of the pattern where each "/**/"
// either stays or collapses to "/", so "a/**/b" also matches "a/b".
func compile(pattern string) ([]glob.Glob, error) {
	variants := []string{pattern}
	for strings.Contains(variants[0], "/**/") {
		next := make([]string, 0, len(variants)*2)
		for _, v := range variants {
			i := strings.Index(v, "/**/")
			next = append(next, v[:i]+"/\x00/"+v[i+4:], v[:i]+"/"+v[i+4:])
		}
		variants = next
	}

	matchers := make([]glob.Glob, 0, len(variants))
	for _, v := range variants {
		g, err := glob.Compile(strings.ReplaceAll(v, "/\x00/", "/**/"), '/')
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, g)
	}
	return matchers, nil
}

func matchAny(matchers []glob.Glob, path string) bool {
	for _, m := range matchers {
		if m.Match(path) {
			return true
		}
	}
	return false
}

func depth(base, path string) int {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return 0
	}
	return strings.Count(filepath.ToSlash(rel), "/") + 1
}

func isRegular(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
