// Package transform holds the pipeline stages: style compilation, script
// bundling, script minification, template precompilation and plain copies.
//
// Every stage has the same contract: given source paths and a destination it
// writes the destination (plus an optional ".map" sidecar) or returns a
// *StageError. Stage options are bound when the stage is built. Parent
// directories of the destination are created as needed.
package transform

import (
	"context"
	"fmt"
)

type Kind string

const (
	KindStyle      Kind = "style"
	KindBundle     Kind = "bundle"
	KindMinify     Kind = "minify"
	KindPrecompile Kind = "precompile"
	KindCopy       Kind = "copy"
)

// Kinds lists every stage kind in declaration order.
var Kinds = []Kind{KindStyle, KindBundle, KindMinify, KindPrecompile, KindCopy}

func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q", s)
}

type Stage interface {
	Kind() Kind
	// Run transforms src into dst. Single-source stages expect exactly one
	// path in src.
	Run(ctx context.Context, src []string, dst string) error
}

// Multi is implemented by stages that fold every resolved source of an
// entry into a single destination instead of running once per file.
type Multi interface {
	Multi() bool
}

// IsMulti reports whether s folds all sources into one destination.
func IsMulti(s Stage) bool {
	m, ok := s.(Multi)
	return ok && m.Multi()
}

func single(kind Kind, src []string, dst string) (string, error) {
	if len(src) != 1 {
		return "", &StageError{
			Kind:    ConfigError,
			Stage:   kind,
			Dst:     dst,
			Message: fmt.Sprintf("expected exactly one source, got %d", len(src)),
		}
	}
	return src[0], nil
}
