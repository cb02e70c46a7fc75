package transform

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Style compiles .scss sources and minifies .css sources. Any other
// extension is a configuration error.
type Style struct {
	Options StyleOptions
	// Sass compiles .scss sources. Defaults to the `sass` executable.
	Sass     SassCompiler
	minifier *Minifier
}

func NewStyle(opts StyleOptions) *Style {
	return &Style{Options: opts, Sass: &ExecSass{}, minifier: defaultMinifier}
}

func (s *Style) Kind() Kind { return KindStyle }

func (s *Style) Run(ctx context.Context, srcs []string, dst string) error {
	src, err := single(KindStyle, srcs, dst)
	if err != nil {
		return err
	}

	switch ext := strings.ToLower(filepath.Ext(src)); ext {
	case ".css":
		return s.runCSS(src, dst)
	case ".scss":
		return s.runSass(ctx, src, dst)
	default:
		return configErr(KindStyle, src, dst, fmt.Sprintf("extension not supported: %q", ext))
	}
}

func (s *Style) runCSS(src, dst string) error {
	return minifyCSS(KindStyle, s.minifier, src, dst, s.Options.SourceMap)
}

// minifyCSS minifies a stylesheet with tdewolff, or with esbuild when a
// source map is wanted.
func minifyCSS(kind Kind, minifier *Minifier, src, dst string, withMap bool) error {
	content, err := os.ReadFile(src)
	if err != nil {
		return ioErr(kind, src, dst, err)
	}

	if !withMap {
		out, err := minifier.Bytes(mimeCSS, content)
		if err != nil {
			return toolErr(kind, src, dst, err.Error(), err)
		}
		if err := atomicWrite(dst, out); err != nil {
			return ioErr(kind, src, dst, err)
		}
		return nil
	}

	result := api.Transform(string(content), api.TransformOptions{
		Loader:           api.LoaderCSS,
		MinifyWhitespace: true,
		MinifySyntax:     true,
		Sourcemap:        api.SourceMapExternal,
		SourcesContent:   api.SourcesContentInclude,
		Sourcefile:       filepath.Base(src),
		LogLevel:         api.LogLevelSilent,
		LegalComments:    api.LegalCommentsNone,
	})
	if len(result.Errors) > 0 {
		return esbuildErr(kind, src, dst, result.Errors)
	}
	if err := writeWithMap(dst, result.Code, result.Map, cssMapComment); err != nil {
		return ioErr(kind, src, dst, err)
	}
	return nil
}

func (s *Style) runSass(ctx context.Context, src, dst string) error {
	css, sourceMap, err := s.Sass.Compile(ctx, src, s.Options.SourceMap)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			se.Stage, se.Src, se.Dst = KindStyle, src, dst
			return se
		}
		return toolErr(KindStyle, src, dst, "", err)
	}
	if !s.Options.SourceMap {
		sourceMap = nil
	}
	if err := writeWithMap(dst, css, sourceMap, cssMapComment); err != nil {
		return ioErr(KindStyle, src, dst, err)
	}
	return nil
}

// esbuildErr turns esbuild messages into a tool error carrying the
// formatted diagnostics.
func esbuildErr(stage Kind, src, dst string, msgs []api.Message) *StageError {
	formatted := api.FormatMessages(msgs, api.FormatMessagesOptions{Kind: api.ErrorMessage})
	first := msgs[0].Text
	return &StageError{
		Kind:       ToolError,
		Stage:      stage,
		Src:        src,
		Dst:        dst,
		Message:    first,
		Diagnostic: strings.Join(formatted, ""),
	}
}
