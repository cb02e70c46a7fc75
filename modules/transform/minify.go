package transform

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// Minify minifies one script or stylesheet. The destination is written
// only when the minifier reports no errors.
type Minify struct {
	Options  MinifyOptions
	minifier *Minifier
}

func NewMinify(opts MinifyOptions) *Minify {
	return &Minify{Options: opts, minifier: defaultMinifier}
}

func (m *Minify) Kind() Kind { return KindMinify }

func (m *Minify) Run(ctx context.Context, srcs []string, dst string) error {
	src, err := single(KindMinify, srcs, dst)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return toolErr(KindMinify, src, dst, "", err)
	}

	switch ext := strings.ToLower(filepath.Ext(src)); ext {
	case ".js", ".mjs", ".cjs":
		return m.runJS(src, dst)
	case ".css":
		minifier := m.minifier
		if minifier == nil {
			minifier = defaultMinifier
		}
		return minifyCSS(KindMinify, minifier, src, dst, m.Options.SourceMap)
	default:
		return configErr(KindMinify, src, dst, fmt.Sprintf("extension not supported: %q", ext))
	}
}

func (m *Minify) runJS(src, dst string) error {
	content, err := os.ReadFile(src)
	if err != nil {
		return ioErr(KindMinify, src, dst, err)
	}

	opts := api.TransformOptions{
		Loader:            api.LoaderJS,
		MinifyWhitespace:  true,
		MinifyIdentifiers: true,
		MinifySyntax:      true,
		Sourcefile:        filepath.Base(src),
		LogLevel:          api.LogLevelSilent,
		LegalComments:     api.LegalCommentsNone,
	}
	if m.Options.SourceMap {
		opts.Sourcemap = api.SourceMapExternal
		opts.SourcesContent = api.SourcesContentInclude
	}

	result := api.Transform(string(content), opts)
	if len(result.Errors) > 0 {
		return esbuildErr(KindMinify, src, dst, result.Errors)
	}

	var sourceMap []byte
	if m.Options.SourceMap {
		sourceMap = result.Map
	}
	if err := writeWithMap(dst, result.Code, sourceMap, jsMapComment); err != nil {
		return ioErr(KindMinify, src, dst, err)
	}
	return nil
}
