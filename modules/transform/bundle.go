package transform

import (
	"bytes"
	"context"
	"fmt"

	"github.com/evanw/esbuild/pkg/api"
)

// Bundle resolves the module graph of one entry file, transpiles it to
// ES2015 and writes a single IIFE bundle. With Uglify set the bundle is then
// minified in place, but only after the bundle write has fully completed.
type Bundle struct {
	Options BundleOptions
	// Minify runs the in-place uglify pass. Defaults to a *Minify built
	// from UglifySourceMap.
	Minify Stage
}

func NewBundle(opts BundleOptions) *Bundle {
	return &Bundle{
		Options: opts,
		Minify:  NewMinify(MinifyOptions{SourceMap: opts.UglifySourceMap}),
	}
}

func (b *Bundle) Kind() Kind { return KindBundle }

func (b *Bundle) Run(ctx context.Context, srcs []string, dst string) error {
	src, err := single(KindBundle, srcs, dst)
	if err != nil {
		return err
	}

	opts := api.BuildOptions{
		EntryPoints: []string{src},
		Bundle:      true,
		Write:       false,
		Outfile:     dst,
		Target:      api.ES2015,
		Format:      api.FormatIIFE,
		LogLevel:    api.LogLevelSilent,
	}
	if b.Options.SourceMap {
		opts.Sourcemap = api.SourceMapInline
		opts.SourcesContent = api.SourcesContentInclude
	}

	result := api.Build(opts)
	if len(result.Errors) > 0 {
		return esbuildErr(KindBundle, src, dst, result.Errors)
	}
	if len(result.OutputFiles) == 0 {
		return toolErr(KindBundle, src, dst, "", fmt.Errorf("bundler produced no output"))
	}

	// writeStream returns once the bundle is flushed, synced and closed.
	if _, err := writeStream(dst, bytes.NewReader(result.OutputFiles[0].Contents)); err != nil {
		return ioErr(KindBundle, src, dst, err)
	}

	if !b.Options.Uglify {
		return nil
	}
	minify := b.Minify
	if minify == nil {
		minify = NewMinify(MinifyOptions{SourceMap: b.Options.UglifySourceMap})
	}
	if err := minify.Run(ctx, []string{dst}, dst); err != nil {
		return err
	}
	return nil
}
