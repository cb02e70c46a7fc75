package config

import (
	"errors"
	"fmt"

	"autumn/modules/pathrule"
	"autumn/modules/pipeline"
	"autumn/modules/reload"
	"autumn/modules/transform"
)

// Build turns the declaration into a pipeline entry with its stage bound.
func (e EntryConfig) Build() (pipeline.Entry, error) {
	if len(e.Files) == 0 {
		return pipeline.Entry{}, errors.New("files must not be empty")
	}
	kind, err := transform.ParseKind(e.Stage)
	if err != nil {
		return pipeline.Entry{}, err
	}
	rules, err := pathrule.Parse(e.Rules)
	if err != nil {
		return pipeline.Entry{}, err
	}

	stage, err := e.Options.stage(kind)
	if err != nil {
		return pipeline.Entry{}, err
	}
	if transform.IsMulti(stage) && e.Dest == "" {
		return pipeline.Entry{}, fmt.Errorf("stage %s needs dest", kind)
	}
	if e.Dest == "" && len(rules) == 0 {
		return pipeline.Entry{}, errors.New("either rules or dest is required")
	}

	return pipeline.Entry{
		Name:  e.Name,
		Files: e.Files,
		Rules: rules,
		Dest:  e.Dest,
		Stage: stage,
	}, nil
}

func (o OptionsConfig) stage(kind transform.Kind) (transform.Stage, error) {
	switch kind {
	case transform.KindStyle:
		return transform.NewStyle(o.Style()), nil
	case transform.KindMinify:
		return transform.NewMinify(o.Minify()), nil
	case transform.KindBundle:
		return transform.NewBundle(o.Bundle()), nil
	case transform.KindPrecompile:
		opts := o.Precompile()
		if opts.Compiler != "" && opts.Compiler != transform.CompilerBuiltin && opts.Compiler != transform.CompilerHandlebars {
			return nil, fmt.Errorf("unknown compiler %q", opts.Compiler)
		}
		return transform.NewPrecompile(opts), nil
	case transform.KindCopy:
		return transform.NewCopy(transform.CopyOptions{}), nil
	}
	return nil, fmt.Errorf("unknown stage %q", kind)
}

func (o OptionsConfig) Style() transform.StyleOptions {
	return transform.StyleOptions{SourceMap: boolOr(o.SourceMap, false)}
}

func (o OptionsConfig) Minify() transform.MinifyOptions {
	return transform.MinifyOptions{SourceMap: boolOr(o.SourceMap, false)}
}

// Bundle starts from the default or, with debug set, the debug profile and
// applies any explicit keys on top.
func (o OptionsConfig) Bundle() transform.BundleOptions {
	opts := transform.DefaultBundleOptions()
	if o.Debug {
		opts = transform.DebugBundleOptions()
	}
	opts.SourceMap = boolOr(o.SourceMap, opts.SourceMap)
	opts.Uglify = boolOr(o.Uglify, opts.Uglify)
	opts.UglifySourceMap = boolOr(o.UglifySourceMap, opts.UglifySourceMap)
	return opts
}

func (o OptionsConfig) Precompile() transform.PrecompileOptions {
	return transform.PrecompileOptions{
		Compiler:  o.Compiler,
		Namespace: o.Namespace,
		Binary:    o.Binary,
	}
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// PipelineEntries builds every declared entry.
func (c *Config) PipelineEntries() ([]pipeline.Entry, error) {
	entries := make([]pipeline.Entry, 0, len(c.Entries))
	for i, e := range c.Entries {
		entry, err := e.Build()
		if err != nil {
			return nil, fmt.Errorf("entries[%d]: %w", i, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ReloadDirective returns nil when no reload URL is configured.
func (c *Config) ReloadDirective() *pipeline.Directive {
	if c.Reload.URL == "" {
		return nil
	}
	d := &pipeline.Directive{
		URL: c.Reload.URL,
		Options: reload.Options{
			WebRoot: c.Reload.WebRoot,
			Listen:  c.Reload.Listen,
		},
	}
	if h := c.Reload.HTTPS; h != nil {
		d.Options.HTTPS = &reload.TLSFiles{Key: h.Key, Cert: h.Cert}
	}
	return d
}
