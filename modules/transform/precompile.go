package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Precompile folds an ordered list of templates sharing one extension into
// a single script that registers each template under its base name.
type Precompile struct {
	Options  PrecompileOptions
	minifier *Minifier
}

func NewPrecompile(opts PrecompileOptions) *Precompile {
	return &Precompile{Options: opts.withDefaults(), minifier: defaultMinifier}
}

func (p *Precompile) Kind() Kind { return KindPrecompile }

func (p *Precompile) Multi() bool { return true }

func (p *Precompile) Run(ctx context.Context, srcs []string, dst string) error {
	if len(srcs) == 0 {
		return configErr(KindPrecompile, "", dst, "no templates to precompile")
	}
	ext, err := sharedExt(srcs)
	if err != nil {
		return configErr(KindPrecompile, strings.Join(srcs, ","), dst, err.Error())
	}

	opts := p.Options.withDefaults()
	switch opts.Compiler {
	case CompilerBuiltin:
		return p.runBuiltin(opts, srcs, dst)
	case CompilerHandlebars:
		return p.runHandlebars(ctx, opts, ext, srcs, dst)
	default:
		return configErr(KindPrecompile, "", dst, fmt.Sprintf("unknown compiler %q", opts.Compiler))
	}
}

func (p *Precompile) runBuiltin(opts PrecompileOptions, srcs []string, dst string) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "(function(){var t=%s=%s||{};\n", opts.Namespace, opts.Namespace)
	for _, src := range srcs {
		content, err := os.ReadFile(src)
		if err != nil {
			return ioErr(KindPrecompile, src, dst, err)
		}
		html, err := p.minifier.Bytes(mimeHTML, content)
		if err != nil {
			return toolErr(KindPrecompile, src, dst, err.Error(), err)
		}
		name, _ := json.Marshal(templateName(src))
		body, _ := json.Marshal(string(html))
		fmt.Fprintf(&buf, "t[%s]=Handlebars.compile(%s);\n", name, body)
	}
	buf.WriteString("})();\n")

	out, err := p.minifier.Bytes(mimeJS, buf.Bytes())
	if err != nil {
		return toolErr(KindPrecompile, strings.Join(srcs, ","), dst, err.Error(), err)
	}
	if err := atomicWrite(dst, out); err != nil {
		return ioErr(KindPrecompile, "", dst, err)
	}
	return nil
}

func (p *Precompile) runHandlebars(ctx context.Context, opts PrecompileOptions, ext string, srcs []string, dst string) error {
	if err := EnsureDir(dst); err != nil {
		return ioErr(KindPrecompile, "", dst, err)
	}

	args := append([]string{}, srcs...)
	args = append(args, "-e", strings.TrimPrefix(ext, "."), "-n", opts.Namespace, "-m", "-f", dst)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, opts.Binary, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = errors.New("handlebars precompilation failed")
		}
		return toolErr(KindPrecompile, strings.Join(srcs, ","), dst, stderr.String(), err)
	}
	return nil
}

// sharedExt returns the extension every path carries, or an error naming
// the first path that differs.
func sharedExt(paths []string) (string, error) {
	ext := filepath.Ext(paths[0])
	if ext == "" {
		return "", fmt.Errorf("template %s has no extension", paths[0])
	}
	for _, p := range paths[1:] {
		if filepath.Ext(p) != ext {
			return "", fmt.Errorf("templates must share one extension: %s is not %s", p, ext)
		}
	}
	return ext, nil
}

func templateName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
