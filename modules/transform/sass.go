package transform

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
)

// SassCompiler compiles one SCSS entry file into compressed CSS. The
// returned CSS carries no sourceMappingURL comment; sourceMap is nil unless
// withMap is set.
type SassCompiler interface {
	Compile(ctx context.Context, src string, withMap bool) (css, sourceMap []byte, err error)
}

// ExecSass runs the dart-sass command line compiler.
type ExecSass struct {
	// Binary defaults to "sass".
	Binary string
}

var sassMapURL = regexp.MustCompile(`\s*/\*# sourceMappingURL=[^*]*\*/\s*$`)

func (e *ExecSass) Compile(ctx context.Context, src string, withMap bool) ([]byte, []byte, error) {
	bin := e.Binary
	if bin == "" {
		bin = "sass"
	}

	tmpDir, err := os.MkdirTemp("", "autumn-sass-*")
	if err != nil {
		return nil, nil, ioErr(KindStyle, src, "", err)
	}
	defer os.RemoveAll(tmpDir)

	out := filepath.Join(tmpDir, "out.css")
	args := []string{"--style=compressed", "--no-error-css"}
	if withMap {
		args = append(args, "--source-map", "--embed-sources")
	} else {
		args = append(args, "--no-source-map")
	}
	args = append(args, src, out)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, nil, toolErr(KindStyle, src, "", stderr.String(), errors.New("sass compilation failed"))
		}
		return nil, nil, toolErr(KindStyle, src, "", stderr.String(), err)
	}

	css, err := os.ReadFile(out)
	if err != nil {
		return nil, nil, ioErr(KindStyle, src, "", err)
	}
	css = sassMapURL.ReplaceAll(css, nil)

	var sourceMap []byte
	if withMap {
		if sourceMap, err = os.ReadFile(out + MapSuffix); err != nil {
			return nil, nil, ioErr(KindStyle, src, "", err)
		}
	}
	return css, sourceMap, nil
}
