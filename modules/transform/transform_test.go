package transform

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestStyleCSSWithoutSourceMap(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "src", "site.css"), "a {\n  color: red;\n}\n")
	dst := filepath.Join(dir, "dist", "css", "site.min.css")

	err := NewStyle(StyleOptions{}).Run(context.Background(), []string{src}, dst)
	require.NoError(t, err)

	out := readFile(t, dst)
	assert.Equal(t, "a{color:red}", out)
	assert.NotContains(t, out, "sourceMappingURL")
	assert.NoFileExists(t, dst+MapSuffix)
}

func TestStyleCSSWithSourceMap(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "site.css"), "a {\n  color: red;\n}\n")
	dst := filepath.Join(dir, "out", "site.css")

	err := NewStyle(StyleOptions{SourceMap: true}).Run(context.Background(), []string{src}, dst)
	require.NoError(t, err)

	out := readFile(t, dst)
	assert.True(t, strings.HasSuffix(out, "\n\n/*# sourceMappingURL=site.css.map */"), out)
	assert.Contains(t, readFile(t, dst+MapSuffix), `"mappings"`)
}

func TestStyleUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "site.less"), "a { color: red; }")
	dst := filepath.Join(dir, "site.css")

	err := NewStyle(StyleOptions{}).Run(context.Background(), []string{src}, dst)
	require.Error(t, err)
	assert.True(t, IsKind(err, ConfigError))
	assert.NoFileExists(t, dst)
}

type fakeSass struct {
	css, sourceMap string
	err            error
	calls          []bool
}

func (f *fakeSass) Compile(_ context.Context, _ string, withMap bool) ([]byte, []byte, error) {
	f.calls = append(f.calls, withMap)
	if f.err != nil {
		return nil, nil, f.err
	}
	return []byte(f.css), []byte(f.sourceMap), nil
}

func TestStyleSCSS(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "scss", "x.scss"), "$c: red; a { color: $c; }")

	t.Run("with map", func(t *testing.T) {
		dst := filepath.Join(dir, "css", "x.css")
		sass := &fakeSass{css: "a{color:red}", sourceMap: `{"version":3}`}
		s := NewStyle(StyleOptions{SourceMap: true})
		s.Sass = sass

		require.NoError(t, s.Run(context.Background(), []string{src}, dst))
		assert.Equal(t, []bool{true}, sass.calls)
		assert.Equal(t, "a{color:red}\n\n/*# sourceMappingURL=x.css.map */", readFile(t, dst))
		assert.Equal(t, `{"version":3}`, readFile(t, dst+MapSuffix))
	})

	t.Run("without map", func(t *testing.T) {
		dst := filepath.Join(dir, "plain", "x.css")
		sass := &fakeSass{css: "a{color:red}", sourceMap: `{"version":3}`}
		s := NewStyle(StyleOptions{})
		s.Sass = sass

		require.NoError(t, s.Run(context.Background(), []string{src}, dst))
		assert.Equal(t, "a{color:red}", readFile(t, dst))
		assert.NoFileExists(t, dst+MapSuffix)
	})

	t.Run("compiler failure", func(t *testing.T) {
		dst := filepath.Join(dir, "broken", "x.css")
		s := NewStyle(StyleOptions{})
		s.Sass = &fakeSass{err: toolErr(KindStyle, src, "", "Error: expected \";\"", errors.New("sass compilation failed"))}

		err := s.Run(context.Background(), []string{src}, dst)
		require.Error(t, err)
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, ToolError, se.Kind)
		assert.Equal(t, dst, se.Dst)
		assert.Contains(t, se.Diagnostic, "expected")
		assert.NoFileExists(t, dst)
	})
}

func TestSassMapCommentStripped(t *testing.T) {
	in := []byte("a{color:red}\n\n/*# sourceMappingURL=out.css.map */\n")
	assert.Equal(t, "a{color:red}", string(sassMapURL.ReplaceAll(in, nil)))
}

func TestMinify(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "app.js"), "function add(first, second) {\n  return first + second;\n}\nconsole.log(add(1, 2));\n")

	t.Run("without map", func(t *testing.T) {
		dst := filepath.Join(dir, "out", "app.min.js")
		require.NoError(t, NewMinify(MinifyOptions{}).Run(context.Background(), []string{src}, dst))

		out := readFile(t, dst)
		assert.Less(t, len(out), len(readFile(t, src)))
		assert.NotContains(t, out, "sourceMappingURL")
		assert.NoFileExists(t, dst+MapSuffix)
	})

	t.Run("with map", func(t *testing.T) {
		dst := filepath.Join(dir, "mapped", "app.min.js")
		require.NoError(t, NewMinify(MinifyOptions{SourceMap: true}).Run(context.Background(), []string{src}, dst))

		assert.True(t, strings.HasSuffix(readFile(t, dst), "\n//# sourceMappingURL=app.min.js.map"))
		assert.FileExists(t, dst+MapSuffix)
	})
}

func TestMinifySyntaxError(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "broken.js"), "function (\n")
	dst := filepath.Join(dir, "broken.min.js")

	err := NewMinify(MinifyOptions{}).Run(context.Background(), []string{src}, dst)
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ToolError, se.Kind)
	assert.Equal(t, KindMinify, se.Stage)
	assert.NotEmpty(t, se.Message)
	assert.NotEmpty(t, se.Diagnostic)
	assert.NoFileExists(t, dst)
}

func TestMinifyMissingSource(t *testing.T) {
	dir := t.TempDir()
	err := NewMinify(MinifyOptions{}).Run(context.Background(), []string{filepath.Join(dir, "nope.js")}, filepath.Join(dir, "out.js"))
	assert.True(t, IsKind(err, IOError))
}

func TestMinifyStylesheet(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "src", "site.css"), "a {\n  color: red;\n}\n")

	t.Run("without map", func(t *testing.T) {
		dst := filepath.Join(dir, "dist", "site.min.css")
		require.NoError(t, NewMinify(MinifyOptions{}).Run(context.Background(), []string{src}, dst))

		assert.Equal(t, "a{color:red}", readFile(t, dst))
		assert.NoFileExists(t, dst+MapSuffix)
	})

	t.Run("with map", func(t *testing.T) {
		dst := filepath.Join(dir, "mapped", "site.min.css")
		require.NoError(t, NewMinify(MinifyOptions{SourceMap: true}).Run(context.Background(), []string{src}, dst))

		out := readFile(t, dst)
		assert.True(t, strings.HasSuffix(out, "\n\n/*# sourceMappingURL=site.min.css.map */"), out)
		assert.FileExists(t, dst+MapSuffix)
	})
}

func TestMinifyModuleExtensions(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"lib.mjs", "lib.cjs", "LIB.JS"} {
		src := writeFile(t, filepath.Join(dir, name), "export const value = 1 + 1;\n")
		dst := filepath.Join(dir, "out", name)
		assert.NoError(t, NewMinify(MinifyOptions{}).Run(context.Background(), []string{src}, dst), name)
	}
}

func TestMinifyUnsupportedExtension(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"app.ts", "page.html", "README"} {
		src := writeFile(t, filepath.Join(dir, name), "x")
		dst := filepath.Join(dir, "out", name)

		err := NewMinify(MinifyOptions{}).Run(context.Background(), []string{src}, dst)
		assert.True(t, IsKind(err, ConfigError), name)
		assert.NoFileExists(t, dst)
	}
}

func bundleFixture(t *testing.T) (string, string) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "answer.js"), "export const answer = 40 + 2;\n")
	entry := writeFile(t, filepath.Join(dir, "src", "main.js"), "import { answer } from './answer.js';\nconst show = (v) => console.log(`answer ${v}`);\nshow(answer);\n")
	return dir, entry
}

func TestBundleDebugProfile(t *testing.T) {
	dir, entry := bundleFixture(t)
	dst := filepath.Join(dir, "dist", "main.js")

	err := NewBundle(DebugBundleOptions()).Run(context.Background(), []string{entry}, dst)
	require.NoError(t, err)

	out := readFile(t, dst)
	assert.Contains(t, out, "answer")
	assert.NotContains(t, out, "import ")
	assert.Contains(t, out, "sourceMappingURL=data:application/json;base64,")
	assert.NoFileExists(t, dst+MapSuffix)
}

func TestBundleUglify(t *testing.T) {
	dir, entry := bundleFixture(t)
	dst := filepath.Join(dir, "dist", "main.min.js")

	err := NewBundle(DefaultBundleOptions()).Run(context.Background(), []string{entry}, dst)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(readFile(t, dst), "\n//# sourceMappingURL=main.min.js.map"))
	assert.FileExists(t, dst+MapSuffix)
}

// recordingStage captures what the chained minify pass sees on disk.
type recordingStage struct {
	sizes    []int64
	contents []string
}

func (r *recordingStage) Kind() Kind { return KindMinify }

func (r *recordingStage) Run(_ context.Context, src []string, _ string) error {
	info, err := os.Stat(src[0])
	if err != nil {
		return err
	}
	b, err := os.ReadFile(src[0])
	if err != nil {
		return err
	}
	r.sizes = append(r.sizes, info.Size())
	r.contents = append(r.contents, string(b))
	return nil
}

func TestBundleMinifiesOnlyAfterFlush(t *testing.T) {
	dir, entry := bundleFixture(t)
	dst := filepath.Join(dir, "dist", "main.js")

	rec := &recordingStage{}
	b := NewBundle(BundleOptions{Uglify: true})
	b.Minify = rec

	require.NoError(t, b.Run(context.Background(), []string{entry}, dst))
	require.Len(t, rec.sizes, 1)

	final, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, final.Size(), rec.sizes[0])
	assert.Equal(t, readFile(t, dst), rec.contents[0])
}

func TestBundleSkipsMinifyWithoutUglify(t *testing.T) {
	dir, entry := bundleFixture(t)
	rec := &recordingStage{}
	b := NewBundle(BundleOptions{})
	b.Minify = rec

	require.NoError(t, b.Run(context.Background(), []string{entry}, filepath.Join(dir, "out.js")))
	assert.Empty(t, rec.sizes)
}

func TestBundleUnresolvedImport(t *testing.T) {
	dir := t.TempDir()
	entry := writeFile(t, filepath.Join(dir, "main.js"), "import { x } from './missing.js';\nconsole.log(x);\n")
	dst := filepath.Join(dir, "out.js")

	err := NewBundle(DefaultBundleOptions()).Run(context.Background(), []string{entry}, dst)
	require.Error(t, err)
	assert.True(t, IsKind(err, ToolError))
	assert.NoFileExists(t, dst)
}

func TestPrecompileConcatenatesInOrder(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, filepath.Join(dir, "tpl", "zeta.hbs"), "<p class=\"x\">{{firstValue}}</p>\n")
	second := writeFile(t, filepath.Join(dir, "tpl", "alpha.hbs"), "<div>\n  {{secondValue}}\n</div>\n")
	dst := filepath.Join(dir, "dist", "templates.js")

	p := NewPrecompile(PrecompileOptions{})
	assert.True(t, IsMulti(p))
	require.NoError(t, p.Run(context.Background(), []string{first, second}, dst))

	out := readFile(t, dst)
	assert.Contains(t, out, "Handlebars.templates")
	i, j := strings.Index(out, "firstValue"), strings.Index(out, "secondValue")
	require.NotEqual(t, -1, i)
	require.NotEqual(t, -1, j)
	assert.Less(t, i, j)
	assert.Less(t, strings.Index(out, "zeta"), strings.Index(out, "alpha"))
}

func TestPrecompileCustomNamespace(t *testing.T) {
	dir := t.TempDir()
	src := writeFile(t, filepath.Join(dir, "row.hbs"), "<tr>{{name}}</tr>")
	dst := filepath.Join(dir, "t.js")

	require.NoError(t, NewPrecompile(PrecompileOptions{Namespace: "App.tpl"}).Run(context.Background(), []string{src}, dst))
	assert.Contains(t, readFile(t, dst), "App.tpl")
}

func TestPrecompileMixedExtensions(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a.hbs"), "{{a}}")
	b := writeFile(t, filepath.Join(dir, "b.html"), "{{b}}")
	dst := filepath.Join(dir, "t.js")

	err := NewPrecompile(PrecompileOptions{}).Run(context.Background(), []string{a, b}, dst)
	require.Error(t, err)
	assert.True(t, IsKind(err, ConfigError))
	assert.NoFileExists(t, dst)
}

func TestPrecompileUnknownCompiler(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a.hbs"), "{{a}}")
	err := NewPrecompile(PrecompileOptions{Compiler: "mustache"}).Run(context.Background(), []string{a}, filepath.Join(dir, "t.js"))
	assert.True(t, IsKind(err, ConfigError))
}

func TestCopy(t *testing.T) {
	dir := t.TempDir()
	payload := "\x00\x01binary\xffdata"
	src := writeFile(t, filepath.Join(dir, "img", "logo.bin"), payload)
	dst := filepath.Join(dir, "a", "b", "c", "logo.bin")

	require.NoError(t, NewCopy(CopyOptions{}).Run(context.Background(), []string{src}, dst))
	assert.Equal(t, payload, readFile(t, dst))

	// parent directories already exist the second time
	require.NoError(t, NewCopy(CopyOptions{}).Run(context.Background(), []string{src}, dst))
}

func TestSingleSourceStagesRejectLists(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, filepath.Join(dir, "a.js"), "1")
	b := writeFile(t, filepath.Join(dir, "b.js"), "2")

	for _, s := range []Stage{NewCopy(CopyOptions{}), NewMinify(MinifyOptions{}), NewStyle(StyleOptions{}), NewBundle(BundleOptions{})} {
		err := s.Run(context.Background(), []string{a, b}, filepath.Join(dir, "out"))
		assert.True(t, IsKind(err, ConfigError), s.Kind())
		assert.False(t, IsMulti(s))
	}
}

func TestStageErrorMessage(t *testing.T) {
	err := toolErr(KindMinify, "/a/x.js", "/b/x.js", "diag", errors.New("boom"))
	assert.Equal(t, "minify: tool error (/a/x.js): boom", err.Error())
	assert.Equal(t, ToolError, KindOf(err))
	assert.Equal(t, ToolError, KindOf(errors.New("plain")))
	assert.False(t, IsKind(nil, ToolError))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("precompile")
	require.NoError(t, err)
	assert.Equal(t, KindPrecompile, k)

	_, err = ParseKind("uglify")
	assert.Error(t, err)
}
