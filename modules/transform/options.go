package transform

// StyleOptions configures the style stage.
type StyleOptions struct {
	// SourceMap writes dst+".map" and a reference comment. Default false.
	SourceMap bool
}

// MinifyOptions configures the script minify stage.
type MinifyOptions struct {
	// SourceMap writes dst+".map" and a reference comment. Default false.
	SourceMap bool
}

// BundleOptions configures the script bundle stage.
type BundleOptions struct {
	// SourceMap inlines a map pointing at the original modules. Default false.
	SourceMap bool
	// Uglify minifies the bundle in place once it is fully written. Default true.
	Uglify bool
	// UglifySourceMap writes a sidecar map for the minified bundle. Default true.
	UglifySourceMap bool
}

// DefaultBundleOptions is the non-debug profile: minified, external map of
// the bundled output.
func DefaultBundleOptions() BundleOptions {
	return BundleOptions{SourceMap: false, Uglify: true, UglifySourceMap: true}
}

// DebugBundleOptions keeps the bundle readable with an inline map back to the
// original modules and skips minification.
func DebugBundleOptions() BundleOptions {
	return BundleOptions{SourceMap: true, Uglify: false, UglifySourceMap: false}
}

const (
	CompilerBuiltin    = "builtin"
	CompilerHandlebars = "handlebars"

	DefaultNamespace = "Handlebars.templates"
)

// PrecompileOptions configures the template precompile stage.
type PrecompileOptions struct {
	// Compiler is "builtin" (default) or "handlebars" for the external CLI.
	Compiler string
	// Namespace receives the compiled templates. Default "Handlebars.templates".
	Namespace string
	// Binary overrides the handlebars executable. Default "handlebars".
	Binary string
}

func (o PrecompileOptions) withDefaults() PrecompileOptions {
	if o.Compiler == "" {
		o.Compiler = CompilerBuiltin
	}
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.Binary == "" {
		o.Binary = "handlebars"
	}
	return o
}
