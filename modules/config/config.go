// Package config loads the pipeline declaration from TOML or YAML.
//
// Every section has documented defaults; keys the schema does not know are
// ignored. String values naming paths or URLs may reference environment
// variables as $VAR or ${VAR}.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"autumn/modules/debounce"
)

const (
	DefaultFile     = "autumn.toml"
	DefaultManifest = ".autumn/manifest.msgpack"
	EnvFile         = "AUTUMN_CONFIG"
)

type Config struct {
	Watch   WatchConfig   `toml:"watch" yaml:"watch"`
	Build   BuildConfig   `toml:"build" yaml:"build"`
	Entries []EntryConfig `toml:"entries" yaml:"entries"`
	Reload  ReloadConfig  `toml:"reload" yaml:"reload"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
	Logging LoggingConfig `toml:"logging" yaml:"logging"`

	path string
}

type WatchConfig struct {
	// Enabled keeps the process alive and rebuilds on change. Default true.
	Enabled bool `toml:"enabled" yaml:"enabled"`
	// Patterns to watch. Default: every entry's files.
	Patterns []string `toml:"patterns" yaml:"patterns"`
	// QuietPeriod is the cooldown after a triggered build. Default 3s.
	QuietPeriod Duration `toml:"quiet_period" yaml:"quiet_period"`
}

type BuildConfig struct {
	// Concurrency bounds parallel stage invocations. Default 0, one per CPU.
	Concurrency int `toml:"concurrency" yaml:"concurrency"`
	// Manifest is where the output manifest is kept. Empty disables it.
	Manifest string `toml:"manifest" yaml:"manifest"`
}

type EntryConfig struct {
	Name    string        `toml:"name" yaml:"name"`
	Files   []string      `toml:"files" yaml:"files"`
	Rules   [][]string    `toml:"rules" yaml:"rules"`
	Dest    string        `toml:"dest" yaml:"dest"`
	Stage   string        `toml:"stage" yaml:"stage"`
	Options OptionsConfig `toml:"options" yaml:"options"`
}

// OptionsConfig is the union of every stage's options. Each stage reads
// the keys it knows; unset pointers take the stage default.
type OptionsConfig struct {
	SourceMap       *bool  `toml:"source_map" yaml:"source_map"`
	Uglify          *bool  `toml:"uglify" yaml:"uglify"`
	UglifySourceMap *bool  `toml:"uglify_source_map" yaml:"uglify_source_map"`
	Debug           bool   `toml:"debug" yaml:"debug"`
	Compiler        string `toml:"compiler" yaml:"compiler"`
	Namespace       string `toml:"namespace" yaml:"namespace"`
	Binary          string `toml:"binary" yaml:"binary"`
}

type ReloadConfig struct {
	// URL of the site to proxy. Empty means no reload step.
	URL string `toml:"url" yaml:"url"`
	// Listen is the reload server address. Default ":3000".
	Listen string `toml:"listen" yaml:"listen"`
	// WebRoot receives the browser client script. Default "./".
	WebRoot string     `toml:"web_root" yaml:"web_root"`
	HTTPS   *TLSConfig `toml:"https" yaml:"https"`
}

type TLSConfig struct {
	Key  string `toml:"key" yaml:"key"`
	Cert string `toml:"cert" yaml:"cert"`
}

type MetricsConfig struct {
	// Listen serves /metrics on its own address. Empty disables it.
	Listen string `toml:"listen" yaml:"listen"`
}

type LoggingConfig struct {
	// Level is debug, info, warn or error. Default info.
	Level string `toml:"level" yaml:"level"`
}

// Duration accepts Go duration strings such as "3s" or "1500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Watch: WatchConfig{
			Enabled:     true,
			QuietPeriod: Duration{debounce.QuietPeriod},
		},
		Build: BuildConfig{
			Manifest: DefaultManifest,
		},
		Reload: ReloadConfig{
			Listen:  ":3000",
			WebRoot: "./",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Resolve picks the configuration file: the explicit path, then
// $AUTUMN_CONFIG, then DefaultFile.
func Resolve(path string) string {
	if path != "" {
		return path
	}
	if env := os.Getenv(EnvFile); env != "" {
		return env
	}
	return DefaultFile
}

// LoadConfig decodes path according to its extension, applies defaults and
// validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported format %q", path, ext)
	}

	cfg.path = path
	cfg.expandEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Path is the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) expandEnv() {
	for i := range c.Watch.Patterns {
		c.Watch.Patterns[i] = os.ExpandEnv(c.Watch.Patterns[i])
	}
	for i := range c.Entries {
		e := &c.Entries[i]
		for j := range e.Files {
			e.Files[j] = os.ExpandEnv(e.Files[j])
		}
		e.Dest = os.ExpandEnv(e.Dest)
	}
	c.Build.Manifest = os.ExpandEnv(c.Build.Manifest)
	c.Reload.URL = os.ExpandEnv(c.Reload.URL)
	c.Reload.WebRoot = os.ExpandEnv(c.Reload.WebRoot)
	if c.Reload.HTTPS != nil {
		c.Reload.HTTPS.Key = os.ExpandEnv(c.Reload.HTTPS.Key)
		c.Reload.HTTPS.Cert = os.ExpandEnv(c.Reload.HTTPS.Cert)
	}
}

// Validate reports every problem found, joined.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Entries) == 0 {
		errs = append(errs, errors.New("no entries declared"))
	}
	if c.Watch.QuietPeriod.Duration < 0 {
		errs = append(errs, errors.New("watch.quiet_period must not be negative"))
	}
	if c.Build.Concurrency < 0 {
		errs = append(errs, errors.New("build.concurrency must not be negative"))
	}
	if h := c.Reload.HTTPS; h != nil && (h.Key == "" || h.Cert == "") {
		errs = append(errs, errors.New("reload.https needs both key and cert"))
	}
	for i, e := range c.Entries {
		if _, err := e.Build(); err != nil {
			errs = append(errs, fmt.Errorf("entries[%d]: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
