package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"autumn/modules/config"
	"autumn/modules/logger"
	"autumn/modules/profiler"
)

// Globals are the flags shared by every command.
type Globals struct {
	Config  string `short:"c" help:"Pipeline file (.toml, .yaml). Defaults to $AUTUMN_CONFIG or autumn.toml." type:"path"`
	Verbose bool   `short:"v" help:"Log every stage invocation"`
	NoColor bool   `name:"no-color" help:"Disable coloured output"`

	CPUProfile string `name:"cpu-profile" help:"Write a CPU profile of the session to this file" type:"path"`
	MemProfile string `name:"mem-profile" help:"Write a heap profile to this file on exit" type:"path"`

	level slog.LevelVar
}

type CLI struct {
	Globals

	Run      RunCmd      `cmd:"" default:"1" help:"Build, then keep watching when watch.enabled is set"`
	Build    BuildCmd    `cmd:"" help:"Build once and exit"`
	Watch    WatchCmd    `cmd:"" help:"Build, then rebuild on every change"`
	Plan     PlanCmd     `cmd:"" help:"Print what each entry would build without running it"`
	Manifest ManifestCmd `cmd:"" help:"List the outputs recorded by the last run"`
}

// AfterApply runs after flag parsing and installs the default logger.
func (g *Globals) AfterApply() error {
	if g.NoColor {
		color.NoColor = true
	}
	if g.Verbose {
		g.level.Set(slog.LevelDebug)
	}
	slog.SetDefault(slog.New(logger.NewHandler(os.Stderr, &g.level, !color.NoColor)))
	return nil
}

// load reads the pipeline file. The configured log level applies unless
// -v was given.
func (g *Globals) load() (*config.Config, error) {
	path := config.Resolve(g.Config)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if !g.Verbose {
		g.level.Set(logger.ParseLevel(cfg.Logging.Level))
	}
	slog.Debug("Loaded configuration", "path", path, "entries", len(cfg.Entries))
	return cfg, nil
}

type RunCmd struct{}

func (c *RunCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	return serve(g, cfg, cfg.Watch.Enabled)
}

type BuildCmd struct{}

func (c *BuildCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	return serve(g, cfg, false)
}

type WatchCmd struct {
	QuietPeriod string `name:"quiet-period" help:"Override watch.quiet_period, e.g. 500ms"`
}

func (c *WatchCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if c.QuietPeriod != "" {
		if err := cfg.Watch.QuietPeriod.UnmarshalText([]byte(c.QuietPeriod)); err != nil {
			return fmt.Errorf("--quiet-period: %w", err)
		}
	}
	return serve(g, cfg, true)
}

func serve(g *Globals, cfg *config.Config, watch bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prof, err := profiler.Start(g.CPUProfile, g.MemProfile)
	if err != nil {
		return err
	}
	defer func() {
		if err := prof.Stop(); err != nil {
			slog.Warn("Could not write profiles", "error", err)
		}
		st := prof.Stats()
		slog.Debug("Session finished", "uptime", st.Uptime.Round(time.Millisecond), "alloc", st.AllocatedMem, "gc", st.NumGC)
	}()

	a, err := newApp(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Start(ctx, watch)
}

func main() {
	// A missing .env is fine; anything else is worth a warning.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "autumn: reading .env: %v\n", err)
	}

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("autumn"),
		kong.Description("Declarative asset pipeline with file watching and browser reload."),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
	)
	if err := ctx.Run(); err != nil {
		slog.Error("autumn failed", "command", ctx.Command(), "error", err)
		os.Exit(1)
	}
}
