// Package pipeline runs a declared list of entries end to end.
//
// Entries run in declaration order. Each entry's file set is resolved only
// when the entry is reached, so it sees everything written by the entries
// before it. Tasks of one entry run concurrently and all settle before the
// next entry is resolved. Only after the last entry, and only when nothing
// failed, is the reload directive fired.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"autumn/modules/cache"
	"autumn/modules/glob"
	"autumn/modules/metrics"
	"autumn/modules/pathrule"
	"autumn/modules/reload"
	"autumn/modules/transform"
)

// Entry is one declared rule: a file set, how to name outputs and the stage
// that produces them.
type Entry struct {
	Name  string
	Files []string
	Rules pathrule.Rules
	// Dest is a fixed destination. It is required for stages that fold all
	// sources into one output and overrides Rules otherwise.
	Dest  string
	Stage transform.Stage
}

// Directive is the optional final reload step.
type Directive struct {
	URL     string
	Options reload.Options
}

// Reloader signals connected browsers. digest identifies the outputs of the
// run that triggered the reload.
type Reloader interface {
	Reload(ctx context.Context, url string, opts reload.Options, digest string) error
}

type Option func(*Pipeline)

func WithResolver(r *glob.Resolver) Option {
	return func(p *Pipeline) { p.resolver = r }
}

func WithReload(r Reloader, d Directive) Option {
	return func(p *Pipeline) {
		p.reloader = r
		p.directive = &d
	}
}

// WithManifest records written artifacts in m and, when path is not empty,
// saves it there after every run.
func WithManifest(m *cache.Manifest, path string) Option {
	return func(p *Pipeline) {
		p.manifest = m
		p.manifestPath = path
	}
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithConcurrency bounds how many stage invocations run at once. Zero or
// less selects runtime.NumCPU().
func WithConcurrency(n int) Option {
	return func(p *Pipeline) { p.concurrency = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

type Pipeline struct {
	entries      []Entry
	resolver     *glob.Resolver
	reloader     Reloader
	directive    *Directive
	manifest     *cache.Manifest
	manifestPath string
	metrics      *metrics.Recorder
	concurrency  int
	logger       *slog.Logger
}

func New(entries []Entry, opts ...Option) *Pipeline {
	p := &Pipeline{
		entries: entries,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.resolver == nil {
		p.resolver = glob.NewResolver(p.logger)
	}
	if p.manifest == nil {
		p.manifest = cache.NewManifest()
	}
	if p.concurrency <= 0 {
		p.concurrency = runtime.NumCPU()
	}
	for i := range p.entries {
		if p.entries[i].Name == "" {
			p.entries[i].Name = fmt.Sprintf("entry-%d", i+1)
		}
	}
	return p
}

func (p *Pipeline) Entries() []Entry {
	return p.entries
}

// Patterns is the union of every entry's file patterns in declaration order.
func (p *Pipeline) Patterns() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range p.entries {
		for _, f := range e.Files {
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

func (p *Pipeline) Manifest() *cache.Manifest {
	return p.manifest
}

// Task is one planned stage invocation.
type Task struct {
	Entry string
	Stage transform.Kind
	Src   []string
	Dst   string
	// Err is set when the task cannot be run as declared.
	Err error

	stage transform.Stage
}

// Plan resolves every entry against the filesystem as it is now. Entries
// reading the outputs of earlier entries may resolve differently during Run.
func (p *Pipeline) Plan() []Task {
	var tasks []Task
	for _, e := range p.entries {
		tasks = append(tasks, p.planEntry(e)...)
	}
	return tasks
}

func (p *Pipeline) planEntry(e Entry) []Task {
	if e.Stage == nil {
		return []Task{{Entry: e.Name, Err: fmt.Errorf("entry %s: no stage", e.Name)}}
	}
	kind := e.Stage.Kind()
	files := p.resolver.Resolve(e.Files)
	if len(files) == 0 {
		p.logger.Debug("No files matched", "entry", e.Name, "patterns", e.Files)
		return nil
	}

	if transform.IsMulti(e.Stage) {
		t := Task{Entry: e.Name, Stage: kind, Src: files, Dst: e.Dest, stage: e.Stage}
		if e.Dest == "" {
			t.Err = &transform.StageError{
				Kind:    transform.ConfigError,
				Stage:   kind,
				Message: fmt.Sprintf("entry %s: %s needs a fixed destination", e.Name, kind),
			}
		}
		return []Task{t}
	}

	tasks := make([]Task, 0, len(files))
	for _, f := range files {
		t := Task{Entry: e.Name, Stage: kind, Src: []string{f}, stage: e.Stage}
		switch {
		case e.Dest != "" && len(files) > 1:
			t.Dst = e.Dest
			t.Err = &transform.StageError{
				Kind:    transform.ConfigError,
				Stage:   kind,
				Src:     f,
				Dst:     e.Dest,
				Message: fmt.Sprintf("entry %s: fixed destination matched %d sources", e.Name, len(files)),
			}
		case e.Dest != "":
			t.Dst = e.Dest
		default:
			// Rules may leave the path unchanged; the stage then rewrites
			// its source in place.
			t.Dst = e.Rules.Apply(f)
		}
		tasks = append(tasks, t)
	}
	return tasks
}

// Outcome is the settled result of one task.
type Outcome struct {
	Task     Task
	Err      error
	Duration time.Duration
	// Changed reports whether the destination content differs from the
	// previous run.
	Changed bool
}

// Report describes one run.
type Report struct {
	ID        string
	Started   time.Time
	Duration  time.Duration
	Outcomes  []Outcome
	Digest    string
	Reloaded  bool
	ReloadErr error
}

// Failed returns the outcomes that ended in an error, in plan order.
func (r *Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

func (r *Report) Changed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil && o.Changed {
			n++
		}
	}
	return n
}

// Err joins every task failure and the reload failure, if any.
func (r *Report) Err() error {
	var errs []error
	for _, o := range r.Failed() {
		errs = append(errs, o.Err)
	}
	if r.ReloadErr != nil {
		errs = append(errs, fmt.Errorf("reload: %w", r.ReloadErr))
	}
	return errors.Join(errs...)
}

// Run executes every entry once and returns after all tasks have settled.
// Failures never stop other tasks and earlier writes are kept.
func (p *Pipeline) Run(ctx context.Context) *Report {
	report := &Report{ID: uuid.NewString(), Started: time.Now()}
	logger := p.logger.With("run", report.ID[:8])

	for _, e := range p.entries {
		report.Outcomes = append(report.Outcomes, p.runEntry(ctx, logger, report.ID, e)...)
	}

	report.Digest = fmt.Sprintf("%016x", p.manifest.Digest())
	failed := report.Failed()
	for _, o := range failed {
		logFailure(logger, o)
	}

	if p.directive != nil && p.reloader != nil {
		if len(failed) > 0 {
			logger.Info("Skipping reload", "failures", len(failed))
		} else if err := p.reloader.Reload(ctx, p.directive.URL, p.directive.Options, report.Digest); err != nil {
			report.ReloadErr = err
			logger.Error("Reload failed", "url", p.directive.URL, "error", err)
		} else {
			report.Reloaded = true
		}
	}

	if p.manifestPath != "" {
		if err := p.manifest.Save(p.manifestPath); err != nil {
			logger.Warn("Could not save manifest", "path", p.manifestPath, "error", err)
		}
	}

	report.Duration = time.Since(report.Started)
	outcome := "success"
	if report.Err() != nil {
		outcome = "failure"
	}
	p.metrics.ObserveRun(outcome, report.Duration)
	logger.Info("Build finished",
		"tasks", len(report.Outcomes),
		"changed", report.Changed(),
		"failed", len(failed),
		"reloaded", report.Reloaded,
		"duration", report.Duration.Round(time.Millisecond))
	return report
}

// runEntry resolves e now and returns once every one of its tasks settled.
func (p *Pipeline) runEntry(ctx context.Context, logger *slog.Logger, runID string, e Entry) []Outcome {
	tasks := p.planEntry(e)
	outcomes := make([]Outcome, len(tasks))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, task := range tasks {
		if task.Err != nil {
			outcomes[i] = Outcome{Task: task, Err: task.Err}
			continue
		}
		// Go blocks while the limit is reached, so tasks start in plan order.
		g.Go(func() error {
			outcomes[i] = p.runTask(ctx, logger, runID, task)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (p *Pipeline) runTask(ctx context.Context, logger *slog.Logger, runID string, task Task) Outcome {
	logger.Debug("Running stage", "entry", task.Entry, "stage", task.Stage, "src", task.Src, "dst", task.Dst)

	start := time.Now()
	err := task.stage.Run(ctx, task.Src, task.Dst)
	out := Outcome{Task: task, Err: err, Duration: time.Since(start)}

	result := "ok"
	if err != nil {
		result = string(transform.KindOf(err))
	}
	p.metrics.ObserveStage(string(task.Stage), result, out.Duration)
	if err != nil {
		return out
	}

	changed, rerr := p.manifest.Record(task.Dst, task.Src, runID)
	if rerr != nil {
		logger.Warn("Could not record output", "dst", task.Dst, "error", rerr)
	}
	out.Changed = changed
	logger.Debug("Stage done", "entry", task.Entry, "dst", task.Dst, "changed", changed, "duration", out.Duration)
	return out
}

func logFailure(logger *slog.Logger, o Outcome) {
	args := []any{"entry", o.Task.Entry, "stage", o.Task.Stage, "error", o.Err}
	var se *transform.StageError
	if errors.As(o.Err, &se) {
		args = append(args, "kind", se.Kind)
		if se.Diagnostic != "" {
			args = append(args, "diagnostic", se.Diagnostic)
		}
	}
	logger.Error("Stage failed", args...)
}

// ForEach resolves patterns now and calls fn for each matching file in
// order, stopping at the first error.
func ForEach(resolver *glob.Resolver, patterns []string, fn func(path string) error) error {
	if resolver == nil {
		resolver = glob.NewResolver(nil)
	}
	for _, path := range resolver.Resolve(patterns) {
		if err := fn(path); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}
