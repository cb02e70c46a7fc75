// Package logger builds the console slog.Logger used by the CLI: one line per
// record, coloured level tag, then key=value attributes.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

const timeFormat = "15:04:05"

type Handler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Leveler
	colors map[slog.Level]*color.Color
	prefix string // group prefix for attribute keys
	attrs  string // preformatted attributes from WithAttrs
}

// New returns a logger writing to w at the given level. colorize forces
// colour on or off regardless of the terminal.
func New(w io.Writer, level slog.Level, colorize bool) *slog.Logger {
	return slog.New(NewHandler(w, level, colorize))
}

func NewHandler(w io.Writer, level slog.Leveler, colorize bool) *Handler {
	colors := map[slog.Level]*color.Color{
		slog.LevelDebug: color.New(color.FgBlue),
		slog.LevelInfo:  color.New(color.FgGreen),
		slog.LevelWarn:  color.New(color.FgYellow),
		slog.LevelError: color.New(color.FgRed, color.Bold),
	}
	for _, c := range colors {
		if colorize {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return &Handler{mu: &sync.Mutex{}, w: w, level: level, colors: colors}
}

// ParseLevel maps a textual level to slog; unknown values fall back to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	if !r.Time.IsZero() {
		sb.WriteString(r.Time.Format(timeFormat))
		sb.WriteByte(' ')
	}
	sb.WriteString(h.levelTag(r.Level))
	sb.WriteByte(' ')
	sb.WriteString(r.Message)
	sb.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&sb, h.prefix, a)
		return true
	})
	sb.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var sb strings.Builder
	sb.WriteString(h.attrs)
	for _, a := range attrs {
		writeAttr(&sb, h.prefix, a)
	}
	clone := *h
	clone.attrs = sb.String()
	return &clone
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func (h *Handler) levelTag(l slog.Level) string {
	base := slog.LevelError
	switch {
	case l < slog.LevelInfo:
		base = slog.LevelDebug
	case l < slog.LevelWarn:
		base = slog.LevelInfo
	case l < slog.LevelError:
		base = slog.LevelWarn
	}
	return h.colors[base].Sprintf("%-5s", l.String())
}

func writeAttr(sb *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(sb, p, ga)
		}
		return
	}
	sb.WriteByte(' ')
	sb.WriteString(prefix)
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	sb.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindString:
		s = v.String()
	case slog.KindDuration:
		return v.Duration().Round(time.Microsecond).String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	default:
		s = fmt.Sprint(v.Any())
	}
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}
