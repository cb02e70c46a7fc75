package transform

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies stage failures.
type ErrorKind string

const (
	// ConfigError: the stage cannot handle this input (unsupported extension,
	// wrong source count). Only this invocation is aborted.
	ConfigError ErrorKind = "config"
	// ToolError: the compiler, bundler or minifier reported a failure.
	ToolError ErrorKind = "tool"
	// IOError: reading a source or writing the destination failed.
	IOError ErrorKind = "io"
)

// StageError is the failure outcome of a stage invocation.
type StageError struct {
	Kind    ErrorKind
	Stage   Kind
	Src     string
	Dst     string
	Message string
	// Diagnostic is the upstream tool's raw output, when there is one.
	Diagnostic string
	Err        error
}

func (e *StageError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s error", e.Stage, e.Kind)
	if e.Src != "" {
		fmt.Fprintf(&sb, " (%s)", e.Src)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err. Errors that are not stage errors
// count as tool errors.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ToolError
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func configErr(stage Kind, src, dst, msg string) *StageError {
	return &StageError{Kind: ConfigError, Stage: stage, Src: src, Dst: dst, Message: msg}
}

func toolErr(stage Kind, src, dst, diag string, err error) *StageError {
	return &StageError{Kind: ToolError, Stage: stage, Src: src, Dst: dst, Diagnostic: diag, Err: err}
}

func ioErr(stage Kind, src, dst string, err error) *StageError {
	return &StageError{Kind: IOError, Stage: stage, Src: src, Dst: dst, Err: err}
}
