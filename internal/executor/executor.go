// Package executor implements the executor backends (C3): running a
// single command, either as a local process or inside a container,
// streaming its stdout and reporting its terminal outcome. Grounded on
// internal/build/build.go's exec.CommandContext/SysProcAttr usage and
// internal/batch/batch.go's per-package log file capture in the teacher.
package executor

import (
	"context"
	"path/filepath"

	"github.com/silogy-io/smelt"
)

// RunSpec is everything one Executor.Run invocation needs to execute a
// single command.
type RunSpec struct {
	Ref        string // the command's name, used for TARGET_ROOT and the Docker container name
	Command    smelt.Command
	WorkingDir string // resolved working directory, already created
	SmeltRoot  string // root passed through as SMELT_ROOT and to derive TARGET_ROOT

	// OnStdout is called for each line of merged stdout/stderr, in order,
	// as the command produces it. May be nil.
	OnStdout func(line []byte)

	// OnPID is called once with the root pid of the spawned process tree,
	// as seen from the host, so the sampling profiler (C4) can attach to
	// it. May be nil. Not called if the process never starts.
	OnPID func(pid int)
}

// TargetRoot returns the per-command artifact root TARGET_ROOT points at:
// <smelt_root>/smelt-out/<ref>, per spec.md §6.
func (s RunSpec) TargetRoot() string { return filepath.Join(s.SmeltRoot, "smelt-out", s.Ref) }

// Outcome is the terminal result of a Run call.
type Outcome struct {
	ExitCode int32
	TimedOut bool // true iff the command was killed because its context ended: timeout_s elapsed or the run was cancelled
}

// Executor runs a single command to completion. Run never returns an error
// for command-level failures (non-zero exit, timeout, spawn failure); those
// are all reported via Outcome and the caller's own event publication, per
// spec.md §4.3. Run returns a non-nil error (with ExitCode -1) only when
// preparing the command fails: writing command.sh, rotating or creating
// command.out, or, for Docker, no image being configured.
type Executor interface {
	Run(ctx context.Context, spec RunSpec) (Outcome, error)
}
