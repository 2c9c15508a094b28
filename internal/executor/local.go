package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// killGrace is how long a worker waits between SIGTERM and SIGKILL, per
// spec.md §4.3 and §5.
const killGrace = 5 * time.Second

// Local runs commands as a bash subprocess on the host.
type Local struct{}

// NewLocal returns the local executor backend.
func NewLocal() *Local { return &Local{} }

func (l *Local) Run(ctx context.Context, spec RunSpec) (Outcome, error) {
	scriptPath := filepath.Join(spec.WorkingDir, "command.sh")
	logPath := filepath.Join(spec.WorkingDir, "command.out")

	script := "#!/bin/bash\nset -e\n" + joinLines(spec.Command.Script) + "\n"
	if err := os.WriteFile(scriptPath, []byte(script), 0755); err != nil {
		return Outcome{ExitCode: -1}, xerrors.Errorf("writing command.sh: %w", err)
	}

	if err := rotateLog(spec.WorkingDir); err != nil {
		return Outcome{ExitCode: -1}, xerrors.Errorf("rotating command.out: %w", err)
	}
	logFile, err := os.Create(logPath)
	if err != nil {
		return Outcome{ExitCode: -1}, xerrors.Errorf("creating command.out: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command("bash", scriptPath)
	cmd.Dir = spec.WorkingDir
	cmd.Env = buildEnv(spec.Command.Runtime.Env, spec.SmeltRoot, spec.TargetRoot())
	// Setpgid puts the child (and anything it forks) in its own process
	// group, so SIGTERM/SIGKILL below reaches the whole subtree rather
	// than just the immediate bash process.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	lw := &lineWriter{onLine: spec.OnStdout}
	out := io.MultiWriter(logFile, lw)
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		return Outcome{ExitCode: -1}, nil
	}
	if spec.OnPID != nil {
		spec.OnPID(cmd.Process.Pid)
	}

	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if t := spec.Command.Runtime.TimeoutS; t > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, time.Duration(t)*time.Second)
		defer cancelTimeout()
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	var timedOut bool
	select {
	case err := <-waitErr:
		lw.flush()
		return outcomeFromWaitErr(err), nil
	case <-runCtx.Done():
		timedOut = true
	}

	pgid := cmd.Process.Pid
	_ = unix.Kill(-pgid, syscall.SIGTERM)
	select {
	case err := <-waitErr:
		lw.flush()
		if timedOut {
			return Outcome{ExitCode: -9, TimedOut: true}, nil
		}
		return outcomeFromWaitErr(err), nil
	case <-time.After(killGrace):
	}

	_ = unix.Kill(-pgid, syscall.SIGKILL)
	<-waitErr
	lw.flush()
	return Outcome{ExitCode: -9, TimedOut: true}, nil
}

func outcomeFromWaitErr(err error) Outcome {
	if err == nil {
		return Outcome{ExitCode: 0}
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return Outcome{ExitCode: int32(exitErr.ExitCode())}
	}
	return Outcome{ExitCode: -1}
}

func joinLines(lines []string) string {
	var b bytes.Buffer
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	return b.String()
}

func buildEnv(env map[string]string, smeltRoot, targetRoot string) []string {
	// A clean environment plus declared env, per spec.md §4.3: no
	// inherited variables leak into the command's process. SMELT_ROOT and
	// TARGET_ROOT are always present, per spec.md §6.
	base := []string{
		"PATH=/usr/bin:/bin:/usr/local/bin",
		"HOME=" + os.Getenv("HOME"),
		"SMELT_ROOT=" + smeltRoot,
		"TARGET_ROOT=" + targetRoot,
	}
	for k, v := range env {
		base = append(base, fmt.Sprintf("%s=%s", k, v))
	}
	return base
}

// lineWriter buffers partial writes and invokes onLine once per complete
// line, in order. Safe for the single writer goroutine that cmd.Stdout/
// cmd.Stderr are multiplexed through.
type lineWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	onLine func([]byte)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	if w.onLine == nil {
		return len(p), nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadBytes('\n')
		if err != nil {
			// incomplete line; push it back for the next Write or flush
			w.buf.Reset()
			w.buf.Write(line)
			break
		}
		w.onLine(bytes.TrimRight(line, "\n"))
	}
	return len(p), nil
}

func (w *lineWriter) flush() {
	if w.onLine == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.onLine(w.buf.Bytes())
		w.buf.Reset()
	}
}
