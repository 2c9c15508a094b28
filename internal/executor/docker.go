package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/silogy-io/smelt/pb"
	"golang.org/x/xerrors"
)

// Docker runs commands inside a container via the docker CLI, the way the
// teacher shells out to external tools (internal/batch/batch.go's
// `exec.CommandContext(ctx, "distri", "build")`) rather than linking a
// Docker client library -- no Docker SDK appears anywhere in the
// retrieval pack.
type Docker struct {
	Cfg pb.CfgDocker
}

// NewDocker returns the Docker executor backend configured from cfg.
func NewDocker(cfg pb.CfgDocker) *Docker { return &Docker{Cfg: cfg} }

func (d *Docker) Run(ctx context.Context, spec RunSpec) (Outcome, error) {
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

	if d.Cfg.ImageName == "" {
		return Outcome{ExitCode: -1}, xerrors.Errorf("docker backend: no image configured")
	}

	containerName := dockerContainerName(spec.Ref)
	args := []string{"run", "--rm", "-i",
		"--name", containerName,
		"-v", spec.WorkingDir + ":" + spec.WorkingDir,
		"-w", spec.WorkingDir,
	}
	for host, container := range d.Cfg.AdditionalMounts {
		args = append(args, "-v", host+":"+container)
	}
	for _, u := range d.Cfg.Ulimits {
		args = append(args, "--ulimit", fmt.Sprintf("%s=%d:%d", u.Name, u.Soft, u.Hard))
	}
	if d.Cfg.MacAddress != "" {
		args = append(args, "--mac-address", d.Cfg.MacAddress)
	}
	rt := spec.Command.Runtime
	if rt.NumCPUs > 0 {
		args = append(args, "--cpus", fmt.Sprintf("%d", rt.NumCPUs))
	}
	if rt.MaxMemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", rt.MaxMemoryMB))
	}
	args = append(args,
		"-e", "SMELT_ROOT="+spec.SmeltRoot,
		"-e", "TARGET_ROOT="+spec.TargetRoot(),
	)
	for k, v := range rt.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	args = append(args, d.Cfg.ImageName, "bash", scriptPath)

	runCtx := ctx
	if rt.TimeoutS > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(rt.TimeoutS)*time.Second)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, "docker", args...)
	lw := &lineWriter{onLine: spec.OnStdout}
	cmd.Stdout = io.MultiWriter(logFile, lw)
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		// The docker CLI itself could not be spawned; reported as
		// CommandFinished{-1} per spec.md §4.3. An unreachable daemon or a
		// failed image pull does not fail Start: it surfaces later as a
		// non-zero exit of `docker run`.
		return Outcome{ExitCode: -1}, nil
	}

	pollCtx, cancelPoll := context.WithCancel(runCtx)
	if spec.OnPID != nil {
		go pollContainerPID(pollCtx, containerName, spec.OnPID)
	}

	waitErr := cmd.Wait()
	cancelPoll()
	lw.flush()
	if runCtx.Err() != nil {
		return Outcome{ExitCode: -9, TimedOut: true}, nil
	}
	return outcomeFromWaitErr(waitErr), nil
}

// dockerContainerName derives a --name for ref unique enough across
// concurrent runs, sanitized to Docker's container-name charset
// ([a-zA-Z0-9][a-zA-Z0-9_.-]*).
func dockerContainerName(ref string) string {
	var b strings.Builder
	b.WriteString("smelt-")
	for _, r := range ref {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	fmt.Fprintf(&b, "-%d", os.Getpid())
	return b.String()
}

// pollContainerPID polls `docker inspect` for containerName's PID as seen
// from the host and reports it once via onPID, the way the sampling
// profiler (C4) expects to attach to a containerized command -- internal
// process IDs inside the container's own namespace are meaningless to a
// host-side /proc walk.
func pollContainerPID(ctx context.Context, containerName string, onPID func(int)) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		out, err := exec.CommandContext(ctx, "docker", "inspect", "-f", "{{.State.Pid}}", containerName).Output()
		if err != nil {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
		if err != nil || pid <= 0 {
			continue
		}
		onPID(pid)
		return
	}
}
