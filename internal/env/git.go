package env

import (
	"bytes"
	"os/exec"
	"strings"
)

// GitInfo is the subset of repository identity recorded on
// InvokeEvent_Start: git_hash, git_repo, git_branch. Grounded on the
// teacher's habit of shelling out to external tools rather than linking a
// git library (internal/batch/batch.go's scheduler.build shells out to
// "distri build"); no git plumbing library appears anywhere in the
// retrieval pack, so Smelt shells out to the system git binary the same
// way.
type GitInfo struct {
	Hash   string
	Repo   string
	Branch string
}

// CollectGitInfo inspects dir (expected to be inside a git work tree) and
// returns whatever identity it can determine. Fields that cannot be
// determined (not a git repository, no commits yet, detached remote) are
// left empty rather than causing an error, matching the "missing optional
// fields are omitted" rule for Invocation metadata.
func CollectGitInfo(dir string) GitInfo {
	var info GitInfo
	info.Hash = gitOutput(dir, "rev-parse", "HEAD")
	info.Branch = gitOutput(dir, "rev-parse", "--abbrev-ref", "HEAD")
	info.Repo = gitOutput(dir, "config", "--get", "remote.origin.url")
	return info
}

func gitOutput(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = nil
	if err := cmd.Run(); err != nil {
		return ""
	}
	return strings.TrimSpace(out.String())
}
