package executor

import (
	"context"
	"testing"

	"github.com/silogy-io/smelt"
	"github.com/silogy-io/smelt/pb"
)

func TestDockerRunRequiresImage(t *testing.T) {
	dir := newWorkDir(t)
	d := NewDocker(pb.CfgDocker{})
	spec := RunSpec{
		Ref:        "a",
		Command:    smelt.Command{Name: "a", Script: []string{"true"}},
		WorkingDir: dir,
	}
	out, err := d.Run(context.Background(), spec)
	if err == nil {
		t.Fatal("expected an error for a Docker backend with no image configured")
	}
	if out.ExitCode != -1 {
		t.Fatalf("exit code = %d, want -1", out.ExitCode)
	}
}
