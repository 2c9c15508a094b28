package controller

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/silogy-io/smelt/pb"
)

func TestSetCommandsAndRunOne(t *testing.T) {
	dir, err := os.MkdirTemp("", "smelt-controller-test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	c := New(pb.ConfigureSmelt{SmeltRoot: dir, JobSlots: 2, Local: &pb.CfgLocal{}}, nil)
	doc := []byte(`
- name: a
  target_type: test
  script:
    - "true"
`)
	if err := c.SetCommands(doc); err != nil {
		t.Fatal(err)
	}

	stream, err := c.RunOne(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}

	var sawFinished, sawDone bool
	deadline := time.After(10 * time.Second)
	for !sawDone {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for run to finish")
		default:
		}
		e, err := stream.PopBlocking()
		if err != nil {
			t.Fatal(err)
		}
		if e.Body == pb.BodyCommandEvent && e.CommandEvent.Variant == pb.CmdFinished {
			sawFinished = true
		}
		if e.Body == pb.BodyInvokeEvent && e.InvokeEvent.Variant == pb.InvokeDone {
			sawDone = true
		}
	}
	if !sawFinished {
		t.Fatal("expected a CmdFinished event before InvokeDone")
	}
}

func TestRunWithoutCommandsIsClientError(t *testing.T) {
	c := New(pb.ConfigureSmelt{Local: &pb.CfgLocal{}}, nil)
	_, err := c.RunAll(context.Background())
	if err == nil {
		t.Fatal("expected an error running before any commands are installed")
	}
}

func TestSetCommandsRejectsBadYAML(t *testing.T) {
	c := New(pb.ConfigureSmelt{Local: &pb.CfgLocal{}}, nil)
	if err := c.SetCommands([]byte("not: [valid")); err == nil {
		t.Fatal("expected an error for malformed YAML")
	}
}
