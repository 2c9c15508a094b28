package yamlcmd

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/silogy-io/smelt"
)

const sampleYAML = `
- name: a
  target_type: build
  script:
    - "echo hi"
  runtime:
    num_cpus: 1
    max_memory_mb: 512
    timeout: 60
- name: b
  target_type: test
  script:
    - "echo hi"
  dependencies: [a]
  outputs: [out/b.bin]
  runtime:
    num_cpus: 2
    max_memory_mb: 1024
    timeout: 120
    env:
      FOO: bar
  on_failure: b_rerun
`

func TestDecode(t *testing.T) {
	cmds, err := Decode([]byte(sampleYAML), "/smelt-root")
	if err != nil {
		t.Fatal(err)
	}
	if len(cmds) != 2 {
		t.Fatalf("got %d commands, want 2", len(cmds))
	}
	if cmds[0].WorkingDir != "/smelt-root" {
		t.Errorf("WorkingDir default = %q, want /smelt-root", cmds[0].WorkingDir)
	}
	if cmds[1].TargetType != smelt.TargetTest {
		t.Errorf("TargetType = %v, want test", cmds[1].TargetType)
	}
	if cmds[1].OnFailure != "b_rerun" {
		t.Errorf("OnFailure = %q, want b_rerun", cmds[1].OnFailure)
	}
}

func TestRoundTrip(t *testing.T) {
	cmds, err := Decode([]byte(sampleYAML), "/smelt-root")
	if err != nil {
		t.Fatal(err)
	}
	encoded, err := Encode(cmds)
	if err != nil {
		t.Fatal(err)
	}
	again, err := Decode(encoded, "/smelt-root")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(cmds, again); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsUnknownTargetType(t *testing.T) {
	_, err := Decode([]byte(`
- name: a
  target_type: bogus
  script: ["echo hi"]
  runtime: {num_cpus: 1, max_memory_mb: 1, timeout: 1}
`), "/smelt-root")
	if err == nil {
		t.Fatal("expected error for unknown target_type")
	}
}
