package executor

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestRotateLogCompressesExistingOutput(t *testing.T) {
	dir := newWorkDir(t)
	logPath := filepath.Join(dir, "command.out")
	if err := os.WriteFile(logPath, []byte("first run output\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := rotateLog(dir); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(logPath); !os.IsNotExist(err) {
		t.Fatalf("expected command.out to be removed after rotation, stat err = %v", err)
	}

	rotated := filepath.Join(dir, "command.out.0.zst")
	f, err := os.Open(rotated)
	if err != nil {
		t.Fatalf("expected %s to exist: %v", rotated, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	defer dec.Close()

	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "first run output\n" {
		t.Fatalf("decompressed content = %q", got)
	}
}

func TestRotateLogNoPriorOutputIsNoop(t *testing.T) {
	dir := newWorkDir(t)
	if err := rotateLog(dir); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, got %v", entries)
	}
}

func TestRotateLogIncrementsOnRepeatedRotation(t *testing.T) {
	dir := newWorkDir(t)
	logPath := filepath.Join(dir, "command.out")

	if err := os.WriteFile(logPath, []byte("run one\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := rotateLog(dir); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(logPath, []byte("run two\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := rotateLog(dir); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"command.out.0.zst", "command.out.1.zst"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s to exist: %v", name, err)
		}
	}
}
