// Package recorder implements the invocation recorder (C7): a built-in
// bus subscriber that accumulates one run's per-command outcomes and, at
// InvokeEvent_Done, persists a signed Invocation record plus a JUnit
// report. Grounded on the teacher's internal/batch/batch.go, which
// likewise tails its own scheduler's event stream to build up a final
// summary rather than reconstructing it after the fact.
package recorder

import (
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/xerrors"

	"github.com/silogy-io/smelt/internal/bus"
	"github.com/silogy-io/smelt/internal/digest"
	"github.com/silogy-io/smelt/pb"
)

// outDir is the directory name under smelt_root holding recorded output,
// per spec.md §6 (run outputs).
const outDir = "smelt-out"

// Recorder accumulates one run's CommandEvents and writes the signed
// Invocation record and JUnit report once the run completes.
type Recorder struct {
	SmeltRoot    string
	SmeltVersion string

	// InputDigest looks up a command's §4.2a input_digest, typically
	// backed by the run's installed *graph.Graph. May be nil, in which
	// case TestResult.InputDigest is left empty.
	InputDigest func(name string) (string, bool)

	results map[string]pb.TestResult
	order   []string
	start   pb.Start
}

// New returns a Recorder that will persist to smeltRoot/smelt-out.
// inputDigest looks up a command's recorded input_digest (§4.2a); pass
// nil if unavailable.
func New(smeltRoot, smeltVersion string, inputDigest func(name string) (string, bool)) *Recorder {
	return &Recorder{
		SmeltRoot:    smeltRoot,
		SmeltVersion: smeltVersion,
		InputDigest:  inputDigest,
		results:      make(map[string]pb.TestResult),
	}
}

// Watch subscribes to b and drives Record to completion in a new
// goroutine, returning immediately. Errors are reported via errf, which
// may be nil.
func (r *Recorder) Watch(b *bus.Bus, errf func(error)) {
	stream := b.Subscribe()
	go func() {
		if err := r.Record(stream); err != nil && errf != nil {
			errf(err)
		}
	}()
}

// Record drains stream until the bus closes or an InvokeEvent_Done fires,
// then persists the accumulated Invocation and JUnit report. It is meant
// to run for the lifetime of a single run's EventStream.
func (r *Recorder) Record(stream *bus.EventStream) error {
	for {
		e, err := stream.PopBlocking()
		if err != nil {
			return nil // bus closed without an explicit InvokeDone; nothing to persist
		}
		switch e.Body {
		case pb.BodyInvokeEvent:
			switch e.InvokeEvent.Variant {
			case pb.InvokeStart:
				r.start = e.InvokeEvent.Start
			case pb.InvokeDone:
				return r.persist()
			}
		case pb.BodyCommandEvent:
			r.observe(e.CommandEvent)
		}
	}
}

func (r *Recorder) observe(ce pb.CommandEvent) {
	if ce.Variant != pb.CmdFinished && ce.Variant != pb.CmdCancelled && ce.Variant != pb.CmdSkipped {
		return
	}
	if _, seen := r.results[ce.Ref]; !seen {
		r.order = append(r.order, ce.Ref)
	}
	exitCode := ce.Finished.ExitCode
	switch ce.Variant {
	case pb.CmdCancelled:
		exitCode = -9
	case pb.CmdSkipped:
		exitCode = -2
	}
	var inputDigest string
	if r.InputDigest != nil {
		inputDigest, _ = r.InputDigest(ce.Ref)
	}
	r.results[ce.Ref] = pb.TestResult{
		Name: ce.Ref,
		Outputs: pb.Outputs{
			Artifacts: ce.Finished.Outputs,
			ExitCode:  exitCode,
		},
		InputDigest: inputDigest,
	}
}

func (r *Recorder) persist() error {
	dir := filepath.Join(r.SmeltRoot, outDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return xerrors.Errorf("recorder: creating %s: %w", dir, err)
	}

	inv := pb.Invocation{
		InvokeID:     ulid.Make().String(),
		Rundate:      time.Now().Unix(),
		User:         r.start.User,
		Repo:         r.start.GitRepo,
		Branch:       r.start.GitBranch,
		Hostname:     r.start.Host,
		SmeltRoot:    r.SmeltRoot,
		SmeltVersion: r.SmeltVersion,
	}
	for _, ref := range r.order {
		inv.ExecutedTests = append(inv.ExecutedTests, r.results[ref])
	}

	data := inv.Marshal()
	invPath := filepath.Join(dir, "invocation.bin")
	if err := os.WriteFile(invPath, data, 0644); err != nil {
		return xerrors.Errorf("recorder: writing invocation.bin: %w", err)
	}

	key, err := digest.LoadOrCreateSignKey(r.SmeltRoot)
	if err != nil {
		return xerrors.Errorf("recorder: loading sign key: %w", err)
	}
	sig, err := digest.Sign(key, data)
	if err != nil {
		return xerrors.Errorf("recorder: signing invocation: %w", err)
	}
	if err := os.WriteFile(invPath+".sig", []byte(sig), 0644); err != nil {
		return xerrors.Errorf("recorder: writing invocation.bin.sig: %w", err)
	}

	if err := writeJUnit(filepath.Join(dir, "tests.xml"), inv); err != nil {
		return xerrors.Errorf("recorder: writing tests.xml: %w", err)
	}
	return nil
}
