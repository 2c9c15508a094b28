package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/silogy-io/smelt"
	"github.com/silogy-io/smelt/internal/bus"
	"github.com/silogy-io/smelt/internal/executor"
	"github.com/silogy-io/smelt/internal/graph"
	"github.com/silogy-io/smelt/pb"
)

type fakeOutcome struct {
	exitCode int32
	sleep    time.Duration
}

// fakeExecutor stands in for C3 in scheduler tests: deterministic exit
// codes per command name, with optional artificial delay, and tracking of
// concurrently-running commands for the job-slot budget property.
type fakeExecutor struct {
	mu       sync.Mutex
	outcomes map[string]fakeOutcome
	running  int
	maxSeen  int
	started  []string
	order    []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{outcomes: make(map[string]fakeOutcome)}
}

func (f *fakeExecutor) Run(ctx context.Context, spec executor.RunSpec) (executor.Outcome, error) {
	f.mu.Lock()
	f.running++
	if f.running > f.maxSeen {
		f.maxSeen = f.running
	}
	f.started = append(f.started, spec.Ref)
	f.mu.Unlock()

	if spec.OnPID != nil {
		spec.OnPID(1)
	}

	o := f.outcomes[spec.Ref]
	select {
	case <-time.After(o.sleep):
	case <-ctx.Done():
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
		return executor.Outcome{ExitCode: -9, TimedOut: true}, nil
	}

	f.mu.Lock()
	f.running--
	f.order = append(f.order, spec.Ref)
	f.mu.Unlock()
	return executor.Outcome{ExitCode: o.exitCode}, nil
}

func cmd(name string, deps ...string) smelt.Command {
	return smelt.Command{Name: name, TargetType: smelt.TargetTest, Script: []string{"true"}, Dependencies: deps}
}

// drain collects every event published on the bus until it closes, in
// publication order.
type collected struct {
	mu     sync.Mutex
	events []pb.Event
}

func drain(b *bus.Bus) (*collected, func()) {
	s := b.Subscribe()
	c := &collected{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			e, err := s.PopBlocking()
			if err != nil {
				return
			}
			c.mu.Lock()
			c.events = append(c.events, e)
			c.mu.Unlock()
		}
	}()
	return c, func() { <-done }
}

func (c *collected) finishedOrder() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, e := range c.events {
		if e.Body == pb.BodyCommandEvent && e.CommandEvent.Variant == pb.CmdFinished {
			out = append(out, e.CommandEvent.Ref)
		}
	}
	return out
}

func (c *collected) variantsFor(ref string) []pb.CommandEventVariant {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []pb.CommandEventVariant
	for _, e := range c.events {
		if e.Body == pb.BodyCommandEvent && e.CommandEvent.Ref == ref {
			out = append(out, e.CommandEvent.Variant)
		}
	}
	return out
}

func containsVariant(vs []pb.CommandEventVariant, want pb.CommandEventVariant) bool {
	for _, v := range vs {
		if v == want {
			return true
		}
	}
	return false
}

func TestLinearChainRunsInOrder(t *testing.T) {
	g, err := graph.Install([]smelt.Command{cmd("a"), cmd("b", "a"), cmd("c", "b")})
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	events, wait := drain(b)
	exec := newFakeExecutor()
	for _, n := range []string{"a", "b", "c"} {
		exec.outcomes[n] = fakeOutcome{exitCode: 0}
	}
	s := New(g, b, exec, Config{JobSlots: 2}, nil)

	if err := s.Run(context.Background(), Request{Mode: RunOne, Refs: []string{"c"}}); err != nil {
		t.Fatal(err)
	}
	b.Close()
	wait()

	got := events.finishedOrder()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("finished = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("finished = %v, want %v", got, want)
		}
	}
}

func TestFanOutWithOneFailureNoSkip(t *testing.T) {
	g, err := graph.Install([]smelt.Command{
		cmd("root"),
		cmd("x", "root"),
		cmd("y", "root"),
		cmd("z", "root"),
	})
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	events, wait := drain(b)
	exec := newFakeExecutor()
	exec.outcomes["root"] = fakeOutcome{exitCode: 0}
	exec.outcomes["x"] = fakeOutcome{exitCode: 0}
	exec.outcomes["y"] = fakeOutcome{exitCode: 2}
	exec.outcomes["z"] = fakeOutcome{exitCode: 0}
	s := New(g, b, exec, Config{JobSlots: 3}, nil)

	if err := s.Run(context.Background(), Request{Mode: RunAll}); err != nil {
		t.Fatal(err)
	}
	b.Close()
	wait()

	for _, ref := range []string{"root", "x", "y", "z"} {
		variants := events.variantsFor(ref)
		if len(variants) == 0 || variants[len(variants)-1] != pb.CmdFinished {
			t.Fatalf("%s: variants = %v, want terminal CmdFinished", ref, variants)
		}
	}
}

func TestOnFailureRecovery(t *testing.T) {
	a := cmd("a")
	a.OnFailure = "a-prime"
	aPrime := smelt.Command{Name: "a-prime", TargetType: smelt.TargetRerun, Script: []string{"true"}}
	b := cmd("b", "a")

	g, err := graph.Install([]smelt.Command{a, aPrime, b})
	if err != nil {
		t.Fatal(err)
	}
	bs := bus.New()
	events, wait := drain(bs)
	exec := newFakeExecutor()
	exec.outcomes["a"] = fakeOutcome{exitCode: 1}
	exec.outcomes["a-prime"] = fakeOutcome{exitCode: 0}
	exec.outcomes["b"] = fakeOutcome{exitCode: 0}
	s := New(g, bs, exec, Config{JobSlots: 2}, nil)

	if err := s.Run(context.Background(), Request{Mode: RunOne, Refs: []string{"b"}}); err != nil {
		t.Fatal(err)
	}
	bs.Close()
	wait()

	aVariants := events.variantsFor("a")
	if len(aVariants) == 0 || aVariants[len(aVariants)-1] != pb.CmdFinished {
		t.Fatalf("a variants = %v", aVariants)
	}
	primeVariants := events.variantsFor("a-prime")
	if !containsVariant(primeVariants, pb.CmdStarted) || primeVariants[len(primeVariants)-1] != pb.CmdFinished {
		t.Fatalf("a-prime variants = %v, want Started then terminal Finished", primeVariants)
	}
	bVariants := events.variantsFor("b")
	if len(bVariants) == 0 || bVariants[len(bVariants)-1] != pb.CmdFinished {
		t.Fatalf("b did not run to completion: %v", bVariants)
	}
}

func TestJobSlotBudgetNeverExceeded(t *testing.T) {
	var cmds []smelt.Command
	exec := newFakeExecutor()
	for i := 0; i < 8; i++ {
		name := string(rune('a' + i))
		cmds = append(cmds, cmd(name))
		exec.outcomes[name] = fakeOutcome{exitCode: 0, sleep: 30 * time.Millisecond}
	}
	g, err := graph.Install(cmds)
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	_, wait := drain(b)
	s := New(g, b, exec, Config{JobSlots: 3}, nil)

	if err := s.Run(context.Background(), Request{Mode: RunAll}); err != nil {
		t.Fatal(err)
	}
	b.Close()
	wait()

	if exec.maxSeen > 3 {
		t.Fatalf("max concurrent = %d, want <= 3", exec.maxSeen)
	}
	if len(exec.order) != 8 {
		t.Fatalf("completed %d of 8 commands", len(exec.order))
	}
}

func TestTestOnlySkipsBuildAndStimulus(t *testing.T) {
	build := smelt.Command{Name: "build", TargetType: smelt.TargetBuild, Script: []string{"true"}}
	test := smelt.Command{Name: "test", TargetType: smelt.TargetTest, Script: []string{"true"}, Dependencies: []string{"build"}}

	g, err := graph.Install([]smelt.Command{build, test})
	if err != nil {
		t.Fatal(err)
	}
	b := bus.New()
	events, wait := drain(b)
	exec := newFakeExecutor()
	exec.outcomes["test"] = fakeOutcome{exitCode: 0}
	s := New(g, b, exec, Config{JobSlots: 2, TestOnly: true}, nil)

	if err := s.Run(context.Background(), Request{Mode: RunAll}); err != nil {
		t.Fatal(err)
	}
	b.Close()
	wait()

	buildVariants := events.variantsFor("build")
	if len(buildVariants) != 1 || buildVariants[0] != pb.CmdSkipped {
		t.Fatalf("build variants = %v, want [CmdSkipped]", buildVariants)
	}
	testVariants := events.variantsFor("test")
	if len(testVariants) == 0 || testVariants[len(testVariants)-1] != pb.CmdFinished {
		t.Fatalf("test did not run: %v", testVariants)
	}
	for _, ref := range exec.started {
		if ref == "build" {
			t.Fatal("build should not have been executed under test_only")
		}
	}
}
