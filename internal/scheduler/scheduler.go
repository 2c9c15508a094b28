// Package scheduler implements the scheduler (C5): frontier selection,
// job-slot admission control, the skip/on_failure policy, and the
// cooperative scheduling loop that drives C3+C4 per spec.md §4.5.
// Grounded on internal/batch/batch.go's scheduler type in the teacher
// (work/done channel pair, errgroup worker pool, canBuild/markFailed),
// generalized from "build a package" to "run a command" and extended
// with job-slot budgets, test_only substitution and on_failure peers,
// none of which the teacher's batch scheduler has.
package scheduler

import (
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/silogy-io/smelt"
	"github.com/silogy-io/smelt/internal/bus"
	"github.com/silogy-io/smelt/internal/executor"
	"github.com/silogy-io/smelt/internal/graph"
	"github.com/silogy-io/smelt/internal/profiler"
	"github.com/silogy-io/smelt/pb"

	"context"
)

// RunMode selects one of the frontier-selection policies of spec.md §4.5.
type RunMode int

const (
	RunOne RunMode = iota
	RunMany
	RunType
	RunAll
)

// Request is one run invocation handed to Scheduler.Run by the controller.
type Request struct {
	Mode RunMode
	Refs []string // RunOne: exactly one; RunMany: the union set
	Kind smelt.TargetType
}

// Config is the subset of ConfigureSmelt the scheduler consults.
type Config struct {
	JobSlots  uint64
	TestOnly  bool
	ProfCfg   pb.ProfilerCfg
	SmeltRoot string // passed to executors as SMELT_ROOT/TARGET_ROOT, per spec.md §6

	// Start is stamped onto the InvokeEvent_Start published at the
	// beginning of Run, carrying run identity (user/host/git) for the
	// invocation recorder; the scheduler itself never inspects it.
	Start pb.Start
}

// Scheduler runs one graph's commands against a job-slot budget,
// publishing every lifecycle transition onto Bus.
type Scheduler struct {
	Log   *log.Logger
	Graph *graph.Graph
	Bus   *bus.Bus
	Exec  executor.Executor
	Cfg   Config
}

// New returns a Scheduler ready to run requests against g.
func New(g *graph.Graph, b *bus.Bus, exec executor.Executor, cfg Config, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{Log: logger, Graph: g, Bus: b, Exec: exec, Cfg: cfg}
}

func (s *Scheduler) publish(traceID string, body pb.EventBody, ce pb.CommandEvent, ie pb.InvokeEvent, se pb.SmeltError) {
	s.Bus.Publish(pb.Event{
		TraceID:           traceID,
		TimestampUnixNano: time.Now().UnixNano(),
		Body:              body,
		CommandEvent:      ce,
		InvokeEvent:       ie,
		SmeltError:        se,
	})
}

func (s *Scheduler) publishCommand(ref string, ce pb.CommandEvent) {
	ce.Ref = ref
	s.publish(ref, pb.BodyCommandEvent, ce, pb.InvokeEvent{}, pb.SmeltError{})
}

func (s *Scheduler) publishInvoke(ie pb.InvokeEvent) {
	s.publish("", pb.BodyInvokeEvent, pb.CommandEvent{}, ie, pb.SmeltError{})
}

func (s *Scheduler) publishError(ref string, kind pb.ErrorKind, msg string) {
	s.publish(ref, pb.BodySmeltError, pb.CommandEvent{}, pb.InvokeEvent{}, pb.SmeltError{Kind: kind, Payload: msg})
}

func (s *Scheduler) ancestorsPlusSelf(name string) []string {
	out := append([]string(nil), s.Graph.TransitiveAncestors(name)...)
	return append(out, name)
}

// frontier computes the set of command names to schedule for req, per
// spec.md §4.5's run_one/run_many/run_type/run_all definitions.
func (s *Scheduler) frontier(req Request) ([]string, error) {
	switch req.Mode {
	case RunOne:
		if len(req.Refs) != 1 {
			return nil, xerrors.Errorf("run_one requires exactly one ref, got %d", len(req.Refs))
		}
		if _, ok := s.Graph.Command(req.Refs[0]); !ok {
			return nil, xerrors.Errorf("run_one: unknown command %q", req.Refs[0])
		}
		return dedup(s.ancestorsPlusSelf(req.Refs[0])), nil

	case RunMany:
		set := make(map[string]bool)
		for _, r := range req.Refs {
			if _, ok := s.Graph.Command(r); !ok {
				return nil, xerrors.Errorf("run_many: unknown command %q", r)
			}
			for _, n := range s.ancestorsPlusSelf(r) {
				set[n] = true
			}
		}
		return keysInGraphOrder(s.Graph, set), nil

	case RunType:
		set := make(map[string]bool)
		for _, n := range s.Graph.Names() {
			c, _ := s.Graph.Command(n)
			if c.TargetType != req.Kind {
				continue
			}
			if c.TargetType == smelt.TargetRebuild || c.TargetType == smelt.TargetRerun {
				continue // selected only via on_failure, never directly
			}
			for _, a := range s.ancestorsPlusSelf(n) {
				set[a] = true
			}
		}
		return keysInGraphOrder(s.Graph, set), nil

	case RunAll:
		var selected []string
		for _, n := range s.Graph.Names() {
			c, _ := s.Graph.Command(n)
			if c.TargetType == smelt.TargetRebuild || c.TargetType == smelt.TargetRerun {
				continue
			}
			selected = append(selected, n)
		}
		return selected, nil

	default:
		return nil, xerrors.Errorf("unknown run mode %d", req.Mode)
	}
}

func dedup(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, n := range in {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

func keysInGraphOrder(g *graph.Graph, set map[string]bool) []string {
	var out []string
	for _, n := range g.Names() {
		if set[n] {
			out = append(out, n)
		}
	}
	return out
}

// workerResult is what a finished worker task reports back to the control
// loop.
type workerResult struct {
	ref       string
	outcome   executor.Outcome
	cancelled bool // the run-wide context was cancelled before this finished
}

// Run executes req against s.Graph until every selected command reaches a
// terminal state or the run is cancelled. It is not safe to call
// concurrently on the same Scheduler.
func (s *Scheduler) Run(ctx context.Context, req Request) error {
	s.publishInvoke(pb.InvokeEvent{Variant: pb.InvokeStart, Start: s.Cfg.Start})
	defer s.publishInvoke(pb.InvokeEvent{Variant: pb.InvokeDone})

	frontier, err := s.frontier(req)
	if err != nil {
		s.publishError("", pb.ClientError, err.Error())
		return err
	}

	inFrontier := make(map[string]bool, len(frontier))
	for _, n := range frontier {
		inFrontier[n] = true
	}

	pending := make(map[string]bool, len(frontier))
	terminal := make(map[string]smelt.CommandState)
	satisfied := make(map[string]bool) // true once a dependency "counts" toward successors' readiness
	onFailurePeerOf := make(map[string]string)
	running := make(map[string]bool)

	for _, n := range frontier {
		pending[n] = true
	}

	// test_only substitution happens before any scheduling: build/stimulus
	// commands in scope are treated as already succeeded.
	if s.Cfg.TestOnly {
		for _, n := range frontier {
			c, _ := s.Graph.Command(n)
			if c.TargetType == smelt.TargetBuild || c.TargetType == smelt.TargetStimulus {
				delete(pending, n)
				terminal[n] = smelt.StateSkipped
				satisfied[n] = true
				s.publishCommand(n, pb.CommandEvent{Variant: pb.CmdSkipped})
			}
		}
	}

	done := make(chan workerResult)
	eg, egCtx := errgroup.WithContext(context.Background()) // workers outlive a single scheduling tick; cancellation flows via ctx, not egCtx
	var jobSlotsFree uint64
	if s.Cfg.JobSlots == 0 {
		jobSlotsFree = 1
	} else {
		jobSlotsFree = s.Cfg.JobSlots
	}

	spawn := func(ref string) {
		running[ref] = true
		eg.Go(func() error {
			s.publishCommand(ref, pb.CommandEvent{Variant: pb.CmdStarted})

			c, _ := s.Graph.Command(ref)
			workDir := filepath.Join(c.WorkingDir, c.Name)
			if err := os.MkdirAll(workDir, 0755); err != nil {
				s.publishError(ref, pb.InternalError, "creating working dir: "+err.Error())
			}
			var pidMu sync.Mutex
			var pid int
			var haveSampler *profiler.Sampler
			if s.Cfg.ProfCfg.ProfType == pb.ProfSimpleProf {
				period := time.Duration(s.Cfg.ProfCfg.SamplingPeriod) * time.Millisecond
				if period <= 0 {
					period = time.Second
				}
				haveSampler = profiler.Start(ref, period, func() (int, bool) {
					pidMu.Lock()
					defer pidMu.Unlock()
					return pid, pid != 0
				}, func(e pb.Event) {
					s.Bus.Publish(e)
				}, func(format string, args ...interface{}) {
					s.Log.Printf(format, args...)
				})
			}

			spec := executor.RunSpec{
				Ref:        ref,
				Command:    c,
				WorkingDir: workDir,
				SmeltRoot:  s.Cfg.SmeltRoot,
				OnStdout: func(line []byte) {
					s.publishCommand(ref, pb.CommandEvent{Variant: pb.CmdStdout, Stdout: append([]byte(nil), line...)})
				},
				OnPID: func(p int) {
					pidMu.Lock()
					pid = p
					pidMu.Unlock()
				},
			}
			outcome, runErr := s.Exec.Run(ctx, spec)
			if haveSampler != nil {
				haveSampler.Stop()
			}
			if runErr != nil {
				s.publishError(ref, pb.InternalError, runErr.Error())
			}

			select {
			case done <- workerResult{
				ref:       ref,
				outcome:   outcome,
				cancelled: ctx.Err() != nil,
			}:
			case <-egCtx.Done():
			}
			return nil
		})
	}

	schedule := func() {
		for jobSlotsFree > 0 {
			var candidates []string
			for n := range pending {
				candidates = append(candidates, n)
			}
			candidates = keysInGraphOrder(s.Graph, toSet(candidates))
			ready := s.Graph.Ready(candidates, satisfiedOrOutside(satisfied, inFrontier, s.Graph))
			if len(ready) == 0 {
				return
			}
			pick := ready[0]
			delete(pending, pick)
			jobSlotsFree--
			s.publishCommand(pick, pb.CommandEvent{Variant: pb.CmdScheduled})
			spawn(pick)
		}
	}

	// Cancellation: pending frontier commands transition directly to
	// Cancelled without being scheduled (spec.md §4.5/§5); running ones
	// are left to the executor's own SIGTERM/SIGKILL escalation against
	// ctx.
	cancelPending := func() {
		for n := range pending {
			delete(pending, n)
			terminal[n] = smelt.StateCancelled
			s.publishCommand(n, pb.CommandEvent{Variant: pb.CmdCancelled})
		}
	}

	for {
		if ctx.Err() != nil {
			cancelPending()
		} else {
			schedule()
		}
		if len(running) == 0 && len(pending) == 0 {
			break
		}

		select {
		case res := <-done:
			delete(running, res.ref)
			jobSlotsFree++
			s.applyResult(res, terminal, satisfied, pending, inFrontier, onFailurePeerOf)
		case <-ctx.Done():
			cancelPending()
		}
	}

	_ = eg.Wait()
	return nil
}

func toSet(in []string) map[string]bool {
	m := make(map[string]bool, len(in))
	for _, n := range in {
		m[n] = true
	}
	return m
}

// satisfiedOrOutside adapts the satisfied map into the "done" map
// graph.Ready expects: a dependency outside the frontier is trivially
// satisfied since it was never selected to run in this invocation.
func satisfiedOrOutside(satisfied map[string]bool, inFrontier map[string]bool, g *graph.Graph) map[string]bool {
	done := make(map[string]bool, len(satisfied))
	for _, n := range g.Names() {
		if !inFrontier[n] {
			done[n] = true
			continue
		}
		if satisfied[n] {
			done[n] = true
		}
	}
	return done
}

func (s *Scheduler) applyResult(
	res workerResult,
	terminal map[string]smelt.CommandState,
	satisfied map[string]bool,
	pending map[string]bool,
	inFrontier map[string]bool,
	onFailurePeerOf map[string]string,
) {
	ref := res.ref

	if res.cancelled {
		terminal[ref] = smelt.StateCancelled
		s.publishCommand(ref, pb.CommandEvent{Variant: pb.CmdCancelled})
		return
	}

	terminal[ref] = smelt.StateFinished
	c, _ := s.Graph.Command(ref)
	workDir := filepath.Join(c.WorkingDir, c.Name)
	s.publishCommand(ref, pb.CommandEvent{Variant: pb.CmdFinished, Finished: pb.Finished{
		ExitCode:    res.outcome.ExitCode,
		Outputs:     resolvedOutputs(c, workDir),
		CommandType: c.TargetType.String(),
	}})

	if owner, isPeer := onFailurePeerOf[ref]; isPeer {
		if res.outcome.ExitCode == 0 {
			satisfied[owner] = true
		} else {
			s.skipTransitiveSuccessors(owner, terminal, pending)
		}
		return
	}

	if res.outcome.ExitCode == 0 {
		satisfied[ref] = true
		return
	}

	if c.OnFailure != "" {
		peer := c.OnFailure
		if _, already := terminal[peer]; !already {
			onFailurePeerOf[peer] = ref
			pending[peer] = true
			inFrontier[peer] = true
		}
		return
	}

	s.skipTransitiveSuccessors(ref, terminal, pending)
}

// resolvedOutputs reports which of c's declared outputs actually exist on
// disk after the run, resolved relative to workDir per spec.md §6
// ("artifacts declared in outputs are paths relative to the command's
// working dir unless absolute").
func resolvedOutputs(c smelt.Command, workDir string) []string {
	var out []string
	for _, o := range c.Outputs {
		path := o
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
		if _, err := os.Stat(path); err == nil {
			out = append(out, o)
		}
	}
	return out
}

// skipTransitiveSuccessors marks every not-yet-terminal transitive
// successor of ref as Skipped, per the skip policy of spec.md §4.2.
func (s *Scheduler) skipTransitiveSuccessors(ref string, terminal map[string]smelt.CommandState, pending map[string]bool) {
	for _, succ := range s.Graph.TransitiveSuccessors(ref) {
		if _, done := terminal[succ]; done {
			continue
		}
		terminal[succ] = smelt.StateSkipped
		delete(pending, succ)
		s.publishCommand(succ, pb.CommandEvent{Variant: pb.CmdSkipped})
	}
}
