// Package controller implements the controller facade (C6): the single
// entry point a client drives, owning the installed graph, the
// scheduler (C5) and the event bus (C1). Grounded on
// internal/batch/Ctx.Build in the teacher, which is itself the
// single entry point gluing graph construction to the scheduler;
// Smelt generalizes it into a long-lived object a client calls
// repeatedly instead of a one-shot function.
package controller

import (
	"context"
	"log"
	"sync"

	"golang.org/x/xerrors"

	"github.com/silogy-io/smelt"
	"github.com/silogy-io/smelt/internal/bus"
	"github.com/silogy-io/smelt/internal/env"
	"github.com/silogy-io/smelt/internal/executor"
	"github.com/silogy-io/smelt/internal/graph"
	"github.com/silogy-io/smelt/internal/recorder"
	"github.com/silogy-io/smelt/internal/scheduler"
	"github.com/silogy-io/smelt/internal/yamlcmd"
	"github.com/silogy-io/smelt/pb"
)

// Controller is the process-local facade every client call (CLI, tests,
// an embedding program) goes through.
type Controller struct {
	Log *log.Logger
	Cfg pb.ConfigureSmelt

	mu    sync.Mutex
	graph *graph.Graph
	bus   *bus.Bus

	lastStream *bus.EventStream
}

// New returns a Controller configured by cfg. cfg.SmeltRoot is used to default
// commands' working_dir when none is declared, per spec.md §6.
func New(cfg pb.ConfigureSmelt, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{Log: logger, Cfg: cfg, bus: bus.New()}
}

// GetConfig returns the active configuration.
func (c *Controller) GetConfig() pb.ConfigureSmelt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Cfg
}

// SetCommands parses doc as a command-list YAML document and installs it
// as the new graph. On validation failure the previous graph is retained
// and a ClientError event is published to the most recently returned
// EventStream (or a fresh synthetic one, if none exists yet).
func (c *Controller) SetCommands(doc []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cmds, err := yamlcmd.Decode(doc, c.Cfg.SmeltRoot)
	if err != nil {
		c.publishClientError(xerrors.Errorf("decoding command list: %w", err).Error())
		return err
	}
	g, err := graph.Install(cmds)
	if err != nil {
		c.publishClientError(err.Error())
		return err
	}
	c.graph = g
	return nil
}

// Commands installs cmds directly, bypassing the YAML reader; used by
// embedders that already hold typed Command values.
func (c *Controller) Commands(cmds []smelt.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, err := graph.Install(cmds)
	if err != nil {
		c.publishClientError(err.Error())
		return err
	}
	c.graph = g
	return nil
}

// publishClientError ensures at least one subscriber exists (creating a
// synthetic one if this is the first call) so the error is observable,
// then broadcasts it; the bus has no notion of addressing a single
// subscriber, so "the most recently returned stream" per spec.md §4.6
// is satisfied by guaranteeing it is among the current subscribers.
func (c *Controller) publishClientError(msg string) {
	if c.lastStream == nil {
		c.lastStream = c.bus.Subscribe()
	}
	c.bus.Publish(pb.Event{
		Body:       pb.BodySmeltError,
		SmeltError: pb.SmeltError{Kind: pb.ClientError, Payload: msg},
	})
}

func (c *Controller) newExecutor() (executor.Executor, error) {
	switch {
	case c.Cfg.Docker != nil:
		return executor.NewDocker(*c.Cfg.Docker), nil
	default:
		return executor.NewLocal(), nil
	}
}

func (c *Controller) run(ctx context.Context, req scheduler.Request) (*bus.EventStream, error) {
	c.mu.Lock()
	g := c.graph
	cfg := c.Cfg
	c.mu.Unlock()

	if g == nil {
		stream := c.bus.Subscribe()
		c.bus.Publish(pb.Event{Body: pb.BodySmeltError, SmeltError: pb.SmeltError{
			Kind: pb.ClientError, Payload: "no commands installed: call SetCommands first",
		}})
		return stream, xerrors.Errorf("no commands installed")
	}

	exec, err := c.newExecutor()
	if err != nil {
		return nil, err
	}

	stream := c.bus.Subscribe()
	c.mu.Lock()
	c.lastStream = stream
	c.mu.Unlock()

	git := env.CollectGitInfo(cfg.SmeltRoot)
	start := pb.Start{
		Root:      cfg.SmeltRoot,
		User:      env.CurrentUser(),
		Host:      env.Hostname(),
		GitHash:   git.Hash,
		GitRepo:   git.Repo,
		GitBranch: git.Branch,
	}

	rec := recorder.New(cfg.SmeltRoot, smelt.Version, g.InputDigest)
	rec.Watch(c.bus, func(err error) { c.Log.Printf("recorder: %v", err) })

	sched := scheduler.New(g, c.bus, exec, scheduler.Config{
		JobSlots:  cfg.JobSlots,
		TestOnly:  cfg.TestOnly,
		ProfCfg:   cfg.ProfCfg,
		Start:     start,
		SmeltRoot: cfg.SmeltRoot,
	}, c.Log)

	go func() {
		if err := sched.Run(ctx, req); err != nil {
			c.Log.Printf("run failed: %v", err)
		}
	}()

	return stream, nil
}

// RunOne runs ref and its transitive dependencies, returning a fresh
// EventStream observing this run.
func (c *Controller) RunOne(ctx context.Context, ref string) (*bus.EventStream, error) {
	return c.run(ctx, scheduler.Request{Mode: scheduler.RunOne, Refs: []string{ref}})
}

// RunMany runs the union of run-one frontiers for refs.
func (c *Controller) RunMany(ctx context.Context, refs []string) (*bus.EventStream, error) {
	return c.run(ctx, scheduler.Request{Mode: scheduler.RunMany, Refs: refs})
}

// RunType runs every command of the given target type plus its ancestors.
func (c *Controller) RunType(ctx context.Context, kind smelt.TargetType) (*bus.EventStream, error) {
	return c.run(ctx, scheduler.Request{Mode: scheduler.RunType, Kind: kind})
}

// RunAll runs every non-rebuild/rerun command in the graph.
func (c *Controller) RunAll(ctx context.Context) (*bus.EventStream, error) {
	return c.run(ctx, scheduler.Request{Mode: scheduler.RunAll})
}

// Bus exposes the controller's event bus for external subscribers (e.g. a
// CLI's live status view); the invocation recorder (C7) is attached
// automatically by run, one per invocation, per spec.md §4.7.
func (c *Controller) Bus() *bus.Bus { return c.bus }

// Close shuts the controller's bus down; no further events will be
// delivered to any subscriber.
func (c *Controller) Close() { c.bus.Close() }
