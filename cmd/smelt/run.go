package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/silogy-io/smelt"
	"github.com/silogy-io/smelt/internal/bus"
	"github.com/silogy-io/smelt/internal/controller"
	"github.com/silogy-io/smelt/internal/env"
	"github.com/silogy-io/smelt/pb"
)

// isTerminal gates the CLI's live status line on stdout being a tty,
// grounded on the teacher's internal/batch/batch.go package-level check
// of the same name.
var isTerminal = func() bool {
	_, err := unix.IoctlGetTermios(int(os.Stdout.Fd()), unix.TCGETS)
	return err == nil
}()

func cmdRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	graphPath := fs.String("graph", "", "path to a command-list YAML document")
	jobSlots := fs.Uint64("job-slots", 1, "maximum commands running concurrently")
	dockerImage := fs.String("docker-image", "", "if set, run commands inside this Docker image instead of locally")
	one := fs.String("one", "", "run this command and its transitive dependencies")
	many := fs.String("many", "", "comma-separated list of commands to run, union of their dependencies")
	typ := fs.String("type", "", "run every command of this target_type plus its ancestors")
	all := fs.Bool("all", false, "run every runnable command in the graph")
	testOnly := fs.Bool("test-only", false, "skip build/stimulus commands, treating them as already satisfied")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *graphPath == "" {
		return xerrors.Errorf("run: -graph is required")
	}
	doc, err := os.ReadFile(*graphPath)
	if err != nil {
		return xerrors.Errorf("run: reading %s: %w", *graphPath, err)
	}

	cfg := pb.ConfigureSmelt{
		SmeltRoot: env.SmeltRoot,
		JobSlots:  *jobSlots,
		TestOnly:  *testOnly,
		Local:     &pb.CfgLocal{},
	}
	if *dockerImage != "" {
		cfg.Docker = &pb.CfgDocker{ImageName: *dockerImage}
		cfg.Local = nil
	}

	c := controller.New(cfg, nil)
	defer c.Close()
	if err := c.SetCommands(doc); err != nil {
		return xerrors.Errorf("run: %w", err)
	}

	var (
		stream *bus.EventStream
		selErr error
	)
	switch {
	case *one != "":
		stream, selErr = c.RunOne(ctx, *one)
	case *many != "":
		stream, selErr = c.RunMany(ctx, strings.Split(*many, ","))
	case *typ != "":
		kind, err := smelt.ParseTargetType(*typ)
		if err != nil {
			return xerrors.Errorf("run: %w", err)
		}
		stream, selErr = c.RunType(ctx, kind)
	case *all:
		stream, selErr = c.RunAll(ctx)
	default:
		return xerrors.Errorf("run: exactly one of -one/-many/-type/-all must be given")
	}
	if selErr != nil {
		return selErr
	}

	return printEvents(stream)
}

// printEvents prints the live status line for a run and decides the
// process's exit status. Per spec.md §6, the controller process exits 0
// on a successful run regardless of individual command/test failures;
// only an InternalError makes it non-zero.
func printEvents(stream *bus.EventStream) error {
	var internalErr bool
	for {
		e, err := stream.PopBlocking()
		if err != nil {
			break
		}
		switch e.Body {
		case pb.BodyCommandEvent:
			ce := e.CommandEvent
			switch ce.Variant {
			case pb.CmdScheduled:
				if isTerminal {
					fmt.Printf("Scheduled %s\n", ce.Ref)
				}
			case pb.CmdStarted:
				fmt.Printf("Started   %s\n", ce.Ref)
			case pb.CmdFinished:
				fmt.Printf("Finished  %s (exit %d)\n", ce.Ref, ce.Finished.ExitCode)
			case pb.CmdCancelled:
				fmt.Printf("Cancelled %s\n", ce.Ref)
			case pb.CmdSkipped:
				fmt.Printf("Skipped   %s\n", ce.Ref)
			}
		case pb.BodySmeltError:
			fmt.Fprintf(os.Stderr, "error: %s\n", e.SmeltError.Error())
			if e.SmeltError.Kind == pb.InternalError {
				internalErr = true
			}
		case pb.BodyInvokeEvent:
			if e.InvokeEvent.Variant == pb.InvokeDone {
				if internalErr {
					return xerrors.Errorf("run: an internal error occurred")
				}
				return nil
			}
		}
	}
	return nil
}
