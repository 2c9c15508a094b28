package main

import (
	"testing"

	"github.com/silogy-io/smelt/internal/bus"
	"github.com/silogy-io/smelt/pb"
)

func TestPrintEventsReturnsNilOnAllSuccessful(t *testing.T) {
	b := bus.New()
	stream := b.Subscribe()
	b.Publish(pb.Event{Body: pb.BodyCommandEvent, CommandEvent: pb.CommandEvent{
		Ref: "a", Variant: pb.CmdFinished, Finished: pb.Finished{ExitCode: 0},
	}})
	b.Publish(pb.Event{Body: pb.BodyInvokeEvent, InvokeEvent: pb.InvokeEvent{Variant: pb.InvokeDone}})
	b.Close()

	if err := printEvents(stream); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestPrintEventsReturnsNilOnNonZeroExit(t *testing.T) {
	// spec.md §6: the controller process exits 0 regardless of individual
	// test/command failures.
	b := bus.New()
	stream := b.Subscribe()
	b.Publish(pb.Event{Body: pb.BodyCommandEvent, CommandEvent: pb.CommandEvent{
		Ref: "a", Variant: pb.CmdFinished, Finished: pb.Finished{ExitCode: 1},
	}})
	b.Publish(pb.Event{Body: pb.BodyInvokeEvent, InvokeEvent: pb.InvokeEvent{Variant: pb.InvokeDone}})
	b.Close()

	if err := printEvents(stream); err != nil {
		t.Fatalf("expected a failing command not to fail the run, got %v", err)
	}
}

func TestPrintEventsReturnsNilOnCancelled(t *testing.T) {
	b := bus.New()
	stream := b.Subscribe()
	b.Publish(pb.Event{Body: pb.BodyCommandEvent, CommandEvent: pb.CommandEvent{
		Ref: "a", Variant: pb.CmdCancelled,
	}})
	b.Publish(pb.Event{Body: pb.BodyInvokeEvent, InvokeEvent: pb.InvokeEvent{Variant: pb.InvokeDone}})
	b.Close()

	if err := printEvents(stream); err != nil {
		t.Fatalf("expected a cancelled command not to fail the run, got %v", err)
	}
}

func TestPrintEventsIgnoresInternalWarnErrors(t *testing.T) {
	b := bus.New()
	stream := b.Subscribe()
	b.Publish(pb.Event{Body: pb.BodySmeltError, SmeltError: pb.SmeltError{Kind: pb.InternalWarn, Payload: "heads up"}})
	b.Publish(pb.Event{Body: pb.BodyCommandEvent, CommandEvent: pb.CommandEvent{
		Ref: "a", Variant: pb.CmdFinished, Finished: pb.Finished{ExitCode: 0},
	}})
	b.Publish(pb.Event{Body: pb.BodyInvokeEvent, InvokeEvent: pb.InvokeEvent{Variant: pb.InvokeDone}})
	b.Close()

	if err := printEvents(stream); err != nil {
		t.Fatalf("expected a warn-kind SmeltError not to fail the run, got %v", err)
	}
}

func TestPrintEventsReturnsErrorOnInternalError(t *testing.T) {
	b := bus.New()
	stream := b.Subscribe()
	b.Publish(pb.Event{Body: pb.BodySmeltError, SmeltError: pb.SmeltError{Kind: pb.InternalError, Payload: "disk full"}})
	b.Publish(pb.Event{Body: pb.BodyInvokeEvent, InvokeEvent: pb.InvokeEvent{Variant: pb.InvokeDone}})
	b.Close()

	if err := printEvents(stream); err == nil {
		t.Fatal("expected an InternalError to fail the run")
	}
}
