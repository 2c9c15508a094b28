// Command smelt drives the controller (C6) from the command line.
// Grounded on cmd/distri/distri.go's verb dispatch table: a flat map of
// verb name to handler function, with top-level flags parsed before the
// verb is peeled off argv.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/silogy-io/smelt"
)

var debug = flag.Bool("debug", false, "format error messages with additional detail")

type verbFn func(ctx context.Context, args []string) error

func verbs() map[string]verbFn {
	return map[string]verbFn{
		"run":        cmdRun,
		"get-config": cmdGetConfig,
		"verify":     cmdVerify,
	}
}

func funcmain() error {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	verb, rest := args[0], args[1:]

	if verb == "help" {
		usage()
		return nil
	}

	fn, ok := verbs()[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		usage()
		os.Exit(2)
	}

	ctx, cancel := smelt.InterruptibleContext()
	defer cancel()

	if err := fn(ctx, rest); err != nil {
		if *debug {
			return fmt.Errorf("%s: %+v", verb, err)
		}
		return fmt.Errorf("%s: %v", verb, err)
	}
	return smelt.RunAtExit()
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
