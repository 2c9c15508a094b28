package main

import (
	"fmt"
	"os"
)

func usage() {
	fmt.Fprintf(os.Stderr, "smelt [-flags] <command> [-flags] <args>\n")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "\trun         - install a command graph and run a frontier of it\n")
	fmt.Fprintf(os.Stderr, "\tget-config  - print the active configuration\n")
	fmt.Fprintf(os.Stderr, "\tverify      - check a recorded invocation's signature\n")
}
