package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/silogy-io/smelt/internal/env"
	"github.com/silogy-io/smelt/pb"
)

func cmdGetConfig(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("get-config", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := pb.ConfigureSmelt{SmeltRoot: env.SmeltRoot, JobSlots: 1, Local: &pb.CfgLocal{}}
	fmt.Printf("smelt_root: %s\n", cfg.SmeltRoot)
	fmt.Printf("job_slots:  %d\n", cfg.JobSlots)
	switch {
	case cfg.Docker != nil:
		fmt.Printf("backend:    docker (%s)\n", cfg.Docker.ImageName)
	default:
		fmt.Printf("backend:    local\n")
	}
	fmt.Printf("test_only:  %t\n", cfg.TestOnly)
	return nil
}
