package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/silogy-io/smelt/internal/digest"
)

func cmdVerify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return xerrors.Errorf("verify: usage: smelt verify <smelt_root>")
	}
	smeltRoot := fs.Arg(0)

	invPath := filepath.Join(smeltRoot, "smelt-out", "invocation.bin")
	data, err := os.ReadFile(invPath)
	if err != nil {
		return xerrors.Errorf("verify: reading %s: %w", invPath, err)
	}
	sig, err := os.ReadFile(invPath + ".sig")
	if err != nil {
		return xerrors.Errorf("verify: reading %s.sig: %w", invPath, err)
	}
	key, err := digest.LoadOrCreateSignKey(smeltRoot)
	if err != nil {
		return xerrors.Errorf("verify: loading sign key: %w", err)
	}
	ok, err := digest.Verify(key, data, string(sig))
	if err != nil {
		return xerrors.Errorf("verify: %w", err)
	}
	if !ok {
		return xerrors.Errorf("verify: signature mismatch for %s", invPath)
	}
	return nil
}
