package main

import (
	"context"
	"flag"
	"fmt"
)

func runContext(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("context", flag.ExitOnError)
	repo := rootFlag(fs)
	k := fs.Int("k", 12, "max number of hits to assemble context from")
	maxMs := fs.Int("max-ms", 1200, "overall wall-clock budget in milliseconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := fs.Arg(0)
	if query == "" {
		return fmt.Errorf("context requires a query argument")
	}

	e, err := newEnv(ctx, *repo)
	if err != nil {
		return err
	}
	defer e.Close()

	fmt.Println(e.Ctx.BuildFor(ctx, query, *k, *maxMs))
	return nil
}
