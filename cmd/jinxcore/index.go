package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/jinxlabs/retrieval-core/internal/workspace"
)

func runIndex(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	repo := rootFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := newEnv(ctx, *repo)
	if err != nil {
		return err
	}
	defer e.Close()

	projType := workspace.DetectProjectType(e.Root)
	if err := e.Manager.InitialIndex(ctx); err != nil {
		return fmt.Errorf("initial index: %w", err)
	}
	fmt.Printf("indexed %s (project type: %s)\n", e.Root, projType)
	return nil
}
