package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/jinxlabs/retrieval-core/internal/store"
)

func runSearch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	repo := rootFlag(fs)
	k := fs.Int("k", 8, "max number of hits")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := fs.Arg(0)
	if query == "" {
		return fmt.Errorf("search requires a query argument")
	}

	e, err := newEnv(ctx, *repo)
	if err != nil {
		return err
	}
	defer e.Close()

	hits := e.Orch.Retrieve(ctx, query, *k)
	spans := store.SpansFromHits(hits)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(spans)
}
