// Command jinxcore is the retrieval-core entrypoint: it indexes a
// repository into the embedding store, answers one-shot search/context
// queries, or serves the patch/dump/refactor/verify task surface over
// an NDJSON stdio protocol, grounded on cmd/repl's subcommand and
// --stdio idioms in the original dodo CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	ctx := context.Background()

	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "index":
		err = runIndex(ctx, args[1:])
	case "search":
		err = runSearch(ctx, args[1:])
	case "context":
		err = runContext(ctx, args[1:])
	case "serve":
		err = runServe(ctx, args[1:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("jinxcore %s: %v", args[0], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: jinxcore <index|search|context|serve> [flags]")
}

func rootFlag(fs *flag.FlagSet) *string {
	return fs.String("repo", ".", "path to repository root")
}
