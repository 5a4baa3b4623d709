package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/jinxlabs/retrieval-core/internal/bus"
	"github.com/jinxlabs/retrieval-core/internal/patcher"
	"github.com/jinxlabs/retrieval-core/internal/retrieval"
	"github.com/jinxlabs/retrieval-core/internal/runtime"
	"github.com/jinxlabs/retrieval-core/internal/verifier"
)

// taskLine is one NDJSON request on stdin: a task name plus its
// positional/keyword arguments, grounded on the stdio protocol
// cmd/repl's --stdio mode used for engine commands.
type taskLine struct {
	Name   string         `json:"name"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

// eventLine is one NDJSON line written to stdout: either a progress
// tick or a terminal result for a submitted task id.
type eventLine struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Pct    float64 `json:"pct,omitempty"`
	Msg    string `json:"msg,omitempty"`
	OK     bool   `json:"ok,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	repo := rootFlag(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	e, err := newEnv(ctx, *repo)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rt := runtime.New()
	rt.EnsureRuntime(ctx)

	runner := patcher.NewRunner(rt, e.Root)
	runner.Search = func(query string, k int) []patcher.SearchHit {
		hits := e.Orch.Retrieve(ctx, query, k)
		return toSearchHits(hits)
	}
	patcherProg := patcher.NewProgram(rt, runner)
	rt.Spawn(ctx, patcherProg, patcherProg.Base)

	runner.Verify = verifier.MaybeVerify(rt, func() string { return "" })

	verifierProg := verifier.NewProgram(rt, func(query string, topK, maxMs int) []verifier.Hit {
		sctx := ctx
		if maxMs > 0 {
			var cancelSearch context.CancelFunc
			sctx, cancelSearch = context.WithTimeout(ctx, time.Duration(maxMs)*time.Millisecond)
			defer cancelSearch()
		}
		hits := e.Orch.Retrieve(sctx, query, topK)
		return toVerifierHits(hits)
	})
	rt.Spawn(ctx, verifierProg, verifierProg.Base)

	var mu sync.Mutex
	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	emit := func(ev eventLine) {
		mu.Lock()
		defer mu.Unlock()
		data, _ := json.Marshal(ev)
		out.Write(data)
		out.WriteByte('\n')
		out.Flush()
	}

	rt.On(bus.TaskProgress, func(_ string, payload any) {
		p, ok := payload.(bus.TaskProgressPayload)
		if !ok {
			return
		}
		emit(eventLine{Type: "progress", ID: p.ID, Pct: p.Pct, Msg: p.Msg})
	})
	rt.On(bus.TaskResult, func(_ string, payload any) {
		p, ok := payload.(bus.TaskResultPayload)
		if !ok {
			return
		}
		emit(eventLine{Type: "result", ID: p.ID, OK: p.OK, Result: p.Result, Error: p.Error})
	})

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var tl taskLine
		if err := json.Unmarshal(line, &tl); err != nil {
			emit(eventLine{Type: "error", Error: fmt.Sprintf("bad request: %v", err)})
			continue
		}
		rt.SubmitTask(tl.Name, tl.Args, tl.Kwargs)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func toSearchHits(hits []retrieval.Hit) []patcher.SearchHit {
	out := make([]patcher.SearchHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, patcher.SearchHit{FileRel: h.FileRel, LineStart: h.Meta.LineStart, LineEnd: h.Meta.LineEnd})
	}
	return out
}

func toVerifierHits(hits []retrieval.Hit) []verifier.Hit {
	out := make([]verifier.Hit, 0, len(hits))
	for _, h := range hits {
		out = append(out, verifier.Hit{FileRel: h.FileRel, Header: fmt.Sprintf("%s:%d", h.FileRel, h.Meta.LineStart)})
	}
	return out
}
