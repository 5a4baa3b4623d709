package retrieval

import (
	"context"
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"time"
)

// collectRelFiles gathers known file_rel paths from the chunk store,
// preserving first-seen order, mirroring the "pass 1: embeddings-known
// files first" pattern shared by the lexical stage kernels.
func collectRelFiles(ctx context.Context, env Env) []string {
	if env.Chunks == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	_ = env.Chunks.Iterate(ctx, func(m ChunkMeta) bool {
		if m.FileRel != "" && !seen[m.FileRel] {
			seen[m.FileRel] = true
			out = append(out, m.FileRel)
		}
		return false
	})
	return out
}

func readFile(env Env, relPath string) (string, bool) {
	if env.Files == nil {
		return "", false
	}
	data, err := env.Files.ReadFile(relPath)
	if err != nil {
		return "", false
	}
	return string(data), true
}

// ---- tokenmatch: ordered Python significant-token subsequence match ----

type TokenMatchStage struct{ Env Env }

func (s *TokenMatchStage) Name() string { return "tokenmatch" }
func (s *TokenMatchStage) Activate(q Query) bool {
	return strings.TrimSpace(q.Raw) != ""
}

var tokenRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*|[0-9]+(?:\.[0-9]+)?|==|!=|<=|>=|->|::|[^\sA-Za-z0-9_]`)

var tokenStop = map[string]bool{
	"and": true, "or": true, "not": true, "is": true, "in": true, "if": true, "else": true,
	"elif": true, "for": true, "while": true, "return": true, "class": true, "def": true,
	"with": true, "as": true, "try": true, "except": true, "finally": true, "lambda": true,
	"True": true, "False": true, "None": true,
}

func significantTokens(src string) []string {
	var out []string
	for _, t := range tokenRe.FindAllString(src, -1) {
		if t == "" || tokenStop[t] {
			continue
		}
		if !isNameToken(t) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func isNameToken(t string) bool {
	for i, r := range t {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			continue
		}
		if i > 0 && r >= '0' && r <= '9' {
			continue
		}
		return false
	}
	return t != ""
}

func matchOrderedSubsequence(hayLines []string, needle []string) (int, int, bool) {
	if len(needle) == 0 {
		return 0, 0, false
	}
	type tok struct {
		val  string
		line int
	}
	var hay []tok
	for i, line := range hayLines {
		for _, t := range significantTokens(line) {
			hay = append(hay, tok{t, i + 1})
		}
	}
	hi := 0
	for hi < len(hay) && hay[hi].val != needle[0] {
		hi++
	}
	if hi >= len(hay) {
		return 0, 0, false
	}
	startLine := hay[hi].line
	endLine := 0
	ni := 1
	hi++
	for ni < len(needle) && hi < len(hay) {
		if hay[hi].val == needle[ni] {
			ni++
			endLine = hay[hi].line
		}
		hi++
	}
	if ni < len(needle) {
		return 0, 0, false
	}
	if endLine <= 0 {
		endLine = startLine
	}
	return startLine, endLine, true
}

func (s *TokenMatchStage) Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit {
	raw := strings.TrimSpace(q.Raw)
	if raw == "" {
		return nil
	}
	qVals := significantTokens(raw)
	if len(qVals) == 0 {
		return nil
	}
	var hits []Hit
	process := func(rel string) bool {
		if timeUp(deadline) {
			return true
		}
		if !strings.HasSuffix(rel, ".py") {
			return false
		}
		txt, ok := readFile(s.Env, rel)
		if !ok || txt == "" {
			return false
		}
		lines := strings.Split(txt, "\n")
		sl, el, ok := matchOrderedSubsequence(lines, qVals)
		if !ok {
			return false
		}
		a, b, snip := windowAround(lines, sl, el, 12)
		hits = append(hits, hitFromChunk(0.999, s.Name(), ChunkMeta{
			FileRel: rel, LineStart: a, LineEnd: b, TextPreview: snip,
		}))
		return len(hits) >= k
	}
	for _, rel := range collectRelFiles(ctx, s.Env) {
		if process(rel) {
			return hits
		}
	}
	if s.Env.Files != nil {
		files, _ := s.Env.Files.Walk(ctx, "py")
		for _, rel := range files {
			if process(rel) {
				return hits
			}
		}
	}
	return hits
}

// ---- lineexact: whitespace-insensitive literal code match ----

type LineExactStage struct{ Env Env }

func (s *LineExactStage) Name() string          { return "lineexact" }
func (s *LineExactStage) Activate(q Query) bool { return strings.TrimSpace(q.Raw) != "" }

func (s *LineExactStage) Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit {
	pat := flexPattern(q, false, false)
	if pat == nil {
		return nil
	}
	var hits []Hit
	process := func(rel string) bool {
		if timeUp(deadline) {
			return true
		}
		txt, ok := readFile(s.Env, rel)
		if !ok || txt == "" {
			return false
		}
		loc := pat.FindStringIndex(txt)
		if loc == nil {
			return false
		}
		a, b, snip := snippetFromPos(txt, loc[0], loc[1]-loc[0], 12)
		hits = append(hits, hitFromChunk(0.998, s.Name(), ChunkMeta{
			FileRel: rel, LineStart: a, LineEnd: b, TextPreview: snip,
		}))
		return len(hits) >= k
	}
	for _, rel := range collectRelFiles(ctx, s.Env) {
		if strings.HasSuffix(rel, ".py") && process(rel) {
			return hits
		}
	}
	if s.Env.Files != nil {
		files, _ := s.Env.Files.Walk(ctx, "py")
		for _, rel := range files {
			if process(rel) {
				return hits
			}
		}
	}
	return hits
}

// ---- literal: plain substring search, case-sensitive then insensitive then flex ----

type LiteralStage struct{ Env Env }

func (s *LiteralStage) Name() string          { return "literal" }
func (s *LiteralStage) Activate(q Query) bool { return len(strings.TrimSpace(q.Raw)) >= 3 }

func (s *LiteralStage) Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit {
	raw := strings.TrimSpace(q.Raw)
	if len(raw) < 3 {
		return nil
	}
	codey := q.CodeCore != ""
	flexPat := flexPattern(q, true, false)

	var hits []Hit
	process := func(rel string) bool {
		if timeUp(deadline) {
			return true
		}
		if codey && !strings.HasSuffix(rel, ".py") {
			return false
		}
		txt, ok := readFile(s.Env, rel)
		if !ok || txt == "" {
			return false
		}
		var a, b int
		var snip string
		var score float64
		if pos := strings.Index(txt, raw); pos != -1 {
			a, b, snip = snippetFromPos(txt, pos, len(raw), 12)
			score = 0.997
		} else if posi := strings.Index(strings.ToLower(txt), strings.ToLower(raw)); posi != -1 {
			a, b, snip = snippetFromPos(txt, posi, len(raw), 12)
			score = 0.996
		} else if flexPat != nil {
			if loc := flexPat.FindStringIndex(txt); loc != nil {
				a, b, snip = snippetFromPos(txt, loc[0], loc[1]-loc[0], 12)
				score = 0.995
			}
		}
		if score == 0 {
			return false
		}
		hits = append(hits, hitFromChunk(score, s.Name(), ChunkMeta{
			FileRel: rel, LineStart: a, LineEnd: b, TextPreview: snip,
		}))
		return len(hits) >= k
	}
	for _, rel := range collectRelFiles(ctx, s.Env) {
		if process(rel) {
			return hits
		}
	}
	if s.Env.Files != nil {
		lang := ""
		if codey {
			lang = "py"
		}
		files, _ := s.Env.Files.Walk(ctx, lang)
		for _, rel := range files {
			if process(rel) {
				return hits
			}
		}
	}
	return hits
}

// ---- openbuffer: search unsaved editor buffers ----

type OpenBufferStage struct {
	Env           Env
	OpenBuffers   []byte // raw open_buffers.jsonl content, nil if not loaded
}

func (s *OpenBufferStage) Name() string          { return "openbuffer" }
func (s *OpenBufferStage) Activate(q Query) bool { return strings.TrimSpace(q.Raw) != "" }

func (s *OpenBufferStage) Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit {
	pat := flexPattern(q, true, true)
	if pat == nil {
		return nil
	}
	var hits []Hit
	for _, line := range strings.Split(string(s.OpenBuffers), "\n") {
		if timeUp(deadline) {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var obj struct {
			Name string `json:"name"`
			Path string `json:"path"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			continue
		}
		name := obj.Name
		if name == "" {
			name = obj.Path
		}
		if name == "" {
			name = "buffer"
		}
		if obj.Text == "" {
			continue
		}
		loc := pat.FindStringIndex(obj.Text)
		if loc == nil {
			continue
		}
		a, b, snip := snippetFromPos(obj.Text, loc[0], loc[1]-loc[0], 12)
		hits = append(hits, hitFromChunk(0.9965, s.Name(), ChunkMeta{
			FileRel: "open_buffer:" + name, LineStart: a, LineEnd: b, TextPreview: snip,
		}))
		if len(hits) >= k {
			break
		}
	}
	return hits
}

// ---- traceback: parse pasted stack traces into precise file windows ----

type TracebackStage struct{ Env Env }

func (s *TracebackStage) Name() string          { return "traceback" }
func (s *TracebackStage) Activate(q Query) bool { return tracebackFrameRe[0].MatchString(q.Raw) || tracebackFrameRe[1].MatchString(q.Raw) }

var tracebackFrameRe = []*regexp.Regexp{
	regexp.MustCompile(`(?i)File\s+"([^"]+)"\s*,\s*line\s+(\d+)`),
	regexp.MustCompile(`(?i)([^\s:<>"']+\.py)[:\(](\d+)\)?`),
}

func extractFrames(q string) [][2]string {
	var frames [][2]string
	seen := make(map[string]bool)
	for _, re := range tracebackFrameRe {
		for _, m := range re.FindAllStringSubmatch(q, -1) {
			path := strings.TrimSpace(m[1])
			if path == "" {
				continue
			}
			key := path + "|" + m[2]
			if seen[key] {
				continue
			}
			seen[key] = true
			frames = append(frames, [2]string{path, m[2]})
			if len(frames) >= 4 {
				return frames
			}
		}
	}
	return frames
}

func (s *TracebackStage) Run(ctx context.Context, q Query, k int, deadline time.Time) []Hit {
	frames := extractFrames(q.Raw)
	if len(frames) == 0 {
		return nil
	}
	var hits []Hit
	for _, f := range frames {
		if timeUp(deadline) {
			break
		}
		rel := strings.TrimPrefix(f[0], string(os.PathSeparator))
		txt, ok := readFile(s.Env, rel)
		if !ok || txt == "" {
			continue
		}
		ln := atoiSafe(f[1])
		lines := strings.Split(txt, "\n")
		a, b, snip := windowAround(lines, ln, ln, 12)
		hits = append(hits, hitFromChunk(0.996, s.Name(), ChunkMeta{
			FileRel: rel, LineStart: a, LineEnd: b, TextPreview: snip,
		}))
		if len(hits) >= k {
			break
		}
	}
	return hits
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return n
		}
		n = n*10 + int(r-'0')
	}
	return n
}
