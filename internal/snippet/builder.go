package snippet

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Request bundles everything BuildSnippet needs for one hit.
type Request struct {
	FileRel         string
	LineStart       int
	LineEnd         int
	TextPreview     string
	Query           string
	PreferFullScope bool
	ExpandCallees   bool
	ExtraCenters    []int
}

// FileReader reads a project-relative file's full text.
type FileReader func(relPath string) (string, bool)

// Builder builds snippets with caching, scope resolution, and callee
// expansion, grounded on build_snippet in project_snippet.py.
type Builder struct {
	Cache        *Cache
	Knobs        Knobs
	ReadFile     FileReader
	FileSigOf    func(relPath string) FileSig
	AnchorsOf    AnchorSource
	KnownFiles   func() []string
	CalleesTopN  int
	CalleeMaxLen int
	SnippetAround int
}

// LangForFile maps a file extension to its code-fence language tag,
// grounded on lang_for_file in project_lang.py.
func LangForFile(path string) string {
	p := strings.ToLower(path)
	switch {
	case strings.HasSuffix(p, ".py"):
		return "python"
	case strings.HasSuffix(p, ".js"):
		return "javascript"
	case strings.HasSuffix(p, ".ts"):
		return "typescript"
	case strings.HasSuffix(p, ".tsx"):
		return "tsx"
	case strings.HasSuffix(p, ".jsx"):
		return "jsx"
	case strings.HasSuffix(p, ".go"):
		return "go"
	case strings.HasSuffix(p, ".java"):
		return "java"
	case strings.HasSuffix(p, ".rs"):
		return "rust"
	case strings.HasSuffix(p, ".rb"):
		return "ruby"
	case strings.HasSuffix(p, ".sh"), strings.HasSuffix(p, ".bash"):
		return "bash"
	case strings.HasSuffix(p, ".json"):
		return "json"
	case strings.HasSuffix(p, ".yaml"), strings.HasSuffix(p, ".yml"):
		return "yaml"
	case strings.HasSuffix(p, ".md"):
		return "markdown"
	default:
		return ""
	}
}

// findLineWindow locates a small window around the first occurrence
// of any token (in priority order), grounded on find_line_window.
func findLineWindow(text string, tokens []string, around int) (int, int, string) {
	if text == "" || len(tokens) == 0 {
		return 0, 0, ""
	}
	lowered := strings.ToLower(text)
	hitPos, hitLen := -1, 0
	for _, t := range tokens {
		tl := strings.TrimSpace(t)
		if tl == "" {
			continue
		}
		if p := strings.Index(lowered, strings.ToLower(tl)); p >= 0 {
			hitPos, hitLen = p, len(tl)
			break
		}
	}
	if hitPos < 0 {
		return 0, 0, ""
	}
	ls := strings.Count(text[:hitPos], "\n") + 1
	spanLines := strings.Count(text[hitPos:hitPos+hitLen], "\n")
	if spanLines < 1 {
		spanLines = 1
	}
	le := ls + spanLines
	lines := strings.Split(text, "\n")
	a := ls - around
	if a < 1 {
		a = 1
	}
	b := le + around
	if b > len(lines) {
		b = len(lines)
	}
	return a, b, strings.TrimSpace(strings.Join(lines[a-1:b], "\n"))
}

func flexCoreRegex(core string) *regexp.Regexp {
	core = strings.TrimSpace(core)
	if core == "" {
		return nil
	}
	fields := strings.Fields(core)
	var b strings.Builder
	b.WriteString("(?s)")
	for i, f := range fields {
		if i > 0 {
			b.WriteString(`\s+`)
		}
		b.WriteString(regexp.QuoteMeta(f))
	}
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil
	}
	return re
}

// Build produces the header + fenced code block for one hit, with
// TTL caching and leader/follower coalescing for identical requests.
func (b *Builder) Build(req Request, codeCore string, identifiers []string) Result {
	var sig FileSig
	if b.FileSigOf != nil {
		sig = b.FileSigOf(req.FileRel)
	}
	key := CacheKey(req.FileRel, req.LineStart, req.LineEnd, req.Query, req.PreferFullScope, req.ExpandCallees, req.ExtraCenters, sig, b.Knobs)

	if b.Cache != nil {
		if cached, ok := b.Cache.Get(key); ok {
			return cached
		}
	}

	var leader bool
	var wait <-chan struct{}
	if b.Cache != nil {
		leader, wait = b.Cache.CoalesceEnter(key)
		if !leader {
			select {
			case <-wait:
			case <-time.After(b.Cache.CoalesceWait()):
			}
			if cached, ok := b.Cache.Get(key); ok {
				return cached
			}
		}
	}

	result := b.build(req, codeCore, identifiers)

	if b.Cache != nil {
		newSig := FileSig{}
		if b.FileSigOf != nil {
			newSig = b.FileSigOf(req.FileRel)
		}
		if newSig == sig {
			b.Cache.Put(key, result)
		}
		if leader {
			b.Cache.CoalesceExit(key)
		}
	}
	return result
}

func (b *Builder) build(req Request, codeCore string, identifiers []string) Result {
	ls, le := req.LineStart, req.LineEnd
	localLs, localLe := ls, le
	isFullScope := false
	didSegment := false
	body := strings.TrimSpace(req.TextPreview)

	header := fmt.Sprintf("[%s]", req.FileRel)
	if ls != 0 || le != 0 {
		header = fmt.Sprintf("[%s:%d-%d]", req.FileRel, ls, le)
	}

	fileText := ""
	if b.ReadFile != nil {
		if txt, ok := b.ReadFile(req.FileRel); ok {
			fileText = txt
		}
	}

	var linesAll []string
	if fileText != "" {
		linesAll = strings.Split(fileText, "\n")

		if ls == 1 && le == len(linesAll) {
			body = fileText
			localLs, localLe = 1, len(linesAll)
			isFullScope = true
		} else if ls != 0 || le != 0 {
			a := ls
			if a < 1 {
				a = 1
			}
			bEnd := le
			if bEnd <= 0 {
				bEnd = a
			}
			aIdx := a - 1
			if aIdx > len(linesAll)-1 {
				aIdx = len(linesAll) - 1
			}
			bIdx := bEnd - 1
			if bIdx > len(linesAll)-1 {
				bIdx = len(linesAll) - 1
			}
			if aIdx >= 0 && aIdx <= bIdx {
				span := strings.TrimSpace(strings.Join(linesAll[aIdx:bIdx+1], "\n"))
				if span != "" {
					body = span
				}
			}
		} else {
			a, bEnd, snip := 0, 0, ""
			if codeCore != "" {
				if re := flexCoreRegex(codeCore); re != nil {
					if loc := re.FindStringIndex(fileText); loc != nil {
						lsFound := strings.Count(fileText[:loc[0]], "\n") + 1
						spanLines := strings.Count(fileText[loc[0]:loc[1]], "\n")
						if spanLines < 1 {
							spanLines = 1
						}
						leFound := lsFound + spanLines
						a = lsFound - b.snippetAround()
						if a < 1 {
							a = 1
						}
						bEnd = leFound + b.snippetAround()
						if bEnd > len(linesAll) {
							bEnd = len(linesAll)
						}
						snip = strings.TrimSpace(strings.Join(linesAll[a-1:bEnd], "\n"))
					}
				}
			}
			if a == 0 && bEnd == 0 {
				toks := append([]string{}, identifiers...)
				sort.Slice(toks, func(i, j int) bool { return len(toks[i]) > len(toks[j]) })
				a, bEnd, snip = findLineWindow(fileText, toks, b.snippetAround())
			}
			if a != 0 || bEnd != 0 {
				if snip != "" {
					body = snip
				}
				localLs, localLe = a, bEnd
			}
		}

		useLs, useLe := localLs, localLe
		if useLs == 0 {
			useLs = ls
		}
		if useLe == 0 {
			useLe = le
		}
		isWholeFile := localLs == 1 && localLe == len(linesAll)
		if strings.HasSuffix(req.FileRel, ".py") && (useLs != 0 || useLe != 0) && !isWholeFile {
			candLine := useLs
			if useLs != 0 && useLe != 0 {
				candLine = (useLs + useLe) / 2
			} else if useLe != 0 {
				candLine = useLe
			}
			if sStart, sEnd := FindPythonScope(fileText, candLine); sStart != 0 && sEnd != 0 {
				sIdx := sStart - 1
				if sIdx < 0 {
					sIdx = 0
				}
				eIdx := sEnd - 1
				if eIdx > len(linesAll)-1 {
					eIdx = len(linesAll) - 1
				}
				scopeText := strings.TrimSpace(strings.Join(linesAll[sIdx:eIdx+1], "\n"))
				if scopeText != "" {
					if req.PreferFullScope {
						tooLarge := (b.Knobs.ScopeMaxChars > 0 && len(scopeText) > b.Knobs.ScopeMaxChars) || len(scopeText) > b.Knobs.PerHitChars
						switch {
						case tooLarge && b.Knobs.MultiSegment:
							body = BuildMultiSegmentPython(linesAll, sStart, sEnd, req.Query, b.AnchorsOf,
								b.Knobs.PerHitChars, b.Knobs.HeadLines, b.Knobs.TailLines, b.Knobs.MidWindows, b.Knobs.MidAround,
								b.Knobs.StripComments, req.ExtraCenters)
							didSegment = true
							isFullScope = false
						case b.Knobs.ScopeMaxChars > 0 && len(scopeText) > b.Knobs.ScopeMaxChars:
							body = scopeText[:b.Knobs.ScopeMaxChars]
							isFullScope = false
						default:
							body = scopeText
							isFullScope = true
						}
						localLs, localLe = sStart, sEnd
					} else if len(scopeText) <= b.Knobs.PerHitChars {
						body = scopeText
						localLs, localLe = sStart, sEnd
						isFullScope = true
					} else {
						c := candLine
						if c < 1 {
							c = 1
						}
						a := c - b.snippetAround()
						if a < 1 {
							a = 1
						}
						bEnd := c + b.snippetAround()
						if bEnd > len(linesAll) {
							bEnd = len(linesAll)
						}
						if w := strings.TrimSpace(strings.Join(linesAll[a-1:bEnd], "\n")); w != "" {
							body = w
						}
						localLs, localLe = a, bEnd
					}
				}
			}
		}
	}

	if !isFullScope && !didSegment && len(body) > b.Knobs.PerHitChars {
		body = body[:b.Knobs.PerHitChars]
	}

	if localLs != 0 || localLe != 0 {
		header = fmt.Sprintf("[%s:%d-%d]", req.FileRel, localLs, localLe)
	} else {
		header = fmt.Sprintf("[%s]", req.FileRel)
	}

	if strings.HasSuffix(req.FileRel, ".py") && fileText != "" {
		candLine := localLs
		if localLs != 0 && localLe != 0 {
			candLine = (localLs + localLe) / 2
		} else if localLe != 0 {
			candLine = localLe
		}
		if name, kind := GetPythonSymbolAtLine(fileText, candLine); name != "" {
			header = strings.TrimRight(fmt.Sprintf("[%s:%d-%d %s %s]", req.FileRel, localLs, localLe, kind, name), " ")
		}
	}

	finalBody := body
	if req.ExpandCallees && strings.HasSuffix(req.FileRel, ".py") && b.CalleesTopN > 0 && (isFullScope || didSegment) {
		finalBody = b.expandCallees(req.FileRel, body, finalBody)
	}

	lang := LangForFile(req.FileRel)
	var codeBlock string
	if lang != "" {
		codeBlock = fmt.Sprintf("```%s\n%s\n```", lang, finalBody)
	} else {
		codeBlock = fmt.Sprintf("```\n%s\n```", finalBody)
	}

	return Result{Header: header, CodeBlock: codeBlock, LineStart: localLs, LineEnd: localLe, FullScope: isFullScope}
}

func (b *Builder) snippetAround() int {
	if b.SnippetAround <= 0 {
		return 12
	}
	return b.SnippetAround
}

func (b *Builder) expandCallees(fileRel, body, finalBody string) string {
	callees := ExtractCalleesFromScope(body, b.CalleesTopN*2)
	var appended []string
	used := 0
	var knownFiles []string
	if b.KnownFiles != nil {
		knownFiles = b.KnownFiles()
	}
	for _, nm := range callees {
		if used >= b.CalleesTopN {
			break
		}
		defs := FindDefScopeInProject(nm, fileRel, 1, knownFiles, b.ReadFile)
		if len(defs) == 0 {
			continue
		}
		d := defs[0]
		src, ok := b.ReadFile(d.FileRel)
		if !ok || src == "" {
			continue
		}
		lines := strings.Split(src, "\n")
		sIdx := d.LineStart - 1
		if sIdx < 0 {
			sIdx = 0
		}
		eIdx := d.LineEnd - 1
		if eIdx > len(lines)-1 {
			eIdx = len(lines) - 1
		}
		seg := strings.TrimSpace(strings.Join(lines[sIdx:eIdx+1], "\n"))
		if seg == "" {
			continue
		}
		if b.CalleeMaxLen > 0 && len(seg) > b.CalleeMaxLen {
			seg = seg[:b.CalleeMaxLen]
		}
		appended = append(appended, fmt.Sprintf("# callee: %s [%s:%d-%d]\n%s", nm, d.FileRel, d.LineStart, d.LineEnd, seg))
		used++
	}
	if len(appended) == 0 {
		return finalBody
	}
	return finalBody + "\n\n# ---- expanded callees ----\n" + strings.Join(appended, "\n\n")
}
