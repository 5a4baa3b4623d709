package verifier

import (
	"os"
	"strings"

	"github.com/jinxlabs/retrieval-core/internal/runtime"
)

// LastGoal resolves a fallback verification goal when a caller has
// none in hand. The origin reads this from a conversation's anchor
// history (jinx.micro.conversation.cont.load_last_anchors), which has
// no equivalent in this module's domain — callers that have no
// concept of conversational goals should pass a func that always
// returns "".
type LastGoal func() string

// MaybeVerify builds the submit-side of the verify trigger: skips
// entirely when JINX_VERIFY_AUTORUN is falsy, resolves goal (falling
// back to lastGoal when empty), and otherwise submits a
// verify.embedding task. The returned closure matches the shape every
// patch/dump/refactor handler already calls after a successful
// commit, grounded on maybe_verify in verify_integration.py.
func MaybeVerify(rt *runtime.Runtime, lastGoal LastGoal) func(goal string, files []string, diff string) {
	return func(goal string, files []string, diff string) {
		if !truthy("JINX_VERIFY_AUTORUN", true) {
			return
		}
		g := strings.TrimSpace(goal)
		if g == "" && lastGoal != nil {
			g = strings.TrimSpace(lastGoal())
		}
		if g == "" {
			return
		}
		kwargs := map[string]any{
			"goal":  g,
			"files": toAnySlice(files),
			"diff":  diff,
		}
		rt.SubmitTask("verify.embedding", nil, kwargs)
	}
}

func toAnySlice(files []string) []any {
	out := make([]any, len(files))
	for i, f := range files {
		out[i] = f
	}
	return out
}

func truthy(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "0", "false", "off", "no":
		return false
	default:
		return true
	}
}
