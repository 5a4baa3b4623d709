package patch

import (
	"fmt"
	"os"
	"strings"
)

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

func lineCount(path string) int {
	b, err := os.ReadFile(path)
	if err != nil || len(b) == 0 {
		return 0
	}
	return len(strings.Split(string(b), "\n"))
}

// MaybeWarnFilesize returns a warning string when path exceeds the
// configured line/byte thresholds, or "" when it doesn't (or
// watchdog warnings are disabled), grounded on maybe_warn_filesize in
// watchdog.py.
//
// Controls: JINX_FILESIZE_WARN, JINX_FILESIZE_MAXLINES (1200),
// JINX_FILESIZE_MAXBYTES (150000).
func MaybeWarnFilesize(path string) string {
	if !truthy("JINX_FILESIZE_WARN", true) {
		return ""
	}
	maxLines := envInt("JINX_FILESIZE_MAXLINES", 1200)
	maxBytes := envInt("JINX_FILESIZE_MAXBYTES", 150000)
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	n := lineCount(path)
	b := int(info.Size())
	var msgs []string
	if maxLines > 0 && n > maxLines {
		msgs = append(msgs, fmt.Sprintf("lines=%d > max_lines=%d", n, maxLines))
	}
	if maxBytes > 0 && b > maxBytes {
		msgs = append(msgs, fmt.Sprintf("bytes=%d > max_bytes=%d", b, maxBytes))
	}
	if len(msgs) == 0 {
		return ""
	}
	return fmt.Sprintf("watchdog: large file '%s': %s", path, strings.Join(msgs, ", "))
}
