package media

import (
	"regexp"
	"strings"

	. "github.com/roelfdiedericks/clawrelay/internal/logging"
)

// MediaTokenRE matches MEDIA: tokens in resolver output.
// Format: MEDIA:<path_or_url>, optionally wrapped in backticks.
var MediaTokenRE = regexp.MustCompile(`\bMEDIA:\s*` + "`?" + `([^\n` + "`" + `]+)` + "`?")

// SplitMediaFromOutput removes MEDIA: lines from resolver text and returns
// the cleaned text plus the media references they named. Lines whose
// reference is not acceptable are kept as text.
func SplitMediaFromOutput(raw string) (string, []string) {
	if raw == "" {
		return "", nil
	}

	var refs []string
	var kept []string
	for _, line := range strings.Split(raw, "\n") {
		if !strings.HasPrefix(strings.TrimSpace(line), "MEDIA:") {
			kept = append(kept, line)
			continue
		}

		found := false
		for _, match := range MediaTokenRE.FindAllStringSubmatch(line, -1) {
			candidate := cleanCandidate(match[1])
			if IsValidMediaRef(candidate) {
				refs = append(refs, candidate)
				found = true
			} else {
				L_trace("media: rejected reference", "ref", candidate)
			}
		}
		if !found {
			kept = append(kept, line)
		}
	}

	text := strings.TrimSpace(strings.Join(kept, "\n"))
	for strings.Contains(text, "\n\n\n") {
		text = strings.ReplaceAll(text, "\n\n\n", "\n\n")
	}
	if len(refs) > 0 {
		L_debug("media: parsed output", "mediaCount", len(refs), "textLength", len(text))
	}
	return text, refs
}

func cleanCandidate(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, `"'`+"`"+`[]{}()`)
	return strings.TrimSpace(s)
}

// IsValidMediaRef accepts https URLs and ./relative paths without traversal.
// Absolute, home-relative, file:// and plain http references are rejected:
// resolver output is untrusted.
func IsValidMediaRef(ref string) bool {
	if ref == "" || len(ref) > 4096 {
		return false
	}
	if strings.HasPrefix(ref, "https://") {
		return true
	}
	return strings.HasPrefix(ref, "./") && !strings.Contains(ref, "..")
}
