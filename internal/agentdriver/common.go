package agentdriver

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/featbench/featbench/internal/harness"
)

var ansiEscapeRe = regexp.MustCompile(`\x1b\[[0-9;]*[mGKHF]`)

func stripANSI(s string) string {
	return ansiEscapeRe.ReplaceAllString(s, "")
}

// shellQuote produces a POSIX single-quoted token safe to splice into a
// shell command line, mirroring Python's shlex.quote.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}();&|<>~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

// lastJSONObjectWithUsage scans log lines in reverse for the last JSON
// object carrying a top-level "usage" field with input/output token
// counts under the given key names.
func lastJSONObjectWithUsage(log, inputKey, outputKey string) harness.TokenUsage {
	clean := stripANSI(log)
	lines := strings.Split(clean, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}
		usage, _ := event["usage"].(map[string]any)
		if usage == nil {
			continue
		}
		inp, hasInp := toInt(usage[inputKey])
		out, hasOut := toInt(usage[outputKey])
		if !hasInp && !hasOut {
			continue
		}
		u := harness.TokenUsage{}
		total := 0
		if hasInp {
			u.InputTokens = intPtr(inp)
			total += inp
		}
		if hasOut {
			u.OutputTokens = intPtr(out)
			total += out
		}
		u.TotalTokens = intPtr(total)
		return u
	}
	return harness.TokenUsage{}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}
