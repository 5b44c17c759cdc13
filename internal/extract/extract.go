package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/triaged/internal/logsource"
)

var (
	frameLinePattern = regexp.MustCompile(`(?m)^\s*at .+\(.+:\d+:\d+\)`)
	traceLinePattern = regexp.MustCompile(`^\s+at\s`)
	errorHeadPattern = regexp.MustCompile(`(?m)^[A-Za-z]*Error: .*\n\s+at\s`)

	crashBanners = []string{"FATAL ERROR", "<--- JS stacktrace --->"}
	oomMarkers   = []string{"OutOfMemory", "FATAL ERROR", "Allocation failed"}

	pluginPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bplugin[:= ]\s*"?([A-Za-z0-9@][A-Za-z0-9@/_.-]*[A-Za-z0-9])"?`),
		regexp.MustCompile(`\[([A-Za-z0-9_.-]*plugin[A-Za-z0-9_.-]*)\]`),
		regexp.MustCompile(`(?:^|[\s"'(])(@[a-z0-9][a-z0-9._-]*/[a-z0-9][a-z0-9._-]*)`),
	}
)

// Extract parses the event message. It never fails; unknown formats yield
// KnownFormat=false with whatever fields could still be found.
func Extract(event logsource.ErrorEvent) ParsedLogContext {
	msg := strings.ReplaceAll(event.Message, "\r\n", "\n")

	return ParsedLogContext{
		KnownFormat: isKnownFormat(msg),
		StackTrace:  stackTrace(msg),
		PluginNames: pluginNames(msg),
		OutOfMemory: containsAny(msg, oomMarkers),
		FirstNLines: firstLines(msg, FirstLinesLimit),
	}
}

func isKnownFormat(msg string) bool {
	return frameLinePattern.MatchString(msg) ||
		containsAny(msg, crashBanners) ||
		errorHeadPattern.MatchString(msg)
}

// stackTrace returns the first contiguous run of "at" frames.
func stackTrace(msg string) string {
	var frames []string
	for _, line := range strings.Split(msg, "\n") {
		if traceLinePattern.MatchString(line) {
			frames = append(frames, strings.TrimRight(line, " \t"))
			continue
		}
		if len(frames) > 0 {
			break
		}
	}
	return truncate(strings.Join(frames, "\n"), MaxStackTraceLen)
}

func pluginNames(msg string) []string {
	seen := make(map[string]bool)
	type hit struct {
		pos  int
		name string
	}
	var hits []hit
	for _, re := range pluginPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(msg, -1) {
			hits = append(hits, hit{pos: m[2], name: msg[m[2]:m[3]]})
		}
	}
	// Order of first appearance in the message, not per pattern.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].pos < hits[j-1].pos; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	var names []string
	for _, h := range hits {
		if !seen[h.name] {
			seen[h.name] = true
			names = append(names, h.name)
		}
	}
	return names
}

func firstLines(msg string, n int) []string {
	var lines []string
	for _, line := range strings.Split(msg, "\n") {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == n {
			break
		}
	}
	return lines
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// truncate cuts s to at most max bytes on a rune boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
