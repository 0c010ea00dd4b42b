package parser

import (
	"bufio"
	"strings"

	"subforge/internal/logger"
)

// bullets that list-style subscriptions put in front of links
var linePrefixes = []string{"- ", "* ", "• ", "+ ", "> "}

// CleanLine strips list bullets, quoting and trailing punctuation from one line.
func CleanLine(line string) string {
	line = strings.TrimSpace(strings.TrimPrefix(line, "\ufeff"))
	for changed := true; changed; {
		changed = false
		for _, p := range linePrefixes {
			if strings.HasPrefix(line, p) {
				line = strings.TrimSpace(line[len(p):])
				changed = true
			}
		}
		if n := len(line); n >= 2 {
			first, last := line[0], line[n-1]
			if (first == '"' || first == '\'' || first == '`') && first == last {
				line = strings.TrimSpace(line[1 : n-1])
				changed = true
			}
		}
	}
	return strings.TrimRight(line, ",;")
}

// ExtractLinks returns every distinct line that looks like a supported link,
// in input order.
func ExtractLinks(text string) []string {
	var links []string
	seen := make(map[string]bool)

	text = strings.ReplaceAll(text, "\r\n", "\n")
	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := CleanLine(scanner.Text())
		if line == "" || !IsLink(line) || seen[line] {
			continue
		}
		seen[line] = true
		links = append(links, line)
	}
	if err := scanner.Err(); err != nil {
		logger.Log.Debugf("Link extraction stopped after %d links: %v", len(links), err)
	}
	return links
}
