package probe

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CountMatches extracts a ticket count from body. A pattern with a capture
// group yields the integer captured by its first match; a pattern without
// groups yields the number of matches.
func CountMatches(body, pattern string) (int, error) {
	if pattern == "" {
		return 0, fmt.Errorf("count pattern is empty")
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return 0, fmt.Errorf("compile count pattern: %w", err)
	}

	if re.NumSubexp() == 0 {
		return len(re.FindAllStringIndex(body, -1)), nil
	}

	m := re.FindStringSubmatch(body)
	if m == nil {
		return 0, fmt.Errorf("count pattern %q did not match", pattern)
	}
	raw := strings.ReplaceAll(strings.TrimSpace(m[1]), ",", "")
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse count %q: %w", m[1], err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative count %d", n)
	}
	return n, nil
}
