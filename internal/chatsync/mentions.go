package chatsync

import (
	"regexp"
	"strings"
)

var mentionPattern = regexp.MustCompile(`(?:^|[^\w@])@([A-Za-z0-9][\w-]*)`)

// ExtractMentions returns the lowercased @handles in content in first-seen
// order. @all and @everyone set the second result instead of being listed.
func ExtractMentions(content string) ([]string, bool) {
	var (
		out  []string
		all  bool
		seen = map[string]bool{}
	)
	for _, m := range mentionPattern.FindAllStringSubmatch(content, -1) {
		handle := strings.ToLower(m[1])
		if handle == "all" || handle == "everyone" {
			all = true
			continue
		}
		if seen[handle] {
			continue
		}
		seen[handle] = true
		out = append(out, handle)
	}
	return out, all
}
