// Package similartext produces "maybe you mean X?" suggestions for
// UsageErrors raised when a property or record-type name in a query
// specification does not resolve against the schema.
package similartext

import (
	"sort"
	"strings"
)

// Find returns a suggestion fragment (starting with ", maybe you
// mean ") for the names in candidates that are close to target under
// Levenshtein distance, or "" if target is empty or nothing is close
// enough. Candidate order is preserved.
func Find(candidates []string, target string) string {
	if target == "" || len(candidates) == 0 {
		return ""
	}

	var matches []string
	for _, c := range candidates {
		if isClose(c, target) {
			matches = append(matches, c)
		}
	}
	return format(matches)
}

// FindFromMap is Find over the keys of a map, for any value type.
func FindFromMap[V any](candidates map[string]V, target string) string {
	if target == "" || len(candidates) == 0 {
		return ""
	}

	keys := make([]string, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return Find(keys, target)
}

func isClose(candidate, target string) bool {
	threshold := minLen(candidate, target) / 2
	if threshold < 1 {
		threshold = 1
	}
	return levenshtein(candidate, target) <= threshold
}

func minLen(a, b string) int {
	if len(a) < len(b) {
		return len(a)
	}
	return len(b)
}

func format(matches []string) string {
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(", maybe you mean ")
	for i, m := range matches {
		if i > 0 {
			if i == len(matches)-1 {
				b.WriteString(" or ")
			} else {
				b.WriteString(", ")
			}
		}
		b.WriteString(m)
	}
	b.WriteString("?")
	return b.String()
}

// levenshtein computes the classic edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)

	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			cur[j] = minInt(del, minInt(ins, sub))
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
