package utils

import "strings"

// MatchResource checks a resource identifier against a pattern. Resources
// are "/"-separated hierarchical identifiers ("doc:42", "dept:123/doc:7").
// Pattern grammar:
//
//   - "*" alone matches every resource.
//   - A pattern ending in "/*" matches any resource whose leading segments
//     match the rest of the pattern and that has at least one more segment.
//   - The segment "*" matches exactly one segment.
//   - A segment ending in "*" prefix-matches one segment ("doc:*" matches
//     "doc:42" but not "doc:42/page:1").
//   - Any other segment matches literally.
func MatchResource(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if value == "" || pattern == "" {
		return false
	}

	vSegs := strings.Split(value, "/")
	pSegs := strings.Split(pattern, "/")

	// trailing "/*" consumes one or more remaining segments
	if pSegs[len(pSegs)-1] == "*" && len(pSegs) > 1 {
		head := pSegs[:len(pSegs)-1]
		if len(vSegs) < len(head)+1 {
			return false
		}
		return matchSegments(vSegs[:len(head)], head)
	}

	if len(vSegs) != len(pSegs) {
		return false
	}
	return matchSegments(vSegs, pSegs)
}

func matchSegments(values, patterns []string) bool {
	for i, p := range patterns {
		if !matchSegment(values[i], p) {
			return false
		}
	}
	return true
}

func matchSegment(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(value, pattern[:len(pattern)-1])
	}
	return value == pattern
}

// MatchAction checks an action against a pattern. "*" matches everything;
// a pattern ending in "*" prefix-matches ("doc.*" matches "doc.read").
func MatchAction(pattern, actual string) bool {
	if pattern == "*" || pattern == actual {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(actual, pattern[:len(pattern)-1])
	}
	return false
}
