package utils

import "strings"

// LastSegment returns the final "/"-separated segment of s.
func LastSegment(s string) string {
	segs := strings.Split(s, "/")
	return segs[len(segs)-1]
}

// PathSegments splits a "/"-separated path into its non-empty, non-"."
// segments, so callers can walk it one component at a time without special
// casing leading/trailing/doubled slashes.
func PathSegments(path string) []string {
	var segments []string
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." {
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}

// JoinSegments rejoins segments produced by PathSegments into a canonical
// absolute path ("/" if segments is empty).
func JoinSegments(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}
