package tenant

import (
	"fmt"
	"strings"
)

// Path is a materialized hierarchical tenant key: dot-separated labels,
// root first, e.g. "Org.Region.Branch". A path at "Org" covers every
// tenant below it; sibling and ancestor paths are never covered.
type Path string

// maxDepth bounds the hierarchy; deeper paths are rejected at parse time.
const maxDepth = 16

// ParsePath validates a raw string and returns it as a Path.
func ParsePath(raw string) (Path, error) {
	if raw == "" {
		return "", fmt.Errorf("tenant path must not be empty")
	}

	segments := strings.Split(raw, ".")
	if len(segments) > maxDepth {
		return "", fmt.Errorf("tenant path exceeds maximum depth of %d", maxDepth)
	}

	for _, seg := range segments {
		if seg == "" {
			return "", fmt.Errorf("tenant path %q contains an empty segment", raw)
		}
		for _, r := range seg {
			if !isLabelRune(r) {
				return "", fmt.Errorf("tenant path segment %q contains invalid character %q", seg, r)
			}
		}
	}

	return Path(raw), nil
}

func isLabelRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-':
		return true
	}
	return false
}

// String returns the raw path value
func (p Path) String() string { return string(p) }

// Segments returns the individual labels of the path, root first
func (p Path) Segments() []string {
	if p == "" {
		return nil
	}
	return strings.Split(string(p), ".")
}

// Depth returns the number of labels in the path
func (p Path) Depth() int { return len(p.Segments()) }

// IsRoot reports whether the path has no parent
func (p Path) IsRoot() bool { return !strings.Contains(string(p), ".") }

// Parent returns the immediate ancestor path. The second return value
// is false for root paths.
func (p Path) Parent() (Path, bool) {
	idx := strings.LastIndexByte(string(p), '.')
	if idx < 0 {
		return "", false
	}
	return p[:idx], true
}

// IsAncestorOf reports whether p is a strict ancestor of other.
// "Org" is an ancestor of "Org.Region" but not of "Organization" or
// of itself.
func (p Path) IsAncestorOf(other Path) bool {
	if len(other) <= len(p) {
		return false
	}
	return strings.HasPrefix(string(other), string(p)) && other[len(p)] == '.'
}

// Covers reports whether other falls inside p's subtree, i.e. other is
// p itself or any descendant. This is the authorization scope rule: a
// grant held at p covers p and everything below it, never an ancestor
// or sibling.
func (p Path) Covers(other Path) bool {
	return p == other || p.IsAncestorOf(other)
}
