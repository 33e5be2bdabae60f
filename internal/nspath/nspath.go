// Package nspath implements the path and pattern algebra shared by every
// namespace: syntax validation, glob matching, and prefix containment
// with segment-boundary discipline.
package nspath

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is wrapped by every validation failure in this package.
var ErrInvalid = errors.New("invalid path")

// Root is the namespace root path.
const Root = "/"

func validSegmentChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '.' || c == '-':
		return true
	}
	return false
}

func validateSegment(seg string) error {
	if seg == "" {
		return errorf("empty segment")
	}
	if seg == "." || seg == ".." {
		return errorf("segment %q is forbidden", seg)
	}
	for i := 0; i < len(seg); i++ {
		if !validSegmentChar(seg[i]) {
			return errorf("character %q not allowed", seg[i])
		}
	}
	return nil
}

func errorf(format string, args ...any) error {
	return fmt.Errorf("nspath: "+format+": %w", append(args, ErrInvalid)...)
}

// Validate checks path against the grammar: "/" or "/"-separated segments
// of [A-Za-z0-9_.-], no "." or ".." segments, no empty segments, no
// surrounding whitespace.
func Validate(path string) error {
	if path == "" {
		return errorf("empty path")
	}
	if strings.TrimSpace(path) != path {
		return errorf("surrounding whitespace")
	}
	if path[0] != '/' {
		return errorf("missing leading slash in %q", path)
	}
	if path == Root {
		return nil
	}
	for _, seg := range strings.Split(path[1:], "/") {
		if err := validateSegment(seg); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePattern checks a watch pattern: any valid path, optionally with
// a trailing "*" (single level) or "**" (recursive) segment.
func ValidatePattern(pattern string) error {
	if base, ok := strings.CutSuffix(pattern, "/**"); ok {
		if base == "" {
			return Validate(Root)
		}
		return Validate(base)
	}
	if base, ok := strings.CutSuffix(pattern, "/*"); ok {
		if base == "" {
			return Validate(Root)
		}
		return Validate(base)
	}
	return Validate(pattern)
}

// Match reports whether path matches pattern. Exact patterns match only
// themselves; "base/*" matches direct children of base; "base/**" matches
// any path under base.
func Match(pattern, path string) bool {
	if base, ok := strings.CutSuffix(pattern, "/**"); ok {
		if base == "" {
			base = Root
		}
		return IsUnder(base, path)
	}
	if base, ok := strings.CutSuffix(pattern, "/*"); ok {
		if base == "" {
			base = Root
		}
		if !IsUnder(base, path) || path == base {
			return false
		}
		rest := path[len(base):]
		rest = strings.TrimPrefix(rest, "/")
		return !strings.Contains(rest, "/")
	}
	return pattern == path
}

// IsUnder reports whether path lies at or below prefix. The containment
// is segment-safe: "/foo" contains "/foo" and "/foo/bar" but never
// "/foobar".
func IsUnder(prefix, path string) bool {
	if prefix == Root {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix) && len(path) > len(prefix) && path[len(prefix)] == '/'
}
