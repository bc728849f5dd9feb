package runtime

import (
	"fmt"
	"path"
	"strings"

	"github.com/pithecene-io/testpipe/types"
)

// Predicate selects discovered tests.
type Predicate func(types.DiscoveredTest) bool

// TreeFilter matches tests by their /Namespace/Type/Method path.
//
// Each segment is a glob (path.Match syntax). A "**" segment matches any
// number of segments, including none. A segment may carry trait
// conditions, e.g. "Method*[Category=Slow]"; a condition without a value,
// "[Flaky]", matches the key alone. All conditions must hold.
type TreeFilter struct {
	expr     string
	segments []segment
}

type segment struct {
	glob   string
	traits []types.Trait
}

// ParseTreeFilter parses a tree filter expression.
func ParseTreeFilter(expr string) (*TreeFilter, error) {
	if !strings.HasPrefix(expr, "/") {
		return nil, fmt.Errorf("tree filter %q: must start with /", expr)
	}
	raw := strings.Split(strings.TrimPrefix(expr, "/"), "/")
	f := &TreeFilter{expr: expr}
	for _, r := range raw {
		seg, err := parseSegment(r)
		if err != nil {
			return nil, fmt.Errorf("tree filter %q: %w", expr, err)
		}
		f.segments = append(f.segments, seg)
	}
	return f, nil
}

func parseSegment(s string) (segment, error) {
	var seg segment
	glob, rest, found := strings.Cut(s, "[")
	seg.glob = glob
	for found {
		var cond string
		cond, rest, found = strings.Cut(rest, "]")
		if !found {
			return segment{}, fmt.Errorf("unterminated trait condition in %q", s)
		}
		key, value, hasValue := strings.Cut(cond, "=")
		if key == "" {
			return segment{}, fmt.Errorf("empty trait key in %q", s)
		}
		tr := types.Trait{Key: key}
		if hasValue {
			tr.Value = types.StrPtr(value)
		}
		seg.traits = append(seg.traits, tr)
		if rest == "" {
			break
		}
		if !strings.HasPrefix(rest, "[") {
			return segment{}, fmt.Errorf("unexpected %q after trait condition", rest)
		}
		rest = rest[1:]
	}
	if seg.glob == "" {
		return segment{}, fmt.Errorf("empty segment in %q", s)
	}
	if seg.glob != "**" {
		if _, err := path.Match(seg.glob, ""); err != nil {
			return segment{}, fmt.Errorf("segment %q: %w", seg.glob, err)
		}
	}
	return seg, nil
}

// String returns the expression the filter was parsed from.
func (f *TreeFilter) String() string { return f.expr }

// Match reports whether t's tree path matches.
func (f *TreeFilter) Match(t types.DiscoveredTest) bool {
	return matchSegments(f.segments, TreePath(t), t)
}

// Predicate returns f as a Predicate.
func (f *TreeFilter) Predicate() Predicate { return f.Match }

func matchSegments(segs []segment, parts []string, t types.DiscoveredTest) bool {
	if len(segs) == 0 {
		return len(parts) == 0
	}
	seg := segs[0]
	if !traitsMatch(seg.traits, t) {
		return false
	}
	if seg.glob == "**" {
		for i := 0; i <= len(parts); i++ {
			if matchSegments(segs[1:], parts[i:], t) {
				return true
			}
		}
		return false
	}
	if len(parts) == 0 {
		return false
	}
	if ok, _ := path.Match(seg.glob, parts[0]); !ok {
		return false
	}
	return matchSegments(segs[1:], parts[1:], t)
}

func traitsMatch(conds []types.Trait, t types.DiscoveredTest) bool {
	for _, c := range conds {
		v, ok := t.TraitValue(c.Key)
		if !ok {
			return false
		}
		if c.Value != nil && v != *c.Value {
			return false
		}
	}
	return true
}

// TreePath returns the path segments of t: namespace, type and method when
// reported, with the display name standing in for a missing method.
func TreePath(t types.DiscoveredTest) []string {
	var parts []string
	if t.Namespace != nil && *t.Namespace != "" {
		parts = append(parts, *t.Namespace)
	}
	if t.TypeName != nil && *t.TypeName != "" {
		parts = append(parts, *t.TypeName)
	}
	if t.MethodName != nil && *t.MethodName != "" {
		parts = append(parts, *t.MethodName)
	} else {
		parts = append(parts, t.DisplayName)
	}
	return parts
}

// Filter returns the tests include accepts, in order. A nil include keeps all.
func Filter(tests []types.DiscoveredTest, include Predicate) []types.DiscoveredTest {
	if include == nil {
		return tests
	}
	out := make([]types.DiscoveredTest, 0, len(tests))
	for _, t := range tests {
		if include(t) {
			out = append(out, t)
		}
	}
	return out
}
