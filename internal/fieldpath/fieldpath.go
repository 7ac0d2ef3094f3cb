// internal/fieldpath/fieldpath.go
//
// Intake – dotted field-path addressing.
//
// Context
//   A field path is the single stable address of one editable value inside a
//   section tree: "father.first_name", "previous_school.2.school_name",
//   "student_support.support".  The same string keys the value, the client
//   error map, and the path-keyed error payloads the API answers with, so
//   a value and its error can never drift apart.
//
// Workflow
//   •  Parse accepts both "a.2.b" and "a[2].b" spellings; Canonical renders
//      the dotted numeric form, which is what the server speaks.
//   •  Get / Set / Delete walk a map[string]any tree.  Set auto-creates
//      intermediate maps and grows slices so hydration can write into an
//      empty tree; Get never mutates.
//
// Notes
//   Slices hold []any.  An index one past the end appends, matching how the
//   wizards add repeatable-group entries (licenses, siblings).
//
//------------------------------------------------------------------------------

package fieldpath

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of a parsed path: a map key or a slice index.
type Segment struct {
	Key   string
	Index int
	IsIdx bool
}

// Parse splits a path into segments.  Bracketed indices are normalized, so
// "licenses[2].name" and "licenses.2.name" parse identically.
func Parse(path string) ([]Segment, error) {
	if path == "" {
		return nil, fmt.Errorf("fieldpath: empty path")
	}
	// Normalize "a[2]" to "a.2" before splitting.
	norm := strings.NewReplacer("[", ".", "]", "").Replace(path)
	parts := strings.Split(norm, ".")

	segs := make([]Segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("fieldpath: empty segment in %q", path)
		}
		if idx, err := strconv.Atoi(p); err == nil {
			if idx < 0 {
				return nil, fmt.Errorf("fieldpath: negative index in %q", path)
			}
			segs = append(segs, Segment{Index: idx, IsIdx: true})
			continue
		}
		segs = append(segs, Segment{Key: p})
	}
	return segs, nil
}

// Canonical returns the dotted spelling of path, or path unchanged when it
// does not parse.  Server error keys are compared in canonical form.
func Canonical(path string) string {
	segs, err := Parse(path)
	if err != nil {
		return path
	}
	return Join(segs)
}

// Join renders segments in canonical dotted form.
func Join(segs []Segment) string {
	var b strings.Builder
	for i, s := range segs {
		if i > 0 {
			b.WriteByte('.')
		}
		if s.IsIdx {
			b.WriteString(strconv.Itoa(s.Index))
		} else {
			b.WriteString(s.Key)
		}
	}
	return b.String()
}

// Get resolves path inside tree.  The boolean is false when any segment is
// missing or of the wrong shape.
func Get(tree map[string]any, path string) (any, bool) {
	segs, err := Parse(path)
	if err != nil {
		return nil, false
	}
	var cur any = tree
	for _, s := range segs {
		if s.IsIdx {
			list, ok := cur.([]any)
			if !ok || s.Index >= len(list) {
				return nil, false
			}
			cur = list[s.Index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[s.Key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes v at path, creating intermediate maps and extending slices by
// at most one entry.  It fails when an existing value blocks the walk (for
// example a scalar where a map is addressed).
func Set(tree map[string]any, path string, v any) error {
	segs, err := Parse(path)
	if err != nil {
		return err
	}
	return setSegs(tree, segs, v, path)
}

func setSegs(tree map[string]any, segs []Segment, v any, full string) error {
	if segs[0].IsIdx {
		return fmt.Errorf("fieldpath: %q starts with an index", full)
	}

	m := tree
	for i := 0; i < len(segs)-1; i++ {
		s := segs[i]
		if s.IsIdx {
			return fmt.Errorf("fieldpath: misplaced index in %q", full)
		}
		next := segs[i+1]
		if next.IsIdx {
			// s names a slice; descend into (or create) the indexed element.
			list, ok := m[s.Key].([]any)
			if m[s.Key] != nil && !ok {
				return fmt.Errorf("fieldpath: %q is not a list in %q", s.Key, full)
			}
			switch {
			case next.Index < len(list):
			case next.Index == len(list):
				list = append(list, map[string]any{})
			default:
				return fmt.Errorf("fieldpath: index %d out of range in %q", next.Index, full)
			}
			m[s.Key] = list

			if i+1 == len(segs)-1 {
				list[next.Index] = v
				return nil
			}
			elem, ok := list[next.Index].(map[string]any)
			if !ok {
				return fmt.Errorf("fieldpath: element %d is not a record in %q", next.Index, full)
			}
			m = elem
			i++ // consumed the index segment too
			continue
		}

		child, ok := m[s.Key]
		if !ok || child == nil {
			child = map[string]any{}
			m[s.Key] = child
		}
		cm, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("fieldpath: %q is not a record in %q", s.Key, full)
		}
		m = cm
	}

	last := segs[len(segs)-1]
	if last.IsIdx {
		return nil // handled inside the loop above
	}
	m[last.Key] = v
	return nil
}

// Delete removes the value at path.  Missing paths are a no-op.  Deleting a
// list element removes it, shifting later entries down.
func Delete(tree map[string]any, path string) {
	segs, err := Parse(path)
	if err != nil || segs[0].IsIdx {
		return
	}

	last := segs[len(segs)-1]
	if last.IsIdx {
		// "….licenses.2" — the owner is the map holding the list key.
		if len(segs) < 2 || segs[len(segs)-2].IsIdx {
			return
		}
		owner, ok := walk(tree, segs[:len(segs)-2])
		if !ok {
			return
		}
		key := segs[len(segs)-2].Key
		list, ok := owner[key].([]any)
		if !ok || last.Index >= len(list) {
			return
		}
		owner[key] = append(list[:last.Index], list[last.Index+1:]...)
		return
	}

	if owner, ok := walk(tree, segs[:len(segs)-1]); ok {
		delete(owner, last.Key)
	}
}

// walk resolves segs and returns the addressed map.
func walk(tree map[string]any, segs []Segment) (map[string]any, bool) {
	var cur any = tree
	for _, s := range segs {
		if s.IsIdx {
			list, ok := cur.([]any)
			if !ok || s.Index >= len(list) {
				return nil, false
			}
			cur = list[s.Index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[s.Key]
		if !ok {
			return nil, false
		}
	}
	m, ok := cur.(map[string]any)
	return m, ok
}
