// internal/normalize/normalize.go
//
// Intake – pre-submission normalization pipeline.
//
// Context
//   The editable draft keeps UI-shaped values: ages and GPAs as strings,
//   multi-value fields as comma- or newline-delimited text.  The API wants
//   wire shapes: numbers as numbers, lists as ordered string arrays.  The
//   definition's normalize block names which paths get which transform, and
//   Apply produces the wire tree on a deep copy so the editable draft keeps
//   its string representation for further editing.  The same transform runs
//   before draft saves and before final submission.
//
// Guarantees
//   •  Pure: the input draft is never mutated.
//   •  Idempotent: numbers stay numbers, lists stay lists, so applying the
//      transform to its own output is a no-op.
//   •  Empty stays empty: "" and nil number fields pass through untouched.
//
//------------------------------------------------------------------------------

package normalize

import (
	"strconv"
	"strings"

	"github.com/upmin-guidance/intake/internal/draft"
	"github.com/upmin-guidance/intake/internal/fieldpath"
	"github.com/upmin-guidance/intake/internal/formdef"
)

// Apply returns the wire-shaped section tree for d under def's normalize
// spec.  The returned tree shares no structure with the draft.
func Apply(def *formdef.Def, d *draft.Draft) map[string]any {
	out := draft.CloneTree(d.Sections)

	for _, p := range def.Normalize.Numbers {
		for _, path := range formdef.ExpandWildcard(out, p) {
			coerceNumber(out, path)
		}
	}
	for _, p := range def.Normalize.CommaLists {
		for _, path := range formdef.ExpandWildcard(out, p) {
			splitList(out, path, ",")
		}
	}
	for _, p := range def.Normalize.NewlineLists {
		for _, path := range formdef.ExpandWildcard(out, p) {
			splitList(out, path, "\n")
		}
	}
	return out
}

// coerceNumber turns a numeric string into a float64 in place.  Blank and
// nil values stay as they are; already-numeric values (a re-applied
// transform, or server-hydrated data) pass through.
func coerceNumber(tree map[string]any, path string) {
	v, ok := fieldpath.Get(tree, path)
	if !ok || v == nil {
		return
	}
	s, isStr := v.(string)
	if !isStr {
		return // already wire-shaped
	}
	if strings.TrimSpace(s) == "" {
		return
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return // leave the bad string for server-side validation to report
	}
	_ = fieldpath.Set(tree, path, n)
}

// splitList turns delimited text into an ordered list of trimmed, non-empty
// strings.  Existing lists pass through.
func splitList(tree map[string]any, path, sep string) {
	v, ok := fieldpath.Get(tree, path)
	if !ok || v == nil {
		return
	}
	s, isStr := v.(string)
	if !isStr {
		return
	}
	parts := strings.Split(s, sep)
	items := make([]any, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			items = append(items, t)
		}
	}
	_ = fieldpath.Set(tree, path, items)
}
