// internal/draft/draft.go
//
// Intake – the in-progress form submission.
//
// Context
//   One Draft is exclusively owned by one active wizard session.  Its
//   Sections field is a tree of section name → record / list-of-records,
//   addressed everywhere by field paths.  The editable tree keeps UI-shaped
//   values (numbers as strings, lists as delimited text); the normalization
//   pipeline produces the wire shape on a copy at save/submit time.
//
// Lifecycle
//   Seeded empty → hydrated from a fetched bundle (or a freshly created
//   server-side draft) → mutated step by step → saved as a draft any number
//   of times → finalized once, after which Status is "submitted" and the
//   whole tree is a read-only projection.
//
// Notes
//   Empty sentinels are per type: "" for scalar strings, false for booleans,
//   []any{} for repeatable groups, nil for numbers never entered.
//
//------------------------------------------------------------------------------

package draft

import (
	"strconv"

	"github.com/upmin-guidance/intake/internal/fieldpath"
)

// Status is the submission lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
)

// Submission identifies a persisted draft on the server.
type Submission struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// Bundle is the fetch-or-create payload: named sections plus the owning
// submission.  Exists is false when the server has nothing for the owner.
type Bundle struct {
	Exists     bool           `json:"exists"`
	Submission *Submission    `json:"submission"`
	Sections   map[string]any `json:"sections"`
}

// Draft is the root entity of one in-progress submission.
type Draft struct {
	SubmissionID string
	OwnerKey     string
	Status       Status
	Sections     map[string]any
}

// New returns a Draft seeded with a deep copy of the given section tree,
// so definition templates are never shared between sessions.
func New(ownerKey string, seed map[string]any) *Draft {
	return &Draft{
		OwnerKey: ownerKey,
		Status:   StatusDraft,
		Sections: CloneTree(seed),
	}
}

// Clone returns a deep copy.  The wizard clones before conditional resets so
// a trigger value and its dependent resets commit in one visible transition.
func (d *Draft) Clone() *Draft {
	cp := *d
	cp.Sections = CloneTree(d.Sections)
	return &cp
}

// Submitted reports whether the draft has been finalized.
func (d *Draft) Submitted() bool { return d.Status == StatusSubmitted }

// Value resolves a field path against the section tree.
func (d *Draft) Value(path string) (any, bool) {
	return fieldpath.Get(d.Sections, path)
}

// SetValue writes a value at path, growing the tree as needed.
func (d *Draft) SetValue(path string, v any) error {
	return fieldpath.Set(d.Sections, path, v)
}

// StringValue renders the value at path for rule evaluation: strings pass
// through, booleans become "true"/"false", numbers are formatted, and
// missing values or nil become "".
func (d *Draft) StringValue(path string) string {
	v, ok := d.Value(path)
	if !ok {
		return ""
	}
	return Stringify(v)
}

// Hydrate overlays sections from a fetched bundle onto the seeded tree and
// adopts the server-side submission identity.  Sections the bundle does not
// carry keep their seeded empty shape.
func (d *Draft) Hydrate(b *Bundle) {
	if b == nil {
		return
	}
	if b.Submission != nil {
		d.SubmissionID = b.Submission.ID
		if b.Submission.Status != "" {
			d.Status = b.Submission.Status
		}
	}
	for name, tree := range b.Sections {
		if tree == nil {
			continue
		}
		d.Sections[name] = CloneTree(map[string]any{"v": tree})["v"]
	}
}

// Stringify converts a scalar tree value to its UI string form.
func Stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return ""
	}
}

// CloneTree deep-copies a section tree of maps, slices, and scalars.
func CloneTree(tree map[string]any) map[string]any {
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneTree(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return t
	}
}
