// internal/formdef/definition.go
//
// Intake – wizard definition loader.
//
// Context
//   Each intake wizard (BIS, SCIF, PARD, referral slip, profile setup) is
//   declared in a YAML document: its identifier, ordered steps, per-field
//   validation metadata, conditional reset rules, consent gate, and
//   normalization spec.  Definitions are parsed once at start-up, validated
//   structurally, and stored in an in-memory registry.  The rule engine, the
//   conditional graph, the normalizer, and the state machine all fetch the
//   same Def by ID, guaranteeing a single source of truth.
//
// Workflow
//   •  Structs mirror the YAML schema: Def → StepDef → FieldDef / GroupDef,
//      plus ConditionalDef, ConsentDef, NormalizeDef, AttachmentDef.
//   •  LoadDef parses one document and validates structural rules: unique
//      field paths, known kinds, compilable regexes, parsable clock times
//      and date anchors, resolvable conditional paths.
//   •  Register adds a Def to the registry; Get offers read-only access.
//
// Notes
//   Field paths are full paths (section included).  A "[]" segment marks a
//   repeatable-group wildcard: "licenses[].name" applies to every entry of
//   the licenses list.
//
//------------------------------------------------------------------------------

package formdef

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/upmin-guidance/intake/internal/fieldpath"
)

// -----------------------------------------------------------------------------
// Data structures
// -----------------------------------------------------------------------------

// Def is one wizard definition.
type Def struct {
	ID         string `yaml:"id"`
	Title      string `yaml:"title"`
	OwnerLabel string `yaml:"owner_label"` // e.g. "student_number"
	Drafts     bool   `yaml:"drafts"`      // whether Save Draft is offered

	Steps        []StepDef        `yaml:"steps"`
	Conditionals []ConditionalDef `yaml:"conditionals"`
	Consent      *ConsentDef      `yaml:"consent"`
	Normalize    NormalizeDef     `yaml:"normalize"`
	Attachment   *AttachmentDef   `yaml:"attachment"`
}

// StepDef is one page of the wizard.  A step with no fields, groups, or
// checks (a read-only intro) always validates clean.
type StepDef struct {
	ID       string     `yaml:"id"`
	Title    string     `yaml:"title"`
	Sections []string   `yaml:"sections"` // section names this step edits
	Fields   []FieldDef `yaml:"fields"`
	Groups   []GroupDef `yaml:"groups"`
	Checks   []string   `yaml:"checks"` // named cross-field checks
}

// FieldDef carries the validation metadata of one editable value.
type FieldDef struct {
	Path     string `yaml:"path"`
	Label    string `yaml:"label"`
	Kind     string `yaml:"kind"` // text, textarea, name, phone, email, number, decimal, bool, date, time, select, year
	Required bool   `yaml:"required"`
	Message  string `yaml:"message"` // required-failure message override

	Pattern        string `yaml:"pattern"`
	PatternMessage string `yaml:"pattern_message"`

	MinTime     string `yaml:"min_time"` // closed HH:MM interval
	MaxTime     string `yaml:"max_time"`
	TimeMessage string `yaml:"time_message"`

	Before        string `yaml:"before"` // date must be before this anchor ("now" or YYYY-MM-DD)
	After         string `yaml:"after"`  // date must be after this anchor
	BeforeMessage string `yaml:"before_message"`
	AfterMessage  string `yaml:"after_message"`

	Min          *float64 `yaml:"min"` // numeric lower bound, inclusive
	Max          *float64 `yaml:"max"`
	RangeMessage string   `yaml:"range_message"`

	Options []string `yaml:"options"` // select kinds
	When    string   `yaml:"when"`    // visibility predicate expression or @name

	re *regexp.Regexp
}

// Regexp returns the pattern compiled at load time, or nil.
func (f *FieldDef) Regexp() *regexp.Regexp { return f.re }

// GroupDef constrains a repeatable list as a whole.
type GroupDef struct {
	Path    string `yaml:"path"`
	Min     int    `yaml:"min"`
	Message string `yaml:"message"`
}

// ConditionalDef states that committing a trigger value resets dependents.
// When is matched against the new value ("false", "true", a literal, or
// "@name" for a predicate registered in code).  Filler names a registered
// fill routine for rules that write sentinel text instead of blanks (the
// deceased-parent toggle).
type ConditionalDef struct {
	Trigger string   `yaml:"trigger"`
	When    string   `yaml:"when"`
	Resets  []string `yaml:"resets"`
	Filler  string   `yaml:"filler"`
}

// ConsentDef is the terminal consent gate checked at submit.
type ConsentDef struct {
	Path    string `yaml:"path"`
	Message string `yaml:"message"`
}

// NormalizeDef lists paths transformed before save/submit.  Wildcard group
// segments are allowed ("siblings[].age").
type NormalizeDef struct {
	Numbers      []string `yaml:"numbers"`
	CommaLists   []string `yaml:"comma_lists"`
	NewlineLists []string `yaml:"newline_lists"`
}

// AttachmentDef declares the transient file rider (profile photo).
type AttachmentDef struct {
	Field    string `yaml:"field"`
	Required bool   `yaml:"required"`
	Message  string `yaml:"message"`
}

// -----------------------------------------------------------------------------
// Registry
// -----------------------------------------------------------------------------

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Def)
)

// Get returns a registered Def by ID.  The boolean is false when unknown.
func Get(id string) (*Def, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := registry[id]
	return d, ok
}

// IDs lists registered definition IDs, unsorted.
func IDs() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for id := range registry {
		out = append(out, id)
	}
	return out
}

// Register inserts or replaces a definition.  The caller must ensure it
// passed LoadDef validation.
func Register(d *Def) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[d.ID] = d
}

// -----------------------------------------------------------------------------
// Loader
// -----------------------------------------------------------------------------

var validKinds = map[string]bool{
	"text": true, "textarea": true, "name": true, "phone": true,
	"email": true, "number": true, "decimal": true, "bool": true,
	"date": true, "time": true, "select": true, "year": true,
}

// LoadDef parses one YAML document, validates it, and compiles patterns.
// It never touches the registry.
func LoadDef(raw []byte) (*Def, error) {
	var d Def
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	if err := validateDef(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func validateDef(d *Def) error {
	if d.ID == "" {
		return fmt.Errorf("definition missing 'id'")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("definition %s: no steps", d.ID)
	}

	seen := make(map[string]struct{})
	for si := range d.Steps {
		s := &d.Steps[si]
		if s.ID == "" {
			s.ID = fmt.Sprintf("step%d", si+1)
		}
		for fi := range s.Fields {
			f := &s.Fields[fi]
			if err := validateField(d.ID, f); err != nil {
				return err
			}
			if _, dup := seen[f.Path]; dup {
				return fmt.Errorf("definition %s: duplicate field path %q", d.ID, f.Path)
			}
			seen[f.Path] = struct{}{}
		}
		for _, g := range s.Groups {
			if err := checkPath(d.ID, g.Path); err != nil {
				return err
			}
		}
	}

	for _, c := range d.Conditionals {
		if err := checkPath(d.ID, c.Trigger); err != nil {
			return err
		}
		for _, r := range c.Resets {
			if err := checkPath(d.ID, r); err != nil {
				return err
			}
		}
		if len(c.Resets) == 0 && c.Filler == "" {
			return fmt.Errorf("definition %s: conditional on %q resets nothing", d.ID, c.Trigger)
		}
	}

	if d.Consent != nil {
		if err := checkPath(d.ID, d.Consent.Path); err != nil {
			return err
		}
	}

	for _, list := range [][]string{d.Normalize.Numbers, d.Normalize.CommaLists, d.Normalize.NewlineLists} {
		for _, p := range list {
			if err := checkPath(d.ID, p); err != nil {
				return err
			}
		}
	}

	return nil
}

func validateField(defID string, f *FieldDef) error {
	if f.Path == "" {
		return fmt.Errorf("definition %s: field missing 'path'", defID)
	}
	if err := checkPath(defID, f.Path); err != nil {
		return err
	}
	if f.Kind == "" {
		return fmt.Errorf("definition %s: field %q missing 'kind'", defID, f.Path)
	}
	if !validKinds[f.Kind] {
		return fmt.Errorf("definition %s: field %q has unknown kind %q", defID, f.Path, f.Kind)
	}

	if f.Pattern != "" {
		re, err := regexp.Compile(f.Pattern)
		if err != nil {
			return fmt.Errorf("definition %s: field %q bad pattern: %v", defID, f.Path, err)
		}
		f.re = re
	}

	for _, clock := range []string{f.MinTime, f.MaxTime} {
		if clock == "" {
			continue
		}
		if _, err := ParseClock(clock); err != nil {
			return fmt.Errorf("definition %s: field %q: %v", defID, f.Path, err)
		}
	}

	for _, anchor := range []string{f.Before, f.After} {
		if anchor == "" || anchor == "now" {
			continue
		}
		if _, err := time.Parse("2006-01-02", anchor); err != nil {
			return fmt.Errorf("definition %s: field %q bad date anchor %q", defID, f.Path, anchor)
		}
	}

	return nil
}

// checkPath validates a definition path, tolerating "[]" group wildcards.
func checkPath(defID, p string) error {
	probe := strings.ReplaceAll(p, "[]", ".0")
	if _, err := fieldpath.Parse(probe); err != nil {
		return fmt.Errorf("definition %s: bad path %q: %v", defID, p, err)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Helpers shared with the rule engine
// -----------------------------------------------------------------------------

// ParseClock converts "H:MM" or "HH:MM" to minutes since midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		t, err = time.Parse("3:04", s)
	}
	if err != nil {
		return 0, fmt.Errorf("bad clock time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// DateAnchor resolves a before/after anchor; "now" is evaluated per call.
func DateAnchor(anchor string, now time.Time) time.Time {
	if anchor == "now" {
		return now
	}
	t, _ := time.Parse("2006-01-02", anchor) // validated at load
	return t
}

// Sentinel returns the empty value a field of the given kind starts from
// and is reset to: false for booleans, "" for every other scalar.
func Sentinel(kind string) any {
	if kind == "bool" {
		return false
	}
	return ""
}

// Seed builds the empty section tree a new Draft starts from: the kind
// sentinel for every scalar field, an empty list for every group path.
func (d *Def) Seed() map[string]any {
	tree := map[string]any{}
	for _, s := range d.Steps {
		for _, name := range s.Sections {
			if _, ok := tree[name]; !ok {
				tree[name] = map[string]any{}
			}
		}
		for _, g := range s.Groups {
			_ = fieldpath.Set(tree, g.Path, []any{})
		}
		for _, f := range s.Fields {
			if strings.Contains(f.Path, "[]") {
				group := f.Path[:strings.Index(f.Path, "[]")]
				if _, ok := fieldpath.Get(tree, group); !ok {
					_ = fieldpath.Set(tree, group, []any{})
				}
				continue
			}
			_ = fieldpath.Set(tree, f.Path, Sentinel(f.Kind))
		}
	}
	return tree
}

// GroupEntries returns the number of entries currently under a group path.
func GroupEntries(sections map[string]any, group string) int {
	v, ok := fieldpath.Get(sections, group)
	if !ok {
		return 0
	}
	list, ok := v.([]any)
	if !ok {
		return 0
	}
	return len(list)
}

// ExpandWildcard resolves a "group[].field" path against the current tree,
// returning one concrete path per entry.  Paths without a wildcard are
// returned as-is.
func ExpandWildcard(sections map[string]any, path string) []string {
	i := strings.Index(path, "[]")
	if i < 0 {
		return []string{path}
	}
	group := path[:i]
	rest := path[i+2:]
	n := GroupEntries(sections, group)
	out := make([]string, 0, n)
	for idx := 0; idx < n; idx++ {
		out = append(out, fmt.Sprintf("%s.%d%s", group, idx, rest))
	}
	return out
}

// FieldAt finds the FieldDef whose path matches a concrete path, treating
// "[]" as matching any index.  Used to map server error keys and change
// events back to their metadata.
func (d *Def) FieldAt(path string) (*FieldDef, bool) {
	canon := fieldpath.Canonical(path)
	for si := range d.Steps {
		for fi := range d.Steps[si].Fields {
			f := &d.Steps[si].Fields[fi]
			if wildcardMatch(f.Path, canon) {
				return f, true
			}
		}
	}
	return nil, false
}

func wildcardMatch(defPath, concrete string) bool {
	if !strings.Contains(defPath, "[]") {
		return defPath == concrete
	}
	dp := strings.Split(strings.ReplaceAll(defPath, "[]", ".*"), ".")
	cp := strings.Split(concrete, ".")
	if len(dp) != len(cp) {
		return false
	}
	for i := range dp {
		if dp[i] == "*" {
			continue
		}
		if dp[i] != cp[i] {
			return false
		}
	}
	return true
}
