// internal/rules/rules.go
//
// Intake – step validation engine.
//
// Context
//   Steps are gated by validation: Advance runs the current step's rules and
//   blocks while the resulting error map is non-empty; final submission runs
//   every step's rules at once.  Rules are declared on the definition
//   (required, pattern, numeric bounds, date anchors, clock intervals) and
//   evaluated here against the draft's UI-shaped strings.  Cross-field rules
//   that no per-field shape can express ("at least one license", support
//   combination notes) are registered in code by name and referenced from
//   the definition's step checks.
//
// Workflow
//   Per field: required first — a failure short-circuits the remaining
//   checks for that field — then pattern, then kind/range checks.  Fields
//   hidden by their visibility predicate are skipped entirely, as are
//   wildcard fields of empty groups.  The engine only ever returns an error
//   map; it has no error path of its own and never panics on user input.
//
//------------------------------------------------------------------------------

package rules

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/upmin-guidance/intake/internal/conditional"
	"github.com/upmin-guidance/intake/internal/draft"
	"github.com/upmin-guidance/intake/internal/errmap"
	"github.com/upmin-guidance/intake/internal/formdef"
)

// Default messages, matching the wording users of the intake forms see.
const (
	msgRequired   = "This field is required."
	msgInvalid    = "Invalid format."
	msgBadNumber  = "Please enter a valid number."
	msgBadDate    = "Invalid date format."
	msgBadTime    = "Please enter a valid time."
	msgGroupShort = "At least one entry is required."
)

// timeNow is swapped by tests that pin "today".
var timeNow = time.Now

// CheckFunc is a named cross-field rule.  It returns path-keyed messages;
// synthetic logical names (for errors with no single field) are allowed.
type CheckFunc func(*draft.Draft) map[string]string

var (
	checksMu sync.RWMutex
	checks   = make(map[string]CheckFunc)
)

// RegisterCheck makes a cross-field rule available to definitions by name.
func RegisterCheck(name string, fn CheckFunc) {
	checksMu.Lock()
	defer checksMu.Unlock()
	checks[name] = fn
}

func check(name string) (CheckFunc, bool) {
	checksMu.RLock()
	defer checksMu.RUnlock()
	fn, ok := checks[name]
	return fn, ok
}

// ValidateStep evaluates one step (1-based index) and returns a fresh error
// map.  An empty map means the step gate is open.
func ValidateStep(def *formdef.Def, step int, d *draft.Draft) errmap.Map {
	em := errmap.New()
	if step < 1 || step > len(def.Steps) {
		return em
	}
	validateInto(em, def, &def.Steps[step-1], d)
	return em
}

// ValidateAll evaluates every step, for the pre-submission full pass.
func ValidateAll(def *formdef.Def, d *draft.Draft) errmap.Map {
	em := errmap.New()
	for si := range def.Steps {
		validateInto(em, def, &def.Steps[si], d)
	}
	return em
}

func validateInto(em errmap.Map, def *formdef.Def, s *formdef.StepDef, d *draft.Draft) {
	for fi := range s.Fields {
		f := &s.Fields[fi]
		if !conditional.Visible(f, d) {
			continue
		}
		for _, path := range formdef.ExpandWildcard(d.Sections, f.Path) {
			if msg := validateField(f, d, path); msg != "" {
				em.Set(path, msg)
			}
		}
	}

	for _, g := range s.Groups {
		if g.Min > 0 && formdef.GroupEntries(d.Sections, g.Path) < g.Min {
			msg := g.Message
			if msg == "" {
				msg = msgGroupShort
			}
			em.Set(g.Path, msg)
		}
	}

	for _, name := range s.Checks {
		fn, ok := check(name)
		if !ok {
			continue
		}
		for path, msg := range fn(d) {
			em.Set(path, msg)
		}
	}
}

// validateField runs the ordered checks for one concrete path.  The empty
// string means the field passed.
func validateField(f *formdef.FieldDef, d *draft.Draft, path string) string {
	value := strings.TrimSpace(d.StringValue(path))

	if f.Required && value == "" {
		if f.Message != "" {
			return f.Message
		}
		return msgRequired
	}
	if value == "" {
		return "" // optional and blank: nothing more to check
	}

	if re := f.Regexp(); re != nil && !re.MatchString(value) {
		if f.PatternMessage != "" {
			return f.PatternMessage
		}
		return msgInvalid
	}

	switch f.Kind {
	case "number", "decimal", "year":
		return validateNumber(f, value)
	case "date":
		return validateDate(f, value)
	case "time":
		return validateTime(f, value)
	case "select":
		if len(f.Options) > 0 && !optionAllowed(f.Options, value) {
			return msgInvalid
		}
	}
	return ""
}

func validateNumber(f *formdef.FieldDef, value string) string {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return msgBadNumber
	}
	if (f.Min != nil && n < *f.Min) || (f.Max != nil && n > *f.Max) {
		if f.RangeMessage != "" {
			return f.RangeMessage
		}
		return rangeMsg(f)
	}
	return ""
}

func rangeMsg(f *formdef.FieldDef) string {
	switch {
	case f.Min != nil && f.Max != nil:
		return fmt.Sprintf("Must be between %v and %v.", *f.Min, *f.Max)
	case f.Min != nil:
		return fmt.Sprintf("Must be at least %v.", *f.Min)
	default:
		return fmt.Sprintf("Must be at most %v.", *f.Max)
	}
}

func validateDate(f *formdef.FieldDef, value string) string {
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return msgBadDate
	}
	now := timeNow()
	if f.Before != "" && !t.Before(formdef.DateAnchor(f.Before, now)) {
		if f.BeforeMessage != "" {
			return f.BeforeMessage
		}
		return "Date must be in the past."
	}
	if f.After != "" && !t.After(formdef.DateAnchor(f.After, now)) {
		if f.AfterMessage != "" {
			return f.AfterMessage
		}
		return "Date must be in the future."
	}
	return ""
}

// validateTime enforces a closed [min, max] interval over minutes.
func validateTime(f *formdef.FieldDef, value string) string {
	mins, err := formdef.ParseClock(value)
	if err != nil {
		return msgBadTime
	}
	var lo, hi = -1, -1
	if f.MinTime != "" {
		lo, _ = formdef.ParseClock(f.MinTime) // validated at load
	}
	if f.MaxTime != "" {
		hi, _ = formdef.ParseClock(f.MaxTime)
	}
	if (lo >= 0 && mins < lo) || (hi >= 0 && mins > hi) {
		if f.TimeMessage != "" {
			return f.TimeMessage
		}
		return fmt.Sprintf("Time must be between %s and %s.", f.MinTime, f.MaxTime)
	}
	return ""
}

func optionAllowed(opts []string, v string) bool {
	for _, o := range opts {
		if o == v {
			return true
		}
	}
	return false
}
