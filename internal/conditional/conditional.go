// internal/conditional/conditional.go
//
// Intake – conditional field graph.
//
// Context
//   Some fields govern others: answering "no" to shift plans blanks the
//   planned degree and the shifting reason; matching first-choice and
//   admitted course blanks the next-plan textarea; ticking a deceased-parent
//   toggle fills the parent record with sentinel text and unticking restores
//   blanks.  A reset must land in the SAME transition that commits the
//   trigger value, so no validator can ever observe the stale combination.
//
// Workflow
//   •  Definitions carry ConditionalDefs (trigger, when, resets, filler) and
//      per-field visibility expressions.
//   •  Simple predicates are expressions: "path=literal", "path!=literal".
//      Anything richer is registered in code by name and referenced as
//      "@name", mirroring how named step checks work in the rule engine.
//   •  Apply clones the draft, commits the new value, applies every matching
//      rule, and returns the clone, leaving the input draft untouched.
//
//------------------------------------------------------------------------------

package conditional

import (
	"strings"
	"sync"

	"github.com/upmin-guidance/intake/internal/draft"
	"github.com/upmin-guidance/intake/internal/fieldpath"
	"github.com/upmin-guidance/intake/internal/formdef"
)

// -----------------------------------------------------------------------------
// Registries for named predicates and fillers
// -----------------------------------------------------------------------------

var (
	regMu      sync.RWMutex
	predicates = make(map[string]func(*draft.Draft) bool)
	fillers    = make(map[string]func(*draft.Draft, bool))
)

// RegisterPredicate makes a named visibility/trigger predicate available to
// definitions as "@name".
func RegisterPredicate(name string, fn func(*draft.Draft) bool) {
	regMu.Lock()
	defer regMu.Unlock()
	predicates[name] = fn
}

// RegisterFiller makes a named fill routine available to conditionals.  The
// boolean reports whether the rule's predicate matched the committed value.
func RegisterFiller(name string, fn func(*draft.Draft, bool)) {
	regMu.Lock()
	defer regMu.Unlock()
	fillers[name] = fn
}

func predicate(name string) (func(*draft.Draft) bool, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	fn, ok := predicates[name]
	return fn, ok
}

func filler(name string) (func(*draft.Draft, bool), bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	fn, ok := fillers[name]
	return fn, ok
}

// -----------------------------------------------------------------------------
// Visibility
// -----------------------------------------------------------------------------

// Visible evaluates a field's "when" expression against the draft.  Fields
// without an expression are always visible.  Hidden fields are neither
// rendered nor validated.
func Visible(f *formdef.FieldDef, d *draft.Draft) bool {
	return evalWhen(f.When, d)
}

func evalWhen(expr string, d *draft.Draft) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}
	if name, ok := strings.CutPrefix(expr, "@"); ok {
		fn, found := predicate(name)
		return found && fn(d)
	}
	if p, v, found := strings.Cut(expr, "!="); found {
		return d.StringValue(strings.TrimSpace(p)) != strings.TrimSpace(v)
	}
	if p, v, found := strings.Cut(expr, "="); found {
		return d.StringValue(strings.TrimSpace(p)) == strings.TrimSpace(v)
	}
	return false
}

// -----------------------------------------------------------------------------
// Rule application
// -----------------------------------------------------------------------------

// Apply commits value at path on a clone of d, then applies every
// conditional rule triggered by that path.  The input draft is never
// mutated; the returned draft carries the trigger value and all dependent
// resets as one transition.
func Apply(def *formdef.Def, d *draft.Draft, path string, value any) (*draft.Draft, error) {
	next := d.Clone()
	if err := next.SetValue(path, value); err != nil {
		return nil, err
	}

	canon := fieldpath.Canonical(path)
	for _, rule := range def.Conditionals {
		if fieldpath.Canonical(rule.Trigger) != canon {
			continue
		}
		matched := ruleMatches(rule, next, value)
		if matched {
			for _, rp := range rule.Resets {
				resetToSentinel(def, next, rp)
			}
		}
		if rule.Filler != "" {
			if fn, ok := filler(rule.Filler); ok {
				fn(next, matched)
			}
		}
	}
	return next, nil
}

func ruleMatches(rule formdef.ConditionalDef, d *draft.Draft, value any) bool {
	if name, ok := strings.CutPrefix(rule.When, "@"); ok {
		fn, found := predicate(name)
		return found && fn(d)
	}
	return draft.Stringify(value) == rule.When
}

// resetToSentinel blanks a dependent field: lists become empty lists,
// scalars the sentinel of their declared kind (false for booleans, ""
// otherwise).
func resetToSentinel(def *formdef.Def, d *draft.Draft, path string) {
	if v, ok := d.Value(path); ok {
		if _, isList := v.([]any); isList {
			_ = d.SetValue(path, []any{})
			return
		}
	}
	if f, ok := def.FieldAt(path); ok {
		_ = d.SetValue(path, formdef.Sentinel(f.Kind))
		return
	}
	_ = d.SetValue(path, "")
}
