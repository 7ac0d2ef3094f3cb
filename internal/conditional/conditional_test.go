// internal/conditional/conditional_test.go
//
// Unit-tests for conditional resets, fillers, and visibility.

package conditional

import (
	"testing"

	"github.com/upmin-guidance/intake/internal/draft"
	"github.com/upmin-guidance/intake/internal/formdef"
)

const defYAML = `
id: prefs-test
steps:
  - id: preferences
    sections: [preferences]
    fields:
      - {path: preferences.shift_plans, kind: bool}
      - {path: preferences.planned_shift_degree, kind: text, when: "preferences.shift_plans=true"}
      - {path: preferences.reason_for_shifting, kind: textarea, when: "preferences.shift_plans=true"}
      - {path: preferences.wants_advising, kind: bool, when: "preferences.shift_plans=true"}
  - id: family
    sections: [family_data]
    fields:
      - {path: family_data.father.is_deceased, kind: bool}
      - {path: family_data.father.occupation, kind: text}
conditionals:
  - trigger: preferences.shift_plans
    when: "false"
    resets: [preferences.planned_shift_degree, preferences.reason_for_shifting, preferences.wants_advising]
  - trigger: family_data.father.is_deceased
    when: "true"
    filler: deceased_father
`

func loadDef(t *testing.T) *formdef.Def {
	t.Helper()
	d, err := formdef.LoadDef([]byte(defYAML))
	if err != nil {
		t.Fatalf("LoadDef: %v", err)
	}
	return d
}

// Committing shift_plans=false must blank both dependents in the same
// returned draft, with the input draft untouched.
func TestResetAtomicity(t *testing.T) {
	def := loadDef(t)
	d := draft.New("2023-12345", def.Seed())
	_ = d.SetValue("preferences.shift_plans", true)
	_ = d.SetValue("preferences.planned_shift_degree", "X")
	_ = d.SetValue("preferences.reason_for_shifting", "Y")

	next, err := Apply(def, d, "preferences.shift_plans", false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if v, _ := next.Value("preferences.shift_plans"); v != false {
		t.Errorf("trigger not committed: %v", v)
	}
	if v, _ := next.Value("preferences.planned_shift_degree"); v != "" {
		t.Errorf("planned_shift_degree = %v, want blank", v)
	}
	if v, _ := next.Value("preferences.reason_for_shifting"); v != "" {
		t.Errorf("reason_for_shifting = %v, want blank", v)
	}

	// The stale combination must never be observable on the input draft.
	if v, _ := d.Value("preferences.planned_shift_degree"); v != "X" {
		t.Errorf("input draft mutated: %v", v)
	}
}

// A bool dependent resets to its kind sentinel, false, never to "".
func TestBoolResetSentinel(t *testing.T) {
	def := loadDef(t)
	d := draft.New("2023-12345", def.Seed())
	_ = d.SetValue("preferences.shift_plans", true)
	_ = d.SetValue("preferences.wants_advising", true)

	next, err := Apply(def, d, "preferences.shift_plans", false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if v, _ := next.Value("preferences.wants_advising"); v != false {
		t.Errorf("wants_advising = %v (%T), want false", v, v)
	}
}

func TestNonMatchingValueDoesNotReset(t *testing.T) {
	def := loadDef(t)
	d := draft.New("2023-12345", def.Seed())
	_ = d.SetValue("preferences.planned_shift_degree", "BS Biology")

	next, err := Apply(def, d, "preferences.shift_plans", true)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if v, _ := next.Value("preferences.planned_shift_degree"); v != "BS Biology" {
		t.Errorf("dependent reset on non-matching trigger value: %v", v)
	}
}

func TestFillerTogglesBothWays(t *testing.T) {
	RegisterFiller("deceased_father", func(d *draft.Draft, matched bool) {
		if matched {
			_ = d.SetValue("family_data.father.occupation", "Deceased")
			return
		}
		_ = d.SetValue("family_data.father.occupation", "")
	})

	def := loadDef(t)
	d := draft.New("2023-12345", def.Seed())

	on, err := Apply(def, d, "family_data.father.is_deceased", true)
	if err != nil {
		t.Fatalf("Apply on: %v", err)
	}
	if v, _ := on.Value("family_data.father.occupation"); v != "Deceased" {
		t.Errorf("filler did not fill: %v", v)
	}

	off, err := Apply(def, on, "family_data.father.is_deceased", false)
	if err != nil {
		t.Fatalf("Apply off: %v", err)
	}
	if v, _ := off.Value("family_data.father.occupation"); v != "" {
		t.Errorf("filler did not restore blanks: %v", v)
	}
}

func TestVisible(t *testing.T) {
	def := loadDef(t)
	d := draft.New("2023-12345", def.Seed())

	degree, _ := def.FieldAt("preferences.planned_shift_degree")
	if Visible(degree, d) {
		t.Error("dependent visible before trigger set")
	}

	_ = d.SetValue("preferences.shift_plans", true)
	if !Visible(degree, d) {
		t.Error("dependent hidden after trigger set true")
	}
}

func TestNamedPredicate(t *testing.T) {
	RegisterPredicate("always_on", func(*draft.Draft) bool { return true })

	f := &formdef.FieldDef{When: "@always_on"}
	if !Visible(f, draft.New("x", map[string]any{})) {
		t.Error("named predicate not consulted")
	}
	f.When = "@unregistered"
	if Visible(f, draft.New("x", map[string]any{})) {
		t.Error("unregistered predicate treated as visible")
	}
}
