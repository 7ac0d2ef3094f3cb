// internal/forms/forms.go
//
// Intake – the five wizard definitions.
//
// Context
//   The YAML documents under defs/ declare every intake wizard: the Basic
//   Information Sheet, the Student Cumulative Information File, the PARD
//   appointment intake, the Counseling Referral Slip, and the counselor
//   profile setup.  This package embeds them, registers them with the
//   definition registry, and supplies the named predicates and fillers the
//   documents reference — the pieces of form logic no declarative shape can
//   express.
//
// Workflow
//   Call RegisterAll once at bootstrap, before any Machine is built.
//
//------------------------------------------------------------------------------

package forms

import (
	"embed"
	"fmt"
	"strings"

	"github.com/upmin-guidance/intake/internal/conditional"
	"github.com/upmin-guidance/intake/internal/draft"
	"github.com/upmin-guidance/intake/internal/formdef"
)

//go:embed defs/*.yaml
var defFS embed.FS

// Definition IDs, matching the form slugs in the service URLs.
const (
	BISID          = "basic-information-sheet"
	SCIFID         = "student-cumulative-information-file"
	PARDID         = "psychosocial-assistance-and-referral-desk"
	ReferralSlipID = "counseling-referral-slip"
	ProfileSetupID = "counselor-profile"
)

// RegisterAll loads every embedded definition into the registry and hooks up
// the named predicates and fillers they reference.  Definitions are
// validated at load; a structural error aborts the whole registration.
func RegisterAll() error {
	registerPredicates()
	registerFillers()

	entries, err := defFS.ReadDir("defs")
	if err != nil {
		return fmt.Errorf("forms: read embedded defs: %w", err)
	}
	for _, e := range entries {
		raw, err := defFS.ReadFile("defs/" + e.Name())
		if err != nil {
			return fmt.Errorf("forms: read %s: %w", e.Name(), err)
		}
		def, err := formdef.LoadDef(raw)
		if err != nil {
			return fmt.Errorf("forms: %s: %w", e.Name(), err)
		}
		formdef.Register(def)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Named predicates
// -----------------------------------------------------------------------------

func registerPredicates() {
	// The next-plan textarea exists only when the student was admitted to a
	// course other than their first choice.
	conditional.RegisterPredicate("bis_choice_differs", func(d *draft.Draft) bool {
		fc := d.StringValue("scholastic_status.first_choice_course")
		ac := d.StringValue("scholastic_status.admitted_course")
		return fc != "" && ac != "" && fc != ac
	})
	conditional.RegisterPredicate("bis_choice_matches", func(d *draft.Draft) bool {
		return d.StringValue("scholastic_status.first_choice_course") ==
			d.StringValue("scholastic_status.admitted_course")
	})

	conditional.RegisterPredicate("bis_support_scholarship", supportIncludes("scholarship"))
	conditional.RegisterPredicate("bis_support_combination", supportIncludes("combination"))
	conditional.RegisterPredicate("bis_support_others", supportIncludes("others"))

	conditional.RegisterPredicate("scif_father_editable", parentEditable("father"))
	conditional.RegisterPredicate("scif_mother_editable", parentEditable("mother"))
}

func supportIncludes(choice string) func(*draft.Draft) bool {
	return func(d *draft.Draft) bool {
		v, ok := d.Value("student_support.support")
		if !ok {
			return false
		}
		list, ok := v.([]any)
		if !ok {
			return false
		}
		for _, e := range list {
			if s, ok := e.(string); ok && s == choice {
				return true
			}
		}
		return false
	}
}

// parentEditable reports whether a parent record takes input: neither the
// deceased nor the none toggle is set.
func parentEditable(parent string) func(*draft.Draft) bool {
	return func(d *draft.Draft) bool {
		return d.StringValue("family_data."+parent+".is_deceased") != "true" &&
			d.StringValue("family_data."+parent+".is_none") != "true"
	}
}

// -----------------------------------------------------------------------------
// Named fillers
// -----------------------------------------------------------------------------

// Detail fields blanked or restored by the parent toggles.
var parentDetailFields = []string{
	"age",
	"contact_number",
	"highest_educational_attainment",
	"job_occupation",
	"company_agency",
	"company_address",
}

func registerFillers() {
	conditional.RegisterFiller("scif_father_deceased", parentFiller("father", false))
	conditional.RegisterFiller("scif_father_none", parentFiller("father", true))
	conditional.RegisterFiller("scif_mother_deceased", parentFiller("mother", false))
	conditional.RegisterFiller("scif_mother_none", parentFiller("mother", true))
}

// parentFiller implements the deceased/none toggles.  Ticking one clears the
// competing toggle and blanks the detail fields (the none toggle blanks the
// names too, a deceased parent keeps theirs); unticking restores a fully
// blank, editable record.
func parentFiller(parent string, clearNames bool) func(*draft.Draft, bool) {
	base := "family_data." + parent + "."
	other := map[bool]string{true: "is_deceased", false: "is_none"}[clearNames]
	return func(d *draft.Draft, matched bool) {
		if matched {
			_ = d.SetValue(base+other, false)
			for _, f := range parentDetailFields {
				_ = d.SetValue(base+f, "")
			}
			if clearNames {
				_ = d.SetValue(base+"first_name", "")
				_ = d.SetValue(base+"last_name", "")
			}
			return
		}
		// Toggle removed: everything becomes blank and editable again.
		for _, f := range append([]string{"first_name", "last_name"}, parentDetailFields...) {
			_ = d.SetValue(base+f, "")
		}
	}
}

// SupportList parses a comma-separated support answer into the list shape
// the student_support.support group expects.  Used by the terminal runner.
func SupportList(s string) []any {
	parts := strings.Split(s, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
