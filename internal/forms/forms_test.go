// internal/forms/forms_test.go

package forms

import (
	"testing"

	"github.com/upmin-guidance/intake/internal/conditional"
	"github.com/upmin-guidance/intake/internal/draft"
	"github.com/upmin-guidance/intake/internal/formdef"
	"github.com/upmin-guidance/intake/internal/rules"
)

func init() {
	if err := RegisterAll(); err != nil {
		panic(err)
	}
}

func get(t *testing.T, id string) *formdef.Def {
	t.Helper()
	def, ok := formdef.Get(id)
	if !ok {
		t.Fatalf("definition %q not registered", id)
	}
	return def
}

func TestAllDefinitionsRegistered(t *testing.T) {
	for _, id := range []string{BISID, SCIFID, PARDID, ReferralSlipID, ProfileSetupID} {
		if _, ok := formdef.Get(id); !ok {
			t.Errorf("missing definition %q", id)
		}
	}
}

func TestBISShiftPlansReset(t *testing.T) {
	def := get(t, BISID)
	d := draft.New("2023-12345", def.Seed())

	d, _ = conditional.Apply(def, d, "preferences.shift_plans", true)
	d, _ = conditional.Apply(def, d, "preferences.planned_shift_degree", "BS Biology")
	d, _ = conditional.Apply(def, d, "preferences.reason_for_shifting", "interest")

	d, err := conditional.Apply(def, d, "preferences.shift_plans", false)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if v := d.StringValue("preferences.planned_shift_degree"); v != "" {
		t.Errorf("planned_shift_degree = %q after reset", v)
	}
	if v := d.StringValue("preferences.reason_for_shifting"); v != "" {
		t.Errorf("reason_for_shifting = %q after reset", v)
	}
}

func TestBISNextPlanVisibility(t *testing.T) {
	def := get(t, BISID)
	d := draft.New("2023-12345", def.Seed())
	_ = d.SetValue("scholastic_status.intended_course", "BS CS")
	_ = d.SetValue("scholastic_status.first_choice_course", "BS CS")
	_ = d.SetValue("scholastic_status.admitted_course", "BS CS")

	// Same course: next_plan is hidden, step 4 passes without it.
	em := rules.ValidateStep(def, 4, d)
	if !em.Empty() {
		t.Fatalf("matching courses should not demand next_plan: %v", em)
	}

	// Courses differ: next_plan becomes required.
	d, _ = conditional.Apply(def, d, "scholastic_status.admitted_course", "BS Biology")
	em = rules.ValidateStep(def, 4, d)
	if _, ok := em.Get("scholastic_status.next_plan"); !ok {
		t.Fatalf("differing courses should require next_plan: %v", em)
	}

	// Re-aligning the first choice blanks next_plan in the same transition.
	_ = d.SetValue("scholastic_status.next_plan", "shift later")
	d, _ = conditional.Apply(def, d, "scholastic_status.first_choice_course", "BS Biology")
	if v := d.StringValue("scholastic_status.next_plan"); v != "" {
		t.Errorf("next_plan = %q after courses re-aligned", v)
	}
}

func TestBISSupportConditionals(t *testing.T) {
	def := get(t, BISID)
	d := draft.New("2023-12345", def.Seed())
	_ = d.SetValue("socio_economic_status.has_scholarship", false)
	_ = d.SetValue("socio_economic_status.monthly_allowance", "5000")
	_ = d.SetValue("socio_economic_status.spending_habit", "weekly budget")

	// Empty support set blocks the step.
	em := rules.ValidateStep(def, 2, d)
	if msg, _ := em.Get("student_support.support"); msg != "This field is required." {
		t.Fatalf("support min: %v", em)
	}

	// Picking "scholarship" makes other_scholarship required.
	_ = d.SetValue("student_support.support", SupportList("self, scholarship"))
	em = rules.ValidateStep(def, 2, d)
	if _, ok := em.Get("student_support.other_scholarship"); !ok {
		t.Fatalf("scholarship choice should require other_scholarship: %v", em)
	}
	if _, ok := em.Get("student_support.combination_notes"); ok {
		t.Fatal("combination notes demanded without the combination choice")
	}

	_ = d.SetValue("student_support.other_scholarship", "DOST")
	em = rules.ValidateStep(def, 2, d)
	if !em.Empty() {
		t.Fatalf("step 2 should pass: %v", em)
	}
}

func TestSCIFDeceasedFatherFiller(t *testing.T) {
	def := get(t, SCIFID)
	d := draft.New("2023-12345", def.Seed())
	_ = d.SetValue("family_data.father.first_name", "Jose")
	_ = d.SetValue("family_data.father.age", "58")

	d, err := conditional.Apply(def, d, "family_data.father.is_deceased", true)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if v := d.StringValue("family_data.father.first_name"); v != "Jose" {
		t.Errorf("deceased toggle dropped the name: %q", v)
	}
	if v := d.StringValue("family_data.father.age"); v != "" {
		t.Errorf("age = %q, want blank", v)
	}

	// The father's required fields are suspended while the toggle holds.
	em := rules.ValidateStep(def, 2, d)
	if _, ok := em.Get("family_data.father.last_name"); ok {
		t.Fatalf("deceased parent still validated: %v", em)
	}

	// Unticking restores a blank editable record.
	d, _ = conditional.Apply(def, d, "family_data.father.is_deceased", false)
	if v := d.StringValue("family_data.father.first_name"); v != "" {
		t.Errorf("untoggle kept %q", v)
	}
	em = rules.ValidateStep(def, 2, d)
	if _, ok := em.Get("family_data.father.first_name"); !ok {
		t.Fatal("restored record should validate as required again")
	}
}

func TestSCIFNoneTogglesBlankNames(t *testing.T) {
	def := get(t, SCIFID)
	d := draft.New("2023-12345", def.Seed())
	_ = d.SetValue("family_data.mother.first_name", "Maria")

	d, _ = conditional.Apply(def, d, "family_data.mother.is_none", true)
	if v := d.StringValue("family_data.mother.first_name"); v != "" {
		t.Errorf("none toggle kept the name: %q", v)
	}
	if v := d.StringValue("family_data.mother.is_deceased"); v == "true" {
		t.Error("competing toggle left set")
	}
}

func TestPARDContactWindow(t *testing.T) {
	def := get(t, PARDID)
	f, ok := def.FieldAt("contact_info.preferred_time")
	if !ok {
		t.Fatal("preferred_time not declared")
	}
	if f.MinTime != "08:00" || f.MaxTime != "16:00" {
		t.Fatalf("office hours = %s-%s", f.MinTime, f.MaxTime)
	}

	d := draft.New("2023-12345", def.Seed())
	_ = d.SetValue("contact_info.preferred_time", "07:59")
	em := rules.ValidateStep(def, 4, d)
	if msg, _ := em.Get("contact_info.preferred_time"); msg != "Time must be between 08:00 and 16:00." {
		t.Fatalf("07:59: %v", em)
	}

	_ = d.SetValue("contact_info.preferred_time", "16:00")
	em = rules.ValidateStep(def, 4, d)
	if _, ok := em.Get("contact_info.preferred_time"); ok {
		t.Fatal("16:00 is inside the closed interval")
	}
}

func TestPARDAgreementMustBeTrue(t *testing.T) {
	def := get(t, PARDID)
	d := draft.New("2023-12345", def.Seed())

	// An explicit "no" blocks the consent step just like no answer at all.
	_ = d.SetValue("consent.has_agreed", false)
	em := rules.ValidateStep(def, 2, d)
	if msg, _ := em.Get("consent.has_agreed"); msg != "You must agree before proceeding." {
		t.Fatalf("declined agreement: %v", em)
	}

	_ = d.SetValue("consent.has_agreed", true)
	em = rules.ValidateStep(def, 2, d)
	if !em.Empty() {
		t.Fatalf("agreed step should pass: %v", em)
	}
}

func TestPARDDiagnosisReset(t *testing.T) {
	def := get(t, PARDID)
	d := draft.New("2023-12345", def.Seed())
	d, _ = conditional.Apply(def, d, "pard_data.is_diagnosed", true)
	d, _ = conditional.Apply(def, d, "pard_data.date_diagnosed", "2024-05-01")
	d, _ = conditional.Apply(def, d, "pard_data.diagnosed_by", "Dr. Cruz")

	d, _ = conditional.Apply(def, d, "pard_data.is_diagnosed", false)
	if d.StringValue("pard_data.date_diagnosed") != "" || d.StringValue("pard_data.diagnosed_by") != "" {
		t.Fatal("diagnosis details survived the toggle")
	}
}

func TestReferralSlipPhonePattern(t *testing.T) {
	def := get(t, ReferralSlipID)
	d := draft.New("2023-12345", def.Seed())
	_ = d.SetValue("refer_student_details.refer_student_last_name", "Reyes")
	_ = d.SetValue("refer_student_details.refer_student_first_name", "Ana")
	_ = d.SetValue("refer_student_details.refer_student_year", "2nd")
	_ = d.SetValue("refer_student_details.refer_student_degree_program", "BS CS")
	_ = d.SetValue("refer_student_details.refer_student_gender", "Female")
	_ = d.SetValue("refer_student_details.refer_student_contact_number", "12345")

	em := rules.ValidateStep(def, 1, d)
	if msg, _ := em.Get("refer_student_details.refer_student_contact_number"); msg != "Please enter a valid phone number." {
		t.Fatalf("bad phone: %v", em)
	}

	_ = d.SetValue("refer_student_details.refer_student_contact_number", "09171234567")
	em = rules.ValidateStep(def, 1, d)
	if !em.Empty() {
		t.Fatalf("valid details rejected: %v", em)
	}
}

func TestProfileSetupLicensesMinimum(t *testing.T) {
	def := get(t, ProfileSetupID)
	if def.Drafts {
		t.Fatal("profile setup must not offer drafts")
	}
	if def.Attachment == nil || def.Attachment.Field != "photo" || !def.Attachment.Required {
		t.Fatalf("attachment = %+v", def.Attachment)
	}

	d := draft.New("E-001", def.Seed())
	em := rules.ValidateStep(def, 2, d)
	if msg, _ := em.Get("licenses"); msg != "At least one license is required." {
		t.Fatalf("empty list: %v", em)
	}

	_ = d.SetValue("licenses", []any{map[string]any{"name": "RN", "number": ""}})
	em = rules.ValidateStep(def, 2, d)
	if _, ok := em.Get("licenses"); ok {
		t.Fatal("one entry satisfies the minimum")
	}
	// Per-entry field rules still apply independently.
	if _, ok := em.Get("licenses.0.number"); !ok {
		t.Fatalf("blank license number not flagged: %v", em)
	}
}
