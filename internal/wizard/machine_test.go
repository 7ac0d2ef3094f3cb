// internal/wizard/machine_test.go
//
// Unit-tests for the form state machine.
//
// Context
// -------
// fakeSubmitter stands in for the HTTP collaborator so transitions can be
// exercised without a network.  Covered behaviours:
//
//   • step gating: advance moves iff the step validates clean
//   • retreat is unconditional and value-preserving
//   • conditional resets commit atomically with the trigger
//   • read-only freeze after submission
//   • consent gate, confirm/cancel, draft save, server-error merging
//   • stale responses discarded once the attempt stamp moves on

package wizard

import (
	"context"
	"errors"
	"testing"

	"github.com/upmin-guidance/intake/internal/draft"
	"github.com/upmin-guidance/intake/internal/formdef"
)

const defYAML = `
id: bis-test
title: Basic Information Sheet
owner_label: student_number
drafts: true
steps:
  - id: intro
    title: Personal Data
  - id: preferences
    title: School Preferences
    sections: [preferences]
    fields:
      - path: preferences.influence
        kind: text
        required: true
        message: This field is required.
      - path: preferences.shift_plans
        kind: bool
        required: true
        message: This field is required.
      - path: preferences.planned_shift_degree
        kind: text
        required: true
        when: "preferences.shift_plans=true"
  - id: certify
    title: Certify and Submit
    sections: [privacy_consent]
conditionals:
  - trigger: preferences.shift_plans
    when: "false"
    resets: [preferences.planned_shift_degree]
consent:
  path: privacy_consent.has_consented
  message: You must agree to the Privacy Statement before submitting the form.
normalize:
  numbers: []
`

type fakeSubmitter struct {
	saves    []SaveRequest
	finals   []FinalizeRequest
	saveErr  error
	finalErr error
	onFinal  func()
}

func (f *fakeSubmitter) SaveDraft(_ context.Context, req SaveRequest) error {
	f.saves = append(f.saves, req)
	return f.saveErr
}

func (f *fakeSubmitter) Finalize(_ context.Context, req FinalizeRequest) error {
	f.finals = append(f.finals, req)
	if f.onFinal != nil {
		f.onFinal()
	}
	return f.finalErr
}

type fakeFault struct {
	msg    string
	fields map[string]string
}

func (f *fakeFault) Error() string                    { return "server says no" }
func (f *fakeFault) UserMessage() string              { return f.msg }
func (f *fakeFault) FieldErrorMap() map[string]string { return f.fields }

func newMachine(t *testing.T, sub Submitter) *Machine {
	t.Helper()
	def, err := formdef.LoadDef([]byte(defYAML))
	if err != nil {
		t.Fatalf("LoadDef: %v", err)
	}
	m := New(def, "2023-12345", sub, WithRedirect("/student"))
	m.Hydrate(&draft.Bundle{
		Exists:     true,
		Submission: &draft.Submission{ID: "sub-1", Status: draft.StatusDraft},
		Sections:   map[string]any{},
	})
	return m
}

func fillStep2(m *Machine) {
	_ = m.SetField("preferences.influence", "Family")
	_ = m.SetField("preferences.shift_plans", false)
}

func consent(m *Machine) {
	_ = m.SetField("privacy_consent.has_consented", "true")
}

func TestAdvanceGatesOnValidation(t *testing.T) {
	m := newMachine(t, &fakeSubmitter{})

	if !m.Advance() { // intro step has nothing to validate
		t.Fatal("empty step blocked")
	}
	if m.Step() != 2 {
		t.Fatalf("step = %d, want 2", m.Step())
	}

	if m.Advance() {
		t.Fatal("invalid step advanced")
	}
	if m.Step() != 2 {
		t.Fatalf("cursor moved on failed validation: %d", m.Step())
	}
	if _, ok := m.FieldError("preferences.influence"); !ok {
		t.Fatal("error map missing the engine's output")
	}

	fillStep2(m)
	if !m.Advance() {
		t.Fatalf("valid step blocked: %v", m.Errors())
	}
	if m.Step() != 3 || !m.Errors().Empty() {
		t.Fatalf("step=%d errors=%v after passing validation", m.Step(), m.Errors())
	}
}

func TestRetreatIsUnconditional(t *testing.T) {
	m := newMachine(t, &fakeSubmitter{})
	m.Advance()
	_ = m.SetField("preferences.influence", "Family")

	m.Retreat() // step 2 is invalid (shift_plans unanswered); retreat anyway
	if m.Step() != 1 {
		t.Fatalf("step = %d, want 1", m.Step())
	}
	if v, _ := m.Draft().Value("preferences.influence"); v != "Family" {
		t.Fatalf("retreat mutated values: %v", v)
	}

	m.Retreat() // at step 1: no-op
	if m.Step() != 1 {
		t.Fatal("retreat below step 1")
	}
}

func TestSetFieldSanitizesAndResets(t *testing.T) {
	m := newMachine(t, &fakeSubmitter{})
	m.Advance()

	_ = m.SetField("preferences.shift_plans", true)
	_ = m.SetField("preferences.planned_shift_degree", "BS Biology <x>")
	if v, _ := m.Draft().Value("preferences.planned_shift_degree"); v != "BS Biology x" {
		t.Fatalf("sanitizer not applied: %v", v)
	}

	// Committing shift_plans=false blanks the dependent in the same event.
	_ = m.SetField("preferences.shift_plans", false)
	if v, _ := m.Draft().Value("preferences.planned_shift_degree"); v != "" {
		t.Fatalf("conditional reset not atomic: %v", v)
	}
}

func TestConsentGate(t *testing.T) {
	m := newMachine(t, &fakeSubmitter{})
	m.Advance()
	fillStep2(m)
	m.Advance()

	err := m.RequestSubmit()
	if !errors.Is(err, ErrConsentRequired) {
		t.Fatalf("err = %v, want ErrConsentRequired", err)
	}
	if m.Notice() == "" {
		t.Fatal("consent notice not surfaced")
	}
	if m.State() != StateEditing {
		t.Fatalf("state = %v, want editing", m.State())
	}
}

func TestSubmitHappyPath(t *testing.T) {
	sub := &fakeSubmitter{}
	m := newMachine(t, sub)
	m.Advance()
	fillStep2(m)
	m.Advance()
	consent(m)

	if err := m.RequestSubmit(); err != nil {
		t.Fatalf("RequestSubmit: %v (errors %v)", err, m.Errors())
	}
	if m.State() != StateConfirming {
		t.Fatalf("state = %v, want confirming", m.State())
	}

	if err := m.ConfirmSubmit(context.Background()); err != nil {
		t.Fatalf("ConfirmSubmit: %v", err)
	}
	if m.State() != StateSubmitted || !m.ReadOnly() {
		t.Fatalf("state = %v readOnly = %v", m.State(), m.ReadOnly())
	}
	if m.RedirectTarget() != "/student" {
		t.Fatalf("redirect = %q", m.RedirectTarget())
	}
	if len(sub.finals) != 1 || sub.finals[0].SubmissionID != "sub-1" {
		t.Fatalf("finalize calls = %+v", sub.finals)
	}

	// A second submission attempt is rejected client-side.
	if err := m.RequestSubmit(); !errors.Is(err, ErrSubmitted) {
		t.Fatalf("resubmit err = %v, want ErrSubmitted", err)
	}
}

func TestCancelSubmit(t *testing.T) {
	m := newMachine(t, &fakeSubmitter{})
	m.Advance()
	fillStep2(m)
	m.Advance()
	consent(m)

	_ = m.RequestSubmit()
	m.CancelSubmit()
	if m.State() != StateEditing {
		t.Fatalf("state = %v after cancel", m.State())
	}
}

func TestReadOnlyFreeze(t *testing.T) {
	m := newMachine(t, &fakeSubmitter{})
	m.Hydrate(&draft.Bundle{
		Exists:     true,
		Submission: &draft.Submission{ID: "sub-1", Status: draft.StatusSubmitted},
	})

	before := m.Draft().Clone()
	_ = m.SetField("preferences.influence", "changed")
	_ = m.SetField("preferences.shift_plans", false)
	m.ClearError("preferences.influence")

	if v, _ := m.Draft().Value("preferences.influence"); v != before.StringValue("preferences.influence") {
		t.Fatal("frozen draft mutated by SetField")
	}
	if err := m.SaveDraft(context.Background()); !errors.Is(err, ErrSubmitted) {
		t.Fatalf("SaveDraft on frozen draft: %v", err)
	}

	// Navigation for review still works.
	if !m.Advance() {
		t.Fatal("frozen draft cannot be paged through")
	}
	m.Retreat()
	if m.Step() != 1 {
		t.Fatalf("step = %d", m.Step())
	}
}

func TestSaveDraft(t *testing.T) {
	sub := &fakeSubmitter{}
	m := newMachine(t, sub)

	// Step 1 offers no draft saving.
	if err := m.SaveDraft(context.Background()); err == nil {
		t.Fatal("draft saved from step 1")
	}

	m.Advance()
	// Drafts skip validation: step 2 is still blank.
	if err := m.SaveDraft(context.Background()); err != nil {
		t.Fatalf("SaveDraft: %v", err)
	}
	if len(sub.saves) != 1 || sub.saves[0].FormID != "bis-test" {
		t.Fatalf("saves = %+v", sub.saves)
	}
	if m.Notice() == "" {
		t.Fatal("no saved-draft notice")
	}
	if m.Step() != 2 || m.Draft().Status != draft.StatusDraft {
		t.Fatal("SaveDraft moved the cursor or status")
	}
}

func TestMissingSubmissionID(t *testing.T) {
	def, _ := formdef.LoadDef([]byte(defYAML))
	m := New(def, "2023-12345", &fakeSubmitter{}) // never hydrated: no ID
	m.Advance()

	if err := m.SaveDraft(context.Background()); !errors.Is(err, ErrNoSubmissionID) {
		t.Fatalf("err = %v, want ErrNoSubmissionID", err)
	}
	if m.Notice() == "" {
		t.Fatal("missing-id notice not surfaced")
	}
}

func TestServerFieldErrorsMerge(t *testing.T) {
	sub := &fakeSubmitter{finalErr: &fakeFault{
		fields: map[string]string{"preferences.influence": "Too vague."},
	}}
	m := newMachine(t, sub)
	m.Advance()
	fillStep2(m)
	m.Advance()
	consent(m)

	_ = m.RequestSubmit()
	err := m.ConfirmSubmit(context.Background())
	if err == nil {
		t.Fatal("finalize error swallowed")
	}
	if m.State() != StateEditing || m.ReadOnly() {
		t.Fatalf("failed submit changed status: state=%v", m.State())
	}
	if msg, _ := m.FieldError("preferences.influence"); msg != "Too vague." {
		t.Fatalf("server field error not merged: %q", msg)
	}
}

func TestTransportFailureIsGeneric(t *testing.T) {
	sub := &fakeSubmitter{finalErr: errors.New("connection refused")}
	m := newMachine(t, sub)
	m.Advance()
	fillStep2(m)
	m.Advance()
	consent(m)

	_ = m.RequestSubmit()
	_ = m.ConfirmSubmit(context.Background())
	if m.Notice() != "Failed to submit form." {
		t.Fatalf("notice = %q", m.Notice())
	}
	// Draft preserved so the user can retry the same action.
	if v, _ := m.Draft().Value("preferences.influence"); v != "Family" {
		t.Fatalf("draft lost on transport failure: %v", v)
	}
}

func TestPreviewDoesNotMutate(t *testing.T) {
	m := newMachine(t, &fakeSubmitter{})
	m.Advance()
	fillStep2(m)

	m.OpenPreview()
	if m.State() != StatePreviewing {
		t.Fatalf("state = %v", m.State())
	}
	_ = m.SetField("preferences.influence", "changed while previewing")
	if v, _ := m.Draft().Value("preferences.influence"); v != "Family" {
		t.Fatalf("preview allowed mutation: %v", v)
	}
	m.ClosePreview()
	if m.State() != StateEditing || m.Step() != 2 {
		t.Fatalf("close preview: state=%v step=%d", m.State(), m.Step())
	}
}
