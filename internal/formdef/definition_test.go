// internal/formdef/definition_test.go
//
// Unit-tests for the definition loader and its path helpers.

package formdef

import (
	"strings"
	"testing"
)

const sampleYAML = `
id: referral-slip
title: Counseling Referral Slip
owner_label: student_number
drafts: true
steps:
  - id: student
    title: Student Details
    sections: [refer_student_details]
    fields:
      - path: refer_student_details.refer_student_last_name
        label: Last Name
        kind: name
        required: true
        message: This field is required.
      - path: refer_student_details.refer_student_contact_number
        label: Contact Number
        kind: phone
        required: true
        message: This field is required.
        pattern: '^(\+63|0)\d{9,10}$'
        pattern_message: Please enter a valid phone number.
      - path: refer_student_details.is_emergency
        label: Emergency Referral
        kind: bool
  - id: licenses
    title: Licenses
    sections: [licenses]
    groups:
      - path: licenses
        min: 1
        message: At least one license is required.
    fields:
      - path: licenses[].name
        label: License Name
        kind: text
        required: true
conditionals:
  - trigger: refer_student_details.refer_student_last_name
    when: ""
    resets: [refer_student_details.refer_student_contact_number]
consent:
  path: privacy_consent.has_consented
  message: You must agree to the Privacy Statement before submitting the form.
normalize:
  numbers: [refer_student_details.refer_student_year]
`

func TestLoadDef(t *testing.T) {
	d, err := LoadDef([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("LoadDef: %v", err)
	}
	if d.ID != "referral-slip" || len(d.Steps) != 2 {
		t.Fatalf("unexpected def: %+v", d)
	}
	f := &d.Steps[0].Fields[1]
	if f.Regexp() == nil {
		t.Fatal("pattern not compiled at load")
	}
	if !f.Regexp().MatchString("09171234567") {
		t.Fatal("compiled pattern rejects a valid number")
	}
}

func TestLoadDefStructuralErrors(t *testing.T) {
	cases := []struct{ name, mangle, wantSub string }{
		{"missing id", "id: referral-slip", "missing 'id'"},
		{"bad kind", "kind: phone", "unknown kind"},
		{"bad pattern", `pattern: '^(\+63|0)\d{9,10}$'`, "bad pattern"},
	}
	replacements := map[string]string{
		"missing id":  `id: ""`,
		"bad kind":    "kind: phoen",
		"bad pattern": "pattern: '['",
	}
	for _, c := range cases {
		raw := strings.Replace(sampleYAML, c.mangle, replacements[c.name], 1)
		if _, err := LoadDef([]byte(raw)); err == nil || !strings.Contains(err.Error(), c.wantSub) {
			t.Errorf("%s: err = %v, want substring %q", c.name, err, c.wantSub)
		}
	}
}

func TestDuplicateFieldPathRejected(t *testing.T) {
	raw := strings.Replace(sampleYAML,
		"path: refer_student_details.refer_student_contact_number",
		"path: refer_student_details.refer_student_last_name", 1)
	if _, err := LoadDef([]byte(raw)); err == nil || !strings.Contains(err.Error(), "duplicate field path") {
		t.Fatalf("err = %v, want duplicate-path error", err)
	}
}

func TestRegistry(t *testing.T) {
	d, err := LoadDef([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("LoadDef: %v", err)
	}
	Register(d)

	got, ok := Get("referral-slip")
	if !ok || got.Title != "Counseling Referral Slip" {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
	if _, ok := Get("nope"); ok {
		t.Fatal("Get(nope) reported ok")
	}
}

func TestSeed(t *testing.T) {
	d, _ := LoadDef([]byte(sampleYAML))
	tree := d.Seed()

	sec, ok := tree["refer_student_details"].(map[string]any)
	if !ok {
		t.Fatalf("section not seeded: %v", tree)
	}
	if sec["refer_student_last_name"] != "" {
		t.Fatalf("scalar sentinel = %v, want empty string", sec["refer_student_last_name"])
	}
	if sec["is_emergency"] != false {
		t.Fatalf("bool sentinel = %v, want false", sec["is_emergency"])
	}
	if list, ok := tree["licenses"].([]any); !ok || len(list) != 0 {
		t.Fatalf("group sentinel = %v", tree["licenses"])
	}
}

func TestExpandWildcard(t *testing.T) {
	sections := map[string]any{
		"licenses": []any{
			map[string]any{"name": "RN"},
			map[string]any{"name": ""},
		},
	}
	got := ExpandWildcard(sections, "licenses[].name")
	want := []string{"licenses.0.name", "licenses.1.name"}
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("ExpandWildcard = %v, want %v", got, want)
	}
	if got := ExpandWildcard(sections, "health_data.height"); len(got) != 1 || got[0] != "health_data.height" {
		t.Fatalf("non-wildcard expansion = %v", got)
	}
}

func TestFieldAt(t *testing.T) {
	d, _ := LoadDef([]byte(sampleYAML))

	if f, ok := d.FieldAt("licenses.1.name"); !ok || f.Label != "License Name" {
		t.Fatalf("FieldAt wildcard = %+v, %v", f, ok)
	}
	if f, ok := d.FieldAt("refer_student_details.refer_student_last_name"); !ok || f.Kind != "name" {
		t.Fatalf("FieldAt exact = %+v, %v", f, ok)
	}
	if _, ok := d.FieldAt("refer_student_details.unknown"); ok {
		t.Fatal("FieldAt matched an undeclared path")
	}
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"08:00", 480, true},
		{"8:00", 480, true},
		{"16:00", 960, true},
		{"7:59", 479, true},
		{"24:00", 0, false},
		{"noon", 0, false},
	}
	for _, c := range cases {
		got, err := ParseClock(c.in)
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("ParseClock(%q) = %d, %v; want %d", c.in, got, err, c.want)
		}
		if !c.ok && err == nil {
			t.Errorf("ParseClock(%q) accepted", c.in)
		}
	}
}
