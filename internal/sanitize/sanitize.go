// internal/sanitize/sanitize.go
//
// Intake – keystroke input filters.
//
// Context
//   Every editable field in the intake wizards runs its whole value through
//   one of these filters on each change, before the value is committed to
//   the draft tree.  Filters strip disallowed characters; they never reject
//   input and never report errors.  Because the entire value is filtered on
//   every keystroke, pasted text is cleaned the same way typed text is.
//
// Workflow
//   •  Alpha    – names (letters, spaces, hyphen, apostrophe).
//   •  Numeric  – digits only (ages, years, contact-number fragments).
//   •  Decimal  – digits and a single period (heights, weights, GPA).
//   •  General  – free text with a punctuation allowlist (addresses,
//      occupations, school and company names, reason textareas).
//   •  ForKind  – maps a form-definition field kind to its filter.
//
// Every filter is pure and idempotent: filter(filter(s)) == filter(s).
//
//------------------------------------------------------------------------------

package sanitize

import (
	"regexp"
	"strings"
)

// Filter is a pure whole-value string transform.
type Filter func(string) string

var (
	alphaStrip   = regexp.MustCompile(`[^a-zA-Z\s\-']`)
	numericStrip = regexp.MustCompile(`[^0-9]`)
	decimalStrip = regexp.MustCompile(`[^0-9.]`)
	generalStrip = regexp.MustCompile(`[^a-zA-Z0-9\s.,\-/'"?()&:;!#%*]`)
)

// Alpha keeps letters, whitespace, hyphens, and apostrophes.  Used for
// person names and similar fields.
func Alpha(s string) string { return alphaStrip.ReplaceAllString(s, "") }

// Numeric keeps digits 0-9 only.
func Numeric(s string) string { return numericStrip.ReplaceAllString(s, "") }

// Decimal keeps digits and at most one period.  When more than one period
// survives the strip, everything after the first is collapsed into the
// fractional part, so "1.2.3.4" becomes "1.234".
func Decimal(s string) string {
	filtered := decimalStrip.ReplaceAllString(s, "")
	parts := strings.Split(filtered, ".")
	if len(parts) <= 2 {
		return filtered
	}
	return parts[0] + "." + strings.Join(parts[1:], "")
}

// General keeps letters, digits, whitespace, and the punctuation allowlist
// . , - / ' " ? ( ) & : ; ! # % *
func General(s string) string { return generalStrip.ReplaceAllString(s, "") }

// Phone keeps digits plus a single leading "+", so both "09171234567" and
// "+639171234567" survive typing.
func Phone(s string) string {
	plus := strings.HasPrefix(s, "+")
	digits := numericStrip.ReplaceAllString(s, "")
	if plus {
		return "+" + digits
	}
	return digits
}

// None returns the value unchanged.  Kinds with structured widgets (select,
// date, bool) commit their values verbatim.
func None(s string) string { return s }

// ForKind returns the filter a field kind applies while typing.  Unknown
// kinds get None so a definition typo never eats input.
func ForKind(kind string) Filter {
	switch kind {
	case "name":
		return Alpha
	case "number", "year":
		return Numeric
	case "phone":
		return Phone
	case "decimal":
		return Decimal
	case "text", "textarea":
		return General
	default:
		return None
	}
}
