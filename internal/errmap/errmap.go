// internal/errmap/errmap.go
//
// Intake – field-path keyed validation messages.
//
// Context
//   Both the client-side rule engine and the server's 400 payloads speak the
//   same language: a map from canonical field path to one human-readable
//   message.  Inline renderers read it to highlight a field; the wizard reads
//   it to gate step transitions.
//
// Workflow
//   •  Clearing a message DELETES the key.  An empty-string message is never
//      stored as a "no error" sentinel; consumers may range over the map and
//      every present key means a real error.
//   •  Step validation replaces the whole map, so a passing validation can
//      never leave stale messages behind.  Focus-driven single-field clears
//      go through Clear and may leave other fields stale until the next full
//      pass, which is intended.
//
//------------------------------------------------------------------------------

package errmap

import "github.com/upmin-guidance/intake/internal/fieldpath"

// Map holds one message per offending field path.  The zero value is not
// usable; call New.
type Map map[string]string

// New returns an empty error map.
func New() Map { return make(Map) }

// Set records message under the canonical form of path.  Empty messages are
// ignored rather than stored.
func (m Map) Set(path, message string) {
	if message == "" {
		return
	}
	m[fieldpath.Canonical(path)] = message
}

// Get returns the message for path and whether one is present.
func (m Map) Get(path string) (string, bool) {
	msg, ok := m[fieldpath.Canonical(path)]
	return msg, ok
}

// Clear removes the message for path, if any.
func (m Map) Clear(path string) { delete(m, fieldpath.Canonical(path)) }

// ClearAll removes every message.
func (m Map) ClearAll() {
	for k := range m {
		delete(m, k)
	}
}

// Merge copies every entry of other into m, overwriting on collision.  Used
// to fold server-reported field errors into the client map.
func (m Map) Merge(other Map) {
	for k, v := range other {
		m.Set(k, v)
	}
}

// Len reports the number of recorded errors.
func (m Map) Len() int { return len(m) }

// Empty reports whether no errors are recorded.  An empty map is the step
// engine's "validation passed".
func (m Map) Empty() bool { return len(m) == 0 }
