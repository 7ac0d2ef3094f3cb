// internal/attach/attach.go
//
// Intake – transient file attachments.
//
// Context
//   The profile-setup wizard carries a staff photo.  The file never belongs
//   in the section value tree: it is a local, binary side resource that is
//   merged into the outgoing multipart payload only at submit time.  It is
//   never persisted mid-draft.
//
// Lifecycle
//   Created on file selection, superseded (and the predecessor released) on
//   re-selection, discarded on navigation away without resubmission.  The
//   Holder owns at most one file at a time.
//
//------------------------------------------------------------------------------

package attach

// File is one selected attachment.
type File struct {
	Name string // original filename, used as the multipart part filename
	MIME string
	Data []byte
}

// Holder owns the single transient attachment of a wizard session.
type Holder struct {
	current  *File
	released int
}

// Replace adopts f, releasing any previously held file.  A nil f is
// equivalent to Discard.
func (h *Holder) Replace(f *File) {
	if h.current != nil {
		h.released++
		h.current.Data = nil // drop the buffer; previews die with it
	}
	h.current = f
}

// Discard releases the held file, if any.
func (h *Holder) Discard() { h.Replace(nil) }

// Current returns the held file, or nil.
func (h *Holder) Current() *File { return h.current }

// Released reports how many files were superseded or discarded, for tests
// asserting the release contract.
func (h *Holder) Released() int { return h.released }
