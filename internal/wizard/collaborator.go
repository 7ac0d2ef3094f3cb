// internal/wizard/collaborator.go
//
// Intake – the submit collaborator contract.
//
// Context
//   The state machine never talks HTTP itself.  It is handed a Submitter at
//   construction (explicit dependency injection, no ambient context) and
//   only needs "persist this normalized payload" semantics.  The concrete
//   implementation lives in internal/api; tests inject fakes.
//
//   Server-reported failures surface through error values.  When an error
//   also satisfies ServerFault, its path-keyed field errors are merged into
//   the client error map and its message is shown; any other error is
//   treated as a transport failure with a generic message.
//
//------------------------------------------------------------------------------

package wizard

import (
	"context"

	"github.com/upmin-guidance/intake/internal/attach"
)

// SaveRequest carries one draft persistence call.
type SaveRequest struct {
	FormID       string
	SubmissionID string
	OwnerKey     string
	Sections     map[string]any
}

// FinalizeRequest carries the one-shot final submission.  Attachment is nil
// for forms without a file rider; when present the collaborator sends a
// multipart payload instead of plain JSON.
type FinalizeRequest struct {
	FormID       string
	SubmissionID string
	OwnerKey     string
	Sections     map[string]any
	Attachment   *attach.File
}

// Submitter is the machine's only outward dependency.
type Submitter interface {
	SaveDraft(ctx context.Context, req SaveRequest) error
	Finalize(ctx context.Context, req FinalizeRequest) error
}

// ServerFault is implemented by errors that carry a structured server
// verdict: a user-facing message and, for HTTP 400 validation answers,
// field errors keyed by the same dotted paths the client uses.
type ServerFault interface {
	error
	UserMessage() string
	FieldErrorMap() map[string]string
}
