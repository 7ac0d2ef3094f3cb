// internal/wizard/machine.go
//
// Intake – the multi-step form state machine.
//
// Context
//   One Machine owns one wizard session: the step cursor, the draft value
//   tree, the error map, and the transition guards.  Every wizard (BIS,
//   SCIF, PARD, referral slip, profile setup) is this same machine
//   parameterized by its definition; the per-form shells differ only in
//   their YAML.
//
// Transitions
//   •  Advance       – editing(k) → editing(k+1) iff the current step
//      validates clean; otherwise the cursor stays and the error map is
//      replaced with the engine's output.
//   •  Retreat       – editing(k>1) → editing(k-1), unconditionally, never
//      touching section values.
//   •  OpenPreview / ClosePreview – side trips that render the draft
//      read-only and mutate nothing.
//   •  RequestSubmit – full-draft validation plus the consent gate; on pass
//      the machine parks in confirming until ConfirmSubmit or CancelSubmit.
//   •  ConfirmSubmit – normalize, hand off to the Submitter, and either
//      freeze as submitted (scheduling the redirect) or stay editing with
//      the server's verdict surfaced.
//   •  SaveDraft     – any editing step ≥ 2 on draft-capable forms; skips
//      validation entirely (drafts may be partially invalid).
//
// Freeze
//   Once the draft is submitted the machine still navigates for review, but
//   every mutating operation (SetField, conditional resets, error clears,
//   submission) is a no-op.
//
// Concurrency
//   Single event at a time: a busy flag rejects competing network actions,
//   and every save/submit stamps an attempt counter so a response landing
//   after the session moved on is discarded instead of applied.
//
//------------------------------------------------------------------------------

package wizard

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/upmin-guidance/intake/internal/attach"
	"github.com/upmin-guidance/intake/internal/conditional"
	"github.com/upmin-guidance/intake/internal/draft"
	"github.com/upmin-guidance/intake/internal/errmap"
	"github.com/upmin-guidance/intake/internal/formdef"
	"github.com/upmin-guidance/intake/internal/normalize"
	"github.com/upmin-guidance/intake/internal/rules"
	"github.com/upmin-guidance/intake/internal/sanitize"
)

// State names the machine's coarse position.
type State string

const (
	StateEditing    State = "editing"
	StatePreviewing State = "previewing"
	StateConfirming State = "confirming"
	StateSubmitted  State = "submitted"
)

// Sentinel errors returned by the submit path.
var (
	ErrInvalid          = errors.New("wizard: validation failed")
	ErrConsentRequired  = errors.New("wizard: privacy consent required")
	ErrBusy             = errors.New("wizard: operation already in flight")
	ErrSubmitted        = errors.New("wizard: form already submitted")
	ErrNoSubmissionID   = errors.New("wizard: submission id missing")
	ErrNotConfirming    = errors.New("wizard: no submission pending confirmation")
	ErrDraftsDisabled   = errors.New("wizard: form does not support drafts")
	ErrAttachmentNeeded = errors.New("wizard: required attachment missing")
)

// Default user-facing notices for failures with no structured verdict.
const (
	noticeSubmitFailed = "Failed to submit form."
	noticeSaveFailed   = "Failed to save draft."
	noticeUnknownError = "Unknown error occurred."
	noticeMissingID    = "Submission ID is missing. Try reloading the page."
	noticeDraftSaved   = "Your draft has been saved successfully!"
	noticeServerErrors = "Some fields were rejected. Please review the highlighted entries."
)

// Machine drives one wizard session.
type Machine struct {
	def  *formdef.Def
	d    *draft.Draft
	sub  Submitter
	hold attach.Holder
	log  *zap.SugaredLogger

	state   State
	step    int // 1-based
	errs    errmap.Map
	notice  string
	busy    bool
	attempt uint64

	redirect  string
	redirectT string // set after successful submission
}

// Option tunes machine construction.
type Option func(*Machine)

// WithLogger replaces the global sugared logger.
func WithLogger(l *zap.SugaredLogger) Option { return func(m *Machine) { m.log = l } }

// WithRedirect sets the path the UI should navigate to after submission.
func WithRedirect(path string) Option { return func(m *Machine) { m.redirect = path } }

// New builds a machine for def, owned by ownerKey, submitting through sub.
// The draft starts from the definition's empty seed; call Hydrate to overlay
// a fetched bundle.
func New(def *formdef.Def, ownerKey string, sub Submitter, opts ...Option) *Machine {
	m := &Machine{
		def:   def,
		d:     draft.New(ownerKey, def.Seed()),
		sub:   sub,
		log:   zap.S(),
		state: StateEditing,
		step:  1,
		errs:  errmap.New(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Hydrate overlays a fetched bundle.  A submitted bundle freezes the
// session immediately.
func (m *Machine) Hydrate(b *draft.Bundle) {
	m.d.Hydrate(b)
	if m.d.Submitted() {
		m.log.Infow("wizard hydrated read-only", "form", m.def.ID, "submission", m.d.SubmissionID)
	}
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

func (m *Machine) Def() *formdef.Def          { return m.def }
func (m *Machine) Draft() *draft.Draft        { return m.d }
func (m *Machine) State() State               { return m.state }
func (m *Machine) Step() int                  { return m.step }
func (m *Machine) StepCount() int             { return len(m.def.Steps) }
func (m *Machine) Errors() errmap.Map         { return m.errs }
func (m *Machine) Busy() bool                 { return m.busy }
func (m *Machine) Notice() string             { return m.notice }
func (m *Machine) ClearNotice()               { m.notice = "" }
func (m *Machine) Attachment() *attach.Holder { return &m.hold }

// RedirectTarget is non-empty once a successful submission scheduled a
// redirect.
func (m *Machine) RedirectTarget() string { return m.redirectT }

// ReadOnly reports whether the draft is frozen (already submitted).
func (m *Machine) ReadOnly() bool { return m.d.Submitted() }

// CurrentStep returns the active step definition.
func (m *Machine) CurrentStep() *formdef.StepDef { return &m.def.Steps[m.step-1] }

// FieldError returns the message for one field, if any.
func (m *Machine) FieldError(path string) (string, bool) { return m.errs.Get(path) }

// -----------------------------------------------------------------------------
// Field mutation
// -----------------------------------------------------------------------------

// SetField sanitizes and commits one field value, applying any conditional
// resets in the same transition.  Frozen drafts and non-editing states make
// this a no-op.
func (m *Machine) SetField(path string, value any) error {
	if m.ReadOnly() || m.state != StateEditing {
		return nil
	}

	if s, ok := value.(string); ok {
		kind := ""
		if f, found := m.def.FieldAt(path); found {
			kind = f.Kind
		}
		value = sanitize.ForKind(kind)(s)
	}

	next, err := conditional.Apply(m.def, m.d, path, value)
	if err != nil {
		m.log.Warnw("field commit rejected", "form", m.def.ID, "path", path, "err", err)
		return err
	}
	m.d = next
	return nil
}

// ClearError drops the message for one field (the focus-driven clear).
// Other fields may stay stale until the next full validation pass.
func (m *Machine) ClearError(path string) {
	if m.ReadOnly() {
		return
	}
	m.errs.Clear(path)
}

// -----------------------------------------------------------------------------
// Step navigation
// -----------------------------------------------------------------------------

// Advance validates the current step and moves forward iff it is clean.
// The error map is always replaced: with the engine's findings on failure,
// with an empty map on success.
func (m *Machine) Advance() bool {
	if m.state != StateEditing {
		return false
	}
	em := rules.ValidateStep(m.def, m.step, m.d)
	m.errs = em
	if !em.Empty() {
		return false
	}
	m.notice = ""
	if m.step < len(m.def.Steps) {
		m.step++
	}
	return true
}

// Retreat moves back one step.  Always allowed, never re-validates, never
// touches section values.
func (m *Machine) Retreat() {
	if m.state != StateEditing || m.step <= 1 {
		return
	}
	m.step--
	m.errs = errmap.New()
	m.notice = ""
}

// OpenPreview renders the full draft read-only.  No draft mutation.
func (m *Machine) OpenPreview() {
	if m.state == StateEditing {
		m.state = StatePreviewing
	}
}

// ClosePreview returns to the editing step the preview was opened from.
func (m *Machine) ClosePreview() {
	if m.state == StatePreviewing {
		m.state = StateEditing
	}
}

// -----------------------------------------------------------------------------
// Submission
// -----------------------------------------------------------------------------

// RequestSubmit runs the full-draft validation and the terminal gates.  On
// success the machine parks in confirming; the caller shows the
// confirmation dialog and then calls ConfirmSubmit or CancelSubmit.
func (m *Machine) RequestSubmit() error {
	switch {
	case m.ReadOnly():
		return ErrSubmitted
	case m.busy:
		return ErrBusy
	case m.state != StateEditing:
		return ErrNotConfirming
	}

	if c := m.def.Consent; c != nil && m.d.StringValue(c.Path) != "true" {
		m.notice = c.Message
		return ErrConsentRequired
	}
	if a := m.def.Attachment; a != nil && a.Required && m.hold.Current() == nil {
		m.notice = a.Message
		return ErrAttachmentNeeded
	}

	em := rules.ValidateAll(m.def, m.d)
	m.errs = em
	if !em.Empty() {
		return ErrInvalid
	}

	m.state = StateConfirming
	return nil
}

// CancelSubmit abandons the pending confirmation.
func (m *Machine) CancelSubmit() {
	if m.state == StateConfirming {
		m.state = StateEditing
	}
}

// ConfirmSubmit normalizes the draft and hands it to the collaborator.
// Success freezes the machine and schedules the redirect; failure keeps the
// draft untouched and surfaces the verdict.
func (m *Machine) ConfirmSubmit(ctx context.Context) error {
	if m.state != StateConfirming {
		return ErrNotConfirming
	}
	if m.busy {
		return ErrBusy
	}
	if m.def.Drafts && m.d.SubmissionID == "" {
		m.notice = noticeMissingID
		m.state = StateEditing
		return ErrNoSubmissionID
	}

	req := FinalizeRequest{
		FormID:       m.def.ID,
		SubmissionID: m.d.SubmissionID,
		OwnerKey:     m.d.OwnerKey,
		Sections:     normalize.Apply(m.def, m.d),
		Attachment:   m.hold.Current(),
	}

	stamp := m.begin()
	err := m.sub.Finalize(ctx, req)
	if !m.finish(stamp) {
		return nil // session moved on; discard the stale response
	}

	if err != nil {
		m.state = StateEditing
		m.applyFailure(err, noticeSubmitFailed)
		m.log.Warnw("finalize failed", "form", m.def.ID, "submission", m.d.SubmissionID, "err", err)
		return err
	}

	m.d.Status = draft.StatusSubmitted
	m.state = StateSubmitted
	m.errs = errmap.New()
	m.notice = ""
	m.redirectT = m.redirect
	m.log.Infow("form submitted", "form", m.def.ID, "submission", m.d.SubmissionID)
	return nil
}

// SaveDraft persists the normalized draft without validating or moving the
// cursor.  Offered from step 2 onward on draft-capable forms.
func (m *Machine) SaveDraft(ctx context.Context) error {
	switch {
	case m.ReadOnly():
		return ErrSubmitted
	case !m.def.Drafts:
		return ErrDraftsDisabled
	case m.state != StateEditing || m.step < 2:
		return ErrNotConfirming
	case m.busy:
		return ErrBusy
	}
	if m.d.SubmissionID == "" {
		m.notice = noticeMissingID
		return ErrNoSubmissionID
	}

	req := SaveRequest{
		FormID:       m.def.ID,
		SubmissionID: m.d.SubmissionID,
		OwnerKey:     m.d.OwnerKey,
		Sections:     normalize.Apply(m.def, m.d),
	}

	stamp := m.begin()
	err := m.sub.SaveDraft(ctx, req)
	if !m.finish(stamp) {
		return nil
	}

	if err != nil {
		m.applyFailure(err, noticeSaveFailed)
		m.log.Warnw("draft save failed", "form", m.def.ID, "submission", m.d.SubmissionID, "err", err)
		return err
	}
	m.notice = noticeDraftSaved
	return nil
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

// begin stamps a network attempt and raises the busy flag.
func (m *Machine) begin() uint64 {
	m.busy = true
	m.attempt++
	return m.attempt
}

// finish lowers the busy flag and reports whether the response still
// belongs to the active attempt.
func (m *Machine) finish(stamp uint64) bool {
	if stamp != m.attempt {
		return false
	}
	m.busy = false
	return true
}

// applyFailure converts an error into user-visible state.  Structured
// server verdicts merge their field errors; everything else is generic.
func (m *Machine) applyFailure(err error, generic string) {
	var fault ServerFault
	if !errors.As(err, &fault) {
		m.notice = generic
		return
	}
	if fields := fault.FieldErrorMap(); len(fields) > 0 {
		m.errs.Merge(errmap.Map(fields))
		m.notice = noticeServerErrors
		return
	}
	if msg := fault.UserMessage(); msg != "" {
		m.notice = msg
		return
	}
	m.notice = noticeUnknownError
}
