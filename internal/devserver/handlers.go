// internal/devserver/handlers.go
//
// HTTP surface of the reference intake API.
//
// Context
//   The devserver is a self-contained stand-in for the guidance-office form
//   service, close enough for the wizard client to run against unmodified.
//   It speaks the same envelope conventions the client expects: bundles on
//   GET, {"submission_id"} on create, {"errors": {path: message}} on a 400
//   validation verdict, and {"detail": ...} everywhere else.
//
// Routes
//   GET    /api/forms/{form}/                    bundle fetch (?owner_label=key)
//   POST   /api/forms/{form}/                    create draft
//   PATCH  /api/forms/{form}/                    save stamped sections
//   GET    /api/forms/{form}/status-choices/     select-option catalog
//   POST   /api/forms/finalize/{submission}/     re-validate and finalize
//   POST   /api/forms/check-student-number/      owner-key probe
//
// Notes
//   Finalize re-runs the full declarative rule pass server-side.  The client
//   validates step by step as the student types, but the server is the
//   arbiter of record.
//
//------------------------------------------------------------------------------

package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/upmin-guidance/intake/internal/draft"
	"github.com/upmin-guidance/intake/internal/formdef"
	"github.com/upmin-guidance/intake/internal/rules"
)

// Storage is the persistence seam between the handlers and MySQL.  *Store
// implements it; tests supply an in-memory fake.
type Storage interface {
	FetchBundle(ctx context.Context, formID, ownerKey string) (*draft.Bundle, error)
	CreateDraft(ctx context.Context, formID, ownerKey string) (string, error)
	SaveSections(ctx context.Context, submissionID string, sections map[string]any) error
	Submission(ctx context.Context, id string) (formID, ownerKey string, status draft.Status, err error)
	Finalize(ctx context.Context, submissionID string) error
	OwnerKnown(ctx context.Context, ownerKey string) (bool, error)
}

// Choices maps a select-field path to its option values, per form.
type Choices map[string]map[string][]string

// Handler serves the intake API routes.
type Handler struct {
	store   Storage
	token   string // expected bearer token; empty disables auth
	choices Choices
	log     *zap.SugaredLogger
}

// NewHandler builds the API handler.  choices may be nil when no form has
// server-sourced options.
func NewHandler(store Storage, token string, choices Choices) *Handler {
	return &Handler{store: store, token: token, choices: choices, log: zap.S()}
}

// Router assembles the chi route tree with instrumentation and auth.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Use(h.requireToken)

	r.Route("/api/forms", func(r chi.Router) {
		r.Post("/check-student-number/", h.checkOwnerKey)
		r.Post("/finalize/{submission}/", h.finalize)
		r.Get("/{form}/", h.fetchBundle)
		r.Post("/{form}/", h.createDraft)
		r.Patch("/{form}/", h.saveDraft)
		r.Get("/{form}/status-choices/", h.statusChoices)
	})
	return r
}

//
// Auth
//

func (h *Handler) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token != "" {
			got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if got != h.token {
				writeDetail(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

//
// Bundle fetch and draft creation
//

func (h *Handler) fetchBundle(w http.ResponseWriter, r *http.Request) {
	def, ok := formdef.Get(chi.URLParam(r, "form"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "unknown form")
		return
	}
	ownerKey := r.URL.Query().Get(def.OwnerLabel)
	if ownerKey == "" {
		writeDetail(w, http.StatusBadRequest, def.OwnerLabel+" query parameter is required")
		return
	}

	b, err := h.store.FetchBundle(r.Context(), def.ID, ownerKey)
	if err != nil {
		h.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	def, ok := formdef.Get(chi.URLParam(r, "form"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "unknown form")
		return
	}
	if mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err == nil && strings.HasPrefix(mediaType, "multipart/") {
		h.multipartCreate(w, r, def)
		return
	}
	var body map[string]string
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	ownerKey := body[def.OwnerLabel]
	if ownerKey == "" {
		writeDetail(w, http.StatusBadRequest, def.OwnerLabel+" is required")
		return
	}

	// Create is idempotent per owner: a second POST returns the draft the
	// first one opened.
	b, err := h.store.FetchBundle(r.Context(), def.ID, ownerKey)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if b.Exists && b.Submission != nil {
		writeJSON(w, http.StatusOK, map[string]string{"submission_id": b.Submission.ID})
		return
	}

	id, err := h.store.CreateDraft(r.Context(), def.ID, ownerKey)
	if err != nil {
		h.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"submission_id": id})
}

// multipartCreate is the one-shot creation used by forms without drafts:
// the request carries the owner key and every section value as form fields
// (records and lists JSON-stringified) plus the photo file part, and the
// submission comes out already finalized.
func (h *Handler) multipartCreate(w http.ResponseWriter, r *http.Request, def *formdef.Def) {
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed multipart body")
		return
	}
	ownerKey := r.FormValue(def.OwnerLabel)
	if ownerKey == "" {
		writeDetail(w, http.StatusBadRequest, def.OwnerLabel+" is required")
		return
	}

	existing, err := h.store.FetchBundle(r.Context(), def.ID, ownerKey)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if existing.Exists {
		writeDetail(w, http.StatusConflict, "submission already exists")
		return
	}

	sections := make(map[string]any, len(r.MultipartForm.Value))
	for name, vals := range r.MultipartForm.Value {
		if name == def.OwnerLabel || len(vals) == 0 {
			continue
		}
		sections[name] = decodeFormValue(vals[0])
	}

	d := draft.New(ownerKey, def.Seed())
	d.Hydrate(&draft.Bundle{Exists: true, Sections: sections})

	em := rules.ValidateAll(def, d)
	if def.Consent != nil && d.StringValue(def.Consent.Path) != "true" {
		em.Set(def.Consent.Path, def.Consent.Message)
	}
	if def.Attachment != nil && def.Attachment.Required && !h.hasAttachment(r, def.Attachment.Field) {
		em.Set(def.Attachment.Field, def.Attachment.Message)
	}
	if !em.Empty() {
		validationRejectsTotal.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": em})
		return
	}

	id, err := h.store.CreateDraft(r.Context(), def.ID, ownerKey)
	if err != nil {
		h.serverError(w, err)
		return
	}
	if err := h.store.SaveSections(r.Context(), id, sections); err != nil {
		h.storeError(w, err)
		return
	}
	if err := h.store.Finalize(r.Context(), id); err != nil {
		h.storeError(w, err)
		return
	}
	finalizeTotal.Inc()
	h.log.Infow("submission created and finalized", "form", def.ID, "submission", id)
	writeJSON(w, http.StatusCreated, map[string]string{"submission_id": id})
}

// decodeFormValue rebuilds a section tree from its wire field: JSON text
// for records and lists, plain strings otherwise.
func decodeFormValue(raw string) any {
	t := strings.TrimSpace(raw)
	if strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
		var tree any
		if err := json.Unmarshal([]byte(t), &tree); err == nil {
			return tree
		}
	}
	return raw
}

//
// Draft saves
//

func (h *Handler) saveDraft(w http.ResponseWriter, r *http.Request) {
	if _, ok := formdef.Get(chi.URLParam(r, "form")); !ok {
		writeDetail(w, http.StatusNotFound, "unknown form")
		return
	}
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDetail(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	submissionID := stampedSubmissionID(payload)
	if submissionID == "" {
		writeDetail(w, http.StatusBadRequest, "payload carries no submission stamp")
		return
	}

	if err := h.store.SaveSections(r.Context(), submissionID, unstampSections(payload)); err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"detail": "saved"})
}

// stampedSubmissionID recovers the owning submission from the wire payload:
// every record and list row carries a "submission" key.
func stampedSubmissionID(sections map[string]any) string {
	for _, tree := range sections {
		switch t := tree.(type) {
		case map[string]any:
			if id, ok := t["submission"].(string); ok && id != "" {
				return id
			}
		case []any:
			for _, e := range t {
				if rec, ok := e.(map[string]any); ok {
					if id, ok := rec["submission"].(string); ok && id != "" {
						return id
					}
				}
			}
		}
	}
	return ""
}

// unstampSections strips the wire-level "submission" keys before storage so
// fetched bundles round-trip the trees the client saved.
func unstampSections(sections map[string]any) map[string]any {
	out := make(map[string]any, len(sections))
	for name, tree := range sections {
		switch t := tree.(type) {
		case map[string]any:
			rec := draft.CloneTree(t)
			delete(rec, "submission")
			out[name] = rec
		case []any:
			rows := make([]any, 0, len(t))
			for _, e := range t {
				if rec, ok := e.(map[string]any); ok {
					cp := draft.CloneTree(rec)
					delete(cp, "submission")
					rows = append(rows, cp)
					continue
				}
				rows = append(rows, e)
			}
			out[name] = rows
		default:
			out[name] = t
		}
	}
	return out
}

//
// Finalize
//

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submission")

	formID, ownerKey, status, err := h.store.Submission(r.Context(), submissionID)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if status == draft.StatusSubmitted {
		writeDetail(w, http.StatusConflict, "submission already finalized")
		return
	}
	def, ok := formdef.Get(formID)
	if !ok {
		writeDetail(w, http.StatusNotFound, "unknown form")
		return
	}

	bundle, err := h.store.FetchBundle(r.Context(), formID, ownerKey)
	if err != nil {
		h.serverError(w, err)
		return
	}
	d := draft.New(ownerKey, def.Seed())
	d.Hydrate(bundle)

	em := rules.ValidateAll(def, d)
	if def.Consent != nil && d.StringValue(def.Consent.Path) != "true" {
		em.Set(def.Consent.Path, def.Consent.Message)
	}
	if def.Attachment != nil && def.Attachment.Required && !h.hasAttachment(r, def.Attachment.Field) {
		em.Set(def.Attachment.Field, def.Attachment.Message)
	}
	if !em.Empty() {
		validationRejectsTotal.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"errors": em})
		return
	}

	if err := h.store.Finalize(r.Context(), submissionID); err != nil {
		h.storeError(w, err)
		return
	}
	finalizeTotal.Inc()
	h.log.Infow("submission finalized", "form", formID, "submission", submissionID)
	writeJSON(w, http.StatusOK, map[string]string{"detail": "submitted"})
}

// hasAttachment reports whether the finalize request carries the named
// multipart file part.
func (h *Handler) hasAttachment(r *http.Request, field string) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return false
	}
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		return false
	}
	f, _, err := r.FormFile(field)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

//
// Catalog and owner probe
//

func (h *Handler) statusChoices(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "form")
	catalog, ok := h.choices[formID]
	if !ok || len(catalog) == 0 {
		writeDetail(w, http.StatusNotFound, "form has no server-sourced options")
		return
	}
	writeJSON(w, http.StatusOK, catalog)
}

func (h *Handler) checkOwnerKey(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StudentNumber string `json:"student_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.StudentNumber == "" {
		writeDetail(w, http.StatusBadRequest, "student_number is required")
		return
	}
	known, err := h.store.OwnerKnown(r.Context(), body.StudentNumber)
	if err != nil {
		h.serverError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": known})
}

//
// Error and response helpers
//

func (h *Handler) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeDetail(w, http.StatusNotFound, "submission not found")
	case errors.Is(err, ErrFinalized):
		writeDetail(w, http.StatusConflict, "submission already finalized")
	default:
		h.serverError(w, err)
	}
}

func (h *Handler) serverError(w http.ResponseWriter, err error) {
	h.log.Errorw("request failed", "err", err)
	writeDetail(w, http.StatusInternalServerError, "internal error")
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
