// internal/api/client.go
//
// Intake – HTTP collaborator for the form service.
//
// Context
//   The wizard machine hands normalized payloads to a Submitter; this client
//   is the production implementation.  One Client serves every wizard: the
//   form slug in the URL selects the resource.
//
// Endpoints
//   GET    /api/forms/{form}/?{owner_label}={key}   – fetch bundle
//   POST   /api/forms/{form}/                       – create draft
//   PATCH  /api/forms/{form}/                       – save draft sections
//   POST   /api/forms/finalize/{submission}/        – finalize (JSON or
//                                                     multipart with photo)
//   GET    /api/forms/{form}/status-choices/        – select-option catalog
//
// Auth
//   Every call carries a bearer token.  A 401 answer triggers exactly one
//   token refresh and replay; a second 401 is surfaced as-is.
//
//------------------------------------------------------------------------------

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/upmin-guidance/intake/internal/draft"
	"github.com/upmin-guidance/intake/internal/formdef"
	"github.com/upmin-guidance/intake/internal/wizard"
)

// TokenSource supplies bearer tokens.  Refresh is invoked after a 401 and
// should return a token good for an immediate replay.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that never refreshes.  Useful for tests and
// service-to-service calls with long-lived credentials.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error)   { return string(s), nil }
func (s StaticToken) Refresh(context.Context) (string, error) { return string(s), nil }

// Client talks to the intake form service.  Safe for concurrent use.
type Client struct {
	base   string
	hc     *http.Client
	tokens TokenSource
	log    *zap.SugaredLogger
}

// Option tunes client construction.
type Option func(*Client)

// WithHTTPClient replaces the default transport.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

// WithLogger replaces the global sugared logger.
func WithLogger(l *zap.SugaredLogger) Option { return func(c *Client) { c.log = l } }

// New builds a client for the service at base (scheme and host, no trailing
// slash required).
func New(base string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(base, "/"),
		hc:     &http.Client{Timeout: 30 * time.Second},
		tokens: tokens,
		log:    zap.S(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a structured server verdict.  For HTTP 400 validation answers
// Fields carries messages keyed by the same dotted paths the client uses, so
// the wizard can merge them straight into its error map.
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: %d %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: status %d", e.Status)
}

func (e *APIError) UserMessage() string              { return e.Message }
func (e *APIError) FieldErrorMap() map[string]string { return e.Fields }

// compile-time check: the wizard must be able to unwrap our verdicts.
var _ wizard.ServerFault = (*APIError)(nil)

// -----------------------------------------------------------------------------
// Bundle fetch and draft creation
// -----------------------------------------------------------------------------

// Bootstrap fetches the owner's bundle and the form's select-option catalog
// in parallel, then creates a server-side draft when none exists yet.  The
// returned bundle always carries a submission on draft-capable forms.
func (c *Client) Bootstrap(ctx context.Context, def *formdef.Def, ownerKey string) (*draft.Bundle, Choices, error) {
	var (
		bundle  *draft.Bundle
		choices Choices
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b, err := c.FetchBundle(gctx, def, ownerKey)
		bundle = b
		return err
	})
	g.Go(func() error {
		ch, err := c.FetchChoices(gctx, def.ID)
		choices = ch
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	if def.Drafts && !bundle.Exists {
		id, err := c.CreateDraft(ctx, def, ownerKey)
		if err != nil {
			return nil, nil, err
		}
		bundle.Submission = &draft.Submission{ID: id, Status: draft.StatusDraft}
	}
	return bundle, choices, nil
}

// FetchBundle retrieves the owner's saved sections, if any.
func (c *Client) FetchBundle(ctx context.Context, def *formdef.Def, ownerKey string) (*draft.Bundle, error) {
	q := url.Values{def.OwnerLabel: {ownerKey}}
	var b draft.Bundle
	if err := c.doJSON(ctx, http.MethodGet, c.formURL(def.ID)+"?"+q.Encode(), nil, &b); err != nil {
		return nil, err
	}
	if b.Sections == nil {
		b.Sections = map[string]any{}
	}
	return &b, nil
}

// CreateDraft opens a fresh server-side draft and returns its submission id.
func (c *Client) CreateDraft(ctx context.Context, def *formdef.Def, ownerKey string) (string, error) {
	body := map[string]string{def.OwnerLabel: ownerKey}
	var out struct {
		SubmissionID string `json:"submission_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.formURL(def.ID), body, &out); err != nil {
		return "", err
	}
	if out.SubmissionID == "" {
		return "", &APIError{Status: http.StatusOK, Message: "server returned no submission id"}
	}
	return out.SubmissionID, nil
}

// Choices maps a select-field path to its server-sourced option values.
type Choices map[string][]string

// FetchChoices pulls the option catalog for one form.  A 404 means the form
// has no server-sourced options and yields an empty catalog, not an error.
func (c *Client) FetchChoices(ctx context.Context, formID string) (Choices, error) {
	var out Choices
	err := c.doJSON(ctx, http.MethodGet, c.formURL(formID)+"status-choices/", nil, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return Choices{}, nil
		}
		return nil, err
	}
	if out == nil {
		out = Choices{}
	}
	return out, nil
}

// CheckOwnerKey asks the server whether an owner key (a student number) is
// known.  Used by the profile-setup wizard before opening a session.
func (c *Client) CheckOwnerKey(ctx context.Context, ownerKey string) (bool, error) {
	body := map[string]string{"student_number": ownerKey}
	var out struct {
		Exists bool `json:"exists"`
	}
	if err := c.doJSON(ctx, http.MethodPost, c.base+"/api/forms/check-student-number/", body, &out); err != nil {
		return false, err
	}
	return out.Exists, nil
}

// -----------------------------------------------------------------------------
// Submitter implementation
// -----------------------------------------------------------------------------

// SaveDraft persists the section tree without changing submission status.
func (c *Client) SaveDraft(ctx context.Context, req wizard.SaveRequest) error {
	payload := stampSections(req.Sections, req.SubmissionID)
	return c.doJSON(ctx, http.MethodPatch, c.formURL(req.FormID), payload, nil)
}

// Finalize persists a submission for good.  Draft-backed forms save the
// sections one last time and then flip the existing submission; forms
// without server-side drafts carry no submission id and are created whole
// in a single multipart POST instead.
func (c *Client) Finalize(ctx context.Context, req wizard.FinalizeRequest) error {
	if req.SubmissionID == "" {
		return c.multipartCreate(ctx, req)
	}

	if err := c.SaveDraft(ctx, wizard.SaveRequest{
		FormID:       req.FormID,
		SubmissionID: req.SubmissionID,
		OwnerKey:     req.OwnerKey,
		Sections:     req.Sections,
	}); err != nil {
		return err
	}

	target := c.base + "/api/forms/finalize/" + url.PathEscape(req.SubmissionID) + "/"
	if req.Attachment == nil {
		return c.doJSON(ctx, http.MethodPost, target, map[string]any{}, nil)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("photo", req.Attachment.Name)
	if err != nil {
		return err
	}
	if _, err := part.Write(req.Attachment.Data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, target, &buf, mw.FormDataContentType(), nil)
}

// multipartCreate performs the one-shot creation used by forms without
/// drafts: one multipart POST to the form resource carrying the owner key,
// every section value as a form field (records and lists JSON-stringified,
// scalars as plain text), and the photo file part when present.
func (c *Client) multipartCreate(ctx context.Context, req wizard.FinalizeRequest) error {
	def, ok := formdef.Get(req.FormID)
	if !ok {
		return fmt.Errorf("api: unknown form %q", req.FormID)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField(def.OwnerLabel, req.OwnerKey); err != nil {
		return err
	}
	for name, tree := range req.Sections {
		switch tree.(type) {
		case map[string]any, []any:
			j, err := json.Marshal(tree)
			if err != nil {
				return err
			}
			if err := mw.WriteField(name, string(j)); err != nil {
				return err
			}
		default:
			if err := mw.WriteField(name, draft.Stringify(tree)); err != nil {
				return err
			}
		}
	}
	if req.Attachment != nil {
		part, err := mw.CreateFormFile("photo", req.Attachment.Name)
		if err != nil {
			return err
		}
		if _, err := part.Write(req.Attachment.Data); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, c.formURL(req.FormID), &buf, mw.FormDataContentType(), nil)
}

/// stampSections mirrors the wire convention: every record carries the owning
// submission id so the server can upsert rows independently.
func stampSections(sections map[string]any, submissionID string) map[string]any {
	out := make(map[string]any, len(sections))
	for name, tree := range sections {
		switch t := tree.(type) {
		case map[string]any:
			rec := draft.CloneTree(t)
			rec["submission"] = submissionID
			out[name] = rec
		case []any:
			rows := make([]any, 0, len(t))
			for _, e := range t {
				if rec, ok := e.(map[string]any); ok {
					cp := draft.CloneTree(rec)
					cp["submission"] = submissionID
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

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

func (c *Client) formURL(formID string) string {
	return c.base + "/api/forms/" + url.PathEscape(formID) + "/"
}

// doJSON marshals body (when non-nil), performs the call, and unmarshals a
// 2xx answer into out (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, target string, body, out any) error {
	var rd io.Reader
	if body != nil {
		j, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(j)
	}
	return c.do(ctx, method, target, rd, "application/json", out)
}

// do performs one authenticated call with a single 401 refresh-and-replay.
// The body reader must be rewindable only when rd is a *bytes.Buffer or
// *bytes.Reader; both replay legs re-snapshot from the original bytes.
func (c *Client) do(ctx context.Context, method, target string, rd io.Reader, contentType string, out any) error {
	var payload []byte
	if rd != nil {
		var err error
		payload, err = io.ReadAll(rd)
		if err != nil {
			return err
		}
	}

	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("api: token: %w", err)
	}

	resp, err := c.send(ctx, method, target, payload, contentType, tok)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		tok, err = c.tokens.Refresh(ctx)
		if err != nil {
			return fmt.Errorf("api: token refresh: %w", err)
		}
		c.log.Debugw("replaying after token refresh", "method", method, "url", target)
		resp, err = c.send(ctx, method, target, payload, contentType, tok)
		if err != nil {
			return err
		}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeFault(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) send(ctx context.Context, method, target string, payload []byte, contentType, token string) (*http.Response, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.hc.Do(req)
}

// decodeFault turns a non-2xx answer into an APIError.  A 400 body of the
// shape {"errors": {path: message}} becomes field errors; otherwise the
// first of "detail" or "message" is used as the user-facing text.
func decodeFault(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var body struct {
		Errors  map[string]string `json:"errors"`
		Detail  string            `json:"detail"`
		Message string            `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		if resp.StatusCode == http.StatusBadRequest && len(body.Errors) > 0 {
			apiErr.Fields = body.Errors
		}
		switch {
		case body.Detail != "":
			apiErr.Message = body.Detail
		case body.Message != "":
			apiErr.Message = body.Message
		}
	}
	return apiErr
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()
}
