// internal/devserver/store.go
//
// MySQL-backed submission store for the reference intake API.
//
// Context
//   The devserver persists one row per submission plus one JSON row per
//   named section.  Sections are stored whole: the engine treats a section
//   tree as the unit of save, so the store never needs to address individual
//   fields.  The default driver is go-sql-driver/mysql, which also covers
//   MariaDB deployments.
//
// Schema
//   submissions(id, form_id, owner_key, status, created_at, updated_at)
//   submission_sections(submission_id, name, body JSON) — PK (submission_id, name)
//
// Notes
//   Open() pings before returning so the server fails fast during bootstrap.
//
//------------------------------------------------------------------------------

package devserver

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/upmin-guidance/intake/internal/draft"
)

// Store errors surfaced to the handler layer.
var (
	ErrNotFound  = errors.New("devserver: submission not found")
	ErrFinalized = errors.New("devserver: submission already finalized")
)

// Store wraps the submissions database.  Safe for concurrent use.
type Store struct {
	db *sqlx.DB
}

// Open connects with pool sizes suited to a single-office deployment:
// 15 max open, 5 idle, 30-minute connection lifetime.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(15)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing pool.  Used by tests with sqlmock.
func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// submissionRow mirrors the submissions table.
type submissionRow struct {
	ID       string `db:"id"`
	FormID   string `db:"form_id"`
	OwnerKey string `db:"owner_key"`
	Status   string `db:"status"`
}

type sectionRow struct {
	Name string `db:"name"`
	Body []byte `db:"body"`
}

//
// Bundle fetch
//

// FetchBundle loads the owner's submission for a form, sections included.
// A missing submission yields Exists == false, never an error.
func (s *Store) FetchBundle(ctx context.Context, formID, ownerKey string) (*draft.Bundle, error) {
	var sub submissionRow
	err := s.db.GetContext(ctx, &sub,
		`SELECT id, form_id, owner_key, status FROM submissions WHERE form_id = ? AND owner_key = ?`,
		formID, ownerKey)
	if errors.Is(err, sql.ErrNoRows) {
		return &draft.Bundle{Exists: false, Sections: map[string]any{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch submission: %w", err)
	}

	sections, err := s.loadSections(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	return &draft.Bundle{
		Exists:     true,
		Submission: &draft.Submission{ID: sub.ID, Status: draft.Status(sub.Status)},
		Sections:   sections,
	}, nil
}

// Submission loads one row by id.
func (s *Store) Submission(ctx context.Context, id string) (formID, ownerKey string, status draft.Status, err error) {
	var sub submissionRow
	err = s.db.GetContext(ctx, &sub,
		`SELECT id, form_id, owner_key, status FROM submissions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", "", ErrNotFound
	}
	if err != nil {
		return "", "", "", fmt.Errorf("fetch submission: %w", err)
	}
	return sub.FormID, sub.OwnerKey, draft.Status(sub.Status), nil
}

func (s *Store) loadSections(ctx context.Context, submissionID string) (map[string]any, error) {
	var rows []sectionRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT name, body FROM submission_sections WHERE submission_id = ?`, submissionID); err != nil {
		return nil, fmt.Errorf("fetch sections: %w", err)
	}

	sections := make(map[string]any, len(rows))
	for _, r := range rows {
		var tree any
		if err := json.Unmarshal(r.Body, &tree); err != nil {
			return nil, fmt.Errorf("section %s: %w", r.Name, err)
		}
		sections[r.Name] = tree
	}
	return sections, nil
}

//
// Draft creation and saves
//

// CreateDraft inserts a fresh draft submission and returns its id.
func (s *Store) CreateDraft(ctx context.Context, formID, ownerKey string) (string, error) {
	id := newSubmissionID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, form_id, owner_key, status) VALUES (?, ?, ?, 'draft')`,
		id, formID, ownerKey)
	if err != nil {
		return "", fmt.Errorf("create draft: %w", err)
	}
	return id, nil
}

// SaveSections upserts the given section trees under one transaction.  A
// finalized submission rejects further saves.
func (s *Store) SaveSections(ctx context.Context, submissionID string, sections map[string]any) error {
	_, _, status, err := s.Submission(ctx, submissionID)
	if err != nil {
		return err
	}
	if status == draft.StatusSubmitted {
		return ErrFinalized
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save sections: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for name, tree := range sections {
		body, err := json.Marshal(tree)
		if err != nil {
			return fmt.Errorf("section %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO submission_sections (submission_id, name, body) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE body = VALUES(body)`,
			submissionID, name, body); err != nil {
			return fmt.Errorf("upsert section %s: %w", name, err)
		}
	}
	return tx.Commit()
}

//
// Finalize
//

// Finalize flips a draft to submitted.  Flipping twice is an error: the
// read-only freeze on the client depends on the server refusing reopens.
func (s *Store) Finalize(ctx context.Context, submissionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status = 'submitted' WHERE id = ? AND status = 'draft'`,
		submissionID)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	if n == 0 {
		if _, _, _, err := s.Submission(ctx, submissionID); err != nil {
			return err
		}
		return ErrFinalized
	}
	return nil
}

// OwnerKnown reports whether any submission exists for the owner key.
func (s *Store) OwnerKnown(ctx context.Context, ownerKey string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM submissions WHERE owner_key = ?`, ownerKey); err != nil {
		return false, fmt.Errorf("owner lookup: %w", err)
	}
	return n > 0, nil
}

func newSubmissionID() string {
	var b [8]byte
	rand.Read(b[:]) //nolint:errcheck
	return "sub-" + hex.EncodeToString(b[:])
}
