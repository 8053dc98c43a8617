package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

const schema = `
CREATE TABLE IF NOT EXISTS prospects (
	prospect_id       TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	client_id         TEXT NOT NULL DEFAULT '',
	validation_errors TEXT NOT NULL DEFAULT '[]',
	updated_at        TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS source_documents (
	collection  TEXT NOT NULL,
	prospect_id TEXT NOT NULL,
	body        TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (collection, prospect_id)
);`

// SQLiteStore keeps each source document as a JSON body keyed by
// (collection, prospect_id) next to a small prospects table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer connection keeps conditional updates serialized.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetDocument(ctx context.Context, kind models.DocumentKind, prospectID string) (json.RawMessage, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM source_documents WHERE collection = ? AND prospect_id = ?`,
		string(kind), prospectID).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s document: %w", kind, err)
	}
	return json.RawMessage(body), nil
}

func (s *SQLiteStore) PutDocument(ctx context.Context, kind models.DocumentKind, prospectID string, body json.RawMessage) error {
	if !json.Valid(body) {
		return fmt.Errorf("put %s document: body is not valid json", kind)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_documents (collection, prospect_id, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, prospect_id)
		DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		string(kind), prospectID, string(body), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("put %s document: %w", kind, err)
	}
	return nil
}

func (s *SQLiteStore) GetProspect(ctx context.Context, prospectID string) (models.Prospect, error) {
	var (
		p         models.Prospect
		status    string
		errsJSON  string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT prospect_id, status, client_id, validation_errors, updated_at
		FROM prospects WHERE prospect_id = ?`, prospectID).
		Scan(&p.ProspectID, &status, &p.ClientID, &errsJSON, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Prospect{}, ErrNotFound
		}
		return models.Prospect{}, fmt.Errorf("get prospect: %w", err)
	}
	p.Status = models.ProspectStatus(status)
	if errsJSON != "" && errsJSON != "[]" {
		if err := json.Unmarshal([]byte(errsJSON), &p.ValidationErrors); err != nil {
			return models.Prospect{}, fmt.Errorf("decode validation errors: %w", err)
		}
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return p, nil
}

func (s *SQLiteStore) PutProspect(ctx context.Context, p models.Prospect) error {
	errsJSON, err := marshalErrors(p.ValidationErrors)
	if err != nil {
		return err
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO prospects (prospect_id, status, client_id, validation_errors, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (prospect_id)
		DO UPDATE SET status = excluded.status,
			client_id = excluded.client_id,
			validation_errors = excluded.validation_errors,
			updated_at = excluded.updated_at`,
		p.ProspectID, string(p.Status), p.ClientID, errsJSON, formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put prospect: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ClaimForPromotion(ctx context.Context, prospectID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE prospects
		SET status = ?, updated_at = ?
		WHERE prospect_id = ? AND status = ? AND client_id = ''`,
		string(models.ProspectStatusPromoting), formatTime(time.Now()),
		prospectID, string(models.ProspectStatusClient))
	if err != nil {
		return false, fmt.Errorf("claim prospect: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim prospect: %w", err)
	}
	if affected == 1 {
		return true, nil
	}
	if _, err := s.GetProspect(ctx, prospectID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLiteStore) UpdateProspect(ctx context.Context, in ProspectUpdate) (models.Prospect, error) {
	errsJSON, err := marshalErrors(in.ValidationErrors)
	if err != nil {
		return models.Prospect{}, err
	}
	query := `UPDATE prospects SET status = ?, validation_errors = ?, updated_at = ?`
	args := []any{string(in.Status), errsJSON, formatTime(time.Now())}
	if in.ClientID != nil {
		query += `, client_id = ?`
		args = append(args, *in.ClientID)
	}
	query += ` WHERE prospect_id = ?`
	args = append(args, in.ProspectID)
	if in.ExpectedStatus != "" {
		query += ` AND status = ?`
		args = append(args, string(in.ExpectedStatus))
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return models.Prospect{}, fmt.Errorf("update prospect: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		if _, err := s.GetProspect(ctx, in.ProspectID); err != nil {
			return models.Prospect{}, err
		}
		return models.Prospect{}, ErrConflict
	}
	return s.GetProspect(ctx, in.ProspectID)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("sqlite ping: %w", err)
	}
	return nil
}

func marshalErrors(errs []string) (string, error) {
	if len(errs) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("encode validation errors: %w", err)
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
