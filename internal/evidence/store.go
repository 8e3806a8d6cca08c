// Package evidence keeps the append-only evidence corpus and signal log in
// SQLite. Every string scalar of a payload is indexed under its canonical
// identifier form so matching never scans the whole corpus.
package evidence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/agenthands/partgraph/internal/apperr"
	"github.com/agenthands/partgraph/internal/core/match"
	"github.com/agenthands/partgraph/internal/core/model"
	"github.com/agenthands/partgraph/internal/core/partid"
)

// Store manages the SQLite connection and schema.
type Store struct {
	db       *sql.DB
	matcher  *match.Matcher
	maxDepth int
	Now      func() time.Time
}

var _ match.Corpus = (*Store)(nil)

// NewStore opens (creating when needed) the database at dbPath in WAL mode.
func NewStore(dbPath string, maxDepth int) (*Store, error) {
	if maxDepth <= 0 {
		maxDepth = model.DefaultMaxDepth
	}
	dsn := dbPath
	if !strings.Contains(dsn, "?") {
		dsn += "?_busy_timeout=5000&_txlock=immediate"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:       db,
		matcher:  match.NewMatcher(maxDepth),
		maxDepth: maxDepth,
		Now:      func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS evidence (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		source_kind TEXT,
		session TEXT,
		file TEXT,
		queried_id TEXT NOT NULL,
		payload JSON NOT NULL,
		ingested_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS evidence_terms (
		term TEXT NOT NULL,
		record_id TEXT NOT NULL REFERENCES evidence(id),
		PRIMARY KEY (term, record_id)
	);

	CREATE TABLE IF NOT EXISTS signals (
		id TEXT PRIMARY KEY,
		identifier TEXT NOT NULL,
		identifier_key TEXT NOT NULL,
		source_document_id TEXT,
		source TEXT,
		source_kind TEXT,
		text TEXT NOT NULL,
		category TEXT NOT NULL,
		label TEXT NOT NULL,
		confidence REAL NOT NULL,
		observed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_signals_identifier ON signals(identifier_key);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create evidence tables: %w", err)
	}
	return nil
}

// Append stores rec and indexes its payload terms. Records are immutable: a
// second append of the same document id is a no-op and reports false.
func (s *Store) Append(ctx context.Context, rec model.RawEvidenceRecord) (bool, error) {
	if strings.TrimSpace(rec.Source) == "" {
		return false, apperr.Validation("evidence record has no source")
	}
	if _, err := partid.Validate(rec.QueriedID); err != nil {
		return false, err
	}
	payload, err := rec.Payload.MarshalJSON()
	if err != nil {
		return false, apperr.Corrupt(err, "evidence payload cannot be encoded")
	}
	ingestedAt := rec.IngestedAt
	if ingestedAt.IsZero() {
		ingestedAt = s.Now()
	}
	id := rec.DocumentID()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, classify(err, "append evidence")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO evidence (id, source, source_kind, session, file, queried_id, payload, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, id, rec.Source, string(rec.SourceKind), rec.Session, rec.File, rec.QueriedID, string(payload), ingestedAt.Format(time.RFC3339Nano))
	if err != nil {
		return false, classify(err, "append evidence")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	for _, term := range s.matcher.Terms(rec.Payload) {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO evidence_terms (term, record_id) VALUES (?, ?)`, term, id); err != nil {
			return false, classify(err, "index evidence")
		}
	}
	if err := tx.Commit(); err != nil {
		return false, classify(err, "append evidence")
	}
	return true, nil
}

// RecordsWithTerm returns the records indexed under the canonical term, in
// ingestion order.
func (s *Store) RecordsWithTerm(ctx context.Context, term string) ([]model.RawEvidenceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.source, e.source_kind, e.session, e.file, e.queried_id, e.payload, e.ingested_at
		FROM evidence_terms t
		JOIN evidence e ON e.id = t.record_id
		WHERE t.term = ?
		ORDER BY e.rowid
	`, term)
	if err != nil {
		return nil, classify(err, "query evidence")
	}
	defer rows.Close()

	var out []model.RawEvidenceRecord
	for rows.Next() {
		var (
			rec        model.RawEvidenceRecord
			kind       string
			payload    string
			ingestedAt string
		)
		if err := rows.Scan(&rec.ID, &rec.Source, &kind, &rec.Session, &rec.File, &rec.QueriedID, &payload, &ingestedAt); err != nil {
			return nil, classify(err, "scan evidence")
		}
		rec.SourceKind = model.SourceKind(kind)
		rec.Payload, err = model.ParsePayload([]byte(payload), s.maxDepth)
		if err != nil {
			return nil, apperr.Corrupt(err, "stored evidence %s is unreadable", rec.ID)
		}
		rec.IngestedAt, _ = time.Parse(time.RFC3339Nano, ingestedAt)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "query evidence")
	}
	return out, nil
}

// AppendSignal stores a classifier signal. Redelivered events (same event
// id) are ignored and report false.
func (s *Store) AppendSignal(ctx context.Context, ev model.SignalEvent) (bool, error) {
	key, err := partid.Validate(ev.Identifier)
	if err != nil {
		return false, err
	}
	observedAt := ev.ObservedAt
	if observedAt.IsZero() {
		observedAt = s.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO signals (id, identifier, identifier_key, source_document_id, source, source_kind, text, category, label, confidence, observed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.EventID(), ev.Identifier, key, ev.SourceDocumentID, ev.Source, string(ev.SourceKind),
		ev.Text, string(ev.Category), ev.Label, ev.Confidence, observedAt.Format(time.RFC3339Nano))
	if err != nil {
		return false, classify(err, "append signal")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return rows > 0, nil
}

// SignalsFor returns every signal recorded for the identifier (compared in
// canonical form), in arrival order.
func (s *Store) SignalsFor(ctx context.Context, identifier string) ([]model.SignalEvent, error) {
	key, err := partid.Validate(identifier)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identifier, source_document_id, source, source_kind, text, category, label, confidence, observed_at
		FROM signals
		WHERE identifier_key = ?
		ORDER BY rowid
	`, key)
	if err != nil {
		return nil, classify(err, "query signals")
	}
	defer rows.Close()

	var out []model.SignalEvent
	for rows.Next() {
		var (
			ev         model.SignalEvent
			kind       string
			category   string
			observedAt string
		)
		if err := rows.Scan(&ev.ID, &ev.Identifier, &ev.SourceDocumentID, &ev.Source, &kind, &ev.Text, &category, &ev.Label, &ev.Confidence, &observedAt); err != nil {
			return nil, classify(err, "scan signals")
		}
		ev.SourceKind = model.SourceKind(kind)
		ev.Category = model.Category(category)
		ev.ObservedAt, _ = time.Parse(time.RFC3339Nano, observedAt)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "query signals")
	}
	return out, nil
}

// Counts reports how many evidence records and signals are stored.
func (s *Store) Counts(ctx context.Context) (records, signals int64, err error) {
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evidence`).Scan(&records); err != nil {
		return 0, 0, classify(err, "count evidence")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM signals`).Scan(&signals); err != nil {
		return 0, 0, classify(err, "count signals")
	}
	return records, signals, nil
}

func classify(err error, op string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.FromContext(err, op)
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return apperr.Transient(err, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}
