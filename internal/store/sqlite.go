package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/jusbridge/casesync/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS processes (
	id         TEXT PRIMARY KEY,
	cnj        TEXT NOT NULL UNIQUE,
	court_code TEXT NOT NULL DEFAULT '',
	instance   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS cases (
	id          TEXT PRIMARY KEY,
	process_id  TEXT REFERENCES processes(id),
	cnj         TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	case_type   TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	enriched_at DATETIME,
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS case_documents (
	id            TEXT PRIMARY KEY,
	case_id       TEXT NOT NULL REFERENCES cases(id),
	name          TEXT NOT NULL,
	document_date DATETIME,
	uploaded_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment_requests (
	id            TEXT PRIMARY KEY,
	external_id   TEXT NOT NULL UNIQUE,
	process_id    TEXT NOT NULL,
	case_id       TEXT NOT NULL DEFAULT '',
	purpose       TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	error_code    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_requests (
	case_id      TEXT NOT NULL,
	external_id  TEXT NOT NULL,
	interim      INTEGER NOT NULL DEFAULT 0,
	processed_at DATETIME NOT NULL,
	PRIMARY KEY (case_id, external_id)
);

CREATE TABLE IF NOT EXISTS case_errors (
	id         TEXT PRIMARY KEY,
	case_id    TEXT NOT NULL,
	stage      TEXT NOT NULL,
	code       TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS case_retry_state (
	case_id    TEXT PRIMARY KEY,
	attempts   INTEGER NOT NULL DEFAULT 0,
	allowed    INTEGER NOT NULL DEFAULT 1,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS timeline_entries (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	case_id          TEXT NOT NULL,
	event_date       DATETIME NOT NULL,
	event_day        TEXT NOT NULL,
	event_type       TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL,
	confidence       REAL NOT NULL DEFAULT 0,
	enriched_at      DATETIME,
	enrichment_model TEXT NOT NULL DEFAULT '',
	contributing     TEXT,
	snippets         TEXT,
	conflict         INTEGER NOT NULL DEFAULT 0,
	base_entry_id    TEXT NOT NULL DEFAULT '',
	relation         TEXT NOT NULL DEFAULT '',
	document_ids     TEXT,
	created_at       DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS attachments (
	id         TEXT PRIMARY KEY,
	case_id    TEXT NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	code       TEXT NOT NULL,
	instance   TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	path       TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'waiting',
	attempts   INTEGER NOT NULL DEFAULT 0,
	run_at     DATETIME NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cases_cnj ON cases(cnj);
CREATE INDEX IF NOT EXISTS idx_cases_status ON cases(status);
CREATE INDEX IF NOT EXISTS idx_documents_case ON case_documents(case_id);
CREATE INDEX IF NOT EXISTS idx_requests_case ON enrichment_requests(case_id);
CREATE INDEX IF NOT EXISTS idx_case_errors_case ON case_errors(case_id);
CREATE UNIQUE INDEX IF NOT EXISTS ux_timeline_day_type_source
	ON timeline_entries(case_id, event_day, event_type, source);
CREATE INDEX IF NOT EXISTS idx_timeline_case ON timeline_entries(case_id);
CREATE INDEX IF NOT EXISTS idx_attachments_case ON attachments(case_id);
CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs(status, run_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// -- processes --

func (s *SQLiteStore) FindOrCreateProcess(ctx context.Context, cnj, courtCode, instance string) (*model.Process, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processes (id, cnj, court_code, instance, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), cnj, courtCode, instance, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert process")
	}

	var p model.Process
	err = s.db.QueryRowContext(ctx,
		`SELECT id, cnj, court_code, instance, created_at FROM processes WHERE cnj = ?`, cnj,
	).Scan(&p.ID, &p.CNJ, &p.CourtCode, &p.Instance, &p.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get process")
	}
	return &p, nil
}

// -- cases --

func (s *SQLiteStore) CreateCase(ctx context.Context, c model.Case) (*model.Case, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.CaseStatusPending
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cases (id, process_id, cnj, title, case_type, status, enriched_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, nullStr(c.ProcessID), c.CNJ, c.Title, c.Type, string(c.Status), c.EnrichedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert case")
	}
	return &c, nil
}

func (s *SQLiteStore) GetCase(ctx context.Context, caseID string) (*model.Case, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, process_id, cnj, title, case_type, status, enriched_at, created_at, updated_at
		 FROM cases WHERE id = ?`, caseID,
	)
	return scanCase(row, caseID)
}

func (s *SQLiteStore) FindCasesByCNJ(ctx context.Context, cnj string) ([]model.Case, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, process_id, cnj, title, case_type, status, enriched_at, created_at, updated_at
		 FROM cases WHERE cnj = ? ORDER BY created_at`, cnj,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find cases by cnj")
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		c, err := scanCase(rows, "")
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, eris.Wrap(rows.Err(), "sqlite: find cases iterate")
}

func (s *SQLiteStore) LinkCaseProcess(ctx context.Context, caseID, processID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET process_id = ?, updated_at = ? WHERE id = ?`,
		processID, time.Now().UTC(), caseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: link case %s", caseID)
	}
	return checkRowsAffected(res, "case", caseID)
}

func (s *SQLiteStore) UpdateCaseStatus(ctx context.Context, caseID string, status model.CaseStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), caseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update case status %s", caseID)
	}
	return checkRowsAffected(res, "case", caseID)
}

func (s *SQLiteStore) ActivateCase(ctx context.Context, caseID, caseType string, enrichedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = ?, case_type = CASE WHEN ? = '' THEN case_type ELSE ? END,
		 enriched_at = ?, updated_at = ? WHERE id = ?`,
		string(model.CaseStatusActive), caseType, caseType, enrichedAt, time.Now().UTC(), caseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: activate case %s", caseID)
	}
	return checkRowsAffected(res, "case", caseID)
}

// -- documents --

func (s *SQLiteStore) AddDocument(ctx context.Context, doc model.CaseDocument) (*model.CaseDocument, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO case_documents (id, case_id, name, document_date, uploaded_at) VALUES (?, ?, ?, ?, ?)`,
		doc.ID, doc.CaseID, doc.Name, doc.DocumentDate, doc.UploadedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert document")
	}
	return &doc, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, caseID string) ([]model.CaseDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, name, document_date, uploaded_at FROM case_documents
		 WHERE case_id = ? ORDER BY uploaded_at`, caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list documents")
	}
	defer rows.Close()

	var docs []model.CaseDocument
	for rows.Next() {
		var d model.CaseDocument
		if err := rows.Scan(&d.ID, &d.CaseID, &d.Name, &d.DocumentDate, &d.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "sqlite: list documents iterate")
}

// -- enrichment requests --

func (s *SQLiteStore) CreateRequest(ctx context.Context, req model.EnrichmentRequest) (*model.EnrichmentRequest, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = model.RequestStatusPending
	}
	now := time.Now().UTC()
	req.CreatedAt, req.UpdatedAt = now, now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO enrichment_requests (id, external_id, process_id, case_id, purpose, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, req.ExternalID, req.ProcessID, req.CaseID, string(req.Purpose), string(req.Status), req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert request")
	}
	return &req, nil
}

func (s *SQLiteStore) GetRequestByExternalID(ctx context.Context, externalID string) (*model.EnrichmentRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, external_id, process_id, case_id, purpose, status, error_code, error_message, created_at, updated_at
		 FROM enrichment_requests WHERE external_id = ?`, externalID,
	)
	return scanRequest(row, externalID)
}

func (s *SQLiteStore) ListRequests(ctx context.Context, filter RequestFilter) ([]model.EnrichmentRequest, error) {
	query := `SELECT id, external_id, process_id, case_id, purpose, status, error_code, error_message, created_at, updated_at
		 FROM enrichment_requests WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Purpose != "" {
		query += ` AND purpose = ?`
		args = append(args, string(filter.Purpose))
	}
	if filter.CaseID != "" {
		query += ` AND case_id = ?`
		args = append(args, filter.CaseID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list requests")
	}
	defer rows.Close()

	var reqs []model.EnrichmentRequest
	for rows.Next() {
		r, err := scanRequest(rows, "")
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *r)
	}
	return reqs, eris.Wrap(rows.Err(), "sqlite: list requests iterate")
}

func (s *SQLiteStore) UpdateRequestStatus(ctx context.Context, externalID string, status model.RequestStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_requests SET status = ?, updated_at = ? WHERE external_id = ?`,
		string(status), time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update request status %s", externalID)
	}
	return checkRowsAffected(res, "request", externalID)
}

func (s *SQLiteStore) FailRequest(ctx context.Context, externalID, code, message string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrichment_requests SET status = ?, error_code = ?, error_message = ?, updated_at = ?
		 WHERE external_id = ?`,
		string(model.RequestStatusFailed), code, message, time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail request %s", externalID)
	}
	return checkRowsAffected(res, "request", externalID)
}

// -- idempotency claims --

func (s *SQLiteStore) ClaimRequest(ctx context.Context, caseID, externalID string, interim bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_requests (case_id, external_id, interim, processed_at) VALUES (?, ?, ?, ?)`,
		caseID, externalID, boolInt(interim), time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: claim request")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: claim rows affected")
	}
	if n == 1 {
		return true, nil
	}
	if interim {
		return false, nil
	}

	// The pair is already claimed. A final delivery may upgrade an interim
	// (cached) claim exactly once; the conditional update keeps two
	// concurrent finals from both passing.
	res, err = s.db.ExecContext(ctx,
		`UPDATE processed_requests SET interim = 0, processed_at = ?
		 WHERE case_id = ? AND external_id = ? AND interim = 1`,
		time.Now().UTC(), caseID, externalID,
	)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: upgrade claim")
	}
	n, err = res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: upgrade rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseClaim(ctx context.Context, caseID, externalID string, interim bool) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_requests WHERE case_id = ? AND external_id = ? AND interim = ?`,
		caseID, externalID, boolInt(interim),
	)
	return eris.Wrap(err, "sqlite: release claim")
}

func (s *SQLiteStore) ProcessedRequests(ctx context.Context, caseID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT external_id FROM processed_requests WHERE case_id = ? AND interim = 0 ORDER BY processed_at`, caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: processed requests")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan processed request")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: processed requests iterate")
}

// -- timeline --

func (s *SQLiteStore) InsertTimelineEntries(ctx context.Context, entries []model.TimelineEntry) (int, error) {
	inserted := 0
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		contributing, err := jsonOrNil(e.Contributing)
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: marshal contributing")
		}
		snippets, err := jsonOrNil(e.SourceSnippets)
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: marshal snippets")
		}
		docIDs, err := jsonOrNil(e.DocumentIDs)
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: marshal document ids")
		}

		res, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO timeline_entries
			 (id, case_id, event_date, event_day, event_type, description, source, confidence,
			  enriched_at, enrichment_model, contributing, snippets, conflict, base_entry_id, relation, document_ids, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.CaseID, e.EventDate.UTC(), dayOf(e.EventDate), e.EventType, e.Description,
			string(e.Source), e.Confidence, e.EnrichedAt, e.EnrichmentModel,
			contributing, snippets, boolInt(e.Conflict), e.BaseEntryID, string(e.Relation), docIDs, e.CreatedAt,
		)
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: insert timeline entry")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return inserted, eris.Wrap(err, "sqlite: timeline rows affected")
		}
		inserted += int(n)
	}
	return inserted, nil
}

func (s *SQLiteStore) ListTimelineEntries(ctx context.Context, caseID string) ([]model.TimelineEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, case_id, event_date, event_type, description, source, confidence,
		        enriched_at, enrichment_model, contributing, snippets, conflict, base_entry_id, relation, document_ids, created_at
		 FROM timeline_entries WHERE case_id = ? ORDER BY event_date, seq`, caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list timeline entries")
	}
	defer rows.Close()

	var entries []model.TimelineEntry
	for rows.Next() {
		e, err := scanTimelineEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list timeline iterate")
}

func (s *SQLiteStore) EnrichTimelineEntry(ctx context.Context, entryID, description, enrichModel string, contributing []model.EventSource, snippets []string, enrichedAt time.Time) error {
	contribJSON, err := jsonOrNil(contributing)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal contributing")
	}
	snippetsJSON, err := jsonOrNil(snippets)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal snippets")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE timeline_entries SET description = ?, enrichment_model = ?, contributing = ?, snippets = ?, enriched_at = ?
		 WHERE id = ? AND enriched_at IS NULL`,
		description, enrichModel, contribJSON, snippetsJSON, enrichedAt, entryID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: enrich timeline entry %s", entryID)
	}
	return checkRowsAffected(res, "timeline entry", entryID)
}

// -- attachments --

func (s *SQLiteStore) RecordAttachment(ctx context.Context, att model.Attachment) (*model.Attachment, error) {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attachments (id, case_id, request_id, code, instance, name, status, path, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		att.ID, att.CaseID, att.RequestID, att.Code, att.Instance, att.Name, string(att.Status), att.Path, att.Error, att.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert attachment")
	}
	return &att, nil
}

func (s *SQLiteStore) ListAttachments(ctx context.Context, caseID string) ([]model.Attachment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, request_id, code, instance, name, status, path, error, created_at
		 FROM attachments WHERE case_id = ? ORDER BY created_at`, caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list attachments")
	}
	defer rows.Close()

	var atts []model.Attachment
	for rows.Next() {
		var a model.Attachment
		var status string
		if err := rows.Scan(&a.ID, &a.CaseID, &a.RequestID, &a.Code, &a.Instance, &a.Name, &status, &a.Path, &a.Error, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan attachment")
		}
		a.Status = model.AttachmentStatus(status)
		atts = append(atts, a)
	}
	return atts, eris.Wrap(rows.Err(), "sqlite: list attachments iterate")
}

// -- error log and retry state --

func (s *SQLiteStore) AppendCaseError(ctx context.Context, e model.CaseError) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO case_errors (id, case_id, stage, code, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.CaseID, string(e.Stage), e.Code, e.Message, e.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: append case error")
}

func (s *SQLiteStore) ClearCaseErrors(ctx context.Context, caseID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM case_errors WHERE case_id = ?`, caseID)
	return eris.Wrap(err, "sqlite: clear case errors")
}

func (s *SQLiteStore) ListCaseErrors(ctx context.Context, caseID string) ([]model.CaseError, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, stage, code, message, created_at FROM case_errors
		 WHERE case_id = ? ORDER BY created_at`, caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list case errors")
	}
	defer rows.Close()

	var errs []model.CaseError
	for rows.Next() {
		var e model.CaseError
		var stage string
		if err := rows.Scan(&e.ID, &e.CaseID, &stage, &e.Code, &e.Message, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan case error")
		}
		e.Stage = model.ErrorStage(stage)
		errs = append(errs, e)
	}
	return errs, eris.Wrap(rows.Err(), "sqlite: list case errors iterate")
}

func (s *SQLiteStore) IncrementRetry(ctx context.Context, caseID string, ceiling int) (*model.RetryState, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO case_retry_state (case_id, attempts, allowed, updated_at) VALUES (?, 1, ?, ?)
		 ON CONFLICT(case_id) DO UPDATE SET
		   attempts = case_retry_state.attempts + 1,
		   allowed = (case_retry_state.attempts + 1) < ?,
		   updated_at = excluded.updated_at`,
		caseID, boolInt(1 < ceiling), now, ceiling,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: increment retry")
	}
	return s.GetRetryState(ctx, caseID)
}

func (s *SQLiteStore) GetRetryState(ctx context.Context, caseID string) (*model.RetryState, error) {
	var st model.RetryState
	var allowed int
	err := s.db.QueryRowContext(ctx,
		`SELECT case_id, attempts, allowed, updated_at FROM case_retry_state WHERE case_id = ?`, caseID,
	).Scan(&st.CaseID, &st.Attempts, &allowed, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		// No failures recorded yet: retry is trivially allowed.
		return &model.RetryState{CaseID: caseID, Attempts: 0, Allowed: true}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get retry state")
	}
	st.Allowed = allowed != 0
	return &st, nil
}

// -- jobs --

func (s *SQLiteStore) EnqueueJob(ctx context.Context, kind string, payload []byte, runAt time.Time) (*model.Job, error) {
	now := time.Now().UTC()
	status := model.JobStatusWaiting
	if runAt.After(now) {
		status = model.JobStatusDelayed
	}
	j := model.Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Payload:   payload,
		Status:    status,
		RunAt:     runAt.UTC(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, payload, status, attempts, run_at, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?, '', ?, ?)`,
		j.ID, j.Kind, string(j.Payload), string(j.Status), j.RunAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: enqueue job")
	}
	return &j, nil
}

func (s *SQLiteStore) ClaimNextJob(ctx context.Context) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = ?, attempts = attempts + 1, updated_at = ?
		 WHERE id = (
			SELECT id FROM jobs WHERE status IN (?, ?) AND run_at <= ? ORDER BY run_at LIMIT 1
		 )
		 RETURNING id, kind, payload, status, attempts, run_at, last_error, created_at, updated_at`,
		string(model.JobStatusActive), time.Now().UTC(),
		string(model.JobStatusWaiting), string(model.JobStatusDelayed), time.Now().UTC(),
	)
	j, err := scanJob(row)
	if eris.Is(err, ErrNotFound) {
		return nil, nil
	}
	return j, err
}

func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusCompleted), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID, lastError string, retryAt *time.Time) error {
	status := model.JobStatusFailed
	runAtSQL := `run_at`
	args := []any{string(status), lastError, time.Now().UTC(), jobID}
	if retryAt != nil {
		status = model.JobStatusDelayed
		runAtSQL = `?`
		args = []any{string(status), lastError, time.Now().UTC(), retryAt.UTC(), jobID}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, updated_at = ?, run_at = `+runAtSQL+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return checkRowsAffected(res, "job", jobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, kind, payload, status, attempts, run_at, last_error, created_at, updated_at
		 FROM jobs WHERE id = ?`, jobID,
	)
	return scanJob(row)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

// dayOf truncates an event date to its calendar day, the first half of the
// cross-source duplicate key.
func dayOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func jsonOrNil(v any) (any, error) {
	switch vv := v.(type) {
	case []model.EventSource:
		if len(vv) == 0 {
			return nil, nil
		}
	case []string:
		if len(vv) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCase(row scannable, id string) (*model.Case, error) {
	var c model.Case
	var processID sql.NullString
	var status string

	err := row.Scan(&c.ID, &processID, &c.CNJ, &c.Title, &c.Type, &status, &c.EnrichedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "case %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan case")
	}
	c.ProcessID = processID.String
	c.Status = model.CaseStatus(status)
	return &c, nil
}

func scanRequest(row scannable, externalID string) (*model.EnrichmentRequest, error) {
	var r model.EnrichmentRequest
	var purpose, status string

	err := row.Scan(&r.ID, &r.ExternalID, &r.ProcessID, &r.CaseID, &purpose, &status,
		&r.ErrorCode, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "request %s", externalID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan request")
	}
	r.Purpose = model.RequestPurpose(purpose)
	r.Status = model.RequestStatus(status)
	return &r, nil
}

func scanTimelineEntry(row scannable) (*model.TimelineEntry, error) {
	var e model.TimelineEntry
	var source, relation string
	var conflict int
	var contributing, snippets, docIDs sql.NullString

	err := row.Scan(&e.Seq, &e.ID, &e.CaseID, &e.EventDate, &e.EventType, &e.Description,
		&source, &e.Confidence, &e.EnrichedAt, &e.EnrichmentModel,
		&contributing, &snippets, &conflict, &e.BaseEntryID, &relation, &docIDs, &e.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan timeline entry")
	}
	e.Source = model.EventSource(source)
	e.Relation = model.EntryRelation(relation)
	e.Conflict = conflict != 0
	if contributing.Valid {
		if err := json.Unmarshal([]byte(contributing.String), &e.Contributing); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal contributing")
		}
	}
	if snippets.Valid {
		if err := json.Unmarshal([]byte(snippets.String), &e.SourceSnippets); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal snippets")
		}
	}
	if docIDs.Valid {
		if err := json.Unmarshal([]byte(docIDs.String), &e.DocumentIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal document ids")
		}
	}
	return &e, nil
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var payload, status string

	err := row.Scan(&j.ID, &j.Kind, &payload, &status, &j.Attempts, &j.RunAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "job")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}
	j.Payload = []byte(payload)
	j.Status = model.JobStatus(status)
	return &j, nil
}
