package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/jusbridge/casesync/internal/db"
	"github.com/jusbridge/casesync/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; tests use it with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS processes (
	id         TEXT PRIMARY KEY,
	cnj        TEXT NOT NULL UNIQUE,
	court_code TEXT NOT NULL DEFAULT '',
	instance   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS cases (
	id          TEXT PRIMARY KEY,
	process_id  TEXT REFERENCES processes(id),
	cnj         TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	case_type   TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	enriched_at TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS case_documents (
	id            TEXT PRIMARY KEY,
	case_id       TEXT NOT NULL REFERENCES cases(id),
	name          TEXT NOT NULL,
	document_date TIMESTAMPTZ,
	uploaded_at   TIMESTAMPTZ NOT NULL DEFAULT now()
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
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS processed_requests (
	case_id      TEXT NOT NULL,
	external_id  TEXT NOT NULL,
	interim      BOOLEAN NOT NULL DEFAULT FALSE,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (case_id, external_id)
);

CREATE TABLE IF NOT EXISTS case_errors (
	id         TEXT PRIMARY KEY,
	case_id    TEXT NOT NULL,
	stage      TEXT NOT NULL,
	code       TEXT NOT NULL DEFAULT '',
	message    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS case_retry_state (
	case_id    TEXT PRIMARY KEY,
	attempts   INTEGER NOT NULL DEFAULT 0,
	allowed    BOOLEAN NOT NULL DEFAULT true,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS timeline_entries (
	seq              BIGSERIAL PRIMARY KEY,
	id               TEXT NOT NULL UNIQUE,
	case_id          TEXT NOT NULL,
	event_date       TIMESTAMPTZ NOT NULL,
	event_day       TEXT NOT NULL,
	event_type       TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	source           TEXT NOT NULL,
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
	enriched_at      TIMESTAMPTZ,
	enrichment_model TEXT NOT NULL DEFAULT '',
	contributing     JSONB,
	snippets         JSONB,
	conflict         BOOLEAN NOT NULL DEFAULT false,
	base_entry_id    TEXT NOT NULL DEFAULT '',
	relation         TEXT NOT NULL DEFAULT '',
	document_ids     JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
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
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	payload    JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'waiting',
	attempts   INTEGER NOT NULL DEFAULT 0,
	run_at     TIMESTAMPTZ NOT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// -- processes --

func (s *PostgresStore) FindOrCreateProcess(ctx context.Context, cnj, courtCode, instance string) (*model.Process, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processes (id, cnj, court_code, instance, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (cnj) DO NOTHING`,
		uuid.New().String(), cnj, courtCode, instance, time.Now().UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert process")
	}

	var p model.Process
	err = s.pool.QueryRow(ctx,
		`SELECT id, cnj, court_code, instance, created_at FROM processes WHERE cnj = $1`, cnj,
	).Scan(&p.ID, &p.CNJ, &p.CourtCode, &p.Instance, &p.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get process")
	}
	return &p, nil
}

// -- cases --

func (s *PostgresStore) CreateCase(ctx context.Context, c model.Case) (*model.Case, error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = model.CaseStatusPending
	}
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO cases (id, process_id, cnj, title, case_type, status, enriched_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, nullStr(c.ProcessID), c.CNJ, c.Title, c.Type, string(c.Status), c.EnrichedAt, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert case")
	}
	return &c, nil
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (*model.Case, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, COALESCE(process_id, ''), cnj, title, case_type, status, enriched_at, created_at, updated_at
		 FROM cases WHERE id = $1`, caseID,
	)
	return scanCasePG(row, caseID)
}

func (s *PostgresStore) FindCasesByCNJ(ctx context.Context, cnj string) ([]model.Case, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, COALESCE(process_id, ''), cnj, title, case_type, status, enriched_at, created_at, updated_at
		 FROM cases WHERE cnj = $1 ORDER BY created_at`, cnj,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find cases by cnj")
	}
	defer rows.Close()

	var cases []model.Case
	for rows.Next() {
		c, err := scanCasePG(rows, "")
		if err != nil {
			return nil, err
		}
		cases = append(cases, *c)
	}
	return cases, eris.Wrap(rows.Err(), "postgres: find cases iterate")
}

func (s *PostgresStore) LinkCaseProcess(ctx context.Context, caseID, processID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cases SET process_id = $1, updated_at = $2 WHERE id = $3`,
		processID, time.Now().UTC(), caseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: link case %s", caseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "case %s", caseID)
	}
	return nil
}

func (s *PostgresStore) UpdateCaseStatus(ctx context.Context, caseID string, status model.CaseStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cases SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), caseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update case status %s", caseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "case %s", caseID)
	}
	return nil
}

func (s *PostgresStore) ActivateCase(ctx context.Context, caseID, caseType string, enrichedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cases SET status = $1,
		        case_type = CASE WHEN $2 = '' THEN case_type ELSE $2 END,
		        enriched_at = $3, updated_at = $4
		 WHERE id = $5`,
		string(model.CaseStatusActive), caseType, enrichedAt, time.Now().UTC(), caseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: activate case %s", caseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "case %s", caseID)
	}
	return nil
}

// -- documents --

func (s *PostgresStore) AddDocument(ctx context.Context, doc model.CaseDocument) (*model.CaseDocument, error) {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO case_documents (id, case_id, name, document_date, uploaded_at) VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.CaseID, doc.Name, doc.DocumentDate, doc.UploadedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert document")
	}
	return &doc, nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, caseID string) ([]model.CaseDocument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, case_id, name, document_date, uploaded_at FROM case_documents
		 WHERE case_id = $1 ORDER BY uploaded_at`, caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list documents")
	}
	defer rows.Close()

	var docs []model.CaseDocument
	for rows.Next() {
		var d model.CaseDocument
		if err := rows.Scan(&d.ID, &d.CaseID, &d.Name, &d.DocumentDate, &d.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		docs = append(docs, d)
	}
	return docs, eris.Wrap(rows.Err(), "postgres: list documents iterate")
}

// -- enrichment requests --

func (s *PostgresStore) CreateRequest(ctx context.Context, req model.EnrichmentRequest) (*model.EnrichmentRequest, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = model.RequestStatusPending
	}
	now := time.Now().UTC()
	req.CreatedAt, req.UpdatedAt = now, now

	_, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_requests (id, external_id, process_id, case_id, purpose, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.ExternalID, req.ProcessID, req.CaseID, string(req.Purpose), string(req.Status), req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert request")
	}
	return &req, nil
}

func (s *PostgresStore) GetRequestByExternalID(ctx context.Context, externalID string) (*model.EnrichmentRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, external_id, process_id, case_id, purpose, status, error_code, error_message, created_at, updated_at
		 FROM enrichment_requests WHERE external_id = $1`, externalID,
	)
	r, err := scanRequestPG(row)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "request %s", externalID)
	}
	return r, err
}

func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]model.EnrichmentRequest, error) {
	query := `SELECT id, external_id, process_id, case_id, purpose, status, error_code, error_message, created_at, updated_at
		 FROM enrichment_requests WHERE 1=1`
	var args []any

	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + itoa(len(args))
	}
	if filter.Purpose != "" {
		args = append(args, string(filter.Purpose))
		query += ` AND purpose = $` + itoa(len(args))
	}
	if filter.CaseID != "" {
		args = append(args, filter.CaseID)
		query += ` AND case_id = $` + itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += ` LIMIT $` + itoa(len(args))

	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list requests")
	}
	defer rows.Close()

	var reqs []model.EnrichmentRequest
	for rows.Next() {
		r, err := scanRequestPG(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, *r)
	}
	return reqs, eris.Wrap(rows.Err(), "postgres: list requests iterate")
}

func (s *PostgresStore) UpdateRequestStatus(ctx context.Context, externalID string, status model.RequestStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_requests SET status = $1, updated_at = $2 WHERE external_id = $3`,
		string(status), time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update request status %s", externalID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "request %s", externalID)
	}
	return nil
}

func (s *PostgresStore) FailRequest(ctx context.Context, externalID, code, message string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE enrichment_requests SET status = $1, error_code = $2, error_message = $3, updated_at = $4
		 WHERE external_id = $5`,
		string(model.RequestStatusFailed), code, message, time.Now().UTC(), externalID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail request %s", externalID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "request %s", externalID)
	}
	return nil
}

// -- idempotency claims --

func (s *PostgresStore) ClaimRequest(ctx context.Context, caseID, externalID string, interim bool) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO processed_requests (case_id, external_id, interim, processed_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (case_id, external_id) DO NOTHING`,
		caseID, externalID, interim, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: claim request")
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if interim {
		return false, nil
	}

	// The pair is already claimed. A final delivery may upgrade an interim
	// (cached) claim exactly once; the conditional update keeps two
	// concurrent finals from both passing.
	tag, err = s.pool.Exec(ctx,
		`UPDATE processed_requests SET interim = FALSE, processed_at = $1
		 WHERE case_id = $2 AND external_id = $3 AND interim = TRUE`,
		time.Now().UTC(), caseID, externalID,
	)
	if err != nil {
		return false, eris.Wrap(err, "postgres: upgrade claim")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseClaim(ctx context.Context, caseID, externalID string, interim bool) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM processed_requests WHERE case_id = $1 AND external_id = $2 AND interim = $3`,
		caseID, externalID, interim,
	)
	return eris.Wrap(err, "postgres: release claim")
}

func (s *PostgresStore) ProcessedRequests(ctx context.Context, caseID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT external_id FROM processed_requests WHERE case_id = $1 AND NOT interim ORDER BY processed_at`, caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: processed requests")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan processed request")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: processed requests iterate")
}

// -- timeline --

func (s *PostgresStore) InsertTimelineEntries(ctx context.Context, entries []model.TimelineEntry) (int, error) {
	inserted := 0
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		contributing, err := jsonOrNilBytes(e.Contributing)
		if err != nil {
			return inserted, eris.Wrap(err, "postgres: marshal contributing")
		}
		snippets, err := jsonOrNilBytes(e.SourceSnippets)
		if err != nil {
			return inserted, eris.Wrap(err, "postgres: marshal snippets")
		}
		docIDs, err := jsonOrNilBytes(e.DocumentIDs)
		if err != nil {
			return inserted, eris.Wrap(err, "postgres: marshal document ids")
		}

		tag, err := s.pool.Exec(ctx,
			`INSERT INTO timeline_entries
			 (id, case_id, event_date, event_day, event_type, description, source, confidence,
			  enriched_at, enrichment_model, contributing, snippets, conflict, base_entry_id, relation, document_ids, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			 ON CONFLICT (case_id, event_day, event_type, source) DO NOTHING`,
			e.ID, e.CaseID, e.EventDate.UTC(), dayOf(e.EventDate), e.EventType, e.Description,
			string(e.Source), e.Confidence, e.EnrichedAt, e.EnrichmentModel,
			contributing, snippets, e.Conflict, e.BaseEntryID, string(e.Relation), docIDs, e.CreatedAt,
		)
		if err != nil {
			return inserted, eris.Wrap(err, "postgres: insert timeline entry")
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *PostgresStore) ListTimelineEntries(ctx context.Context, caseID string) ([]model.TimelineEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, id, case_id, event_date, event_type, description, source, confidence,
		        enriched_at, enrichment_model, contributing, snippets, conflict, base_entry_id, relation, document_ids, created_at
		 FROM timeline_entries WHERE case_id = $1 ORDER BY event_date, seq`, caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list timeline entries")
	}
	defer rows.Close()

	var entries []model.TimelineEntry
	for rows.Next() {
		e, err := scanTimelineEntryPG(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list timeline iterate")
}

func (s *PostgresStore) EnrichTimelineEntry(ctx context.Context, entryID, description, enrichModel string, contributing []model.EventSource, snippets []string, enrichedAt time.Time) error {
	contribJSON, err := jsonOrNilBytes(contributing)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal contributing")
	}
	snippetsJSON, err := jsonOrNilBytes(snippets)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snippets")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE timeline_entries SET description = $1, enrichment_model = $2, contributing = $3, snippets = $4, enriched_at = $5
		 WHERE id = $6 AND enriched_at IS NULL`,
		description, enrichModel, contribJSON, snippetsJSON, enrichedAt, entryID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: enrich timeline entry %s", entryID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "timeline entry %s", entryID)
	}
	return nil
}

// -- attachments --

func (s *PostgresStore) RecordAttachment(ctx context.Context, att model.Attachment) (*model.Attachment, error) {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attachments (id, case_id, request_id, code, instance, name, status, path, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		att.ID, att.CaseID, att.RequestID, att.Code, att.Instance, att.Name, string(att.Status), att.Path, att.Error, att.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert attachment")
	}
	return &att, nil
}

func (s *PostgresStore) ListAttachments(ctx context.Context, caseID string) ([]model.Attachment, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, case_id, request_id, code, instance, name, status, path, error, created_at
		 FROM attachments WHERE case_id = $1 ORDER BY created_at`, caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list attachments")
	}
	defer rows.Close()

	var atts []model.Attachment
	for rows.Next() {
		var a model.Attachment
		var status string
		if err := rows.Scan(&a.ID, &a.CaseID, &a.RequestID, &a.Code, &a.Instance, &a.Name, &status, &a.Path, &a.Error, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan attachment")
		}
		a.Status = model.AttachmentStatus(status)
		atts = append(atts, a)
	}
	return atts, eris.Wrap(rows.Err(), "postgres: list attachments iterate")
}

// -- error log and retry state --

func (s *PostgresStore) AppendCaseError(ctx context.Context, e model.CaseError) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO case_errors (id, case_id, stage, code, message, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.CaseID, string(e.Stage), e.Code, e.Message, e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: append case error")
}

func (s *PostgresStore) ClearCaseErrors(ctx context.Context, caseID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM case_errors WHERE case_id = $1`, caseID)
	return eris.Wrap(err, "postgres: clear case errors")
}

func (s *PostgresStore) ListCaseErrors(ctx context.Context, caseID string) ([]model.CaseError, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, case_id, stage, code, message, created_at FROM case_errors
		 WHERE case_id = $1 ORDER BY created_at`, caseID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list case errors")
	}
	defer rows.Close()

	var errs []model.CaseError
	for rows.Next() {
		var e model.CaseError
		var stage string
		if err := rows.Scan(&e.ID, &e.CaseID, &stage, &e.Code, &e.Message, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan case error")
		}
		e.Stage = model.ErrorStage(stage)
		errs = append(errs, e)
	}
	return errs, eris.Wrap(rows.Err(), "postgres: list case errors iterate")
}

func (s *PostgresStore) IncrementRetry(ctx context.Context, caseID string, ceiling int) (*model.RetryState, error) {
	var st model.RetryState
	err := s.pool.QueryRow(ctx,
		`INSERT INTO case_retry_state (case_id, attempts, allowed, updated_at) VALUES ($1, 1, $2, $3)
		 ON CONFLICT (case_id) DO UPDATE SET
		   attempts = case_retry_state.attempts + 1,
		   allowed = (case_retry_state.attempts + 1) < $4,
		   updated_at = excluded.updated_at
		 RETURNING case_id, attempts, allowed, updated_at`,
		caseID, 1 < ceiling, time.Now().UTC(), ceiling,
	).Scan(&st.CaseID, &st.Attempts, &st.Allowed, &st.UpdatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: increment retry")
	}
	return &st, nil
}

func (s *PostgresStore) GetRetryState(ctx context.Context, caseID string) (*model.RetryState, error) {
	var st model.RetryState
	err := s.pool.QueryRow(ctx,
		`SELECT case_id, attempts, allowed, updated_at FROM case_retry_state WHERE case_id = $1`, caseID,
	).Scan(&st.CaseID, &st.Attempts, &st.Allowed, &st.UpdatedAt)
	if err == pgx.ErrNoRows {
		return &model.RetryState{CaseID: caseID, Attempts: 0, Allowed: true}, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get retry state")
	}
	return &st, nil
}

// -- jobs --

func (s *PostgresStore) EnqueueJob(ctx context.Context, kind string, payload []byte, runAt time.Time) (*model.Job, error) {
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, kind, payload, status, attempts, run_at, last_error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 0, $5, '', $6, $7)`,
		j.ID, j.Kind, j.Payload, string(j.Status), j.RunAt, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: enqueue job")
	}
	return &j, nil
}

func (s *PostgresStore) ClaimNextJob(ctx context.Context) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE jobs SET status = $1, attempts = attempts + 1, updated_at = $2
		 WHERE id = (
			SELECT id FROM jobs WHERE status IN ($3, $4) AND run_at <= $5
			ORDER BY run_at LIMIT 1 FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, kind, payload, status, attempts, run_at, last_error, created_at, updated_at`,
		string(model.JobStatusActive), time.Now().UTC(),
		string(model.JobStatusWaiting), string(model.JobStatusDelayed), time.Now().UTC(),
	)
	j, err := scanJobPG(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: claim next job")
	}
	return j, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(model.JobStatusCompleted), time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID, lastError string, retryAt *time.Time) error {
	var tag interface{ RowsAffected() int64 }
	var err error
	if retryAt != nil {
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET status = $1, last_error = $2, updated_at = $3, run_at = $4 WHERE id = $5`,
			string(model.JobStatusDelayed), lastError, time.Now().UTC(), retryAt.UTC(), jobID,
		)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET status = $1, last_error = $2, updated_at = $3 WHERE id = $4`,
			string(model.JobStatusFailed), lastError, time.Now().UTC(), jobID,
		)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, kind, payload, status, attempts, run_at, last_error, created_at, updated_at
		 FROM jobs WHERE id = $1`, jobID,
	)
	j, err := scanJobPG(row)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return j, nil
}

// helpers

func itoa(n int) string {
	const digits = "0123456789"
	if n < 10 {
		return digits[n : n+1]
	}
	return itoa(n/10) + digits[n%10:n%10+1]
}

func jsonOrNilBytes(v any) ([]byte, error) {
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
	return json.Marshal(v)
}

func scanCasePG(row pgx.Row, id string) (*model.Case, error) {
	var c model.Case
	var status string

	err := row.Scan(&c.ID, &c.ProcessID, &c.CNJ, &c.Title, &c.Type, &status, &c.EnrichedAt, &c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "case %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan case")
	}
	c.Status = model.CaseStatus(status)
	return &c, nil
}

func scanRequestPG(row pgx.Row) (*model.EnrichmentRequest, error) {
	var r model.EnrichmentRequest
	var purpose, status string

	err := row.Scan(&r.ID, &r.ExternalID, &r.ProcessID, &r.CaseID, &purpose, &status,
		&r.ErrorCode, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan request")
	}
	r.Purpose = model.RequestPurpose(purpose)
	r.Status = model.RequestStatus(status)
	return &r, nil
}

func scanTimelineEntryPG(row pgx.Row) (*model.TimelineEntry, error) {
	var e model.TimelineEntry
	var source, relation string
	var contributing, snippets, docIDs []byte

	err := row.Scan(&e.Seq, &e.ID, &e.CaseID, &e.EventDate, &e.EventType, &e.Description,
		&source, &e.Confidence, &e.EnrichedAt, &e.EnrichmentModel,
		&contributing, &snippets, &e.Conflict, &e.BaseEntryID, &relation, &docIDs, &e.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan timeline entry")
	}
	e.Source = model.EventSource(source)
	e.Relation = model.EntryRelation(relation)
	if len(contributing) > 0 {
		if err := json.Unmarshal(contributing, &e.Contributing); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal contributing")
		}
	}
	if len(snippets) > 0 {
		if err := json.Unmarshal(snippets, &e.SourceSnippets); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal snippets")
		}
	}
	if len(docIDs) > 0 {
		if err := json.Unmarshal(docIDs, &e.DocumentIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal document ids")
		}
	}
	return &e, nil
}

func scanJobPG(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var status string

	err := row.Scan(&j.ID, &j.Kind, &j.Payload, &status, &j.Attempts, &j.RunAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	return &j, nil
}
