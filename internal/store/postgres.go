package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/refdata"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock satisfies it
// for tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_instance": `SELECT id, state, version, document, raw, record, exceptions, review, resolution,
	                        escalated, failure_cause, created_at, updated_at
	                 FROM instances WHERE id = $1`,
	"update_instance": `UPDATE instances
	                    SET state = $1, version = version + 1, raw = $2, record = $3, exceptions = $4,
	                        review = $5, resolution = $6, escalated = $7, failure_cause = $8, updated_at = $9
	                    WHERE id = $10 AND version = $11`,
	"append_audit": `INSERT INTO audit_log (id, instance_id, ts, actor, from_state, to_state, detail)
	                 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"get_receipt": `SELECT instance_id, id, ledger_ref, amount_minor, currency, posted_at
	                FROM receipts WHERE instance_id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, stmt := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, stmt); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS instances (
	id            TEXT PRIMARY KEY,
	state         TEXT NOT NULL,
	version       BIGINT NOT NULL DEFAULT 1,
	document      JSONB NOT NULL,
	raw           JSONB,
	record        JSONB,
	exceptions    JSONB,
	review        JSONB,
	resolution    JSONB,
	escalated     BOOLEAN NOT NULL DEFAULT FALSE,
	failure_cause TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL REFERENCES instances(id),
	ts          TIMESTAMPTZ NOT NULL,
	actor       TEXT NOT NULL,
	from_state  TEXT,
	to_state    TEXT,
	detail      TEXT
);

CREATE TABLE IF NOT EXISTS review_requests (
	id           TEXT PRIMARY KEY,
	instance_id  TEXT NOT NULL REFERENCES instances(id),
	reviewer     TEXT NOT NULL,
	summary      TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'pending',
	resolution   JSONB,
	requested_at TIMESTAMPTZ NOT NULL,
	resolved_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS receipts (
	instance_id  TEXT PRIMARY KEY REFERENCES instances(id),
	id           TEXT NOT NULL,
	ledger_ref   TEXT NOT NULL,
	amount_minor BIGINT NOT NULL,
	currency     TEXT NOT NULL,
	posted_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS journal_entries (
	id               TEXT PRIMARY KEY,
	instance_id      TEXT NOT NULL,
	date             TIMESTAMPTZ NOT NULL,
	line_no          INT NOT NULL,
	account          TEXT NOT NULL,
	debit_minor      BIGINT NOT NULL DEFAULT 0,
	credit_minor     BIGINT NOT NULL DEFAULT 0,
	memo             TEXT,
	fx_rate          DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	src_amount_minor BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS open_items (
	instance_id      TEXT PRIMARY KEY,
	doc_number       TEXT NOT NULL,
	counterparty_id  TEXT NOT NULL,
	side             TEXT NOT NULL,
	total_minor      BIGINT NOT NULL,
	amount_due_minor BIGINT NOT NULL,
	due_date         TIMESTAMPTZ,
	status           TEXT NOT NULL DEFAULT 'outstanding',
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS vendors (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	tax_id       TEXT,
	jurisdiction TEXT,
	email        TEXT
);

CREATE TABLE IF NOT EXISTS tax_rules (
	jurisdiction TEXT PRIMARY KEY,
	label        TEXT NOT NULL,
	rate         DOUBLE PRECISION NOT NULL,
	required     BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS fx_rates (
	from_ccy TEXT NOT NULL,
	to_ccy   TEXT NOT NULL,
	date     TIMESTAMPTZ NOT NULL,
	rate     DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (from_ccy, to_ccy, date)
);

CREATE TABLE IF NOT EXISTS record_hashes (
	hash        TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL,
	tx_date     TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_instances_state ON instances(state);
CREATE INDEX IF NOT EXISTS idx_audit_log_instance ON audit_log(instance_id, ts);
CREATE UNIQUE INDEX IF NOT EXISTS idx_review_pending
	ON review_requests(instance_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_journal_date ON journal_entries(date);
CREATE INDEX IF NOT EXISTS idx_open_items_doc ON open_items(doc_number);
CREATE INDEX IF NOT EXISTS idx_record_hashes_created ON record_hashes(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.closeFn()
	return nil
}

func (s *PostgresStore) CreateInstance(ctx context.Context, doc model.Document) (*model.WorkflowInstance, error) {
	now := time.Now().UTC()
	inst := &model.WorkflowInstance{
		ID:        doc.ID,
		State:     model.StateReceived,
		Version:   1,
		Document:  doc,
		CreatedAt: now,
		UpdatedAt: now,
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal document")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO instances (id, state, version, document, created_at, updated_at) VALUES ($1, $2, 1, $3, $4, $5)`,
		inst.ID, string(inst.State), string(docJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert instance %s", inst.ID)
	}
	return inst, nil
}

func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*model.WorkflowInstance, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, state, version, document, raw, record, exceptions, review, resolution,
		        escalated, failure_cause, created_at, updated_at
		 FROM instances WHERE id = $1`, id)
	return scanPgInstance(row)
}

func (s *PostgresStore) UpdateInstance(ctx context.Context, inst *model.WorkflowInstance) error {
	cols, err := marshalInstance(inst)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE instances
		 SET state = $1, version = version + 1, raw = $2, record = $3, exceptions = $4,
		     review = $5, resolution = $6, escalated = $7, failure_cause = $8, updated_at = $9
		 WHERE id = $10 AND version = $11`,
		string(inst.State), nullStr(cols.raw), nullStr(cols.record), nullStr(cols.exceptions),
		nullStr(cols.review), nullStr(cols.resolution), inst.Escalated, inst.FailureCause, now,
		inst.ID, inst.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update instance %s", inst.ID)
	}
	if tag.RowsAffected() == 0 {
		var exists int
		err := s.pool.QueryRow(ctx, `SELECT 1 FROM instances WHERE id = $1`, inst.ID).Scan(&exists)
		if isNoRows(err) {
			return ErrNotFound
		}
		if err != nil {
			return eris.Wrapf(err, "postgres: check instance %s", inst.ID)
		}
		return ErrVersionConflict
	}

	inst.Version++
	inst.UpdatedAt = now
	return nil
}

func (s *PostgresStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]model.WorkflowInstance, error) {
	query := `SELECT id, state, version, document, raw, record, exceptions, review, resolution,
	                 escalated, failure_cause, created_at, updated_at
	          FROM instances`
	var args []any
	if filter.State != "" {
		args = append(args, string(filter.State))
		query += fmt.Sprintf(` WHERE state = $%d`, len(args))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list instances")
	}
	defer rows.Close()

	var out []model.WorkflowInstance
	for rows.Next() {
		inst, err := scanPgInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list instances")
}

func (s *PostgresStore) AppendAudit(ctx context.Context, instanceID string, entry model.AuditEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, instance_id, ts, actor, from_state, to_state, detail)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, instanceID, entry.Timestamp, entry.Actor,
		string(entry.FromState), string(entry.ToState), entry.Detail,
	)
	return eris.Wrapf(err, "postgres: append audit for %s", instanceID)
}

func (s *PostgresStore) ListAudit(ctx context.Context, instanceID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, actor, from_state, to_state, detail
		 FROM audit_log WHERE instance_id = $1 ORDER BY ts, id`, instanceID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var from, to string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &from, &to, &e.Detail); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit")
		}
		e.FromState = model.State(from)
		e.ToState = model.State(to)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list audit")
}

func (s *PostgresStore) CreateReviewRequest(ctx context.Context, req *ReviewRequest) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO review_requests (id, instance_id, reviewer, summary, status, requested_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		req.ID, req.InstanceID, req.Reviewer, req.Summary, string(req.Status), req.RequestedAt,
	)
	return eris.Wrapf(err, "postgres: insert review request %s", req.ID)
}

func (s *PostgresStore) GetReviewRequest(ctx context.Context, id string) (*ReviewRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, instance_id, reviewer, summary, status, resolution, requested_at, resolved_at
		 FROM review_requests WHERE id = $1`, id)
	return scanReviewRequest(row)
}

func (s *PostgresStore) PendingReviewForInstance(ctx context.Context, instanceID string) (*ReviewRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, instance_id, reviewer, summary, status, resolution, requested_at, resolved_at
		 FROM review_requests WHERE instance_id = $1 AND status = 'pending'`, instanceID)
	return scanReviewRequest(row)
}

func (s *PostgresStore) LatestReviewForInstance(ctx context.Context, instanceID string) (*ReviewRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, instance_id, reviewer, summary, status, resolution, requested_at, resolved_at
		 FROM review_requests WHERE instance_id = $1
		 ORDER BY (status = 'pending') DESC, requested_at DESC LIMIT 1`, instanceID)
	return scanReviewRequest(row)
}

func (s *PostgresStore) ResolveReviewRequest(ctx context.Context, id string, res model.Resolution) error {
	resJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal resolution")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE review_requests SET status = 'resolved', resolution = $1, resolved_at = $2
		 WHERE id = $3 AND status = 'pending'`,
		string(resJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve review request %s", id)
	}
	if tag.RowsAffected() == 0 {
		var status string
		err := s.pool.QueryRow(ctx, `SELECT status FROM review_requests WHERE id = $1`, id).Scan(&status)
		if isNoRows(err) {
			return ErrNotFound
		}
		if err != nil {
			return eris.Wrap(err, "postgres: check review request")
		}
		return ErrAlreadyResolved
	}
	return nil
}

func (s *PostgresStore) SaveReceipt(ctx context.Context, receipt model.PostingReceipt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO receipts (instance_id, id, ledger_ref, amount_minor, currency, posted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (instance_id) DO NOTHING`,
		receipt.InstanceID, receipt.ID, receipt.LedgerRef, receipt.AmountMinor, receipt.Currency, receipt.PostedAt,
	)
	return eris.Wrapf(err, "postgres: save receipt for %s", receipt.InstanceID)
}

func (s *PostgresStore) GetReceipt(ctx context.Context, instanceID string) (*model.PostingReceipt, error) {
	var r model.PostingReceipt
	err := s.pool.QueryRow(ctx,
		`SELECT instance_id, id, ledger_ref, amount_minor, currency, posted_at
		 FROM receipts WHERE instance_id = $1`, instanceID,
	).Scan(&r.InstanceID, &r.ID, &r.LedgerRef, &r.AmountMinor, &r.Currency, &r.PostedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get receipt for %s", instanceID)
	}
	return &r, nil
}

func (s *PostgresStore) InsertJournalEntries(ctx context.Context, entries []model.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin journal tx")
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		_, err := tx.Exec(ctx,
			`INSERT INTO journal_entries (id, instance_id, date, line_no, account, debit_minor, credit_minor, memo, fx_rate, src_amount_minor)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, e.InstanceID, e.Date, e.LineNo, e.Account, e.DebitMinor, e.CreditMinor, e.Memo, e.FXRate, e.SrcAmountMinor,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert journal entry %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit journal tx")
}

func (s *PostgresStore) ListJournalEntries(ctx context.Context, from, to time.Time) ([]model.JournalEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, instance_id, date, line_no, account, debit_minor, credit_minor, memo, fx_rate, src_amount_minor
		 FROM journal_entries WHERE date >= $1 AND date < $2 ORDER BY date, id`, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list journal entries")
	}
	defer rows.Close()

	var out []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.Date, &e.LineNo, &e.Account,
			&e.DebitMinor, &e.CreditMinor, &e.Memo, &e.FXRate, &e.SrcAmountMinor); err != nil {
			return nil, eris.Wrap(err, "postgres: scan journal entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list journal entries")
}

func (s *PostgresStore) CreateOpenItem(ctx context.Context, item model.OpenItem) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO open_items (instance_id, doc_number, counterparty_id, side, total_minor, amount_due_minor, due_date, status, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (instance_id) DO NOTHING`,
		item.InstanceID, item.DocNumber, item.CounterpartyID, string(item.Side),
		item.TotalMinor, item.AmountDueMinor, item.DueDate, string(item.Status), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: create open item %s", item.InstanceID)
}

func (s *PostgresStore) ListOpenItems(ctx context.Context, side model.OpenItemSide, statuses []model.OpenItemStatus) ([]model.OpenItem, error) {
	query := `SELECT instance_id, doc_number, counterparty_id, side, total_minor, amount_due_minor, due_date, status, updated_at
	          FROM open_items WHERE side = $1`
	args := []any{string(side)}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			args = append(args, string(st))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		query += ` AND status IN (` + strings.Join(placeholders, ",") + `)`
	}
	query += ` ORDER BY updated_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list open items")
	}
	defer rows.Close()

	var out []model.OpenItem
	for rows.Next() {
		item, err := scanOpenItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *item)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list open items")
}

func (s *PostgresStore) UpdateOpenItem(ctx context.Context, instanceID string, amountDueMinor int64, status model.OpenItemStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE open_items SET amount_due_minor = $1, status = $2, updated_at = $3 WHERE instance_id = $4`,
		amountDueMinor, string(status), time.Now().UTC(), instanceID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update open item %s", instanceID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindOpenItemByDocNumber(ctx context.Context, docNumber string) (*model.OpenItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT instance_id, doc_number, counterparty_id, side, total_minor, amount_due_minor, due_date, status, updated_at
		 FROM open_items WHERE doc_number = $1`, docNumber)
	return scanOpenItem(row)
}

func (s *PostgresStore) ListVendors(ctx context.Context) ([]refdata.Vendor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, COALESCE(tax_id,''), COALESCE(jurisdiction,''), COALESCE(email,'') FROM vendors`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list vendors")
	}
	defer rows.Close()

	var out []refdata.Vendor
	for rows.Next() {
		var v refdata.Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.TaxID, &v.Jurisdiction, &v.Email); err != nil {
			return nil, eris.Wrap(err, "postgres: scan vendor")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list vendors")
}

func (s *PostgresStore) ListTaxRules(ctx context.Context) ([]refdata.TaxRule, error) {
	rows, err := s.pool.Query(ctx, `SELECT jurisdiction, label, rate, required FROM tax_rules`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tax rules")
	}
	defer rows.Close()

	var out []refdata.TaxRule
	for rows.Next() {
		var r refdata.TaxRule
		if err := rows.Scan(&r.Jurisdiction, &r.Label, &r.Rate, &r.Required); err != nil {
			return nil, eris.Wrap(err, "postgres: scan tax rule")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list tax rules")
}

func (s *PostgresStore) ListFXRates(ctx context.Context) ([]refdata.FXRate, error) {
	rows, err := s.pool.Query(ctx, `SELECT from_ccy, to_ccy, date, rate FROM fx_rates ORDER BY date`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list fx rates")
	}
	defer rows.Close()

	var out []refdata.FXRate
	for rows.Next() {
		var r refdata.FXRate
		if err := rows.Scan(&r.From, &r.To, &r.Date, &r.Rate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fx rate")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list fx rates")
}

func (s *PostgresStore) RecentHashes(ctx context.Context, since time.Time) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT hash, instance_id FROM record_hashes WHERE created_at >= $1`, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent hashes")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var hash, instanceID string
		if err := rows.Scan(&hash, &instanceID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan hash")
		}
		out[hash] = instanceID
	}
	return out, eris.Wrap(rows.Err(), "postgres: recent hashes")
}

func (s *PostgresStore) UpsertVendors(ctx context.Context, vendors []refdata.Vendor) error {
	for _, v := range vendors {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO vendors (id, name, tax_id, jurisdiction, email) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE SET name = excluded.name, tax_id = excluded.tax_id,
			     jurisdiction = excluded.jurisdiction, email = excluded.email`,
			v.ID, v.Name, v.TaxID, v.Jurisdiction, v.Email,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert vendor %s", v.ID)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertTaxRules(ctx context.Context, rules []refdata.TaxRule) error {
	for _, r := range rules {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO tax_rules (jurisdiction, label, rate, required) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (jurisdiction) DO UPDATE SET label = excluded.label, rate = excluded.rate, required = excluded.required`,
			r.Jurisdiction, r.Label, r.Rate, r.Required,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert tax rule %s", r.Jurisdiction)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertFXRates(ctx context.Context, rates []refdata.FXRate) error {
	for _, r := range rates {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO fx_rates (from_ccy, to_ccy, date, rate) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (from_ccy, to_ccy, date) DO UPDATE SET rate = excluded.rate`,
			r.From, r.To, r.Date, r.Rate,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert fx rate %s/%s", r.From, r.To)
		}
	}
	return nil
}

func (s *PostgresStore) RecordHash(ctx context.Context, hash, instanceID string, txDate time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO record_hashes (hash, instance_id, tx_date, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (hash) DO NOTHING`,
		hash, instanceID, txDate, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: record hash for %s", instanceID)
}

// scanPgInstance mirrors scanInstance but reads escalated as a native bool.
func scanPgInstance(row scanner) (*model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	var state string
	var docJSON string
	var cols instanceCols
	var escalated bool
	var failureCause sql.NullString

	err := row.Scan(&inst.ID, &state, &inst.Version, &docJSON,
		&cols.raw, &cols.record, &cols.exceptions, &cols.review, &cols.resolution,
		&escalated, &failureCause, &inst.CreatedAt, &inst.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan instance")
	}

	inst.State = model.State(state)
	inst.Escalated = escalated
	inst.FailureCause = failureCause.String
	if err := unmarshalInstanceCols(&inst, docJSON, cols); err != nil {
		return nil, err
	}
	return &inst, nil
}

func nullStr(s sql.NullString) any {
	if !s.Valid {
		return nil
	}
	return s.String
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}
