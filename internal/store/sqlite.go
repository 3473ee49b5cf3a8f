package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/fairledger/ledger-cli/internal/model"
	"github.com/fairledger/ledger-cli/internal/refdata"
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
CREATE TABLE IF NOT EXISTS instances (
	id            TEXT PRIMARY KEY,
	state         TEXT NOT NULL,
	version       INTEGER NOT NULL DEFAULT 1,
	document      TEXT NOT NULL,
	raw           TEXT,
	record        TEXT,
	exceptions    TEXT,
	review        TEXT,
	resolution    TEXT,
	escalated     INTEGER NOT NULL DEFAULT 0,
	failure_cause TEXT,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id          TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL REFERENCES instances(id),
	ts          DATETIME NOT NULL,
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
	resolution   TEXT,
	requested_at DATETIME NOT NULL,
	resolved_at  DATETIME
);

CREATE TABLE IF NOT EXISTS receipts (
	instance_id  TEXT PRIMARY KEY REFERENCES instances(id),
	id           TEXT NOT NULL,
	ledger_ref   TEXT NOT NULL,
	amount_minor INTEGER NOT NULL,
	currency     TEXT NOT NULL,
	posted_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS journal_entries (
	id               TEXT PRIMARY KEY,
	instance_id      TEXT NOT NULL,
	date             DATETIME NOT NULL,
	line_no          INTEGER NOT NULL,
	account          TEXT NOT NULL,
	debit_minor      INTEGER NOT NULL DEFAULT 0,
	credit_minor     INTEGER NOT NULL DEFAULT 0,
	memo             TEXT,
	fx_rate          REAL NOT NULL DEFAULT 1.0,
	src_amount_minor INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS open_items (
	instance_id      TEXT PRIMARY KEY,
	doc_number       TEXT NOT NULL,
	counterparty_id  TEXT NOT NULL,
	side             TEXT NOT NULL,
	total_minor      INTEGER NOT NULL,
	amount_due_minor INTEGER NOT NULL,
	due_date         DATETIME,
	status           TEXT NOT NULL DEFAULT 'outstanding',
	updated_at       DATETIME NOT NULL
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
	rate         REAL NOT NULL,
	required     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS fx_rates (
	from_ccy TEXT NOT NULL,
	to_ccy   TEXT NOT NULL,
	date     DATETIME NOT NULL,
	rate     REAL NOT NULL,
	PRIMARY KEY (from_ccy, to_ccy, date)
);

CREATE TABLE IF NOT EXISTS record_hashes (
	hash        TEXT PRIMARY KEY,
	instance_id TEXT NOT NULL,
	tx_date     DATETIME NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_instances_state ON instances(state);
CREATE INDEX IF NOT EXISTS idx_audit_log_instance ON audit_log(instance_id, ts);
CREATE UNIQUE INDEX IF NOT EXISTS idx_review_pending
	ON review_requests(instance_id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_journal_date ON journal_entries(date);
CREATE INDEX IF NOT EXISTS idx_open_items_doc ON open_items(doc_number);
CREATE INDEX IF NOT EXISTS idx_record_hashes_created ON record_hashes(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateInstance(ctx context.Context, doc model.Document) (*model.WorkflowInstance, error) {
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
		return nil, eris.Wrap(err, "sqlite: marshal document")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO instances (id, state, version, document, created_at, updated_at) VALUES (?, ?, 1, ?, ?, ?)`,
		inst.ID, string(inst.State), string(docJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert instance %s", inst.ID)
	}
	return inst, nil
}

func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*model.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, state, version, document, raw, record, exceptions, review, resolution,
		        escalated, failure_cause, created_at, updated_at
		 FROM instances WHERE id = ?`, id)
	return scanInstance(row)
}

func (s *SQLiteStore) UpdateInstance(ctx context.Context, inst *model.WorkflowInstance) error {
	cols, err := marshalInstance(inst)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances
		 SET state = ?, version = version + 1, raw = ?, record = ?, exceptions = ?,
		     review = ?, resolution = ?, escalated = ?, failure_cause = ?, updated_at = ?
		 WHERE id = ? AND version = ?`,
		string(inst.State), cols.raw, cols.record, cols.exceptions,
		cols.review, cols.resolution, boolToInt(inst.Escalated), inst.FailureCause, now,
		inst.ID, inst.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update instance %s", inst.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return staleOrMissing(ctx, s.db, inst.ID)
	}

	inst.Version++
	inst.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]model.WorkflowInstance, error) {
	query := `SELECT id, state, version, document, raw, record, exceptions, review, resolution,
	                 escalated, failure_cause, created_at, updated_at
	          FROM instances WHERE 1=1`
	var args []any
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list instances")
	}
	defer rows.Close()

	var out []model.WorkflowInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list instances")
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, instanceID string, entry model.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, instance_id, ts, actor, from_state, to_state, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, instanceID, entry.Timestamp, entry.Actor,
		string(entry.FromState), string(entry.ToState), entry.Detail,
	)
	return eris.Wrapf(err, "sqlite: append audit for %s", instanceID)
}

func (s *SQLiteStore) ListAudit(ctx context.Context, instanceID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, actor, from_state, to_state, detail
		 FROM audit_log WHERE instance_id = ? ORDER BY ts, id`, instanceID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		var from, to string
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Actor, &from, &to, &e.Detail); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit")
		}
		e.FromState = model.State(from)
		e.ToState = model.State(to)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list audit")
}

func (s *SQLiteStore) CreateReviewRequest(ctx context.Context, req *ReviewRequest) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_requests (id, instance_id, reviewer, summary, status, requested_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		req.ID, req.InstanceID, req.Reviewer, req.Summary, string(req.Status), req.RequestedAt,
	)
	return eris.Wrapf(err, "sqlite: insert review request %s", req.ID)
}

func (s *SQLiteStore) GetReviewRequest(ctx context.Context, id string) (*ReviewRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, instance_id, reviewer, summary, status, resolution, requested_at, resolved_at
		 FROM review_requests WHERE id = ?`, id)
	return scanReviewRequest(row)
}

func (s *SQLiteStore) PendingReviewForInstance(ctx context.Context, instanceID string) (*ReviewRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, instance_id, reviewer, summary, status, resolution, requested_at, resolved_at
		 FROM review_requests WHERE instance_id = ? AND status = 'pending'`, instanceID)
	return scanReviewRequest(row)
}

func (s *SQLiteStore) LatestReviewForInstance(ctx context.Context, instanceID string) (*ReviewRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, instance_id, reviewer, summary, status, resolution, requested_at, resolved_at
		 FROM review_requests WHERE instance_id = ?
		 ORDER BY (status = 'pending') DESC, requested_at DESC LIMIT 1`, instanceID)
	return scanReviewRequest(row)
}

func (s *SQLiteStore) ResolveReviewRequest(ctx context.Context, id string, res model.Resolution) error {
	resJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal resolution")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE review_requests SET status = 'resolved', resolution = ?, resolved_at = ?
		 WHERE id = ? AND status = 'pending'`,
		string(resJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve review request %s", id)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM review_requests WHERE id = ?`, id).Scan(&status)
		if isNoRows(err) {
			return ErrNotFound
		}
		if err != nil {
			return eris.Wrap(err, "sqlite: check review request")
		}
		return ErrAlreadyResolved
	}
	return nil
}

func (s *SQLiteStore) SaveReceipt(ctx context.Context, receipt model.PostingReceipt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO receipts (instance_id, id, ledger_ref, amount_minor, currency, posted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (instance_id) DO NOTHING`,
		receipt.InstanceID, receipt.ID, receipt.LedgerRef, receipt.AmountMinor, receipt.Currency, receipt.PostedAt,
	)
	return eris.Wrapf(err, "sqlite: save receipt for %s", receipt.InstanceID)
}

func (s *SQLiteStore) GetReceipt(ctx context.Context, instanceID string) (*model.PostingReceipt, error) {
	var r model.PostingReceipt
	err := s.db.QueryRowContext(ctx,
		`SELECT instance_id, id, ledger_ref, amount_minor, currency, posted_at
		 FROM receipts WHERE instance_id = ?`, instanceID,
	).Scan(&r.InstanceID, &r.ID, &r.LedgerRef, &r.AmountMinor, &r.Currency, &r.PostedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get receipt for %s", instanceID)
	}
	return &r, nil
}

func (s *SQLiteStore) InsertJournalEntries(ctx context.Context, entries []model.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin journal tx")
	}
	defer tx.Rollback()

	for _, e := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO journal_entries (id, instance_id, date, line_no, account, debit_minor, credit_minor, memo, fx_rate, src_amount_minor)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.InstanceID, e.Date, e.LineNo, e.Account, e.DebitMinor, e.CreditMinor, e.Memo, e.FXRate, e.SrcAmountMinor,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert journal entry %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit journal tx")
}

func (s *SQLiteStore) ListJournalEntries(ctx context.Context, from, to time.Time) ([]model.JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instance_id, date, line_no, account, debit_minor, credit_minor, memo, fx_rate, src_amount_minor
		 FROM journal_entries WHERE date >= ? AND date < ? ORDER BY date, id`, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list journal entries")
	}
	defer rows.Close()

	var out []model.JournalEntry
	for rows.Next() {
		var e model.JournalEntry
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.Date, &e.LineNo, &e.Account,
			&e.DebitMinor, &e.CreditMinor, &e.Memo, &e.FXRate, &e.SrcAmountMinor); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan journal entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list journal entries")
}

func (s *SQLiteStore) CreateOpenItem(ctx context.Context, item model.OpenItem) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO open_items (instance_id, doc_number, counterparty_id, side, total_minor, amount_due_minor, due_date, status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (instance_id) DO NOTHING`,
		item.InstanceID, item.DocNumber, item.CounterpartyID, string(item.Side),
		item.TotalMinor, item.AmountDueMinor, item.DueDate, string(item.Status), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: create open item %s", item.InstanceID)
}

func (s *SQLiteStore) ListOpenItems(ctx context.Context, side model.OpenItemSide, statuses []model.OpenItemStatus) ([]model.OpenItem, error) {
	query := `SELECT instance_id, doc_number, counterparty_id, side, total_minor, amount_due_minor, due_date, status, updated_at
	          FROM open_items WHERE side = ?`
	args := []any{string(side)}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + repeat(",?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY updated_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list open items")
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
	return out, eris.Wrap(rows.Err(), "sqlite: list open items")
}

func (s *SQLiteStore) UpdateOpenItem(ctx context.Context, instanceID string, amountDueMinor int64, status model.OpenItemStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE open_items SET amount_due_minor = ?, status = ?, updated_at = ? WHERE instance_id = ?`,
		amountDueMinor, string(status), time.Now().UTC(), instanceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update open item %s", instanceID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) FindOpenItemByDocNumber(ctx context.Context, docNumber string) (*model.OpenItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT instance_id, doc_number, counterparty_id, side, total_minor, amount_due_minor, due_date, status, updated_at
		 FROM open_items WHERE doc_number = ?`, docNumber)
	item, err := scanOpenItem(row)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (s *SQLiteStore) ListVendors(ctx context.Context) ([]refdata.Vendor, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, COALESCE(tax_id,''), COALESCE(jurisdiction,''), COALESCE(email,'') FROM vendors`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list vendors")
	}
	defer rows.Close()

	var out []refdata.Vendor
	for rows.Next() {
		var v refdata.Vendor
		if err := rows.Scan(&v.ID, &v.Name, &v.TaxID, &v.Jurisdiction, &v.Email); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan vendor")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list vendors")
}

func (s *SQLiteStore) ListTaxRules(ctx context.Context) ([]refdata.TaxRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT jurisdiction, label, rate, required FROM tax_rules`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list tax rules")
	}
	defer rows.Close()

	var out []refdata.TaxRule
	for rows.Next() {
		var r refdata.TaxRule
		var required int
		if err := rows.Scan(&r.Jurisdiction, &r.Label, &r.Rate, &required); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan tax rule")
		}
		r.Required = required != 0
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list tax rules")
}

func (s *SQLiteStore) ListFXRates(ctx context.Context) ([]refdata.FXRate, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT from_ccy, to_ccy, date, rate FROM fx_rates ORDER BY date`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list fx rates")
	}
	defer rows.Close()

	var out []refdata.FXRate
	for rows.Next() {
		var r refdata.FXRate
		if err := rows.Scan(&r.From, &r.To, &r.Date, &r.Rate); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fx rate")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list fx rates")
}

func (s *SQLiteStore) RecentHashes(ctx context.Context, since time.Time) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, instance_id FROM record_hashes WHERE created_at >= ?`, since)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent hashes")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var hash, instanceID string
		if err := rows.Scan(&hash, &instanceID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan hash")
		}
		out[hash] = instanceID
	}
	return out, eris.Wrap(rows.Err(), "sqlite: recent hashes")
}

func (s *SQLiteStore) UpsertVendors(ctx context.Context, vendors []refdata.Vendor) error {
	for _, v := range vendors {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO vendors (id, name, tax_id, jurisdiction, email) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET name = excluded.name, tax_id = excluded.tax_id,
			     jurisdiction = excluded.jurisdiction, email = excluded.email`,
			v.ID, v.Name, v.TaxID, v.Jurisdiction, v.Email,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert vendor %s", v.ID)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertTaxRules(ctx context.Context, rules []refdata.TaxRule) error {
	for _, r := range rules {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tax_rules (jurisdiction, label, rate, required) VALUES (?, ?, ?, ?)
			 ON CONFLICT (jurisdiction) DO UPDATE SET label = excluded.label, rate = excluded.rate, required = excluded.required`,
			r.Jurisdiction, r.Label, r.Rate, boolToInt(r.Required),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert tax rule %s", r.Jurisdiction)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertFXRates(ctx context.Context, rates []refdata.FXRate) error {
	for _, r := range rates {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO fx_rates (from_ccy, to_ccy, date, rate) VALUES (?, ?, ?, ?)
			 ON CONFLICT (from_ccy, to_ccy, date) DO UPDATE SET rate = excluded.rate`,
			r.From, r.To, r.Date, r.Rate,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert fx rate %s/%s", r.From, r.To)
		}
	}
	return nil
}

func (s *SQLiteStore) RecordHash(ctx context.Context, hash, instanceID string, txDate time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO record_hashes (hash, instance_id, tx_date, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (hash) DO NOTHING`,
		hash, instanceID, txDate, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: record hash for %s", instanceID)
}

// --- scan helpers shared with the Postgres backend ---

type scanner interface {
	Scan(dest ...any) error
}

type instanceCols struct {
	raw, record, exceptions, review, resolution sql.NullString
}

func marshalInstance(inst *model.WorkflowInstance) (instanceCols, error) {
	var cols instanceCols
	set := func(dst *sql.NullString, v any, name string) error {
		if v == nil {
			return nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return eris.Wrapf(err, "store: marshal %s", name)
		}
		dst.Valid = true
		dst.String = string(b)
		return nil
	}
	if inst.Raw != nil {
		if err := set(&cols.raw, inst.Raw, "raw fields"); err != nil {
			return cols, err
		}
	}
	if inst.Record != nil {
		if err := set(&cols.record, inst.Record, "record"); err != nil {
			return cols, err
		}
	}
	if inst.Exceptions != nil {
		if err := set(&cols.exceptions, inst.Exceptions, "exceptions"); err != nil {
			return cols, err
		}
	}
	if inst.Review != nil {
		if err := set(&cols.review, inst.Review, "review"); err != nil {
			return cols, err
		}
	}
	if inst.Resolution != nil {
		if err := set(&cols.resolution, inst.Resolution, "resolution"); err != nil {
			return cols, err
		}
	}
	return cols, nil
}

func scanInstance(row scanner) (*model.WorkflowInstance, error) {
	var inst model.WorkflowInstance
	var state string
	var docJSON string
	var cols instanceCols
	var escalated int
	var failureCause sql.NullString

	err := row.Scan(&inst.ID, &state, &inst.Version, &docJSON,
		&cols.raw, &cols.record, &cols.exceptions, &cols.review, &cols.resolution,
		&escalated, &failureCause, &inst.CreatedAt, &inst.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan instance")
	}

	inst.State = model.State(state)
	inst.Escalated = escalated != 0
	inst.FailureCause = failureCause.String
	if err := unmarshalInstanceCols(&inst, docJSON, cols); err != nil {
		return nil, err
	}
	return &inst, nil
}

func unmarshalInstanceCols(inst *model.WorkflowInstance, docJSON string, cols instanceCols) error {
	if err := json.Unmarshal([]byte(docJSON), &inst.Document); err != nil {
		return eris.Wrap(err, "store: unmarshal document")
	}
	get := func(src sql.NullString, dst any, name string) error {
		if !src.Valid || src.String == "" {
			return nil
		}
		return eris.Wrapf(json.Unmarshal([]byte(src.String), dst), "store: unmarshal %s", name)
	}
	if cols.raw.Valid {
		inst.Raw = &model.RawFields{}
		if err := get(cols.raw, inst.Raw, "raw fields"); err != nil {
			return err
		}
	}
	if cols.record.Valid {
		inst.Record = &model.NormalizedRecord{}
		if err := get(cols.record, inst.Record, "record"); err != nil {
			return err
		}
	}
	if err := get(cols.exceptions, &inst.Exceptions, "exceptions"); err != nil {
		return err
	}
	if cols.review.Valid {
		inst.Review = &model.ReviewAssignment{}
		if err := get(cols.review, inst.Review, "review"); err != nil {
			return err
		}
	}
	if cols.resolution.Valid {
		inst.Resolution = &model.Resolution{}
		if err := get(cols.resolution, inst.Resolution, "resolution"); err != nil {
			return err
		}
	}
	return nil
}

func scanReviewRequest(row scanner) (*ReviewRequest, error) {
	var req ReviewRequest
	var status string
	var resJSON sql.NullString
	var resolvedAt sql.NullTime

	err := row.Scan(&req.ID, &req.InstanceID, &req.Reviewer, &req.Summary, &status, &resJSON, &req.RequestedAt, &resolvedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan review request")
	}

	req.Status = ReviewRequestStatus(status)
	if resJSON.Valid && resJSON.String != "" {
		req.Resolution = &model.Resolution{}
		if err := json.Unmarshal([]byte(resJSON.String), req.Resolution); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal resolution")
		}
	}
	if resolvedAt.Valid {
		req.ResolvedAt = &resolvedAt.Time
	}
	return &req, nil
}

func scanOpenItem(row scanner) (*model.OpenItem, error) {
	var item model.OpenItem
	var side, status string
	var dueDate sql.NullTime

	err := row.Scan(&item.InstanceID, &item.DocNumber, &item.CounterpartyID, &side,
		&item.TotalMinor, &item.AmountDueMinor, &dueDate, &status, &item.UpdatedAt)
	if isNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan open item")
	}

	item.Side = model.OpenItemSide(side)
	item.Status = model.OpenItemStatus(status)
	if dueDate.Valid {
		item.DueDate = &dueDate.Time
	}
	return &item, nil
}

func staleOrMissing(ctx context.Context, db *sql.DB, id string) error {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM instances WHERE id = ?`, id).Scan(&exists)
	if isNoRows(err) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "store: check instance %s", id)
	}
	return ErrVersionConflict
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
