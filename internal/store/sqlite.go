package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/gearline/vehicle-cli/internal/model"
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
CREATE TABLE IF NOT EXISTS resolutions (
	id                 TEXT PRIMARY KEY,
	year               INTEGER NOT NULL,
	make               TEXT NOT NULL,
	model              TEXT NOT NULL,
	overall_confidence REAL NOT NULL,
	needs_review       INTEGER NOT NULL DEFAULT 0,
	resolved_at        DATETIME NOT NULL,
	UNIQUE(year, make, model)
);

CREATE TABLE IF NOT EXISTS field_results (
	resolution_id TEXT NOT NULL REFERENCES resolutions(id) ON DELETE CASCADE,
	field         TEXT NOT NULL,
	value         TEXT NOT NULL,
	unit          TEXT NOT NULL DEFAULT '',
	confidence    REAL NOT NULL,
	needs_review  INTEGER NOT NULL DEFAULT 0,
	method        TEXT NOT NULL,
	PRIMARY KEY (resolution_id, field)
);

CREATE TABLE IF NOT EXISTS evidence (
	id            TEXT PRIMARY KEY,
	resolution_id TEXT NOT NULL REFERENCES resolutions(id) ON DELETE CASCADE,
	field         TEXT NOT NULL,
	url           TEXT NOT NULL,
	quote         TEXT NOT NULL,
	value         TEXT NOT NULL,
	trust_weight  REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolutions_key ON resolutions(year, make, model);
CREATE INDEX IF NOT EXISTS idx_resolutions_review ON resolutions(needs_review);
CREATE INDEX IF NOT EXISTS idx_evidence_resolution ON evidence(resolution_id, field);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveResolution replaces any prior resolution for the query key together
// with its field results and evidence, in one transaction.
func (s *SQLiteStore) SaveResolution(ctx context.Context, r *model.VehicleResolution) error {
	if err := validateResolution(r); err != nil {
		return err
	}
	year, mk, md := r.Query.Key()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM resolutions WHERE year = ? AND make = ? AND model = ?`,
		year, mk, md,
	); err != nil {
		return eris.Wrap(err, "sqlite: delete prior resolution")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO resolutions (id, year, make, model, overall_confidence, needs_review, resolved_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, year, mk, md, r.OverallConfidence, r.NeedsReview, r.ResolvedAt.UTC(),
	); err != nil {
		return eris.Wrap(err, "sqlite: insert resolution")
	}

	for _, f := range r.Fields {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO field_results (resolution_id, field, value, unit, confidence, needs_review, method)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, string(f.Field), f.Value.String(), f.Unit, f.Confidence, f.NeedsReview, f.Method,
		); err != nil {
			return eris.Wrapf(err, "sqlite: insert field result %s", f.Field)
		}
		for _, e := range f.Evidence {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO evidence (id, resolution_id, field, url, quote, value, trust_weight)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				uuid.New().String(), r.ID, string(f.Field), e.URL, e.Quote, e.ParsedValue.String(), e.TrustWeight,
			); err != nil {
				return eris.Wrapf(err, "sqlite: insert evidence for %s", f.Field)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit resolution")
}

func (s *SQLiteStore) GetResolution(ctx context.Context, q model.Query) (*model.VehicleResolution, error) {
	year, mk, md := q.Key()

	var r model.VehicleResolution
	err := s.db.QueryRowContext(ctx,
		`SELECT id, year, make, model, overall_confidence, needs_review, resolved_at
		 FROM resolutions WHERE year = ? AND make = ? AND model = ?`,
		year, mk, md,
	).Scan(&r.ID, &r.Query.Year, &r.Query.Make, &r.Query.Model, &r.OverallConfidence, &r.NeedsReview, &r.ResolvedAt)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: get resolution")
	}

	fields, err := s.loadFields(ctx, r.ID, true)
	if err != nil {
		return nil, err
	}
	r.Fields = fields
	return &r, nil
}

func (s *SQLiteStore) ListResolutions(ctx context.Context, filter Filter) ([]model.VehicleResolution, error) {
	query := `SELECT id, year, make, model, overall_confidence, needs_review, resolved_at
	          FROM resolutions WHERE 1=1`
	var args []any

	if filter.Year > 0 {
		query += ` AND year = ?`
		args = append(args, filter.Year)
	}
	if filter.Make != "" {
		query += ` AND make = ?`
		args = append(args, foldKey(filter.Make))
	}
	if filter.Model != "" {
		query += ` AND model = ?`
		args = append(args, foldKey(filter.Model))
	}
	if filter.NeedsReview != nil {
		query += ` AND needs_review = ?`
		args = append(args, *filter.NeedsReview)
	}
	query += ` ORDER BY resolved_at DESC`

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
		return nil, eris.Wrap(err, "sqlite: list resolutions")
	}
	defer rows.Close()

	var out []model.VehicleResolution
	for rows.Next() {
		var r model.VehicleResolution
		if err := rows.Scan(&r.ID, &r.Query.Year, &r.Query.Make, &r.Query.Model,
			&r.OverallConfidence, &r.NeedsReview, &r.ResolvedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan resolution")
		}
		fields, err := s.loadFields(ctx, r.ID, false)
		if err != nil {
			return nil, err
		}
		r.Fields = fields
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list resolutions iterate")
}

// loadFields reads the field results for a resolution in canonical field
// order, optionally rehydrating their evidence rows.
func (s *SQLiteStore) loadFields(ctx context.Context, resolutionID string, withEvidence bool) ([]model.FieldResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, value, unit, confidence, needs_review, method
		 FROM field_results WHERE resolution_id = ?`,
		resolutionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load field results")
	}
	defer rows.Close()

	byField := make(map[model.FieldName]model.FieldResult, len(model.Fields()))
	for rows.Next() {
		var f model.FieldResult
		var raw string
		if err := rows.Scan(&f.Field, &raw, &f.Unit, &f.Confidence, &f.NeedsReview, &f.Method); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan field result")
		}
		f.Value, err = model.ParseValue(f.Field.Kind(), raw)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: field %s", f.Field)
		}
		byField[f.Field] = f
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: field results iterate")
	}

	if withEvidence {
		if err := s.attachEvidence(ctx, resolutionID, byField); err != nil {
			return nil, err
		}
	}

	out := make([]model.FieldResult, 0, len(byField))
	for _, name := range model.Fields() {
		if f, ok := byField[name]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *SQLiteStore) attachEvidence(ctx context.Context, resolutionID string, byField map[model.FieldName]model.FieldResult) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field, url, quote, value, trust_weight
		 FROM evidence WHERE resolution_id = ?
		 ORDER BY trust_weight DESC, url ASC`,
		resolutionID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: load evidence")
	}
	defer rows.Close()

	for rows.Next() {
		var field model.FieldName
		var e model.EvidenceItem
		var raw string
		if err := rows.Scan(&field, &e.URL, &e.Quote, &raw, &e.TrustWeight); err != nil {
			return eris.Wrap(err, "sqlite: scan evidence")
		}
		e.ParsedValue, err = model.ParseValue(field.Kind(), raw)
		if err != nil {
			return eris.Wrapf(err, "sqlite: evidence for %s", field)
		}
		f, ok := byField[field]
		if !ok {
			return eris.New(fmt.Sprintf("sqlite: evidence for missing field %s", field))
		}
		f.Evidence = append(f.Evidence, e)
		byField[field] = f
	}
	return eris.Wrap(rows.Err(), "sqlite: evidence iterate")
}

var _ Store = (*SQLiteStore)(nil)
