package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/gearline/vehicle-cli/internal/db"
	"github.com/gearline/vehicle-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot store operations.
var preparedStatements = map[string]string{
	"get_resolution": `SELECT id, year, make, model, overall_confidence, needs_review, resolved_at
	                   FROM resolutions WHERE year = $1 AND make = $2 AND model = $3`,
	"get_field_results": `SELECT field, value, unit, confidence, needs_review, method
	                      FROM field_results WHERE resolution_id = $1`,
	"get_evidence": `SELECT field, url, quote, value, trust_weight
	                 FROM evidence WHERE resolution_id = $1
	                 ORDER BY trust_weight DESC, url ASC`,
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
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
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

// NewPostgresWithPool wraps an existing pool; tests inject a mock here.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS resolutions (
	id                 TEXT PRIMARY KEY,
	year               INTEGER NOT NULL,
	make               TEXT NOT NULL,
	model              TEXT NOT NULL,
	overall_confidence DOUBLE PRECISION NOT NULL,
	needs_review       BOOLEAN NOT NULL DEFAULT false,
	resolved_at        TIMESTAMPTZ NOT NULL,
	UNIQUE(year, make, model)
);

CREATE TABLE IF NOT EXISTS field_results (
	resolution_id TEXT NOT NULL REFERENCES resolutions(id) ON DELETE CASCADE,
	field         TEXT NOT NULL,
	value         TEXT NOT NULL,
	unit          TEXT NOT NULL DEFAULT '',
	confidence    DOUBLE PRECISION NOT NULL,
	needs_review  BOOLEAN NOT NULL DEFAULT false,
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
	trust_weight  DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resolutions_key ON resolutions(year, make, model);
CREATE INDEX IF NOT EXISTS idx_resolutions_review ON resolutions(needs_review);
CREATE INDEX IF NOT EXISTS idx_evidence_resolution ON evidence(resolution_id, field);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

// SaveResolution replaces any prior resolution for the query key together
// with its field results and evidence, in one transaction. Evidence rows go
// in via the COPY protocol.
func (s *PostgresStore) SaveResolution(ctx context.Context, r *model.VehicleResolution) error {
	if err := validateResolution(r); err != nil {
		return err
	}
	year, mk, md := r.Query.Key()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM resolutions WHERE year = $1 AND make = $2 AND model = $3`,
		year, mk, md,
	); err != nil {
		return eris.Wrap(err, "postgres: delete prior resolution")
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO resolutions (id, year, make, model, overall_confidence, needs_review, resolved_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, year, mk, md, r.OverallConfidence, r.NeedsReview, r.ResolvedAt.UTC(),
	); err != nil {
		return eris.Wrap(err, "postgres: insert resolution")
	}

	var evidenceRows [][]any
	for _, f := range r.Fields {
		if _, err := tx.Exec(ctx,
			`INSERT INTO field_results (resolution_id, field, value, unit, confidence, needs_review, method)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, string(f.Field), f.Value.String(), f.Unit, f.Confidence, f.NeedsReview, f.Method,
		); err != nil {
			return eris.Wrapf(err, "postgres: insert field result %s", f.Field)
		}
		for _, e := range f.Evidence {
			evidenceRows = append(evidenceRows, []any{
				uuid.New().String(), r.ID, string(f.Field), e.URL, e.Quote, e.ParsedValue.String(), e.TrustWeight,
			})
		}
	}

	if _, err := db.CopyFrom(ctx, tx, "evidence",
		[]string{"id", "resolution_id", "field", "url", "quote", "value", "trust_weight"},
		evidenceRows,
	); err != nil {
		return eris.Wrap(err, "postgres: insert evidence")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit resolution")
}

func (s *PostgresStore) GetResolution(ctx context.Context, q model.Query) (*model.VehicleResolution, error) {
	year, mk, md := q.Key()

	var r model.VehicleResolution
	err := s.pool.QueryRow(ctx,
		`SELECT id, year, make, model, overall_confidence, needs_review, resolved_at
		 FROM resolutions WHERE year = $1 AND make = $2 AND model = $3`,
		year, mk, md,
	).Scan(&r.ID, &r.Query.Year, &r.Query.Make, &r.Query.Model, &r.OverallConfidence, &r.NeedsReview, &r.ResolvedAt)
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get resolution")
	}

	fields, err := s.loadFields(ctx, r.ID, true)
	if err != nil {
		return nil, err
	}
	r.Fields = fields
	return &r, nil
}

func (s *PostgresStore) ListResolutions(ctx context.Context, filter Filter) ([]model.VehicleResolution, error) {
	query := `SELECT id, year, make, model, overall_confidence, needs_review, resolved_at
	          FROM resolutions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Year > 0 {
		query += fmt.Sprintf(` AND year = $%d`, argIdx)
		args = append(args, filter.Year)
		argIdx++
	}
	if filter.Make != "" {
		query += fmt.Sprintf(` AND make = $%d`, argIdx)
		args = append(args, foldKey(filter.Make))
		argIdx++
	}
	if filter.Model != "" {
		query += fmt.Sprintf(` AND model = $%d`, argIdx)
		args = append(args, foldKey(filter.Model))
		argIdx++
	}
	if filter.NeedsReview != nil {
		query += fmt.Sprintf(` AND needs_review = $%d`, argIdx)
		args = append(args, *filter.NeedsReview)
		argIdx++
	}
	query += ` ORDER BY resolved_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list resolutions")
	}
	defer rows.Close()

	var out []model.VehicleResolution
	for rows.Next() {
		var r model.VehicleResolution
		if err := rows.Scan(&r.ID, &r.Query.Year, &r.Query.Make, &r.Query.Model,
			&r.OverallConfidence, &r.NeedsReview, &r.ResolvedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan resolution")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list resolutions iterate")
	}

	for i := range out {
		fields, err := s.loadFields(ctx, out[i].ID, false)
		if err != nil {
			return nil, err
		}
		out[i].Fields = fields
	}
	return out, nil
}

func (s *PostgresStore) loadFields(ctx context.Context, resolutionID string, withEvidence bool) ([]model.FieldResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field, value, unit, confidence, needs_review, method
		 FROM field_results WHERE resolution_id = $1`,
		resolutionID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load field results")
	}
	defer rows.Close()

	byField := make(map[model.FieldName]model.FieldResult, len(model.Fields()))
	for rows.Next() {
		var f model.FieldResult
		var raw string
		if err := rows.Scan(&f.Field, &raw, &f.Unit, &f.Confidence, &f.NeedsReview, &f.Method); err != nil {
			return nil, eris.Wrap(err, "postgres: scan field result")
		}
		f.Value, err = model.ParseValue(f.Field.Kind(), raw)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: field %s", f.Field)
		}
		byField[f.Field] = f
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: field results iterate")
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

func (s *PostgresStore) attachEvidence(ctx context.Context, resolutionID string, byField map[model.FieldName]model.FieldResult) error {
	rows, err := s.pool.Query(ctx,
		`SELECT field, url, quote, value, trust_weight
		 FROM evidence WHERE resolution_id = $1
		 ORDER BY trust_weight DESC, url ASC`,
		resolutionID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: load evidence")
	}
	defer rows.Close()

	for rows.Next() {
		var field model.FieldName
		var e model.EvidenceItem
		var raw string
		if err := rows.Scan(&field, &e.URL, &e.Quote, &raw, &e.TrustWeight); err != nil {
			return eris.Wrap(err, "postgres: scan evidence")
		}
		e.ParsedValue, err = model.ParseValue(field.Kind(), raw)
		if err != nil {
			return eris.Wrapf(err, "postgres: evidence for %s", field)
		}
		f, ok := byField[field]
		if !ok {
			return eris.Errorf("postgres: evidence for missing field %s", field)
		}
		f.Evidence = append(f.Evidence, e)
		byField[field] = f
	}
	return eris.Wrap(rows.Err(), "postgres: evidence iterate")
}

var _ Store = (*PostgresStore)(nil)
