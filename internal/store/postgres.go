package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/healthmap/internal/db"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var postgresColumns = []string{"nom_mun", "nom_norm", "codigo", "enfermedades"}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 1
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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS alcaldias (
	nom_mun      TEXT NOT NULL,
	nom_norm     TEXT NOT NULL UNIQUE,
	codigo       INTEGER,
	enfermedades JSON
);

CREATE INDEX IF NOT EXISTS idx_alcaldias_codigo ON alcaldias(codigo);
`

// Migrate creates the table. enfermedades is JSON, not JSONB, so cancer
// subtypes keep the key order they were imported with.
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

func (s *PostgresStore) FindByName(ctx context.Context, name string) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT nom_mun, codigo, enfermedades::text FROM alcaldias WHERE nom_norm = $1`,
		NormalizeName(name),
	)
	e, err := scanPostgresEntry(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find %q", name)
	}
	return e, nil
}

func (s *PostgresStore) FindByCode(ctx context.Context, code int) (*Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT nom_mun, codigo, enfermedades::text FROM alcaldias WHERE codigo = $1`,
		code,
	)
	e, err := scanPostgresEntry(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find code %d", code)
	}
	return e, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT nom_mun, codigo, enfermedades::text FROM alcaldias ORDER BY codigo NULLS LAST, nom_mun`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanPostgresEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan entry")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate entries")
}

// Replace truncates the table and bulk-loads entries with COPY.
func (s *PostgresStore) Replace(ctx context.Context, entries []Entry) (int, error) {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rec, err := marshalRecord(e.Enfermedades)
		if err != nil {
			return 0, err
		}
		var code *int32
		if e.Code != 0 {
			c := int32(e.Code)
			code = &c
		}
		rows = append(rows, []any{e.Name, NormalizeName(e.Name), code, rec})
	}

	n, err := db.ReplaceAll(ctx, s.pool, "alcaldias", postgresColumns, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: replace")
	}
	return int(n), nil
}

func scanPostgresEntry(row pgx.Row) (*Entry, error) {
	var (
		e    Entry
		code *int32
		raw  *string
	)
	if err := row.Scan(&e.Name, &code, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if code != nil {
		e.Code = int(*code)
	}
	rec, err := unmarshalRecord(raw)
	if err != nil {
		return nil, err
	}
	e.Enfermedades = rec
	return &e, nil
}
