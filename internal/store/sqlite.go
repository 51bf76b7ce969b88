package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, eris.New("sqlite: empty dsn")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS alcaldias (
	nom_mun      TEXT NOT NULL,
	nom_norm     TEXT NOT NULL UNIQUE,
	codigo       INTEGER,
	enfermedades TEXT
);

CREATE INDEX IF NOT EXISTS idx_alcaldias_codigo ON alcaldias(codigo);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) FindByName(ctx context.Context, name string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT nom_mun, codigo, enfermedades FROM alcaldias WHERE nom_norm = ?`,
		NormalizeName(name),
	)
	e, err := scanSQLiteEntry(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find %q", name)
	}
	return e, nil
}

func (s *SQLiteStore) FindByCode(ctx context.Context, code int) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT nom_mun, codigo, enfermedades FROM alcaldias WHERE codigo = ?`,
		code,
	)
	e, err := scanSQLiteEntry(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find code %d", code)
	}
	return e, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT nom_mun, codigo, enfermedades FROM alcaldias ORDER BY rowid`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list")
	}
	defer rows.Close() //nolint:errcheck

	var out []Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan entry")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate entries")
}

func (s *SQLiteStore) Replace(ctx context.Context, entries []Entry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin replace")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM alcaldias`); err != nil {
		return 0, eris.Wrap(err, "sqlite: clear alcaldias")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO alcaldias (nom_mun, nom_norm, codigo, enfermedades) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, e := range entries {
		rec, err := marshalRecord(e.Enfermedades)
		if err != nil {
			return 0, err
		}
		if _, err := stmt.ExecContext(ctx, e.Name, NormalizeName(e.Name), nullCode(e.Code), rec); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert %q", e.Name)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit replace")
	}
	return len(entries), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteEntry(row rowScanner) (*Entry, error) {
	var (
		e    Entry
		code sql.NullInt64
		raw  sql.NullString
	)
	if err := row.Scan(&e.Name, &code, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	e.Code = int(code.Int64)
	if raw.Valid {
		rec, err := unmarshalRecord(&raw.String)
		if err != nil {
			return nil, err
		}
		e.Enfermedades = rec
	}
	return &e, nil
}

// nullCode stores an unknown code as NULL.
func nullCode(code int) any {
	if code == 0 {
		return nil
	}
	return code
}
