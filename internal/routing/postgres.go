package routing

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// OpenPostgres connects to a Postgres routing database. Schema migrations are
// applied first unless skipMigrate is set.
func OpenPostgres(dsn string, opTimeout time.Duration, skipMigrate bool) (*SQLStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres store requires a DSN")
	}
	if !skipMigrate {
		if _, err := MigratePostgres(dsn); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newSQLStore(db, postgresDialect, opTimeout), nil
}

// MigratePostgres applies the embedded migrations and returns the resulting
// schema version.
func MigratePostgres(dsn string) (uint, error) {
	src, err := iofs.New(postgresMigrations, "migrations/postgres")
	if err != nil {
		return 0, fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return 0, fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("migrate up: %w", err)
	}
	v, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("migration version: %w", err)
	}
	return v, nil
}
