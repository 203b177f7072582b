package database

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
)

// Migration represents a single schema change.
type Migration struct {
	Version     int
	Description string
	Up          string
}

// MigrationRunner applies pending migrations and records them in
// schema_migrations.
type MigrationRunner struct {
	db  *sqlx.DB
	log *logger.Logger
}

func NewMigrationRunner(db *sqlx.DB, log *logger.Logger) *MigrationRunner {
	return &MigrationRunner{
		db:  db,
		log: log,
	}
}

// GetAllMigrations returns every migration in version order. The SQL is
// restricted to the dialect shared by sqlite3 and postgres.
func GetAllMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create runs table",
			Up: `
				CREATE TABLE IF NOT EXISTS runs (
					id TEXT PRIMARY KEY,
					domain TEXT NOT NULL,
					status TEXT NOT NULL,
					error TEXT NOT NULL DEFAULT '',
					asset_count INTEGER NOT NULL DEFAULT 0,
					dropped INTEGER NOT NULL DEFAULT 0,
					mean_risk DOUBLE PRECISION NOT NULL DEFAULT 0,
					started_at TIMESTAMP NOT NULL,
					completed_at TIMESTAMP
				)
			`,
		},
		{
			Version:     2,
			Description: "Create artifacts table",
			Up: `
				CREATE TABLE IF NOT EXISTS artifacts (
					run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
					kind TEXT NOT NULL,
					data TEXT NOT NULL,
					PRIMARY KEY (run_id, kind)
				)
			`,
		},
		{
			Version:     3,
			Description: "Create risk_records table",
			Up: `
				CREATE TABLE IF NOT EXISTS risk_records (
					run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
					subdomain TEXT NOT NULL,
					risk_score INTEGER NOT NULL,
					open_ports INTEGER NOT NULL,
					high_risk_ports INTEGER NOT NULL,
					has_weak_ssl INTEGER NOT NULL,
					leak_count INTEGER NOT NULL,
					subdomain_count INTEGER NOT NULL,
					PRIMARY KEY (run_id, subdomain)
				)
			`,
		},
		{
			Version:     4,
			Description: "Index runs by domain and start time",
			Up:          `CREATE INDEX IF NOT EXISTS idx_runs_domain_started ON runs(domain, started_at)`,
		},
	}
}

func (mr *MigrationRunner) ensureMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL
		)
	`
	if _, err := mr.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}
	return nil
}

func (mr *MigrationRunner) getAppliedMigrations(ctx context.Context) (map[int]bool, error) {
	applied := make(map[int]bool)

	rows, err := mr.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// RunMigrations applies all pending migrations and returns how many ran.
func (mr *MigrationRunner) RunMigrations(ctx context.Context) (int, error) {
	if err := mr.ensureMigrationsTable(ctx); err != nil {
		return 0, err
	}

	applied, err := mr.getAppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	all := GetAllMigrations()
	sort.Slice(all, func(i, j int) bool {
		return all[i].Version < all[j].Version
	})

	count := 0
	for _, migration := range all {
		if applied[migration.Version] {
			continue
		}
		if err := mr.applyMigration(ctx, migration); err != nil {
			return count, fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
		count++
	}

	if count == 0 {
		mr.log.Debugw("Database schema is up to date",
			"latest_version", all[len(all)-1].Version,
		)
		return 0, nil
	}

	mr.log.Infow("Migrations applied",
		"migrations_applied", count,
		"latest_version", all[len(all)-1].Version,
	)
	return count, nil
}

func (mr *MigrationRunner) applyMigration(ctx context.Context, migration Migration) error {
	mr.log.Infow("Applying migration",
		"version", migration.Version,
		"description", migration.Description,
	)

	tx, err := mr.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.Up); err != nil {
		mr.log.Errorw("Migration failed",
			"version", migration.Version,
			"error", err,
		)
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}

	record := tx.Rebind(`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, record, migration.Version, migration.Description, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}
	return nil
}
