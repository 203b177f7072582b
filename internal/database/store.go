// Package database persists pipeline runs in sqlite3 or postgres.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/CodeMonkeyCybersecurity/surface/internal/config"
	"github.com/CodeMonkeyCybersecurity/surface/internal/core"
	"github.com/CodeMonkeyCybersecurity/surface/internal/logger"
	"github.com/CodeMonkeyCybersecurity/surface/pkg/types"
)

type sqlStore struct {
	db     *sqlx.DB
	cfg    config.DatabaseConfig
	logger *logger.Logger
}

type riskRow struct {
	RunID          string `db:"run_id"`
	Subdomain      string `db:"subdomain"`
	RiskScore      int    `db:"risk_score"`
	OpenPorts      int    `db:"open_ports"`
	HighRiskPorts  int    `db:"high_risk_ports"`
	HasWeakSSL     int    `db:"has_weak_ssl"`
	LeakCount      int    `db:"leak_count"`
	SubdomainCount int    `db:"subdomain_count"`
}

func NewStore(cfg config.DatabaseConfig, log *logger.Logger) (core.ResultStore, error) {
	log = log.WithComponent("database")

	start := time.Now()
	ctx, span := log.StartOperation(context.Background(), "database.NewStore",
		"driver", cfg.Driver,
		"dsn_masked", maskDSN(cfg.DSN),
	)
	var err error
	defer func() {
		log.FinishOperation(ctx, span, "database.NewStore", start, err)
	}()

	db, err := sqlx.Connect(cfg.Driver, cfg.DSN)
	if err != nil {
		log.LogError(ctx, err, "database.Connect", "driver", cfg.Driver)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxConnections > 0 {
		db.SetMaxOpenConns(cfg.MaxConnections)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if cfg.Driver == "sqlite3" {
		if _, err = db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	if _, err = NewMigrationRunner(db, log).RunMigrations(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.WithContext(ctx).Infow("Database store initialized",
		"driver", cfg.Driver,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &sqlStore{
		db:     db,
		cfg:    cfg,
		logger: log,
	}, nil
}

// maskDSN hides credentials embedded in a DSN before it is logged.
func maskDSN(dsn string) string {
	if len(dsn) > 10 {
		return dsn[:5] + "***" + dsn[len(dsn)-5:]
	}
	return "***"
}

// SaveRun writes the run header, its artifacts and its risk records in one
// transaction. Saving the same run id again replaces the previous copy.
func (s *sqlStore) SaveRun(ctx context.Context, report *types.RunReport) error {
	start := time.Now()
	runID := report.Summary.ID
	ctx, span := s.logger.StartOperation(ctx, "database.SaveRun",
		"run_id", runID,
		"domain", report.Summary.Domain,
	)
	var err error
	defer func() {
		s.logger.FinishOperation(ctx, span, "database.SaveRun", start, err)
	}()

	if runID == "" {
		err = errors.New("run id is required")
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO runs (
			id, domain, status, error, asset_count, dropped, mean_risk,
			started_at, completed_at
		) VALUES (
			:id, :domain, :status, :error, :asset_count, :dropped, :mean_risk,
			:started_at, :completed_at
		)
		ON CONFLICT (id) DO UPDATE SET
			domain = excluded.domain,
			status = excluded.status,
			error = excluded.error,
			asset_count = excluded.asset_count,
			dropped = excluded.dropped,
			mean_risk = excluded.mean_risk,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`, report.Summary)
	if err != nil {
		s.logger.LogError(ctx, err, "database.SaveRun.upsert", "run_id", runID)
		return fmt.Errorf("failed to save run %s: %w", runID, err)
	}

	for _, table := range []string{"artifacts", "risk_records"} {
		if _, err = tx.ExecContext(ctx, tx.Rebind("DELETE FROM "+table+" WHERE run_id = ?"), runID); err != nil {
			return fmt.Errorf("failed to clear %s for run %s: %w", table, runID, err)
		}
	}

	for kind, value := range report.Artifacts() {
		var data []byte
		data, err = json.Marshal(value)
		if err != nil {
			return fmt.Errorf("failed to marshal %s artifact: %w", kind, err)
		}
		_, err = tx.ExecContext(ctx,
			tx.Rebind("INSERT INTO artifacts (run_id, kind, data) VALUES (?, ?, ?)"),
			runID, kind, string(data))
		if err != nil {
			return fmt.Errorf("failed to save %s artifact: %w", kind, err)
		}
	}

	for _, r := range report.Risks {
		row := riskRow{
			RunID:          runID,
			Subdomain:      string(r.Identity),
			RiskScore:      r.RiskScore,
			OpenPorts:      r.Details.OpenPorts,
			HighRiskPorts:  r.Details.HighRiskOpenPorts,
			HasWeakSSL:     r.Details.WeakTLS,
			LeakCount:      r.Details.SensitiveLeaks,
			SubdomainCount: r.Details.SubdomainCount,
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO risk_records (
				run_id, subdomain, risk_score, open_ports, high_risk_ports,
				has_weak_ssl, leak_count, subdomain_count
			) VALUES (
				:run_id, :subdomain, :risk_score, :open_ports, :high_risk_ports,
				:has_weak_ssl, :leak_count, :subdomain_count
			)
		`, row)
		if err != nil {
			return fmt.Errorf("failed to save risk record %s: %w", r.Identity, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.WithContext(ctx).Infow("Run saved",
		"run_id", runID,
		"status", report.Summary.Status,
		"risk_records", len(report.Risks),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (s *sqlStore) GetRun(ctx context.Context, runID string) (*types.RunSummary, error) {
	var summary types.RunSummary
	err := s.db.GetContext(ctx, &summary, s.db.Rebind(`
		SELECT id, domain, status, error, asset_count, dropped, mean_risk,
			started_at, completed_at
		FROM runs
		WHERE id = ?
	`), runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, core.ErrNotFound)
		}
		return nil, err
	}
	return &summary, nil
}

func (s *sqlStore) ListRuns(ctx context.Context, filter core.RunFilter) ([]*types.RunSummary, error) {
	query := `
		SELECT id, domain, status, error, asset_count, dropped, mean_risk,
			started_at, completed_at
		FROM runs WHERE 1=1`
	var args []interface{}

	if filter.Domain != "" {
		query += " AND domain = ?"
		args = append(args, filter.Domain)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY started_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 && s.cfg.Driver == "sqlite3" {
			query += " LIMIT -1"
		}
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}

	runs := []*types.RunSummary{}
	if err := s.db.SelectContext(ctx, &runs, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *sqlStore) GetRiskRecords(ctx context.Context, runID string) ([]types.RiskRecord, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	var rows []riskRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT run_id, subdomain, risk_score, open_ports, high_risk_ports,
			has_weak_ssl, leak_count, subdomain_count
		FROM risk_records
		WHERE run_id = ?
		ORDER BY subdomain
	`), runID)
	if err != nil {
		return nil, err
	}

	records := make([]types.RiskRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, types.RiskRecord{
			Identity:  types.AssetIdentity(row.Subdomain),
			RiskScore: row.RiskScore,
			Details: types.FeatureVector{
				OpenPorts:         row.OpenPorts,
				HighRiskOpenPorts: row.HighRiskPorts,
				WeakTLS:           row.HasWeakSSL,
				SensitiveLeaks:    row.LeakCount,
				SubdomainCount:    row.SubdomainCount,
			},
		})
	}
	return records, nil
}

func (s *sqlStore) GetArtifact(ctx context.Context, runID, kind string) ([]byte, error) {
	var data string
	err := s.db.GetContext(ctx, &data,
		s.db.Rebind("SELECT data FROM artifacts WHERE run_id = ? AND kind = ?"), runID, kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("artifact %s for run %s: %w", kind, runID, core.ErrNotFound)
		}
		return nil, err
	}
	return []byte(data), nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
