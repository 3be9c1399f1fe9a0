package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/xkilldash9x/lancet-cli/api/schemas"
)

// DBPool abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides PostgreSQL persistence for scans and findings.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// PersistScan writes the scan row and its findings in one transaction.
func (s *Store) PersistScan(ctx context.Context, envelope *schemas.ResultEnvelope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after commit reports ErrTxClosed; that is the normal path.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if err := s.persistScanRow(ctx, tx, envelope); err != nil {
		return err
	}

	if len(envelope.Findings) > 0 {
		if err := s.persistFindings(ctx, tx, envelope.ScanID, envelope.Findings); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistScanRow(ctx context.Context, tx pgx.Tx, envelope *schemas.ResultEnvelope) error {
	sql := `
        INSERT INTO scans (id, target, framework, files_scanned, files_skipped, source_count, sink_count, started_at, duration_ms, ruleset_origin)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (id) DO UPDATE SET
            files_scanned = EXCLUDED.files_scanned,
            files_skipped = EXCLUDED.files_skipped,
            source_count = EXCLUDED.source_count,
            sink_count = EXCLUDED.sink_count,
            duration_ms = EXCLUDED.duration_ms;
    `
	sum := envelope.Summary
	_, err := tx.Exec(ctx, sql,
		envelope.ScanID, sum.Target, sum.Framework,
		sum.FilesScanned, sum.FilesSkipped,
		sum.SourceCount, sum.SinkCount,
		sum.StartedAt.UTC(), sum.Duration.Milliseconds(),
		sum.RulesetOrigin,
	)
	if err != nil {
		return fmt.Errorf("failed to insert scan row: %w", err)
	}
	return nil
}

func (s *Store) persistFindings(ctx context.Context, tx pgx.Tx, scanID string, findings []schemas.Finding) error {
	rows := make([][]interface{}, len(findings))
	for i, f := range findings {
		evidence := f.Evidence
		if len(evidence) == 0 || string(evidence) == "null" {
			evidence = json.RawMessage("{}")
		}

		rows[i] = []interface{}{
			f.ID, scanID,
			f.Target, f.Line, f.Module, f.VulnerabilityName,
			string(f.Severity), f.Description,
			evidence,
			f.Recommendation, f.CWE,
			f.ObservedAt.UTC(),
		}
	}

	copyCount, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"findings"},
		[]string{"id", "scan_id", "target", "line", "module", "vulnerability_name", "severity", "description", "evidence", "recommendation", "cwe", "observed_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(findings) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(findings), copyCount)
	}

	return nil
}

// GetFindingsByScanID loads the persisted findings of one scan.
func (s *Store) GetFindingsByScanID(ctx context.Context, scanID string) ([]schemas.Finding, error) {
	query := `
        SELECT id, observed_at, target, line, module, vulnerability_name, severity, description, evidence, recommendation, cwe
        FROM findings
        WHERE scan_id = $1
        ORDER BY observed_at ASC, target ASC, line ASC;
    `
	rows, err := s.pool.Query(ctx, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		var f schemas.Finding
		var severityStr string

		err := rows.Scan(
			&f.ID, &f.ObservedAt, &f.Target, &f.Line, &f.Module,
			&f.VulnerabilityName,
			&severityStr,
			&f.Description, &f.Evidence, &f.Recommendation,
			&f.CWE,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}

		f.Severity = schemas.Severity(severityStr)
		f.ScanID = scanID
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return findings, nil
}
