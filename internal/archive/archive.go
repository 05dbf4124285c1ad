// Package archive optionally mirrors completed URL Records into Postgres,
// alongside the mandatory JSONL result store. Disabled unless
// config.ArchiveConfig.DSN is set; nothing in the core run path depends
// on it.
//
// Adapted from the teacher's internal/storage/storage.go SQLWriter: same
// open/ping/auto-create-database/auto-migrate/retry-on-undefined-table
// shape, re-pointed from a generic "pages" table at a url_records table
// matching model.URLRecord's fields, and narrowed to the one verb this
// spec needs (Archive) instead of the teacher's broader
// RelationalStore/VectorStore/Pipeline fan-out (there is no vector or
// media sink in this spec, so that abstraction layer is dropped).
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	pq "github.com/lib/pq"

	"github.com/chernistry/tavily/internal/config"
	"github.com/chernistry/tavily/internal/model"
)

// PostgresArchiver mirrors completed URL Records into a url_records table.
type PostgresArchiver struct {
	db          *sql.DB
	autoMigrate bool
}

// New opens (and, if configured, auto-creates/auto-migrates) the archive
// database. Returns an error if cfg.DSN is empty — callers should check
// cfg.DSN != "" before calling New, matching the teacher's
// driver-or-dsn-missing guard.
func New(cfg config.ArchiveConfig) (*PostgresArchiver, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("archive config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open archive connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		if cfg.CreateIfMissing && shouldAttemptCreateDatabase(cfg.Driver, err) {
			_ = db.Close()
			if err := createDatabase(ctx, cfg); err != nil {
				return nil, err
			}
			db, err = sql.Open(cfg.Driver, cfg.DSN)
			if err != nil {
				return nil, fmt.Errorf("reopen archive connection: %w", err)
			}
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("ping archive connection: %w", err)
			}
		} else {
			return nil, fmt.Errorf("ping archive connection: %w", err)
		}
	}

	archiver := &PostgresArchiver{db: db, autoMigrate: cfg.AutoMigrate}
	if cfg.AutoMigrate {
		if err := archiver.ensureSchema(context.Background()); err != nil {
			return nil, err
		}
	}
	return archiver, nil
}

// Archive upserts one completed URL Record, keyed by URL. A nil receiver
// or nil db is a no-op, letting callers hold a possibly-disabled
// *PostgresArchiver without a nil check at every call site.
func (a *PostgresArchiver) Archive(ctx context.Context, rec model.URLRecord) error {
	if a == nil || a.db == nil {
		return nil
	}
	if err := a.upsertRecord(ctx, rec); err != nil {
		if a.autoMigrate && isUndefinedTableErr(err) {
			if schemaErr := a.ensureSchema(ctx); schemaErr != nil {
				return fmt.Errorf("ensure schema: %w", schemaErr)
			}
			if retryErr := a.upsertRecord(ctx, rec); retryErr != nil {
				return fmt.Errorf("insert url record: %w", retryErr)
			}
			return nil
		}
		return fmt.Errorf("insert url record: %w", err)
	}
	return nil
}

func (a *PostgresArchiver) upsertRecord(ctx context.Context, rec model.URLRecord) error {
	query := `
        INSERT INTO url_records (
            url, host, method, stage, status, http_status, latency_ms,
            content_length, block_type, block_vendor, error_kind,
            error_message, timestamp, shard_index
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        ON CONFLICT (url) DO UPDATE SET
            host = EXCLUDED.host,
            method = EXCLUDED.method,
            stage = EXCLUDED.stage,
            status = EXCLUDED.status,
            http_status = EXCLUDED.http_status,
            latency_ms = EXCLUDED.latency_ms,
            content_length = EXCLUDED.content_length,
            block_type = EXCLUDED.block_type,
            block_vendor = EXCLUDED.block_vendor,
            error_kind = EXCLUDED.error_kind,
            error_message = EXCLUDED.error_message,
            timestamp = EXCLUDED.timestamp,
            shard_index = EXCLUDED.shard_index
    `
	_, err := a.db.ExecContext(ctx, query,
		rec.URL, rec.Host, string(rec.Method), string(rec.Stage), string(rec.Status),
		rec.HTTPStatus, rec.LatencyMS, rec.ContentLength, string(rec.BlockType),
		rec.BlockVendor, rec.ErrorKind, rec.ErrorMessage, rec.Timestamp, rec.ShardIndex,
	)
	return err
}

// Close closes the underlying DB connection. A nil receiver is a no-op.
func (a *PostgresArchiver) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *PostgresArchiver) ensureSchema(ctx context.Context) error {
	if a == nil || a.db == nil || !a.autoMigrate {
		return nil
	}
	schemaCtx := ctx
	if schemaCtx == nil || schemaCtx.Err() != nil {
		schemaCtx = context.Background()
	}
	schemaCtx, cancel := context.WithTimeout(schemaCtx, 10*time.Second)
	defer cancel()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS url_records (
		    url TEXT PRIMARY KEY,
		    host TEXT,
		    method TEXT,
		    stage TEXT,
		    status TEXT,
		    http_status INT,
		    latency_ms BIGINT,
		    content_length INT,
		    block_type TEXT,
		    block_vendor TEXT,
		    error_kind TEXT,
		    error_message TEXT,
		    timestamp TIMESTAMPTZ,
		    shard_index INT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_url_records_status ON url_records (status)`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.ExecContext(schemaCtx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func shouldAttemptCreateDatabase(driver string, err error) bool {
	if !strings.EqualFold(driver, "postgres") {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "3D000"
	}
	return strings.Contains(strings.ToLower(err.Error()), "does not exist")
}

func createDatabase(ctx context.Context, cfg config.ArchiveConfig) error {
	parsed, err := url.Parse(cfg.DSN)
	if err != nil {
		return fmt.Errorf("parse dsn: %w", err)
	}
	dbName := strings.TrimPrefix(parsed.Path, "/")
	if dbName == "" {
		return errors.New("dsn missing database name")
	}
	if strings.EqualFold(dbName, "postgres") {
		return fmt.Errorf("target database %q cannot be auto-created", dbName)
	}
	parsed.Path = "/postgres"
	adminDSN := parsed.String()
	adminDB, err := sql.Open(cfg.Driver, adminDSN)
	if err != nil {
		return fmt.Errorf("connect admin database: %w", err)
	}
	defer adminDB.Close()
	if err := adminDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping admin database: %w", err)
	}
	stmt := fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(dbName))
	if _, err := adminDB.ExecContext(ctx, stmt); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42P04" {
			return nil
		}
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	return nil
}

func isUndefinedTableErr(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "relation") && strings.Contains(lower, "does not exist")
}
