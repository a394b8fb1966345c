package migration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"
)

type migrationStep struct {
	Name string
	SQL  string
}

var steps = []migrationStep{
	{
		Name: "create_extension_uuid_ossp",
		SQL:  `CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`,
	},
	{
		Name: "create_table_documents",
		SQL: `CREATE TABLE IF NOT EXISTS documents (
  id              UUID        PRIMARY KEY,
  tenant_id       UUID        NOT NULL,
  owner_id        UUID        NOT NULL,
  filename        TEXT        NOT NULL,
  content_type    TEXT        NOT NULL,
  size_bytes      BIGINT      NOT NULL CHECK (size_bytes >= 0),
  title           TEXT        NOT NULL DEFAULT '',
  description     TEXT        NOT NULL DEFAULT '',
  tags            JSONB       NOT NULL DEFAULT '[]',
  attributes      JSONB       NOT NULL DEFAULT '{}',
  status          TEXT        NOT NULL,
  current_version INTEGER     NOT NULL CHECK (current_version >= 1),
  checksum        TEXT        NOT NULL,
  scan_failed     BOOLEAN     NOT NULL DEFAULT FALSE,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_documents_tenant",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_tenant ON documents (tenant_id, id);`,
	},
	{
		Name: "create_index_documents_owner",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents (tenant_id, owner_id);`,
	},
	{
		Name: "create_index_documents_status",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_status ON documents (status);`,
	},
	{
		Name: "create_index_documents_created_at",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents (created_at);`,
	},
	{
		Name: "create_index_documents_tags",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_documents_tags ON documents USING gin (tags);`,
	},
	{
		Name: "create_table_document_versions",
		SQL: `CREATE TABLE IF NOT EXISTS document_versions (
  id           UUID        PRIMARY KEY DEFAULT uuid_generate_v4(),
  document_id  UUID        NOT NULL REFERENCES documents (id),
  version      INTEGER     NOT NULL CHECK (version >= 1),
  backend      TEXT        NOT NULL,
  bucket       TEXT        NOT NULL,
  key          TEXT        NOT NULL,
  region       TEXT        NOT NULL,
  endpoint_url TEXT        NOT NULL DEFAULT '',
  size_bytes   BIGINT      NOT NULL,
  checksum     TEXT        NOT NULL,
  created_by   UUID        NOT NULL,
  description  TEXT        NOT NULL DEFAULT '',
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (document_id, version)
);`,
	},
	{
		Name: "create_table_scan_results",
		SQL: `CREATE TABLE IF NOT EXISTS scan_results (
  scan_id         UUID        PRIMARY KEY,
  document_id     UUID        NOT NULL REFERENCES documents (id),
  version         INTEGER     NOT NULL,
  status          TEXT        NOT NULL,
  result          TEXT        NOT NULL DEFAULT '',
  threats         JSONB       NOT NULL DEFAULT '[]',
  scanner_version TEXT        NOT NULL DEFAULT '',
  duration_ms     BIGINT      NOT NULL DEFAULT 0,
  scanned_at      TIMESTAMPTZ,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_scan_results_document",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_scan_results_document ON scan_results (document_id, created_at);`,
	},
	{
		Name: "create_table_outbox_events",
		SQL: `CREATE TABLE IF NOT EXISTS outbox_events (
  event_id        UUID        PRIMARY KEY,
  event_type      TEXT        NOT NULL,
  document_id     UUID        NOT NULL,
  tenant_id       UUID        NOT NULL,
  version         INTEGER     NOT NULL,
  payload         JSONB       NOT NULL,
  attempts        INTEGER     NOT NULL DEFAULT 0,
  next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);`,
	},
	{
		Name: "create_index_outbox_events_due",
		SQL:  `CREATE INDEX IF NOT EXISTS idx_outbox_events_due ON outbox_events (next_attempt_at, created_at);`,
	},
}

// EnsureMigrated checks if the 'documents' table exists and runs migrations if it doesn't.
func EnsureMigrated(ctx context.Context, db *sql.DB, loc *time.Location, dbHost string) error {
	start := time.Now()

	logJSON(loc, map[string]any{
		"component": "database",
		"event":     "db_migration_check",
		"status":    "starting",
		"db_host":   dbHost,
	})

	var exists bool
	query := "SELECT to_regclass('public.documents') IS NOT NULL"
	err := db.QueryRowContext(ctx, query).Scan(&exists)
	if err != nil {
		logJSON(loc, map[string]any{
			"component":     "database",
			"event":         "db_migration_failed",
			"status":        "error",
			"error_message": fmt.Sprintf("failed to check sentinel table: %v", err),
			"db_host":       dbHost,
			"duration_ms":   time.Since(start).Milliseconds(),
		})
		return fmt.Errorf("failed to check sentinel table: %w", err)
	}

	if exists {
		logJSON(loc, map[string]any{
			"component":   "database",
			"event":       "db_migration_skip",
			"status":      "success",
			"msg":         "schema already exists, skipping migration",
			"db_host":     dbHost,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return nil
	}

	logJSON(loc, map[string]any{
		"component": "database",
		"event":     "db_migration_start",
		"status":    "in_progress",
		"db_host":   dbHost,
	})

	for _, step := range steps {
		stepStart := time.Now()
		_, err := db.ExecContext(ctx, step.SQL)
		if err != nil {
			logJSON(loc, map[string]any{
				"component":        "database",
				"event":            "db_migration_failed",
				"status":           "error",
				"migration_step":   step.Name,
				"error_message":    err.Error(),
				"db_host":          dbHost,
				"duration_ms":      time.Since(start).Milliseconds(),
				"step_duration_ms": time.Since(stepStart).Milliseconds(),
			})
			return fmt.Errorf("migration step %s failed: %w", step.Name, err)
		}

		logJSON(loc, map[string]any{
			"component":        "database",
			"event":            "db_migration_step",
			"status":           "success",
			"migration_step":   step.Name,
			"db_host":          dbHost,
			"step_duration_ms": time.Since(stepStart).Milliseconds(),
		})
	}

	logJSON(loc, map[string]any{
		"component":   "database",
		"event":       "db_migration_success",
		"status":      "success",
		"db_host":     dbHost,
		"duration_ms": time.Since(start).Milliseconds(),
	})

	return nil
}

func logJSON(loc *time.Location, data map[string]any) {
	data["ts"] = time.Now().In(loc).Format(time.RFC3339Nano)
	if _, ok := data["level"]; !ok {
		if data["status"] == "error" {
			data["level"] = "error"
		} else {
			data["level"] = "info"
		}
	}

	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("failed to marshal migration log: %v", err)
		return
	}
	log.SetFlags(0)
	log.Println(string(b))
}
