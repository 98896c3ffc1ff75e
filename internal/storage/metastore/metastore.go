// Package metastore persists published schemas in an embedded DuckDB
// database so the registry survives process restarts.
//
// The metastore is a durable record, not a validator: append-only
// evolution is enforced by the schema registry before anything reaches
// this layer. SaveSchema replaces a target's rows inside one transaction,
// keeping the on-disk record all-or-nothing.
package metastore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/xtxerr/meterd/internal/logging"
	"github.com/xtxerr/meterd/internal/schema"
)

// Metastore wraps the schema database.
type Metastore struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the metastore at path.
// Use ":memory:" for an in-memory database (testing only).
func Open(path string) (*Metastore, error) {
	dsn := path
	if path == ":memory:" {
		dsn = ""
	}
	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metastore: %w", err)
	}

	m := &Metastore{
		db:  db,
		log: logging.Component("metastore"),
	}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// Close closes the database.
func (m *Metastore) Close() error {
	return m.db.Close()
}

// migrate creates the schema tables. Idempotent.
func (m *Metastore) migrate() error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "schema_targets",
			sql: `CREATE TABLE IF NOT EXISTS schema_targets (
				name VARCHAR NOT NULL,
				description VARCHAR,
				authz_scope VARCHAR,
				content_hash UBIGINT,
				updated_at TIMESTAMP DEFAULT now(),
				PRIMARY KEY (name)
			)`,
		},
		{
			name: "schema_target_versions",
			sql: `CREATE TABLE IF NOT EXISTS schema_target_versions (
				target VARCHAR NOT NULL,
				version UINTEGER NOT NULL,
				fields JSON NOT NULL,
				PRIMARY KEY (target, version)
			)`,
		},
		{
			name: "schema_fields",
			sql: `CREATE TABLE IF NOT EXISTS schema_fields (
				target VARCHAR NOT NULL,
				name VARCHAR NOT NULL,
				field_type VARCHAR NOT NULL,
				description VARCHAR,
				PRIMARY KEY (target, name)
			)`,
		},
		{
			name: "schema_metrics",
			sql: `CREATE TABLE IF NOT EXISTS schema_metrics (
				target VARCHAR NOT NULL,
				name VARCHAR NOT NULL,
				description VARCHAR,
				units VARCHAR,
				datum_type VARCHAR NOT NULL,
				PRIMARY KEY (target, name)
			)`,
		},
		{
			name: "schema_metric_versions",
			sql: `CREATE TABLE IF NOT EXISTS schema_metric_versions (
				target VARCHAR NOT NULL,
				metric VARCHAR NOT NULL,
				added_in UINTEGER NOT NULL,
				fields JSON NOT NULL,
				PRIMARY KEY (target, metric, added_in)
			)`,
		},
	}

	for _, mg := range migrations {
		if _, err := m.db.Exec(mg.sql); err != nil {
			return fmt.Errorf("migration %s: %w", mg.name, err)
		}
		m.log.Debug("migration applied", "name", mg.name)
	}

	m.log.Info("metastore migration completed", "migrations", len(migrations))
	return nil
}

// =============================================================================
// Save
// =============================================================================

// SaveSchema persists one published schema, replacing the target's prior
// record in a single transaction. A no-op when the stored content hash
// already matches.
func (m *Metastore) SaveSchema(s *schema.Schema) error {
	hash := s.ContentHash()

	stored, ok, err := m.contentHash(s.Target.Name)
	if err != nil {
		return err
	}
	if ok && stored == hash {
		m.log.Debug("schema unchanged", "target", s.Target.Name)
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, del := range []string{
		`DELETE FROM schema_metric_versions WHERE target = ?`,
		`DELETE FROM schema_metrics WHERE target = ?`,
		`DELETE FROM schema_fields WHERE target = ?`,
		`DELETE FROM schema_target_versions WHERE target = ?`,
		`DELETE FROM schema_targets WHERE name = ?`,
	} {
		if _, err := tx.Exec(del, s.Target.Name); err != nil {
			return fmt.Errorf("clear target %q: %w", s.Target.Name, err)
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO schema_targets (name, description, authz_scope, content_hash) VALUES (?, ?, ?, ?)`,
		s.Target.Name, s.Target.Description, s.Target.AuthzScope, hash,
	); err != nil {
		return fmt.Errorf("insert target: %w", err)
	}

	for _, tv := range s.Target.Versions {
		fields, err := json.Marshal(tv.Fields)
		if err != nil {
			return fmt.Errorf("encode target fields: %w", err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_target_versions (target, version, fields) VALUES (?, ?, ?)`,
			s.Target.Name, tv.Version, string(fields),
		); err != nil {
			return fmt.Errorf("insert target version %d: %w", tv.Version, err)
		}
	}

	for _, fs := range s.Fields {
		if _, err := tx.Exec(
			`INSERT INTO schema_fields (target, name, field_type, description) VALUES (?, ?, ?, ?)`,
			s.Target.Name, fs.Name, fs.Type.String(), fs.Description,
		); err != nil {
			return fmt.Errorf("insert field %q: %w", fs.Name, err)
		}
	}

	for i := range s.Metrics {
		ms := &s.Metrics[i]
		if _, err := tx.Exec(
			`INSERT INTO schema_metrics (target, name, description, units, datum_type) VALUES (?, ?, ?, ?, ?)`,
			s.Target.Name, ms.Name, ms.Description, ms.Units, ms.Datum.String(),
		); err != nil {
			return fmt.Errorf("insert metric %q: %w", ms.Name, err)
		}
		for _, ve := range ms.Versions {
			fields, err := json.Marshal(ve.Fields)
			if err != nil {
				return fmt.Errorf("encode metric fields: %w", err)
			}
			if _, err := tx.Exec(
				`INSERT INTO schema_metric_versions (target, metric, added_in, fields) VALUES (?, ?, ?, ?)`,
				s.Target.Name, ms.Name, ve.AddedIn, string(fields),
			); err != nil {
				return fmt.Errorf("insert metric %q version %d: %w", ms.Name, ve.AddedIn, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	m.log.Info("schema persisted", "target", s.Target.Name, "metrics", len(s.Metrics))
	return nil
}

// contentHash returns the stored content hash for a target.
func (m *Metastore) contentHash(target string) (uint64, bool, error) {
	var hash uint64
	err := m.db.QueryRow(
		`SELECT content_hash FROM schema_targets WHERE name = ?`, target,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load content hash: %w", err)
	}
	return hash, true, nil
}

// =============================================================================
// Load
// =============================================================================

// LoadAll reconstructs every persisted schema, typically to re-register
// them on startup.
func (m *Metastore) LoadAll() ([]*schema.Schema, error) {
	rows, err := m.db.Query(`SELECT name, description, authz_scope FROM schema_targets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("load targets: %w", err)
	}
	defer rows.Close()

	var schemas []*schema.Schema
	for rows.Next() {
		s := &schema.Schema{Fields: make(map[string]schema.FieldSpec)}
		if err := rows.Scan(&s.Target.Name, &s.Target.Description, &s.Target.AuthzScope); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		schemas = append(schemas, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, s := range schemas {
		if err := m.loadTarget(s); err != nil {
			return nil, err
		}
	}
	return schemas, nil
}

func (m *Metastore) loadTarget(s *schema.Schema) error {
	tvRows, err := m.db.Query(
		`SELECT version, fields FROM schema_target_versions WHERE target = ? ORDER BY version`,
		s.Target.Name,
	)
	if err != nil {
		return fmt.Errorf("load target versions: %w", err)
	}
	defer tvRows.Close()
	for tvRows.Next() {
		var tv schema.TargetVersion
		var fields string
		if err := tvRows.Scan(&tv.Version, &fields); err != nil {
			return fmt.Errorf("scan target version: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &tv.Fields); err != nil {
			return fmt.Errorf("decode target fields: %w", err)
		}
		s.Target.Versions = append(s.Target.Versions, tv)
	}
	if err := tvRows.Err(); err != nil {
		return err
	}

	fRows, err := m.db.Query(
		`SELECT name, field_type, description FROM schema_fields WHERE target = ?`,
		s.Target.Name,
	)
	if err != nil {
		return fmt.Errorf("load fields: %w", err)
	}
	defer fRows.Close()
	for fRows.Next() {
		var fs schema.FieldSpec
		var typeName string
		if err := fRows.Scan(&fs.Name, &typeName, &fs.Description); err != nil {
			return fmt.Errorf("scan field: %w", err)
		}
		ft, err := schema.ResolveFieldType(typeName)
		if err != nil {
			return fmt.Errorf("field %q: %w", fs.Name, err)
		}
		fs.Type = ft
		s.Fields[fs.Name] = fs
	}
	if err := fRows.Err(); err != nil {
		return err
	}

	mRows, err := m.db.Query(
		`SELECT name, description, units, datum_type FROM schema_metrics WHERE target = ? ORDER BY name`,
		s.Target.Name,
	)
	if err != nil {
		return fmt.Errorf("load metrics: %w", err)
	}
	defer mRows.Close()
	for mRows.Next() {
		var ms schema.MetricSpec
		var datumName string
		if err := mRows.Scan(&ms.Name, &ms.Description, &ms.Units, &datumName); err != nil {
			return fmt.Errorf("scan metric: %w", err)
		}
		dt, err := schema.ResolveDatumType(datumName)
		if err != nil {
			return fmt.Errorf("metric %q: %w", ms.Name, err)
		}
		ms.Datum = dt
		s.Metrics = append(s.Metrics, ms)
	}
	if err := mRows.Err(); err != nil {
		return err
	}

	for i := range s.Metrics {
		ms := &s.Metrics[i]
		veRows, err := m.db.Query(
			`SELECT added_in, fields FROM schema_metric_versions WHERE target = ? AND metric = ? ORDER BY added_in`,
			s.Target.Name, ms.Name,
		)
		if err != nil {
			return fmt.Errorf("load metric versions: %w", err)
		}
		for veRows.Next() {
			var ve schema.VersionEntry
			var fields string
			if err := veRows.Scan(&ve.AddedIn, &fields); err != nil {
				veRows.Close()
				return fmt.Errorf("scan metric version: %w", err)
			}
			if err := json.Unmarshal([]byte(fields), &ve.Fields); err != nil {
				veRows.Close()
				return fmt.Errorf("decode metric fields: %w", err)
			}
			ms.Versions = append(ms.Versions, ve)
		}
		if err := veRows.Err(); err != nil {
			veRows.Close()
			return err
		}
		veRows.Close()
	}

	return nil
}
