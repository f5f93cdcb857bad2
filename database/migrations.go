package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mycobrun/cobrun-location/geometry"
)

//go:embed migrations
var embeddedMigrations embed.FS

// Migration represents a single migration.
type Migration struct {
	Version    int
	Name       string
	UpScript   string
	DownScript string
	ExecutedAt *time.Time
}

// Migrator handles database migrations.
type Migrator struct {
	db         *SQLClient
	tableName  string
	migrations []Migration
}

// MigratorOption configures the migrator.
type MigratorOption func(*Migrator)

// WithTableName sets the migrations tracking table name.
func WithTableName(name string) MigratorOption {
	return func(m *Migrator) {
		m.tableName = name
	}
}

// NewMigrator creates a new migrator.
func NewMigrator(db *SQLClient, opts ...MigratorOption) *Migrator {
	m := &Migrator{
		db:        db,
		tableName: "schema_migrations",
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// LoadEmbedded loads the bundled migrations for dialect's family.
func (m *Migrator) LoadEmbedded(dialect geometry.Dialect) error {
	return m.LoadFromFS(embeddedMigrations, path.Join("migrations", dialect.Family().String()))
}

// LoadFromFS loads migrations from a filesystem.
// Expected structure: dir/001_create_locations.up.sql, dir/001_create_locations.down.sql
func (m *Migrator) LoadFromFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	migrationsMap := make(map[int]*Migration)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}

		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}

		version, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", name, err)
		}

		if _, ok := migrationsMap[version]; !ok {
			migrationsMap[version] = &Migration{Version: version}
		}
		migration := migrationsMap[version]

		switch {
		case strings.HasSuffix(name, ".up.sql"):
			migration.UpScript = string(content)
			migration.Name = strings.TrimSuffix(parts[1], ".up.sql")
		case strings.HasSuffix(name, ".down.sql"):
			migration.DownScript = string(content)
		}
	}

	m.migrations = make([]Migration, 0, len(migrationsMap))
	for _, migration := range migrationsMap {
		m.migrations = append(m.migrations, *migration)
	}
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})

	return nil
}

// AddMigration adds a migration programmatically.
func (m *Migrator) AddMigration(version int, name, up, down string) {
	m.migrations = append(m.migrations, Migration{
		Version:    version,
		Name:       name,
		UpScript:   up,
		DownScript: down,
	})
	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})
}

// Migrations returns the loaded migrations in version order.
func (m *Migrator) Migrations() []Migration {
	return m.migrations
}

func (m *Migrator) createTableSQL() string {
	executedAt := "TIMESTAMPTZ NOT NULL DEFAULT now()"
	if m.db.Dialect().Family() == geometry.DialectMySQL {
		executedAt = "DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	version INT PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	executed_at %s
)`, m.tableName, executedAt)
}

// Initialize creates the migrations tracking table.
func (m *Migrator) Initialize(ctx context.Context) error {
	if _, err := m.db.Exec(ctx, m.createTableSQL()); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// MigrationStatus represents the status of a migration.
type MigrationStatus struct {
	Version    int
	Name       string
	Applied    bool
	ExecutedAt *time.Time
}

// Status returns the migration status.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}

	executed := make(map[int]time.Time)
	rows, err := m.db.Query(ctx, fmt.Sprintf("SELECT version, executed_at FROM %s", m.tableName))
	if err != nil {
		return nil, fmt.Errorf("failed to get migration status: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var version int
		var executedAt time.Time
		if err := rows.Scan(&version, &executedAt); err != nil {
			return nil, err
		}
		executed[version] = executedAt
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, len(m.migrations))
	for i, migration := range m.migrations {
		status := MigrationStatus{
			Version: migration.Version,
			Name:    migration.Name,
		}
		if t, ok := executed[migration.Version]; ok {
			status.Applied = true
			status.ExecutedAt = &t
		}
		statuses[i] = status
	}

	return statuses, nil
}

// Up runs all pending migrations.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	for i, status := range statuses {
		if status.Applied {
			continue
		}

		migration := m.migrations[i]
		if migration.UpScript == "" {
			return applied, fmt.Errorf("migration %d has no up script", migration.Version)
		}

		if err := m.runMigration(ctx, migration, true); err != nil {
			return applied, fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}

		applied++
	}

	return applied, nil
}

// Down rolls back the last applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	statuses, err := m.Status(ctx)
	if err != nil {
		return err
	}

	for i := len(statuses) - 1; i >= 0; i-- {
		if statuses[i].Applied {
			migration := m.migrations[i]
			if migration.DownScript == "" {
				return fmt.Errorf("migration %d has no down script", migration.Version)
			}
			return m.runMigration(ctx, migration, false)
		}
	}

	return nil
}

// runMigration executes a script and records it. MySQL commits DDL
// implicitly, so a failed script there can leave partial changes behind.
func (m *Migrator) runMigration(ctx context.Context, migration Migration, isUp bool) error {
	return m.db.WithTransaction(ctx, func(tx *Transaction) error {
		script := migration.DownScript
		if isUp {
			script = migration.UpScript
		}

		for _, stmt := range splitStatements(script) {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute statement: %w", err)
			}
		}

		if isUp {
			query := fmt.Sprintf("INSERT INTO %s (version, name) VALUES (?, ?)", m.tableName)
			if _, err := tx.Exec(ctx, query, migration.Version, migration.Name); err != nil {
				return fmt.Errorf("failed to record migration: %w", err)
			}
		} else {
			query := fmt.Sprintf("DELETE FROM %s WHERE version = ?", m.tableName)
			if _, err := tx.Exec(ctx, query, migration.Version); err != nil {
				return fmt.Errorf("failed to remove migration record: %w", err)
			}
		}

		return nil
	})
}

// splitStatements splits a script into statements on lines ending in a
// semicolon. Comment-only lines are dropped. The MySQL driver rejects
// multi-statement Exec calls by default.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder

	flush := func() {
		if stmt := strings.TrimSpace(current.String()); stmt != "" {
			statements = append(statements, stmt)
		}
		current.Reset()
	}

	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		if strings.HasSuffix(trimmed, ";") {
			current.WriteString(strings.TrimSuffix(trimmed, ";"))
			flush()
			continue
		}

		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	return statements
}

// Version returns the current migration version.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	if err := m.Initialize(ctx); err != nil {
		return 0, err
	}

	row := m.db.QueryRow(ctx, fmt.Sprintf("SELECT MAX(version) FROM %s", m.tableName))

	var version sql.NullInt64
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}

	return int(version.Int64), nil
}
