package logbook

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/logger"
)

const backupDirName = "backups"

func backupDatabase(db *sql.DB, dbPath string, version int) (string, error) {
	dir := filepath.Join(filepath.Dir(dbPath), backupDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup_dir",
			Path:  dir,
			Error: err.Error(),
		})
	}

	timestamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := filepath.Join(dir, fmt.Sprintf("logbook_v%d_%s.db", version, timestamp))

	// VACUUM INTO requires no active transaction
	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", backupPath)); err != nil {
		return "", errFactory.WithData(ErrSchemaMigrationFailed, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_backup",
			Path:  backupPath,
			Error: err.Error(),
		})
	}

	logger.Info().
		Str("path", backupPath).
		Int("version", version).
		Msg("logbook backup created")

	return backupPath, nil
}

// ValidateAndUpdateSchema initializes a fresh database and rebuilds an
// out-of-version one. An existing database is backed up before its
// tables are dropped.
func ValidateAndUpdateSchema(db *sql.DB, dbPath string) error {
	version, err := GetSchemaVersion(db)
	if err != nil {
		return err
	}

	if version == SchemaVersion {
		logger.Debug().Int("version", version).Msg("logbook schema is current")
		return nil
	}

	if version != 0 {
		if _, err := backupDatabase(db, dbPath, version); err != nil {
			return err
		}
		if err := dropTables(db); err != nil {
			return err
		}
	}

	return InitSchema(db)
}

func dropTables(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("failed to roll back drop tables")
			}
		}
	}()

	// samples first, it references discharges
	tables := []string{"samples", "discharges", "schema_versions"}
	for _, table := range tables {
		if _, err := tx.Exec("DROP TABLE IF EXISTS " + table); err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Phase string
				Table string
				Error string
			}{
				Phase: "drop_table",
				Table: table,
				Error: err.Error(),
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaMigrationFailed, err)
	}
	committed = true

	return nil
}
