package logbook

import (
	"database/sql"

	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/logger"
)

const (
	SchemaVersion = 1

	// Timestamps are unix milliseconds; elapsed_s is seconds of load-on
	// time at the sample.
	createTablesSQL = `
	CREATE TABLE IF NOT EXISTS schema_versions (
	    version     INTEGER PRIMARY KEY,
	    applied_at  TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS discharges (
	    id               INTEGER PRIMARY KEY AUTOINCREMENT,
	    registration     TEXT NOT NULL,
	    profile_name     TEXT NOT NULL,
	    operator         TEXT NOT NULL DEFAULT '',
	    location         TEXT NOT NULL DEFAULT '',
	    mode             TEXT NOT NULL DEFAULT '',
	    instrument       TEXT NOT NULL DEFAULT '',
	    started_at       INTEGER NOT NULL,
	    ended_at         INTEGER,
	    total_energy_kwh REAL,
	    aborted          INTEGER NOT NULL DEFAULT 0 CHECK (aborted IN (0, 1)),
	    comment          TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS samples (
	    id           INTEGER PRIMARY KEY AUTOINCREMENT,
	    discharge_id INTEGER NOT NULL REFERENCES discharges(id),
	    ts           INTEGER NOT NULL,
	    elapsed_s    REAL NOT NULL,
	    step_index   INTEGER NOT NULL,
	    voltage      REAL NOT NULL,
	    current      REAL NOT NULL,
	    power        REAL NOT NULL,
	    energy_kwh   REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_samples_discharge ON samples(discharge_id);`

	insertSchemaVersionSQL = `
	INSERT INTO schema_versions (version, applied_at)
	VALUES (?, datetime('now'))`

	selectSchemaVersionSQL = `
	SELECT version
	FROM schema_versions
	ORDER BY version DESC
	LIMIT 1`

	tableExistsSQL = `
	SELECT EXISTS (
	    SELECT 1 FROM sqlite_master
	    WHERE type='table' AND name=?
	)`

	insertDischargeSQL = `
	INSERT INTO discharges (
	    registration, profile_name, operator, location, mode, instrument,
	    started_at, comment
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	insertSampleSQL = `
	INSERT INTO samples (
	    discharge_id, ts, elapsed_s, step_index,
	    voltage, current, power, energy_kwh
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	completeDischargeSQL = `
	UPDATE discharges
	SET ended_at = ?, total_energy_kwh = ?, aborted = ?, comment = ?
	WHERE id = ?`

	faultDischargeSQL = `
	UPDATE discharges
	SET ended_at = ?, aborted = 1, comment = ?
	WHERE id = ?`

	selectRecentSQL = `
	SELECT id, registration, profile_name, operator, location, mode,
	       instrument, started_at, ended_at, total_energy_kwh, aborted, comment
	FROM discharges
	ORDER BY started_at DESC, id DESC
	LIMIT ?`

	selectDischargeSQL = `
	SELECT id, registration, profile_name, operator, location, mode,
	       instrument, started_at, ended_at, total_energy_kwh, aborted, comment
	FROM discharges
	WHERE id = ?`

	selectSamplesSQL = `
	SELECT ts, elapsed_s, step_index, voltage, current, power, energy_kwh
	FROM samples
	WHERE discharge_id = ?
	ORDER BY id`
)

// InitSchema creates the logbook schema and records its version, all in
// one transaction.
func InitSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
				logger.Debug().Err(err).Msg("failed to roll back schema transaction")
			}
		}
	}()

	if _, err := tx.Exec(createTablesSQL); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	if _, err := tx.Exec(insertSchemaVersionSQL, SchemaVersion); err != nil {
		return errFactory.WithData(ErrSchemaInitFailed, struct {
			Phase string
			Error string
		}{
			Phase: "record_version",
			Error: err.Error(),
		})
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}
	committed = true

	logger.Info().Int("version", SchemaVersion).Msg("logbook schema initialized")

	return nil
}

// GetSchemaVersion returns the recorded schema version, zero for a
// database without one.
func GetSchemaVersion(db *sql.DB) (int, error) {
	exists, err := TableExists(db, "schema_versions")
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, nil
	}

	var version int
	err = db.QueryRow(selectSchemaVersionSQL).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	return version, nil
}

// TableExists checks if a table exists.
func TableExists(db *sql.DB, tableName string) (bool, error) {
	var exists bool
	if err := db.QueryRow(tableExistsSQL, tableName).Scan(&exists); err != nil {
		return false, errFactory.WithData(ErrSchemaValidationFailed, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}

	return exists, nil
}
