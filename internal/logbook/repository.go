package logbook

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"codeberg.org/hvlab/dischargectl/internal/engine"
	"codeberg.org/hvlab/dischargectl/internal/errors"
	"codeberg.org/hvlab/dischargectl/internal/logger"
)

const defaultRecentLimit = 50

type repository struct {
	db *sql.DB
	mu sync.Mutex
}

// newRepository wraps an open handle; tests inject their own.
func newRepository(db *sql.DB) *repository {
	return &repository{db: db}
}

func openRepository(cfg Config) (*repository, error) {
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errFactory.WithData(ErrStorageInit, struct {
				Phase string
				Path  string
				Error string
			}{
				Phase: "create_directory",
				Path:  cfg.Path,
				Error: err.Error(),
			})
		}
	}

	// WAL keeps the 1 Hz sample inserts off the readers' backs.
	dsn := cfg.Path + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	if err := ValidateAndUpdateSchema(db, cfg.Path); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	logger.Info().
		Str("path", cfg.Path).
		Int("schema_version", SchemaVersion).
		Msg("logbook opened")

	return newRepository(db), nil
}

func (r *repository) insertDischarge(info engine.SessionInfo) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(insertDischargeSQL,
		info.Metadata.Registration,
		info.Profile.Name,
		info.Metadata.Operator,
		info.Metadata.Location,
		info.Metadata.Mode,
		info.Identity.Raw,
		info.StartedAt.UnixMilli(),
		info.Metadata.Comment,
	)
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, errFactory.Wrap(ErrStorageAccess, err)
	}

	return id, nil
}

func (r *repository) insertSample(dischargeID int64, s engine.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(insertSampleSQL,
		dischargeID,
		s.Timestamp.UnixMilli(),
		s.Elapsed.Seconds(),
		s.StepIndex,
		s.Voltage,
		s.Current,
		s.Power,
		s.CumulativeKWh,
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *repository) completeDischarge(dischargeID int64, sum engine.Summary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(completeDischargeSQL,
		sum.EndedAt.UnixMilli(),
		sum.TotalKWh,
		boolToInt(sum.Aborted),
		sum.Metadata.Comment,
		dischargeID,
	)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *repository) faultDischarge(dischargeID int64, endedAt time.Time, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(faultDischargeSQL, endedAt.UnixMilli(), note, dischargeID)
	if err != nil {
		return errFactory.Wrap(ErrStorageAccess, err)
	}

	return nil
}

func (r *repository) RecentSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	rows, err := r.db.QueryContext(ctx, selectRecentSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return out, nil
}

func (r *repository) SessionData(ctx context.Context, id int64) (*SessionDetail, error) {
	rec, err := scanSession(r.db.QueryRowContext(ctx, selectDischargeSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errFactory.New(ErrNotFound).
			WithData(struct{ ID int64 }{ID: id})
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	rows, err := r.db.QueryContext(ctx, selectSamplesSQL, id)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}
	defer rows.Close()

	detail := &SessionDetail{SessionRecord: rec}
	for rows.Next() {
		var (
			sr SampleRecord
			ts int64
		)
		if err := rows.Scan(&ts, &sr.ElapsedSeconds, &sr.StepIndex,
			&sr.Voltage, &sr.Current, &sr.Power, &sr.EnergyKWh); err != nil {
			return nil, errFactory.Wrap(ErrStorageAccess, err)
		}
		sr.Timestamp = time.UnixMilli(ts)
		detail.Samples = append(detail.Samples, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrStorageAccess, err)
	}

	return detail, nil
}

func (r *repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		logger.Debug().Err(err).Msg("wal checkpoint on close failed")
	}

	if err := r.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var (
		rec       SessionRecord
		startedAt int64
		endedAt   sql.NullInt64
		total     sql.NullFloat64
		aborted   int
	)

	err := row.Scan(&rec.ID, &rec.Registration, &rec.ProfileName, &rec.Operator,
		&rec.Location, &rec.Mode, &rec.Instrument, &startedAt, &endedAt, &total,
		&aborted, &rec.Comment)
	if err != nil {
		return SessionRecord{}, err
	}

	rec.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		rec.EndedAt = &t
	}
	if total.Valid {
		v := total.Float64
		rec.TotalKWh = &v
	}
	rec.Aborted = aborted != 0

	return rec, nil
}
