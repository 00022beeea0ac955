package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. This is the
// default backend for single-operator deployments and the CLI.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// The version-number transaction assumes writers serialize.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS field_versions (
	field_id            TEXT NOT NULL,
	version_id          INTEGER NOT NULL,
	value               TEXT NOT NULL,
	confidence          REAL NOT NULL DEFAULT 0,
	produced_by         TEXT NOT NULL,
	previous_version_id INTEGER,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (field_id, version_id)
);

CREATE TABLE IF NOT EXISTS corrections (
	id              TEXT PRIMARY KEY,
	field_id        TEXT NOT NULL,
	original        TEXT NOT NULL,
	corrected_value TEXT NOT NULL,
	reason_code     TEXT NOT NULL,
	actor_id        TEXT,
	tier            TEXT NOT NULL,
	status          TEXT NOT NULL,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY,
	field_id   TEXT,
	action     TEXT NOT NULL,
	actor_id   TEXT,
	detail     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS field_stats (
	field_name        TEXT PRIMARY KEY,
	corrections       INTEGER NOT NULL DEFAULT 0,
	avg_conf_delta    REAL NOT NULL DEFAULT 0,
	top_reason        TEXT,
	last_corrected_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_field_versions_field ON field_versions(field_id, version_id DESC);
CREATE INDEX IF NOT EXISTS idx_corrections_field ON corrections(field_id);
CREATE INDEX IF NOT EXISTS idx_corrections_status ON corrections(status);
CREATE INDEX IF NOT EXISTS idx_audit_events_field ON audit_events(field_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) AppendVersion(ctx context.Context, v model.FieldVersion) (*model.FieldVersion, error) {
	var out *model.FieldVersion
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stored, err := appendVersionTx(ctx, tx, v)
		if err != nil {
			return err
		}
		out = stored
		return nil
	})
	return out, err
}

func (s *SQLiteStore) AppendVersions(ctx context.Context, vs []model.FieldVersion) ([]model.FieldVersion, error) {
	if len(vs) == 0 {
		return nil, nil
	}
	out := make([]model.FieldVersion, 0, len(vs))
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, v := range vs {
			stored, err := appendVersionTx(ctx, tx, v)
			if err != nil {
				return err
			}
			out = append(out, *stored)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// appendVersionTx assigns the next version number for the field and
// inserts the row. Runs inside the caller's transaction so the MAX read
// and the insert are atomic.
func appendVersionTx(ctx context.Context, tx *sql.Tx, v model.FieldVersion) (*model.FieldVersion, error) {
	var current int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_id), 0) FROM field_versions WHERE field_id = ?`,
		v.FieldID,
	).Scan(&current)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: current version for %s", v.FieldID)
	}

	v.VersionID = current + 1
	v.PreviousVersionID = nil
	if current > 0 {
		prev := current
		v.PreviousVersionID = &prev
	}
	if v.Timestamp.IsZero() {
		v.Timestamp = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO field_versions (field_id, version_id, value, confidence, produced_by, previous_version_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.FieldID, v.VersionID, v.Value, v.Confidence, string(v.ProducedBy), v.PreviousVersionID, v.Timestamp,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert version for %s", v.FieldID)
	}
	return &v, nil
}

func (s *SQLiteStore) LatestVersion(ctx context.Context, fieldID string) (*model.FieldVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT field_id, version_id, value, confidence, produced_by, previous_version_id, created_at
		 FROM field_versions WHERE field_id = ? ORDER BY version_id DESC LIMIT 1`,
		fieldID,
	)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest version for %s", fieldID)
	}
	return v, nil
}

func (s *SQLiteStore) GetVersion(ctx context.Context, fieldID string, versionID int64) (*model.FieldVersion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT field_id, version_id, value, confidence, produced_by, previous_version_id, created_at
		 FROM field_versions WHERE field_id = ? AND version_id = ?`,
		fieldID, versionID,
	)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get version %d for %s", versionID, fieldID)
	}
	return v, nil
}

func (s *SQLiteStore) History(ctx context.Context, fieldID string, limit int) ([]model.FieldVersion, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_id, version_id, value, confidence, produced_by, previous_version_id, created_at
		 FROM field_versions WHERE field_id = ? ORDER BY version_id DESC LIMIT ?`,
		fieldID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: history for %s", fieldID)
	}
	defer rows.Close()

	var out []model.FieldVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan version")
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: history iterate")
	}
	// The query reads newest-first so limit keeps the newest N; callers
	// get the versions in chronological order.
	reverseVersions(out)
	return out, nil
}

func (s *SQLiteStore) Rollback(ctx context.Context, fieldID string, toVersionID int64) (*model.FieldVersion, error) {
	var out *model.FieldVersion
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var latest int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version_id), 0) FROM field_versions WHERE field_id = ?`,
			fieldID,
		).Scan(&latest)
		if err != nil {
			return eris.Wrapf(err, "sqlite: latest version for %s", fieldID)
		}
		if latest == 0 {
			return ErrUnknownField
		}
		if toVersionID <= 0 {
			toVersionID = latest - 1
		}

		row := tx.QueryRowContext(ctx,
			`SELECT field_id, version_id, value, confidence, produced_by, previous_version_id, created_at
			 FROM field_versions WHERE field_id = ? AND version_id = ?`,
			fieldID, toVersionID,
		)
		target, err := scanVersion(row)
		if err == sql.ErrNoRows {
			return ErrVersionNotFound
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: rollback target %d for %s", toVersionID, fieldID)
		}

		stored, err := appendVersionTx(ctx, tx, model.FieldVersion{
			FieldID:    fieldID,
			Value:      target.Value,
			Confidence: target.Confidence,
			ProducedBy: model.ProducedByRollback,
		})
		if err != nil {
			return err
		}
		out = stored
		return nil
	})
	return out, err
}

func (s *SQLiteStore) SaveCorrection(ctx context.Context, c model.Correction, status model.CorrectionStatus, tier model.Tier) error {
	originalJSON, err := json.Marshal(c.OriginalPrediction)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal original prediction")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO corrections (id, field_id, original, corrected_value, reason_code, actor_id, tier, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.FieldID, string(originalJSON), c.CorrectedValue, string(c.ReasonCode),
		c.ActorID, string(tier), string(status), c.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "sqlite: insert correction %s", c.ID)
}

func (s *SQLiteStore) UpdateCorrectionStatus(ctx context.Context, correctionID string, status model.CorrectionStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE corrections SET status = ? WHERE id = ?`,
		string(status), correctionID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update correction status %s", correctionID)
	}
	return checkRowsAffected(res, "correction", correctionID)
}

func (s *SQLiteStore) ListCorrections(ctx context.Context, filter CorrectionFilter) ([]model.StoredCorrection, error) {
	query := `SELECT id, field_id, original, corrected_value, reason_code, actor_id, tier, status, created_at
	          FROM corrections WHERE 1=1`
	var args []any

	if filter.FieldID != "" {
		query += ` AND field_id = ?`
		args = append(args, filter.FieldID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list corrections")
	}
	defer rows.Close()

	var out []model.StoredCorrection
	for rows.Next() {
		var sc model.StoredCorrection
		var originalJSON string
		var actorID sql.NullString
		if err := rows.Scan(&sc.ID, &sc.FieldID, &originalJSON, &sc.CorrectedValue,
			&sc.ReasonCode, &actorID, &sc.Tier, &sc.Status, &sc.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan correction")
		}
		if actorID.Valid {
			sc.ActorID = actorID.String
		}
		if err := json.Unmarshal([]byte(originalJSON), &sc.OriginalPrediction); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal original prediction")
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list corrections iterate")
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, e model.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (id, field_id, action, actor_id, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.FieldID, string(e.Action), e.ActorID, string(e.Detail), e.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert audit event")
}

func (s *SQLiteStore) UpsertFieldStats(ctx context.Context, stats []model.FieldStat) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, st := range stats {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO field_stats (field_name, corrections, avg_conf_delta, top_reason, last_corrected_at)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT (field_name) DO UPDATE SET
				   corrections = excluded.corrections,
				   avg_conf_delta = excluded.avg_conf_delta,
				   top_reason = excluded.top_reason,
				   last_corrected_at = excluded.last_corrected_at`,
				st.FieldName, st.Corrections, st.AvgConfDelta, st.TopReason, st.LastCorrectedAt.UTC(),
			)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert field stats %s", st.FieldName)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) ListFieldStats(ctx context.Context) ([]model.FieldStat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_name, corrections, avg_conf_delta, top_reason, last_corrected_at
		 FROM field_stats ORDER BY corrections DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list field stats")
	}
	defer rows.Close()

	var out []model.FieldStat
	for rows.Next() {
		var st model.FieldStat
		var topReason sql.NullString
		var lastAt sql.NullTime
		if err := rows.Scan(&st.FieldName, &st.Corrections, &st.AvgConfDelta, &topReason, &lastAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan field stats")
		}
		if topReason.Valid {
			st.TopReason = topReason.String
		}
		if lastAt.Valid {
			st.LastCorrectedAt = lastAt.Time
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list field stats iterate")
}

// helpers

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanVersion(row scannable) (*model.FieldVersion, error) {
	var v model.FieldVersion
	var prev sql.NullInt64
	err := row.Scan(&v.FieldID, &v.VersionID, &v.Value, &v.Confidence, &v.ProducedBy, &prev, &v.Timestamp)
	if err != nil {
		return nil, err
	}
	if prev.Valid {
		p := prev.Int64
		v.PreviousVersionID = &p
	}
	return &v, nil
}
