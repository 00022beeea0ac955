package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/Ghostmonday/formmonkeyplatform/internal/db"
	"github.com/Ghostmonday/formmonkeyplatform/internal/model"
)

// PostgresStore implements Store using pgxpool. Multi-operator deployments
// use Postgres so concurrent reviewers share one version history.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"current_version":   `SELECT COALESCE(MAX(version_id), 0) FROM field_versions WHERE field_id = $1`,
	"insert_version":    `INSERT INTO field_versions (field_id, version_id, value, confidence, produced_by, previous_version_id, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"latest_version":    `SELECT field_id, version_id, value, confidence, produced_by, previous_version_id, created_at FROM field_versions WHERE field_id = $1 ORDER BY version_id DESC LIMIT 1`,
	"get_version":       `SELECT field_id, version_id, value, confidence, produced_by, previous_version_id, created_at FROM field_versions WHERE field_id = $1 AND version_id = $2`,
	"insert_correction": `INSERT INTO corrections (id, field_id, original, corrected_value, reason_code, actor_id, tier, status, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	"update_correction": `UPDATE corrections SET status = $1 WHERE id = $2`,
	"insert_audit":      `INSERT INTO audit_events (id, field_id, action, actor_id, detail, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool; used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS field_versions (
	field_id            TEXT NOT NULL,
	version_id          BIGINT NOT NULL,
	value               TEXT NOT NULL,
	confidence          DOUBLE PRECISION NOT NULL DEFAULT 0,
	produced_by         TEXT NOT NULL,
	previous_version_id BIGINT,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (field_id, version_id)
);

CREATE TABLE IF NOT EXISTS corrections (
	id              TEXT PRIMARY KEY,
	field_id        TEXT NOT NULL,
	original        JSONB NOT NULL,
	corrected_value TEXT NOT NULL,
	reason_code     TEXT NOT NULL,
	actor_id        TEXT,
	tier            TEXT NOT NULL,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_events (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	field_id   TEXT,
	action     TEXT NOT NULL,
	actor_id   TEXT,
	detail     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS field_stats (
	field_name        TEXT PRIMARY KEY,
	corrections       BIGINT NOT NULL DEFAULT 0,
	avg_conf_delta    DOUBLE PRECISION NOT NULL DEFAULT 0,
	top_reason        TEXT,
	last_corrected_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_field_versions_field ON field_versions(field_id, version_id DESC);
CREATE INDEX IF NOT EXISTS idx_corrections_field ON corrections(field_id);
CREATE INDEX IF NOT EXISTS idx_corrections_status ON corrections(status);
CREATE INDEX IF NOT EXISTS idx_audit_events_field ON audit_events(field_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) AppendVersion(ctx context.Context, v model.FieldVersion) (*model.FieldVersion, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	stored, err := appendVersionPgx(ctx, tx, v)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit tx")
	}
	return stored, nil
}

// AppendVersions assigns version numbers per field inside one transaction
// and bulk-loads the rows with COPY.
func (s *PostgresStore) AppendVersions(ctx context.Context, vs []model.FieldVersion) ([]model.FieldVersion, error) {
	if len(vs) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Current high-water mark per field, read once.
	current := make(map[string]int64)
	for _, v := range vs {
		if _, ok := current[v.FieldID]; ok {
			continue
		}
		if err := lockFieldPgx(ctx, tx, v.FieldID); err != nil {
			return nil, err
		}
		var n int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version_id), 0) FROM field_versions WHERE field_id = $1`,
			v.FieldID,
		).Scan(&n); err != nil {
			return nil, eris.Wrapf(err, "postgres: current version for %s", v.FieldID)
		}
		current[v.FieldID] = n
	}

	out := make([]model.FieldVersion, 0, len(vs))
	rows := make([][]any, 0, len(vs))
	for _, v := range vs {
		prev := current[v.FieldID]
		v.VersionID = prev + 1
		v.PreviousVersionID = nil
		if prev > 0 {
			p := prev
			v.PreviousVersionID = &p
		}
		if v.Timestamp.IsZero() {
			v.Timestamp = time.Now().UTC()
		}
		current[v.FieldID] = v.VersionID

		out = append(out, v)
		rows = append(rows, []any{
			v.FieldID, v.VersionID, v.Value, v.Confidence,
			string(v.ProducedBy), v.PreviousVersionID, v.Timestamp,
		})
	}

	if _, err := db.CopyFrom(ctx, tx, "field_versions",
		[]string{"field_id", "version_id", "value", "confidence", "produced_by", "previous_version_id", "created_at"},
		rows,
	); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit tx")
	}
	return out, nil
}

// lockFieldPgx serializes version assignment per field for the duration of
// the transaction. An advisory lock covers the no-rows case too, where a
// row-level lock would have nothing to grab.
func lockFieldPgx(ctx context.Context, tx pgx.Tx, fieldID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, fieldID)
	return eris.Wrapf(err, "postgres: lock field %s", fieldID)
}

func appendVersionPgx(ctx context.Context, tx pgx.Tx, v model.FieldVersion) (*model.FieldVersion, error) {
	if err := lockFieldPgx(ctx, tx, v.FieldID); err != nil {
		return nil, err
	}
	var current int64
	err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_id), 0) FROM field_versions WHERE field_id = $1`,
		v.FieldID,
	).Scan(&current)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: current version for %s", v.FieldID)
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

	_, err = tx.Exec(ctx,
		`INSERT INTO field_versions (field_id, version_id, value, confidence, produced_by, previous_version_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.FieldID, v.VersionID, v.Value, v.Confidence, string(v.ProducedBy), v.PreviousVersionID, v.Timestamp,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert version for %s", v.FieldID)
	}
	return &v, nil
}

func (s *PostgresStore) LatestVersion(ctx context.Context, fieldID string) (*model.FieldVersion, error) {
	v, err := scanVersionPgx(s.pool.QueryRow(ctx,
		`SELECT field_id, version_id, value, confidence, produced_by, previous_version_id, created_at
		 FROM field_versions WHERE field_id = $1 ORDER BY version_id DESC LIMIT 1`,
		fieldID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest version for %s", fieldID)
	}
	return v, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, fieldID string, versionID int64) (*model.FieldVersion, error) {
	v, err := scanVersionPgx(s.pool.QueryRow(ctx,
		`SELECT field_id, version_id, value, confidence, produced_by, previous_version_id, created_at
		 FROM field_versions WHERE field_id = $1 AND version_id = $2`,
		fieldID, versionID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get version %d for %s", versionID, fieldID)
	}
	return v, nil
}

func (s *PostgresStore) History(ctx context.Context, fieldID string, limit int) ([]model.FieldVersion, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT field_id, version_id, value, confidence, produced_by, previous_version_id, created_at
		 FROM field_versions WHERE field_id = $1 ORDER BY version_id DESC LIMIT $2`,
		fieldID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: history for %s", fieldID)
	}
	defer rows.Close()

	var out []model.FieldVersion
	for rows.Next() {
		v, err := scanVersionPgx(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan version")
		}
		out = append(out, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: history iterate")
	}
	// Newest-first scan keeps the newest N under limit; return chronological.
	reverseVersions(out)
	return out, nil
}

func (s *PostgresStore) Rollback(ctx context.Context, fieldID string, toVersionID int64) (*model.FieldVersion, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := lockFieldPgx(ctx, tx, fieldID); err != nil {
		return nil, err
	}
	var latest int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version_id), 0) FROM field_versions WHERE field_id = $1`,
		fieldID,
	).Scan(&latest)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: latest version for %s", fieldID)
	}
	if latest == 0 {
		return nil, ErrUnknownField
	}
	if toVersionID <= 0 {
		toVersionID = latest - 1
	}

	target, err := scanVersionPgx(tx.QueryRow(ctx,
		`SELECT field_id, version_id, value, confidence, produced_by, previous_version_id, created_at
		 FROM field_versions WHERE field_id = $1 AND version_id = $2`,
		fieldID, toVersionID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: rollback target %d for %s", toVersionID, fieldID)
	}

	stored, err := appendVersionPgx(ctx, tx, model.FieldVersion{
		FieldID:    fieldID,
		Value:      target.Value,
		Confidence: target.Confidence,
		ProducedBy: model.ProducedByRollback,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit tx")
	}
	return stored, nil
}

func (s *PostgresStore) SaveCorrection(ctx context.Context, c model.Correction, status model.CorrectionStatus, tier model.Tier) error {
	originalJSON, err := json.Marshal(c.OriginalPrediction)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal original prediction")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO corrections (id, field_id, original, corrected_value, reason_code, actor_id, tier, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.FieldID, originalJSON, c.CorrectedValue, string(c.ReasonCode),
		c.ActorID, string(tier), string(status), c.Timestamp.UTC(),
	)
	return eris.Wrapf(err, "postgres: insert correction %s", c.ID)
}

func (s *PostgresStore) UpdateCorrectionStatus(ctx context.Context, correctionID string, status model.CorrectionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE corrections SET status = $1 WHERE id = $2`,
		string(status), correctionID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update correction status %s", correctionID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("correction not found: %s", correctionID)
	}
	return nil
}

func (s *PostgresStore) ListCorrections(ctx context.Context, filter CorrectionFilter) ([]model.StoredCorrection, error) {
	query := `SELECT id, field_id, original, corrected_value, reason_code, actor_id, tier, status, created_at
	          FROM corrections WHERE true`
	args := []any{}
	argIdx := 1

	if filter.FieldID != "" {
		query += fmt.Sprintf(` AND field_id = $%d`, argIdx)
		args = append(args, filter.FieldID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list corrections")
	}
	defer rows.Close()

	var out []model.StoredCorrection
	for rows.Next() {
		var sc model.StoredCorrection
		var originalJSON []byte
		var actorID *string
		if err := rows.Scan(&sc.ID, &sc.FieldID, &originalJSON, &sc.CorrectedValue,
			&sc.ReasonCode, &actorID, &sc.Tier, &sc.Status, &sc.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan correction")
		}
		if actorID != nil {
			sc.ActorID = *actorID
		}
		if err := json.Unmarshal(originalJSON, &sc.OriginalPrediction); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal original prediction")
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list corrections iterate")
}

func (s *PostgresStore) AppendAudit(ctx context.Context, e model.AuditEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_events (id, field_id, action, actor_id, detail, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.FieldID, string(e.Action), e.ActorID, e.Detail, e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert audit event")
}

// UpsertFieldStats bulk-upserts learning aggregates via a temp table.
func (s *PostgresStore) UpsertFieldStats(ctx context.Context, stats []model.FieldStat) error {
	if len(stats) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(stats))
	for _, st := range stats {
		rows = append(rows, []any{
			st.FieldName, st.Corrections, st.AvgConfDelta, st.TopReason, st.LastCorrectedAt.UTC(),
		})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "field_stats",
		Columns:      []string{"field_name", "corrections", "avg_conf_delta", "top_reason", "last_corrected_at"},
		ConflictKeys: []string{"field_name"},
	}, rows)
	return err
}

func (s *PostgresStore) ListFieldStats(ctx context.Context) ([]model.FieldStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field_name, corrections, avg_conf_delta, top_reason, last_corrected_at
		 FROM field_stats ORDER BY corrections DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list field stats")
	}
	defer rows.Close()

	var out []model.FieldStat
	for rows.Next() {
		var st model.FieldStat
		var topReason *string
		var lastAt *time.Time
		if err := rows.Scan(&st.FieldName, &st.Corrections, &st.AvgConfDelta, &topReason, &lastAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan field stats")
		}
		if topReason != nil {
			st.TopReason = *topReason
		}
		if lastAt != nil {
			st.LastCorrectedAt = *lastAt
		}
		out = append(out, st)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list field stats iterate")
}

func scanVersionPgx(row pgx.Row) (*model.FieldVersion, error) {
	var v model.FieldVersion
	var prev *int64
	err := row.Scan(&v.FieldID, &v.VersionID, &v.Value, &v.Confidence, &v.ProducedBy, &prev, &v.Timestamp)
	if err != nil {
		return nil, err
	}
	v.PreviousVersionID = prev
	return &v, nil
}
