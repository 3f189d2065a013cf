package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adyach/nakadi/internal/domain"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS event_types (
	name TEXT PRIMARY KEY,
	partitions INTEGER NOT NULL,
	retention_ms INTEGER NOT NULL,
	created_at_utc_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS storages (
	id TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	config_json TEXT NOT NULL,
	created_at_utc_ns INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS timelines (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	tl_order INTEGER NOT NULL,
	storage_id TEXT NOT NULL,
	topic TEXT NOT NULL,
	created_at_utc_ns INTEGER NOT NULL,
	switched_at_utc_ns INTEGER,
	latest_position_json TEXT,
	UNIQUE(event_type, tl_order)
);

CREATE INDEX IF NOT EXISTS idx_timelines_event_type_order ON timelines(event_type, tl_order);
`

// SQLiteStore keeps metadata in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// Write transactions take the database lock up front so that concurrent
// timeline switches queue instead of failing on lock upgrade.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir metadata dir: %w", err)
	}
	dsn := "file:" + path + "?_txlock=immediate&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply metadata schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) GetEventType(ctx context.Context, name string) (domain.EventType, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name, partitions, retention_ms, created_at_utc_ns FROM event_types WHERE name = ?`, name)
	et, err := scanEventType(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.EventType{}, fmt.Errorf("%w: %s", domain.ErrEventTypeNotFound, name)
	}
	return et, err
}

func (s *SQLiteStore) ListEventTypes(ctx context.Context) ([]domain.EventType, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, partitions, retention_ms, created_at_utc_ns FROM event_types ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.EventType
	for rows.Next() {
		et, err := scanEventType(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, et)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateEventType(ctx context.Context, et domain.EventType) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO event_types(name, partitions, retention_ms, created_at_utc_ns) VALUES(?, ?, ?, ?)`,
		et.Name, et.Partitions, et.RetentionTimeMs, et.CreatedAt.UTC().UnixNano())
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: event type %s", domain.ErrAlreadyExists, et.Name)
	}
	return err
}

func (s *SQLiteStore) GetStorage(ctx context.Context, id string) (domain.Storage, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, config_json, created_at_utc_ns FROM storages WHERE id = ?`, id)
	st, err := scanStorage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Storage{}, fmt.Errorf("%w: %s", domain.ErrStorageNotFound, id)
	}
	return st, err
}

func (s *SQLiteStore) ListStorages(ctx context.Context) ([]domain.Storage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, config_json, created_at_utc_ns FROM storages ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Storage
	for rows.Next() {
		st, err := scanStorage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateStorage(ctx context.Context, st domain.Storage) error {
	cfg, err := json.Marshal(st.Kafka)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO storages(id, type, config_json, created_at_utc_ns) VALUES(?, ?, ?, ?)`,
		st.ID, string(st.Type), string(cfg), st.CreatedAt.UTC().UnixNano())
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: storage %s", domain.ErrAlreadyExists, st.ID)
	}
	return err
}

func (s *SQLiteStore) ListTimelines(ctx context.Context, eventType string) ([]domain.Timeline, error) {
	return queryTimelines(ctx, s.db, eventType)
}

func (s *SQLiteStore) ActiveTimeline(ctx context.Context, eventType string) (domain.Timeline, bool, error) {
	tls, err := s.ListTimelines(ctx, eventType)
	if err != nil {
		return domain.Timeline{}, false, err
	}
	tl, ok := activeOf(tls)
	return tl, ok, nil
}

// RunInTransaction runs fn inside BEGIN IMMEDIATE ... COMMIT.
func (s *SQLiteStore) RunInTransaction(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) ListTimelines(ctx context.Context, eventType string) ([]domain.Timeline, error) {
	return queryTimelines(ctx, t.tx, eventType)
}

func (t *sqliteTx) InsertTimeline(ctx context.Context, tl domain.Timeline) error {
	if err := validateTimeline(tl); err != nil {
		return err
	}
	switched, pos, err := timelineColumns(tl)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, `
INSERT INTO timelines(id, event_type, tl_order, storage_id, topic, created_at_utc_ns, switched_at_utc_ns, latest_position_json)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		tl.ID, tl.EventType, tl.Order, tl.StorageID, tl.Topic, tl.CreatedAt.UTC().UnixNano(), switched, pos)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: timeline %d of %s already exists", domain.ErrConcurrentUpdate, tl.Order, tl.EventType)
	}
	return err
}

func (t *sqliteTx) UpdateTimeline(ctx context.Context, tl domain.Timeline) error {
	if err := validateTimeline(tl); err != nil {
		return err
	}
	switched, pos, err := timelineColumns(tl)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, `
UPDATE timelines SET storage_id = ?, topic = ?, switched_at_utc_ns = ?, latest_position_json = ?
WHERE event_type = ? AND tl_order = ?`,
		tl.StorageID, tl.Topic, switched, pos, tl.EventType, tl.Order)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("update timeline %d of %s: no such row", tl.Order, tl.EventType)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func queryTimelines(ctx context.Context, q queryer, eventType string) ([]domain.Timeline, error) {
	rows, err := q.QueryContext(ctx, `
SELECT id, event_type, tl_order, storage_id, topic, created_at_utc_ns, switched_at_utc_ns, latest_position_json
FROM timelines WHERE event_type = ? ORDER BY tl_order`, eventType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Timeline
	for rows.Next() {
		var (
			tl       domain.Timeline
			created  int64
			switched sql.NullInt64
			pos      sql.NullString
		)
		if err := rows.Scan(&tl.ID, &tl.EventType, &tl.Order, &tl.StorageID, &tl.Topic, &created, &switched, &pos); err != nil {
			return nil, err
		}
		tl.CreatedAt = time.Unix(0, created).UTC()
		if switched.Valid {
			at := time.Unix(0, switched.Int64).UTC()
			tl.SwitchedAt = &at
		}
		if pos.Valid && pos.String != "" {
			var sp domain.StoragePosition
			if err := json.Unmarshal([]byte(pos.String), &sp); err != nil {
				return nil, fmt.Errorf("decode latest position of %s/%d: %w", tl.EventType, tl.Order, err)
			}
			tl.LatestPosition = &sp
		}
		out = append(out, tl)
	}
	return out, rows.Err()
}

func timelineColumns(tl domain.Timeline) (sql.NullInt64, sql.NullString, error) {
	var switched sql.NullInt64
	if tl.SwitchedAt != nil {
		switched = sql.NullInt64{Int64: tl.SwitchedAt.UTC().UnixNano(), Valid: true}
	}
	var pos sql.NullString
	if tl.LatestPosition != nil {
		b, err := json.Marshal(tl.LatestPosition)
		if err != nil {
			return switched, pos, err
		}
		pos = sql.NullString{String: string(b), Valid: true}
	}
	return switched, pos, nil
}

func scanEventType(r rowScanner) (domain.EventType, error) {
	var (
		et      domain.EventType
		created int64
	)
	if err := r.Scan(&et.Name, &et.Partitions, &et.RetentionTimeMs, &created); err != nil {
		return domain.EventType{}, err
	}
	et.CreatedAt = time.Unix(0, created).UTC()
	return et, nil
}

func scanStorage(r rowScanner) (domain.Storage, error) {
	var (
		st      domain.Storage
		typ     string
		cfg     string
		created int64
	)
	if err := r.Scan(&st.ID, &typ, &cfg, &created); err != nil {
		return domain.Storage{}, err
	}
	st.Type = domain.StorageType(typ)
	st.CreatedAt = time.Unix(0, created).UTC()
	if cfg != "" && cfg != "null" {
		var k domain.KafkaStorage
		if err := json.Unmarshal([]byte(cfg), &k); err != nil {
			return domain.Storage{}, fmt.Errorf("decode storage %s config: %w", st.ID, err)
		}
		st.Kafka = &k
	}
	return st, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
