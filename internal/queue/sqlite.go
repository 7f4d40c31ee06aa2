package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"instancescheduler/internal/domain"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EnsureSchema creates the task table if it doesn't exist.
func EnsureSchema(db *sql.DB, table string) error {
	if !tableName.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	schema := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
  key TEXT PRIMARY KEY,
  task TEXT NOT NULL,
  resource_type TEXT NOT NULL,
  resource_id TEXT NOT NULL,
  scheduled_time TEXT NOT NULL,
  remaining_retry_count INTEGER NOT NULL DEFAULT 0,
  ttl INTEGER NOT NULL DEFAULT 0,
  last_modified TEXT NOT NULL,
  payload BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_ttl ON %[1]s(ttl);
`, table)
	_, err := db.Exec(schema)
	return err
}

// SQLiteBackend keeps one row per task key. Rows whose ttl has passed are
// purged on every scan and never returned, emulating a store-side expiry.
type SQLiteBackend struct {
	db    *sql.DB
	table string
}

func NewSQLiteBackend(db *sql.DB, table string) (*SQLiteBackend, error) {
	if err := EnsureSchema(db, table); err != nil {
		return nil, err
	}
	return &SQLiteBackend{db: db, table: table}, nil
}

// DB returns the underlying database connection.
func (b *SQLiteBackend) DB() *sql.DB { return b.db }

const columns = `key,task,resource_type,resource_id,scheduled_time,remaining_retry_count,ttl,last_modified,payload`

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (domain.Task, error) {
	var (
		t       domain.Task
		kind    string
		rtype   string
		payload []byte
	)
	if err := row.Scan(&t.Key, &kind, &rtype, &t.ResourceID, &t.ScheduledTime, &t.RemainingRetryCount, &t.TTL, &t.LastModified, &payload); err != nil {
		return domain.Task{}, err
	}
	t.Kind = domain.Kind(kind)
	t.ResourceType = domain.ResourceType(rtype)
	p, err := domain.DecodePayload(t.Kind, payload)
	if err != nil {
		return t, err
	}
	t.Payload = p
	return t, t.Validate()
}

func (b *SQLiteBackend) Purge(ctx context.Context, now time.Time) (int, error) {
	res, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE ttl > 0 AND ttl < ?`, b.table), now.Unix())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (b *SQLiteBackend) Scan(ctx context.Context, now time.Time) ([]domain.Task, error) {
	if n, err := b.Purge(ctx, now); err != nil {
		return nil, fmt.Errorf("purge expired: %w", err)
	} else if n > 0 {
		log.Info().Int("purged", n).Msg("purged expired task records")
	}

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY scheduled_time, key`, columns, b.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			log.Warn().Err(err).Str("key", t.Key).Msg("skipping undecodable task record")
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (b *SQLiteBackend) Get(ctx context.Context, key string, now time.Time) (domain.Task, error) {
	row := b.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE key=? AND (ttl = 0 OR ttl >= ?)`, columns, b.table), key, now.Unix())
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, ErrNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("task %s: %w", key, err)
	}
	return t, nil
}

func (b *SQLiteBackend) Put(ctx context.Context, t domain.Task) error {
	payload, err := domain.EncodePayload(t.Payload)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx, fmt.Sprintf(`
INSERT OR REPLACE INTO %s (%s)
VALUES (?,?,?,?,?,?,?,?,?)`, b.table, columns),
		t.Key, string(t.Kind), string(t.ResourceType), t.ResourceID, t.ScheduledTime,
		t.RemainingRetryCount, t.TTL, t.LastModified, payload)
	return err
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE key=?`, b.table), key)
	return err
}
