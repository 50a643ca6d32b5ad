package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const defaultOpTimeout = 5 * time.Second

type dialect struct {
	name   string
	rebind func(string) string
}

var sqliteDialect = dialect{name: "sqlite", rebind: func(q string) string { return q }}

var postgresDialect = dialect{name: "postgres", rebind: dollarPlaceholders}

// dollarPlaceholders rewrites ? placeholders as $1, $2, ...
func dollarPlaceholders(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore is a Store over database/sql. The record row and its delivery
// rows are written in one transaction so readers never see half a record.
type SQLStore struct {
	db        *sql.DB
	dialect   dialect
	opTimeout time.Duration
	now       func() time.Time
}

// OpenSQLite opens (creating if needed) a SQLite routing database.
func OpenSQLite(path string, opTimeout time.Duration) (*SQLStore, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open routing db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	// One writer connection serializes upserts for the single-file database.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, sqliteDialect, opTimeout), nil
}

func newSQLStore(db *sql.DB, d dialect, opTimeout time.Duration) *SQLStore {
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &SQLStore{db: db, dialect: d, opTimeout: opTimeout, now: time.Now}
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Put(ctx context.Context, rec *Record) error {
	if rec == nil || strings.TrimSpace(rec.OriginKey) == "" {
		return errors.New("routing record requires an origin key")
	}
	unresolved := rec.Unresolved
	if unresolved == nil {
		unresolved = []string{}
	}
	unresolvedJSON, err := json.Marshal(unresolved)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "put", Err: err}
	}
	defer tx.Rollback()

	var storedCreated string
	err = tx.QueryRowContext(ctx, s.dialect.rebind(`
		INSERT INTO routing_records (origin_key, origin_channel, unresolved, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(origin_key) DO UPDATE SET
			origin_channel = excluded.origin_channel,
			unresolved = excluded.unresolved,
			updated_at = excluded.updated_at
		RETURNING created_at
	`), rec.OriginKey, rec.OriginChannel, string(unresolvedJSON), formatTime(createdAt), formatTime(now)).Scan(&storedCreated)
	if err != nil {
		return &StorageError{Op: "put", Err: err}
	}
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM routing_deliveries WHERE origin_key = ?`), rec.OriginKey); err != nil {
		return &StorageError{Op: "put", Err: err}
	}
	insert := s.dialect.rebind(`
		INSERT INTO routing_deliveries (thread_channel, thread_ts, origin_key, position, recipient, endpoint)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	for i, d := range rec.Deliveries {
		if _, err := tx.ExecContext(ctx, insert, d.Thread.Channel, d.Thread.TS, rec.OriginKey, i, d.Recipient, d.Endpoint); err != nil {
			return &StorageError{Op: "put", Err: fmt.Errorf("delivery %s: %w", d.Thread, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "put", Err: err}
	}

	rec.CreatedAt = parseTime(storedCreated)
	rec.UpdatedAt = now
	rec.Unresolved = unresolved
	return nil
}

const selectRecord = `
	SELECT r.origin_key, r.origin_channel, r.unresolved, r.created_at, r.updated_at,
		d.recipient, d.endpoint, d.thread_channel, d.thread_ts
	FROM routing_records r
	LEFT JOIN routing_deliveries d ON d.origin_key = r.origin_key
`

func (s *SQLStore) Get(ctx context.Context, originKey string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.queryRecord(ctx, "get", selectRecord+`WHERE r.origin_key = ? ORDER BY d.position`, originKey)
}

func (s *SQLStore) FindByDerivedThread(ctx context.Context, ref ThreadRef) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()
	return s.queryRecord(ctx, "find_by_derived_thread", selectRecord+`
		WHERE r.origin_key = (
			SELECT origin_key FROM routing_deliveries WHERE thread_channel = ? AND thread_ts = ?
		)
		ORDER BY d.position`, ref.Channel, ref.TS)
}

// queryRecord runs a single statement so the record and its deliveries come
// from the same snapshot.
func (s *SQLStore) queryRecord(ctx context.Context, op, query string, args ...any) (*Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var rec *Record
	for rows.Next() {
		var (
			key, channel, unresolved, created, updated   string
			recipient, endpoint, threadChannel, threadTS sql.NullString
		)
		if err := rows.Scan(&key, &channel, &unresolved, &created, &updated,
			&recipient, &endpoint, &threadChannel, &threadTS); err != nil {
			return nil, &StorageError{Op: op, Err: err}
		}
		if rec == nil {
			rec = &Record{
				OriginKey:     key,
				OriginChannel: channel,
				CreatedAt:     parseTime(created),
				UpdatedAt:     parseTime(updated),
			}
			if err := json.Unmarshal([]byte(unresolved), &rec.Unresolved); err != nil {
				return nil, &StorageError{Op: op, Err: fmt.Errorf("decode unresolved: %w", err)}
			}
		}
		if threadTS.Valid {
			rec.Deliveries = append(rec.Deliveries, Delivery{
				Recipient: recipient.String,
				Endpoint:  endpoint.String,
				Thread:    ThreadRef{Channel: threadChannel.String, TS: threadTS.String},
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
