package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

// Dialect names accepted by NewSQLStore.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// SQLStore implements Store on database/sql. Queries are written with "?"
// placeholders and rebound for postgres.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore opens dsn with the given dialect and creates missing tables.
// For sqlite the dsn is a file path.
func NewSQLStore(ctx context.Context, dialect, dsn string) (*SQLStore, error) {
	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite"
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	case DialectPostgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("storage: unknown sql dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", Err: err}
	}
	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &StorageError{Op: "open", Entity: "store", Err: err}
	}

	s := &SQLStore{db: db, dialect: dialect}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect == DialectPostgres {
		serial = "BIGSERIAL PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS credentials (
			user_id TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			expiry BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			user_id TEXT PRIMARY KEY,
			monitor_interval INTEGER NOT NULL,
			default_quality TEXT NOT NULL,
			api_key TEXT NOT NULL,
			privacy TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS channels (
			id ` + serial + `,
			user_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			name TEXT NOT NULL,
			logo_url TEXT NOT NULL,
			last_video_count BIGINT NOT NULL,
			last_checked BIGINT NOT NULL,
			quality TEXT NOT NULL,
			monitor_interval INTEGER NOT NULL,
			added_at BIGINT NOT NULL,
			UNIQUE (user_id, channel_id)
		)`,
		`CREATE TABLE IF NOT EXISTS automation_logs (
			id ` + serial + `,
			user_id TEXT NOT NULL,
			ts BIGINT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			countdown BOOLEAN NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS automation_logs_user ON automation_logs (user_id, id)`,
		`CREATE TABLE IF NOT EXISTS service_state (
			user_id TEXT PRIMARY KEY,
			enabled BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS upload_history (
			id ` + serial + `,
			user_id TEXT NOT NULL,
			job_id TEXT NOT NULL,
			source_url TEXT NOT NULL,
			platform TEXT NOT NULL,
			video_id TEXT NOT NULL,
			video_url TEXT NOT NULL,
			title TEXT NOT NULL,
			completed_at BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &StorageError{Op: "migrate", Entity: "store", Err: err}
		}
	}
	return nil
}

// rebind rewrites "?" placeholders as $1..$n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// --- TokenStore implementation ---

func (s *SQLStore) GetTokens(ctx context.Context, userID string) (*Credentials, error) {
	c := &Credentials{UserID: userID}
	var expiry, updated int64
	err := s.queryRow(ctx,
		`SELECT access_token, refresh_token, expiry, updated_at FROM credentials WHERE user_id = ?`,
		userID).Scan(&c.AccessToken, &c.RefreshToken, &expiry, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StorageError{Op: "read", Entity: "tokens", ID: userID, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "tokens", ID: userID, Err: err}
	}
	c.Expiry, c.UpdatedAt = fromMillis(expiry), fromMillis(updated)
	return c, nil
}

func (s *SQLStore) PutTokens(ctx context.Context, creds *Credentials) error {
	if creds.UserID == "" {
		return &StorageError{Op: "update", Entity: "tokens", Err: ErrInvalidInput}
	}
	_, err := s.exec(ctx, `INSERT INTO credentials (user_id, access_token, refresh_token, expiry, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET access_token = excluded.access_token,
			refresh_token = excluded.refresh_token, expiry = excluded.expiry,
			updated_at = excluded.updated_at`,
		creds.UserID, creds.AccessToken, creds.RefreshToken, toMillis(creds.Expiry), toMillis(time.Now()))
	if err != nil {
		return &StorageError{Op: "update", Entity: "tokens", ID: creds.UserID, Err: err}
	}
	return nil
}

// --- SettingsStore implementation ---

func (s *SQLStore) GetSettings(ctx context.Context, userID string) (*Settings, error) {
	st := &Settings{UserID: userID}
	var updated int64
	err := s.queryRow(ctx,
		`SELECT monitor_interval, default_quality, api_key, privacy, updated_at FROM settings WHERE user_id = ?`,
		userID).Scan(&st.MonitorInterval, &st.DefaultQuality, &st.APIKey, &st.Privacy, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &StorageError{Op: "read", Entity: "settings", ID: userID, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "settings", ID: userID, Err: err}
	}
	st.UpdatedAt = fromMillis(updated)
	return st, nil
}

func (s *SQLStore) PutSettings(ctx context.Context, st *Settings) error {
	if st.UserID == "" {
		return &StorageError{Op: "update", Entity: "settings", Err: ErrInvalidInput}
	}
	_, err := s.exec(ctx, `INSERT INTO settings (user_id, monitor_interval, default_quality, api_key, privacy, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET monitor_interval = excluded.monitor_interval,
			default_quality = excluded.default_quality, api_key = excluded.api_key,
			privacy = excluded.privacy, updated_at = excluded.updated_at`,
		st.UserID, st.MonitorInterval, st.DefaultQuality, st.APIKey, st.Privacy, toMillis(time.Now()))
	if err != nil {
		return &StorageError{Op: "update", Entity: "settings", ID: st.UserID, Err: err}
	}
	return nil
}

// --- ChannelStore implementation ---

func (s *SQLStore) AddChannel(ctx context.Context, ch *MonitoredChannel) error {
	if ch.UserID == "" || ch.ChannelID == "" {
		return &StorageError{Op: "create", Entity: "channel", Err: ErrInvalidInput}
	}
	added := ch.AddedAt
	if added.IsZero() {
		added = time.Now()
	}
	res, err := s.exec(ctx, `INSERT INTO channels (user_id, channel_id, name, logo_url, last_video_count,
			last_checked, quality, monitor_interval, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, channel_id) DO NOTHING`,
		ch.UserID, ch.ChannelID, ch.Name, ch.LogoURL, ch.LastVideoCount,
		toMillis(ch.LastChecked), ch.Quality, ch.MonitorInterval, toMillis(added))
	if err != nil {
		return &StorageError{Op: "create", Entity: "channel", ID: ch.ChannelID, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &StorageError{Op: "create", Entity: "channel", ID: ch.ChannelID, Err: ErrAlreadyExists}
	}
	return nil
}

func (s *SQLStore) UpdateChannel(ctx context.Context, ch *MonitoredChannel) error {
	res, err := s.exec(ctx, `UPDATE channels SET name = ?, logo_url = ?, last_video_count = ?,
			last_checked = ?, quality = ?, monitor_interval = ?
		WHERE user_id = ? AND channel_id = ?`,
		ch.Name, ch.LogoURL, ch.LastVideoCount, toMillis(ch.LastChecked), ch.Quality,
		ch.MonitorInterval, ch.UserID, ch.ChannelID)
	if err != nil {
		return &StorageError{Op: "update", Entity: "channel", ID: ch.ChannelID, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &StorageError{Op: "update", Entity: "channel", ID: ch.ChannelID, Err: ErrNotFound}
	}
	return nil
}

func (s *SQLStore) RemoveChannel(ctx context.Context, userID, channelID string) error {
	res, err := s.exec(ctx, `DELETE FROM channels WHERE user_id = ? AND channel_id = ?`, userID, channelID)
	if err != nil {
		return &StorageError{Op: "delete", Entity: "channel", ID: channelID, Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &StorageError{Op: "delete", Entity: "channel", ID: channelID, Err: ErrNotFound}
	}
	return nil
}

func (s *SQLStore) ListChannels(ctx context.Context, userID string) ([]*MonitoredChannel, error) {
	rows, err := s.query(ctx, `SELECT channel_id, name, logo_url, last_video_count, last_checked,
			quality, monitor_interval, added_at
		FROM channels WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "channel", Err: err}
	}
	defer rows.Close()

	channels := []*MonitoredChannel{}
	for rows.Next() {
		ch := &MonitoredChannel{UserID: userID}
		var checked, added int64
		if err := rows.Scan(&ch.ChannelID, &ch.Name, &ch.LogoURL, &ch.LastVideoCount, &checked,
			&ch.Quality, &ch.MonitorInterval, &added); err != nil {
			return nil, &StorageError{Op: "read", Entity: "channel", Err: err}
		}
		ch.LastChecked, ch.AddedAt = fromMillis(checked), fromMillis(added)
		channels = append(channels, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "read", Entity: "channel", Err: err}
	}
	return channels, nil
}

// --- LogStore implementation ---

func (s *SQLStore) AppendLog(ctx context.Context, userID string, entry LogEntry, retention int) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "create", Entity: "log", Err: err}
	}
	defer tx.Rollback()

	var lastID int64
	var lastCountdown bool
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT id, countdown FROM automation_logs WHERE user_id = ? ORDER BY id DESC LIMIT 1`),
		userID).Scan(&lastID, &lastCountdown)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return &StorageError{Op: "create", Entity: "log", Err: err}
	}

	if entry.Countdown && lastCountdown {
		_, err = tx.ExecContext(ctx, s.rebind(
			`UPDATE automation_logs SET ts = ?, level = ?, message = ? WHERE id = ?`),
			toMillis(entry.Timestamp), string(entry.Level), entry.Message, lastID)
	} else {
		_, err = tx.ExecContext(ctx, s.rebind(
			`INSERT INTO automation_logs (user_id, ts, level, message, countdown) VALUES (?, ?, ?, ?, ?)`),
			userID, toMillis(entry.Timestamp), string(entry.Level), entry.Message, entry.Countdown)
	}
	if err != nil {
		return &StorageError{Op: "create", Entity: "log", Err: err}
	}

	if retention > 0 {
		_, err = tx.ExecContext(ctx, s.rebind(`DELETE FROM automation_logs WHERE user_id = ? AND id NOT IN (
				SELECT id FROM automation_logs WHERE user_id = ? ORDER BY id DESC LIMIT ?)`),
			userID, userID, retention)
		if err != nil {
			return &StorageError{Op: "delete", Entity: "log", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "create", Entity: "log", Err: err}
	}
	return nil
}

func (s *SQLStore) ListLogs(ctx context.Context, userID string, limit int) ([]LogEntry, error) {
	q := `SELECT ts, level, message, countdown FROM automation_logs WHERE user_id = ? ORDER BY id DESC`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "log", Err: err}
	}
	defer rows.Close()

	logs := []LogEntry{}
	for rows.Next() {
		var e LogEntry
		var ts int64
		var level string
		if err := rows.Scan(&ts, &level, &e.Message, &e.Countdown); err != nil {
			return nil, &StorageError{Op: "read", Entity: "log", Err: err}
		}
		e.Timestamp, e.Level = fromMillis(ts), LogLevel(level)
		logs = append(logs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "read", Entity: "log", Err: err}
	}
	// Oldest first.
	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

func (s *SQLStore) ClearLogs(ctx context.Context, userID string) error {
	if _, err := s.exec(ctx, `DELETE FROM automation_logs WHERE user_id = ?`, userID); err != nil {
		return &StorageError{Op: "delete", Entity: "log", Err: err}
	}
	return nil
}

// --- ServiceStateStore implementation ---

func (s *SQLStore) SetServiceEnabled(ctx context.Context, userID string, enabled bool) error {
	_, err := s.exec(ctx, `INSERT INTO service_state (user_id, enabled) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET enabled = excluded.enabled`, userID, enabled)
	if err != nil {
		return &StorageError{Op: "update", Entity: "service", ID: userID, Err: err}
	}
	return nil
}

func (s *SQLStore) ServiceEnabled(ctx context.Context, userID string) (bool, error) {
	var enabled bool
	err := s.queryRow(ctx, `SELECT enabled FROM service_state WHERE user_id = ?`, userID).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &StorageError{Op: "read", Entity: "service", ID: userID, Err: err}
	}
	return enabled, nil
}

// --- HistoryStore implementation ---

func (s *SQLStore) AppendHistory(ctx context.Context, userID string, e HistoryEntry, retention int) error {
	if e.CompletedAt.IsZero() {
		e.CompletedAt = time.Now()
	}
	_, err := s.exec(ctx, `INSERT INTO upload_history (user_id, job_id, source_url, platform, video_id,
			video_url, title, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, e.JobID, e.SourceURL, e.Platform, e.VideoID, e.VideoURL, e.Title, toMillis(e.CompletedAt))
	if err != nil {
		return &StorageError{Op: "create", Entity: "history", ID: e.JobID, Err: err}
	}
	if retention > 0 {
		_, err = s.exec(ctx, `DELETE FROM upload_history WHERE user_id = ? AND id NOT IN (
				SELECT id FROM upload_history WHERE user_id = ? ORDER BY id DESC LIMIT ?)`,
			userID, userID, retention)
		if err != nil {
			return &StorageError{Op: "delete", Entity: "history", Err: err}
		}
	}
	return nil
}

func (s *SQLStore) ListHistory(ctx context.Context, userID string) ([]HistoryEntry, error) {
	rows, err := s.query(ctx, `SELECT job_id, source_url, platform, video_id, video_url, title, completed_at
		FROM upload_history WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, &StorageError{Op: "read", Entity: "history", Err: err}
	}
	defer rows.Close()

	history := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var completed int64
		if err := rows.Scan(&e.JobID, &e.SourceURL, &e.Platform, &e.VideoID, &e.VideoURL, &e.Title, &completed); err != nil {
			return nil, &StorageError{Op: "read", Entity: "history", Err: err}
		}
		e.CompletedAt = fromMillis(completed)
		history = append(history, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "read", Entity: "history", Err: err}
	}
	return history, nil
}

// Ensure SQLStore implements Store.
var _ Store = (*SQLStore)(nil)

// Open builds the store selected by driver: "json", "sqlite" or "postgres".
func Open(ctx context.Context, driver, path, dsn string) (Store, error) {
	switch driver {
	case "json":
		return NewJSONStore(path)
	case DialectSQLite:
		return NewSQLStore(ctx, DialectSQLite, path)
	case DialectPostgres:
		return NewSQLStore(ctx, DialectPostgres, dsn)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
