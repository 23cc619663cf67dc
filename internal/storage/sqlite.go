package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"subgate/internal/draft"
	logx "subgate/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. A single
	// connection also serializes the sweep against user transitions.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- drafts ----

func (s *sqliteStore) CreateDraft(ctx context.Context, d *draft.Draft) error {
	if d == nil {
		return errors.New("nil draft")
	}
	now := time.Now()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.LastActivity.IsZero() {
		d.LastActivity = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM drafts WHERE user_id = ?`, d.UserID); err != nil {
		return err
	}
	media, docs, err := encodeItems(d)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO drafts(user_id, created_at, last_activity, mode, media, documents, tags, link, title, note, spoiler, username)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.UserID, d.CreatedAt.UnixMilli(), d.LastActivity.UnixMilli(), string(d.Mode),
		media, docs, d.Tags, d.Link, d.Title, d.Note, boolInt(d.Spoiler), d.Username,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) GetDraft(ctx context.Context, userID int64) (*draft.Draft, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, created_at, last_activity, mode, media, documents, tags, link, title, note, spoiler, username
		 FROM drafts WHERE user_id = ?`, userID)
	return scanDraft(row)
}

func (s *sqliteStore) UpdateDraft(ctx context.Context, userID int64, fn func(*draft.Draft) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		`SELECT user_id, created_at, last_activity, mode, media, documents, tags, link, title, note, spoiler, username
		 FROM drafts WHERE user_id = ?`, userID)
	d, err := scanDraft(row)
	if err != nil {
		return err
	}

	if err := fn(d); err != nil {
		return err
	}
	d.LastActivity = time.Now()

	media, docs, err := encodeItems(d)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE drafts SET last_activity=?, mode=?, media=?, documents=?, tags=?, link=?, title=?, note=?, spoiler=?, username=?
		 WHERE user_id=?`,
		d.LastActivity.UnixMilli(), string(d.Mode), media, docs, d.Tags, d.Link, d.Title, d.Note,
		boolInt(d.Spoiler), d.Username, userID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Swept away between SELECT and UPDATE (possible across retries).
		return ErrNotFound
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteDraft(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) SweepExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := time.Now().Add(-ttl).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE last_activity < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.Info("expired drafts swept", logx.Int64("count", n))
	}
	return int(n), nil
}

// ---- blacklist ----

func (s *sqliteStore) AddBlacklist(ctx context.Context, e BlacklistEntry) error {
	at := e.AddedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blacklist(user_id, reason, added_at) VALUES(?,?,?)
		 ON CONFLICT(user_id) DO UPDATE SET reason=excluded.reason, added_at=excluded.added_at`,
		e.UserID, e.Reason, at.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) RemoveBlacklist(ctx context.Context, userID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blacklist WHERE user_id = ?`, userID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) ListBlacklist(ctx context.Context) ([]BlacklistEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, reason, added_at FROM blacklist ORDER BY added_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BlacklistEntry
	for rows.Next() {
		var e BlacklistEntry
		var ms int64
		if err := rows.Scan(&e.UserID, &e.Reason, &ms); err != nil {
			return nil, err
		}
		e.AddedAt = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ---- row mapping ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDraft(row rowScanner) (*draft.Draft, error) {
	var (
		d            draft.Draft
		created      int64
		activity     int64
		mode         string
		media, docs  string
		spoiler      int
	)
	err := row.Scan(&d.UserID, &created, &activity, &mode, &media, &docs,
		&d.Tags, &d.Link, &d.Title, &d.Note, &spoiler, &d.Username)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.CreatedAt = time.UnixMilli(created)
	d.LastActivity = time.UnixMilli(activity)
	d.Mode = draft.Mode(mode)
	d.Spoiler = spoiler != 0
	if d.Media, err = decodeItems(media); err != nil {
		return nil, err
	}
	if d.Documents, err = decodeItems(docs); err != nil {
		return nil, err
	}
	return &d, nil
}

func encodeItems(d *draft.Draft) (media string, docs string, err error) {
	media, err = encodeItemList(d.Media)
	if err != nil {
		return "", "", err
	}
	docs, err = encodeItemList(d.Documents)
	if err != nil {
		return "", "", err
	}
	return media, docs, nil
}

// Items persist as a JSON array of "kind:reference" tokens.
func encodeItemList(items []draft.Item) (string, error) {
	toks := make([]string, 0, len(items))
	for _, it := range items {
		toks = append(toks, it.String())
	}
	b, err := json.Marshal(toks)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeItems(raw string) ([]draft.Item, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var toks []string
	if err := json.Unmarshal([]byte(raw), &toks); err != nil {
		return nil, fmt.Errorf("decode item list: %w", err)
	}
	items := make([]draft.Item, 0, len(toks))
	for _, tok := range toks {
		it, err := draft.ParseItem(tok)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
