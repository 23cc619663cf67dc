package storage

import (
	"context"
	"errors"
	"time"

	"subgate/internal/draft"
	logx "subgate/pkg/logx"
)

// ErrNotFound is returned when no draft exists for the user.
var ErrNotFound = errors.New("draft not found")

// Config configures storage. Path is the sqlite database file.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// BlacklistEntry is one durable blacklist row.
type BlacklistEntry struct {
	UserID  int64
	Reason  string
	AddedAt time.Time
}

// Store is the persistence API used by the session engine, the access gate
// and the publish pipeline.
//
// All draft operations are atomic against the TTL sweep: a sweep deleting a
// draft mid-transition is tolerated, the next access reports ErrNotFound.
type Store interface {
	// CreateDraft atomically replaces any existing draft for the user
	// (at-most-one per user, enforced by delete-then-insert).
	CreateDraft(ctx context.Context, d *draft.Draft) error

	GetDraft(ctx context.Context, userID int64) (*draft.Draft, error)

	// UpdateDraft runs fn on the current draft inside a transaction and
	// persists the result. If fn returns an error, nothing is written and
	// the error is returned as-is. LastActivity is bumped on success.
	UpdateDraft(ctx context.Context, userID int64, fn func(*draft.Draft) error) error

	// DeleteDraft reports whether a draft existed.
	DeleteDraft(ctx context.Context, userID int64) (bool, error)

	// SweepExpired removes drafts whose last activity is older than ttl and
	// returns how many were removed.
	SweepExpired(ctx context.Context, ttl time.Duration) (int, error)

	AddBlacklist(ctx context.Context, e BlacklistEntry) error
	RemoveBlacklist(ctx context.Context, userID int64) (bool, error)
	ListBlacklist(ctx context.Context) ([]BlacklistEntry, error)

	Close() error
}

// Open initializes the sqlite store at cfg.Path and runs migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
