// Package gate implements the authorization checks consulted before any
// state transition: an in-memory blacklist set backed by durable storage,
// and the configured owner identity.
package gate

import (
	"context"
	"sync"
	"time"

	"subgate/internal/storage"
	logx "subgate/pkg/logx"
)

type Gate struct {
	store   storage.Store
	ownerID int64
	log     logx.Logger

	mu  sync.RWMutex
	set map[int64]struct{}
}

// New builds the gate and loads the blacklist into memory. The set is kept
// consistent with the durable table on every mutation, so the hot-path check
// never touches storage.
func New(ctx context.Context, store storage.Store, ownerID int64, log logx.Logger) (*Gate, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	g := &Gate{store: store, ownerID: ownerID, log: log, set: map[int64]struct{}{}}

	entries, err := store.ListBlacklist(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		g.set[e.UserID] = struct{}{}
	}
	log.Info("blacklist loaded", logx.Int("entries", len(g.set)))
	return g, nil
}

// IsBlacklisted is memory-only and safe on the hot path.
func (g *Gate) IsBlacklisted(userID int64) bool {
	g.mu.RLock()
	_, ok := g.set[userID]
	g.mu.RUnlock()
	return ok
}

func (g *Gate) IsOwner(userID int64) bool {
	return g.ownerID != 0 && userID == g.ownerID
}

// Add writes the durable row first, then updates the in-memory set.
func (g *Gate) Add(ctx context.Context, userID int64, reason string) error {
	if reason == "" {
		reason = "unspecified"
	}
	err := g.store.AddBlacklist(ctx, storage.BlacklistEntry{
		UserID:  userID,
		Reason:  reason,
		AddedAt: time.Now(),
	})
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.set[userID] = struct{}{}
	g.mu.Unlock()
	g.log.Info("user blacklisted", logx.Int64("user_id", userID), logx.String("reason", reason))
	return nil
}

// Remove reports whether the user was present.
func (g *Gate) Remove(ctx context.Context, userID int64) (bool, error) {
	existed, err := g.store.RemoveBlacklist(ctx, userID)
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	delete(g.set, userID)
	g.mu.Unlock()
	if existed {
		g.log.Info("user removed from blacklist", logx.Int64("user_id", userID))
	}
	return existed, nil
}

func (g *Gate) List(ctx context.Context) ([]storage.BlacklistEntry, error) {
	return g.store.ListBlacklist(ctx)
}
