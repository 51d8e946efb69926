// Package store provides an optional crash-safe JSON snapshot of every
// post, account, and position, grounded on the teacher's atomic
// write-then-rename position store: writes go to a .tmp file first, then
// are renamed over the target, so a crash mid-write never leaves a
// truncated file behind. Unlike the teacher's one-file-per-market store,
// this one snapshots the whole ledger/registry on an interval and on
// shutdown, then restores everything on startup before the session router
// accepts connections.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/curvepost/engine/internal/ledger"
	"github.com/curvepost/engine/internal/market"
)

// Store persists snapshot files to a directory. All operations are
// mutex-protected to prevent concurrent file corruption.
type Store struct {
	dir string
	mu  sync.Mutex
}

// Open creates a store backed by the given directory, creating it if
// necessary.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error { return nil }

func (s *Store) writeAtomic(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return os.Rename(tmp, path)
}

func sanitize(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// SavePost atomically persists one post. The file name is derived from the
// post's id only for on-disk uniqueness; the id stored inside the file is
// authoritative on load.
func (s *Store) SavePost(p market.Post) error {
	path := filepath.Join(s.dir, "post_"+sanitize(p.ID)+".json")
	return s.writeAtomic(path, p)
}

type accountRecord struct {
	UserID  string         `json:"user_id"`
	Account ledger.Account `json:"account"`
}

// SaveAccount atomically persists one user's account.
func (s *Store) SaveAccount(userID string, acct ledger.Account) error {
	path := filepath.Join(s.dir, "acct_"+sanitize(userID)+".json")
	return s.writeAtomic(path, accountRecord{UserID: userID, Account: acct})
}

type positionRecord struct {
	UserID   string          `json:"user_id"`
	PostID   string          `json:"post_id"`
	Position ledger.Position `json:"position"`
}

// SavePosition atomically persists one (user, post) position.
func (s *Store) SavePosition(userID, postID string, pos ledger.Position) error {
	path := filepath.Join(s.dir, "pos_"+sanitize(userID)+"__"+sanitize(postID)+".json")
	return s.writeAtomic(path, positionRecord{UserID: userID, PostID: postID, Position: pos})
}

func (s *Store) glob(pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return filepath.Glob(filepath.Join(s.dir, pattern))
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", path, err)
	}
	return nil
}

// LoadPosts returns every persisted post.
func (s *Store) LoadPosts() ([]market.Post, error) {
	paths, err := s.glob("post_*.json")
	if err != nil {
		return nil, fmt.Errorf("glob posts: %w", err)
	}
	posts := make([]market.Post, 0, len(paths))
	for _, path := range paths {
		var p market.Post
		if err := readJSON(path, &p); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, nil
}

// LoadAccounts returns every persisted account, keyed by user id.
func (s *Store) LoadAccounts() (map[string]ledger.Account, error) {
	paths, err := s.glob("acct_*.json")
	if err != nil {
		return nil, fmt.Errorf("glob accounts: %w", err)
	}
	accounts := make(map[string]ledger.Account, len(paths))
	for _, path := range paths {
		var rec accountRecord
		if err := readJSON(path, &rec); err != nil {
			return nil, err
		}
		accounts[rec.UserID] = rec.Account
	}
	return accounts, nil
}

// LoadPositions returns every persisted position.
func (s *Store) LoadPositions() ([]ledger.PositionKey, []ledger.Position, error) {
	paths, err := s.glob("pos_*.json")
	if err != nil {
		return nil, nil, fmt.Errorf("glob positions: %w", err)
	}
	keys := make([]ledger.PositionKey, 0, len(paths))
	positions := make([]ledger.Position, 0, len(paths))
	for _, path := range paths {
		var rec positionRecord
		if err := readJSON(path, &rec); err != nil {
			return nil, nil, err
		}
		keys = append(keys, ledger.PositionKey{UserID: rec.UserID, PostID: rec.PostID})
		positions = append(positions, rec.Position)
	}
	return keys, positions, nil
}

// SnapshotAll writes out every post in reg and every account/position in
// led. Flat positions are skipped since Restore rebuilds them lazily with
// the ledger's usual zero-value default.
func (s *Store) SnapshotAll(reg *market.Registry, led *ledger.Ledger) error {
	for _, p := range reg.List() {
		if err := s.SavePost(p); err != nil {
			return fmt.Errorf("snapshot post %s: %w", p.ID, err)
		}
	}
	for userID, acct := range led.AllAccounts() {
		if err := s.SaveAccount(userID, acct); err != nil {
			return fmt.Errorf("snapshot account %s: %w", userID, err)
		}
	}
	for key, pos := range led.AllPositions() {
		if pos.IsFlat() {
			continue
		}
		if err := s.SavePosition(key.UserID, key.PostID, pos); err != nil {
			return fmt.Errorf("snapshot position %s/%s: %w", key.UserID, key.PostID, err)
		}
	}
	return nil
}

// RestoreAll rebuilds reg and led from whatever this store holds, then
// rebuilds every affected post's liquidation-threshold index. Call before
// the session router starts accepting connections.
func (s *Store) RestoreAll(reg *market.Registry, led *ledger.Ledger) error {
	posts, err := s.LoadPosts()
	if err != nil {
		return err
	}
	for _, p := range posts {
		reg.Restore(p)
	}

	accounts, err := s.LoadAccounts()
	if err != nil {
		return err
	}
	for userID, acct := range accounts {
		led.MutateAccount(userID, func(a *ledger.Account) { *a = acct })
	}

	keys, positions, err := s.LoadPositions()
	if err != nil {
		return err
	}
	touched := make(map[string]struct{}, len(posts))
	for i, key := range keys {
		pos := positions[i]
		led.MutatePosition(key.UserID, key.PostID, func(ledger.Position) ledger.Position { return pos })
		touched[key.PostID] = struct{}{}
	}
	for postID := range touched {
		led.RebuildThresholds(postID)
	}
	return nil
}

// RunPeriodic snapshots reg and led on every tick of interval until ctx is
// done, logging (but not aborting on) a failed snapshot.
func (s *Store) RunPeriodic(ctx context.Context, interval time.Duration, reg *market.Registry, led *ledger.Ledger, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SnapshotAll(reg, led); err != nil {
				logger.Error("periodic snapshot failed", "error", err)
			}
		}
	}
}
