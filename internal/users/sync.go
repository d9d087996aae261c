package users

import (
	"context"
	"time"

	"github.com/hgarg/doorlock-core/internal/backend"
)

// refreshTimeout bounds one directory pull.
const refreshTimeout = 15 * time.Second

// Directory is the backend surface the syncer needs.
type Directory interface {
	GetUsers(ctx context.Context) ([]backend.User, error)
}

// Logger is the narrow logging surface for this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Syncer periodically mirrors the backend directory into the cache.
// Refresh is also called directly by the MQTT sync-users command.
type Syncer struct {
	cache    *Cache
	dir      Directory
	interval time.Duration
	log      Logger
}

// NewSyncer builds a syncer. Intervals below a minute are raised to a
// minute; the directory changes rarely.
func NewSyncer(cache *Cache, dir Directory, interval time.Duration, log Logger) *Syncer {
	if interval < time.Minute {
		interval = time.Minute
	}
	return &Syncer{cache: cache, dir: dir, interval: interval, log: log}
}

// Refresh pulls the directory once and replaces the cache. The cache
// keeps its previous contents when the backend is unreachable.
func (s *Syncer) Refresh(ctx context.Context) error {
	pullCtx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	remote, err := s.dir.GetUsers(pullCtx)
	if err != nil {
		return err
	}

	cached := make([]User, 0, len(remote))
	for _, u := range remote {
		cached = append(cached, User{
			UserID:        u.UserID,
			Name:          u.Name,
			Email:         u.Email,
			FingerprintID: u.FingerprintID,
		})
	}

	if err := s.cache.ReplaceAll(ctx, cached); err != nil {
		return err
	}

	s.log.Debug("user cache refreshed", "users", len(cached))
	return nil
}

// Run refreshes immediately, then on the interval, until the context
// ends.
func (s *Syncer) Run(ctx context.Context) {
	if err := s.Refresh(ctx); err != nil {
		s.log.Warn("initial user cache refresh failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil {
				s.log.Warn("user cache refresh failed", "error", err)
			}
		}
	}
}
