package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marketsim/internal/domain"
)

type lease struct {
	token   string
	expires time.Time
}

// LockManager is an in-process lease lock with the same contract as the
// Redis lock: a held, unexpired key yields domain.ErrLockHeld.
type LockManager struct {
	db *DB
}

// Acquire takes key for ttl. The returned unlock only releases the lease it
// created, so a stale unlock after expiry never frees another holder's lock.
func (l *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.db.mu.Lock()
	defer l.db.mu.Unlock()

	now := time.Now()
	if cur, ok := l.db.locks[key]; ok && now.Before(cur.expires) {
		return nil, domain.ErrLockHeld
	}
	token := uuid.NewString()
	l.db.locks[key] = lease{token: token, expires: now.Add(ttl)}

	return func() {
		l.db.mu.Lock()
		defer l.db.mu.Unlock()
		if cur, ok := l.db.locks[key]; ok && cur.token == token {
			delete(l.db.locks, key)
		}
	}, nil
}

var _ domain.LockManager = (*LockManager)(nil)
