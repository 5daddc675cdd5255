package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"flipview/internal/store"
)

const DefaultSessionExpiry = 6 * time.Hour

// Janitor removes persistent entries older than the session expiry window,
// whichever session wrote them.
type Janitor struct {
	store  store.Store
	expiry time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func NewJanitor(st store.Store, expiry time.Duration, logger *zap.Logger) *Janitor {
	if expiry <= 0 {
		expiry = DefaultSessionExpiry
	}
	return &Janitor{
		store:  st,
		expiry: expiry,
		logger: logger,
		now:    time.Now,
	}
}

// Sweep deletes expired entries and returns how many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	metas, err := j.store.ScanByTimestamp(ctx)
	if err != nil {
		return 0, err
	}

	now := j.now()
	removed := 0
	for _, m := range metas {
		// Scans are oldest first, the rest are younger
		if now.Sub(m.Timestamp) <= j.expiry {
			break
		}
		if err := j.store.Delete(ctx, m.Key); err != nil {
			return removed, err
		}
		removed++
		j.logger.Debug("Expired entry removed",
			zap.String("key", m.Key),
			zap.String("session_id", m.SessionID),
			zap.Duration("age", now.Sub(m.Timestamp)),
		)
	}
	return removed, nil
}
