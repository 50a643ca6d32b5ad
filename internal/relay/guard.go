package relay

import (
	"context"
	"errors"

	"github.com/KafClaw/threadrelay/internal/routing"
)

// DedupGuard stops an origin message from being dispatched twice. The store
// is the only memory it has, so the guard holds across restarts and replicas.
type DedupGuard struct {
	store routing.Store
}

func NewDedupGuard(store routing.Store) *DedupGuard {
	return &DedupGuard{store: store}
}

// Seen reports whether a record already exists for originKey.
func (g *DedupGuard) Seen(ctx context.Context, originKey string) (bool, error) {
	_, err := g.store.Get(ctx, originKey)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, routing.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
