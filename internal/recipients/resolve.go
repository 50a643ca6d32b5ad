package recipients

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned by a Directory when no user matches the identifier.
var ErrNotFound = errors.New("recipient not found")

// Endpoint is the addressable chat identity of a recipient (a user id).
type Endpoint string

// Directory looks recipients up in the chat platform's user directory.
type Directory interface {
	LookupByEmail(ctx context.Context, email string) (Endpoint, error)
}

// Resolved pairs a recipient identifier with its endpoint.
type Resolved struct {
	Recipient string
	Endpoint  Endpoint
}

// Resolver maps identifiers to endpoints. Lookups run concurrently and each
// carries its own timeout.
type Resolver struct {
	dir     Directory
	timeout time.Duration
}

func NewResolver(dir Directory, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{dir: dir, timeout: timeout}
}

// Resolve partitions ids into resolved and unresolved. A failed lookup counts
// as unresolved. Both results follow the lexical order of the identifiers.
func (r *Resolver) Resolve(ctx context.Context, ids Set) ([]Resolved, []string) {
	sorted := ids.Sorted()
	endpoints := make([]Endpoint, len(sorted))

	var wg sync.WaitGroup
	for i, id := range sorted {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			endpoints[i] = r.lookup(ctx, id)
		}(i, id)
	}
	wg.Wait()

	var resolved []Resolved
	var unresolved []string
	for i, id := range sorted {
		if endpoints[i] == "" {
			unresolved = append(unresolved, id)
			continue
		}
		resolved = append(resolved, Resolved{Recipient: id, Endpoint: endpoints[i]})
	}
	return resolved, unresolved
}

func (r *Resolver) lookup(ctx context.Context, id string) Endpoint {
	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ep, err := r.dir.LookupByEmail(lctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		slog.Debug("Recipient not in directory", "recipient", id)
		return ""
	case err != nil:
		slog.Warn("Recipient lookup failed", "recipient", id, "error", err)
		return ""
	}
	return ep
}
