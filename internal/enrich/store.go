package enrich

import (
	"context"

	"github.com/seclens/vuln-triage/internal/store"
)

// NewStore adapts the gorm-backed store to the orchestrator's Store
// interface, mapping Tx onto a database transaction.
func NewStore(s *store.Store) Store {
	return gormStore{s}
}

type gormStore struct {
	*store.Store
}

func (g gormStore) Tx(ctx context.Context, fn func(tx Store) error) error {
	return g.Store.Tx(ctx, func(tx *store.Store) error {
		return fn(gormStore{tx})
	})
}
