// Package store persists the user directory.
package store

import (
	"context"
	"strings"

	"github.com/codeGROOVE-dev/slackin/pkg/types"
)

// Store is a get-all/replace-all persistence for users.
type Store interface {
	Load(ctx context.Context) ([]types.User, error)
	ReplaceAll(ctx context.Context, users []types.User) error
}

// Open picks a backend from a store URL: postgres URLs select Postgres, anything else is a file path.
func Open(ctx context.Context, url string) (Store, func(), error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		pg, err := NewPostgres(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	f, err := NewFile(url)
	if err != nil {
		return nil, nil, err
	}
	return f, func() {}, nil
}
