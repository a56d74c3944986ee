package memory

import (
	"context"
	"fmt"
	"strings"
)

type Options struct {
	DatabaseURL     string
	MongoDatabase   string
	MongoCollection string
}

// NewStore picks a backend from the URL scheme: empty for in-memory,
// postgres:// or postgresql:// for PostgreSQL, mongodb:// or mongodb+srv://
// for MongoDB.
func NewStore(ctx context.Context, opts Options) (Store, error) {
	url := strings.TrimSpace(opts.DatabaseURL)
	switch {
	case url == "":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgresStore(ctx, url)
	case strings.HasPrefix(url, "mongodb://"), strings.HasPrefix(url, "mongodb+srv://"):
		db := opts.MongoDatabase
		if db == "" {
			db = "CODE_GENERATOR"
		}
		coll := opts.MongoCollection
		if coll == "" {
			coll = "users"
		}
		return NewMongoStore(ctx, url, db, coll)
	default:
		return nil, fmt.Errorf("unsupported database url scheme in %q", redactURL(url))
	}
}

// redactURL drops credentials so connection errors can be logged.
func redactURL(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return "<invalid>"
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = rest[at+1:]
	}
	return scheme + "://" + rest
}
