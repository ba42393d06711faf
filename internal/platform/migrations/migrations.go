// Package migrations applies the connector's schema in order using the
// embedded .sql files in this directory.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"sort"
)

//go:embed *.sql
var files embed.FS

// Apply executes every embedded migration file in lexical order. Migrations
// are not tracked in a version table: the connector is expected to run
// against a fresh schema or one already brought current by a prior Apply.
func Apply(ctx context.Context, db *sql.DB) error {
	entries, err := files.ReadDir(".")
	if err != nil {
		return err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		contents, err := files.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			return err
		}
	}
	return nil
}
