// Package migrations applies the query-time core's schema at process
// start. Grounded on the teacher's internal/handler/admin_migrate.go
// (lexicographic *.up.sql ordering, per-file apply-and-log), simplified
// from an HTTP admin endpoint into a startup call — admin UIs are out of
// scope per spec.md §1.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.up.sql
var upFiles embed.FS

// Apply runs every embedded *.up.sql migration against pool in
// lexicographic order (001 before 002, ...). Each file is expected to be
// idempotent (CREATE TABLE IF NOT EXISTS, CREATE INDEX IF NOT EXISTS).
func Apply(ctx context.Context, pool *pgxpool.Pool) error {
	entries, err := upFiles.ReadDir(".")
	if err != nil {
		return fmt.Errorf("migrations.Apply: read embedded dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := upFiles.ReadFile(name)
		if err != nil {
			return fmt.Errorf("migrations.Apply: read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("migrations.Apply: exec %s: %w", name, err)
		}
		slog.Info("[MIGRATIONS] applied", "file", name)
	}
	return nil
}
