package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schema string

// statements splits the embedded schema into executable statements.
func statements() []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";\n") {
		st := strings.TrimSpace(stmt)
		if st == "" {
			continue
		}
		out = append(out, st)
	}
	return out
}

func (s *Postgres) Migrate(ctx context.Context) error {
	for i, st := range statements() {
		if _, err := s.Db.ExecContext(ctx, st); err != nil {
			return fmt.Errorf("migration statement %d: %w", i+1, err)
		}
	}
	return nil
}
