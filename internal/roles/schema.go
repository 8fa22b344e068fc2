package roles

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL for the role assignment and denial audit tables.
func Schema() string {
	return schemaSQL
}

// EnsureSchema creates the tables when they do not exist yet.
func EnsureSchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("roles: ensure schema: %w", err)
	}
	return nil
}
