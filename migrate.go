package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/camara-sync/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		Long: `Apply pending schema migrations and print the migration status. Every
command migrates on open; this one only migrates.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			ctx := cmd.Context()
			dbPath := cc.Cfg.Database.Path

			if err := os.MkdirAll(filepath.Dir(dbPath), dbDirPermissions); err != nil {
				return fmt.Errorf("creating database directory: %w", err)
			}

			st, err := store.Open(ctx, dbPath, cc.Logger)
			if err != nil {
				return err
			}
			defer st.Close()

			migrations, err := st.Migrations(ctx)
			if err != nil {
				return err
			}

			version, err := st.SchemaVersion(ctx)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printJSON(cc.Stdout, struct {
					Database   string            `json:"database"`
					Version    int64             `json:"version"`
					Migrations []store.Migration `json:"migrations"`
				}{dbPath, version, migrations})
			}

			fmt.Fprintf(cc.Stdout, "Database %s at schema version %d\n\n", dbPath, version)

			rows := make([][]string, 0, len(migrations))
			for _, m := range migrations {
				applied := "pending"
				if m.Applied {
					applied = formatTime(&m.AppliedAt)
				}

				rows = append(rows, []string{strconv.FormatInt(m.Version, 10), m.Path, applied})
			}

			printTable(cc.Stdout, []string{"VERSION", "MIGRATION", "APPLIED"}, rows)

			return nil
		},
	}
}
