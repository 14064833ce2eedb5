// migrate_apply lists or applies the SQL files in internal/migrations in
// name order. Applied files are recorded in schema_migrations and skipped.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"packmarket/internal/db"
	"packmarket/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	apply := flag.Bool("apply", false, "apply pending migrations")
	dir := flag.String("dir", filepath.Join("internal", "migrations"), "migrations directory")
	flag.Parse()

	_ = godotenv.Load()
	logger.Init("info", false)

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		logger.Fatal("DATABASE_URL not set")
	}
	pool := db.Connect(dsn, db.PoolOptions{MaxConns: 2})
	defer pool.Close()

	ctx := context.Background()
	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`); err != nil {
		logger.Fatal("create schema_migrations", "error", err)
	}

	files, err := migrationFiles(*dir)
	if err != nil {
		logger.Fatal("read migrations dir", "error", err)
	}

	for _, name := range files {
		done, err := applied(ctx, pool, name)
		if err != nil {
			logger.Fatal("check migration", "name", name, "error", err)
		}
		if !*apply {
			state := "pending"
			if done {
				state = "applied"
			}
			fmt.Printf("%-8s %s\n", state, name)
			continue
		}
		if done {
			continue
		}
		if err := run(ctx, pool, filepath.Join(*dir, name), name); err != nil {
			logger.Fatal("failed to apply migration", "name", name, "error", err)
		}
		logger.Info("applied migration", "name", name)
	}
}

func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func applied(ctx context.Context, pool *pgxpool.Pool, name string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE name = $1)`, name).Scan(&exists)
	return exists, err
}

// run applies one file and records it in the same transaction
func run(ctx context.Context, pool *pgxpool.Pool, path, name string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, string(b)); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
