package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/lib/pq"

	"github.com/ignite/property-imports/internal/config"
	"github.com/ignite/property-imports/internal/pkg/logger"
)

func main() {
	log := logger.Component("migrate")

	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Database.URL == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	dir := "migrations"
	listOnly := false
	for _, a := range os.Args[1:] {
		if a == "--list" {
			listOnly = true
		} else {
			dir = a
		}
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Error("connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Error("ping", "error", err)
		os.Exit(1)
	}
	log.Info("connected to database")

	if listOnly {
		if err := listTables(db); err != nil {
			log.Error("list tables", "error", err)
			os.Exit(1)
		}
		return
	}

	files, err := migrationFiles(dir)
	if err != nil {
		log.Error("read migrations dir", "dir", dir, "error", err)
		os.Exit(1)
	}

	var okCount, errCount int
	for _, f := range files {
		if err := apply(db, filepath.Join(dir, f)); err != nil {
			log.Error("migration failed", "file", f, "error", err)
			errCount++
			continue
		}
		log.Info("migration applied", "file", f)
		okCount++
	}
	log.Info("migrations complete", "ok", okCount, "errors", errCount)
	if errCount > 0 {
		os.Exit(1)
	}
}

// migrationFiles returns the .sql files of dir in lexical order.
func migrationFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// apply runs one file in its own transaction. Empty files are skipped.
func apply(db *sql.DB, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.Exec(content); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func listTables(db *sql.DB) error {
	rows, err := db.Query(`SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename IN ('imports', 'import_batches', 'properties')
		ORDER BY tablename`)
	if err != nil {
		return err
	}
	defer rows.Close()
	n := 0
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return err
		}
		fmt.Println(" ", t)
		n++
	}
	fmt.Printf("Total: %d tables\n", n)
	return rows.Err()
}
