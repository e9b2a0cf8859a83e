package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/rl1809/reseller/internal/adapter/storage"
	"github.com/rl1809/reseller/internal/config"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	flag.Parse()
	args := flag.Args()

	if len(args) < 1 {
		fmt.Println("Error: migration command is required")
		fmt.Println("Usage: go run cmd/migrate/main.go [command] [args]")
		fmt.Println("Commands: up, down, status, redo")
		os.Exit(1)
	}

	command := args[0]

	dialect, err := storage.ParseDialect(cfg.Database.Driver)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := storage.Open(ctx, dialect, cfg.Database.DSN, storage.PoolOptions{MaxOpenConns: 1})
	if err != nil {
		log.Fatalf("Database error: %v", err)
	}
	defer func() { _ = db.Close() }()

	log.Printf("Starting migration: %s (%s)", command, dialect)

	if err := storage.RunMigrations(ctx, db, dialect, command, args[1:]...); err != nil {
		log.Fatalf("Migration error: %v", err)
	}

	fmt.Println("Migration finished successfully")
}
