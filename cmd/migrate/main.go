package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"chatgrid.org/internal/migrate"
)

func main() {
	dir := flag.String("dir", "migrations", "directory containing .up.sql/.down.sql files")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		command = "up"
	}

	dsn := os.Getenv("CHATGRID_PG_DSN")
	if dsn == "" {
		log.Fatal("CHATGRID_PG_DSN is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	mgr := migrate.NewManager(db, *dir)
	switch command {
	case "up":
		if err := mgr.Up(ctx); err != nil {
			log.Fatalf("migrate up: %v", err)
		}
		log.Println("migrations applied")
	case "down":
		if err := mgr.Down(ctx); err != nil {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("last migration rolled back")
	case "status":
		applied, err := mgr.Status(ctx)
		if err != nil {
			log.Fatalf("migrate status: %v", err)
		}
		for _, name := range applied {
			fmt.Println(name)
		}
	default:
		log.Fatalf("unknown command %q (want up, down or status)", command)
	}
}
