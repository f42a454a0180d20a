package main

import (
	"context"
	"database/sql"
	"dbviewer/internal/logger"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id SERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	email TEXT UNIQUE,
	active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS orders (
	id SERIAL PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	total NUMERIC(10,2) NOT NULL,
	placed_on DATE NOT NULL DEFAULT CURRENT_DATE,
	note TEXT
);

-- No primary key: rows are addressed by their physical location.
CREATE TABLE IF NOT EXISTS audit_notes (
	body TEXT,
	noted_at TIMESTAMP
);`

func main() {
	// Load .env if present; DATABASE_URL may come from it
	_ = godotenv.Load()

	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres connection URL")
	flag.Parse()

	log := logger.Log
	if *dsn == "" {
		log.Fatal("DATABASE_URL (or -dsn) is required")
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		log.Fatalf("Failed to create demo tables: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		log.Fatal(err)
	}
	if count > 0 {
		log.Infof("Demo data already present (%d users).", count)
		return
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer tx.Rollback()

	users := []struct {
		name, email string
		active      bool
	}{
		{"Ada Lovelace", "ada@example.com", true},
		{"Alan Turing", "alan@example.com", true},
		{"Grace Hopper", "grace@example.com", false},
	}
	for i, u := range users {
		var id int
		err := tx.QueryRowContext(ctx,
			`INSERT INTO users (name, email, active) VALUES ($1, $2, $3) RETURNING id`,
			u.name, u.email, u.active).Scan(&id)
		if err != nil {
			log.Fatalf("Failed to insert user: %v", err)
		}
		for j := 0; j <= i; j++ {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO orders (user_id, total, note) VALUES ($1, $2, $3)`,
				id, 19.99*float64(j+1), nil); err != nil {
				log.Fatalf("Failed to insert order: %v", err)
			}
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_notes (body, noted_at) VALUES ('first', now()), ('second', NULL)`); err != nil {
		log.Fatalf("Failed to insert notes: %v", err)
	}

	if err := tx.Commit(); err != nil {
		log.Fatal(err)
	}
	log.Info("Demo data created successfully.")
}
