// Package main applies the database schema.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/storchat/api/internal/logging"
	"github.com/storchat/api/internal/platform/migrations"
)

func main() {
	var (
		dsn     = flag.String("dsn", "", "Postgres connection string (defaults to DATABASE_URL)")
		envFile = flag.String("env", ".env", "Optional .env file")
		list    = flag.Bool("list", false, "Print the migrations without applying them")
	)
	flag.Parse()

	log := logging.New("storchat-migrate", "info", "text")
	_ = godotenv.Load(*envFile)

	if *list {
		ms, err := migrations.List()
		if err != nil {
			log.WithError(err).Fatal("list migrations")
		}
		for _, m := range ms {
			log.Info(m.Name)
		}
		return
	}

	if strings.TrimSpace(*dsn) == "" {
		*dsn = os.Getenv("DATABASE_URL")
	}
	if strings.TrimSpace(*dsn) == "" {
		log.Fatal("DATABASE_URL or -dsn is required")
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.WithError(err).Fatal("connect to database")
	}
	if err := migrations.Apply(ctx, db); err != nil {
		log.WithError(err).Fatal("apply migrations")
	}
	log.Info("migrations applied")
}
