package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"docchat/internal/config"
	"docchat/internal/database"
)

func main() {
	dir := flag.String("dir", "migrations", "directory containing *.up.sql files")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := database.Connect(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	if err := database.ApplyMigrations(context.Background(), db, *dir); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	log.Println("migrations applied")
}
