package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"docchat/internal/auth"
	"docchat/internal/config"
	"docchat/internal/database"
	"docchat/internal/email"
	"docchat/internal/redisx"
	"docchat/internal/server"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	setupLogging(cfg.LogFile)

	db, err := database.Connect(cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer db.Close()

	if err := database.ApplyMigrations(context.Background(), db, "migrations"); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	rdb, err := redisx.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	repo := auth.NewRepository(db)
	audit := &auth.SecurityLogger{Logs: repo, Redis: rdb, MaxLen: 10000}

	verification := auth.NewVerificationService(repo, cfg.TokenTTL)
	totpSvc := auth.NewTOTPService(cfg.TOTPIssuer)
	twoFactor := auth.NewTwoFactorService(repo, totpSvc, audit)
	deletion := auth.NewDeletionService(repo, audit)

	srv := server.NewServer(cfg, server.Deps{
		Users:        repo,
		Settings:     repo,
		Sessions:     &auth.SessionStore{Redis: rdb},
		RateLimiter:  &auth.RateLimiter{Redis: rdb},
		Mailer:       email.NewSender(cfg.Email),
		Hasher:       auth.NewBcryptHasher(),
		TOTP:         totpSvc,
		Verification: verification,
		TwoFactor:    twoFactor,
		Deletion:     deletion,
		Audit:        audit,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	log.Printf("listening on :%s", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server: %v", err)
	}
}

func setupLogging(logFile string) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if logFile == "" {
		return
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		log.Printf("log dir: %v", err)
		return
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("log file: %v", err)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
}
