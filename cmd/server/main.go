package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"civicportal/internal/api"
	"civicportal/internal/auth"
	"civicportal/internal/config"
	"civicportal/internal/db"
	"civicportal/internal/directory"
	"civicportal/internal/notify"
	"civicportal/internal/rbac"
	"civicportal/internal/service"
	"civicportal/internal/store"
	"civicportal/internal/version"
)

func main() {
	info := version.Current()
	log.Printf("civicportal %s (%s)", info.Version, info.Commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	sqdb, err := db.OpenSQLite(cfg.DBPath, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer sqdb.Close()
	if err := db.ApplyMigrationFile(sqdb, "migrations/001_init.sql"); err != nil {
		log.Fatalf("migration: %v", err)
	}

	st := store.New(sqdb)
	if cfg.BootstrapAdminEmail != "" && cfg.BootstrapAdminPassword != "" {
		hash, err := auth.HashPassword(cfg.BootstrapAdminPassword)
		if err != nil {
			log.Fatalf("bootstrap admin hash: %v", err)
		}
		if err := st.EnsureAdmin(context.Background(), cfg.BootstrapAdminName, cfg.BootstrapAdminEmail, hash); err != nil {
			log.Fatalf("bootstrap admin create: %v", err)
		}
	}

	dir, err := directory.New(cfg, sqdb)
	if err != nil {
		log.Fatalf("directory: %v", err)
	}

	var sender notify.Sender = notify.LogSender{}
	if cfg.MailSender == "smtp" {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	}

	matrix := rbac.Default()
	if cfg.RBACMatrixPath != "" {
		matrix, err = rbac.LoadFile(cfg.RBACMatrixPath)
		if err != nil {
			log.Fatalf("rbac matrix: %v", err)
		}
	}

	svc := service.New(st, dir, sender, matrix, cfg)
	go func() {
		t := time.NewTicker(15 * time.Minute)
		defer t.Stop()
		for range t.C {
			svc.Janitor(context.Background())
		}
	}()

	r := api.NewRouter(cfg, svc)
	hsrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.HTTPReadHeaderTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       time.Duration(cfg.HTTPIdleTimeoutSec) * time.Second,
	}

	log.Printf("listening on %s", cfg.ListenAddr)
	if err := hsrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server: %v", err)
	}
}
