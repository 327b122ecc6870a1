package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"symptomcheck/internal/auth"
	"symptomcheck/internal/config"
	"symptomcheck/internal/db"
	"symptomcheck/internal/geo"
	internalhttp "symptomcheck/internal/http"
	"symptomcheck/internal/jobs"
	"symptomcheck/internal/mail"
	"symptomcheck/internal/repository"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connection failed: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)

	var registry auth.RevocationRegistry
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer client.Close()
		registry = auth.NewRedisRegistry(client)
	} else {
		log.Printf("REDIS_ADDR not set, revoked sessions are tracked in memory only")
		registry = auth.NewMemoryRegistry()
	}

	var mailer mail.Mailer
	if cfg.SMTPHost != "" {
		mailer, err = mail.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.MailFrom)
		if err != nil {
			log.Fatalf("mailer setup failed: %v", err)
		}
	} else {
		log.Printf("SMTP_HOST not set, outbound mail is logged instead of delivered")
		mailer = mail.LogMailer{}
	}

	server := internalhttp.NewServer(cfg, store, registry, mailer,
		geo.NewGeocoder(cfg.NominatimURL, cfg.UpstreamTimeout),
		geo.NewHospitalIndex(cfg.OverpassURL, cfg.UpstreamTimeout),
	)

	jobs.StartPendingCleanupJob(ctx, store, cfg.CleanupInterval, cfg.OTPTTL)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("symptomcheck listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
