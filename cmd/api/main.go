package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rosterd.org/internal/auth"
	"rosterd.org/internal/httpapi"
	"rosterd.org/internal/obs"
	"rosterd.org/internal/store/pg"
)

var version = "0.3.0"

func main() {
	obs.Init()

	secret := os.Getenv("ROSTERD_AUTH_SECRET")
	tokens, err := auth.NewService(secret)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	dsn := os.Getenv("ROSTERD_PG_DSN")
	if dsn == "" {
		log.Fatal("missing ROSTERD_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	addr := os.Getenv("ROSTERD_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	api := httpapi.New(httpapi.Config{
		Tokens:     tokens,
		Directory:  store,
		Schedule:   store,
		Ready:      httpapi.ReadyProbe{DB: store.DB()},
		Version:    version,
		CORSOrigin: os.Getenv("ROSTERD_CORS_ORIGIN"),
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting rosterd-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
