package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/reddyanunay/colab-coding/internal/api"
	"github.com/reddyanunay/colab-coding/internal/app"
	"github.com/reddyanunay/colab-coding/internal/autocomplete"
	"github.com/reddyanunay/colab-coding/internal/db"
	"github.com/reddyanunay/colab-coding/internal/metrics"
	"github.com/reddyanunay/colab-coding/internal/persist"
	"github.com/reddyanunay/colab-coding/internal/ratelimit"
	"github.com/reddyanunay/colab-coding/internal/ws"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg := app.LoadConfig()
	log := app.NewLogger(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("db.open_failed", "err", err)
		os.Exit(1)
	}

	writer := persist.New(store, log, persist.Config{WriteTimeout: cfg.PersistTimeout})
	writer.Start()

	hub := ws.NewHub(log, store, writer, ws.Config{
		SendTimeout:       cfg.SendTimeout,
		MaxCodeLength:     cfg.MaxCodeLength,
		MessagesPerSecond: cfg.WSMessagesPerSecond,
		MessageBurst:      cfg.WSMessageBurst,
	})

	limiter := ratelimit.NewKeyed(cfg.APIRequestsPerSecond, cfg.APIRequestBurst, 10*time.Minute)
	defer limiter.Stop()

	apiHandler := api.New(hub, store, autocomplete.New(), limiter, log, api.Config{
		MaxCodeLength:     cfg.MaxCodeLength,
		AutocompleteDelay: cfg.AutocompleteDelay,
	})

	r := mux.NewRouter()
	r.HandleFunc("/ws/{room}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	apiHandler.Register(r)

	handler := cors.New(cfg.CORSOptions()).Handler(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server.listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server.failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("server.shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server.shutdown_failed", "err", err)
	}

	// Sessions are hijacked connections; Shutdown does not wait for them
	hub.CloseAll()
	writer.Stop()
	if err := store.Close(); err != nil {
		log.Warn("db.close_failed", "err", err)
	}
	log.Info("server.stopped")
}
