package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"

	"adgate/internal/adblock"
	"adgate/internal/adnetwork"
	"adgate/internal/adsource"
	"adgate/internal/backend"
	"adgate/internal/config"
	"adgate/internal/gate"
	"adgate/internal/handler"
	"adgate/internal/pending"
	"adgate/internal/token"
	"adgate/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	SetupLogger(cfg.SlogLevel())

	var store pending.Store
	if cfg.RedisAddr != "" {
		store = pending.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}))
		slog.Info("Using redis pending store", "addr", cfg.RedisAddr)
	} else {
		store = pending.NewFileStore(cfg.DataDir)
	}

	hub := websocket.NewHub()
	go hub.Run()

	api := backend.New(cfg.BackendURL)

	var networks []adnetwork.Network
	for id, tagURL := range cfg.AdNetworkTags {
		networks = append(networks, adnetwork.NewTagNetwork(id, tagURL))
	}
	loader := adnetwork.NewLoader(networks, api)

	detector := adblock.NewDetector(adblock.Policy(cfg.AdBlockPolicy))
	source := adsource.New(loader, api, cfg.AdNetworks)
	tokens := token.NewManager([]byte(cfg.TokenSecret))
	gates := gate.NewManager(store, source, api, tokens, api, detector, hub)

	r := chi.NewRouter()
	r.Handle("/", http.FileServer(http.Dir("static")))
	r.Post("/api/v1/downloads/pending", handler.CreatePendingHandler(gates))
	r.Get("/api/v1/gate/{session}", handler.GateHandler(gates))
	r.Post("/api/v1/gate/{session}/skip", handler.SkipHandler(gates))
	r.Post("/api/v1/gate/{session}/adblock", handler.ReportAdBlockHandler(detector))
	r.Get("/download/{token}", handler.DownloadHandler(tokens))
	r.Get("/assets/ads/banner.js", handler.AdBaitHandler(detector))
	r.Get("/ws", hub.WsHandler)

	server := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	done := make(chan bool, 1)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		gates.Stop()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Server forced to shutdown")
		}
		done <- true
	}()

	slog.Info("Server starting", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("Failed to start server")
	}
	<-done
	slog.Info("Server exited")
}

func SetupLogger(level slog.Level) {
	handler := tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02 15:04:05",
		AddSource:  true,
	})

	slog.SetDefault(slog.New(handler))
}
