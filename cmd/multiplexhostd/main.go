// Command multiplexhostd runs the shared-worker host process: one broker
// connection multiplexed over websocket ports for any number of sessions.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/knightuniverse/mqtt-service/multiplexhost"
	"github.com/knightuniverse/mqtt-service/transport"
)

func main() {
	log := slog.New(tint.NewHandler(os.Stdout, nil))

	addr := envOr("MULTIPLEXHOSTD_ADDR", ":8765")
	clientID := envOr("MULTIPLEXHOSTD_CLIENT_ID", "multiplexhostd")
	brokerURL := envOr("MULTIPLEXHOSTD_BROKER_URL", "tcp://localhost:1883/mqtt")

	host := multiplexhost.New(multiplexhost.Config{
		ClientID:  clientID,
		ServerURL: brokerURL,
		Settings: transport.ConnectionSettings{
			ClientID:          clientID,
			ServerURL:         brokerURL,
			CleanStart:        true,
			KeepAlive:         60 * time.Second,
			ConnectTimeout:    6 * time.Second,
			ReconnectInterval: 5 * time.Second,
		},
	}, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", host.ServeHTTP)

	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("multiplexhostd listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("listen", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
