// Command sessiond runs one Service per process: it resolves a client id,
// connects the shared transport, watches one subject, and logs its latest
// payload every five seconds, exercising the full init to watch to message
// path.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/knightuniverse/mqtt-service/business"
	"github.com/knightuniverse/mqtt-service/cache"
	"github.com/knightuniverse/mqtt-service/httpclient"
	"github.com/knightuniverse/mqtt-service/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := slog.New(tint.NewHandler(os.Stdout, nil))

	store := cache.NewMemory()
	store.SetItem("mqttHost", []byte(envOr("SESSIOND_MQTT_HOST", "localhost:1883")))
	store.SetItem("mqttHostProtocol", []byte(envOr("SESSIOND_MQTT_PROTOCOL", "tcp")))
	store.SetItem("token", []byte(envOr("SESSIOND_TOKEN", "")))

	client := httpclient.New(envOr("SESSIOND_API_BASE_URL", "http://localhost:8080"), envCreds{})

	svc := service.New(service.Config{
		Cache:  store,
		HTTP:   client,
		Logger: log,
	})

	if err := svc.Init(ctx); err != nil {
		log.Error("init", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := svc.Quit(context.Background()); err != nil {
			log.Error("quit", "err", err)
		}
	}()

	w := svc.CreateWorker(nil)
	follow := business.WithBid(envOr("SESSIOND_SUBJECT", "log/detail"), envOr("SESSIOND_BID", "B1"))
	if err := w.Watch(ctx, follow); err != nil {
		log.Error("watch", "err", err)
		os.Exit(1)
	}

	log.Info("sessiond running", "subject", follow.Subject, "bid", follow.BidValue())

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if payload, ok := w.Latest(follow); ok {
				log.Info("latest", "subject", follow.Subject, "payload", string(payload))
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

type envCreds struct{}

func (envCreds) Guest(context.Context) bool                  { return false }
func (envCreds) Token(context.Context) (string, error)       { return os.Getenv("SESSIOND_TOKEN"), nil }
func (envCreds) AccessToken(context.Context) (string, error) { return "", nil }
func (envCreds) Terminal(context.Context) httpclient.Terminal {
	return httpclient.TerminalApp
}
func (envCreds) Language(context.Context) (string, bool) { return "", false }
