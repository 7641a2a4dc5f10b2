// Package worker implements the per-UI-component subscription multiplexer:
// one Worker per caller, filtering the shared transport's messages by
// business identity and notifying the backend over HTTP when global
// interest in a business starts or stops.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/rs/xid"

	"github.com/knightuniverse/mqtt-service/business"
	xlog "github.com/knightuniverse/mqtt-service/internal/log"
	"github.com/knightuniverse/mqtt-service/httpclient"
	"github.com/knightuniverse/mqtt-service/registry"
	"github.com/knightuniverse/mqtt-service/transport"
)

const (
	pathNotifySub   = "/v2/client/notify/sub"
	pathNotifyUnsub = "/v2/client/notify/unsub"
)

// Worker multiplexes one caller's followed businesses on top of a shared
// transport. It is confined to a single logical owner, mirroring a browser
// tab's single JS thread, and is not safe for unsynchronized concurrent use.
type Worker struct {
	transport transport.Transport
	registry  *registry.Registry
	http      *httpclient.Client

	// mqttUuid is used to build the notify-body topic field, which is
	// cached separately from the clientId the transport actually
	// subscribes under: the notify body carries a literal "uuid" segment
	// distinct from clientId.
	mqttUuid string
	clientID string

	follows      map[string]business.Business
	latest       map[string]json.RawMessage
	digests      map[string]func(topic string, payload []byte)
	apiAwareness map[string]bool

	removeMessageListener func()

	logger xlog.Logger
	guest  bool
}

// Config bundles Worker's constructor dependencies.
type Config struct {
	Transport transport.Transport
	Registry  *registry.Registry
	HTTP      *httpclient.Client
	MqttUuid  string
	ClientID  string
	Guest     bool
	Logger    *slog.Logger
}

// New constructs a Worker bound to cfg.Transport and immediately starts
// listening for inbound messages.
func New(cfg Config) *Worker {
	w := &Worker{
		transport:    cfg.Transport,
		registry:     cfg.Registry,
		http:         cfg.HTTP,
		mqttUuid:     cfg.MqttUuid,
		clientID:     cfg.ClientID,
		guest:        cfg.Guest,
		follows:      make(map[string]business.Business),
		latest:       make(map[string]json.RawMessage),
		digests:      make(map[string]func(topic string, payload []byte)),
		apiAwareness: make(map[string]bool),
		logger:       xlog.Wrap(cfg.Logger),
	}
	w.removeMessageListener = w.transport.AddEventListener(
		transport.EventMessage,
		transport.MessageHandler(w.onMessage),
	)
	return w
}

// notifyTopic builds the topic field carried in interest-notification
// request bodies, distinct from the transport's own subscription topics.
func (w *Worker) notifyTopic(subject string) string {
	return "iot/v1/c/" + w.mqttUuid + "/" + subject
}

// Watch begins following b: a no-op if already watching and either b has
// no bid or the backend already knows about it; otherwise collects a
// reference and, on the count reaching 1, notifies the backend.
func (w *Worker) Watch(ctx context.Context, b business.Business) error {
	id := b.Identity()

	if _, watching := w.follows[id]; watching {
		if !b.HasBid() || w.apiAwareness[id] {
			return nil
		}
	}

	if b.HasBid() && !w.guest {
		ref := w.registry.Collect(b)
		if ref == 1 && !w.apiAwareness[id] {
			if err := w.notify(ctx, pathNotifySub, b); err != nil {
				return err
			}
			w.apiAwareness[id] = true
		}
	}

	w.follows[id] = b
	w.digests[id] = func(topic string, payload []byte) {
		var decoded json.RawMessage
		if err := json.Unmarshal(payload, &decoded); err != nil {
			w.logger.Error(context.Background(), err)
			return
		}
		w.latest[id] = decoded
	}
	return nil
}

// Unwatch stops following b, releasing its reference and notifying the
// backend when the global count reaches 0.
func (w *Worker) Unwatch(ctx context.Context, b business.Business) error {
	id := b.Identity()
	if _, watching := w.follows[id]; !watching {
		return nil
	}

	if b.HasBid() && !w.guest {
		ref := w.registry.Release(b)
		if ref == 0 {
			if err := w.notify(ctx, pathNotifyUnsub, b); err != nil {
				return err
			}
			w.apiAwareness[id] = false
		}
	}

	delete(w.follows, id)
	delete(w.latest, id)
	delete(w.digests, id)
	return nil
}

// Latest returns the most recently decoded payload for b, if any.
func (w *Worker) Latest(b business.Business) (json.RawMessage, bool) {
	payload, ok := w.latest[b.Identity()]
	return payload, ok
}

func (w *Worker) notify(ctx context.Context, path string, b business.Business) error {
	reqID := xid.New().String()
	params := map[string]any{
		"bid":      b.BidValue(),
		"topic":    w.notifyTopic(b.Subject),
		"clientId": w.clientID,
	}
	env, err := w.http.Post(ctx, path, params, httpclient.Options{})
	if err != nil {
		w.logger.Error(ctx, fmt.Errorf("worker: notify %s failed (req %s): %w", path, reqID, err))
		return err
	}
	if !env.Success() {
		return fmt.Errorf("worker: notify %s rejected: code=%d desc=%s", path, env.Code, env.Desc)
	}
	return nil
}

// onMessage routes an inbound publish to every follow whose subject maps to
// its topic. Two follows sharing a subject but differing only in bid
// cannot be distinguished by topic and both receive it.
func (w *Worker) onMessage(ctx context.Context, msg *transport.Message) {
	for id, b := range w.follows {
		if w.transport.GetTopic(b.Subject) != msg.Topic {
			continue
		}
		if digest, ok := w.digests[id]; ok {
			digest(msg.Topic, msg.Payload)
		}
	}
	if msg.Ack != nil {
		msg.Ack()
	}
}

// Quit releases every follow, issuing backend notifications as counts
// reach 0, and detaches from the transport.
func (w *Worker) Quit(ctx context.Context) error {
	return w.teardown(ctx, false)
}

// ForceQuit detaches from the transport without issuing any backend
// notifications, for use once the caller's token is already known invalid.
func (w *Worker) ForceQuit() error {
	return w.teardown(context.Background(), true)
}

func (w *Worker) teardown(ctx context.Context, force bool) error {
	var firstErr error
	for _, b := range w.snapshotFollows() {
		if force {
			delete(w.follows, b.Identity())
			delete(w.latest, b.Identity())
			delete(w.digests, b.Identity())
			continue
		}
		if err := w.Unwatch(ctx, b); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if w.removeMessageListener != nil {
		w.transport.RemoveEventListener(transport.EventMessage, w.removeMessageListener)
	}
	return firstErr
}

func (w *Worker) snapshotFollows() []business.Business {
	out := make([]business.Business, 0, len(w.follows))
	for _, b := range w.follows {
		out = append(out, b)
	}
	return out
}
