// Package service implements the top-level lifecycle owner: one Service
// per caller, choosing a transport variant, assembling credentials from a
// cache.Store, and handing out worker.Worker values that multiplex
// subscriptions over its one shared transport.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/knightuniverse/mqtt-service/cache"
	"github.com/knightuniverse/mqtt-service/httpclient"
	xlog "github.com/knightuniverse/mqtt-service/internal/log"
	"github.com/knightuniverse/mqtt-service/mqtterrors"
	"github.com/knightuniverse/mqtt-service/registry"
	"github.com/knightuniverse/mqtt-service/transport"
	"github.com/knightuniverse/mqtt-service/worker"
)

const (
	cacheKeyToken            = "token"
	cacheKeyMqttPassword     = "mqttPassword"
	cacheKeyMqttUuid         = "mqttUuid"
	cacheKeyClientID         = "clientId"
	cacheKeyMqttHost         = "mqttHost"
	cacheKeyMqttHostProtocol = "mqttHostProtocol"

	typeBasePage = "base-page"
	typeSubPage  = "sub-page"
)

// Config bundles Service's constructor dependencies. Cache and HTTP are
// explicit constructor parameters, surfacing the locator's singletons
// directly, rather than resolved through locator.Locator, which remains
// available as a convenience layer for callers that want it.
type Config struct {
	Cache cache.Store
	HTTP  *httpclient.Client

	// Multiplexed selects the shared-worker transport variant. When false
	// (direct), each Service fetches its own client id and suspends the
	// transport on Suspend; when true, the client id is fetched once and
	// cached, and Suspend leaves the shared host's connection untouched.
	Multiplexed       bool
	MultiplexHostAddr string

	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
	KeepAlive         time.Duration

	Logger *slog.Logger
}

// Service is the per-caller lifecycle owner.
type Service struct {
	cfg      Config
	registry *registry.Registry

	mu        sync.Mutex
	state     State
	transport transport.Transport
	clientID  string
	mqttUuid  string
	workers   map[*worker.Worker]*worker.Worker

	logger xlog.Logger
}

// New constructs a Service in the Created state. Call Init to bring it up.
func New(cfg Config) *Service {
	return &Service{
		cfg:      cfg,
		registry: registry.New(cfg.Cache),
		state:    Created,
		workers:  make(map[*worker.Worker]*worker.Worker),
		logger:   xlog.Wrap(cfg.Logger),
	}
}

// State returns the Service's current lifecycle state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) transitionLocked(to State) bool {
	if !canTransition(s.state, to) {
		return false
	}
	s.state = to
	return true
}

// Init brings the service from Created to Running: reads cached
// credentials, fetches (or reuses) the client id, derives the broker URL,
// builds the shared transport, subscribes the client-id wildcard on every
// connect, and connects.
func (s *Service) Init(ctx context.Context) error {
	s.mu.Lock()
	if !s.transitionLocked(Initializing) {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	clientID, mqttUuid, err := s.resolveClientID(ctx)
	if err != nil {
		s.mu.Lock()
		s.transitionLocked(Created)
		s.mu.Unlock()
		return err
	}

	brokerURL, err := s.brokerURL()
	if err != nil {
		s.mu.Lock()
		s.transitionLocked(Created)
		s.mu.Unlock()
		return err
	}

	settings := s.connectionSettings(clientID)

	var tr transport.Transport
	if s.cfg.Multiplexed {
		tr = transport.NewMultiplexed(clientID, s.cfg.MultiplexHostAddr, s.cfg.Logger)
	} else {
		settings.ServerURL = brokerURL
		tr = transport.NewDirect(settings, s.cfg.Logger)
	}

	tr.AddEventListener(transport.EventConnect, transport.ConnectEventHandler(func(*transport.ConnectEvent) {
		go func() {
			if _, err := tr.Subscribe(context.Background(), transport.WildcardTopic(clientID), transport.WithQoS(1)); err != nil {
				s.logger.Error(context.Background(), err)
			}
		}()
	}))

	if err := tr.Connect(ctx); err != nil {
		s.mu.Lock()
		s.transitionLocked(Created)
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.transport = tr
	s.clientID = clientID
	s.mqttUuid = mqttUuid
	s.transitionLocked(Running)
	s.mu.Unlock()
	return nil
}

// resolveClientID fetches the client id via HTTP: GET /v2/client/getClientId
// with {uuid, mqttPwd, type}. In multiplexed mode the result is cached
// under clientId and reused across calls.
func (s *Service) resolveClientID(ctx context.Context) (clientID, mqttUuid string, err error) {
	mqttUuid = s.cachedOrNewUuid()

	if s.cfg.Multiplexed {
		if cached, ok := s.cfg.Cache.GetItem(cacheKeyClientID); ok && len(cached) > 0 {
			return string(cached), mqttUuid, nil
		}
	}

	password, _ := s.cfg.Cache.GetItem(cacheKeyMqttPassword)

	typ := typeBasePage
	if s.cfg.Multiplexed {
		typ = typeSubPage
	}

	env, err := s.cfg.HTTP.Get(ctx, "/v2/client/getClientId", map[string]any{
		"uuid":    mqttUuid,
		"mqttPwd": string(password),
		"type":    typ,
	}, httpclient.Options{})
	if err != nil {
		return "", "", err
	}
	if !env.Success() {
		return "", "", fmt.Errorf("service: getClientId rejected: code=%d desc=%s", env.Code, env.Desc)
	}

	var id string
	if err := json.Unmarshal(env.Data, &id); err != nil {
		return "", "", &mqtterrors.InvalidArgumentError{Message: "malformed getClientId response", Wrapped: err}
	}

	s.cfg.Cache.SetItem(cacheKeyClientID, []byte(id))
	return id, mqttUuid, nil
}

func (s *Service) cachedOrNewUuid() string {
	if cached, ok := s.cfg.Cache.GetItem(cacheKeyMqttUuid); ok && len(cached) > 0 {
		return string(cached)
	}
	id := uuid.NewString()
	s.cfg.Cache.SetItem(cacheKeyMqttUuid, []byte(id))
	return id
}

func (s *Service) brokerURL() (string, error) {
	host, ok := s.cfg.Cache.GetItem(cacheKeyMqttHost)
	if !ok {
		return "", &mqtterrors.InvalidArgumentError{Message: "mqttHost not cached"}
	}
	proto, ok := s.cfg.Cache.GetItem(cacheKeyMqttHostProtocol)
	if !ok {
		proto = []byte("tcp")
	}
	return fmt.Sprintf("%s://%s/mqtt", proto, host), nil
}

// connectionSettings composes the direct transport's connection options:
// clean session, 60s keepalive, 5s reconnect, 6s connect timeout, username
// = client id, and a will message on iot/v1/cb/{clientId}/user/disconnect.
func (s *Service) connectionSettings(clientID string) transport.ConnectionSettings {
	token, _ := s.cfg.Cache.GetItem(cacheKeyToken)

	settings := transport.ConnectionSettings{
		ClientID:          clientID,
		Username:          clientID,
		CleanStart:        true,
		KeepAlive:         orDefault(s.cfg.KeepAlive, 60*time.Second),
		ConnectTimeout:    orDefault(s.cfg.ConnectTimeout, 6*time.Second),
		ReconnectInterval: orDefault(s.cfg.ReconnectInterval, 5*time.Second),
		WillQoS:           1,
	}

	settings.WillTopic = "iot/v1/cb/" + clientID + "/user/disconnect"
	settings.WillPayload = willPayload(clientID, token)
	return settings
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// willPayload builds the JSON will body:
// {service:"user", method:"disconnect", seq, srcAddr:"0.{clientId}",
// clientId, payload:{timestamp, uniqueMsgId:0, token:<third-JWT-segment>}}.
func willPayload(clientID string, token []byte) []byte {
	segments := strings.Split(string(token), ".")
	third := ""
	if len(segments) == 3 {
		third = segments[2]
	}

	body := fmt.Sprintf(
		`{"service":"user","method":"disconnect","seq":0,"srcAddr":"0.%s","clientId":%q,"payload":{"timestamp":%d,"uniqueMsgId":0,"token":%q}}`,
		clientID, clientID, currentMillis(), third,
	)
	return []byte(body)
}

// CreateWorker returns a new worker.Worker bound to an explicit transport,
// or to this Service's shared transport if override is nil. The worker is
// tracked for bulk teardown on Quit/ForceQuit.
func (s *Service) CreateWorker(override transport.Transport) *worker.Worker {
	s.mu.Lock()
	tr := s.transport
	if override != nil {
		tr = override
	}
	clientID, mqttUuid := s.clientID, s.mqttUuid
	s.mu.Unlock()

	w := worker.New(worker.Config{
		Transport: tr,
		Registry:  s.registry,
		HTTP:      s.cfg.HTTP,
		MqttUuid:  mqttUuid,
		ClientID:  clientID,
	})

	s.mu.Lock()
	s.workers[w] = w
	s.mu.Unlock()
	return w
}

// Quit gracefully releases every worker (issuing backend unsub
// notifications), ends the shared transport, and returns to Created.
func (s *Service) Quit(ctx context.Context) error {
	s.mu.Lock()
	if !s.transitionLocked(Stopping) {
		s.mu.Unlock()
		return nil
	}
	workers := s.snapshotWorkersLocked()
	tr := s.transport
	s.mu.Unlock()

	var firstErr error
	for _, w := range workers {
		if err := w.Quit(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if tr != nil {
		if err := tr.End(ctx, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.mu.Lock()
	s.workers = make(map[*worker.Worker]*worker.Worker)
	s.transport = nil
	s.transitionLocked(Created)
	s.mu.Unlock()
	return firstErr
}

// ForceQuit skips backend notifications entirely (for an already-invalid
// token) and ends every transport, including per-worker overrides.
func (s *Service) ForceQuit() error {
	s.mu.Lock()
	if !s.transitionLocked(Stopping) {
		s.mu.Unlock()
		return nil
	}
	workers := s.snapshotWorkersLocked()
	tr := s.transport
	s.mu.Unlock()

	for _, w := range workers {
		_ = w.ForceQuit()
	}
	var firstErr error
	if tr != nil {
		if err := tr.End(context.Background(), true); err != nil {
			firstErr = err
		}
	}

	s.mu.Lock()
	s.workers = make(map[*worker.Worker]*worker.Worker)
	s.transport = nil
	s.transitionLocked(Created)
	s.mu.Unlock()
	return firstErr
}

// Suspend ends the shared transport but keeps workers registered,
// mirroring document.visibilitychange → hidden for a direct transport.
// Multiplexed transports should not call Suspend, since the underlying
// connection is shared across sessions; callers check Config.Multiplexed
// before invoking this.
func (s *Service) Suspend(ctx context.Context) error {
	s.mu.Lock()
	if !s.transitionLocked(Suspending) {
		s.mu.Unlock()
		return nil
	}
	tr := s.transport
	s.mu.Unlock()

	var err error
	if tr != nil {
		err = tr.End(ctx, false)
	}

	s.mu.Lock()
	s.transitionLocked(Suspended)
	s.mu.Unlock()
	return err
}

// Resume reconnects the shared transport and restores Running.
func (s *Service) Resume(ctx context.Context) error {
	s.mu.Lock()
	if !s.transitionLocked(Resuming) {
		s.mu.Unlock()
		return nil
	}
	tr := s.transport
	s.mu.Unlock()

	var err error
	if tr != nil {
		err = tr.Connect(ctx)
	}

	s.mu.Lock()
	s.transitionLocked(Running)
	s.mu.Unlock()
	return err
}

func (s *Service) snapshotWorkersLocked() []*worker.Worker {
	out := make([]*worker.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	return out
}

func currentMillis() int64 {
	return time.Now().UnixMilli()
}
