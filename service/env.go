package service

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knightuniverse/mqtt-service/mqtterrors"
)

// EnvConfig holds the subset of Service.Config that can be supplied via
// well-known environment variables.
type EnvConfig struct {
	APIBaseURL        string
	MultiplexHostAddr string
	Multiplexed       bool
	ConnectTimeout    time.Duration
	ReconnectInterval time.Duration
	KeepAlive         time.Duration
}

// ConfigFromEnv parses a Service configuration from environment variables.
// It only errors on a malformed value, never on a missing one, so optional
// parameters can come from elsewhere.
func ConfigFromEnv() (EnvConfig, error) {
	cfg := EnvConfig{
		ConnectTimeout:    6 * time.Second,
		ReconnectInterval: 5 * time.Second,
		KeepAlive:         60 * time.Second,
	}

	for _, env := range os.Environ() {
		idx := strings.IndexByte(env, '=')
		if idx < 0 {
			continue
		}
		key, val := env[:idx], env[idx+1:]

		switch key {
		case "MQTT_SERVICE_API_BASE_URL":
			cfg.APIBaseURL = val

		case "MQTT_SERVICE_MULTIPLEX_HOST_ADDR":
			cfg.MultiplexHostAddr = val

		case "MQTT_SERVICE_MULTIPLEXED":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return cfg, &mqtterrors.InvalidArgumentError{Message: "could not parse MQTT_SERVICE_MULTIPLEXED", Wrapped: err}
			}
			cfg.Multiplexed = b

		case "MQTT_SERVICE_CONNECT_TIMEOUT_MS":
			ms, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return cfg, &mqtterrors.InvalidArgumentError{Message: "could not parse MQTT_SERVICE_CONNECT_TIMEOUT_MS", Wrapped: err}
			}
			cfg.ConnectTimeout = time.Duration(ms) * time.Millisecond

		case "MQTT_SERVICE_RECONNECT_INTERVAL_MS":
			ms, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return cfg, &mqtterrors.InvalidArgumentError{Message: "could not parse MQTT_SERVICE_RECONNECT_INTERVAL_MS", Wrapped: err}
			}
			cfg.ReconnectInterval = time.Duration(ms) * time.Millisecond

		case "MQTT_SERVICE_KEEP_ALIVE_MS":
			ms, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return cfg, &mqtterrors.InvalidArgumentError{Message: "could not parse MQTT_SERVICE_KEEP_ALIVE_MS", Wrapped: err}
			}
			cfg.KeepAlive = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg, nil
}
