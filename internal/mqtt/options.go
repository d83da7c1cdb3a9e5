package mqtt

import (
	"fmt"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for the initial
	// connection handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultOpTimeout is the maximum time to wait for subscribe,
	// unsubscribe, and publish acknowledgments.
	defaultOpTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations
	// on disconnect, in milliseconds.
	defaultDisconnectQuiesce = 1000

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// defaultReconnectMax caps the auto-reconnect backoff.
	defaultReconnectMax = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2
)

// Config holds the broker connection settings for one Client.
type Config struct {
	// BrokerURL is the full broker address, e.g. "tcp://broker:1883" or
	// "ssl://broker:8883".
	BrokerURL string
	// ClientID identifies this client to the broker. Brokers disconnect the
	// older session when two clients share an id, so it must be unique per
	// device/session.
	ClientID string
	Username string
	Password string
}

// validate checks that the broker URL is parseable and has a scheme and
// host. This is the only configuration error Connect can surface; everything
// transient is left to the auto-reconnect loop.
func (cfg Config) validate() error {
	u, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidBrokerURL, cfg.BrokerURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: %q: missing scheme or host", ErrInvalidBrokerURL, cfg.BrokerURL)
	}
	return nil
}

// buildClientOptions creates paho options from the client config.
//
// Clean session is on: the broker forgets subscriptions on disconnect, so
// the client replays its desired set itself on every reconnect.
func buildClientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)

	// Auto-reconnect with exponential backoff. Transient connect failures
	// are retried here rather than surfaced from Connect.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Second)
	opts.SetMaxReconnectInterval(defaultReconnectMax)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	return opts
}
