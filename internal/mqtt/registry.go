package mqtt

import (
	"sync"

	"go.uber.org/zap"
)

// Registry hands out shared clients keyed by broker URL. Components that
// talk to the same broker reuse one physical connection instead of opening
// parallel ones.
type Registry struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[string]*Client
}

// NewRegistry creates an empty client registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		clients: make(map[string]*Client),
	}
}

// Client returns the shared client for cfg.BrokerURL, creating it on first
// use. Later calls with the same URL return the same client regardless of
// the rest of the config.
func (r *Registry) Client(cfg Config) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[cfg.BrokerURL]; ok {
		return c, nil
	}
	c, err := NewClient(cfg, r.logger)
	if err != nil {
		return nil, err
	}
	r.clients[cfg.BrokerURL] = c
	return c, nil
}

// CloseAll disconnects every client and empties the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[string]*Client)
	r.mu.Unlock()

	for _, c := range clients {
		c.Disconnect()
	}
}
