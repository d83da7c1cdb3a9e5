package mqtt

import "slices"

// Status represents the transport connection state.
type Status string

const (
	StatusDisconnected Status = "DISCONNECTED"
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
	StatusReconnecting Status = "RECONNECTING"
	StatusError        Status = "ERROR"
)

// validTransitions defines allowed status transitions. Error is reachable
// from anywhere on a fatal transport fault; the paho auto-reconnect loop can
// still pull the client back out of it.
var validTransitions = map[Status][]Status{
	StatusDisconnected: {StatusConnecting, StatusError},
	StatusConnecting:   {StatusConnected, StatusReconnecting, StatusDisconnected, StatusError},
	StatusConnected:    {StatusReconnecting, StatusDisconnected, StatusError},
	StatusReconnecting: {StatusConnected, StatusConnecting, StatusDisconnected, StatusError},
	StatusError:        {StatusConnecting, StatusConnected, StatusReconnecting, StatusDisconnected},
}

// transitionLocked moves the client to a new status if the transition is
// allowed. Returns true if the status changed. Caller must hold c.mu.
func (c *Client) transitionLocked(to Status) bool {
	if c.status == to {
		return false
	}
	if !slices.Contains(validTransitions[c.status], to) {
		return false
	}
	c.status = to
	return true
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsConnected reports whether the client is currently connected.
func (c *Client) IsConnected() bool {
	return c.Status() == StatusConnected
}
