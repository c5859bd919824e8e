package mqtt

import (
	"fmt"
	"time"
)

type HealthStatus struct {
	Broker         string    `json:"broker"`
	Connected      bool      `json:"connected"`
	LastConnected  time.Time `json:"last_connected,omitempty"`
	LastDisconnect time.Time `json:"last_disconnect,omitempty"`
	Subscriptions  []string  `json:"subscriptions"`
}

func (c *Client) Health() *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subs := make([]string, 0, len(c.handlers))
	for f := range c.handlers {
		subs = append(subs, f)
	}

	return &HealthStatus{
		Broker:         c.cfg.BrokerURL(),
		Connected:      c.connected && c.client.IsConnected(),
		LastConnected:  c.lastConnected,
		LastDisconnect: c.lastDisconnect,
		Subscriptions:  subs,
	}
}

func (c *Client) WaitForConnection(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.IsConnected() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("connection timeout after %v", timeout)
}
