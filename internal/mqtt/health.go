// internal/mqtt/health.go

package mqtt

import (
	"context"
	"fmt"
	"time"

	"NoiseMonitorAPI/internal/models"
)

type HealthStatus struct {
	Connected      bool                    `json:"connected"`
	Status         models.ConnectionStatus `json:"status"`
	Broker         string                  `json:"broker,omitempty"`
	LastConnected  *time.Time              `json:"last_connected,omitempty"`
	LastDisconnect *time.Time              `json:"last_disconnect,omitempty"`
	Subscriptions  int                     `json:"subscriptions"`
	PendingInbound int                     `json:"pending_inbound"`
}

func (m *Manager) Health(ctx context.Context) (*HealthStatus, error) {
	state := m.Status()

	status := &HealthStatus{
		Connected:      state.IsConnected,
		Status:         state.Status,
		LastConnected:  state.LastConnected,
		LastDisconnect: state.LastDisconnect,
		PendingInbound: len(m.messages),
	}
	if state.Broker != nil {
		status.Broker = state.Broker.URL(m.cfg.MountPath)
	}
	if state.Status == models.StatusActive {
		status.Subscriptions = 1
	}

	return status, nil
}

// WaitForStatus polls until the manager reaches want or the timeout elapses.
func (m *Manager) WaitForStatus(want models.ConnectionStatus, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if m.Status().Status == want {
			return nil
		}
		time.Sleep(20 * time.Millisecond)
	}

	return fmt.Errorf("status %s not reached after %v (current: %s)", want, timeout, m.Status().Status)
}
