// internal/models/models.go

package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultAreaIcon       = "📚"
	AutoRegisteredIcon    = "🏢"
	AutoRegisteredNameFmt = "Area %d"
)

// Area is a monitored zone bound to exactly one sensor device.
type Area struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	DeviceID       string     `json:"deviceId"`
	Icon           string     `json:"icon"`
	LastUpdated    time.Time  `json:"lastUpdated"`
	IsMuted        bool       `json:"isMuted"`
	Alert          bool       `json:"alert"`
	NoiseLevel     *float64   `json:"noiseLevel,omitempty"`
	AlertReason    *string    `json:"alertReason,omitempty"`
	AlertedAt      *time.Time `json:"alertedAt,omitempty"`
	AutoRegistered bool       `json:"autoRegistered"`
}

// ClearAlertState drops the alert snapshot so that Alert == false implies
// NoiseLevel, AlertReason and AlertedAt are all nil.
func (a *Area) ClearAlertState() {
	a.Alert = false
	a.NoiseLevel = nil
	a.AlertReason = nil
	a.AlertedAt = nil
}

func (a Area) Clone() Area {
	c := a
	if a.NoiseLevel != nil {
		v := *a.NoiseLevel
		c.NoiseLevel = &v
	}
	if a.AlertReason != nil {
		v := *a.AlertReason
		c.AlertReason = &v
	}
	if a.AlertedAt != nil {
		v := *a.AlertedAt
		c.AlertedAt = &v
	}
	return c
}

type CreateAreaRequest struct {
	Name     string `json:"name"`
	DeviceID string `json:"deviceId"`
	Icon     string `json:"icon"`
	IsMuted  bool   `json:"isMuted"`
}

type UpdateAreaRequest struct {
	Name     *string `json:"name"`
	DeviceID *string `json:"deviceId"`
	Icon     *string `json:"icon"`
}

// NoiseSample is a single historical observation, stamped with receipt time.
type NoiseSample struct {
	DeviceID   string    `json:"deviceId"`
	NoiseLevel float64   `json:"noiseLevel"`
	Timestamp  time.Time `json:"timestamp"`
}

// Telemetry is a decoded inbound device payload.
type Telemetry struct {
	DeviceID    string
	NoiseLevel  *float64
	AlertReason string
}

func (t Telemetry) HasSample() bool {
	return t.DeviceID != "" && t.NoiseLevel != nil
}

func (t Telemetry) HasAlert() bool {
	return t.DeviceID != "" && t.AlertReason != ""
}

// InboundMessage is a raw transport message handed from the connection
// manager to the ingestion engine.
type InboundMessage struct {
	Topic      string
	Payload    []byte
	ReceivedAt time.Time
}

const (
	ProtocolWS  = "ws"
	ProtocolWSS = "wss"
)

// BrokerConfig is a broker connection profile. Identity is (Broker, Port, Username).
type BrokerConfig struct {
	Protocol string `json:"protocol"`
	Broker   string `json:"broker"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

func (c BrokerConfig) SameIdentity(other BrokerConfig) bool {
	return c.Broker == other.Broker && c.Port == other.Port && c.Username == other.Username
}

// URL builds <protocol>://<broker>:<port><mountPath>.
func (c BrokerConfig) URL(mountPath string) string {
	if mountPath != "" && !strings.HasPrefix(mountPath, "/") {
		mountPath = "/" + mountPath
	}
	return fmt.Sprintf("%s://%s:%d%s", c.Protocol, c.Broker, c.Port, mountPath)
}

// Redacted returns a copy without the password, for responses and logs.
func (c BrokerConfig) Redacted() BrokerConfig {
	c.Password = ""
	return c
}

func (c BrokerConfig) Validate() error {
	var problems []string

	if c.Protocol != ProtocolWS && c.Protocol != ProtocolWSS {
		problems = append(problems, fmt.Sprintf("protocol must be %q or %q", ProtocolWS, ProtocolWSS))
	}
	if strings.TrimSpace(c.Broker) == "" {
		problems = append(problems, "broker cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, "port must be between 1 and 65535")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusSubscribing  ConnectionStatus = "subscribing"
	StatusActive       ConnectionStatus = "active"
	// StatusConnected is a live session whose subscribe failed.
	StatusConnected ConnectionStatus = "connected"
)

func (s ConnectionStatus) IsConnected() bool {
	return s == StatusSubscribing || s == StatusActive || s == StatusConnected
}

type ConnectionState struct {
	Status         ConnectionStatus `json:"status"`
	IsConnected    bool             `json:"isConnected"`
	IsConnecting   bool             `json:"isConnecting"`
	Broker         *BrokerConfig    `json:"broker,omitempty"`
	LastError      string           `json:"last_error,omitempty"`
	LastConnected  *time.Time       `json:"last_connected,omitempty"`
	LastDisconnect *time.Time       `json:"last_disconnect,omitempty"`
}

type HealthResponse struct {
	Status        string    `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	StreamClients int       `json:"stream_clients"`
	Services      struct {
		Storage bool `json:"storage"`
		MQTT    bool `json:"mqtt"`
	} `json:"services"`
}
