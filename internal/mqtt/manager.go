package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"NoiseMonitorAPI/internal/apperror"
	"NoiseMonitorAPI/internal/config"
	"NoiseMonitorAPI/internal/events"
	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/metrics"
	"NoiseMonitorAPI/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	disconnectQuiesce = 250
	operationTimeout  = 5 * time.Second
)

// ClientFactory builds the transport session. Tests replace it with a fake.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// AutoconnectFlag is the persisted opt-in for automatic reconnection.
type AutoconnectFlag interface {
	Autoconnect(ctx context.Context) bool
	SetAutoconnect(ctx context.Context, enabled bool) error
}

// Manager owns at most one broker session and drives the connection state
// machine: disconnected -> connecting -> subscribing -> active (or connected
// when the subscribe fails) -> disconnected. Callbacks from a session that
// has since been replaced or torn down are ignored.
type Manager struct {
	cfg       *config.MQTTConfig
	log       *logger.Logger
	events    events.Publisher
	flag      AutoconnectFlag
	newClient ClientFactory

	mu             sync.Mutex
	client         mqtt.Client
	broker         *models.BrokerConfig
	status         models.ConnectionStatus
	gen            uint64
	reconnect      *time.Timer
	lastError      string
	lastConnected  time.Time
	lastDisconnect time.Time
	closed         bool

	messages chan models.InboundMessage
	done     chan struct{}
}

type ManagerConfig struct {
	MQTT      *config.MQTTConfig
	Logger    *logger.Logger
	Events    events.Publisher
	Flag      AutoconnectFlag
	NewClient ClientFactory
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.MQTT == nil {
		return nil, fmt.Errorf("mqtt config cannot be nil")
	}
	if cfg.Flag == nil {
		return nil, fmt.Errorf("autoconnect flag store cannot be nil")
	}
	if cfg.Events == nil {
		cfg.Events = events.Discard{}
	}
	if cfg.NewClient == nil {
		cfg.NewClient = mqtt.NewClient
	}

	buffer := cfg.MQTT.InboundBuffer
	if buffer < 1 {
		buffer = 1
	}

	return &Manager{
		cfg:       cfg.MQTT,
		log:       cfg.Logger,
		events:    cfg.Events,
		flag:      cfg.Flag,
		newClient: cfg.NewClient,
		status:    models.StatusDisconnected,
		messages:  make(chan models.InboundMessage, buffer),
		done:      make(chan struct{}),
	}, nil
}

// Messages delivers inbound messages in transport order.
func (m *Manager) Messages() <-chan models.InboundMessage {
	return m.messages
}

// Connect starts a session with broker. It returns immediately; progress is
// reported through Status and events. A live or in-flight session makes it a
// no-op.
func (m *Manager) Connect(broker models.BrokerConfig) error {
	if err := broker.Validate(); err != nil {
		return apperror.NewValidationError("invalid broker profile", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return apperror.NewTransportError("connection manager is closed", nil)
	}
	if m.client != nil {
		m.mu.Unlock()
		m.log.Debug("Connect ignored: session already %s", m.status)
		return nil
	}

	m.stopReconnectLocked()
	m.gen++
	gen := m.gen
	m.broker = &broker
	m.status = models.StatusConnecting
	m.lastError = ""

	url := broker.URL(m.cfg.MountPath)
	client := m.newClient(m.clientOptions(broker, url, gen))
	m.client = client
	m.mu.Unlock()

	m.log.Info("Connecting to MQTT broker: %s", url)
	m.emit(models.EventStatusChanged, "connecting to "+url)

	token := client.Connect()
	go m.awaitConnect(gen, token)
	return nil
}

func (m *Manager) clientOptions(broker models.BrokerConfig, url string, gen uint64) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(url)
	opts.SetClientID(fmt.Sprintf("%s-%s", m.cfg.ClientIDPrefix, uuid.NewString()[:8]))
	opts.SetCleanSession(true)
	opts.SetKeepAlive(m.cfg.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(m.cfg.ConnectTimeout)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	if broker.Username != "" {
		opts.SetUsername(broker.Username)
	}
	if broker.Password != "" {
		opts.SetPassword(broker.Password)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		m.onConnect(gen, c)
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		m.onConnectionLost(gen, err)
	})
	return opts
}

func (m *Manager) awaitConnect(gen uint64, token mqtt.Token) {
	var err error
	if !token.WaitTimeout(m.cfg.ConnectTimeout + time.Second) {
		err = fmt.Errorf("connection timeout after %v", m.cfg.ConnectTimeout)
	} else {
		err = token.Error()
	}
	if err != nil {
		m.onConnectError(gen, err)
	}
}

func (m *Manager) onConnect(gen uint64, client mqtt.Client) {
	m.mu.Lock()
	if gen != m.gen || m.client == nil {
		m.mu.Unlock()
		m.log.Debug("Closing superseded MQTT session")
		client.Disconnect(disconnectQuiesce)
		return
	}
	m.status = models.StatusSubscribing
	m.lastConnected = time.Now()
	m.mu.Unlock()

	if err := m.flag.SetAutoconnect(context.Background(), true); err != nil {
		m.log.Warn("Failed to persist autoconnect flag: %v", err)
	}

	m.log.Info("MQTT connection established")
	metrics.IncConnectionEvent(string(models.EventConnected))
	metrics.SetConnectionUp(true)
	m.emit(models.EventConnected, "connected to broker")

	m.log.Debug("Subscribing to topic: %s (QoS: %d)", m.cfg.Topic, m.cfg.QoS)
	token := client.Subscribe(m.cfg.Topic, m.cfg.QoS, m.handleMessage)

	var err error
	if !token.WaitTimeout(operationTimeout) {
		err = fmt.Errorf("subscribe timeout for topic: %s", m.cfg.Topic)
	} else {
		err = token.Error()
	}

	m.mu.Lock()
	if gen != m.gen || m.client == nil {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.status = models.StatusConnected
		m.lastError = err.Error()
	} else {
		m.status = models.StatusActive
	}
	m.mu.Unlock()

	if err != nil {
		subErr := apperror.NewSubscriptionError("subscribe failed for "+m.cfg.Topic, err)
		m.log.Error("%v", subErr)
		metrics.IncConnectionEvent(string(models.EventSubscriptionFailed))
		m.emit(models.EventSubscriptionFailed, subErr.Error())
		return
	}

	m.log.Info("Successfully subscribed to topic: %s", m.cfg.Topic)
	metrics.IncConnectionEvent(string(models.EventSubscribed))
	m.emit(models.EventSubscribed, "subscribed to "+m.cfg.Topic)
}

func (m *Manager) onConnectError(gen uint64, err error) {
	if !m.release(gen, err) {
		return
	}

	transportErr := apperror.NewTransportError("connection failed", err)
	m.log.Error("%v", transportErr)
	metrics.IncConnectionEvent(string(models.EventConnectionError))
	metrics.SetConnectionUp(false)
	m.emit(models.EventConnectionError, transportErr.Error())

	m.scheduleReconnect()
}

func (m *Manager) onConnectionLost(gen uint64, err error) {
	if !m.release(gen, err) {
		return
	}

	m.log.Error("MQTT connection lost: %v", err)
	metrics.IncConnectionEvent(string(models.EventDisconnected))
	metrics.SetConnectionUp(false)
	m.emit(models.EventDisconnected, fmt.Sprintf("connection lost: %v", err))

	m.scheduleReconnect()
}

// release drops the session handle of generation gen so that a later Connect
// is not blocked. It reports false for callbacks of a stale session.
func (m *Manager) release(gen uint64, err error) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.client == nil {
		return false
	}

	m.client = nil
	m.status = models.StatusDisconnected
	m.lastDisconnect = time.Now()
	if err != nil {
		m.lastError = err.Error()
	}
	return true
}

// scheduleReconnect arms a single retry with the last profile when the
// autoconnect flag is set.
func (m *Manager) scheduleReconnect() {
	if !m.flag.Autoconnect(context.Background()) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.reconnect != nil || m.client != nil || m.broker == nil {
		return
	}

	broker := *m.broker
	var timer *time.Timer
	timer = time.AfterFunc(m.cfg.ReconnectPeriod, func() {
		m.mu.Lock()
		if m.reconnect != timer {
			m.mu.Unlock()
			return
		}
		m.reconnect = nil
		m.mu.Unlock()

		m.log.Warn("Attempting to reconnect to MQTT broker...")
		if err := m.Connect(broker); err != nil {
			m.log.Error("Reconnect failed: %v", err)
		}
	})
	m.reconnect = timer
	m.log.Info("Reconnecting in %v", m.cfg.ReconnectPeriod)
}

func (m *Manager) stopReconnectLocked() bool {
	if m.reconnect == nil {
		return false
	}
	m.reconnect.Stop()
	m.reconnect = nil
	return true
}

// Disconnect ends the session and clears the autoconnect flag. Without a
// session or a pending reconnect it does nothing.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	pending := m.stopReconnectLocked()
	client := m.client
	if client == nil && !pending {
		m.mu.Unlock()
		return nil
	}

	m.gen++
	m.client = nil
	m.status = models.StatusDisconnected
	m.lastDisconnect = time.Now()
	m.mu.Unlock()

	if client != nil {
		m.log.Info("Disconnecting from MQTT broker")
		client.Disconnect(disconnectQuiesce)
	}

	if err := m.flag.SetAutoconnect(context.Background(), false); err != nil {
		m.log.Warn("Failed to clear autoconnect flag: %v", err)
	}

	metrics.IncConnectionEvent(string(models.EventDisconnected))
	metrics.SetConnectionUp(false)
	m.emit(models.EventDisconnected, "disconnected")
	m.log.Info("Disconnected from MQTT broker")
	return nil
}

// Close tears the session down for shutdown. The autoconnect flag is kept so
// the next start reconnects.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.stopReconnectLocked()
	client := m.client
	m.client = nil
	m.gen++
	m.status = models.StatusDisconnected
	close(m.done)
	m.mu.Unlock()

	if client != nil {
		client.Disconnect(disconnectQuiesce)
	}
	metrics.SetConnectionUp(false)
}

// Publish sends payload without waiting for the broker acknowledgement.
func (m *Manager) Publish(topic string, payload []byte) error {
	if topic == "" {
		return apperror.NewValidationError("topic is required", nil)
	}

	m.mu.Lock()
	client := m.client
	connected := m.status.IsConnected()
	m.mu.Unlock()

	if client == nil || !connected {
		return apperror.NewTransportError("not connected to broker", nil)
	}

	m.log.Debug("Publishing to topic: %s (size: %d bytes)", topic, len(payload))
	token := client.Publish(topic, m.cfg.QoS, false, payload)
	go func() {
		if !token.WaitTimeout(operationTimeout) {
			m.log.Warn("Publish to %s not acknowledged after %v", topic, operationTimeout)
			return
		}
		if err := token.Error(); err != nil {
			m.log.Error("Publish failed for topic %s: %v", topic, err)
		}
	}()
	return nil
}

func (m *Manager) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	payload := make([]byte, len(msg.Payload()))
	copy(payload, msg.Payload())

	m.log.Debug("Received message on topic: %s (size: %d bytes)", msg.Topic(), len(payload))

	select {
	case m.messages <- models.InboundMessage{Topic: msg.Topic(), Payload: payload, ReceivedAt: time.Now()}:
	case <-m.done:
	}
}

func (m *Manager) Status() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateLocked()
}

func (m *Manager) stateLocked() models.ConnectionState {
	state := models.ConnectionState{
		Status:       m.status,
		IsConnected:  m.status.IsConnected(),
		IsConnecting: m.status == models.StatusConnecting,
		LastError:    m.lastError,
	}
	if m.broker != nil {
		b := m.broker.Redacted()
		state.Broker = &b
	}
	if !m.lastConnected.IsZero() {
		t := m.lastConnected
		state.LastConnected = &t
	}
	if !m.lastDisconnect.IsZero() {
		t := m.lastDisconnect
		state.LastDisconnect = &t
	}
	return state
}

func (m *Manager) emit(t models.EventType, msg string) {
	state := m.Status()
	ev := models.NewEvent(t, msg)
	ev.Connection = &state
	m.events.Publish(ev)
}
