package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"NoiseMonitorAPI/internal/apperror"
	"NoiseMonitorAPI/internal/events"
	"NoiseMonitorAPI/internal/history"
	"NoiseMonitorAPI/internal/logger"
	"NoiseMonitorAPI/internal/models"
	"NoiseMonitorAPI/internal/mqtt"
	"NoiseMonitorAPI/internal/registry"
	"NoiseMonitorAPI/internal/repository"
	"NoiseMonitorAPI/internal/service"
	"NoiseMonitorAPI/internal/storage"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSession struct {
	status    models.ConnectionState
	connected []models.BrokerConfig
	published map[string]string
}

func (s *stubSession) Connect(b models.BrokerConfig) error {
	s.connected = append(s.connected, b)
	s.status = models.ConnectionState{Status: models.StatusConnecting, IsConnecting: true}
	return nil
}

func (s *stubSession) Disconnect() error {
	s.status = models.ConnectionState{Status: models.StatusDisconnected}
	return nil
}

func (s *stubSession) Publish(topic string, payload []byte) error {
	if !s.status.IsConnected {
		return apperror.NewTransportError("not connected to broker", nil)
	}
	s.published[topic] = string(payload)
	return nil
}

func (s *stubSession) Status() models.ConnectionState {
	return s.status
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

type stubBroker struct{ connected bool }

func (b stubBroker) Health(context.Context) (*mqtt.HealthStatus, error) {
	return &mqtt.HealthStatus{Connected: b.connected}, nil
}

type stubClients int

func (c stubClients) ClientCount() int { return int(c) }

type apiHarness struct {
	router   *mux.Router
	registry *registry.Registry
	history  *history.Store
	session  *stubSession
}

var handlerNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	log := logger.Nop()
	store := storage.NewMemoryStore()

	ids := 0
	reg := registry.New(repository.NewAreaRepository(store), events.Discard{}, log,
		registry.WithClock(func() time.Time { return handlerNow }),
		registry.WithIDGenerator(func() string {
			ids++
			return "area-" + string(rune('0'+ids))
		}))

	hist := history.NewStore(time.Hour, 100, history.WithClock(func() time.Time { return handlerNow }))
	historyService := service.NewHistoryService(hist, repository.NewHistoryRepository(store), time.Minute, log)

	session := &stubSession{
		status:    models.ConnectionState{Status: models.StatusDisconnected},
		published: make(map[string]string),
	}
	fallback := models.BrokerConfig{Protocol: models.ProtocolWSS, Broker: "broker.hivemq.com", Port: 8884}
	configs := repository.NewConfigRepository(store, fallback, log)
	connectionService := service.NewConnectionService(session, configs, log)

	historyHandler := NewHistoryHandler(historyService, log)
	historyHandler.now = func() time.Time { return handlerNow }
	exportHandler := NewExportHandler(reg, historyService, log)
	exportHandler.now = func() time.Time { return handlerNow }

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	NewAreaHandler(reg, log).RegisterRoutes(api)
	NewConnectionHandler(connectionService, log).RegisterRoutes(api)
	NewConfigHandler(connectionService, log).RegisterRoutes(api)
	historyHandler.RegisterRoutes(api)
	exportHandler.RegisterRoutes(api)
	NewHealthHandler(stubPinger{}, stubBroker{}, stubClients(0), log).RegisterRoutes(r)

	return &apiHarness{router: r, registry: reg, history: hist, session: session}
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestAreaHandler_Lifecycle(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/areas", map[string]string{"name": " Quiet Room ", "deviceId": "d1"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[models.Area](t, rec)
	assert.Equal(t, "Quiet Room", created.Name)
	assert.Equal(t, models.DefaultAreaIcon, created.Icon)

	rec = h.do(t, http.MethodPost, "/api/v1/areas", map[string]string{"name": "Dup", "deviceId": "d1"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", decode[ErrorResponse](t, rec).Type)

	rec = h.do(t, http.MethodPost, "/api/v1/areas", map[string]string{"name": "", "deviceId": "d2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPut, "/api/v1/areas/"+created.ID, map[string]string{"icon": "🔇"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "🔇", decode[models.Area](t, rec).Icon)

	rec = h.do(t, http.MethodPost, "/api/v1/areas/"+created.ID+"/mute", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.Area](t, rec).IsMuted)

	rec = h.do(t, http.MethodGet, "/api/v1/areas", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Area](t, rec), 1)

	rec = h.do(t, http.MethodDelete, "/api/v1/areas/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/areas/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAreaHandler_InvalidBody(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/api/v1/areas", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAreaHandler_ListEmptyIsArray(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/areas", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestConnectionHandler(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/api/v1/connection", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusDisconnected, decode[models.ConnectionState](t, rec).Status)

	rec = h.do(t, http.MethodPost, "/api/v1/connection/publish", map[string]string{"topic": "library/noise/d1", "payload": "x"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/connection/connect", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, models.StatusConnecting, decode[models.ConnectionState](t, rec).Status)
	require.Len(t, h.session.connected, 1)
	assert.Equal(t, "broker.hivemq.com", h.session.connected[0].Broker)

	h.session.status = models.ConnectionState{Status: models.StatusActive, IsConnected: true}
	rec = h.do(t, http.MethodPost, "/api/v1/connection/publish",
		map[string]interface{}{"topic": "library/noise/d1", "payload": map[string]interface{}{"device_id": "d1", "noise_level": 70}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"device_id":"d1","noise_level":70}`, h.session.published["library/noise/d1"])

	rec = h.do(t, http.MethodPost, "/api/v1/connection/publish", map[string]string{"topic": "t", "payload": "plain text"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "plain text", h.session.published["t"])

	rec = h.do(t, http.MethodPost, "/api/v1/connection/publish", map[string]string{"topic": " "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodPost, "/api/v1/connection/disconnect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.StatusDisconnected, decode[models.ConnectionState](t, rec).Status)
}

func TestConfigHandler_PasswordNeverEchoed(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPut, "/api/v1/config/active",
		models.BrokerConfig{Protocol: "ws", Broker: "localhost", Port: 8083, Username: "u", Password: "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	rec = h.do(t, http.MethodGet, "/api/v1/config/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	active := decode[models.BrokerConfig](t, rec)
	assert.Equal(t, "localhost", active.Broker)
	assert.Empty(t, active.Password)

	h.do(t, http.MethodPost, "/api/v1/connection/connect", nil)
	require.Len(t, h.session.connected, 1)
	assert.Equal(t, "secret", h.session.connected[0].Password)

	rec = h.do(t, http.MethodPut, "/api/v1/config/active", models.BrokerConfig{Protocol: "mqtt", Broker: "x", Port: 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestConfigHandler_Profiles(t *testing.T) {
	h := newAPIHarness(t)

	profile := models.BrokerConfig{Protocol: "wss", Broker: "a.example", Port: 8884, Username: "u", Password: "p"}
	rec := h.do(t, http.MethodPost, "/api/v1/config/profiles", profile)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.BrokerConfig](t, rec), 1)

	profile.Password = "p2"
	rec = h.do(t, http.MethodPost, "/api/v1/config/profiles", profile)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.BrokerConfig](t, rec), 1)
	assert.NotContains(t, rec.Body.String(), "p2")

	rec = h.do(t, http.MethodGet, "/api/v1/config/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.BrokerConfig](t, rec), 1)

	rec = h.do(t, http.MethodDelete, "/api/v1/config/profiles", models.BrokerConfig{Broker: "a.example", Port: 8884, Username: "u"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]models.BrokerConfig](t, rec))
}

func TestHistoryHandler(t *testing.T) {
	h := newAPIHarness(t)

	h.history.Append(models.NoiseSample{DeviceID: "d1", NoiseLevel: 50, Timestamp: handlerNow.Add(-30 * time.Minute)})
	h.history.Append(models.NoiseSample{DeviceID: "d2", NoiseLevel: 60, Timestamp: handlerNow.Add(-20 * time.Minute)})
	h.history.Append(models.NoiseSample{DeviceID: "d1", NoiseLevel: 70, Timestamp: handlerNow.Add(-10 * time.Minute)})

	type historyResponse struct {
		Count     int `json:"count"`
		Retention struct {
			MaxAge    string `json:"max_age"`
			MaxPoints int    `json:"max_points"`
		} `json:"retention"`
		Samples []models.NoiseSample `json:"samples"`
	}

	rec := h.do(t, http.MethodGet, "/api/v1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[historyResponse](t, rec)
	assert.Equal(t, 3, all.Count)
	assert.Equal(t, "1h0m0s", all.Retention.MaxAge)
	assert.Equal(t, 100, all.Retention.MaxPoints)

	since := handlerNow.Add(-25 * time.Minute).Format(time.RFC3339)
	rec = h.do(t, http.MethodGet, "/api/v1/history?device_id=d1&since="+since, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[historyResponse](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, 70.0, resp.Samples[0].NoiseLevel)

	rec = h.do(t, http.MethodGet, "/api/v1/history?since=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(t, http.MethodGet, "/api/v1/history/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	latest := decode[map[string]models.NoiseSample](t, rec)
	assert.Equal(t, 70.0, latest["d1"].NoiseLevel)
	assert.Equal(t, 60.0, latest["d2"].NoiseLevel)
}

func TestExportHandler(t *testing.T) {
	h := newAPIHarness(t)
	_, err := h.registry.Create(context.Background(), models.CreateAreaRequest{Name: "Stacks", DeviceID: "d1"})
	require.NoError(t, err)
	h.history.Append(models.NoiseSample{DeviceID: "d1", NoiseLevel: 65, Timestamp: handlerNow.Add(-time.Minute)})

	rec := h.do(t, http.MethodGet, "/api/v1/export/report.pdf", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "noise-report-20260501-120000.pdf")
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF-")))

	rec = h.do(t, http.MethodGet, "/api/v1/export/history.xlsx", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")))
}

func TestHealthHandler(t *testing.T) {
	log := logger.Nop()

	cases := []struct {
		name       string
		store      StoragePinger
		broker     BrokerHealth
		wantCode   int
		wantStatus string
	}{
		{"healthy", stubPinger{}, stubBroker{connected: true}, http.StatusOK, "healthy"},
		{"broker idle", stubPinger{}, stubBroker{}, http.StatusOK, "degraded"},
		{"storage down", stubPinger{err: errors.New("down")}, stubBroker{connected: true}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := mux.NewRouter()
			NewHealthHandler(tc.store, tc.broker, stubClients(3), log).RegisterRoutes(r)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tc.wantCode, rec.Code)
			resp := decode[models.HealthResponse](t, rec)
			assert.Equal(t, tc.wantStatus, resp.Status)
			assert.Equal(t, 3, resp.StreamClients)
		})
	}
}

func TestHealthHandler_Readiness(t *testing.T) {
	r := mux.NewRouter()
	NewHealthHandler(stubPinger{err: errors.New("down")}, stubBroker{}, stubClients(0), logger.Nop()).RegisterRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
