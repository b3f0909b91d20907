package models

import "time"

// EventType names an observable notification for the UI layer.
type EventType string

const (
	EventConnected          EventType = "connected"
	EventSubscribed         EventType = "subscribed"
	EventSubscriptionFailed EventType = "subscription_failed"
	EventDisconnected       EventType = "disconnected"
	EventConnectionError    EventType = "connection_error"
	EventStatusChanged      EventType = "status_changed"
	EventAreaCreated        EventType = "area_created"
	EventLiveAlert          EventType = "live_alert"
	EventAlertCleared       EventType = "alert_cleared"
	EventAreasChanged       EventType = "areas_changed"
)

type Event struct {
	Type       EventType        `json:"type"`
	Timestamp  time.Time        `json:"timestamp"`
	Message    string           `json:"message,omitempty"`
	Area       *Area            `json:"area,omitempty"`
	Areas      []Area           `json:"areas,omitempty"`
	Connection *ConnectionState `json:"connection,omitempty"`
}

func NewEvent(t EventType, msg string) Event {
	return Event{Type: t, Timestamp: time.Now(), Message: msg}
}

func (e Event) WithArea(a Area) Event {
	c := a.Clone()
	e.Area = &c
	return e
}
