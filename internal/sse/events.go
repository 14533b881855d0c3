// Package sse streams session and tag sync notifications to connected shells
// as Server-Sent Events.
package sse

import (
	"time"

	"github.com/mnemomark/mnemomark/internal/domain"
	"github.com/mnemomark/mnemomark/internal/events"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventAuthChanged is sent when the signed-in account or its sharing setting changes.
	EventAuthChanged EventType = "auth.changed"
	// EventTagsSynced is sent after a pull replaced the local tags.
	EventTagsSynced EventType = "tags.synced"
	// EventHeartbeat keeps idle connections open.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
type Event struct {
	// ID is assigned at broadcast and written as the SSE id field.
	ID        uint64    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
}

// AuthChangedEventData is the payload of auth.changed. User is nil after sign-out.
type AuthChangedEventData struct {
	User      *domain.User `json:"user"`
	ShareTags bool         `json:"shareTags"`
}

// TagsSyncedEventData is the payload of tags.synced.
type TagsSyncedEventData struct {
	Tags     []domain.Tag `json:"tags"`
	TagCount int          `json:"tagCount"`
	SyncedAt time.Time    `json:"syncedAt"`
}

// HeartbeatEventData is the payload of heartbeat.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"serverTime"`
}

// NewAuthChangedEvent converts a bus notification.
func NewAuthChangedEvent(e events.AuthChanged, now time.Time) Event {
	return Event{
		Type:      EventAuthChanged,
		Data:      AuthChangedEventData{User: e.User, ShareTags: e.ShareTags},
		Timestamp: now,
	}
}

// NewTagsSyncedEvent converts a bus notification.
func NewTagsSyncedEvent(e events.TagsSynced, now time.Time) Event {
	tags := e.Tags
	if tags == nil {
		tags = []domain.Tag{}
	}
	return Event{
		Type:      EventTagsSynced,
		Data:      TagsSyncedEventData{Tags: tags, TagCount: len(tags), SyncedAt: now},
		Timestamp: now,
	}
}

// NewHeartbeatEvent creates a heartbeat event.
func NewHeartbeatEvent(now time.Time) Event {
	return Event{
		Type:      EventHeartbeat,
		Data:      HeartbeatEventData{ServerTime: now},
		Timestamp: now,
	}
}
