package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types published after a progress record was persisted.
const (
	EventXPGained          EventType = "progress.xp_gained"
	EventLevelUp           EventType = "progress.level_up"
	EventBadgeUnlocked     EventType = "progress.badge_unlocked"
	EventStreakUpdated     EventType = "progress.streak_updated"
	EventResourceCompleted EventType = "progress.resource_completed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	// For progress events this is the user id.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type          EventType `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	AggregateId   string    `json:"aggregate_id"`
	Version       int       `json:"version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped at the given instant.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
		Version:     1,
	}
}

// WithCorrelationID sets the correlation ID for tracing.
func (e BaseEvent) WithCorrelationID(id string) BaseEvent {
	e.CorrelationID = id
	return e
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// XPGainedEvent is emitted for every non-zero award.
type XPGainedEvent struct {
	BaseEvent
	Amount     int    `json:"amount"`
	NewTotal   int    `json:"new_total"`
	Reason     string `json:"reason"`
	EventKind  string `json:"event_kind,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
}

// Payload implements Event interface.
func (e XPGainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"amount":      e.Amount,
		"new_total":   e.NewTotal,
		"reason":      e.Reason,
		"event_kind":  e.EventKind,
		"resource_id": e.ResourceID,
	}
}

// NewXPGainedEvent creates a new XPGainedEvent.
func NewXPGainedEvent(userID string, at time.Time, amount, newTotal int, reason, kind, resourceID string) XPGainedEvent {
	return XPGainedEvent{
		BaseEvent:  NewBaseEvent(EventXPGained, userID, at),
		Amount:     amount,
		NewTotal:   newTotal,
		Reason:     reason,
		EventKind:  kind,
		ResourceID: resourceID,
	}
}

// LevelUpEvent is emitted when an operation raised the level.
type LevelUpEvent struct {
	BaseEvent
	OldLevel   int `json:"old_level"`
	NewLevel   int `json:"new_level"`
	Experience int `json:"experience"`
}

// Payload implements Event interface.
func (e LevelUpEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"old_level":  e.OldLevel,
		"new_level":  e.NewLevel,
		"experience": e.Experience,
	}
}

// NewLevelUpEvent creates a new LevelUpEvent.
func NewLevelUpEvent(userID string, at time.Time, oldLevel, newLevel, experience int) LevelUpEvent {
	return LevelUpEvent{
		BaseEvent:  NewBaseEvent(EventLevelUp, userID, at),
		OldLevel:   oldLevel,
		NewLevel:   newLevel,
		Experience: experience,
	}
}

// BadgeUnlockedEvent is emitted once per badge, the first time it is earned.
type BadgeUnlockedEvent struct {
	BaseEvent
	BadgeID string `json:"badge_id"`
	Name    string `json:"name"`
	Icon    string `json:"icon"`
}

// Payload implements Event interface.
func (e BadgeUnlockedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"badge_id": e.BadgeID,
		"name":     e.Name,
		"icon":     e.Icon,
	}
}

// NewBadgeUnlockedEvent creates a new BadgeUnlockedEvent.
func NewBadgeUnlockedEvent(userID string, at time.Time, badgeID, name, icon string) BadgeUnlockedEvent {
	return BadgeUnlockedEvent{
		BaseEvent: NewBaseEvent(EventBadgeUnlocked, userID, at),
		BadgeID:   badgeID,
		Name:      name,
		Icon:      icon,
	}
}

// StreakUpdatedEvent is emitted when a daily login changed the streak.
type StreakUpdatedEvent struct {
	BaseEvent
	Current int `json:"current"`
	Longest int `json:"longest"`
	BonusXP int `json:"bonus_xp"`
}

// Payload implements Event interface.
func (e StreakUpdatedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"current":  e.Current,
		"longest":  e.Longest,
		"bonus_xp": e.BonusXP,
	}
}

// NewStreakUpdatedEvent creates a new StreakUpdatedEvent.
func NewStreakUpdatedEvent(userID string, at time.Time, current, longest, bonus int) StreakUpdatedEvent {
	return StreakUpdatedEvent{
		BaseEvent: NewBaseEvent(EventStreakUpdated, userID, at),
		Current:   current,
		Longest:   longest,
		BonusXP:   bonus,
	}
}

// ResourceCompletedEvent is emitted when a resource or path counts as completed.
type ResourceCompletedEvent struct {
	BaseEvent
	ResourceID     string `json:"resource_id,omitempty"`
	Kind           string `json:"kind"`
	CompletedCount int    `json:"completed_count"`
}

// Payload implements Event interface.
func (e ResourceCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"resource_id":     e.ResourceID,
		"kind":            e.Kind,
		"completed_count": e.CompletedCount,
	}
}

// NewResourceCompletedEvent creates a new ResourceCompletedEvent.
func NewResourceCompletedEvent(userID string, at time.Time, resourceID, kind string, count int) ResourceCompletedEvent {
	return ResourceCompletedEvent{
		BaseEvent:      NewBaseEvent(EventResourceCompleted, userID, at),
		ResourceID:     resourceID,
		Kind:           kind,
		CompletedCount: count,
	}
}

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for an event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
}
