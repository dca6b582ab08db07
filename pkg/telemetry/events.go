package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the FlowPlane system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// TenantID is the associated tenant, if applicable.
	TenantID string `json:"tenant_id,omitempty"`

	// EntityRef is the associated entity reference, if applicable.
	EntityRef string `json:"entity_ref,omitempty"`

	// WorkflowCode is the associated workflow definition, if applicable.
	WorkflowCode string `json:"workflow_code,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeTransitionCommitted = "transition.committed"
	EventTypeTransitionDenied    = "transition.denied"
	EventTypeTransitionConflict  = "transition.conflict"
	EventTypeDomainEvent         = "domain.event"
	EventTypeTimerWarned         = "timer.warned"
	EventTypeTimerBreached       = "timer.breached"
	EventTypeTimerStopped        = "timer.stopped"
	EventTypeEscalationCreated   = "escalation.created"
	EventTypeChainBroken         = "journal.chain_broken"
	EventTypeError               = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishTransitionCommitted publishes a committed transition event.
func (ep *EventPublisher) PublishTransitionCommitted(tenantID, entityRef, workflow, transition, newState string) error {
	return ep.Publish(Event{
		Type:         EventTypeTransitionCommitted,
		Source:       "workflow_engine",
		TenantID:     tenantID,
		EntityRef:    entityRef,
		WorkflowCode: workflow,
		Message:      fmt.Sprintf("Entity %s moved to %s via %s", entityRef, newState, transition),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"transition": transition,
			"new_state":  newState,
		},
	})
}

// PublishTransitionDenied publishes a denied transition event.
func (ep *EventPublisher) PublishTransitionDenied(tenantID, entityRef, workflow, transition, reason string) error {
	return ep.Publish(Event{
		Type:         EventTypeTransitionDenied,
		Source:       "workflow_engine",
		TenantID:     tenantID,
		EntityRef:    entityRef,
		WorkflowCode: workflow,
		Message:      fmt.Sprintf("Transition %s denied for %s: %s", transition, entityRef, reason),
		Level:        EventLevelWarning,
		Data: map[string]interface{}{
			"transition": transition,
			"reason":     reason,
		},
	})
}

// PublishDomainEvent publishes an emit_event effect to subscribers.
func (ep *EventPublisher) PublishDomainEvent(tenantID, entityRef, eventType string, payload map[string]interface{}) error {
	return ep.Publish(Event{
		Type:      EventTypeDomainEvent,
		Source:    "workflow_engine",
		TenantID:  tenantID,
		EntityRef: entityRef,
		Message:   fmt.Sprintf("Domain event %s on %s", eventType, entityRef),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"event_type": eventType,
			"payload":    payload,
		},
	})
}

// PublishTimerStatus publishes a timer status change event.
func (ep *EventPublisher) PublishTimerStatus(tenantID, entityRef, policyCode, status string) error {
	eventType := EventTypeTimerStopped
	level := EventLevelInfo
	switch status {
	case "warned":
		eventType = EventTypeTimerWarned
		level = EventLevelWarning
	case "breached":
		eventType = EventTypeTimerBreached
		level = EventLevelError
	}
	return ep.Publish(Event{
		Type:      eventType,
		Source:    "sla_engine",
		TenantID:  tenantID,
		EntityRef: entityRef,
		Message:   fmt.Sprintf("Timer %s on %s is %s", policyCode, entityRef, status),
		Level:     level,
		Data: map[string]interface{}{
			"policy": policyCode,
			"status": status,
		},
	})
}

// PublishEscalationCreated publishes an escalation creation event.
func (ep *EventPublisher) PublishEscalationCreated(tenantID, entityRef, signalCode, threshold string) error {
	return ep.Publish(Event{
		Type:      EventTypeEscalationCreated,
		Source:    "sla_engine",
		TenantID:  tenantID,
		EntityRef: entityRef,
		Message:   fmt.Sprintf("Escalation %s created for %s (%s)", signalCode, entityRef, threshold),
		Level:     EventLevelWarning,
		Data: map[string]interface{}{
			"signal":    signalCode,
			"threshold": threshold,
		},
	})
}

// PublishChainBroken publishes a journal integrity event.
func (ep *EventPublisher) PublishChainBroken(tenantID, entityRef string, sequence int64, reason string) error {
	return ep.Publish(Event{
		Type:      EventTypeChainBroken,
		Source:    "journal",
		TenantID:  tenantID,
		EntityRef: entityRef,
		Message:   fmt.Sprintf("Journal chain for %s broken at sequence %d", entityRef, sequence),
		Level:     EventLevelError,
		Data: map[string]interface{}{
			"sequence": sequence,
			"reason":   reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-time.After(ep.config.FlushInterval):
			if len(batch) > 0 {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByTenant creates a filter that only allows events for a specific tenant.
func FilterByTenant(tenantID string) EventFilter {
	return func(event Event) bool {
		return event.TenantID == tenantID
	}
}

// FilterByEntity creates a filter that only allows events for a specific entity.
func FilterByEntity(entityRef string) EventFilter {
	return func(event Event) bool {
		return event.EntityRef == entityRef
	}
}
