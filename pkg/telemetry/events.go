package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a lifecycle notification emitted while pdreach runs queries.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`

	// RunID is the batch run the event belongs to, if any.
	RunID string `json:"run_id,omitempty"`

	// Query is the query name, if the event concerns a single query.
	Query string `json:"query,omitempty"`

	Message string `json:"message"`

	// Level is info, warning or error.
	Level string `json:"level"`

	Data map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeBatchStarted    = "batch.started"
	EventTypeBatchCompleted  = "batch.completed"
	EventTypeQueryCompleted  = "query.completed"
	EventTypeQueryFailed     = "query.failed"
	EventTypePolicyViolation = "policy.violation"
	EventTypeError           = "error"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher fans events out to subscribers. In async mode events are
// queued and delivered in publish order from a single goroutine.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	done        chan struct{}
	closeOnce   sync.Once
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates an event publisher.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}
	if cfg.EnableAsync && cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("event buffer size must be positive, got: %d", cfg.BufferSize)
	}

	ep := &EventPublisher{
		config: cfg,
		done:   make(chan struct{}),
	}

	if cfg.EnableAsync {
		ep.buffer = make(chan Event, cfg.BufferSize)
		ep.wg.Add(1)
		go ep.processEvents()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil
		}
	}
	ep.mu.RUnlock()

	if !ep.config.EnableAsync {
		ep.deliverEvent(event)
		return nil
	}

	select {
	case <-ep.done:
		return fmt.Errorf("event publisher stopped")
	default:
	}
	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event %s dropped", event.Type)
	}
}

// PublishBatchStarted announces a batch of queries against a model.
func (ep *EventPublisher) PublishBatchStarted(runID, model string, queries int) error {
	return ep.Publish(Event{
		Type:    EventTypeBatchStarted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s started: %d queries against %s", runID, queries, model),
		Level:   EventLevelInfo,
		Data: map[string]interface{}{
			"model":   model,
			"queries": queries,
		},
	})
}

// PublishQueryCompleted reports a solved query.
func (ep *EventPublisher) PublishQueryCompleted(runID, query, verdict string, duration time.Duration) error {
	level := EventLevelInfo
	if verdict == "mismatch" {
		level = EventLevelWarning
	}
	return ep.Publish(Event{
		Type:    EventTypeQueryCompleted,
		Source:  "engine",
		RunID:   runID,
		Query:   query,
		Message: fmt.Sprintf("Query %s: %s", query, verdict),
		Level:   level,
		Data: map[string]interface{}{
			"verdict":  verdict,
			"duration": duration.Seconds(),
		},
	})
}

// PublishQueryFailed reports a query that could not be solved.
func (ep *EventPublisher) PublishQueryFailed(runID, query, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypeQueryFailed,
		Source:  "engine",
		RunID:   runID,
		Query:   query,
		Message: fmt.Sprintf("Query %s failed: %s", query, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"reason": reason,
		},
	})
}

// PublishBatchCompleted closes a run with its verdict counts.
func (ep *EventPublisher) PublishBatchCompleted(runID string, counts map[string]int, duration time.Duration) error {
	data := map[string]interface{}{"duration": duration.Seconds()}
	for k, v := range counts {
		data[k] = v
	}
	return ep.Publish(Event{
		Type:    EventTypeBatchCompleted,
		Source:  "engine",
		RunID:   runID,
		Message: fmt.Sprintf("Run %s completed in %s", runID, duration.Round(time.Millisecond)),
		Level:   EventLevelInfo,
		Data:    data,
	})
}

// PublishPolicyViolation reports a policy violation against a run.
func (ep *EventPublisher) PublishPolicyViolation(runID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:    EventTypePolicyViolation,
		Source:  "policy_engine",
		RunID:   runID,
		Message: fmt.Sprintf("Policy violation in run %s: %s - %s", runID, policyName, reason),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a subscriber. A nil filter receives every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	if ep == nil {
		return
	}
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

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()
	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.done:
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown stops the publisher after delivering queued events.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if ep == nil || !ep.config.Enabled {
		return nil
	}

	ep.closeOnce.Do(func() { close(ep.done) })

	finished := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel allows events at minLevel or above.
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

// FilterByType allows only the given event types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}
	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByRunID allows only events of one run.
func FilterByRunID(runID string) EventFilter {
	return func(event Event) bool {
		return event.RunID == runID
	}
}
