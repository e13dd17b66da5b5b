package ports

import (
	"github.com/tejashwikalptaru/reh/internal/domain"
)

// EventBus carries playback events from the service to its listeners.
// Implementations must be safe for concurrent use; the progress ticker and
// the UI goroutine both publish.
type EventBus interface {
	// Publish delivers event to the subscribers of its type and to those
	// subscribed to all events.
	Publish(event domain.Event)

	// Subscribe registers handler for one event type.
	Subscribe(eventType domain.EventType, handler domain.EventHandler) domain.SubscriptionID

	// Unsubscribe removes a subscription. Unknown IDs are ignored.
	Unsubscribe(id domain.SubscriptionID)

	// SubscribeAll registers handler for every event type.
	SubscribeAll(handler domain.EventHandler) domain.SubscriptionID

	// HasSubscribers reports whether publishing eventType would reach anyone.
	HasSubscribers(eventType domain.EventType) bool

	// Close drops all subscriptions.
	Close() error
}
