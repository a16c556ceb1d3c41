package event

import (
	"context"

	"paygate/internal/domain/event"

	"github.com/rs/zerolog/log"
)

// Publisher delivers lifecycle events after the state change they describe has
// committed. Delivery failures never roll back that change.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, event.Event) error { return nil }

// PublishQuietly publishes and logs a failure instead of returning it.
func PublishQuietly(ctx context.Context, p Publisher, evt event.Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, evt); err != nil {
		log.Warn().Err(err).
			Str("event_type", string(evt.Type)).
			Int64("order_id", evt.OrderID).
			Str("refund_id", evt.RefundID).
			Msg("event publish failed")
	}
}
