package amqp

import (
	"context"

	"finadvisor/internal/log"
	"finadvisor/internal/middleware/trace"
	"finadvisor/internal/session"
)

// SessionForwarder returns a session subscriber that publishes every
// transition. Publish failures are logged and otherwise ignored.
func SessionForwarder(pub Publisher, logger *log.Logger) func(context.Context, session.Change) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentAMQP)
	return func(ctx context.Context, c session.Change) {
		e := NewEvent(string(c.Kind))
		e.Generation = c.Generation
		e.RequestID = trace.GetRequestID(ctx)
		if err := pub.Publish(ctx, e); err != nil {
			logger.WarnContext(ctx, "Failed to publish session event",
				log.FieldError, err, "event_type", e.Type)
		}
	}
}
