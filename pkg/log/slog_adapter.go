package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger. Useful during
// development to watch protocol traffic on the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates an adapter writing to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event at debug level (errors at warn).
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
	}

	level := slog.LevelDebug
	msg := "protocol event"

	switch {
	case event.Frame != nil:
		msg = "frame"
		attrs = append(attrs,
			slog.Int("size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		msg = "message"
		attrs = append(attrs, slog.String("kind", event.Message.Kind))
		if event.Message.Topic != "" {
			attrs = append(attrs, slog.String("topic", event.Message.Topic))
		}
		if event.Message.TopicID != 0 {
			attrs = append(attrs, slog.Int("topic_id", int(event.Message.TopicID)))
		}
	case event.State != nil:
		msg = "session state"
		attrs = append(attrs,
			slog.String("from", event.State.From),
			slog.String("to", event.State.To),
		)
		if event.State.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.State.Reason))
		}
	case event.Err != "":
		msg = "protocol error"
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", event.Err))
	}

	a.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
